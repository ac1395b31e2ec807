// Package main provides the entry point for the bookvoice CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	homedir "github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/dgnsrekt/bookvoice/internal/audio"
	"github.com/dgnsrekt/bookvoice/internal/book"
	"github.com/dgnsrekt/bookvoice/internal/cache"
	"github.com/dgnsrekt/bookvoice/internal/store"
	"github.com/dgnsrekt/bookvoice/speech"
	"github.com/dgnsrekt/bookvoice/speech/engines/execengine"
	"github.com/dgnsrekt/bookvoice/speech/engines/mock"
	"github.com/dgnsrekt/bookvoice/speech/sentence"
	"github.com/dgnsrekt/bookvoice/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	keyword = lipgloss.NewStyle().Foreground(lipgloss.Color("204")).Render

	configFile   string
	engineName   string
	languageFlag string
	chapterNum   int
	speedFlag    float64
	silent       bool
	dataDir      string

	rootCmd = &cobra.Command{
		Use:   "bookvoice [FILE]",
		Short: "Read books aloud from the terminal",
		Long: fmt.Sprintf(
			"\nTurn a text or markdown book into %s: segments are generated\n"+
				"just ahead of the cursor at a fast draft quality, then upgraded in the\n"+
				"background while you listen.",
			keyword("spoken audio"),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

// source provides a readable book source.
type source struct {
	reader io.ReadCloser
	name   string
}

// sourceFromArg opens a book from a path or from stdin when arg is "-".
func sourceFromArg(arg string) (*source, error) {
	if arg == "-" {
		return &source{reader: os.Stdin, name: "stdin"}, nil
	}

	path, err := homedir.Expand(arg)
	if err != nil {
		path = arg
	}
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &source{reader: r, name: name}, nil
}

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("engine") {
		viper.Set("speech.engine", engineName)
	}
	if cmd.Flags().Changed("language") {
		viper.Set("speech.language", languageFlag)
	}

	if speedFlag != 0 && (speedFlag < 0.5 || speedFlag > 2.0) {
		return fmt.Errorf("speed %.2f out of range [0.5, 2.0]", speedFlag)
	}
	if chapterNum < 1 {
		return fmt.Errorf("chapter must be 1 or higher, got %d", chapterNum)
	}

	dataDir = viper.GetString("data_dir")
	if dataDir != "" {
		expanded, err := homedir.Expand(dataDir)
		if err != nil {
			return fmt.Errorf("expand data dir: %w", err)
		}
		dataDir = expanded
	}
	return nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to stat stdin: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

func execute(cmd *cobra.Command, args []string) error {
	// if stdin is a pipe then use stdin for input. note that you can also
	// explicitly use a - to read from stdin.
	if yes, err := stdinIsPipe(); err != nil {
		return err
	} else if yes {
		src := &source{reader: os.Stdin, name: "stdin"}
		return readAloud(cmd.Context(), src)
	}

	if len(args) == 0 {
		return errors.New("missing book source")
	}
	src, err := sourceFromArg(args[0])
	if err != nil {
		return err
	}
	return readAloud(cmd.Context(), src)
}

func readAloud(ctx context.Context, src *source) error {
	defer src.reader.Close() //nolint:errcheck

	b, err := book.Parse(src.name, src.reader)
	if err != nil {
		return err
	}
	if chapterNum > len(b.Chapters()) {
		return fmt.Errorf("chapter %d of %d: no such chapter", chapterNum, len(b.Chapters()))
	}

	cfg, err := speech.LoadConfigFromViper()
	if err != nil {
		return err
	}

	logger := log.Default()

	cacheDir, dbPath, err := statePaths()
	if err != nil {
		return err
	}

	cacheMgr, err := cache.NewManager(cache.DefaultManagerConfig(cacheDir), logger)
	if err != nil {
		return err
	}
	defer cacheMgr.Close() //nolint:errcheck

	st, err := store.Open(ctx, dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	factory, ladders, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	player, closePlayer, err := buildPlayer(cfg)
	if err != nil {
		return err
	}
	defer closePlayer() //nolint:errcheck

	splitter := sentence.NewSplitter()
	splitter.SetWordsPerMinute(cfg.WordsPerMinute)

	monitor := speech.NewMonitor(speech.HostProbe{}, logger)
	coord := speech.NewCoordinator(factory, cacheMgr, cfg.CoordinatorConfig(), logger)
	defer coord.Close()
	sched := speech.NewScheduler(coord, monitor, st, b.ID(), cfg.SchedulerConfig(), logger)

	session := speech.NewSession(b, splitter, coord, sched, monitor, ladders, player, cfg.SessionConfig(), logger)
	if speedFlag != 0 {
		if err := session.SetSpeed(speedFlag); err != nil {
			return err
		}
	}

	if _, err := ui.NewProgram(session, b.Title(), b.Chapters(), chapterNum-1).Run(); err != nil {
		return fmt.Errorf("unable to run reader: %w", err)
	}
	session.Stop()
	return nil
}

// statePaths resolves the cache directory and the segment database path,
// honoring --data-dir when set.
func statePaths() (cacheDir, dbPath string, err error) {
	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return "", "", fmt.Errorf("create data dir: %w", err)
		}
		return filepath.Join(dataDir, "audio"), filepath.Join(dataDir, "segments.db"), nil
	}

	scope := gap.NewScope(gap.User, "bookvoice")
	cacheDir, err = scope.CacheDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve cache dir: %w", err)
	}
	dbPath, err = scope.DataPath("segments.db")
	if err != nil {
		return "", "", fmt.Errorf("resolve data path: %w", err)
	}
	return filepath.Join(cacheDir, "audio"), dbPath, nil
}

// buildEngine assembles the engine factory and the per-language tier
// ladders for the configured engine.
func buildEngine(cfg speech.Config, logger *log.Logger) (speech.EngineFactory, *speech.Ladders, error) {
	tag, err := language.Parse(cfg.Language)
	if err != nil {
		return nil, nil, fmt.Errorf("parse language %q: %w", cfg.Language, err)
	}

	switch cfg.Engine {
	case "mock":
		ladder := speech.NewTierLadder(tag, []*speech.TierConfig{
			{Engine: "mock", Voice: "mock-draft", Precision: "q8", Device: "cpu"},
			{Engine: "mock", Voice: "mock-standard", Precision: "fp16", Device: "cpu"},
			{Engine: "mock", Voice: "mock-studio", Precision: "fp32", Device: "cpu"},
		})
		return mock.NewFactory(cfg.SampleRate), speech.NewLadders(ladder), nil

	case "exec":
		voices := viper.GetStringSlice("speech.exec.voices")
		if len(voices) == 0 {
			return nil, nil, errors.New("exec engine requires speech.exec.voices (one model per tier)")
		}
		device := viper.GetString("speech.exec.device")
		precisions := []string{"q8", "fp16", "fp32"}
		entries := make([]*speech.TierConfig, len(voices))
		for i, v := range voices {
			precision := precisions[min(i, len(precisions)-1)]
			entries[i] = &speech.TierConfig{Engine: "exec", Voice: v, Precision: precision, Device: device}
		}
		factory := execengine.NewFactory(execengine.Config{
			Binary:   viper.GetString("speech.exec.binary"),
			ModelDir: viper.GetString("speech.exec.model_dir"),
		}, logger)
		return factory, speech.NewLadders(speech.NewTierLadder(tag, entries)), nil
	}

	return nil, nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}

// buildPlayer opens the output device, or a silent mock when --silent is
// set (useful on hosts without audio).
func buildPlayer(cfg speech.Config) (speech.AudioPlayer, func() error, error) {
	if silent {
		return audio.NewMockPlayer(1.0), func() error { return nil }, nil
	}
	player, err := audio.NewPlayer(audio.DefaultPlayerConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("open audio device: %w", err)
	}
	return player, player.Close, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

// setupLog sends logging to BOOKVOICE_LOGFILE when set; otherwise logs are
// discarded so they cannot garble the reader.
func setupLog() (func() error, error) {
	if file := os.Getenv("BOOKVOICE_LOGFILE"); file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		log.SetOutput(f)
		log.SetLevel(log.DebugLevel)
		return f.Close, nil
	}
	log.SetOutput(io.Discard)
	return func() error { return nil }, nil
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&engineName, "engine", "e", "", "speech engine (mock or exec)")
	rootCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "voice language (BCP 47, e.g. en-US)")
	rootCmd.Flags().IntVarP(&chapterNum, "chapter", "c", 1, "chapter to start from")
	rootCmd.Flags().Float64Var(&speedFlag, "speed", 0, "playback speed multiplier (0.5 to 2.0)")
	rootCmd.Flags().BoolVar(&silent, "silent", false, "run without an audio device")
	rootCmd.Flags().String("data-dir", "", "directory for the segment database and audio cache")

	// Config bindings
	_ = viper.BindPFlag("speech.engine", rootCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("speech.language", rootCmd.Flags().Lookup("language"))
	_ = viper.BindPFlag("data_dir", rootCmd.Flags().Lookup("data-dir"))

	speech.SetDefaults()
	viper.SetDefault("data_dir", "")
	viper.SetDefault("speech.exec.binary", "piper")
	viper.SetDefault("speech.exec.model_dir", "")
	viper.SetDefault("speech.exec.device", "cpu")
	viper.SetDefault("speech.exec.voices", []string{})

	rootCmd.AddCommand(configCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "bookvoice")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "bookvoice")}, dirs...)
	}

	if c := os.Getenv("BOOKVOICE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("bookvoice")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("bookvoice")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "bookvoice.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
