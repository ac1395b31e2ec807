package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# directory for the segment database and audio cache
# data_dir: "~/.local/share/bookvoice"

# speech pipeline configuration
speech:
  # speech engine: mock or exec
  engine: "mock"
  # voice language (BCP 47)
  language: "en-US"
  # engine output sample rate
  sample_rate: 22050

  # generation window around the cursor
  lookahead: 5
  evict_trail: 5

  # generation limits
  generation_timeout: "2m"
  max_in_flight: 50
  retry_attempts: 3
  retry_base_delay: "500ms"
  retry_max_delay: "10s"

  # background quality upgrades
  upgrade_tick: "5s"
  upgrade_horizon: 10
  upgrade_start_delay: "10s"

  # narration pace used for duration estimates
  words_per_minute: 165

  # exec engine configuration
  exec:
    binary: "piper"
    model_dir: ""
    device: "cpu"
    # one voice model per quality tier, fastest first
    voices: []
    # voices:
    #   - "en_US-lessac-low"
    #   - "en_US-lessac-medium"
    #   - "en_US-lessac-high"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the bookvoice config file",
	Long:    fmt.Sprintf("\n%s the bookvoice config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit")),
	Example: "bookvoice config\nbookvoice config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Bookvoice", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
