package cache

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// Manager fronts the disk cache with the memory cache. Lookups promote
// disk hits into memory; writes go to both levels.
type Manager struct {
	memory *Memory
	disk   *Disk
	logger *log.Logger
}

// ManagerConfig sizes the two levels.
type ManagerConfig struct {
	MemoryBytes int64
	DiskBytes   int64
	DiskPath    string
}

// DefaultManagerConfig returns the stock sizes: 64 MiB in memory, 1 GiB on
// disk.
func DefaultManagerConfig(diskPath string) ManagerConfig {
	return ManagerConfig{
		MemoryBytes: 64 << 20,
		DiskBytes:   1 << 30,
		DiskPath:    diskPath,
	}
}

// NewManager creates a two-level cache manager.
func NewManager(cfg ManagerConfig, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}
	disk, err := NewDisk(cfg.DiskPath, cfg.DiskBytes)
	if err != nil {
		return nil, fmt.Errorf("open disk cache: %w", err)
	}
	logger.Debug("cache opened",
		"memory", humanize.Bytes(uint64(cfg.MemoryBytes)),
		"disk", humanize.Bytes(uint64(cfg.DiskBytes)),
		"path", cfg.DiskPath)
	return &Manager{
		memory: NewMemory(cfg.MemoryBytes),
		disk:   disk,
		logger: logger,
	}, nil
}

// Get looks up a key in memory first, then disk. Disk hits are promoted.
func (m *Manager) Get(key string) ([]byte, bool) {
	if data, ok := m.memory.Get(key); ok {
		return data, true
	}
	data, ok := m.disk.Get(key)
	if !ok {
		return nil, false
	}
	if err := m.memory.Put(key, data); err != nil && err != ErrItemTooLarge {
		m.logger.Warn("cache promotion failed", "error", err)
	}
	return data, true
}

// Put writes through both levels.
func (m *Manager) Put(key string, value []byte) error {
	if err := m.memory.Put(key, value); err != nil && err != ErrItemTooLarge {
		return err
	}
	if err := m.disk.Put(key, value); err != nil {
		if err == ErrItemTooLarge {
			m.logger.Warn("audio too large for disk cache", "size", humanize.Bytes(uint64(len(value))))
			return nil
		}
		return err
	}
	return nil
}

// Delete removes a key from both levels.
func (m *Manager) Delete(key string) {
	m.memory.Delete(key)
	m.disk.Delete(key)
}

// Stats returns per-level statistics.
func (m *Manager) Stats() (memory, disk Stats) {
	return m.memory.Stats(), m.disk.Stats()
}

// Close flushes and releases the disk level.
func (m *Manager) Close() error {
	m.memory.Clear()
	return m.disk.Close()
}
