// Package cache provides the two-level audio cache: an in-memory LRU in
// front of a zstd-compressed disk store. Keys are generation keys
// (text, voice, tier digests); values are raw PCM buffers.
package cache

import (
	"errors"
	"time"
)

// Common cache errors.
var (
	ErrItemTooLarge = errors.New("item exceeds cache capacity")
)

// Stats holds cache metrics.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
	Capacity  int64
	ItemCount int64
	HitRate   float64
}

// Level identifies which cache level served a lookup.
type Level int

const (
	LevelMemory Level = iota
	LevelDisk
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	default:
		return "unknown"
	}
}

// Metadata describes one cached entry.
type Metadata struct {
	Key        string
	Size       int64
	Timestamp  time.Time
	LastAccess time.Time
	Hits       int64
	Level      Level
}
