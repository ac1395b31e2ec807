package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Disk is the L2 disk cache. Values above the compression threshold are
// stored zstd-compressed; the index lives in memory and is rebuilt from the
// directory on startup.
type Disk struct {
	basePath string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*diskEntry

	mu sync.Mutex

	stats Stats
}

type diskEntry struct {
	key        string
	filePath   string
	size       int64
	timestamp  time.Time
	lastAccess time.Time
	hits       int64
	compressed bool
}

// Values smaller than this are stored uncompressed; the zstd framing
// overhead dominates for tiny clips.
const compressThreshold = 1024

// NewDisk creates a disk cache rooted at basePath with the capacity in
// bytes.
func NewDisk(basePath string, capacity int64) (*Disk, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	d := &Disk{
		basePath: basePath,
		capacity: capacity,
		encoder:  encoder,
		decoder:  decoder,
		index:    make(map[string]*diskEntry),
		stats:    Stats{Capacity: capacity},
	}
	d.rebuildIndex()
	return d, nil
}

// Get retrieves and decompresses a value.
func (d *Disk) Get(key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.index[key]
	if !ok {
		entry = d.probe(key)
		if entry == nil {
			d.stats.Misses++
			return nil, false
		}
	}

	data, err := os.ReadFile(entry.filePath)
	if err != nil {
		d.drop(entry)
		d.stats.Misses++
		return nil, false
	}

	if entry.compressed {
		decompressed, err := d.decoder.DecodeAll(data, nil)
		if err != nil {
			os.Remove(entry.filePath)
			d.drop(entry)
			d.stats.Misses++
			return nil, false
		}
		data = decompressed
	}

	entry.lastAccess = time.Now()
	entry.hits++
	d.stats.Hits++
	return data, true
}

// Put compresses and stores a value, evicting by last access as needed.
func (d *Disk) Put(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dataToWrite := value
	compressed := false
	if len(value) > compressThreshold {
		if c := d.encoder.EncodeAll(value, nil); len(c) < len(value) {
			dataToWrite = c
			compressed = true
		}
	}
	diskSize := int64(len(dataToWrite))

	if existing, ok := d.index[key]; ok {
		os.Remove(existing.filePath)
		d.drop(existing)
	}

	if diskSize > d.capacity {
		return ErrItemTooLarge
	}

	for d.size+diskSize > d.capacity && len(d.index) > 0 {
		d.evictOldest()
	}

	filePath := d.pathFor(key, compressed)
	if err := os.WriteFile(filePath, dataToWrite, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}

	now := time.Now()
	d.index[key] = &diskEntry{
		key:        key,
		filePath:   filePath,
		size:       diskSize,
		timestamp:  now,
		lastAccess: now,
		compressed: compressed,
	}
	d.size += diskSize

	d.stats.Size = d.size
	d.stats.ItemCount = int64(len(d.index))
	return nil
}

// Delete removes an entry and its file.
func (d *Disk) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.index[key]; ok {
		os.Remove(entry.filePath)
		d.drop(entry)
	}
}

// Size returns the current on-disk size in bytes.
func (d *Disk) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

// Stats returns cache statistics.
func (d *Disk) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats
	stats.Size = d.size
	stats.ItemCount = int64(len(d.index))
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// Close releases the compression contexts.
func (d *Disk) Close() error {
	d.encoder.Close()
	d.decoder.Close()
	return nil
}

func (d *Disk) drop(entry *diskEntry) {
	delete(d.index, entry.key)
	d.size -= entry.size
}

// evictOldest removes the entry with the oldest last access. Lock must be
// held.
func (d *Disk) evictOldest() {
	var oldest *diskEntry
	for _, entry := range d.index {
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldest = entry
		}
	}
	if oldest != nil {
		os.Remove(oldest.filePath)
		d.drop(oldest)
		d.stats.Evictions++
	}
}

func (d *Disk) pathFor(key string, compressed bool) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	if compressed {
		return filepath.Join(d.basePath, name+".zst")
	}
	return filepath.Join(d.basePath, name+".raw")
}

// probe checks the directory for a file written by a previous session.
// Keys are unrecoverable from hashed names, so files are adopted into the
// index lazily on lookup. Lock must be held.
func (d *Disk) probe(key string) *diskEntry {
	for _, compressed := range []bool{true, false} {
		path := d.pathFor(key, compressed)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		entry := &diskEntry{
			key:        key,
			filePath:   path,
			size:       info.Size(),
			timestamp:  info.ModTime(),
			lastAccess: time.Now(),
			compressed: compressed,
		}
		d.index[key] = entry
		return entry
	}
	return nil
}

// rebuildIndex seeds the size accounting from the directory so eviction
// respects data left by previous sessions.
func (d *Disk) rebuildIndex() {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		d.size += info.Size()
	}
	d.stats.Size = d.size
}
