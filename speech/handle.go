package speech

import (
	"sync"
	"sync/atomic"
)

// Handle is a borrowed reference to a segment's audio bytes. Whoever sets a
// handle into the table owns the previous occupant's release; Release is
// idempotent so the last consumer can let go without double-free concerns.
type Handle struct {
	Key  string
	Data []byte

	released  atomic.Bool
	onRelease func()
}

// NewHandle wraps audio bytes. onRelease may be nil; when set it runs
// exactly once, on the first Release.
func NewHandle(key string, data []byte, onRelease func()) *Handle {
	return &Handle{Key: key, Data: data, onRelease: onRelease}
}

// Release drops the handle's resources. Safe to call more than once; only
// the first call has any effect.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.Data = nil
	if h.onRelease != nil {
		h.onRelease()
	}
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	return h != nil && h.released.Load()
}

// HandleTable is an arena of audio handles keyed by segment index. Set
// replaces and releases the previous handle atomically, which is the only
// way audio ownership changes hands between the buffer manager and the
// scheduler.
type HandleTable struct {
	mu      sync.Mutex
	entries map[int]*Handle
}

// NewHandleTable creates an empty table.
func NewHandleTable() *HandleTable {
	return &HandleTable{entries: make(map[int]*Handle)}
}

// Set installs a handle for the index, releasing any previous occupant.
func (t *HandleTable) Set(index int, h *Handle) {
	t.mu.Lock()
	old := t.entries[index]
	t.entries[index] = h
	t.mu.Unlock()

	old.Release()
}

// Get returns the handle for the index, if present and live.
func (t *HandleTable) Get(index int) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.entries[index]
	if !ok || h.Released() {
		return nil, false
	}
	return h, true
}

// Release removes and releases the handle for the index.
func (t *HandleTable) Release(index int) {
	t.mu.Lock()
	h := t.entries[index]
	delete(t.entries, index)
	t.mu.Unlock()

	h.Release()
}

// ReleaseAll releases every outstanding handle. Called on chapter unload
// and stop.
func (t *HandleTable) ReleaseAll() {
	t.mu.Lock()
	old := t.entries
	t.entries = make(map[int]*Handle)
	t.mu.Unlock()

	for _, h := range old {
		h.Release()
	}
}

// Indices returns the indices currently holding live handles.
func (t *HandleTable) Indices() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.entries))
	for i, h := range t.entries {
		if !h.Released() {
			out = append(out, i)
		}
	}
	return out
}

// Len returns the number of live handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
