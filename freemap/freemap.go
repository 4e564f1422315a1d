// Package freemap is the free-sector allocator (spec §4.B). It persists
// itself as an ordinary file through the inode package, the same
// self-hosting trick Pintos's free_map_create uses: nothing else on the
// volume may claim sector 1, so the free-map can safely use itself as its
// own inode.Allocator while building its own backing inode.
package freemap

import (
	"fmt"
	"sync"

	"github.com/minifs/filesys/inode"
	"github.com/minifs/filesys/layout"
)

// Map is the free-sector bitmap, one bit per sector of the volume.
type Map struct {
	mu       sync.Mutex
	bm       *bitmap
	nSectors uint32
	store    *inode.Store
	entry    *inode.Entry
}

var (
	_ inode.Allocator = (*Map)(nil)
)

// New builds an empty free-map covering totalSectors and marks the three
// bootstrap sectors (the reserved sector, the free-map's own inode, and the
// root directory's inode — see layout.ReservedSector/FreeMapSector/
// RootDirSector) used in memory. Call Bootstrap next to give it a backing
// inode.Store and write itself to disk for the first time.
func New(totalSectors uint32) *Map {
	m := &Map{bm: newBitmap(int(totalSectors)), nSectors: totalSectors}
	for _, sec := range []uint32{layout.ReservedSector, layout.FreeMapSector, layout.RootDirSector} {
		_ = m.bm.set(int(sec))
	}
	return m
}

// Bootstrap creates the free-map's own backing inode at layout.FreeMapSector
// using m itself as the inode.Store's allocator, then writes the current
// bitmap contents into it. Call exactly once, at format time, after
// constructing store with inode.NewStore(backend, m, log).
func (m *Map) Bootstrap(store *inode.Store) error {
	m.mu.Lock()
	size := int64(len(m.bm.toBytes()))
	m.mu.Unlock()

	if err := store.Create(layout.FreeMapSector, size, false); err != nil {
		return fmt.Errorf("freemap: create backing inode: %w", err)
	}
	entry, err := store.Open(layout.FreeMapSector)
	if err != nil {
		return fmt.Errorf("freemap: open backing inode: %w", err)
	}
	m.mu.Lock()
	m.store = store
	m.entry = entry
	m.mu.Unlock()
	return m.Sync()
}

// Open reconstructs a Map over an existing volume of totalSectors sectors
// by opening the free-map's backing inode and reading its bitmap back.
func Open(store *inode.Store, totalSectors uint32) (*Map, error) {
	entry, err := store.Open(layout.FreeMapSector)
	if err != nil {
		return nil, fmt.Errorf("freemap: open backing inode: %w", err)
	}
	raw := make([]byte, entry.Length())
	if _, err := store.ReadAt(entry, raw, 0); err != nil {
		return nil, fmt.Errorf("freemap: read bitmap: %w", err)
	}
	m := &Map{
		bm:       bitmapFromBytes(raw),
		nSectors: totalSectors,
		store:    store,
		entry:    entry,
	}
	return m, nil
}

// Allocate finds the first run of n consecutive free sectors, marks them
// used, and returns the run's starting sector. ok is false if no such run
// exists (spec's ErrNoSpace condition — the caller, not Map, turns that
// into fserrors.ErrNoSpace).
func (m *Map) Allocate(n int) (start uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.bm.firstFreeRun(0, n)
	if pos < 0 {
		return 0, false
	}
	for i := pos; i < pos+n; i++ {
		_ = m.bm.set(i)
	}
	m.trySyncLocked()
	return uint32(pos), true
}

// Release marks n sectors starting at start free again. Double-release and
// releasing an out-of-range run are both silently ignored: inode.Store only
// ever releases sectors it is certain it owns, and a no-journal volume has
// no way to recover from a corrupt free-map write anyway.
func (m *Map) Release(start uint32, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := int(start); i < int(start)+n; i++ {
		_ = m.bm.clear(i)
	}
	m.trySyncLocked()
}

// IsUsed reports whether sector is currently allocated.
func (m *Map) IsUsed(sector uint32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bm.isSet(int(sector))
}

// FreeList returns the free-map's free runs sorted by position, for
// cmd/imgtool's diagnostic reporting.
func (m *Map) FreeList() []Contiguous {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bm.freeList()
}

// FreeCount returns the total number of free sectors.
func (m *Map) FreeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.bm.freeList() {
		n += c.Count
	}
	return n
}

// Sync flushes the in-memory bitmap to its backing inode. Safe to call
// with no backing store attached yet (a no-op), which happens during the
// bootstrap window before Bootstrap has run.
func (m *Map) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncLocked()
}

func (m *Map) syncLocked() error {
	if m.store == nil || m.entry == nil {
		return nil
	}
	if _, err := m.store.WriteAt(m.entry, m.bm.toBytes(), 0); err != nil {
		return fmt.Errorf("freemap: sync: %w", err)
	}
	return nil
}

// trySyncLocked persists best-effort, the way Pintos's bitmap_write is void
// and never reports failure back to free_map_allocate/free_map_release.
func (m *Map) trySyncLocked() {
	_ = m.syncLocked()
}
