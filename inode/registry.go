// Package inode is the indexed/growable inode layer (spec §§3-4): the
// on-disk record format, single/double-indirect addressing, and the
// open-inode registry that hands every caller of Open the same *Entry for
// a given sector so reference counts and deferred deletion work the way
// spec §3's "In-memory open-inode entry" describes.
package inode

import (
	"fmt"
	"sync"

	"github.com/jacobsa/syncutil"
	"github.com/sirupsen/logrus"

	"github.com/minifs/filesys/backend"
	"github.com/minifs/filesys/layout"
)

// Entry is the in-memory counterpart of a Record: one per currently-open
// inode, shared by every caller that has it open (spec's "idempotent
// open" invariant, I2).
type Entry struct {
	selfSector     uint32
	record         Record
	openCount      int
	removed        bool
	denyWriteCount int

	// growthMu guards record during extension (spec's per-inode growth
	// lock); openCount, removed and denyWriteCount are guarded by the
	// owning Store's registryMu, not by Entry itself.
	growthMu syncutil.InvariantMutex
}

func newEntry(rec Record) *Entry {
	e := &Entry{selfSector: rec.SelfSector, record: rec, openCount: 1}
	e.growthMu = syncutil.NewInvariantMutex(e.checkInvariants)
	return e
}

// checkInvariants enforces spec §3's I1 (length bound), I3 (single vs.
// double indirection is determined by length), and I4 (deny-write count
// never exceeds open count), each time growthMu is locked or unlocked.
func (e *Entry) checkInvariants() {
	if e.record.Length < 0 || int64(e.record.Length) > layout.MaxFileSize {
		panic(fmt.Sprintf("inode: length %d violates I1 for sector %d", e.record.Length, e.selfSector))
	}
	threshold := int32(layout.EntriesPerIndirectBlock * layout.SectorSize)
	switch {
	case e.record.Length == 0:
		if e.record.IndirectSector != 0 || e.record.DoubleIndirectSector != 0 {
			panic(fmt.Sprintf("inode: zero-length sector %d carries indirection", e.selfSector))
		}
	case e.record.Length <= threshold:
		if e.record.IndirectSector == 0 || e.record.DoubleIndirectSector != 0 {
			panic(fmt.Sprintf("inode: I3 violated for sector %d at length %d", e.selfSector, e.record.Length))
		}
	default:
		if e.record.DoubleIndirectSector == 0 || e.record.IndirectSector != 0 {
			panic(fmt.Sprintf("inode: I3 violated for sector %d at length %d", e.selfSector, e.record.Length))
		}
	}
	if e.denyWriteCount < 0 || e.denyWriteCount > e.openCount {
		panic(fmt.Sprintf("inode: I4 violated for sector %d", e.selfSector))
	}
}

// Sector is the inode's own sector number.
func (e *Entry) Sector() uint32 { return e.selfSector }

// IsDir reports whether this inode represents a directory.
func (e *Entry) IsDir() bool { return e.record.IsDir }

// Length is the file's current length in bytes.
func (e *Entry) Length() int64 { return int64(e.record.Length) }

// Store is the open-inode registry plus the read/write/grow operations
// that act on it (spec §4's "Operations" and "Lifecycle"). One Store per
// mounted volume.
type Store struct {
	backend backend.Storage
	alloc   Allocator
	log     logrus.FieldLogger

	registryMu sync.Mutex
	registry   map[uint32]*Entry
}

// NewStore builds a Store over backend, allocating new/growing sectors
// through alloc (normally a *freemap.Map). alloc may be nil if the caller
// only intends to read through the Store until a real allocator is ready
// (the mount-time chicken-and-egg of opening the free-map's own backing
// inode before the free-map itself exists) — see SetAllocator.
func NewStore(b backend.Storage, alloc Allocator, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{backend: b, alloc: alloc, log: log, registry: make(map[uint32]*Entry)}
}

// SetAllocator attaches (or replaces) the Store's allocator. Used once, at
// mount time, after the free-map has finished bootstrapping itself from a
// Store that didn't have one yet.
func (s *Store) SetAllocator(alloc Allocator) {
	s.alloc = alloc
}

// Create writes a zero-length inode record at sector, then grows it to
// length (spec §4.C). sector is assumed already reserved by the caller
// (typically fsys.Filesystem.Create, having just allocated it from the
// free-map).
// On growth failure, every data/indirect sector this call allocated is
// released before returning — sector itself is left for the caller to
// release, since Create never reserved it.
func (s *Store) Create(sector uint32, length int64, isDir bool) error {
	if length < 0 {
		return fmt.Errorf("inode: create %d: negative length %d", sector, length)
	}
	rec := Record{SelfSector: sector, IsDir: isDir}
	buf := rec.encode()
	if err := s.backend.WriteSector(sector, buf[:]); err != nil {
		return fmt.Errorf("inode: create %d: write initial record: %w", sector, err)
	}
	if length == 0 {
		return nil
	}
	allocated, err := extendTo(s.backend, s.alloc, &rec, length)
	if err != nil {
		for _, sec := range allocated {
			s.alloc.Release(sec, 1)
		}
		s.log.WithFields(logrus.Fields{"sector": sector, "length": length}).WithError(err).
			Warn("inode: create growth failed, released partial allocation")
		return err
	}
	return nil
}

// Open returns the shared *Entry for sector, incrementing its open count,
// reading the record from disk only on the first open (spec's idempotent
// open invariant).
func (s *Store) Open(sector uint32) (*Entry, error) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	if e, ok := s.registry[sector]; ok {
		e.openCount++
		return e, nil
	}
	var raw [layout.SectorSize]byte
	if err := s.backend.ReadSector(sector, raw[:]); err != nil {
		return nil, fmt.Errorf("inode: open %d: %w", sector, err)
	}
	rec, err := decodeRecord(raw[:])
	if err != nil {
		return nil, fmt.Errorf("inode: open %d: %w", sector, err)
	}
	e := newEntry(rec)
	s.registry[sector] = e
	return e, nil
}

// Close decrements e's open count. When it reaches zero, the entry is
// dropped from the registry, and if it had been marked removed, every
// sector it owns (including its own) is released (spec §4.C's "Close").
func (s *Store) Close(e *Entry) error {
	s.registryMu.Lock()
	e.openCount--
	if e.openCount > 0 {
		s.registryMu.Unlock()
		return nil
	}
	delete(s.registry, e.selfSector)
	removed := e.removed
	rec := e.record
	s.registryMu.Unlock()

	if !removed {
		return nil
	}
	return s.releaseAll(rec)
}

// releaseAll walks rec's indirection tree and releases every sector it
// references, then rec.SelfSector itself. Mirrors the original
// inode_close's teardown, which frees every nonzero slot regardless of
// rec's current Length.
func (s *Store) releaseAll(rec Record) error {
	released := make(map[uint32]bool)
	release := func(sec uint32) {
		if sec == 0 || released[sec] {
			return
		}
		released[sec] = true
		s.alloc.Release(sec, 1)
	}

	if rec.IndirectSector != 0 {
		if blk, err := readIndirectBlock(s.backend, rec.IndirectSector); err == nil {
			for _, sec := range blk {
				release(sec)
			}
		}
		release(rec.IndirectSector)
	}
	if rec.DoubleIndirectSector != 0 {
		if outer, err := readIndirectBlock(s.backend, rec.DoubleIndirectSector); err == nil {
			for _, l1 := range outer {
				if l1 == 0 {
					continue
				}
				if inner, err := readIndirectBlock(s.backend, l1); err == nil {
					for _, sec := range inner {
						release(sec)
					}
				}
				release(l1)
			}
		}
		release(rec.DoubleIndirectSector)
	}
	release(rec.SelfSector)
	s.log.WithField("sector", rec.SelfSector).Debug("inode: released sectors for removed inode")
	return nil
}

// Remove marks e for deletion once its last open handle closes. Matches
// inode_remove: the record on disk is untouched until then, so any handle
// that already has e open keeps reading/writing it normally.
func (s *Store) Remove(e *Entry) {
	s.registryMu.Lock()
	e.removed = true
	s.registryMu.Unlock()
}

// IsRemoved reports whether e has been marked for deletion.
func (s *Store) IsRemoved(e *Entry) bool {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	return e.removed
}

// OpenCountIfLoaded returns the current open count for sector if it has a
// live registry entry, or 0 if it does not (used by directory.Remove to
// check whether a directory is busy without itself opening it).
func (s *Store) OpenCountIfLoaded(sector uint32) int {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	if e, ok := s.registry[sector]; ok {
		return e.openCount
	}
	return 0
}

// DenyWrite increments e's deny-write count (spec's "deny file write");
// while it is nonzero, WriteAt writes nothing.
func (s *Store) DenyWrite(e *Entry) {
	s.registryMu.Lock()
	e.denyWriteCount++
	s.registryMu.Unlock()
}

// AllowWrite undoes one DenyWrite.
func (s *Store) AllowWrite(e *Entry) {
	s.registryMu.Lock()
	if e.denyWriteCount > 0 {
		e.denyWriteCount--
	}
	s.registryMu.Unlock()
}

// ReadAt reads into buf starting at offset, returning the number of bytes
// actually read (short of len(buf) only at end of file).
func (s *Store) ReadAt(e *Entry, buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, fmt.Errorf("inode: read %d: negative offset %d", e.selfSector, offset)
	}
	avail := int64(e.record.Length) - offset
	if avail <= 0 {
		return 0, nil
	}
	size := int64(len(buf))
	if size > avail {
		size = avail
	}
	return s.transferAt(e.record, buf[:size], offset, false)
}

// WriteAt writes buf at offset, growing e as needed up to
// layout.MaxFileSize. Growth failures shorten the write rather than
// failing it outright: whatever fits within the inode's (possibly
// unchanged) length is written, consistent with Create/WriteAt acting as
// a single shared growth path (spec's supplemented "write past end of
// file" behavior) while still leaving any sectors orphaned by a failed
// growth attempt exactly where extendTo left them.
func (s *Store) WriteAt(e *Entry, buf []byte, offset int64) (int, error) {
	if e.denyWriteCount > 0 {
		return 0, nil
	}
	if offset < 0 {
		return 0, fmt.Errorf("inode: write %d: negative offset %d", e.selfSector, offset)
	}
	end := offset + int64(len(buf))
	if end > layout.MaxFileSize {
		end = layout.MaxFileSize
	}
	if end > int64(e.record.Length) {
		e.growthMu.Lock()
		_, growErr := extendTo(s.backend, s.alloc, &e.record, end)
		e.growthMu.Unlock()
		if growErr != nil {
			end = int64(e.record.Length)
		}
	}
	size := end - offset
	if size <= 0 {
		return 0, nil
	}
	return s.transferAt(e.record, buf[:size], offset, true)
}

// transferAt performs the actual sector-by-sector copy for ReadAt/WriteAt,
// read-modify-writing any sector that isn't being fully overwritten.
func (s *Store) transferAt(rec Record, buf []byte, offset int64, write bool) (int, error) {
	var sector [layout.SectorSize]byte
	done := 0
	for done < len(buf) {
		pos := offset + int64(done)
		secNum, err := byteToSector(s.backend, rec, pos)
		if err != nil {
			return done, err
		}
		inSector := int(pos % layout.SectorSize)
		chunk := layout.SectorSize - inSector
		if remaining := len(buf) - done; chunk > remaining {
			chunk = remaining
		}
		if write {
			if inSector != 0 || chunk != layout.SectorSize {
				if err := s.backend.ReadSector(secNum, sector[:]); err != nil {
					return done, err
				}
			}
			copy(sector[inSector:inSector+chunk], buf[done:done+chunk])
			if err := s.backend.WriteSector(secNum, sector[:]); err != nil {
				return done, err
			}
		} else {
			if err := s.backend.ReadSector(secNum, sector[:]); err != nil {
				return done, err
			}
			copy(buf[done:done+chunk], sector[inSector:inSector+chunk])
		}
		done += chunk
	}
	return done, nil
}
