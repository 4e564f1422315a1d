// Package directory implements the directory layer (spec §4.E): a
// directory is an inode whose payload is a dense array of fixed-width
// name→inode entries, with the parent link stored as a reserved ".."
// entry at slot 0. There is no stored "." entry — the path resolver
// special-cases "." without ever consulting a directory's payload for it.
package directory

import (
	"fmt"

	"github.com/minifs/filesys/fserrors"
	"github.com/minifs/filesys/inode"
	"github.com/minifs/filesys/layout"
)

// Create formats sector as a fresh, empty directory with room for
// capacityHint entries (plus the reserved ".." slot), and points its ".."
// entry at parentSector. The root directory is created with
// parentSector == sector, its own parent being itself.
func Create(store *inode.Store, sector, parentSector uint32, capacityHint int) error {
	if capacityHint < 1 {
		capacityHint = 1
	}
	size := int64(capacityHint+1) * entrySize
	if err := store.Create(sector, size, true); err != nil {
		return fmt.Errorf("directory: create %d: %w", sector, err)
	}
	e, err := store.Open(sector)
	if err != nil {
		return fmt.Errorf("directory: create %d: %w", sector, err)
	}
	defer store.Close(e)
	parent := rawEntry{Name: nameBytes(".."), Sector: parentSector, InUse: true}
	buf := encodeEntry(parent)
	if _, err := store.WriteAt(e, buf[:], 0); err != nil {
		return fmt.Errorf("directory: create %d: write parent link: %w", sector, err)
	}
	return nil
}

func readAll(store *inode.Store, d *Dir) ([]rawEntry, error) {
	n := int(d.Entry.Length() / entrySize)
	if n == 0 {
		return nil, fmt.Errorf("directory: sector %d has no entries, missing parent link", d.Entry.Sector())
	}
	buf := make([]byte, int64(n)*entrySize)
	if _, err := store.ReadAt(d.Entry, buf, 0); err != nil {
		return nil, err
	}
	entries := make([]rawEntry, n)
	for i := 0; i < n; i++ {
		entries[i] = decodeEntry(buf[i*entrySize : (i+1)*entrySize])
	}
	return entries, nil
}

func writeEntryAt(store *inode.Store, d *Dir, idx int, e rawEntry) error {
	buf := encodeEntry(e)
	_, err := store.WriteAt(d.Entry, buf[:], int64(idx)*entrySize)
	return err
}

// Lookup linearly scans d for name, returning the sector it maps to.
func Lookup(store *inode.Store, d *Dir, name string) (uint32, bool, error) {
	entries, err := readAll(store, d)
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if e.InUse && trimName(e.Name) == name {
			return e.Sector, true, nil
		}
	}
	return 0, false, nil
}

// Add writes a new name→sector entry into d, reusing the first free slot
// past the reserved ".." entry, or extending the directory's payload if
// none exists.
func Add(store *inode.Store, d *Dir, name string, sector uint32) error {
	if name == "" || name == "." || name == ".." {
		return fserrors.ErrInvalidName
	}
	if len(name) > layout.MaxNameLength {
		return fserrors.ErrInvalidName
	}
	entries, err := readAll(store, d)
	if err != nil {
		return err
	}
	freeIdx := -1
	for i, e := range entries {
		if i == 0 {
			continue // slot 0 is the reserved ".." entry, never reused
		}
		if e.InUse {
			if trimName(e.Name) == name {
				return fserrors.ErrExists
			}
		} else if freeIdx < 0 {
			freeIdx = i
		}
	}
	idx := freeIdx
	if idx < 0 {
		idx = len(entries)
	}
	return writeEntryAt(store, d, idx, rawEntry{Name: nameBytes(name), Sector: sector, InUse: true})
}

// Remove deletes the entry named name from d. It refuses to remove the
// root directory, and refuses to remove a directory that is either open
// elsewhere or not empty (spec §4.E's dir_remove contract).
//
// selfSector, if nonzero, is the sector of a directory the caller already
// holds open in a context that must not count against the busy check below
// -- concretely, the façade's per-task current-working-directory handle
// (spec §4.G's chdir). A task is allowed to remove the very directory it
// has chdir'd into (spec §8 scenario 3: chdir into /d/e, then remove
// /d/e), so that one reference is excluded; any other opener of the same
// sector still makes it busy.
func Remove(store *inode.Store, d *Dir, name string, selfSector uint32) error {
	if name == "" || name == "." || name == ".." {
		return fserrors.ErrInvalidName
	}
	entries, err := readAll(store, d)
	if err != nil {
		return err
	}
	idx := -1
	var target rawEntry
	for i, e := range entries {
		if i != 0 && e.InUse && trimName(e.Name) == name {
			idx = i
			target = e
			break
		}
	}
	if idx < 0 {
		return fserrors.ErrNotFound
	}
	if target.Sector == layout.RootDirSector {
		return fserrors.ErrNotEmpty
	}

	// Captured before our own Open below so it reflects whether anyone
	// else has target open; our own transient reference, taken only to
	// inspect/remove it, must not count against itself. The caller's own
	// cwd reference (selfSector == target.Sector) is excluded the same
	// way: it is a reference the caller already knows about and is asking
	// to tear down, not a different thread's "busy" claim on it.
	openCount := store.OpenCountIfLoaded(target.Sector)
	if selfSector != 0 && selfSector == target.Sector {
		openCount--
	}
	openElsewhere := openCount > 0

	child, err := store.Open(target.Sector)
	if err != nil {
		return err
	}
	if child.IsDir() {
		// The busy check only applies to directories (spec §4.E's
		// dir_remove, fserrors.ErrBusy): a file removed while open is
		// unlinked immediately and its sectors released on last close
		// (spec §3 I5), never rejected outright.
		if openElsewhere {
			store.Close(child)
			return fserrors.ErrBusy
		}
		empty, err := isEmpty(store, Wrap(child))
		if err != nil {
			store.Close(child)
			return err
		}
		if !empty {
			store.Close(child)
			return fserrors.ErrNotEmpty
		}
	}

	target.InUse = false
	if err := writeEntryAt(store, d, idx, target); err != nil {
		store.Close(child)
		return err
	}
	store.Remove(child)
	return store.Close(child)
}

func isEmpty(store *inode.Store, d *Dir) (bool, error) {
	names, err := Readdir(store, d)
	if err != nil {
		return false, err
	}
	return len(names) == 0, nil
}

// IsRoot reports whether d is the volume's root directory.
func IsRoot(d *Dir) bool {
	return d.Entry.Sector() == layout.RootDirSector
}

// Parent opens and returns d's parent directory (the stored ".." entry;
// the root directory's parent is itself).
func Parent(store *inode.Store, d *Dir) (*Dir, error) {
	entries, err := readAll(store, d)
	if err != nil {
		return nil, err
	}
	if !entries[0].InUse {
		return nil, fmt.Errorf("directory: sector %d missing parent link", d.Entry.Sector())
	}
	e, err := store.Open(entries[0].Sector)
	if err != nil {
		return nil, err
	}
	return Wrap(e), nil
}

// Readdir lists the in-use entry names in d, skipping the reserved ".."
// slot (and the never-stored ".").
func Readdir(store *inode.Store, d *Dir) ([]string, error) {
	entries, err := readAll(store, d)
	if err != nil {
		return nil, err
	}
	var names []string
	for i, e := range entries {
		if i == 0 || !e.InUse {
			continue
		}
		names = append(names, trimName(e.Name))
	}
	return names, nil
}
