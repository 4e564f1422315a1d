// Package fsys is the file-system façade (spec §4.G): format/mount a
// volume and expose create/open/remove/chdir over paths, each holding the
// filesystem-wide mutex for the duration of the call (spec §5's ordering
// rule: filesystem mutex before per-inode growth lock).
package fsys

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/minifs/filesys/backend"
	"github.com/minifs/filesys/directory"
	"github.com/minifs/filesys/fserrors"
	"github.com/minifs/filesys/freemap"
	"github.com/minifs/filesys/handle"
	"github.com/minifs/filesys/inode"
	"github.com/minifs/filesys/layout"
	"github.com/minifs/filesys/pathresolve"
)

// dirCapacityHint is the number of entries the root directory (and
// every freshly created directory) is initially sized for, beyond its
// reserved ".." slot. Directories past this simply grow like any other
// file the first time directory.Add needs a slot past it.
const dirCapacityHint = 8

// Options configures how a volume is mounted, following the teacher's
// Params-struct configuration pattern (filesystem/ext4/ext4.go's Params)
// scaled down to this module's single fixed on-disk layout: the sector
// size, free-map sector, and root directory sector are all dictated by
// spec §6 and are not configurable.
type Options struct {
	// ReadOnly makes Create and Remove fail with fserrors.ErrReadOnly
	// before they reach the backend, and makes Done skip the free-map
	// flush. Handles returned by Open are not write-protected by this flag;
	// the backend itself may still refuse their writes
	// (backend/file.OpenFromPath's readOnly flag).
	ReadOnly bool
}

// Filesystem is a mounted volume: the backend it reads and writes,
// the open-inode registry, the free-map, and the coarse mutex that
// serializes every façade entry point.
type Filesystem struct {
	backend  backend.Storage
	store    *inode.Store
	freemap  *freemap.Map
	root     *directory.Dir
	log      logrus.FieldLogger
	readOnly bool

	mu sync.Mutex
}

// Cwd is a per-task current-working-directory handle — the external
// collaborator's state (spec §6, "per-task state") that Chdir reads and
// mutates. Every task that wants relative paths needs its own Cwd.
type Cwd struct {
	dir *directory.Dir
}

// Format lays down a fresh volume on b: a free-map sized to b's full
// sector count, and an empty root directory. b must also implement
// backend.SectorCounter.
func Format(b backend.Storage, log logrus.FieldLogger) (*Filesystem, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sc, ok := b.(backend.SectorCounter)
	if !ok {
		return nil, fmt.Errorf("fsys: format: backend does not report a sector count")
	}
	total := sc.SectorCount()

	m := freemap.New(total)
	store := inode.NewStore(b, m, log)
	if err := m.Bootstrap(store); err != nil {
		return nil, fmt.Errorf("fsys: format: %w", err)
	}
	if err := directory.Create(store, layout.RootDirSector, layout.RootDirSector, dirCapacityHint); err != nil {
		return nil, fmt.Errorf("fsys: format: create root directory: %w", err)
	}
	rootEntry, err := store.Open(layout.RootDirSector)
	if err != nil {
		return nil, fmt.Errorf("fsys: format: %w", err)
	}
	log.WithField("sectors", total).Info("fsys: formatted new volume")
	return &Filesystem{backend: b, store: store, freemap: m, root: directory.Wrap(rootEntry), log: log}, nil
}

// Open mounts an existing volume previously laid down by Format.
func Open(b backend.Storage, log logrus.FieldLogger, opts Options) (*Filesystem, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sc, ok := b.(backend.SectorCounter)
	if !ok {
		return nil, fmt.Errorf("fsys: open: backend does not report a sector count")
	}
	total := sc.SectorCount()

	store := inode.NewStore(b, nil, log)
	m, err := freemap.Open(store, total)
	if err != nil {
		return nil, fmt.Errorf("fsys: open: %w", err)
	}
	store.SetAllocator(m)
	rootEntry, err := store.Open(layout.RootDirSector)
	if err != nil {
		return nil, fmt.Errorf("fsys: open: %w", err)
	}
	log.WithField("readOnly", opts.ReadOnly).Debug("fsys: mounted volume")
	return &Filesystem{backend: b, store: store, freemap: m, root: directory.Wrap(rootEntry), log: log, readOnly: opts.ReadOnly}, nil
}

// Done flushes the free-map, closes the façade's own root handle, and
// syncs the backing device (spec's filesys_done).
func (fs *Filesystem) Done() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !fs.readOnly {
		if err := fs.freemap.Sync(); err != nil {
			return err
		}
	}
	if err := fs.store.Close(fs.root.Entry); err != nil {
		return err
	}
	return fs.backend.Sync()
}

// RootCwd opens a fresh current-working-directory handle pointed at the
// volume root, for a newly started task.
func (fs *Filesystem) RootCwd() (*Cwd, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, err := fs.store.Open(layout.RootDirSector)
	if err != nil {
		return nil, err
	}
	return &Cwd{dir: directory.Wrap(e)}, nil
}

// CloseCwd releases a task's current-working-directory handle, typically
// called once when the task exits.
func (fs *Filesystem) CloseCwd(cwd *Cwd) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.store.Close(cwd.dir.Entry)
}

// Create implements spec §4.G's create: split the path, allocate a fresh
// inode sector, build the inode (and, for directories, its parent link),
// then link it into the containing directory. Any failure after the
// sector is reserved unwinds it completely.
func (fs *Filesystem) Create(cwd *Cwd, path string, initialSize int64, isDir bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.readOnly {
		return fserrors.ErrReadOnly
	}
	if initialSize < 0 {
		return fmt.Errorf("fsys: create %s: negative initial size %d", path, initialSize)
	}

	dir, leaf, err := pathresolve.Split(fs.store, fs.root, cwd.dir, path)
	if err != nil {
		return err
	}
	defer fs.store.Close(dir.Entry)

	if leaf == "" || leaf == "." || leaf == ".." {
		return fserrors.ErrInvalidName
	}

	sector, ok := fs.freemap.Allocate(1)
	if !ok {
		return fserrors.ErrNoSpace
	}

	var buildErr error
	if isDir {
		buildErr = directory.Create(fs.store, sector, dir.Entry.Sector(), dirCapacityHint)
	} else {
		buildErr = fs.store.Create(sector, initialSize, false)
	}
	if buildErr != nil {
		fs.freemap.Release(sector, 1)
		return buildErr
	}

	if err := directory.Add(fs.store, dir, leaf, sector); err != nil {
		fs.destroyNascent(sector)
		return err
	}
	return nil
}

// destroyNascent releases a just-built, not-yet-linked inode: nothing
// else could possibly have it open, so opening it ourselves, marking it
// removed, and closing it walks its addressing tree and releases every
// sector it owns, including its own.
func (fs *Filesystem) destroyNascent(sector uint32) {
	e, err := fs.store.Open(sector)
	if err != nil {
		fs.freemap.Release(sector, 1)
		return
	}
	fs.store.Remove(e)
	if err := fs.store.Close(e); err != nil {
		fs.log.WithError(err).WithField("sector", sector).Warn("fsys: failed to tear down nascent inode")
	}
}

// Open implements spec §4.G's open: resolves path to an inode (honoring
// ".", "..", and the root-with-empty-leaf case) and wraps it as a handle.
func (fs *Filesystem) Open(cwd *Cwd, path string) (*handle.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, err := pathresolve.Resolve(fs.store, fs.root, cwd.dir, path)
	if err != nil {
		return nil, err
	}
	return handle.New(fs.store, e), nil
}

// Remove implements spec §4.G's remove.
func (fs *Filesystem) Remove(cwd *Cwd, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.readOnly {
		return fserrors.ErrReadOnly
	}
	dir, leaf, err := pathresolve.Split(fs.store, fs.root, cwd.dir, path)
	if err != nil {
		return err
	}
	defer fs.store.Close(dir.Entry)

	if leaf == "" || leaf == "." || leaf == ".." {
		return fserrors.ErrInvalidName
	}
	return directory.Remove(fs.store, dir, leaf, cwd.dir.Entry.Sector())
}

// Chdir implements spec §4.G's chdir: resolves path to a directory,
// opening it BEFORE closing cwd's previous directory, so a failed resolve
// leaves cwd completely untouched.
func (fs *Filesystem) Chdir(cwd *Cwd, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, err := pathresolve.Resolve(fs.store, fs.root, cwd.dir, path)
	if err != nil {
		return err
	}
	if !e.IsDir() {
		fs.store.Close(e)
		return fserrors.ErrNotADirectory
	}
	old := cwd.dir
	cwd.dir = directory.Wrap(e)
	return fs.store.Close(old.Entry)
}

// Readdir lists the entry names of the directory at path (spec §4.E's
// dir_readdir, exposed through the façade for tooling like cmd/imgtool).
func (fs *Filesystem) Readdir(cwd *Cwd, path string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	e, err := pathresolve.Resolve(fs.store, fs.root, cwd.dir, path)
	if err != nil {
		return nil, err
	}
	defer fs.store.Close(e)
	if !e.IsDir() {
		return nil, fserrors.ErrNotADirectory
	}
	return directory.Readdir(fs.store, directory.Wrap(e))
}

// FreeSectors reports how many sectors remain unallocated.
func (fs *Filesystem) FreeSectors() int {
	return fs.freemap.FreeCount()
}

// FreeRuns reports the volume's free-sector runs, for diagnostic tooling.
func (fs *Filesystem) FreeRuns() []freemap.Contiguous {
	return fs.freemap.FreeList()
}
