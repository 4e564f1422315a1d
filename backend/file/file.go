// Package file implements backend.Storage over a regular OS file or block
// device, the way github.com/diskfs/go-diskfs/backend/file does for whole
// disk images. Unlike the teacher, every transfer here is pinned to a single
// 512-byte sector, and the backend holds an advisory lock on the backing
// file for as long as it is open (exclusive, or shared when opened
// read-only), standing in for "this volume has exactly one kernel mounting
// it".
package file

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/minifs/filesys/backend"
)

// Backend is a backend.Storage over an os.File.
type Backend struct {
	f          *os.File
	readOnly   bool
	sectors    uint32
	lockHeld   bool
	volumeUUID string
}

var (
	_ backend.Storage       = (*Backend)(nil)
	_ backend.SectorCounter = (*Backend)(nil)
)

// CreateFromPath creates a new image file of exactly sectors*SectorSize
// bytes and returns a writable Backend over it. The file must not already
// exist, mirroring go-diskfs's CreateFromPath.
func CreateFromPath(pathName string, sectors uint32) (*Backend, error) {
	if pathName == "" {
		return nil, fmt.Errorf("file: must pass an image path")
	}
	if sectors == 0 {
		return nil, fmt.Errorf("file: must pass a nonzero sector count")
	}
	f, err := os.OpenFile(pathName, os.O_RDWR|os.O_EXCL|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("file: could not create image %s: %w", pathName, err)
	}
	size := int64(sectors) * backend.SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("file: could not size image %s to %d bytes: %w", pathName, size, err)
	}
	b := &Backend{f: f, sectors: sectors}
	if err := b.lock(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

// OpenFromPath opens an existing image file. The file's size must be an
// exact multiple of backend.SectorSize.
func OpenFromPath(pathName string, readOnly bool) (*Backend, error) {
	if pathName == "" {
		return nil, fmt.Errorf("file: must pass an image path")
	}
	mode := os.O_RDONLY
	if !readOnly {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(pathName, mode, 0o600)
	if err != nil {
		return nil, fmt.Errorf("file: could not open image %s: %w", pathName, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("file: could not stat image %s: %w", pathName, err)
	}
	if fi.Size()%backend.SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("file: image %s size %d is not a multiple of sector size %d", pathName, fi.Size(), backend.SectorSize)
	}
	b := &Backend{
		f:        f,
		readOnly: readOnly,
		sectors:  uint32(fi.Size() / backend.SectorSize),
	}
	if err := b.lock(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

// lock takes an exclusive (or shared, for read-only backends) advisory
// flock on the backing file, failing fast if another process already holds
// a conflicting lock on it.
func (b *Backend) lock() error {
	how := unix.LOCK_EX | unix.LOCK_NB
	if b.readOnly {
		how = unix.LOCK_SH | unix.LOCK_NB
	}
	if err := unix.Flock(int(b.f.Fd()), how); err != nil {
		return fmt.Errorf("file: volume %s is already open elsewhere: %w", b.f.Name(), err)
	}
	b.lockHeld = true
	return nil
}

// SectorCount returns the total number of sectors backing this image.
func (b *Backend) SectorCount() uint32 {
	return b.sectors
}

// ReadSector implements backend.Storage.
func (b *Backend) ReadSector(sector uint32, dst []byte) error {
	if sector == backend.ReservedSector {
		return backend.ErrReservedSector
	}
	if len(dst) < backend.SectorSize {
		return fmt.Errorf("file: destination buffer too small: %d < %d", len(dst), backend.SectorSize)
	}
	n, err := b.f.ReadAt(dst[:backend.SectorSize], int64(sector)*backend.SectorSize)
	if err != nil {
		return fmt.Errorf("file: read sector %d: %w", sector, err)
	}
	if n != backend.SectorSize {
		return fmt.Errorf("file: short read of sector %d: got %d bytes", sector, n)
	}
	return nil
}

// WriteSector implements backend.Storage.
func (b *Backend) WriteSector(sector uint32, src []byte) error {
	if sector == backend.ReservedSector {
		return backend.ErrReservedSector
	}
	if b.readOnly {
		return backend.ErrReadOnly
	}
	if len(src) < backend.SectorSize {
		return fmt.Errorf("file: source buffer too small: %d < %d", len(src), backend.SectorSize)
	}
	n, err := b.f.WriteAt(src[:backend.SectorSize], int64(sector)*backend.SectorSize)
	if err != nil {
		return fmt.Errorf("file: write sector %d: %w", sector, err)
	}
	if n != backend.SectorSize {
		return fmt.Errorf("file: short write of sector %d: wrote %d bytes", sector, n)
	}
	return nil
}

// Sync implements backend.Storage.
func (b *Backend) Sync() error {
	if b.readOnly {
		return nil
	}
	return b.f.Sync()
}

// Close implements backend.Storage, releasing the advisory lock.
func (b *Backend) Close() error {
	if b.lockHeld {
		_ = unix.Flock(int(b.f.Fd()), unix.LOCK_UN)
		b.lockHeld = false
	}
	return b.f.Close()
}

// Path returns the backing file's path, for diagnostics.
func (b *Backend) Path() string {
	return b.f.Name()
}

// File exposes the underlying *os.File for the volume metadata helpers in
// metadata.go (xattr, birth-time reporting).
func (b *Backend) File() *os.File {
	return b.f
}
