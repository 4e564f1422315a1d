// Package memory provides an in-memory backend.Storage, the in-process
// stand-in for a real block device used throughout this module's tests —
// the role the teacher's testhelper.FileImpl plays for go-diskfs, except
// addressed by sector rather than by arbitrary byte offset.
package memory

import (
	"fmt"

	"github.com/minifs/filesys/backend"
)

// Backend is a fixed-size, sector-addressable store backed by a plain byte
// slice. It never touches disk and never blocks.
type Backend struct {
	sectors  uint32
	data     []byte
	readOnly bool
	closed   bool
}

var (
	_ backend.Storage       = (*Backend)(nil)
	_ backend.SectorCounter = (*Backend)(nil)
)

// New allocates an in-memory volume of the given sector count, zero-filled.
func New(sectors uint32) *Backend {
	return &Backend{
		sectors: sectors,
		data:    make([]byte, int(sectors)*backend.SectorSize),
	}
}

// SectorCount implements backend.SectorCounter.
func (b *Backend) SectorCount() uint32 {
	return b.sectors
}

func (b *Backend) offset(sector uint32) (int64, error) {
	if b.closed {
		return 0, fmt.Errorf("memory: backend closed")
	}
	if sector == backend.ReservedSector {
		return 0, backend.ErrReservedSector
	}
	if sector >= b.sectors {
		return 0, fmt.Errorf("memory: sector %d out of range (have %d)", sector, b.sectors)
	}
	return int64(sector) * backend.SectorSize, nil
}

// ReadSector implements backend.Storage.
func (b *Backend) ReadSector(sector uint32, dst []byte) error {
	off, err := b.offset(sector)
	if err != nil {
		return err
	}
	if len(dst) < backend.SectorSize {
		return fmt.Errorf("memory: destination buffer too small: %d < %d", len(dst), backend.SectorSize)
	}
	copy(dst[:backend.SectorSize], b.data[off:off+backend.SectorSize])
	return nil
}

// WriteSector implements backend.Storage.
func (b *Backend) WriteSector(sector uint32, src []byte) error {
	off, err := b.offset(sector)
	if err != nil {
		return err
	}
	if b.readOnly {
		return backend.ErrReadOnly
	}
	if len(src) < backend.SectorSize {
		return fmt.Errorf("memory: source buffer too small: %d < %d", len(src), backend.SectorSize)
	}
	copy(b.data[off:off+backend.SectorSize], src[:backend.SectorSize])
	return nil
}

// Sync is a no-op; there is nothing to flush.
func (b *Backend) Sync() error { return nil }

// Close marks the backend unusable. Safe to call multiple times.
func (b *Backend) Close() error {
	b.closed = true
	return nil
}

// SetReadOnly flips write-protection: while set, WriteSector returns
// backend.ErrReadOnly.
func (b *Backend) SetReadOnly(ro bool) {
	b.readOnly = ro
}
