// Package backend defines the block device interface the rest of the file
// system is built on top of: synchronous, fixed-size sector reads and
// writes. Everything above this package treats the device as a reliable,
// blocking, sector-addressable store (spec §4.A); it never sees partial
// transfers or torn sectors.
package backend

import "errors"

// SectorSize is the fixed size, in bytes, of every sector this package
// transfers. It is dictated by the on-disk inode record format and is not
// configurable.
const SectorSize = 512

// ReservedSector is sector 0, permanently reserved as the sentinel "no
// sector" value; it must never be issued to the device.
const ReservedSector uint32 = 0

var (
	// ErrNotSuitable is returned when an operation is attempted against a
	// Storage value that cannot support it.
	ErrNotSuitable = errors.New("backend: not suitable for this operation")
	// ErrReadOnly is returned by WriteSector on a read-only-opened Storage.
	ErrReadOnly = errors.New("backend: storage opened read-only")
	// ErrReservedSector is returned for any access to sector 0, which is
	// permanently reserved and must never be issued to the device.
	ErrReservedSector = errors.New("backend: sector 0 is reserved")
)

// Storage is a synchronous, sector-addressable block device. Every
// ReadSector and WriteSector transfers exactly SectorSize bytes and blocks
// until the transfer completes.
type Storage interface {
	// ReadSector copies SectorSize bytes from the given sector into dst.
	// len(dst) must be at least SectorSize.
	ReadSector(sector uint32, dst []byte) error
	// WriteSector copies SectorSize bytes from src into the given sector.
	// len(src) must be at least SectorSize.
	WriteSector(sector uint32, src []byte) error
	// Sync flushes any buffered writes to the underlying device.
	Sync() error
	// Close releases the backend's resources (file handles, locks).
	Close() error
}

// SectorCounter is implemented by backends that know their own fixed size,
// used by the free-map to size its bitmap at format time.
type SectorCounter interface {
	SectorCount() uint32
}
