// Package layout holds the handful of fixed sector numbers and size limits
// that every other package needs to agree on (spec §6, "Persisted layout").
// It exists purely to avoid import cycles between freemap, inode,
// directory, and fsys: none of those packages import each other just to
// learn "sector 2 is the root directory".
package layout

import "github.com/minifs/filesys/backend"

const (
	// ReservedSector is sector 0: never issued to the device, used as the
	// sentinel "no sector" value in on-disk pointers.
	ReservedSector uint32 = backend.ReservedSector
	// FreeMapSector is sector 1: the free-map's own backing inode.
	FreeMapSector uint32 = 1
	// RootDirSector is sector 2: the root directory's inode.
	RootDirSector uint32 = 2

	// SectorSize is the fixed transfer unit of the block device.
	SectorSize = backend.SectorSize
	// EntriesPerIndirectBlock is how many sector numbers fit in one
	// indirect (or double-indirect) block: 512 bytes / 4 bytes per entry.
	EntriesPerIndirectBlock = SectorSize / 4
	// MaxFileSize is the largest a single file (or directory payload) may
	// grow to: spec's MAX_SIZE = 8 MiB.
	MaxFileSize int64 = 8 * 1024 * 1024
	// MaxFileSectors is MaxFileSize expressed in sectors.
	MaxFileSectors = MaxFileSize / SectorSize
	// MaxNameLength is the maximum number of bytes in a single path
	// component / directory entry name.
	MaxNameLength = 14
)
