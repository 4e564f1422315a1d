package directory

import (
	"bytes"
	"encoding/binary"

	"github.com/minifs/filesys/inode"
	"github.com/minifs/filesys/layout"
)

// entrySize is the fixed width of one directory entry on disk: a
// 14-byte null-padded name, a 4-byte inode sector, and a 1-byte in-use
// flag, rounded up to a clean stride.
const entrySize = 20

type rawEntry struct {
	Name   [layout.MaxNameLength]byte
	Sector uint32
	InUse  bool
}

func nameBytes(name string) [layout.MaxNameLength]byte {
	var b [layout.MaxNameLength]byte
	copy(b[:], name)
	return b
}

func trimName(b [layout.MaxNameLength]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}

func encodeEntry(e rawEntry) [entrySize]byte {
	var buf [entrySize]byte
	copy(buf[0:layout.MaxNameLength], e.Name[:])
	binary.LittleEndian.PutUint32(buf[14:18], e.Sector)
	if e.InUse {
		buf[18] = 1
	}
	return buf
}

func decodeEntry(buf []byte) rawEntry {
	var e rawEntry
	copy(e.Name[:], buf[0:layout.MaxNameLength])
	e.Sector = binary.LittleEndian.Uint32(buf[14:18])
	e.InUse = buf[18] != 0
	return e
}

// Dir is a directory inode open for lookup/mutation. It has no state of
// its own beyond the underlying inode.Entry; every operation goes through
// an inode.Store, mirroring the way handle.File wraps an *inode.Entry
// without owning a Store reference either.
type Dir struct {
	Entry *inode.Entry
}

// Wrap adapts an already-open inode.Entry into a Dir. Callers are
// responsible for verifying Entry.IsDir() beforehand; directory
// operations assume it.
func Wrap(e *inode.Entry) *Dir {
	return &Dir{Entry: e}
}
