package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/minifs/filesys/layout"
)

// diskMagic is Pintos's INODE_MAGIC, kept verbatim as a sanity check that a
// sector we're about to interpret as an inode record actually is one.
const diskMagic uint32 = 0x494e4f44

// Record is the fixed 512-byte on-disk inode (spec §3, "On-disk inode
// record"). Layout:
//
//	bytes  0- 3  length (int32, bytes, little-endian)
//	bytes  4- 7  magic
//	bytes  8-11  self sector
//	bytes 12-15  indirect sector (0 = none)
//	bytes 16-19  double-indirect sector (0 = none)
//	byte     20  is_dir (0/1)
//	bytes 21-511 unused, zero
type Record struct {
	Length               int32
	SelfSector           uint32
	IndirectSector       uint32
	DoubleIndirectSector uint32
	IsDir                bool
}

func (r Record) encode() [layout.SectorSize]byte {
	var buf [layout.SectorSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Length))
	binary.LittleEndian.PutUint32(buf[4:8], diskMagic)
	binary.LittleEndian.PutUint32(buf[8:12], r.SelfSector)
	binary.LittleEndian.PutUint32(buf[12:16], r.IndirectSector)
	binary.LittleEndian.PutUint32(buf[16:20], r.DoubleIndirectSector)
	if r.IsDir {
		buf[20] = 1
	}
	return buf
}

func decodeRecord(buf []byte) (Record, error) {
	if len(buf) < layout.SectorSize {
		return Record{}, fmt.Errorf("inode: record buffer too small: %d bytes", len(buf))
	}
	magic := binary.LittleEndian.Uint32(buf[4:8])
	if magic != diskMagic {
		return Record{}, fmt.Errorf("inode: bad magic %#x, sector is not an inode", magic)
	}
	return Record{
		Length:               int32(binary.LittleEndian.Uint32(buf[0:4])),
		SelfSector:           binary.LittleEndian.Uint32(buf[8:12]),
		IndirectSector:       binary.LittleEndian.Uint32(buf[12:16]),
		DoubleIndirectSector: binary.LittleEndian.Uint32(buf[16:20]),
		IsDir:                buf[20] != 0,
	}, nil
}

// sectorsFor returns ceil(length / SectorSize), the number of data sectors
// a file of this length occupies.
func sectorsFor(length int64) uint32 {
	if length <= 0 {
		return 0
	}
	return uint32((length + layout.SectorSize - 1) / layout.SectorSize)
}
