package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/minifs/filesys/backend"
	"github.com/minifs/filesys/fserrors"
	"github.com/minifs/filesys/layout"
)

// Allocator is the free-map's contract with the indirect-addressing engine
// (spec §4.B). inode never imports freemap; freemap.Map satisfies this
// interface structurally, the one-directional dependency spec §6 calls for.
type Allocator interface {
	Allocate(n int) (start uint32, ok bool)
	Release(start uint32, n int)
}

type indirectBlock [layout.EntriesPerIndirectBlock]uint32

func readIndirectBlock(b backend.Storage, sector uint32) (indirectBlock, error) {
	var blk indirectBlock
	var raw [layout.SectorSize]byte
	if err := b.ReadSector(sector, raw[:]); err != nil {
		return blk, fmt.Errorf("inode: read indirect block %d: %w", sector, err)
	}
	for i := range blk {
		blk[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return blk, nil
}

func writeIndirectBlock(b backend.Storage, sector uint32, blk indirectBlock) error {
	var raw [layout.SectorSize]byte
	for i, v := range blk {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], v)
	}
	if err := b.WriteSector(sector, raw[:]); err != nil {
		return fmt.Errorf("inode: write indirect block %d: %w", sector, err)
	}
	return nil
}

// byteToSector translates a byte offset within rec into the data sector
// that holds it (spec §4.A, "byte_to_sector"). pos must be < rec.Length.
func byteToSector(b backend.Storage, rec Record, pos int64) (uint32, error) {
	if pos < 0 || pos >= int64(rec.Length) {
		return 0, fmt.Errorf("inode: offset %d out of range for length %d", pos, rec.Length)
	}
	k := uint32(pos / layout.SectorSize)
	if rec.IndirectSector != 0 {
		blk, err := readIndirectBlock(b, rec.IndirectSector)
		if err != nil {
			return 0, err
		}
		return blk[k], nil
	}
	if rec.DoubleIndirectSector == 0 {
		return 0, fmt.Errorf("inode: sector %d has nonzero length but no indirect structure", rec.SelfSector)
	}
	outer, err := readIndirectBlock(b, rec.DoubleIndirectSector)
	if err != nil {
		return 0, err
	}
	l1Sector := outer[k/layout.EntriesPerIndirectBlock]
	inner, err := readIndirectBlock(b, l1Sector)
	if err != nil {
		return 0, err
	}
	return inner[k%layout.EntriesPerIndirectBlock], nil
}

// extendTo grows rec to newLength (clamped to layout.MaxFileSize), per
// spec §4.D's ordered steps:
//
//  1. If no indirect/double-indirect root exists yet, allocate a
//     single-indirect root and zero it.
//  2. At the 129th sector (k == 128), promote: allocate a double-indirect
//     root, move the existing single-indirect sector into its entry 0.
//  3. Whenever k is a multiple of 128 at or past the double-indirect
//     threshold, allocate a fresh level-1 block and install it in the
//     double-indirect root at entry k/128.
//  4. Allocate a data sector, zero it, and install it in the owning
//     level-1 block at entry k%128.
//
// extendTo commits rec's new Length/IndirectSector/DoubleIndirectSector and
// writes the inode's own sector ONLY on full success. On failure, rec is
// left exactly as it was on entry: whatever indirect/data sectors this
// call allocated before failing are already written to disk but
// unreferenced from rec, i.e. orphaned rather than rolled back (spec §4.D
// edge case — this volume carries no journal, so there is no cheap way to
// reclaim a partially built indirection tree). The caller still receives
// the list of sectors this call allocated, so a caller building a brand
// new inode from scratch (inode.Store.Create) can choose to release them
// immediately instead of leaving them orphaned, since nothing else could
// possibly reference them yet.
func extendTo(b backend.Storage, alloc Allocator, rec *Record, newLength int64) ([]uint32, error) {
	if newLength <= int64(rec.Length) {
		return nil, nil
	}
	if newLength > layout.MaxFileSize {
		newLength = layout.MaxFileSize
	}

	local := *rec
	currentSectors := sectorsFor(int64(rec.Length))
	neededSectors := sectorsFor(newLength)

	var allocated []uint32
	var zero [layout.SectorSize]byte

	for k := currentSectors; k < neededSectors; k++ {
		if local.IndirectSector == 0 && local.DoubleIndirectSector == 0 {
			s, ok := alloc.Allocate(1)
			if !ok {
				return allocated, fserrors.ErrNoSpace
			}
			allocated = append(allocated, s)
			if err := b.WriteSector(s, zero[:]); err != nil {
				return allocated, err
			}
			local.IndirectSector = s
		}

		if k == layout.EntriesPerIndirectBlock && local.DoubleIndirectSector == 0 {
			dind, ok := alloc.Allocate(1)
			if !ok {
				return allocated, fserrors.ErrNoSpace
			}
			allocated = append(allocated, dind)
			var outer indirectBlock
			outer[0] = local.IndirectSector
			if err := writeIndirectBlock(b, dind, outer); err != nil {
				return allocated, err
			}
			local.DoubleIndirectSector = dind
			local.IndirectSector = 0
		}

		if k >= layout.EntriesPerIndirectBlock && k%layout.EntriesPerIndirectBlock == 0 {
			outer, err := readIndirectBlock(b, local.DoubleIndirectSector)
			if err != nil {
				return allocated, err
			}
			l1, ok := alloc.Allocate(1)
			if !ok {
				return allocated, fserrors.ErrNoSpace
			}
			allocated = append(allocated, l1)
			var fresh indirectBlock
			if err := writeIndirectBlock(b, l1, fresh); err != nil {
				return allocated, err
			}
			outer[k/layout.EntriesPerIndirectBlock] = l1
			if err := writeIndirectBlock(b, local.DoubleIndirectSector, outer); err != nil {
				return allocated, err
			}
		}

		var l1Sector uint32
		if local.IndirectSector != 0 {
			l1Sector = local.IndirectSector
		} else {
			outer, err := readIndirectBlock(b, local.DoubleIndirectSector)
			if err != nil {
				return allocated, err
			}
			l1Sector = outer[k/layout.EntriesPerIndirectBlock]
		}
		l1, err := readIndirectBlock(b, l1Sector)
		if err != nil {
			return allocated, err
		}
		data, ok := alloc.Allocate(1)
		if !ok {
			return allocated, fserrors.ErrNoSpace
		}
		allocated = append(allocated, data)
		if err := b.WriteSector(data, zero[:]); err != nil {
			return allocated, err
		}
		l1[k%layout.EntriesPerIndirectBlock] = data
		if err := writeIndirectBlock(b, l1Sector, l1); err != nil {
			return allocated, err
		}
	}

	local.Length = int32(newLength)
	buf := local.encode()
	if err := b.WriteSector(local.SelfSector, buf[:]); err != nil {
		return allocated, err
	}
	*rec = local
	return allocated, nil
}
