package file

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/xattr"
	times "gopkg.in/djherbis/times.v1"
)

// xattr names the backing image file carries. The fixed 512-byte inode
// record (spec §3) has no spare field for a volume identifier, so it lives
// out of band on the host file system instead, the same way go-diskfs's
// dependency closure carries github.com/pkg/xattr for extended attributes
// that don't fit in a filesystem's native record formats.
const (
	xattrUUID    = "user.minifs.uuid"
	xattrVersion = "user.minifs.version"

	formatVersion = "1"
)

// StampVolumeID generates a fresh volume UUID and records it, together with
// the on-disk format version, as extended attributes on the backing file.
// Called once, at format time.
func (b *Backend) StampVolumeID() (string, error) {
	id := uuid.New().String()
	if err := xattr.FSet(b.f, xattrUUID, []byte(id)); err != nil {
		return "", fmt.Errorf("file: stamp volume uuid: %w", err)
	}
	if err := xattr.FSet(b.f, xattrVersion, []byte(formatVersion)); err != nil {
		return "", fmt.Errorf("file: stamp format version: %w", err)
	}
	b.volumeUUID = id
	return id, nil
}

// VolumeID returns the volume's UUID, reading it from the backing file's
// extended attributes if it hasn't been read yet this session. Returns ""
// if the image predates UUID stamping or the host file system does not
// support extended attributes.
func (b *Backend) VolumeID() string {
	if b.volumeUUID != "" {
		return b.volumeUUID
	}
	raw, err := xattr.FGet(b.f, xattrUUID)
	if err != nil {
		return ""
	}
	b.volumeUUID = string(raw)
	return b.volumeUUID
}

// FormatVersion reads the on-disk format version xattr, or "" if absent.
func (b *Backend) FormatVersion() string {
	raw, err := xattr.FGet(b.f, xattrVersion)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Describe reports host file system metadata about the backing image:
// its size, and its birth time where the host file system exposes one.
// Used by cmd/imgtool's describe subcommand; never consulted by the core
// file system logic itself (spec's Non-goals exclude caching/metadata
// beyond what the block layer provides, so this is purely diagnostic).
type Description struct {
	Path       string
	Sectors    uint32
	VolumeID   string
	Version    string
	ModTime    time.Time
	BirthTime  time.Time
	HasBirth   bool
	ChangeTime time.Time
	HasChange  bool
}

func (b *Backend) Describe() (Description, error) {
	t, err := times.Stat(b.f.Name())
	if err != nil {
		return Description{}, fmt.Errorf("file: describe %s: %w", b.f.Name(), err)
	}
	d := Description{
		Path:     b.f.Name(),
		Sectors:  b.sectors,
		VolumeID: b.VolumeID(),
		Version:  b.FormatVersion(),
		ModTime:  t.ModTime(),
	}
	if t.HasChangeTime() {
		d.HasChange = true
		d.ChangeTime = t.ChangeTime()
	}
	if t.HasBirthTime() {
		d.HasBirth = true
		d.BirthTime = t.BirthTime()
	}
	return d, nil
}
