// Package handle is the open-file handle (spec §4.H): a thin cursor over
// an inode, owned exclusively by whichever caller received it from the
// façade's Open.
package handle

import (
	"fmt"

	"github.com/minifs/filesys/inode"
)

// File is a position cursor over an open inode. Read and Write advance
// the cursor by the number of bytes actually transferred.
type File struct {
	store    *inode.Store
	entry    *inode.Entry
	position int64
	closed   bool
}

// New wraps an already-open inode.Entry as a file handle starting at
// offset 0.
func New(store *inode.Store, entry *inode.Entry) *File {
	return &File{store: store, entry: entry}
}

// Read copies into buf starting at the cursor, advancing it by the
// number of bytes read.
func (f *File) Read(buf []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("handle: read on closed handle")
	}
	n, err := f.store.ReadAt(f.entry, buf, f.position)
	f.position += int64(n)
	return n, err
}

// Write copies buf to the cursor, growing the file as needed, and
// advances the cursor by the number of bytes written.
func (f *File) Write(buf []byte) (int, error) {
	if f.closed {
		return 0, fmt.Errorf("handle: write on closed handle")
	}
	n, err := f.store.WriteAt(f.entry, buf, f.position)
	f.position += int64(n)
	return n, err
}

// Seek moves the cursor to an absolute byte offset. Negative offsets are
// rejected; offsets past the current length are allowed (the next Write
// will grow the file to meet them).
func (f *File) Seek(pos int64) error {
	if pos < 0 {
		return fmt.Errorf("handle: negative seek offset %d", pos)
	}
	f.position = pos
	return nil
}

// Tell returns the cursor's current byte offset.
func (f *File) Tell() int64 { return f.position }

// Length returns the file's current length in bytes.
func (f *File) Length() int64 { return f.entry.Length() }

// IsDir reports whether the underlying inode is a directory.
func (f *File) IsDir() bool { return f.entry.IsDir() }

// Sector returns the underlying inode's own sector, which identifies the
// inode this handle is open on.
func (f *File) Sector() uint32 { return f.entry.Sector() }

// DenyWrite protects the file against writes until a matching AllowWrite,
// the mechanism spec §4.H uses to keep a running executable's backing file
// immutable. Closing the handle does not undo it.
func (f *File) DenyWrite() { f.store.DenyWrite(f.entry) }

// AllowWrite undoes one DenyWrite.
func (f *File) AllowWrite() { f.store.AllowWrite(f.entry) }

// Close releases the handle's reference on the underlying inode. Safe to
// call at most once; a second call is a programmer error, not silently
// ignored, since a double-close would under-count a shared inode's
// open_count.
func (f *File) Close() error {
	if f.closed {
		return fmt.Errorf("handle: double close")
	}
	f.closed = true
	return f.store.Close(f.entry)
}
