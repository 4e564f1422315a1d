// Package fserrors collects the sentinel errors every façade operation can
// return (spec §7), the way github.com/diskfs/go-diskfs/filesystem exports
// ErrNotSupported / ErrNotImplemented / ErrReadonlyFilesystem for callers to
// match against with errors.Is.
package fserrors

import "errors"

var (
	// ErrNotFound is returned when a path component or leaf does not exist.
	ErrNotFound = errors.New("minifs: not found")
	// ErrExists is returned by create when the leaf name is already taken
	// in the containing directory.
	ErrExists = errors.New("minifs: already exists")
	// ErrInvalidName is returned when a leaf is ".", "..", empty, or a
	// path component exceeds the maximum name length.
	ErrInvalidName = errors.New("minifs: invalid name")
	// ErrNotADirectory is returned when an interior path component, or the
	// target of an operation that requires a directory, names a file.
	ErrNotADirectory = errors.New("minifs: not a directory")
	// ErrIsADirectory is returned when a directory is used where a plain
	// file is required.
	ErrIsADirectory = errors.New("minifs: is a directory")
	// ErrNotEmpty is returned by remove on a non-empty directory.
	ErrNotEmpty = errors.New("minifs: directory not empty")
	// ErrBusy is returned by remove on a directory any thread has open.
	ErrBusy = errors.New("minifs: directory busy")
	// ErrNoSpace is returned when the free-map cannot satisfy an
	// allocation.
	ErrNoSpace = errors.New("minifs: out of space")
	// ErrOutOfMemory is returned when an in-memory allocation for an open
	// inode fails.
	ErrOutOfMemory = errors.New("minifs: out of memory")
	// ErrBadHandle is returned when a caller passes an unrecognized
	// descriptor into the core.
	ErrBadHandle = errors.New("minifs: bad handle")
	// ErrReadOnly is returned by Create and Remove against a volume
	// mounted read-only.
	ErrReadOnly = errors.New("minifs: read-only filesystem")
)
