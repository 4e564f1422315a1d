// Package pathresolve is the path resolver (spec §4.F): it parses
// slash-separated paths into a (containing-directory handle, leaf name)
// pair, honoring absolute/relative starting points and "." / "..".
package pathresolve

import (
	"strings"

	"github.com/minifs/filesys/directory"
	"github.com/minifs/filesys/fserrors"
	"github.com/minifs/filesys/inode"
)

// Split resolves path into a (containing directory, leaf name) pair.
// Absolute paths (leading "/") start at root; relative paths start at
// cwd. Every interior component must be an existing subdirectory; "."
// stays, ".." moves to parent (the root's parent is itself). A path equal
// to "/" (or any path whose only components dissolve away, e.g. "///")
// yields (root, "").
//
// The returned *directory.Dir is always a fresh handle the caller must
// close; root and cwd are never closed by Split, nor returned directly
// (so the caller's ownership of them is never in question).
func Split(store *inode.Store, root, cwd *directory.Dir, path string) (*directory.Dir, string, error) {
	if path == "" {
		return nil, "", fserrors.ErrInvalidName
	}

	start := cwd
	if strings.HasPrefix(path, "/") {
		start = root
	}
	cur, err := reopen(store, start)
	if err != nil {
		return nil, "", err
	}

	parts := components(path)
	if len(parts) == 0 {
		return cur, "", nil
	}

	for _, name := range parts[:len(parts)-1] {
		next, err := step(store, cur, name)
		if err != nil {
			store.Close(cur.Entry)
			return nil, "", err
		}
		store.Close(cur.Entry)
		cur = next
	}
	return cur, parts[len(parts)-1], nil
}

// Resolve implements the leaf-interpretation rules of façade's open(path)
// (spec §4.G): an empty leaf or "." yields the containing directory
// itself, ".." yields its parent, and anything else is looked up by name.
// The returned *inode.Entry is a fresh handle the caller must close.
func Resolve(store *inode.Store, root, cwd *directory.Dir, path string) (*inode.Entry, error) {
	dir, leaf, err := Split(store, root, cwd, path)
	if err != nil {
		return nil, err
	}
	switch leaf {
	case "", ".":
		return dir.Entry, nil
	case "..":
		parent, err := directory.Parent(store, dir)
		store.Close(dir.Entry)
		if err != nil {
			return nil, err
		}
		return parent.Entry, nil
	default:
		sector, ok, err := directory.Lookup(store, dir, leaf)
		store.Close(dir.Entry)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fserrors.ErrNotFound
		}
		return store.Open(sector)
	}
}

func components(path string) []string {
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func reopen(store *inode.Store, d *directory.Dir) (*directory.Dir, error) {
	e, err := store.Open(d.Entry.Sector())
	if err != nil {
		return nil, err
	}
	return directory.Wrap(e), nil
}

// step advances cur by one interior path component.
func step(store *inode.Store, cur *directory.Dir, name string) (*directory.Dir, error) {
	switch name {
	case ".":
		return reopen(store, cur)
	case "..":
		return directory.Parent(store, cur)
	default:
		sector, ok, err := directory.Lookup(store, cur, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fserrors.ErrNotFound
		}
		e, err := store.Open(sector)
		if err != nil {
			return nil, err
		}
		if !e.IsDir() {
			store.Close(e)
			return nil, fserrors.ErrNotADirectory
		}
		return directory.Wrap(e), nil
	}
}
