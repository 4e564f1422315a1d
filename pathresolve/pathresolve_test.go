package pathresolve_test

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/minifs/filesys/backend/memory"
	"github.com/minifs/filesys/directory"
	"github.com/minifs/filesys/freemap"
	"github.com/minifs/filesys/inode"
	"github.com/minifs/filesys/layout"
	"github.com/minifs/filesys/pathresolve"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// buildTree formats directories /d and /d/e and a plain file /d/e/x, and
// returns the store, the free-map, root, and the "/d/e" directory handle
// for tests.
func buildTree(t *testing.T) (*inode.Store, *freemap.Map, *directory.Dir, *directory.Dir) {
	t.Helper()
	b := memory.New(64)
	m := freemap.New(64)
	store := inode.NewStore(b, m, quietLog())
	if err := m.Bootstrap(store); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if err := directory.Create(store, layout.RootDirSector, layout.RootDirSector, 4); err != nil {
		t.Fatalf("Create(root) error = %v", err)
	}
	rootEntry, err := store.Open(layout.RootDirSector)
	if err != nil {
		t.Fatalf("Open(root) error = %v", err)
	}
	root := directory.Wrap(rootEntry)

	dSector, _ := m.Allocate(1)
	if err := directory.Create(store, dSector, layout.RootDirSector, 4); err != nil {
		t.Fatalf("Create(d) error = %v", err)
	}
	if err := directory.Add(store, root, "d", dSector); err != nil {
		t.Fatalf("Add(d) error = %v", err)
	}

	eSector, _ := m.Allocate(1)
	if err := directory.Create(store, eSector, dSector, 4); err != nil {
		t.Fatalf("Create(e) error = %v", err)
	}
	dEntry, err := store.Open(dSector)
	if err != nil {
		t.Fatalf("Open(d) error = %v", err)
	}
	dDir := directory.Wrap(dEntry)
	if err := directory.Add(store, dDir, "e", eSector); err != nil {
		t.Fatalf("Add(e) error = %v", err)
	}

	xSector, _ := m.Allocate(1)
	if err := store.Create(xSector, 0, false); err != nil {
		t.Fatalf("Create(x) error = %v", err)
	}
	eEntry, err := store.Open(eSector)
	if err != nil {
		t.Fatalf("Open(e) error = %v", err)
	}
	eDir := directory.Wrap(eEntry)
	if err := directory.Add(store, eDir, "x", xSector); err != nil {
		t.Fatalf("Add(x) error = %v", err)
	}

	return store, m, root, eDir
}

func TestSplitAbsoluteAndRelative(t *testing.T) {
	store, _, root, cwdAtE := buildTree(t)
	defer store.Close(root.Entry)
	defer store.Close(cwdAtE.Entry)

	for _, tt := range []struct {
		name     string
		path     string
		wantLeaf string
	}{
		{"absolute", "/d/e/x", "x"},
		{"relative from e", "x", "x"},
		{"dotdot from e", "../e/x", "x"},
		{"root", "/", ""},
		{"trailing slash", "/d/e/", "e"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			dir, leaf, err := pathresolve.Split(store, root, cwdAtE, tt.path)
			if err != nil {
				t.Fatalf("Split(%q) error = %v", tt.path, err)
			}
			defer store.Close(dir.Entry)
			if leaf != tt.wantLeaf {
				t.Errorf("Split(%q) leaf = %q, want %q", tt.path, leaf, tt.wantLeaf)
			}
		})
	}
}

// TestPathIdempotence exercises the spec's "Path idempotence" invariant:
// resolving a file by absolute or relative path yields a handle over the
// same inode.
func TestPathIdempotence(t *testing.T) {
	store, _, root, cwdAtE := buildTree(t)
	defer store.Close(root.Entry)
	defer store.Close(cwdAtE.Entry)

	abs, err := pathresolve.Resolve(store, root, cwdAtE, "/d/e/x")
	if err != nil {
		t.Fatalf("Resolve(absolute) error = %v", err)
	}
	defer store.Close(abs)

	rel, err := pathresolve.Resolve(store, root, cwdAtE, "x")
	if err != nil {
		t.Fatalf("Resolve(relative) error = %v", err)
	}
	defer store.Close(rel)

	if abs.Sector() != rel.Sector() {
		t.Errorf("absolute sector %d != relative sector %d", abs.Sector(), rel.Sector())
	}
}

// TestParentAtRoot is spec scenario 7: ".." from the root resolves to the
// root itself.
func TestParentAtRoot(t *testing.T) {
	store, _, root, _ := buildTree(t)
	defer store.Close(root.Entry)

	e, err := pathresolve.Resolve(store, root, root, "..")
	if err != nil {
		t.Fatalf("Resolve(..) error = %v", err)
	}
	defer store.Close(e)
	if e.Sector() != layout.RootDirSector {
		t.Errorf("Resolve(..) sector = %d, want %d", e.Sector(), layout.RootDirSector)
	}
}

func TestInteriorComponentNotADirectoryFails(t *testing.T) {
	store, _, root, cwdAtE := buildTree(t)
	defer store.Close(root.Entry)
	defer store.Close(cwdAtE.Entry)

	if _, _, err := pathresolve.Split(store, root, cwdAtE, "x/y"); err == nil {
		t.Fatalf("Split(x/y) through a plain file succeeded, want error")
	}
}
