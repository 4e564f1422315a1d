package fsys_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/minifs/filesys/backend/memory"
	"github.com/minifs/filesys/fserrors"
	"github.com/minifs/filesys/fsys"
	"github.com/minifs/filesys/layout"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func formatted(t *testing.T, sectors uint32) (*fsys.Filesystem, *fsys.Cwd) {
	t.Helper()
	b := memory.New(sectors)
	fs, err := fsys.Format(b, quietLog())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	cwd, err := fs.RootCwd()
	if err != nil {
		t.Fatalf("RootCwd() error = %v", err)
	}
	return fs, cwd
}

// TestDirectorySemantics is spec scenario 3.
func TestDirectorySemantics(t *testing.T) {
	fs, cwd := formatted(t, 256)
	defer fs.CloseCwd(cwd)

	if err := fs.Create(cwd, "/d", 0, true); err != nil {
		t.Fatalf("Create(/d) error = %v", err)
	}
	if err := fs.Create(cwd, "/d/e", 0, true); err != nil {
		t.Fatalf("Create(/d/e) error = %v", err)
	}
	if err := fs.Chdir(cwd, "/d/e"); err != nil {
		t.Fatalf("Chdir(/d/e) error = %v", err)
	}
	if err := fs.Create(cwd, "../x", 100, false); err != nil {
		t.Fatalf("Create(../x) error = %v", err)
	}

	h, err := fs.Open(cwd, "/d/x")
	if err != nil {
		t.Fatalf("Open(/d/x) error = %v", err)
	}
	if h.Length() != 100 {
		t.Errorf("Open(/d/x).Length() = %d, want 100", h.Length())
	}
	h.Close()

	if err := fs.Remove(cwd, "/d"); !errors.Is(err, fserrors.ErrNotEmpty) {
		t.Fatalf("Remove(/d) while non-empty error = %v, want ErrNotEmpty", err)
	}
	if err := fs.Remove(cwd, "/d/x"); err != nil {
		t.Fatalf("Remove(/d/x) error = %v", err)
	}
	if err := fs.Remove(cwd, "/d/e"); err != nil {
		t.Fatalf("Remove(/d/e) error = %v", err)
	}
	if err := fs.Remove(cwd, "/d"); err != nil {
		t.Fatalf("Remove(/d) error = %v", err)
	}
}

// TestNameCollision is spec scenario 4.
func TestNameCollision(t *testing.T) {
	fs, cwd := formatted(t, 64)
	defer fs.CloseCwd(cwd)

	if err := fs.Create(cwd, "/f", 0, false); err != nil {
		t.Fatalf("first Create(/f) error = %v", err)
	}
	if err := fs.Create(cwd, "/f", 0, false); !errors.Is(err, fserrors.ErrExists) {
		t.Fatalf("second Create(/f) error = %v, want ErrExists", err)
	}
	h, err := fs.Open(cwd, "/f")
	if err != nil {
		t.Fatalf("Open(/f) error = %v", err)
	}
	h.Close()
}

// TestLeafRestrictions is spec scenario 5.
func TestLeafRestrictions(t *testing.T) {
	fs, cwd := formatted(t, 64)
	defer fs.CloseCwd(cwd)

	for _, path := range []string{"/.", "/..", "/"} {
		if err := fs.Create(cwd, path, 0, false); !errors.Is(err, fserrors.ErrInvalidName) {
			t.Errorf("Create(%q) error = %v, want ErrInvalidName", path, err)
		}
	}
}

// TestMaxSize is spec scenario 6.
func TestMaxSize(t *testing.T) {
	// An 8 MiB file needs 129 index sectors on top of its data sectors.
	fs, cwd := formatted(t, uint32(layout.MaxFileSectors)+256)
	defer fs.CloseCwd(cwd)

	if err := fs.Create(cwd, "/m", 0, false); err != nil {
		t.Fatalf("Create(/m) error = %v", err)
	}
	h, err := fs.Open(cwd, "/m")
	if err != nil {
		t.Fatalf("Open(/m) error = %v", err)
	}
	defer h.Close()

	buf := make([]byte, 9*1024*1024)
	n, err := h.Write(buf)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if int64(n) != layout.MaxFileSize {
		t.Errorf("Write() returned %d, want %d", n, layout.MaxFileSize)
	}
	if h.Length() != layout.MaxFileSize {
		t.Errorf("Length() = %d, want %d", h.Length(), layout.MaxFileSize)
	}
}

// TestParentAtRoot is spec scenario 7.
func TestParentAtRoot(t *testing.T) {
	fs, cwd := formatted(t, 64)
	defer fs.CloseCwd(cwd)

	if err := fs.Chdir(cwd, "/"); err != nil {
		t.Fatalf("Chdir(/) error = %v", err)
	}
	h, err := fs.Open(cwd, "..")
	if err != nil {
		t.Fatalf("Open(..) error = %v", err)
	}
	defer h.Close()
	if h.Sector() != layout.RootDirSector {
		t.Errorf("Open(..).Sector() = %d, want %d", h.Sector(), layout.RootDirSector)
	}
}

func TestRemoveWhileOpen(t *testing.T) {
	fs, cwd := formatted(t, 64)
	defer fs.CloseCwd(cwd)

	if err := fs.Create(cwd, "/a", 0, false); err != nil {
		t.Fatalf("Create(/a) error = %v", err)
	}
	h, err := fs.Open(cwd, "/a")
	if err != nil {
		t.Fatalf("Open(/a) error = %v", err)
	}
	want := []byte("still here")
	if _, err := h.Write(want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if err := fs.Remove(cwd, "/a"); err != nil {
		t.Fatalf("Remove(/a) error = %v", err)
	}

	got := make([]byte, len(want))
	if err := h.Seek(0); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if _, err := h.Read(got); err != nil {
		t.Fatalf("Read() on removed-but-open handle error = %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("Read() = %q, want %q", got, want)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := fs.Open(cwd, "/a"); !errors.Is(err, fserrors.ErrNotFound) {
		t.Errorf("Open(/a) after final close error = %v, want ErrNotFound", err)
	}
}

func TestMountRoundTrip(t *testing.T) {
	b := memory.New(128)
	fs, err := fsys.Format(b, quietLog())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	cwd, err := fs.RootCwd()
	if err != nil {
		t.Fatalf("RootCwd() error = %v", err)
	}
	if err := fs.Create(cwd, "/persisted", 42, false); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := fs.CloseCwd(cwd); err != nil {
		t.Fatalf("CloseCwd() error = %v", err)
	}
	if err := fs.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}

	remounted, err := fsys.Open(b, quietLog(), fsys.Options{})
	if err != nil {
		t.Fatalf("Open() (mount) error = %v", err)
	}
	cwd2, err := remounted.RootCwd()
	if err != nil {
		t.Fatalf("RootCwd() error = %v", err)
	}
	defer remounted.CloseCwd(cwd2)

	h, err := remounted.Open(cwd2, "/persisted")
	if err != nil {
		t.Fatalf("Open(/persisted) after remount error = %v", err)
	}
	defer h.Close()
	if h.Length() != 42 {
		t.Errorf("Length() after remount = %d, want 42", h.Length())
	}
}

func TestReadOnlyMountRejectsMutation(t *testing.T) {
	b := memory.New(64)
	fs, err := fsys.Format(b, quietLog())
	if err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	cwd, err := fs.RootCwd()
	if err != nil {
		t.Fatalf("RootCwd() error = %v", err)
	}
	if err := fs.Create(cwd, "/f", 0, false); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	fs.CloseCwd(cwd)
	fs.Done()

	ro, err := fsys.Open(b, quietLog(), fsys.Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("Open(read-only) error = %v", err)
	}
	roCwd, err := ro.RootCwd()
	if err != nil {
		t.Fatalf("RootCwd() error = %v", err)
	}
	defer ro.CloseCwd(roCwd)

	if err := ro.Create(roCwd, "/g", 0, false); !errors.Is(err, fserrors.ErrReadOnly) {
		t.Errorf("Create() on read-only mount error = %v, want ErrReadOnly", err)
	}
	if err := ro.Remove(roCwd, "/f"); !errors.Is(err, fserrors.ErrReadOnly) {
		t.Errorf("Remove() on read-only mount error = %v, want ErrReadOnly", err)
	}

	h, err := ro.Open(roCwd, "/f")
	if err != nil {
		t.Fatalf("Open(/f) on read-only mount error = %v", err)
	}
	h.Close()
}
