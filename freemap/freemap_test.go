package freemap_test

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/minifs/filesys/backend/memory"
	"github.com/minifs/filesys/freemap"
	"github.com/minifs/filesys/inode"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestBootstrapReservesFixedSectors(t *testing.T) {
	b := memory.New(64)
	m := freemap.New(64)
	store := inode.NewStore(b, m, quietLog())
	if err := m.Bootstrap(store); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	for _, sec := range []uint32{0, 1, 2} {
		used, err := m.IsUsed(sec)
		if err != nil {
			t.Fatalf("IsUsed(%d) error = %v", sec, err)
		}
		if !used {
			t.Errorf("IsUsed(%d) = false, want true (bootstrap sector)", sec)
		}
	}
}

func TestAllocateAndRelease(t *testing.T) {
	b := memory.New(64)
	m := freemap.New(64)
	store := inode.NewStore(b, m, quietLog())
	if err := m.Bootstrap(store); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	before := m.FreeCount()
	sec, ok := m.Allocate(1)
	if !ok {
		t.Fatalf("Allocate(1) failed")
	}
	if used, _ := m.IsUsed(sec); !used {
		t.Errorf("IsUsed(%d) = false after Allocate", sec)
	}
	if got := m.FreeCount(); got != before-1 {
		t.Errorf("FreeCount() = %d, want %d", got, before-1)
	}

	m.Release(sec, 1)
	if used, _ := m.IsUsed(sec); used {
		t.Errorf("IsUsed(%d) = true after Release", sec)
	}
	if got := m.FreeCount(); got != before {
		t.Errorf("FreeCount() after release = %d, want %d", got, before)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	b := memory.New(8)
	m := freemap.New(8)
	store := inode.NewStore(b, m, quietLog())
	if err := m.Bootstrap(store); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	var got []uint32
	for {
		sec, ok := m.Allocate(1)
		if !ok {
			break
		}
		got = append(got, sec)
	}
	if m.FreeCount() != 0 {
		t.Errorf("FreeCount() = %d, want 0 once exhausted", m.FreeCount())
	}
	if _, ok := m.Allocate(1); ok {
		t.Errorf("Allocate(1) succeeded on an exhausted map")
	}
	for _, sec := range got {
		m.Release(sec, 1)
	}
	if m.FreeCount() != len(got) {
		t.Errorf("FreeCount() after releasing all = %d, want %d", m.FreeCount(), len(got))
	}
}

func TestOpenRoundTrip(t *testing.T) {
	b := memory.New(64)
	m := freemap.New(64)
	store := inode.NewStore(b, m, quietLog())
	if err := m.Bootstrap(store); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	sec, ok := m.Allocate(3)
	if !ok {
		t.Fatalf("Allocate(3) failed")
	}

	reopened, err := freemap.Open(store, 64)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := uint32(0); i < 3; i++ {
		used, err := reopened.IsUsed(sec + i)
		if err != nil {
			t.Fatalf("IsUsed(%d) error = %v", sec+i, err)
		}
		if !used {
			t.Errorf("IsUsed(%d) = false after reopening, want true", sec+i)
		}
	}
}
