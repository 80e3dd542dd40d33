package device

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/banshee-data/serialdebug/internal/testutil"
)

func TestPool_RefCount(t *testing.T) {
	pool := NewPool()
	dev, ch := newTestDevice("")

	ref1 := pool.Register(dev)
	if got := ref1.RC(); got != 1 {
		t.Fatalf("rc after register = %d, want 1", got)
	}

	ref2 := ref1.Clone()
	if got := ref1.RC(); got != 2 {
		t.Fatalf("rc after clone = %d, want 2", got)
	}

	testutil.AssertNoError(t, ref1.Release())
	if got := ref2.RC(); got != 1 {
		t.Fatalf("rc after first release = %d, want 1", got)
	}
	if ch.CloseCalls() != 0 {
		t.Fatal("device closed while a reference is outstanding")
	}

	testutil.AssertNoError(t, ref2.Release())
	if got := ref1.RC(); got != 0 {
		t.Fatalf("rc after last release = %d, want 0", got)
	}
	if ch.CloseCalls() != 1 {
		t.Errorf("channel closed %d times, want 1", ch.CloseCalls())
	}
	if pool.Len() != 0 {
		t.Errorf("pool has %d entries after teardown", pool.Len())
	}
}

func TestPool_ReleaseIsIdempotentPerRef(t *testing.T) {
	pool := NewPool()
	dev, _ := newTestDevice("")
	ref := pool.Register(dev)
	other := ref.Clone()

	_ = ref.Release()
	_ = ref.Release()
	if got := other.RC(); got != 1 {
		t.Errorf("double release on one Ref dropped rc to %d", got)
	}
	_ = other.Release()
}

func TestPool_UnknownHandles(t *testing.T) {
	pool := NewPool()

	if pool.Duplicate(42) {
		t.Error("Duplicate on unknown id should report false")
	}
	if dev := pool.Release(42); dev != nil {
		t.Error("Release on unknown id returned a device")
	}
	if pool.Count(42) != 0 {
		t.Error("Count on unknown id should be 0")
	}
	if _, ok := pool.Adopt(42); ok {
		t.Error("Adopt on unknown id should fail")
	}
	if _, ok := WithDevice(pool, 42, func(*Device) int { return 1 }); ok {
		t.Error("WithDevice on unknown id should report false")
	}
}

func TestPool_CloneOfReleasedRef(t *testing.T) {
	pool := NewPool()
	dev, _ := newTestDevice("")
	ref := pool.Register(dev)
	keep := ref.Clone()
	_ = ref.Release()

	clone := ref.Clone()
	if !clone.Released() {
		t.Error("clone of a released ref should be released")
	}
	if got := keep.RC(); got != 1 {
		t.Errorf("rc = %d, want 1", got)
	}
	_ = keep.Release()
}

func TestPool_Adopt(t *testing.T) {
	pool := NewPool()
	dev, ch := newTestDevice("")
	ref := pool.Register(dev)

	adopted, ok := pool.Adopt(ref.ID())
	if !ok {
		t.Fatal("Adopt failed for live id")
	}
	if ref.RC() != 2 {
		t.Errorf("rc after adopt = %d, want 2", ref.RC())
	}
	_ = ref.Release()
	_ = adopted.Release()
	if ch.CloseCalls() != 1 {
		t.Errorf("close calls = %d", ch.CloseCalls())
	}
}

func TestPool_ReleaseIfLast(t *testing.T) {
	pool := NewPool()
	dev, ch := newTestDevice("")
	ref := pool.Register(dev)
	other := ref.Clone()

	released, err := ref.ReleaseIfLast()
	testutil.AssertNoError(t, err)
	if released {
		t.Fatal("ReleaseIfLast released while another holder exists")
	}

	_ = other.Release()
	released, err = ref.ReleaseIfLast()
	testutil.AssertNoError(t, err)
	if !released || !ref.Released() {
		t.Fatal("ReleaseIfLast did not release the sole holder")
	}
	if ch.CloseCalls() != 1 {
		t.Errorf("close calls = %d, want 1", ch.CloseCalls())
	}
	if released, _ := ref.ReleaseIfLast(); released {
		t.Error("ReleaseIfLast on a released ref should report false")
	}
}

func TestPool_LiveAndName(t *testing.T) {
	pool := NewPool()
	a := pool.Register(New("a", testutil.NewFakeChannel(""), testutil.FakeConfig{DeviceName: "a"}))
	b := pool.Register(New("b", testutil.NewFakeChannel(""), testutil.FakeConfig{DeviceName: "b"}))

	live := pool.Live()
	if len(live) != 2 || live[0] != a.ID() || live[1] != b.ID() {
		t.Fatalf("Live() = %v", live)
	}
	if name, ok := pool.Name(b.ID()); !ok || name != "b" {
		t.Errorf("Name(b) = %q, %v", name, ok)
	}

	_ = a.Release()
	if live := pool.Live(); len(live) != 1 || live[0] != b.ID() {
		t.Errorf("Live() after release = %v", live)
	}
	_ = b.Release()
}

func TestPool_WithDevice(t *testing.T) {
	pool := NewPool()
	dev, _ := newTestDevice("hello")
	ref := pool.Register(dev)
	defer ref.Release()

	n, ok := WithDevice(pool, ref.ID(), func(d *Device) int {
		avail, _ := d.Available()
		return avail
	})
	if !ok || n != 5 {
		t.Errorf("WithDevice = %d, %v", n, ok)
	}

	var got []byte
	ok, err := ref.Use(func(d *Device) error {
		var err error
		got, err = d.ReadAvailable()
		return err
	})
	if !ok || err != nil || string(got) != "hello" {
		t.Errorf("Use = %v, %v, %q", ok, err, got)
	}
}

// For any sequence of clones and releases the count is 1 + clones - releases
// (never negative), and the channel closes exactly once at the 1 -> 0 step.
func TestPool_RefCountSequences(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 200; trial++ {
		pool := NewPool()
		dev, ch := newTestDevice("")
		refs := []*Ref{pool.Register(dev)}
		want := 1
		closedAt := -1

		for step := 0; step < 40; step++ {
			if len(refs) > 0 && rng.IntN(2) == 0 {
				i := rng.IntN(len(refs))
				_ = refs[i].Release()
				refs = append(refs[:i], refs[i+1:]...)
				want--
				if want == 0 && closedAt < 0 {
					closedAt = step
				}
			} else if len(refs) > 0 {
				refs = append(refs, refs[rng.IntN(len(refs))].Clone())
				want++
			}
			if got := pool.Count(0); got != want {
				t.Fatalf("trial %d step %d: count = %d, want %d", trial, step, got, want)
			}
		}

		wantCloses := 0
		if closedAt >= 0 {
			wantCloses = 1
		}
		if ch.CloseCalls() != wantCloses {
			t.Fatalf("trial %d: close calls = %d, want %d", trial, ch.CloseCalls(), wantCloses)
		}
		for _, r := range refs {
			_ = r.Release()
		}
	}
}

func TestPool_ConcurrentCloneRelease(t *testing.T) {
	pool := NewPool()
	dev, ch := newTestDevice("")
	root := pool.Register(dev)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c := root.Clone()
				_ = c.RC()
				_ = c.Release()
			}
		}()
	}
	wg.Wait()

	if got := root.RC(); got != 1 {
		t.Fatalf("rc after concurrent churn = %d, want 1", got)
	}
	if ch.CloseCalls() != 0 {
		t.Fatal("device closed during churn")
	}
	_ = root.Release()
	if ch.CloseCalls() != 1 {
		t.Errorf("close calls = %d, want 1", ch.CloseCalls())
	}
}
