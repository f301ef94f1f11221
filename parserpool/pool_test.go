package parserpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTakePlace(t *testing.T) {
	n := 0
	p := New(2, func() int { n++; return n })
	ctx := context.Background()

	a, err := p.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("took the same instance twice: %d", a)
	}
	if p.Available() != 0 {
		t.Fatalf("available = %d, want 0", p.Available())
	}
	if err := p.Place(ctx, a); err != nil {
		t.Fatal(err)
	}
	if p.Available() != 1 {
		t.Fatalf("available = %d, want 1", p.Available())
	}
}

func TestTake_BlocksUntilPlace(t *testing.T) {
	// WHAT: A Take on an empty pool waits for the next Place.
	// WHY: The tokenizer is not goroutine-safe; borrowers must serialize.
	p := New(1, func() string { return "tok" })
	ctx := context.Background()
	held, _ := p.Take(ctx)

	got := make(chan string, 1)
	go func() {
		v, err := p.Take(ctx)
		if err == nil {
			got <- v
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("Take returned while the only instance was borrowed")
	case <-time.After(50 * time.Millisecond):
	}
	p.Place(ctx, held)
	if v := <-got; v != "tok" {
		t.Fatalf("waiter got %q", v)
	}
}

func TestTake_Interrupted(t *testing.T) {
	// WHAT: A cancelled wait fails with ErrInterrupted and leaves the pool intact.
	// WHY: An interrupted job cycle must not leak a slot it never held.
	p := New(1, func() int { return 1 })
	held, _ := p.Take(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Take(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Take: got %v, want ErrInterrupted", err)
	}
	p.Place(context.Background(), held)
	if p.Available() != 1 {
		t.Fatalf("available = %d, want 1", p.Available())
	}
}

func TestClear(t *testing.T) {
	p := New(3, func() int { return 0 })
	held, _ := p.Take(context.Background())

	waiterErr := make(chan error, 1)
	p2 := New(1, func() int { return 0 })
	p2.Take(context.Background())
	go func() {
		_, err := p2.Take(context.Background())
		waiterErr <- err
	}()
	time.Sleep(10 * time.Millisecond)
	p2.Clear()
	if err := <-waiterErr; !errors.Is(err, ErrClosed) {
		t.Fatalf("pending Take after Clear: got %v, want ErrClosed", err)
	}

	p.Clear()
	if p.Available() != 0 {
		t.Fatalf("available after Clear = %d", p.Available())
	}
	if _, err := p.Take(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Take after Clear: got %v", err)
	}
	if err := p.Place(context.Background(), held); !errors.Is(err, ErrClosed) {
		t.Fatalf("Place after Clear: got %v", err)
	}
	p.Clear()
}

func TestWith_ConcurrentExclusive(t *testing.T) {
	// WHAT: No instance is ever used by two goroutines at once.
	type inst struct{ busy atomic.Bool }
	p := New(SizeFor(4), func() *inst { return &inst{} })

	var wg sync.WaitGroup
	var overlaps atomic.Int32
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.With(context.Background(), func(i *inst) error {
				if !i.busy.CompareAndSwap(false, true) {
					overlaps.Add(1)
				}
				time.Sleep(time.Millisecond)
				i.busy.Store(false)
				return nil
			})
		}()
	}
	wg.Wait()
	if overlaps.Load() != 0 {
		t.Fatalf("%d overlapping uses", overlaps.Load())
	}
	if p.Available() != 3 {
		t.Fatalf("available = %d, want 3", p.Available())
	}
}

func TestSizeFor(t *testing.T) {
	if SizeFor(1) != 1 || SizeFor(0) != 1 || SizeFor(8) != 7 {
		t.Fatalf("SizeFor: %d %d %d", SizeFor(1), SizeFor(0), SizeFor(8))
	}
}
