package shutdownqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddNilTaskIsIgnored(t *testing.T) {
	t.Parallel()

	q := New()
	q.Add("nil", nil)

	err := q.Shutdown(t.Context())
	if err != nil {
		t.Fatalf("expected nil after adding nil task; got %v", err)
	}
}

func TestLIFOOrder(t *testing.T) {
	t.Parallel()

	var (
		orderMu sync.Mutex
		order   []int
	)

	makeTask := func(n int) Task {
		return func(ctx context.Context) error {
			orderMu.Lock()
			order = append(order, n)
			orderMu.Unlock()

			return nil
		}
	}

	q := New()
	for i := 1; i <= 3; i++ {
		q.Add("task", makeTask(i))
	}

	err := q.Shutdown(t.Context())
	if err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order len mismatch: got %v, want %v", order, want)
	}

	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v, want %v", i, order, want)
		}
	}
}

func TestPanicRecoveryNamesTaskAndContinues(t *testing.T) {
	t.Parallel()

	var ranAfterPanic atomic.Bool

	q := New()
	q.Add("ledger", func(ctx context.Context) error {
		ranAfterPanic.Store(true)
		return nil
	})
	q.Add("store", func(ctx context.Context) error { panic("boom") })

	shErr := q.Shutdown(t.Context())
	if shErr == nil {
		t.Fatalf("expected aggregated error with panic; got nil")
	}

	if !strings.Contains(shErr.Error(), `panic in shutdown task "store": boom`) {
		t.Fatalf("expected panic message in error; got: %q", shErr.Error())
	}

	if !ranAfterPanic.Load() {
		t.Fatalf("expected tasks after the panic to still run")
	}
}

func TestEarlyCancelStopsDrain(t *testing.T) {
	t.Parallel()

	errA := errors.New("taskA")

	var ranB atomic.Bool

	gateReady := make(chan struct{})

	q := New()
	q.Add("a", func(ctx context.Context) error { return errA })
	q.Add("b", func(ctx context.Context) error {
		ranB.Store(true)
		return nil
	})
	q.Add("gate", func(ctx context.Context) error {
		close(gateReady)
		<-ctx.Done()

		return nil
	})

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)

	go func() {
		errCh <- q.Shutdown(ctx)
	}()

	<-gateReady
	cancel()

	shErr := <-errCh
	if !errors.Is(shErr, context.Canceled) {
		t.Fatalf("expected errors.Is(err, context.Canceled); got: %v", shErr)
	}

	if !strings.Contains(shErr.Error(), `before "b"`) {
		t.Fatalf("expected the skipped task to be named; got: %v", shErr)
	}

	if ranB.Load() {
		t.Fatalf("expected task b not to run after cancel")
	}

	if errors.Is(shErr, errA) {
		t.Fatalf("did not expect joined error to include taskA")
	}
}

func TestIdempotentAndRunsOnce(t *testing.T) {
	t.Parallel()

	var count atomic.Int32

	q := New()
	q.Add("count", func(ctx context.Context) error {
		count.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := range 2 {
		err := q.Shutdown(ctx)
		if err != nil {
			t.Fatalf("Shutdown #%d error: %v", i+1, err)
		}
	}

	if got := count.Load(); got != 1 {
		t.Fatalf("expected count=1; got %d", got)
	}
}

func TestAddDuringShutdownIsIgnored(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	unblock := make(chan struct{})

	q := New()
	q.Add("noop", func(ctx context.Context) error { return nil })
	q.Add("blocker", func(ctx context.Context) error {
		close(started)
		<-unblock

		return nil
	})

	done := make(chan struct{})

	go func() {
		_ = q.Shutdown(context.Background())

		close(done)
	}()

	<-started

	var ran atomic.Bool
	q.Add("late", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	close(unblock)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown did not finish")
	}

	if ran.Load() {
		t.Fatalf("task added after shutdown should not run")
	}
}

func TestTaskErrorsAreJoinedAndNamed(t *testing.T) {
	t.Parallel()

	err1 := errors.New("alpha")
	err2 := errors.New("beta")

	q := New()
	q.Add("first", func(ctx context.Context) error { return err1 })
	q.Add("second", Closer(func() error { return err2 }))

	shErr := q.Shutdown(t.Context())
	if !errors.Is(shErr, err1) || !errors.Is(shErr, err2) {
		t.Fatalf("expected joined error to contain both; got: %v", shErr)
	}

	s := shErr.Error()
	if !strings.Contains(s, "shutdown first: alpha") || !strings.Contains(s, "shutdown second: beta") {
		t.Fatalf("expected task names in error; got: %q", s)
	}
}

func TestQueuesAreIndependent(t *testing.T) {
	t.Parallel()

	var ran atomic.Bool

	a, b := New(), New()
	b.Add("b", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	err := a.Shutdown(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ran.Load() {
		t.Fatalf("draining one queue ran another queue's task")
	}
}
