package callerid

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dialcast/dialcast/internal/store/memstore"
)

func newTestService(ttl time.Duration) *Service {
	return NewService(memstore.New(), ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAcquireRejectsDifferentReference(t *testing.T) {
	svc := newTestService(time.Minute)
	ctx := context.Background()

	ok, err := svc.Acquire(ctx, "+15551230001", "agent-1", "ref-1")
	if err != nil || !ok {
		t.Fatalf("first acquire: got (%v, %v), want (true, nil)", ok, err)
	}

	available, err := svc.IsAvailable(ctx, "+15551230001")
	if err != nil {
		t.Fatalf("is available: %v", err)
	}
	if available {
		t.Error("number reported available while locked")
	}

	ok, err = svc.Acquire(ctx, "+15551230001", "agent-2", "ref-2")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Error("acquire under a different reference succeeded, want busy")
	}
}

func TestAcquireSameReferenceRefreshes(t *testing.T) {
	svc := newTestService(time.Minute)
	ctx := context.Background()

	if ok, _ := svc.Acquire(ctx, "+15551230002", "agent-1", "ref-1"); !ok {
		t.Fatal("first acquire failed")
	}
	before, _ := svc.store.Get(ctx, "+15551230002")

	time.Sleep(5 * time.Millisecond)
	ok, err := svc.Acquire(ctx, "+15551230002", "agent-1", "ref-1")
	if err != nil || !ok {
		t.Fatalf("refresh acquire: got (%v, %v), want (true, nil)", ok, err)
	}

	after, _ := svc.store.Get(ctx, "+15551230002")
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Errorf("expiry not extended: before %v, after %v", before.ExpiresAt, after.ExpiresAt)
	}
}

func TestLockExpiry(t *testing.T) {
	svc := newTestService(15 * time.Millisecond)
	ctx := context.Background()

	if ok, _ := svc.Acquire(ctx, "+15551230003", "agent-1", "ref-1"); !ok {
		t.Fatal("acquire failed")
	}
	time.Sleep(40 * time.Millisecond)

	available, err := svc.IsAvailable(ctx, "+15551230003")
	if err != nil {
		t.Fatalf("is available: %v", err)
	}
	if !available {
		t.Error("number still unavailable after TTL elapsed")
	}

	ok, err := svc.Acquire(ctx, "+15551230003", "agent-2", "ref-2")
	if err != nil || !ok {
		t.Errorf("acquire after expiry: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestConcurrentAcquireSingleHolder(t *testing.T) {
	svc := newTestService(time.Minute)
	ctx := context.Background()

	const callers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := svc.Acquire(ctx, "+15551230004", "agent-1", fmt.Sprintf("ref-%d", i))
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("got %d holders, want exactly 1", won)
	}
}

func TestReleaseAndRebind(t *testing.T) {
	svc := newTestService(time.Minute)
	ctx := context.Background()

	if ok, _ := svc.Acquire(ctx, "+15551230005", "agent-1", "pending-1"); !ok {
		t.Fatal("acquire failed")
	}

	ok, err := svc.Rebind(ctx, "pending-1", "CA42")
	if err != nil || !ok {
		t.Fatalf("rebind: got (%v, %v), want (true, nil)", ok, err)
	}

	// The number stays locked across the rebind.
	if ok, _ := svc.Acquire(ctx, "+15551230005", "agent-2", "ref-other"); ok {
		t.Error("number lockable during rebound lock")
	}

	ok, err = svc.Release(ctx, "CA42")
	if err != nil || !ok {
		t.Fatalf("release: got (%v, %v), want (true, nil)", ok, err)
	}
	if ok, _ := svc.Release(ctx, "CA42"); ok {
		t.Error("second release reported a live lock")
	}

	available, _ := svc.IsAvailable(ctx, "+15551230005")
	if !available {
		t.Error("number unavailable after release")
	}
}

func TestListByHolder(t *testing.T) {
	svc := newTestService(time.Minute)
	ctx := context.Background()

	svc.Acquire(ctx, "+15551230006", "agent-1", "ref-a")
	svc.Acquire(ctx, "+15551230007", "agent-1", "ref-b")
	svc.Acquire(ctx, "+15551230008", "agent-2", "ref-c")

	locks, err := svc.ListByHolder(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locks) != 2 {
		t.Errorf("got %d locks for agent-1, want 2", len(locks))
	}
}

func TestStartSweepStopsOnCancel(t *testing.T) {
	svc := newTestService(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	svc.StartSweep(ctx, 5*time.Millisecond)
	svc.Acquire(ctx, "+15551230009", "agent-1", "ref-1")
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)

	available, err := svc.IsAvailable(context.Background(), "+15551230009")
	if err != nil {
		t.Fatalf("is available: %v", err)
	}
	if !available {
		t.Error("expired lock survived the sweep")
	}
}
