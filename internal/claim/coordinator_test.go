package claim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore mimics the store's compare-and-set with a mutex.
type fakeStore struct {
	mu           sync.Mutex
	claimedUntil map[string]time.Time
	err          error
	calls        int
}

func (f *fakeStore) Claim(_ context.Context, id string, now time.Time, lease time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	if until, ok := f.claimedUntil[id]; ok && until.After(now) {
		return false, nil
	}
	f.claimedUntil[id] = now.Add(lease)
	return true, nil
}

func TestCoordinator_ExactlyOneConcurrentWinner(t *testing.T) {
	store := &fakeStore{claimedUntil: map[string]time.Time{}}
	fixed := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	c := NewCoordinator(store, time.Minute)
	c.now = func() time.Time { return fixed }

	var mu sync.Mutex
	wins := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.Claim(context.Background(), "entry-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", wins)
	}
}

func TestCoordinator_LeaseExpiryAllowsReclaim(t *testing.T) {
	store := &fakeStore{claimedUntil: map[string]time.Time{}}
	current := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	c := NewCoordinator(store, 5*time.Minute)
	c.now = func() time.Time { return current }

	if ok, _ := c.Claim(context.Background(), "entry-1"); !ok {
		t.Fatalf("expected first claim to succeed")
	}

	current = current.Add(4 * time.Minute)
	if ok, _ := c.Claim(context.Background(), "entry-1"); ok {
		t.Fatalf("expected claim inside lease to fail")
	}

	current = current.Add(time.Minute)
	if ok, _ := c.Claim(context.Background(), "entry-1"); !ok {
		t.Fatalf("expected claim after lease expiry to succeed")
	}

	if c.Lease() != 5*time.Minute {
		t.Errorf("expected lease 5m, got %v", c.Lease())
	}
}

func TestCoordinator_StoreErrorIsWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewCoordinator(&fakeStore{claimedUntil: map[string]time.Time{}, err: boom}, time.Minute)

	ok, err := c.Claim(context.Background(), "entry-1")
	if ok {
		t.Fatalf("expected no claim on error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}
