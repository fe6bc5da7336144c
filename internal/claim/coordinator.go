// Package claim guards against two dispatchers working the same entry.
package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/onurcolak/sequence-dialer/pkg/logger"
	"github.com/onurcolak/sequence-dialer/pkg/metrics"
)

// claimer is the compare-and-set the store performs in a single conditional write.
type claimer interface {
	Claim(ctx context.Context, id string, now time.Time, lease time.Duration) (bool, error)
}

// Coordinator hands out time-bounded leases on entries. A lease that is never
// released simply expires, after which the entry is claimable again.
type Coordinator struct {
	store claimer
	lease time.Duration
	now   func() time.Time
}

func NewCoordinator(store claimer, lease time.Duration) *Coordinator {
	return &Coordinator{store: store, lease: lease, now: time.Now}
}

// Claim reports whether the caller now exclusively owns entryID for the lease duration.
func (c *Coordinator) Claim(ctx context.Context, entryID string) (bool, error) {
	ok, err := c.store.Claim(ctx, entryID, c.now(), c.lease)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", entryID, err)
	}

	if !ok {
		metrics.ClaimContention.Inc()
		logger.Debugf("Entry %s already claimed or no longer ready", entryID)
	}

	return ok, nil
}

func (c *Coordinator) Lease() time.Duration {
	return c.lease
}
