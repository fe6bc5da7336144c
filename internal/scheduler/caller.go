package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onurcolak/sequence-dialer/internal/businesshours"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/repository"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
	"github.com/onurcolak/sequence-dialer/pkg/metrics"
)

// entrySource is the slice of the store a tick needs. Keeping it small lets
// ticks be tested against fakes or the embedded store alike.
type entrySource interface {
	FindReady(ctx context.Context, now time.Time, limit int) ([]domain.SequenceEntry, error)
	ApplyOutcome(
		ctx context.Context,
		id string,
		outcome domain.DispatchOutcome,
		campaign domain.Campaign,
		now time.Time,
	) (*domain.SequenceEntry, error)
	Reschedule(ctx context.Context, id string, next, now time.Time) (bool, error)
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	GetTarget(ctx context.Context, id string) (*domain.Target, error)
}

type entryClaimer interface {
	Claim(ctx context.Context, entryID string) (bool, error)
}

type singleDialer interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DialResponse, error)
}

type dispatchCache interface {
	CacheDispatch(ctx context.Context, record domain.DispatchRecord) error
}

// Caller dispatches ready entries one at a time and applies each outcome as
// soon as the dialer answers.
type Caller struct {
	store     entrySource
	claims    entryClaimer
	dialer    singleDialer
	cache     dispatchCache
	batchSize int
	now       func() time.Time
}

func NewCaller(store entrySource, claims entryClaimer, dialer singleDialer, batchSize int) *Caller {
	return &Caller{
		store:     store,
		claims:    claims,
		dialer:    dialer,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// WithCache records accepted dispatches in cache.
func (c *Caller) WithCache(cache dispatchCache) *Caller {
	c.cache = cache
	return c
}

// Tick processes up to batchSize ready entries, oldest due first. Failures
// are isolated per entry; only a failed fetch fails the tick.
func (c *Caller) Tick(ctx context.Context, run int64) (TickStats, error) {
	var stats TickStats

	entries, err := c.store.FindReady(ctx, c.now(), c.batchSize)
	if err != nil {
		return stats, fmt.Errorf("find ready entries: %w", err)
	}

	if len(entries) == 0 {
		logger.Debugf("[%s #%d] No ready entries", ModeCaller, run)
		return stats, nil
	}

	lookups := newTickLookups(c.store)

	for _, entry := range entries {
		if ctx.Err() != nil {
			logger.Warnf("[%s #%d] Tick cancelled, %d entries left for the next tick",
				ModeCaller, run, len(entries)-stats.Processed)
			break
		}

		stats.Processed++
		metrics.EntriesProcessed.WithLabelValues(ModeCaller).Inc()

		c.process(ctx, run, entry, lookups, &stats)
	}

	return stats, nil
}

func (c *Caller) process(ctx context.Context, run int64, entry domain.SequenceEntry, lookups *tickLookups, stats *TickStats) {
	campaign, target, ok := lookups.eligible(ctx, run, ModeCaller, entry, c.now(), stats)
	if !ok {
		return
	}

	claimed, err := c.claims.Claim(ctx, entry.ID)
	if err != nil {
		stats.Errors++
		logger.Errorf("[%s #%d] %v", ModeCaller, run, err)
		return
	}
	if !claimed {
		stats.Skipped++
		return
	}

	req := newDispatchRequest(entry, campaign, target)

	stats.Dispatched++
	metrics.DispatchesInitiated.WithLabelValues(ModeCaller).Inc()

	var outcome domain.DispatchOutcome

	resp, err := c.dialer.Dispatch(ctx, req)
	switch {
	case err != nil:
		stats.Failed++
		metrics.DispatchErrors.WithLabelValues(ModeCaller).Inc()
		logger.Warnf("[%s #%d] Dispatch of entry %s failed: %v", ModeCaller, run, entry.ID, err)
	case !resp.Success:
		stats.Failed++
		metrics.DispatchErrors.WithLabelValues(ModeCaller).Inc()
		logger.Warnf("[%s #%d] Dialer rejected entry %s: %s", ModeCaller, run, entry.ID, resp.Message)
	default:
		outcome.Successful = true
		c.cacheDispatch(ctx, domain.DispatchRecord{
			EntryID:      entry.ID,
			TrackingID:   req.TrackingID,
			CallID:       resp.CallID,
			Attempt:      req.Attempt,
			DispatchedAt: c.now(),
		})
	}

	updated, err := c.store.ApplyOutcome(ctx, entry.ID, outcome, *campaign, c.now())
	if err != nil {
		if errors.Is(err, repository.ErrTransitionConflict) {
			logger.Infof("[%s #%d] Entry %s changed while dialing, keeping the newer state", ModeCaller, run, entry.ID)
			return
		}
		stats.Errors++
		logger.Errorf("[%s #%d] Failed to apply outcome for entry %s: %v", ModeCaller, run, entry.ID, err)
		return
	}

	logger.Debugf("[%s #%d] Entry %s -> %s (attempt %d)", ModeCaller, run, updated.ID, updated.Status, updated.CurrentAttempt)
}

func (c *Caller) cacheDispatch(ctx context.Context, record domain.DispatchRecord) {
	if c.cache == nil {
		return
	}
	if err := c.cache.CacheDispatch(ctx, record); err != nil {
		logger.Warnf("Failed to cache dispatch for entry %s: %v", record.EntryID, err)
	}
}

func newDispatchRequest(entry domain.SequenceEntry, campaign *domain.Campaign, target *domain.Target) domain.DispatchRequest {
	return domain.DispatchRequest{
		EntryID:     entry.ID,
		CampaignID:  entry.CampaignID,
		PhoneNumber: target.PhoneNumber,
		Attempt:     entry.CurrentAttempt + 1,
		TrackingID:  uuid.NewString(),
		AgentID:     campaign.AgentID,
	}
}

// tickLookups caches campaigns for the duration of one tick and loads targets.
type tickLookups struct {
	store     entrySource
	campaigns map[string]*domain.Campaign
}

func newTickLookups(store entrySource) *tickLookups {
	return &tickLookups{store: store, campaigns: make(map[string]*domain.Campaign)}
}

func (t *tickLookups) campaign(ctx context.Context, id string) (*domain.Campaign, error) {
	if c, ok := t.campaigns[id]; ok {
		return c, nil
	}

	c, err := t.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}

	t.campaigns[id] = c
	return c, nil
}

// eligible loads the entry's campaign and target and re-checks everything
// that rules out a dispatch at now. Lookup failures count as errors, rule-outs
// as skips. An entry that is due outside its calling window is moved to the
// next window start so it stops holding a place at the head of the queue.
func (t *tickLookups) eligible(
	ctx context.Context,
	run int64,
	mode string,
	entry domain.SequenceEntry,
	now time.Time,
	stats *TickStats,
) (*domain.Campaign, *domain.Target, bool) {
	campaign, err := t.campaign(ctx, entry.CampaignID)
	if err != nil {
		stats.Errors++
		logger.Errorf("[%s #%d] Failed to load campaign %s for entry %s: %v", mode, run, entry.CampaignID, entry.ID, err)
		return nil, nil, false
	}

	target, err := t.store.GetTarget(ctx, entry.TargetID)
	if err != nil {
		stats.Errors++
		logger.Errorf("[%s #%d] Failed to load target %s for entry %s: %v", mode, run, entry.TargetID, entry.ID, err)
		return nil, nil, false
	}

	if reason := skipReason(entry, campaign, target); reason != "" {
		stats.Skipped++
		logger.Debugf("[%s #%d] Skipping entry %s: %s", mode, run, entry.ID, reason)
		return nil, nil, false
	}

	if !businesshours.IsWithinWindow(now, campaign.BusinessHours) {
		t.deferToWindow(ctx, run, mode, entry, campaign, now, stats)
		return nil, nil, false
	}

	return campaign, target, true
}

func (t *tickLookups) deferToWindow(
	ctx context.Context,
	run int64,
	mode string,
	entry domain.SequenceEntry,
	campaign *domain.Campaign,
	now time.Time,
	stats *TickStats,
) {
	next := businesshours.NextWindowStart(now, campaign.BusinessHours)

	moved, err := t.store.Reschedule(ctx, entry.ID, next, now)
	if err != nil {
		stats.Errors++
		logger.Errorf("[%s #%d] Failed to move entry %s into the calling window: %v", mode, run, entry.ID, err)
		return
	}

	stats.Skipped++
	if moved {
		metrics.EntriesDeferred.WithLabelValues(mode).Inc()
		logger.Infof("[%s #%d] Entry %s is outside business hours (%s), next call at %s",
			mode, run, entry.ID, businesshours.Format(campaign.BusinessHours), next.Format(time.RFC3339))
	}
}

func skipReason(entry domain.SequenceEntry, campaign *domain.Campaign, target *domain.Target) string {
	switch {
	case target.DoNotContact:
		return "target is do-not-contact"
	case target.ContactDoNotContact:
		return "contact is do-not-contact"
	case campaign.Paused:
		return "campaign paused"
	case entry.CurrentAttempt >= campaign.MaxAttempts:
		return "max attempts already reached"
	default:
		return ""
	}
}
