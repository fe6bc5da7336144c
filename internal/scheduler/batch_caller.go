package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/repository"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
	"github.com/onurcolak/sequence-dialer/pkg/metrics"
)

type batchDialer interface {
	DispatchBatch(ctx context.Context, batchID string, recipients []domain.DispatchRequest) (*domain.BatchDialResponse, error)
	MaxBatchSize() int
}

type BatchOptions struct {
	MaxRecipients int
	ChunkSize     int
	MaxRounds     int
}

// BatchCaller claims ready entries in bulk and hands them to the dialer in
// chunks. Submission only starts dialing, so every submitted entry advances
// as an unsuccessful attempt; real success arrives through the terminal
// cleanup path keyed by phone number.
type BatchCaller struct {
	store  entrySource
	claims entryClaimer
	dialer batchDialer
	cache  dispatchCache
	opts   BatchOptions
	now    func() time.Time
}

func NewBatchCaller(store entrySource, claims entryClaimer, dialer batchDialer, opts BatchOptions) *BatchCaller {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 1
	}

	return &BatchCaller{
		store:  store,
		claims: claims,
		dialer: dialer,
		opts:   opts,
		now:    time.Now,
	}
}

// WithCache records submitted dispatches in cache.
func (b *BatchCaller) WithCache(cache dispatchCache) *BatchCaller {
	b.cache = cache
	return b
}

// chunkLimit is the configured chunk size capped by what the dialer accepts.
func (b *BatchCaller) chunkLimit() int {
	limit := b.opts.ChunkSize
	if dialerMax := b.dialer.MaxBatchSize(); dialerMax > 0 && (limit <= 0 || dialerMax < limit) {
		limit = dialerMax
	}
	if limit <= 0 {
		limit = 1
	}
	return limit
}

type claimedEntry struct {
	entry    domain.SequenceEntry
	campaign *domain.Campaign
	request  domain.DispatchRequest
}

// Tick runs up to MaxRounds rounds of fetch, claim and submit. It stops
// early once a round fetches fewer than MaxRecipients entries or claims none.
func (b *BatchCaller) Tick(ctx context.Context, run int64) (TickStats, error) {
	var stats TickStats

	lookups := newTickLookups(b.store)

	for round := 1; round <= b.opts.MaxRounds; round++ {
		if ctx.Err() != nil {
			logger.Warnf("[%s #%d] Tick cancelled before round %d", ModeBatch, run, round)
			break
		}

		fetched, claimed, err := b.round(ctx, run, round, lookups, &stats)
		if err != nil {
			if round == 1 {
				return stats, err
			}
			logger.Errorf("[%s #%d] Round %d aborted: %v", ModeBatch, run, round, err)
			break
		}

		if fetched < b.opts.MaxRecipients || claimed == 0 {
			break
		}
	}

	return stats, nil
}

func (b *BatchCaller) round(
	ctx context.Context,
	run int64,
	round int,
	lookups *tickLookups,
	stats *TickStats,
) (fetched, claimed int, err error) {
	now := b.now()

	entries, err := b.store.FindReady(ctx, now, b.opts.MaxRecipients)
	if err != nil {
		return 0, 0, fmt.Errorf("find ready entries: %w", err)
	}

	if len(entries) == 0 {
		logger.Debugf("[%s #%d] Round %d: no ready entries", ModeBatch, run, round)
		return 0, 0, nil
	}

	batch := make([]claimedEntry, 0, len(entries))

	for _, entry := range entries {
		stats.Processed++
		metrics.EntriesProcessed.WithLabelValues(ModeBatch).Inc()

		campaign, target, ok := lookups.eligible(ctx, run, ModeBatch, entry, now, stats)
		if !ok {
			continue
		}

		won, err := b.claims.Claim(ctx, entry.ID)
		if err != nil {
			stats.Errors++
			logger.Errorf("[%s #%d] %v", ModeBatch, run, err)
			continue
		}
		if !won {
			stats.Skipped++
			continue
		}

		batch = append(batch, claimedEntry{
			entry:    entry,
			campaign: campaign,
			request:  newDispatchRequest(entry, campaign, target),
		})
	}

	chunks := chunk(batch, b.chunkLimit())

	logger.Infof("[%s #%d] Round %d: fetched %d, claimed %d, submitting %d chunk(s)",
		ModeBatch, run, round, len(entries), len(batch), len(chunks))

	for i, c := range chunks {
		b.submit(ctx, run, i+1, len(chunks), c, stats)
	}

	return len(entries), len(batch), nil
}

// submit sends one chunk. A rejected chunk keeps its claims so the entries
// are retried once their lease expires.
func (b *BatchCaller) submit(ctx context.Context, run int64, index, total int, chunk []claimedEntry, stats *TickStats) {
	batchID := uuid.NewString()

	recipients := make([]domain.DispatchRequest, len(chunk))
	for i, c := range chunk {
		recipients[i] = c.request
	}

	stats.Dispatched += len(chunk)
	metrics.DispatchesInitiated.WithLabelValues(ModeBatch).Add(float64(len(chunk)))

	resp, err := b.dialer.DispatchBatch(ctx, batchID, recipients)
	if err != nil {
		stats.Failed += len(chunk)
		metrics.BatchChunks.WithLabelValues("failed").Inc()
		metrics.DispatchErrors.WithLabelValues(ModeBatch).Inc()
		logger.Errorf("[%s #%d] Chunk %d/%d (%d entries, batch %s) failed, entries stay claimed until lease expiry: %v",
			ModeBatch, run, index, total, len(chunk), batchID, err)
		return
	}

	metrics.BatchChunks.WithLabelValues("submitted").Inc()
	logger.Infof("[%s #%d] Chunk %d/%d submitted as batch %s (%d entries, %d accepted)",
		ModeBatch, run, index, total, resp.BatchID, len(chunk), resp.Accepted)

	// The dialer does not say which recipients it dropped, so every entry still
	// advances and the shortfall is reported as failed dispatches.
	if short := len(chunk) - resp.Accepted; short > 0 {
		stats.Failed += short
		metrics.DispatchErrors.WithLabelValues(ModeBatch).Add(float64(short))
		logger.Warnf("[%s #%d] Batch %s accepted %d of %d recipients, %d dropped by the dialer",
			ModeBatch, run, resp.BatchID, resp.Accepted, len(chunk), short)
	}

	submittedAt := b.now()

	for _, c := range chunk {
		_, err := b.store.ApplyOutcome(ctx, c.entry.ID, domain.DispatchOutcome{Successful: false}, *c.campaign, submittedAt)
		if err != nil {
			if errors.Is(err, repository.ErrTransitionConflict) {
				logger.Infof("[%s #%d] Entry %s changed after submission, keeping the newer state", ModeBatch, run, c.entry.ID)
				continue
			}
			stats.Errors++
			logger.Errorf("[%s #%d] Failed to apply outcome for entry %s: %v", ModeBatch, run, c.entry.ID, err)
			continue
		}

		if b.cache != nil {
			record := domain.DispatchRecord{
				EntryID:      c.entry.ID,
				TrackingID:   c.request.TrackingID,
				BatchID:      resp.BatchID,
				Attempt:      c.request.Attempt,
				DispatchedAt: submittedAt,
			}
			if err := b.cache.CacheDispatch(ctx, record); err != nil {
				logger.Warnf("Failed to cache dispatch for entry %s: %v", c.entry.ID, err)
			}
		}
	}
}

func chunk[T any](items []T, size int) [][]T {
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
