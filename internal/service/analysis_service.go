package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/ratelimit"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

const analyzerLimiterName = "analyzer"

// ErrAnalysisClosed is returned by Enqueue once Drain has started.
var ErrAnalysisClosed = errors.New("analysis service is draining")

type analyzerClient interface {
	Analyze(ctx context.Context, transcript domain.CallTranscript) (json.RawMessage, error)
}

type analysisStore interface {
	SaveAnalysis(ctx context.Context, analysis *domain.CallAnalysis) error
}

type analysisCache interface {
	CacheAnalysis(ctx context.Context, analysis domain.CallAnalysis) error
}

// AnalysisService feeds completed calls to the analyzer through the rate
// limiter and stores each result. It never blocks the dispatch path.
type AnalysisService struct {
	limiter *ratelimit.Limiter[domain.CallTranscript, json.RawMessage]
	store   analysisStore
	cache   analysisCache
	now     func() time.Time

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewAnalysisService(analyzer analyzerClient, store analysisStore, cfg environments.AnalyzerConfig) *AnalysisService {
	limiter := ratelimit.New[domain.CallTranscript, json.RawMessage](ratelimit.Config{
		Name:          analyzerLimiterName,
		MaxBatchSize:  cfg.MaxBatchSize,
		BatchInterval: cfg.BatchInterval,
		MaxRetries:    cfg.MaxRetries,
		BaseDelay:     cfg.BaseRetryDelay,
	}, analyzer.Analyze)

	return &AnalysisService{limiter: limiter, store: store, now: time.Now}
}

// WithCache also caches each stored result.
func (s *AnalysisService) WithCache(cache analysisCache) *AnalysisService {
	s.cache = cache
	return s
}

// Enqueue submits the transcript and persists the result once the limiter
// resolves it. The returned future resolves with the raw analyzer result.
func (s *AnalysisService) Enqueue(ctx context.Context, transcript domain.CallTranscript) (*ratelimit.Future[json.RawMessage], error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrAnalysisClosed
	}
	s.pending.Add(1)
	s.mu.Unlock()

	future := s.limiter.Submit(ctx, transcript)
	go func() {
		defer s.pending.Done()
		s.persist(context.WithoutCancel(ctx), transcript, future)
	}()

	return future, nil
}

func (s *AnalysisService) persist(ctx context.Context, transcript domain.CallTranscript, future *ratelimit.Future[json.RawMessage]) {
	result, err := future.Wait(ctx)
	if err != nil {
		logger.Errorf("Analysis of call %s failed: %v", transcript.CallID, err)
		return
	}

	analysis := &domain.CallAnalysis{
		ID:         uuid.NewString(),
		CallID:     transcript.CallID,
		Result:     result,
		AnalyzedAt: s.now().UTC(),
	}
	if transcript.EntryID != "" {
		entryID := transcript.EntryID
		analysis.EntryID = &entryID
	}

	if err := s.store.SaveAnalysis(ctx, analysis); err != nil {
		logger.Errorf("Failed to save analysis of call %s: %v", transcript.CallID, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.CacheAnalysis(ctx, *analysis); err != nil {
			logger.Warnf("Failed to cache analysis of call %s: %v", transcript.CallID, err)
		}
	}

	logger.Infof("Stored analysis %s for call %s", analysis.ID, transcript.CallID)
}

// Drain stops accepting transcripts and waits for every enqueued one to be
// analyzed and stored, or for ctx to end.
func (s *AnalysisService) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analysis drain interrupted: %w", ctx.Err())
	}
}

func (s *AnalysisService) Metrics() ratelimit.Metrics {
	return s.limiter.Metrics()
}
