package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/pkg/analyzer"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	failures int // leading calls answered with 429
	err      error
	calls    int
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, transcript domain.CallTranscript) (json.RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	if a.calls <= a.failures {
		return nil, &analyzer.StatusError{StatusCode: 429, Body: "slow down"}
	}
	return json.RawMessage(`{"callId":"` + transcript.CallID + `","sentiment":"positive"}`), nil
}

type fakeAnalysisStore struct {
	mu    sync.Mutex
	saved []domain.CallAnalysis
}

func (s *fakeAnalysisStore) SaveAnalysis(ctx context.Context, analysis *domain.CallAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, *analysis)
	return nil
}

type fakeAnalysisCache struct {
	mu     sync.Mutex
	cached map[string]domain.CallAnalysis
}

func (c *fakeAnalysisCache) CacheAnalysis(ctx context.Context, analysis domain.CallAnalysis) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil {
		c.cached = map[string]domain.CallAnalysis{}
	}
	c.cached[analysis.CallID] = analysis
	return nil
}

func testAnalyzerConfig() environments.AnalyzerConfig {
	return environments.AnalyzerConfig{
		MaxBatchSize:   2,
		BatchInterval:  time.Millisecond,
		MaxRetries:     2,
		BaseRetryDelay: time.Millisecond,
	}
}

func drain(t *testing.T, svc *AnalysisService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Drain(ctx); err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
}

func TestAnalysisService_EnqueuePersistsAndCaches(t *testing.T) {
	store := &fakeAnalysisStore{}
	cache := &fakeAnalysisCache{}
	svc := NewAnalysisService(&fakeAnalyzer{}, store, testAnalyzerConfig()).WithCache(cache)

	for _, id := range []string{"call-1", "call-2", "call-3"} {
		if _, err := svc.Enqueue(context.Background(), domain.CallTranscript{CallID: id, EntryID: "entry-" + id, Transcript: "hello"}); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}
	drain(t, svc)

	if len(store.saved) != 3 {
		t.Fatalf("expected 3 saved analyses, got %d", len(store.saved))
	}
	for _, a := range store.saved {
		if a.ID == "" || a.EntryID == nil || *a.EntryID != "entry-"+a.CallID {
			t.Errorf("unexpected analysis %+v", a)
		}
		if !json.Valid(a.Result) {
			t.Errorf("expected valid JSON result, got %s", a.Result)
		}
	}
	if len(cache.cached) != 3 {
		t.Errorf("expected 3 cached analyses, got %d", len(cache.cached))
	}

	if m := svc.Metrics(); m.Processed != 3 || m.Failed != 0 {
		t.Errorf("unexpected limiter metrics %+v", m)
	}
}

func TestAnalysisService_RetriesRateLimitedCalls(t *testing.T) {
	analyzerClient := &fakeAnalyzer{failures: 2}
	store := &fakeAnalysisStore{}
	svc := NewAnalysisService(analyzerClient, store, testAnalyzerConfig())

	future, err := svc.Enqueue(context.Background(), domain.CallTranscript{CallID: "call-1", Transcript: "hi"})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := future.Wait(ctx); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	drain(t, svc)

	if analyzerClient.calls != 3 {
		t.Errorf("expected 3 analyzer calls, got %d", analyzerClient.calls)
	}
	if m := svc.Metrics(); m.Retries != 2 {
		t.Errorf("expected 2 retries, got %d", m.Retries)
	}
	if len(store.saved) != 1 || store.saved[0].EntryID != nil {
		t.Errorf("expected one analysis without entry, got %+v", store.saved)
	}
}

func TestAnalysisService_PermanentFailureIsNotStored(t *testing.T) {
	analyzerClient := &fakeAnalyzer{err: &analyzer.StatusError{StatusCode: 400, Body: "bad transcript"}}
	store := &fakeAnalysisStore{}
	svc := NewAnalysisService(analyzerClient, store, testAnalyzerConfig())

	future, err := svc.Enqueue(context.Background(), domain.CallTranscript{CallID: "call-1", Transcript: "hi"})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = future.Wait(ctx)
	var statusErr *analyzer.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 400 {
		t.Fatalf("expected the analyzer error to surface, got %v", err)
	}
	drain(t, svc)

	if analyzerClient.calls != 1 {
		t.Errorf("expected a single attempt, got %d", analyzerClient.calls)
	}
	if len(store.saved) != 0 {
		t.Errorf("expected nothing stored, got %d", len(store.saved))
	}
	if m := svc.Metrics(); m.Failed != 1 || m.LastError == "" {
		t.Errorf("unexpected limiter metrics %+v", m)
	}
}

func TestAnalysisService_EnqueueAfterDrainIsRejected(t *testing.T) {
	analyzerClient := &fakeAnalyzer{}
	store := &fakeAnalysisStore{}
	svc := NewAnalysisService(analyzerClient, store, testAnalyzerConfig())

	if _, err := svc.Enqueue(context.Background(), domain.CallTranscript{CallID: "call-1", Transcript: "hi"}); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	drain(t, svc)

	future, err := svc.Enqueue(context.Background(), domain.CallTranscript{CallID: "call-2", Transcript: "late"})
	if !errors.Is(err, ErrAnalysisClosed) {
		t.Fatalf("expected ErrAnalysisClosed, got %v", err)
	}
	if future != nil {
		t.Errorf("expected no future for a rejected transcript")
	}

	if analyzerClient.calls != 1 {
		t.Errorf("expected the late transcript to skip the analyzer, got %d calls", analyzerClient.calls)
	}
	if len(store.saved) != 1 || store.saved[0].CallID != "call-1" {
		t.Errorf("expected only call-1 stored, got %+v", store.saved)
	}
}
