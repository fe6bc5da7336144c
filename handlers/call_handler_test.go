package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/internal/service"
)

type echoAnalyzer struct{}

func (echoAnalyzer) Analyze(ctx context.Context, transcript domain.CallTranscript) (json.RawMessage, error) {
	return json.RawMessage(`{"callId":"` + transcript.CallID + `"}`), nil
}

type memoryAnalysisStore struct {
	mu    sync.Mutex
	saved []domain.CallAnalysis
}

func (s *memoryAnalysisStore) SaveAnalysis(ctx context.Context, analysis *domain.CallAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, *analysis)
	return nil
}

func newAnalysisService(store *memoryAnalysisStore) *service.AnalysisService {
	return service.NewAnalysisService(echoAnalyzer{}, store, environments.AnalyzerConfig{
		MaxBatchSize:   5,
		BatchInterval:  time.Millisecond,
		MaxRetries:     1,
		BaseRetryDelay: time.Millisecond,
	})
}

func TestCallCompleted_MissingTranscriptReturns422(t *testing.T) {
	e := newTestEcho()
	handler := NewCallHandler(nil)

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/calls/completed", `{"callId":"call-1"}`)
	if err := handler.CallCompleted(c); err != nil {
		t.Fatalf("CallCompleted returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusUnprocessableEntity)
}

func TestCallCompleted_QueuesAnalysis(t *testing.T) {
	e := newTestEcho()
	store := &memoryAnalysisStore{}
	svc := newAnalysisService(store)
	handler := NewCallHandler(svc)

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/calls/completed",
		`{"callId":"call-1","entryId":"entry-1","transcript":"hello, is this a good time?"}`)
	if err := handler.CallCompleted(c); err != nil {
		t.Fatalf("CallCompleted returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusAccepted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Drain(ctx); err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved) != 1 || store.saved[0].CallID != "call-1" {
		t.Fatalf("expected the analysis of call-1 to be stored, got %+v", store.saved)
	}

	c, rec = newJSONContext(e, http.MethodGet, "/api/v1/calls/analyzer", "")
	if err := handler.GetAnalyzerMetrics(c); err != nil {
		t.Fatalf("GetAnalyzerMetrics returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusOK)

	if m := decode[envelope[map[string]any]](t, rec).Data; m["processed"] != float64(1) {
		t.Errorf("expected 1 processed, got %v", m["processed"])
	}
}

func TestCallCompleted_DrainingServiceReturns503(t *testing.T) {
	e := newTestEcho()
	store := &memoryAnalysisStore{}
	svc := newAnalysisService(store)
	handler := NewCallHandler(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Drain(ctx); err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/calls/completed",
		`{"callId":"call-1","transcript":"hello"}`)
	if err := handler.CallCompleted(c); err != nil {
		t.Fatalf("CallCompleted returned error: %v", err)
	}
	assertStatus(t, rec, http.StatusServiceUnavailable)
}
