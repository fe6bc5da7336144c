package analyzer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/domain"
)

func newTestClient(url string) *Client {
	return NewClient(environments.AnalyzerConfig{URL: url, APIKey: "k", Timeout: 2 * time.Second})
}

func TestAnalyze_ReturnsRawResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sentiment":"positive"}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Analyze(context.Background(), domain.CallTranscript{CallID: "c1", Transcript: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"sentiment":"positive"}` {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestAnalyze_StatusErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Analyze(context.Background(), domain.CallTranscript{CallID: "c1"})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.HTTPStatus() != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", statusErr.StatusCode)
	}
}
