package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

// StatusError is returned for any non-2xx analyzer response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analyzer returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status code to retry classification.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Client calls the external transcript analyzer. It performs no retries of
// its own; pacing and retry policy belong to the rate limiter in front of it.
type Client struct {
	httpClient *resty.Client
	url        string
}

func NewClient(cfg environments.AnalyzerConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &Client{httpClient: client, url: cfg.URL}
}

// Analyze submits one transcript and returns the analyzer's JSON result verbatim.
func (c *Client) Analyze(ctx context.Context, transcript domain.CallTranscript) (json.RawMessage, error) {
	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(transcript).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to send analyze request: %w", err)
	}

	logger.Debugf("Analyze request for call %s completed in %v (status: %d)",
		transcript.CallID, time.Since(startTime), resp.StatusCode())

	if !resp.IsSuccess() {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, &StatusError{StatusCode: http.StatusBadGateway, Body: "analyzer returned invalid JSON"}
	}

	return json.RawMessage(body), nil
}
