package dialer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/sequence-dialer/environments"
	"github.com/onurcolak/sequence-dialer/internal/domain"
	"github.com/onurcolak/sequence-dialer/pkg/logger"
)

const (
	AuthHeader        = "x-dialer-auth-key"
	IdempotencyHeader = "Idempotency-Key"
)

// Client places outbound calls through the voice platform's HTTP API.
// Every request carries an idempotency key, so transport-level retries
// cannot dial the same target twice for one attempt.
type Client struct {
	httpClient   *resty.Client
	url          string
	batchURL     string
	agentID      string
	maxBatchSize int
}

func NewClient(cfg environments.DialerConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader(AuthHeader, cfg.AuthKey)

	return &Client{
		httpClient:   client,
		url:          cfg.URL,
		batchURL:     cfg.BatchURL,
		agentID:      cfg.AgentID,
		maxBatchSize: cfg.MaxBatchSize,
	}
}

// Dispatch starts a single call. Any non-2xx answer is an error.
func (c *Client) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DialResponse, error) {
	if req.AgentID == "" {
		req.AgentID = c.agentID
	}

	var dialResp domain.DialResponse

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader(IdempotencyHeader, req.TrackingID).
		SetBody(req).
		SetResult(&dialResp).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to send dial request: %w", err)
	}

	logger.Debugf("Dial request for entry %s completed in %v (status: %d)", req.EntryID, time.Since(startTime), resp.StatusCode())

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("unexpected dialer status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	return &dialResp, nil
}

// DispatchBatch submits up to MaxBatchSize recipients in one request. The
// dialer acknowledges submission only; call outcomes arrive out of band.
func (c *Client) DispatchBatch(
	ctx context.Context,
	batchID string,
	recipients []domain.DispatchRequest,
) (*domain.BatchDialResponse, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("batch %s has no recipients", batchID)
	}
	if len(recipients) > c.maxBatchSize {
		return nil, fmt.Errorf("batch %s has %d recipients, dialer accepts at most %d",
			batchID, len(recipients), c.maxBatchSize)
	}

	payload := domain.BatchDialRequest{
		BatchID:    batchID,
		AgentID:    c.agentID,
		Recipients: recipients,
	}

	var batchResp domain.BatchDialResponse

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader(IdempotencyHeader, batchID).
		SetBody(payload).
		SetResult(&batchResp).
		Post(c.batchURL)
	if err != nil {
		return nil, fmt.Errorf("failed to send batch dial request: %w", err)
	}

	logger.Infof("Batch %s (%d recipients) submitted in %v (status: %d)",
		batchID, len(recipients), time.Since(startTime), resp.StatusCode())

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("unexpected dialer status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	if batchResp.BatchID == "" {
		batchResp.BatchID = batchID
	}

	return &batchResp, nil
}

func (c *Client) MaxBatchSize() int {
	return c.maxBatchSize
}

func (c *Client) GetURL() string {
	return c.url
}
