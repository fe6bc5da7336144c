package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/sequence-dialer/pkg/logger"
	"github.com/onurcolak/sequence-dialer/pkg/metrics"
)

const (
	ModeCaller = "caller"
	ModeBatch  = "batch"

	defaultStopGrace = 30 * time.Second
)

var (
	ErrTickInProgress = errors.New("a tick is already in progress")
	ErrStopTimeout    = errors.New("in-flight tick did not finish within the stop grace period")
)

// TickStats are the counters of one tick. Dispatched counts entries handed
// to the dialer, Failed those the dialer rejected, Errors store failures.
type TickStats struct {
	Processed  int `json:"processed"`
	Skipped    int `json:"skipped"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
	Errors     int `json:"errors"`
}

func (s *TickStats) add(o TickStats) {
	s.Processed += o.Processed
	s.Skipped += o.Skipped
	s.Dispatched += o.Dispatched
	s.Failed += o.Failed
	s.Errors += o.Errors
}

func (s TickStats) allFailed() bool {
	return s.Dispatched > 0 && s.Failed == s.Dispatched
}

// Tick runs one pass of a scheduler mode; run numbers the tick for logs.
type Tick func(ctx context.Context, run int64) (TickStats, error)

type Options struct {
	Interval        time.Duration
	StopGrace       time.Duration
	AlertWebhookURL string
	// AlertThreshold is the number of consecutive all-fail ticks before an alert is sent.
	AlertThreshold int
}

// Loop runs a Tick on a fixed interval. Ticks never overlap: a tick that
// comes due while the previous one is still running is skipped.
type Loop struct {
	mode           string
	tick           Tick
	interval       time.Duration
	stopGrace      time.Duration
	alertWebhook   string
	alertThreshold int
	alertClient    *resty.Client

	inFlight atomic.Bool
	current  *runningTick

	// Internal state
	running     bool
	stopChan    chan struct{}
	doneChan    chan struct{}
	cancelTicks context.CancelFunc
	mu          sync.RWMutex

	// Statistics
	lastRunAt    time.Time
	runsCount    int64
	skippedTicks int64
	lastTick     TickStats
	totals       TickStats

	consecutiveAllFailCount int
	lastAlertSentAt         time.Time
}

// runningTick is the tick currently holding the single-flight guard, whether
// it came from the ticker or from RunOnce.
type runningTick struct {
	done   chan struct{}
	cancel context.CancelFunc
}

func NewLoop(mode string, tick Tick, opts Options) *Loop {
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}

	return &Loop{
		mode:           mode,
		tick:           tick,
		interval:       opts.Interval,
		stopGrace:      opts.StopGrace,
		alertWebhook:   opts.AlertWebhookURL,
		alertThreshold: opts.AlertThreshold,
		alertClient:    resty.New().SetTimeout(10 * time.Second),
	}
}

func (l *Loop) Mode() string {
	return l.mode
}

// Start launches the ticker; the first tick runs immediately. Ticks observe
// cancellation of ctx.
func (l *Loop) Start(ctx context.Context) error {
	if l.interval <= 0 {
		return fmt.Errorf("%s scheduler: tick interval must be positive, got %v", l.mode, l.interval)
	}

	l.mu.Lock()

	if l.running {
		l.mu.Unlock()
		logger.Warnf("[%s] Scheduler is already running", l.mode)
		return nil
	}

	tickCtx, cancel := context.WithCancel(ctx)
	stopChan := make(chan struct{})
	doneChan := make(chan struct{})

	l.running = true
	l.stopChan = stopChan
	l.doneChan = doneChan
	l.cancelTicks = cancel
	l.mu.Unlock()

	logger.Infof("[%s] Starting scheduler with interval: %v", l.mode, l.interval)

	go l.run(tickCtx, stopChan, doneChan)

	return nil
}

func (l *Loop) run(ctx context.Context, stopChan <-chan struct{}, doneChan chan<- struct{}) {
	defer close(doneChan)

	l.trigger(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.trigger(ctx)

		case <-stopChan:
			logger.Warnf("[%s] Scheduler received stop signal", l.mode)
			return

		case <-ctx.Done():
			logger.Warnf("[%s] Scheduler context cancelled", l.mode)
			return
		}
	}
}

// begin takes the single-flight guard and registers the tick so Stop can
// wait for it or cancel it. The returned finish must be called exactly once.
func (l *Loop) begin(ctx context.Context) (context.Context, func(), bool) {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.recordSkip()
		return nil, nil, false
	}

	tickCtx, cancel := context.WithCancel(ctx)
	t := &runningTick{done: make(chan struct{}), cancel: cancel}

	l.mu.Lock()
	l.current = t
	l.mu.Unlock()

	finish := func() {
		cancel()

		l.mu.Lock()
		if l.current == t {
			l.current = nil
		}
		l.mu.Unlock()

		close(t.done)
		l.inFlight.Store(false)
	}

	return tickCtx, finish, true
}

// trigger starts a tick in the background unless one is already running.
func (l *Loop) trigger(ctx context.Context) {
	tickCtx, finish, ok := l.begin(ctx)
	if !ok {
		return
	}

	go func() {
		defer finish()
		_, _ = l.execute(tickCtx)
	}()
}

// RunOnce runs a single tick synchronously, sharing the single-flight guard
// with the ticker. It returns ErrTickInProgress when a tick is already running.
// Stop waits for a RunOnce tick like any other.
func (l *Loop) RunOnce(ctx context.Context) (TickStats, error) {
	tickCtx, finish, ok := l.begin(ctx)
	if !ok {
		return TickStats{}, ErrTickInProgress
	}
	defer finish()

	return l.execute(tickCtx)
}

func (l *Loop) recordSkip() {
	l.mu.Lock()
	l.skippedTicks++
	skipped := l.skippedTicks
	l.mu.Unlock()

	metrics.SchedulerTicks.WithLabelValues(l.mode, "skipped").Inc()
	logger.Warnf("[%s] Previous tick still running, skipping (skipped so far: %d)", l.mode, skipped)
}

func (l *Loop) execute(ctx context.Context) (TickStats, error) {
	l.mu.Lock()
	l.lastRunAt = time.Now()
	l.runsCount++
	runNumber := l.runsCount
	startedAt := l.lastRunAt
	l.mu.Unlock()

	logger.Infof("[%s #%d] Starting tick at %s", l.mode, runNumber, startedAt.Format(time.RFC3339))

	stats, err := l.tick(ctx, runNumber)
	metrics.TickDuration.WithLabelValues(l.mode).Observe(time.Since(startedAt).Seconds())

	if err != nil {
		metrics.SchedulerTicks.WithLabelValues(l.mode, "error").Inc()
		logger.Errorf("[%s #%d] Tick failed: %v", l.mode, runNumber, err)
		return stats, err
	}

	metrics.SchedulerTicks.WithLabelValues(l.mode, "run").Inc()
	l.record(runNumber, stats)

	logger.Infof("[%s #%d] Processed %d entries, %d dispatched, %d failed, %d skipped, %d errors",
		l.mode, runNumber, stats.Processed, stats.Dispatched, stats.Failed, stats.Skipped, stats.Errors)

	return stats, nil
}

func (l *Loop) record(runNumber int64, stats TickStats) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastTick = stats
	l.totals.add(stats)

	if !stats.allFailed() {
		if l.consecutiveAllFailCount > 0 {
			logger.Debugf("[%s #%d] Resetting consecutive failure count (was: %d)",
				l.mode, runNumber, l.consecutiveAllFailCount)
		}
		l.consecutiveAllFailCount = 0
		return
	}

	l.consecutiveAllFailCount++
	logger.Warnf("[%s #%d] All %d dispatches failed (consecutive count: %d/%d)",
		l.mode, runNumber, stats.Dispatched, l.consecutiveAllFailCount, l.alertThreshold)

	if l.alertThreshold > 0 && l.consecutiveAllFailCount >= l.alertThreshold && l.alertWebhook != "" {
		go l.sendAlert(l.alertWebhook, runNumber, l.consecutiveAllFailCount, stats.Dispatched)
	}
}

// Stop clears the ticker, if any, and waits up to the stop grace period for
// the in-flight tick, including one started by RunOnce. A tick still running
// after that has its context cancelled and Stop returns ErrStopTimeout.
func (l *Loop) Stop() error {
	l.mu.Lock()

	wasRunning := l.running
	var (
		doneChan    chan struct{}
		cancelTicks context.CancelFunc
	)
	if wasRunning {
		l.running = false
		close(l.stopChan)
		doneChan = l.doneChan
		cancelTicks = l.cancelTicks
	}
	inFlight := l.current != nil
	l.mu.Unlock()

	if !wasRunning && !inFlight {
		logger.Warnf("[%s] Scheduler is not running", l.mode)
		return nil
	}

	timer := time.NewTimer(l.stopGrace)
	defer timer.Stop()

	// The ticker goroutine exits promptly; after that no new tick can start from it.
	if doneChan != nil {
		select {
		case <-doneChan:
		case <-timer.C:
			return l.abandon(cancelTicks)
		}
	}

	l.mu.RLock()
	current := l.current
	l.mu.RUnlock()

	if current != nil {
		logger.Infof("[%s] Waiting up to %v for the in-flight tick", l.mode, l.stopGrace)
		select {
		case <-current.done:
		case <-timer.C:
			return l.abandon(cancelTicks)
		}
	}

	if cancelTicks != nil {
		cancelTicks()
	}
	logger.Infof("[%s] Scheduler stopped", l.mode)
	return nil
}

// abandon cancels whatever tick is still running once the grace period is spent.
func (l *Loop) abandon(cancelTicks context.CancelFunc) error {
	if cancelTicks != nil {
		cancelTicks()
	}

	l.mu.RLock()
	current := l.current
	l.mu.RUnlock()
	if current != nil {
		current.cancel()
	}

	logger.Warnf("[%s] In-flight tick still running after %v, cancelled it", l.mode, l.stopGrace)
	return ErrStopTimeout
}

// TickInFlight reports whether a tick currently holds the single-flight guard.
func (l *Loop) TickInFlight() bool {
	return l.inFlight.Load()
}

func (l *Loop) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

func (l *Loop) GetStatus() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	status := Status{
		Mode:                    l.mode,
		Running:                 l.running,
		TickInFlight:            l.inFlight.Load(),
		LastRunAt:               l.lastRunAt,
		RunsCount:               l.runsCount,
		SkippedTicks:            l.skippedTicks,
		Interval:                l.interval.String(),
		LastTick:                l.lastTick,
		Totals:                  l.totals,
		ConsecutiveAllFailCount: l.consecutiveAllFailCount,
		LastAlertSentAt:         l.lastAlertSentAt,
	}

	if l.running && !l.lastRunAt.IsZero() {
		status.NextRunAt = l.lastRunAt.Add(l.interval)
	}

	return status
}

func (l *Loop) sendAlert(webhookURL string, runNumber int64, consecutiveFailures int, dispatchesInTick int) {
	alertPayload := map[string]any{
		"alert":               "consecutive_all_fail",
		"mode":                l.mode,
		"runNumber":           runNumber,
		"consecutiveFailures": consecutiveFailures,
		"dispatchesInTick":    dispatchesInTick,
		"timestamp":           time.Now().Format(time.RFC3339),
		"message": fmt.Sprintf(
			"All %d %s dispatches failed for %d consecutive ticks",
			dispatchesInTick,
			l.mode,
			consecutiveFailures,
		),
	}

	resp, err := l.alertClient.R().
		SetHeader("Content-Type", "application/json").
		SetBody(alertPayload).
		Post(webhookURL)
	if err != nil {
		logger.Errorf("[%s] Failed to send alert to webhook: %v", l.mode, err)
		return
	}

	if resp.StatusCode() == http.StatusOK || resp.StatusCode() == http.StatusNoContent {
		l.mu.Lock()
		l.lastAlertSentAt = time.Now()
		l.mu.Unlock()
		logger.Infof("[%s] Alert sent successfully to %s (consecutive failures: %d)",
			l.mode, webhookURL, consecutiveFailures)
	} else {
		logger.Warnf("[%s] Alert webhook returned status %d", l.mode, resp.StatusCode())
	}
}

type Status struct {
	Mode                    string    `json:"mode"`
	Running                 bool      `json:"running"`
	TickInFlight            bool      `json:"tickInFlight"`
	LastRunAt               time.Time `json:"lastRunAt,omitempty"`
	NextRunAt               time.Time `json:"nextRunAt,omitempty"`
	RunsCount               int64     `json:"runsCount"`
	SkippedTicks            int64     `json:"skippedTicks"`
	Interval                string    `json:"interval"`
	LastTick                TickStats `json:"lastTick"`
	Totals                  TickStats `json:"totals"`
	ConsecutiveAllFailCount int       `json:"consecutiveAllFailCount"`
	LastAlertSentAt         time.Time `json:"lastAlertSentAt,omitempty"`
}
