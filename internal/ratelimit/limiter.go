// Package ratelimit paces calls to a quota-limited dependency. Submissions
// are queued FIFO and drained in fixed-size batches at a fixed interval;
// each call is retried with exponential backoff on transient failures.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/onurcolak/sequence-dialer/pkg/logger"
	"github.com/onurcolak/sequence-dialer/pkg/metrics"
)

const (
	DefaultMaxDelay  = 30 * time.Second
	DefaultMaxJitter = 250 * time.Millisecond
)

type Config struct {
	// Name labels log lines and metrics.
	Name          string
	MaxBatchSize  int
	BatchInterval time.Duration
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxJitter     time.Duration
}

// Func is the rate-limited operation.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Future resolves once the submitted operation has succeeded or exhausted its retries.
type Future[Out any] struct {
	done  chan struct{}
	value Out
	err   error
}

func newFuture[Out any]() *Future[Out] {
	return &Future[Out]{done: make(chan struct{})}
}

func (f *Future[Out]) resolve(value Out, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future[Out]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends. Abandoning the wait
// does not cancel the operation.
func (f *Future[Out]) Wait(ctx context.Context) (Out, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero Out
		return zero, ctx.Err()
	}
}

type Metrics struct {
	Processed   int64     `json:"processed"`
	Failed      int64     `json:"failed"`
	Retries     int64     `json:"retries"`
	QueueDepth  int       `json:"queueDepth"`
	Draining    bool      `json:"draining"`
	LastBatchAt time.Time `json:"lastBatchAt,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

type job[In, Out any] struct {
	ctx    context.Context
	input  In
	future *Future[Out]
}

// Limiter is safe for concurrent use. At most one drain loop runs at a time.
type Limiter[In, Out any] struct {
	cfg Config
	fn  Func[In, Out]

	mu       sync.Mutex
	queue    []*job[In, Out]
	draining bool
	stats    Metrics

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)
	jitter func(max time.Duration) time.Duration
}

func New[In, Out any](cfg Config, fn Func[In, Out]) *Limiter[In, Out] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxJitter <= 0 {
		cfg.MaxJitter = DefaultMaxJitter
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &Limiter[In, Out]{
		cfg:    cfg,
		fn:     fn,
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: randomJitter,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

// Submit enqueues input and starts the drain loop if it is idle. The
// operation runs detached from ctx cancellation but keeps its values.
func (l *Limiter[In, Out]) Submit(ctx context.Context, input In) *Future[Out] {
	f := newFuture[Out]()

	l.mu.Lock()
	l.queue = append(l.queue, &job[In, Out]{ctx: context.WithoutCancel(ctx), input: input, future: f})
	depth := len(l.queue)
	start := !l.draining
	l.draining = true
	l.mu.Unlock()

	metrics.LimiterQueueDepth.WithLabelValues(l.cfg.Name).Set(float64(depth))

	if start {
		go l.drain()
	}

	return f
}

func (l *Limiter[In, Out]) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.draining = false
			l.mu.Unlock()
			return
		}

		n := min(len(l.queue), l.cfg.MaxBatchSize)
		batch := l.queue[:n]
		l.queue = l.queue[n:]
		l.stats.LastBatchAt = l.now()
		remaining := len(l.queue)
		l.mu.Unlock()

		metrics.LimiterQueueDepth.WithLabelValues(l.cfg.Name).Set(float64(remaining))
		logger.Debugf("[%s] Draining batch of %d (%d still queued)", l.cfg.Name, n, remaining)

		var wg sync.WaitGroup
		for _, j := range batch {
			wg.Add(1)
			go func(j *job[In, Out]) {
				defer wg.Done()
				l.run(j)
			}(j)
		}
		wg.Wait()

		l.mu.Lock()
		more := len(l.queue) > 0
		l.mu.Unlock()

		if more {
			l.sleep(context.Background(), l.cfg.BatchInterval)
		}
	}
}

func (l *Limiter[In, Out]) run(j *job[In, Out]) {
	out, err := l.executeWithRetry(j.ctx, j.input)

	l.mu.Lock()
	if err != nil {
		l.stats.Failed++
		l.stats.LastError = err.Error()
	} else {
		l.stats.Processed++
	}
	l.mu.Unlock()

	if err != nil {
		metrics.LimiterResults.WithLabelValues(l.cfg.Name, "failed").Inc()
		logger.Warnf("[%s] Operation failed permanently: %v", l.cfg.Name, err)
	} else {
		metrics.LimiterResults.WithLabelValues(l.cfg.Name, "processed").Inc()
	}

	j.future.resolve(out, err)
}

// executeWithRetry makes at most MaxRetries+1 attempts, retrying only
// errors classified as transient.
func (l *Limiter[In, Out]) executeWithRetry(ctx context.Context, input In) (Out, error) {
	var zero Out

	for attempt := 0; ; attempt++ {
		out, err := l.fn(ctx, input)
		if err == nil {
			return out, nil
		}

		if attempt >= l.cfg.MaxRetries || !IsRetryable(err) {
			return zero, err
		}

		delay := Backoff(l.cfg.BaseDelay, l.cfg.MaxDelay, attempt)
		delay += l.jitter(min(l.cfg.MaxJitter, delay))

		l.mu.Lock()
		l.stats.Retries++
		l.mu.Unlock()
		metrics.LimiterRetries.WithLabelValues(l.cfg.Name).Inc()

		logger.Warnf("[%s] Attempt %d failed, retrying in %v: %v", l.cfg.Name, attempt+1, delay, err)
		l.sleep(ctx, delay)
	}
}

// Backoff returns min(base * 2^attempt, max).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base
	for i := 0; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}

	return min(delay, max)
}

// Metrics returns a snapshot of the limiter counters.
func (l *Limiter[In, Out]) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	snapshot := l.stats
	snapshot.QueueDepth = len(l.queue)
	snapshot.Draining = l.draining
	return snapshot
}
