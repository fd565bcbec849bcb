package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/eventhub/agent/internal/buffer"
	"github.com/obsidianstack/eventhub/pkg/types"
)

// State is the lifecycle state of a Loop.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Sender delivers one encoded batch. A nil error means the endpoint accepted
// the batch; any error is retried.
type Sender interface {
	Send(ctx context.Context, batchID string, payload []byte) error
}

// Recorder is an optional sink for dispatch metrics.
type Recorder interface {
	RecordEvent(ctx context.Context)
	RecordBatchDelivered(ctx context.Context, events, attempts int, durationSeconds float64)
	RecordBatchAbandoned(ctx context.Context, events int)
	RecordRetry(ctx context.Context)
	RecordBatchSize(ctx context.Context, events int64)
}

// Stats is a point-in-time view of loop counters.
type Stats struct {
	State      string `json:"state"`
	Buffered   int    `json:"buffered"`
	InFlight   int64  `json:"in_flight"`
	Recorded   int64  `json:"recorded"`
	Dispatched int64  `json:"dispatched"`
	Delivered  int64  `json:"delivered"`
	Abandoned  int64  `json:"abandoned"`
	Dropped    int64  `json:"dropped"`
	Retries    int64  `json:"retries"`
}

// Loop batches recorded events and delivers them in the background.
type Loop struct {
	buf     *buffer.Buffer
	sender  Sender
	cfg     Config
	metrics Recorder

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) bool
	now   func() time.Time

	mu       sync.Mutex
	state    State
	looping  bool          // a run goroutine exists
	loopDone chan struct{} // closed when that goroutine exits
	closed   bool

	// loopCtx ends the cycle sleep on Close; deliveryCtx ends backoff
	// sleeps only when Close gives up waiting.
	loopCtx        context.Context
	stopLoop       context.CancelFunc
	deliveryCtx    context.Context
	cancelDelivery context.CancelFunc
	inflight       sync.WaitGroup

	recorded   atomic.Int64
	dispatched atomic.Int64
	delivered  atomic.Int64
	abandoned  atomic.Int64
	dropped    atomic.Int64
	retries    atomic.Int64
	active     atomic.Int64
}

// New creates a stopped Loop that sends batches through sender.
// metrics may be nil.
func New(sender Sender, cfg Config, metrics Recorder) *Loop {
	l := &Loop{
		buf:     buffer.New(),
		sender:  sender,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		sleep:   sleepContext,
		now:     time.Now,
	}
	l.loopCtx, l.stopLoop = context.WithCancel(context.Background())
	l.deliveryCtx, l.cancelDelivery = context.WithCancel(context.Background())
	return l
}

// Record buffers an event identifier for the next batch. It never blocks on
// the network and never fails; events recorded while stopped are sent by
// the first cycle after Start.
func (l *Loop) Record(id string) {
	l.buf.Append(id)
	l.recorded.Add(1)
	if l.metrics != nil {
		l.metrics.RecordEvent(context.Background())
	}
}

// Start switches the loop to Running and spawns the background goroutine.
// It is a no-op while already running or after Close. If a previous Stop has
// not yet been observed by the goroutine, that goroutine simply keeps going.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.state == Running {
		return
	}
	l.state = Running
	if l.looping {
		slog.Debug("dispatch: resumed before previous loop exited")
		return
	}
	l.looping = true
	l.loopDone = make(chan struct{})
	go l.run(l.loopDone)

	slog.Info("dispatch: started",
		"interval", l.cfg.ProcessInterval,
		"max_retries", l.cfg.MaxRetries,
		"delta_backoff", l.cfg.DeltaBackoff,
	)
}

// Stop clears the running flag. It returns immediately; the loop exits
// after its current sleep and in-flight deliveries run to completion.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Running {
		l.state = Stopped
		slog.Info("dispatch: stopping", "buffered", l.buf.Len())
	}
}

// State reports whether the loop is running.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Flush drains the buffer and dispatches it now instead of waiting for the
// next cycle. Delivery still happens in the background.
func (l *Loop) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.dispatchLocked()
}

// Close stops the loop, dispatches what is left in the buffer and waits for
// every in-flight delivery. If ctx expires first, pending backoff sleeps are
// abandoned and ctx.Err() is returned. Close is idempotent.
func (l *Loop) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.state = Stopped
	loopDone := l.loopDone
	l.mu.Unlock()

	l.stopLoop()

	done := make(chan struct{})
	go func() {
		if loopDone != nil {
			<-loopDone
		}
		l.mu.Lock()
		l.dispatchLocked()
		l.mu.Unlock()
		l.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("dispatch: closed",
			"delivered", l.delivered.Load(),
			"abandoned", l.abandoned.Load(),
		)
		return nil
	case <-ctx.Done():
		l.cancelDelivery()
		slog.Warn("dispatch: close timed out, abandoning in-flight batches",
			"in_flight", l.active.Load())
		return ctx.Err()
	}
}

// Stats returns current counters.
func (l *Loop) Stats() Stats {
	return Stats{
		State:      l.State().String(),
		Buffered:   l.buf.Len(),
		InFlight:   l.active.Load(),
		Recorded:   l.recorded.Load(),
		Dispatched: l.dispatched.Load(),
		Delivered:  l.delivered.Load(),
		Abandoned:  l.abandoned.Load(),
		Dropped:    l.dropped.Load(),
		Retries:    l.retries.Load(),
	}
}

// run is the body of the background goroutine: dispatch, sleep, re-check.
func (l *Loop) run(done chan struct{}) {
	defer close(done)

	for {
		l.mu.Lock()
		l.dispatchLocked()
		l.mu.Unlock()

		// Stop does not shorten this sleep; only Close does.
		slept := l.sleep(l.loopCtx, l.cfg.ProcessInterval)

		l.mu.Lock()
		if !slept || l.state != Running {
			l.looping = false
			l.mu.Unlock()
			slog.Debug("dispatch: loop exited")
			return
		}
		l.mu.Unlock()
	}
}

// dispatchLocked drains the buffer and starts delivery of the batch.
// l.mu must be held so inflight.Add never races Close's Wait.
func (l *Loop) dispatchLocked() {
	events := l.buf.Drain()
	if len(events) == 0 {
		return
	}
	if l.metrics != nil {
		l.metrics.RecordBatchSize(context.Background(), int64(len(events)))
	}

	batch := types.NewBatch(events, l.now())
	payload, err := batch.Payload()
	if err != nil {
		l.dropped.Add(1)
		slog.Error("dispatch: encode failed, dropping batch",
			"batch", batch.ID, "events", len(events), "err", err)
		return
	}

	l.dispatched.Add(1)
	l.active.Add(1)
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		defer l.active.Add(-1)
		l.deliver(l.deliveryCtx, batch, payload)
	}()
}

// deliver sends payload, retrying failures on the backoff schedule until it
// is accepted, MaxRetries retries have failed, or ctx ends.
func (l *Loop) deliver(ctx context.Context, b *types.Batch, payload []byte) {
	start := time.Now()

	for attempt := 0; ; {
		err := l.send(ctx, b.ID, payload)
		if err == nil {
			l.delivered.Add(1)
			if l.metrics != nil {
				l.metrics.RecordBatchDelivered(ctx, len(b.Events), attempt+1, time.Since(start).Seconds())
			}
			slog.Debug("dispatch: batch delivered",
				"batch", b.ID, "events", len(b.Events), "attempts", attempt+1)
			return
		}

		attempt++
		if attempt > l.cfg.MaxRetries {
			l.abandon(b, attempt, err)
			return
		}

		wait := Backoff(attempt, l.cfg.DeltaBackoff)
		l.retries.Add(1)
		if l.metrics != nil {
			l.metrics.RecordRetry(ctx)
		}
		slog.Debug("dispatch: send failed, will retry",
			"batch", b.ID, "attempt", attempt, "retry_in", wait, "err", err)

		if !l.sleep(ctx, wait) {
			l.abandon(b, attempt, ctx.Err())
			return
		}
	}
}

func (l *Loop) abandon(b *types.Batch, attempts int, err error) {
	l.abandoned.Add(1)
	if l.metrics != nil {
		l.metrics.RecordBatchAbandoned(context.Background(), len(b.Events))
	}
	slog.Warn("dispatch: batch abandoned",
		"batch", b.ID, "events", len(b.Events), "attempts", attempts, "err", err)
}

// send performs one attempt. A panicking transport counts as a failure.
func (l *Loop) send(ctx context.Context, batchID string, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: transport panic: %v", r)
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, l.cfg.SendTimeout)
	defer cancel()
	return l.sender.Send(sendCtx, batchID, payload)
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
