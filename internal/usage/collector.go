package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// dailyCounterTTL is how long daily counter keys live after their first
// increment. Quota checks only ever read the current day, so anything past
// a week is dead weight in the store.
const dailyCounterTTL = 7 * 24 * time.Hour

// counterKey is the all-time counter key for a tenant/product/metric triple.
func counterKey(tenantID, productID, metric string) string {
	return fmt.Sprintf("usage:%s:%s:%s", tenantID, productID, metric)
}

// dailyCounterKey is the day-scoped variant, suffixed with the ISO date.
func dailyCounterKey(tenantID, productID, metric string, day time.Time) string {
	return counterKey(tenantID, productID, metric) + ":" + day.UTC().Format("2006-01-02")
}

// BatchInserter is the interface used by Collector to persist events. It
// exists to allow testing without a real database. Implementations must be
// atomic: either the whole batch is durable (events and aggregates) or none
// of it is, so that a requeued batch can never double-count.
type BatchInserter interface {
	BatchInsert(ctx context.Context, events []Event) error
}

// CounterStore is the fast-path counter interface backed by redis in
// production. All methods are best-effort from the Collector's point of
// view: failures degrade quota freshness, never event durability.
type CounterStore interface {
	Increment(ctx context.Context, key string, amount int64) (int64, error)
	IncrementExpiring(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}

// CollectorMetrics receives instrumentation callbacks from the Collector.
// A nil implementation is valid and disables instrumentation.
type CollectorMetrics interface {
	SetBufferSize(n int)
	EventTracked()
	FlushSucceeded(events int, elapsed time.Duration)
	FlushFailed(events int)
	CounterStoreError()
}

// Collector buffers usage events in memory and periodically flushes them to
// the durable store in batches. It is safe for concurrent use. A flush is
// triggered when the buffer reaches the configured threshold or on a fixed
// interval, whichever comes first.
type Collector struct {
	store         BatchInserter
	counters      CounterStore
	buffer        []Event
	mu            sync.Mutex
	flushThresh   int
	flushInterval time.Duration
	metrics       CollectorMetrics
	done          chan struct{}
	stopped       chan struct{}
}

// NewCollector creates a Collector that flushes to store when the buffer
// reaches flushThresh events or every flushInterval. counters may be nil,
// in which case the fast-path totals are simply not maintained.
func NewCollector(store BatchInserter, counters CounterStore, flushThresh int, flushInterval time.Duration) *Collector {
	return &Collector{
		store:         store,
		counters:      counters,
		buffer:        make([]Event, 0, flushThresh),
		flushThresh:   flushThresh,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// WithMetrics attaches instrumentation callbacks and returns the Collector.
func (c *Collector) WithMetrics(m CollectorMetrics) *Collector {
	c.metrics = m
	return c
}

// Track validates and records a usage event. The only error a caller can
// see is a validation failure; storage problems are absorbed here and
// retried on later flush cycles. The counter store is bumped synchronously
// so quota checks see the event before it is durable.
func (c *Collector) Track(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	c.bumpCounters(ctx, ev)

	c.mu.Lock()
	c.buffer = append(c.buffer, ev)
	size := len(c.buffer)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.EventTracked()
		c.metrics.SetBufferSize(size)
	}

	// The insert runs off the caller's goroutine so Track stays cheap.
	if size >= c.flushThresh {
		go c.flush()
	}
	return nil
}

// bumpCounters increments the all-time and daily keys for the event.
// Failures are logged and counted; the event is still buffered.
func (c *Collector) bumpCounters(ctx context.Context, ev Event) {
	if c.counters == nil {
		return
	}

	if _, err := c.counters.Increment(ctx, counterKey(ev.TenantID, ev.ProductID, ev.EventType), ev.Quantity); err != nil {
		c.counterError(err, ev)
	}
	daily := dailyCounterKey(ev.TenantID, ev.ProductID, ev.EventType, ev.OccurredAt)
	if _, err := c.counters.IncrementExpiring(ctx, daily, ev.Quantity, dailyCounterTTL); err != nil {
		c.counterError(err, ev)
	}
}

func (c *Collector) counterError(err error, ev Event) {
	slog.Warn("counter store increment failed",
		"tenant_id", ev.TenantID,
		"product_id", ev.ProductID,
		"event_type", ev.EventType,
		"error", err,
	)
	if c.metrics != nil {
		c.metrics.CounterStoreError()
	}
}

// Start begins a background loop that flushes buffered events on a timer.
// It blocks until Stop is called or the context is cancelled, performing a
// final flush on the way out.
func (c *Collector) Start(ctx context.Context) {
	defer close(c.stopped)

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-ctx.Done():
			c.flush()
			return
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush drains the buffer and writes the snapshot to the store. The swap
// happens under the lock so concurrent Track calls accumulate into a fresh
// buffer and no event is lost or duplicated. On insert failure the
// snapshot is requeued in front of anything recorded since, preserving
// order, and retried on the next cycle.
func (c *Collector) flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]Event, 0, c.flushThresh)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := c.store.BatchInsert(ctx, batch); err != nil {
		c.mu.Lock()
		c.buffer = append(batch, c.buffer...)
		size := len(c.buffer)
		c.mu.Unlock()

		slog.Warn("usage flush failed, snapshot requeued",
			"events", len(batch),
			"buffered", size,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.FlushFailed(len(batch))
			c.metrics.SetBufferSize(size)
		}
		return
	}

	if c.metrics != nil {
		c.metrics.FlushSucceeded(len(batch), time.Since(start))
		c.mu.Lock()
		size := len(c.buffer)
		c.mu.Unlock()
		c.metrics.SetBufferSize(size)
	}
}

// Stop signals the background loop to exit and blocks until its final
// flush has completed, so a caller shutting down can rely on the buffer
// being drained before the process exits. Stop must not be called before
// Start is running.
func (c *Collector) Stop() {
	close(c.done)
	<-c.stopped
}
