package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockStore records all batches that were inserted.
type mockStore struct {
	mu       sync.Mutex
	batches  [][]Event
	insertFn func(ctx context.Context, events []Event) error
}

func (m *mockStore) BatchInsert(ctx context.Context, events []Event) error {
	if m.insertFn != nil {
		if err := m.insertFn(ctx, events); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return nil
}

func (m *mockStore) totalInserted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

// mockCounters records increments by key.
type mockCounters struct {
	mu     sync.Mutex
	totals map[string]int64
	err    error
}

func newMockCounters() *mockCounters {
	return &mockCounters{totals: make(map[string]int64)}
}

func (m *mockCounters) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[key] += amount
	return m.totals[key], nil
}

func (m *mockCounters) IncrementExpiring(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	return m.Increment(ctx, key, amount)
}

func (m *mockCounters) Get(ctx context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[key], nil
}

func sampleEvent(eventType string) Event {
	return Event{
		TenantID:   "acme",
		ProductID:  "chatbot",
		EventType:  eventType,
		Quantity:   1,
		OccurredAt: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

// waitFor polls until cond returns true or the deadline passes. The
// threshold flush runs on its own goroutine, so tests have to wait for it.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTrackValidation(t *testing.T) {
	c := NewCollector(&mockStore{}, nil, 100, time.Hour)
	ctx := context.Background()

	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"valid", sampleEvent(MetricMessages), false},
		{"missing tenant", Event{ProductID: "chatbot", EventType: "messages"}, true},
		{"missing product", Event{TenantID: "acme", EventType: "messages"}, true},
		{"missing event type", Event{TenantID: "acme", ProductID: "chatbot"}, true},
		{"negative quantity", Event{TenantID: "acme", ProductID: "chatbot", EventType: "messages", Quantity: -2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Track(ctx, tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Track() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrackDefaultsQuantity(t *testing.T) {
	ms := &mockStore{}
	c := NewCollector(ms, nil, 1, time.Hour)

	ev := sampleEvent(MetricMessages)
	ev.Quantity = 0
	if err := c.Track(context.Background(), ev); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	waitFor(t, func() bool { return ms.totalInserted() == 1 })

	ms.mu.Lock()
	got := ms.batches[0][0].Quantity
	ms.mu.Unlock()
	if got != 1 {
		t.Fatalf("expected quantity defaulted to 1, got %d", got)
	}
}

func TestTrackAddsToBuffer(t *testing.T) {
	ms := &mockStore{}
	c := NewCollector(ms, nil, 100, time.Hour)

	_ = c.Track(context.Background(), sampleEvent(MetricMessages))
	_ = c.Track(context.Background(), sampleEvent(MetricMessages))

	c.mu.Lock()
	bufLen := len(c.buffer)
	c.mu.Unlock()

	if bufLen != 2 {
		t.Fatalf("expected buffer length 2, got %d", bufLen)
	}
	if ms.totalInserted() != 0 {
		t.Fatalf("expected 0 inserted before flush, got %d", ms.totalInserted())
	}
}

func TestFlushOnThreshold(t *testing.T) {
	ms := &mockStore{}
	c := NewCollector(ms, nil, 3, time.Hour)

	for i := 0; i < 3; i++ {
		_ = c.Track(context.Background(), sampleEvent(MetricMessages))
	}

	waitFor(t, func() bool { return ms.totalInserted() == 3 })

	c.mu.Lock()
	bufLen := len(c.buffer)
	c.mu.Unlock()
	if bufLen != 0 {
		t.Fatalf("expected empty buffer after flush, got %d", bufLen)
	}
}

func TestTimerFlush(t *testing.T) {
	ms := &mockStore{}
	c := NewCollector(ms, nil, 100, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	_ = c.Track(ctx, sampleEvent(MetricMessages))
	_ = c.Track(ctx, sampleEvent(MetricMessages))

	waitFor(t, func() bool { return ms.totalInserted() == 2 })
}

func TestStopPerformsFinalFlush(t *testing.T) {
	ms := &mockStore{}
	c := NewCollector(ms, nil, 100, time.Hour)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	_ = c.Track(context.Background(), sampleEvent(MetricMessages))
	c.Stop()

	<-done
	if ms.totalInserted() != 1 {
		t.Fatalf("expected 1 event flushed on stop, got %d", ms.totalInserted())
	}
}

func TestStopBlocksUntilFinalFlushLands(t *testing.T) {
	ms := &mockStore{}
	ms.insertFn = func(ctx context.Context, events []Event) error {
		// Simulate a slow insert so a premature Stop return is visible.
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	c := NewCollector(ms, nil, 100, time.Hour)
	go c.Start(context.Background())

	_ = c.Track(context.Background(), sampleEvent(MetricMessages))
	c.Stop()

	// No polling: by the time Stop returns the batch must be durable.
	if ms.totalInserted() != 1 {
		t.Fatalf("expected 1 event flushed before Stop returned, got %d", ms.totalInserted())
	}
}

func TestFlushFailureRequeues(t *testing.T) {
	var mu sync.Mutex
	failing := true
	ms := &mockStore{}
	ms.insertFn = func(ctx context.Context, events []Event) error {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return errors.New("database down")
		}
		return nil
	}

	c := NewCollector(ms, nil, 100, time.Hour)
	_ = c.Track(context.Background(), sampleEvent(MetricMessages))
	_ = c.Track(context.Background(), sampleEvent(MetricEmails))

	c.flush()
	if ms.totalInserted() != 0 {
		t.Fatalf("expected nothing inserted while store is down, got %d", ms.totalInserted())
	}

	c.mu.Lock()
	bufLen := len(c.buffer)
	c.mu.Unlock()
	if bufLen != 2 {
		t.Fatalf("expected 2 events requeued, got %d", bufLen)
	}

	// Store recovers; the retried flush must deliver each event exactly once.
	mu.Lock()
	failing = false
	mu.Unlock()

	c.flush()
	if ms.totalInserted() != 2 {
		t.Fatalf("expected 2 events after retry, got %d", ms.totalInserted())
	}
	ms.mu.Lock()
	first := ms.batches[0][0].EventType
	ms.mu.Unlock()
	if first != MetricMessages {
		t.Fatalf("expected requeued batch to preserve order, first event %q", first)
	}
}

func TestRequeuePreservesOrderAgainstNewEvents(t *testing.T) {
	ms := &mockStore{}
	ms.insertFn = func(ctx context.Context, events []Event) error {
		return errors.New("database down")
	}

	c := NewCollector(ms, nil, 100, time.Hour)
	_ = c.Track(context.Background(), sampleEvent("first"))
	c.flush()
	_ = c.Track(context.Background(), sampleEvent("second"))

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buffer) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(c.buffer))
	}
	if c.buffer[0].EventType != "first" || c.buffer[1].EventType != "second" {
		t.Fatalf("requeued snapshot should precede newer events, got %q then %q",
			c.buffer[0].EventType, c.buffer[1].EventType)
	}
}

func TestTrackBumpsCounters(t *testing.T) {
	mc := newMockCounters()
	c := NewCollector(&mockStore{}, mc, 100, time.Hour)

	ev := sampleEvent(MetricMessages)
	ev.Quantity = 3
	_ = c.Track(context.Background(), ev)

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if got := mc.totals["usage:acme:chatbot:messages"]; got != 3 {
		t.Errorf("all-time counter = %d, want 3", got)
	}
	if got := mc.totals["usage:acme:chatbot:messages:2025-06-15"]; got != 3 {
		t.Errorf("daily counter = %d, want 3", got)
	}
}

func TestCounterFailureDoesNotDropEvent(t *testing.T) {
	mc := newMockCounters()
	mc.err = errors.New("redis down")
	c := NewCollector(&mockStore{}, mc, 100, time.Hour)

	if err := c.Track(context.Background(), sampleEvent(MetricMessages)); err != nil {
		t.Fatalf("Track() should absorb counter errors, got %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buffer) != 1 {
		t.Fatalf("expected event buffered despite counter failure, got %d", len(c.buffer))
	}
}

func TestConcurrentTrack(t *testing.T) {
	ms := &mockStore{}
	c := NewCollector(ms, nil, 10_000, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.Track(context.Background(), sampleEvent(MetricMessages))
			}
		}()
	}
	wg.Wait()

	c.flush()
	if ms.totalInserted() != 1000 {
		t.Fatalf("expected 1000 events, got %d", ms.totalInserted())
	}
}
