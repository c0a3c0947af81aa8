package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackmatrix/internal/database"
	bridgeerrors "slackmatrix/internal/errors"
	"slackmatrix/internal/metrics"
	"slackmatrix/internal/models"
)

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]*models.LedgerEntry

	// Failure injection: downErr fails every call while set; the
	// counters fail that many outcome writes before recovering.
	downErr            error
	markDeliveredFails int
	markFailedFails    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]*models.LedgerEntry)}
}

func (l *fakeLedger) setDown(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.downErr = err
}

func (l *fakeLedger) BeginDelivery(ctx context.Context, key string) (*models.LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.downErr != nil {
		return nil, false, l.downErr
	}
	if e, ok := l.entries[key]; ok {
		copied := *e
		return &copied, false, nil
	}
	e := &models.LedgerEntry{Key: key, Outcome: models.DeliveryOutcomePending}
	l.entries[key] = e
	copied := *e
	return &copied, true, nil
}

func (l *fakeLedger) RecordAttempt(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		e.AttemptCount++
	}
	return nil
}

func (l *fakeLedger) setOutcome(key string, outcome models.DeliveryOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.downErr != nil {
		return l.downErr
	}
	if e, ok := l.entries[key]; ok && e.Outcome == models.DeliveryOutcomePending {
		e.Outcome = outcome
	}
	return nil
}

func (l *fakeLedger) MarkDelivered(ctx context.Context, key string) error {
	l.mu.Lock()
	if l.markDeliveredFails > 0 {
		l.markDeliveredFails--
		l.mu.Unlock()
		return fmt.Errorf("database is locked")
	}
	l.mu.Unlock()
	return l.setOutcome(key, models.DeliveryOutcomeDelivered)
}

func (l *fakeLedger) MarkFailed(ctx context.Context, key string) error {
	l.mu.Lock()
	if l.markFailedFails > 0 {
		l.markFailedFails--
		l.mu.Unlock()
		return fmt.Errorf("database is locked")
	}
	l.mu.Unlock()
	return l.setOutcome(key, models.DeliveryOutcomeFailed)
}

func (l *fakeLedger) outcome(key string) models.DeliveryOutcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		return e.Outcome
	}
	return ""
}

// scriptedHandler records delivery order per room and pops scripted
// errors per source event ID.
type scriptedHandler struct {
	mu      sync.Mutex
	byRoom  map[string][]string
	errs    map[string][]error
	settled chan string
}

func newScriptedHandler() *scriptedHandler {
	return &scriptedHandler{
		byRoom:  make(map[string][]string),
		errs:    make(map[string][]error),
		settled: make(chan string, 256),
	}
}

func (h *scriptedHandler) failWith(sourceEventID string, errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs[sourceEventID] = append(h.errs[sourceEventID], errs...)
}

func (h *scriptedHandler) Deliver(ctx context.Context, evt *models.BridgeEvent) error {
	h.mu.Lock()
	if pending := h.errs[evt.SourceEventID]; len(pending) > 0 {
		err := pending[0]
		h.errs[evt.SourceEventID] = pending[1:]
		h.mu.Unlock()
		return err
	}
	h.byRoom[evt.SourceRoomID] = append(h.byRoom[evt.SourceRoomID], evt.SourceEventID)
	h.mu.Unlock()
	h.settled <- evt.SourceEventID
	return nil
}

func (h *scriptedHandler) delivered(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.byRoom[room]...)
}

func testQueueConfig() models.QueueConfig {
	return models.QueueConfig{
		IntakeSize:       64,
		Workers:          4,
		EditGraceSec:     1,
		DrainTimeoutSec:  5,
		SlackRatePerSec:  0, // unlimited in tests unless set
		MatrixRatePerSec: 0,
		RateBurst:        1,
	}
}

func testRetryConfig() models.RetryConfig {
	return models.RetryConfig{InitialBackoffMs: 10, MaxBackoffMs: 50, MaxAttempts: 3}
}

func startDispatcher(t *testing.T, cfg models.QueueConfig, handler Handler, ledger Ledger) (*Dispatcher, *metrics.Registry) {
	t.Helper()
	registry := metrics.NewRegistry()
	d := NewDispatcher(cfg, testRetryConfig(), handler, ledger, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	return d, registry
}

func slackMessage(room, eventID string) *models.BridgeEvent {
	return &models.BridgeEvent{
		Kind:          models.EventMessage,
		Source:        models.SourceSlack,
		SourceRoomID:  room,
		SourceEventID: eventID,
		Body:          "body " + eventID,
		ReceivedAt:    time.Now(),
	}
}

func waitDrained(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for d.Depth() > 0 {
		select {
		case <-deadline:
			t.Fatalf("dispatcher did not drain, depth=%d", d.Depth())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPerRoomOrderingUnderConcurrency(t *testing.T) {
	handler := newScriptedHandler()
	d, _ := startDispatcher(t, testQueueConfig(), handler, newFakeLedger())

	const perRoom = 20
	rooms := []string{"C1", "C2", "C3"}
	for i := 0; i < perRoom; i++ {
		for _, room := range rooms {
			d.Enqueue(slackMessage(room, fmt.Sprintf("%s-%03d", room, i)))
		}
	}
	waitDrained(t, d)

	for _, room := range rooms {
		got := handler.delivered(room)
		require.Len(t, got, perRoom, "room %s", room)
		for i, id := range got {
			assert.Equal(t, fmt.Sprintf("%s-%03d", room, i), id)
		}
	}
}

func TestRedeliveryIsDeduplicatedByLedger(t *testing.T) {
	db, err := database.New(models.DatabaseConfig{Path: filepath.Join(t.TempDir(), "bridge.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	handler := newScriptedHandler()
	d, registry := startDispatcher(t, testQueueConfig(), handler, db)

	evt := slackMessage("C1", "1700000000.000100")
	d.Enqueue(evt)
	waitDrained(t, d)

	// The transport redelivers the same upstream event.
	redelivered := *evt
	d.Enqueue(&redelivered)
	waitDrained(t, d)

	assert.Equal(t, []string{"1700000000.000100"}, handler.delivered("C1"))
	assert.Equal(t, 1.0, registry.CounterValue(metrics.DeliveriesDeduplicated, nil))
}

func TestRetryAfterDoesNotStarveOtherRooms(t *testing.T) {
	cfg := testQueueConfig()
	cfg.Workers = 1
	handler := newScriptedHandler()
	handler.failWith("slow-1", bridgeerrors.RateLimited(300*time.Millisecond, "slow down"))
	d, _ := startDispatcher(t, cfg, handler, newFakeLedger())

	d.Enqueue(slackMessage("C-slow", "slow-1"))
	d.Enqueue(slackMessage("C-fast", "fast-1"))
	d.Enqueue(slackMessage("C-fast", "fast-2"))

	// With a single worker, the rate-limited room must release it so
	// the other room completes during the wait.
	deadline := time.After(2 * time.Second)
	for len(handler.delivered("C-fast")) < 2 {
		select {
		case <-deadline:
			t.Fatal("fast room starved by rate-limited room")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Empty(t, handler.delivered("C-slow"))

	waitDrained(t, d)
	assert.Equal(t, []string{"slow-1"}, handler.delivered("C-slow"))
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	handler := newScriptedHandler()
	handler.failWith("e1",
		bridgeerrors.Transient(fmt.Errorf("conn reset"), "send failed"),
		bridgeerrors.Transient(fmt.Errorf("conn reset"), "send failed"))
	d, registry := startDispatcher(t, testQueueConfig(), handler, newFakeLedger())

	d.Enqueue(slackMessage("C1", "e1"))
	waitDrained(t, d)

	assert.Equal(t, []string{"e1"}, handler.delivered("C1"))
	assert.Equal(t, 2.0, registry.CounterValue(metrics.DeliveryRetries, nil))
}

func TestRetryBudgetExhaustionMarksFailed(t *testing.T) {
	ledger := newFakeLedger()
	handler := newScriptedHandler()
	for i := 0; i < 10; i++ {
		handler.failWith("doomed", bridgeerrors.Transient(fmt.Errorf("down"), "send failed"))
	}
	d, registry := startDispatcher(t, testQueueConfig(), handler, ledger)

	evt := slackMessage("C1", "doomed")
	d.Enqueue(evt)
	waitDrained(t, d)

	assert.Empty(t, handler.delivered("C1"))
	assert.Equal(t, 1.0, registry.CounterValue(metrics.DeliveryFailures, nil))
	entry, created, err := ledger.BeginDelivery(context.Background(), idempotencyKey(evt))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.DeliveryOutcomeFailed, entry.Outcome)
}

func TestEditGraceDefersOnceForMissingTarget(t *testing.T) {
	handler := newScriptedHandler()
	handler.failWith("edit-1", bridgeerrors.New(bridgeerrors.ErrCodeNotFound, "target not mapped"))
	d, _ := startDispatcher(t, testQueueConfig(), handler, newFakeLedger())

	edit := slackMessage("C1", "edit-1")
	edit.Kind = models.EventEdit
	edit.TargetEventID = "1700000000.000100"

	start := time.Now()
	d.Enqueue(edit)
	waitDrained(t, d)

	assert.Equal(t, []string{"edit-1"}, handler.delivered("C1"))
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestPermanentFailureForUnresolvableEdit(t *testing.T) {
	ledger := newFakeLedger()
	handler := newScriptedHandler()
	handler.failWith("edit-gone",
		bridgeerrors.New(bridgeerrors.ErrCodeNotFound, "target not mapped"),
		bridgeerrors.New(bridgeerrors.ErrCodeNotFound, "target not mapped"))
	d, registry := startDispatcher(t, testQueueConfig(), handler, ledger)

	edit := slackMessage("C1", "edit-gone")
	edit.Kind = models.EventEdit
	d.Enqueue(edit)
	waitDrained(t, d)

	// One grace deferral, then the second NotFound is permanent.
	assert.Empty(t, handler.delivered("C1"))
	assert.Equal(t, 1.0, registry.CounterValue(metrics.DeliveryFailures, nil))
}

func TestIntakeDropsOldestWhenFull(t *testing.T) {
	cfg := testQueueConfig()
	cfg.IntakeSize = 2
	cfg.Workers = 1

	registry := metrics.NewRegistry()
	handler := newScriptedHandler()
	d := NewDispatcher(cfg, testRetryConfig(), handler, newFakeLedger(), registry, nil)
	// Not started: everything stays in the intake buffer.

	d.Enqueue(slackMessage("C1", "old-1"))
	d.Enqueue(slackMessage("C1", "old-2"))
	d.Enqueue(slackMessage("C1", "new-3"))

	assert.Equal(t, 1.0, registry.CounterValue(metrics.IntakeDropped, nil))
	assert.Equal(t, int64(2), d.Depth())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d.Start(ctx)
	waitDrained(t, d)
	assert.Equal(t, []string{"old-2", "new-3"}, handler.delivered("C1"))
}

func TestStoreOutageHoldsDeliveryUntilRecovery(t *testing.T) {
	ledger := newFakeLedger()
	ledger.setDown(fmt.Errorf("database is locked"))
	handler := newScriptedHandler()
	d, registry := startDispatcher(t, testQueueConfig(), handler, ledger)

	evt := slackMessage("C1", "held-1")
	d.Enqueue(evt)

	// Long enough for far more cycles than the delivery budget allows:
	// the event must stay queued, unresolved and unbudgeted, with no
	// outcome forced while the store is down.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int64(1), d.Depth())
	assert.Empty(t, handler.delivered("C1"))
	assert.False(t, d.StoreAvailable())
	assert.Equal(t, 0.0, registry.CounterValue(metrics.DeliveryFailures, nil))

	ledger.setDown(nil)
	waitDrained(t, d)
	assert.Equal(t, []string{"held-1"}, handler.delivered("C1"))
	assert.True(t, d.StoreAvailable())
	assert.Equal(t, models.DeliveryOutcomeDelivered, ledger.outcome(idempotencyKey(evt)))
}

func TestPermanentFailureOutcomeSurvivesStoreOutage(t *testing.T) {
	ledger := newFakeLedger()
	ledger.mu.Lock()
	ledger.markFailedFails = 2
	ledger.mu.Unlock()

	handler := newScriptedHandler()
	handler.failWith("doomed", bridgeerrors.New(bridgeerrors.ErrCodeInvalidInput, "unmappable"))
	d, registry := startDispatcher(t, testQueueConfig(), handler, ledger)

	evt := slackMessage("C1", "doomed")
	d.Enqueue(evt)
	waitDrained(t, d)

	// The item is held until the failed outcome actually lands.
	assert.Empty(t, handler.delivered("C1"))
	assert.Equal(t, models.DeliveryOutcomeFailed, ledger.outcome(idempotencyKey(evt)))
	assert.Equal(t, 1.0, registry.CounterValue(metrics.DeliveryFailures, nil))
}

func TestDeliveredOutcomeSurvivesStoreOutageWithoutResend(t *testing.T) {
	ledger := newFakeLedger()
	ledger.mu.Lock()
	ledger.markDeliveredFails = 2
	ledger.mu.Unlock()

	handler := newScriptedHandler()
	d, _ := startDispatcher(t, testQueueConfig(), handler, ledger)

	evt := slackMessage("C1", "once-1")
	d.Enqueue(evt)
	waitDrained(t, d)

	// The outcome write is retried, the send is not.
	assert.Equal(t, []string{"once-1"}, handler.delivered("C1"))
	assert.Equal(t, models.DeliveryOutcomeDelivered, ledger.outcome(idempotencyKey(evt)))
}

func TestUnfinishedReturnsQueuedEventsAfterStop(t *testing.T) {
	ledger := newFakeLedger()
	ledger.setDown(fmt.Errorf("database is locked"))
	handler := newScriptedHandler()
	registry := metrics.NewRegistry()
	d := NewDispatcher(testQueueConfig(), testRetryConfig(), handler, ledger, registry, nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	d.Enqueue(slackMessage("C1", "q-1"))
	d.Enqueue(slackMessage("C1", "q-2"))
	d.Enqueue(slackMessage("C2", "q-3"))

	// Let the pump route everything into room queues before stopping.
	deadline := time.After(2 * time.Second)
	for len(d.intake) > 0 {
		select {
		case <-deadline:
			t.Fatal("intake never routed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	events := d.Unfinished()
	ids := make([]string, 0, len(events))
	for _, evt := range events {
		ids = append(ids, evt.SourceEventID)
	}
	assert.ElementsMatch(t, []string{"q-1", "q-2", "q-3"}, ids)

	// Per-room order is preserved for replay.
	var room1 []string
	for _, evt := range events {
		if evt.SourceRoomID == "C1" {
			room1 = append(room1, evt.SourceEventID)
		}
	}
	assert.Equal(t, []string{"q-1", "q-2"}, room1)
}

func TestDrainStopsIntake(t *testing.T) {
	handler := newScriptedHandler()
	d, _ := startDispatcher(t, testQueueConfig(), handler, newFakeLedger())

	d.Enqueue(slackMessage("C1", "before"))
	require.NoError(t, d.Drain(context.Background()))

	d.Enqueue(slackMessage("C1", "after"))
	assert.Equal(t, int64(0), d.Depth())
	assert.Equal(t, []string{"before"}, handler.delivered("C1"))
}
