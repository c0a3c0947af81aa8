// Package dispatch owns outbound delivery: a bounded intake, per-room
// serial queues served by a shared worker pool, ledger-backed
// idempotency and the retry policy.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	bridgeerrors "slackmatrix/internal/errors"
	"slackmatrix/internal/metrics"
	"slackmatrix/internal/models"
	"slackmatrix/internal/retry"
)

// Handler performs the actual cross-network delivery of one event.
type Handler interface {
	Deliver(ctx context.Context, evt *models.BridgeEvent) error
}

// Ledger is the durable idempotency store for deliveries.
type Ledger interface {
	BeginDelivery(ctx context.Context, key string) (*models.LedgerEntry, bool, error)
	RecordAttempt(ctx context.Context, key string) error
	MarkDelivered(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key string) error
}

// item is one queued delivery. attempts counts failures charged against
// the retry budget; rate-limit waits and store outages are not charged.
// failPending marks an item whose permanent failure still awaits its
// ledger write.
type item struct {
	evt          *models.BridgeEvent
	attempts     int
	storeRetries int
	graceUsed    bool
	failPending  bool
	donePending  bool
}

// roomQueue serializes deliveries for one source room. The active flag
// hands ownership to exactly one worker (or pending timer) at a time,
// which is what preserves per-room ordering under a shared pool.
type roomQueue struct {
	key string

	mu     sync.Mutex
	items  []*item
	active bool
}

// Dispatcher routes inbound events to the handler with per-room
// ordering, bounded buffering and idempotent, retried delivery.
type Dispatcher struct {
	cfg      models.QueueConfig
	handler  Handler
	ledger   Ledger
	registry *metrics.Registry
	logger   *logrus.Logger
	backoff  *retry.Backoff

	maxAttempts int

	slackLimiter  *Limiter
	matrixLimiter *Limiter

	intake chan *models.BridgeEvent
	ready  chan *roomQueue

	mu     sync.Mutex
	queues map[string]*roomQueue

	depth     atomic.Int64
	closed    atomic.Bool
	storeDown atomic.Bool
	wg        sync.WaitGroup
}

func NewDispatcher(cfg models.QueueConfig, retryCfg models.RetryConfig, handler Handler, ledger Ledger, registry *metrics.Registry, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Dispatcher{
		cfg:      cfg,
		handler:  handler,
		ledger:   ledger,
		registry: registry,
		logger:   logger,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(retryCfg.InitialBackoffMs) * time.Millisecond,
			MaxDelay:     time.Duration(retryCfg.MaxBackoffMs) * time.Millisecond,
			Multiplier:   2.0,
			MaxAttempts:  retryCfg.MaxAttempts,
			Jitter:       true,
		}),
		maxAttempts:   retryCfg.MaxAttempts,
		slackLimiter:  NewLimiter(cfg.SlackRatePerSec, cfg.RateBurst),
		matrixLimiter: NewLimiter(cfg.MatrixRatePerSec, cfg.RateBurst),
		intake:        make(chan *models.BridgeEvent, cfg.IntakeSize),
		ready:         make(chan *roomQueue, cfg.IntakeSize+cfg.Workers),
		queues:        make(map[string]*roomQueue),
	}
}

// Start launches the intake pump and worker pool. They run until ctx is
// cancelled; call Drain first for a graceful stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.pump(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Enqueue hands one inbound event to the dispatcher. The intake is
// bounded: when full, the oldest waiting event is dropped and counted.
// Never blocks, so ingestors keep acking their transports.
func (d *Dispatcher) Enqueue(evt *models.BridgeEvent) {
	if d.closed.Load() {
		return
	}
	for {
		select {
		case d.intake <- evt:
			d.bumpDepth(1)
			return
		default:
		}
		select {
		case dropped := <-d.intake:
			d.bumpDepth(-1)
			d.registry.IncrementCounter(metrics.IntakeDropped, nil)
			d.logger.WithFields(logrus.Fields{
				"kind":   dropped.Kind,
				"room":   dropped.SourceRoomID,
				"source": dropped.Source,
			}).Warn("Intake full, dropping oldest event")
		default:
		}
	}
}

// Drain stops intake and waits for queued work to finish, up to the
// configured drain timeout.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.closed.Store(true)

	deadline := time.Duration(d.cfg.DrainTimeoutSec) * time.Second
	drainCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d.depth.Load() == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			return fmt.Errorf("drain timed out with %d events pending", d.depth.Load())
		case <-ticker.C:
		}
	}
}

// Depth returns the number of events accepted but not yet resolved.
func (d *Dispatcher) Depth() int64 {
	return d.depth.Load()
}

// StoreAvailable reports whether the last ledger interaction succeeded.
// Ingestors consult it to pause new-work admission during a store
// outage; queued work keeps retrying unbudgeted until the store
// recovers.
func (d *Dispatcher) StoreAvailable() bool {
	return !d.storeDown.Load()
}

// Unfinished returns the events still queued after a drain timeout, in
// per-room order, so the caller can persist them for the next start.
// Call only after the Start context is cancelled; it waits for the
// worker pool to stop so the snapshot is stable. Items whose delivery
// completed but whose ledger write is still owed are excluded, since
// replaying them would re-send.
func (d *Dispatcher) Unfinished() []*models.BridgeEvent {
	d.wg.Wait()

	var events []*models.BridgeEvent
	d.mu.Lock()
	for _, q := range d.queues {
		q.mu.Lock()
		for _, it := range q.items {
			if it.donePending {
				continue
			}
			events = append(events, it.evt)
		}
		q.mu.Unlock()
	}
	d.mu.Unlock()

	for {
		select {
		case evt := <-d.intake:
			events = append(events, evt)
		default:
			return events
		}
	}
}

func (d *Dispatcher) bumpDepth(delta int64) {
	d.registry.SetGauge(metrics.QueueDepth, float64(d.depth.Add(delta)), nil)
}

func (d *Dispatcher) pump(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-d.intake:
			d.route(ctx, evt)
		}
	}
}

// route appends the event to its room queue and marks the queue ready
// if no worker currently owns it.
func (d *Dispatcher) route(ctx context.Context, evt *models.BridgeEvent) {
	key := string(evt.Source) + "|" + evt.SourceRoomID

	d.mu.Lock()
	q, ok := d.queues[key]
	if !ok {
		q = &roomQueue{key: key}
		d.queues[key] = q
	}
	d.mu.Unlock()

	q.mu.Lock()
	q.items = append(q.items, &item{evt: evt})
	claim := !q.active
	if claim {
		q.active = true
	}
	q.mu.Unlock()

	if claim {
		d.submit(ctx, q)
	}
}

func (d *Dispatcher) submit(ctx context.Context, q *roomQueue) {
	select {
	case d.ready <- q:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-d.ready:
			d.service(ctx, q)
		}
	}
}

// service handles the head item of a queue. On success or permanent
// failure the item is removed and the queue re-submitted if more work
// remains, so rooms round-robin across the pool. On a scheduled retry
// the item stays at the head and a timer returns the queue to the pool,
// freeing this worker for other rooms.
func (d *Dispatcher) service(ctx context.Context, q *roomQueue) {
	if ctx.Err() != nil {
		return
	}

	q.mu.Lock()
	if len(q.items) == 0 {
		q.active = false
		q.mu.Unlock()
		return
	}
	it := q.items[0]
	q.mu.Unlock()

	delay, done := d.process(ctx, it)
	if !done {
		if ctx.Err() == nil {
			time.AfterFunc(delay, func() { d.submit(ctx, q) })
		}
		return
	}

	q.mu.Lock()
	q.items = q.items[1:]
	more := len(q.items) > 0
	if !more {
		q.active = false
	}
	q.mu.Unlock()
	d.bumpDepth(-1)

	if more {
		d.submit(ctx, q)
	}
}

// process attempts one delivery. It returns done=true when the item is
// resolved (delivered, deduplicated, skipped or permanently failed) and
// otherwise the delay before the next attempt.
func (d *Dispatcher) process(ctx context.Context, it *item) (time.Duration, bool) {
	evt := it.evt
	key := idempotencyKey(evt)
	log := d.logger.WithFields(logrus.Fields{
		"kind":   evt.Kind,
		"source": evt.Source,
		"room":   evt.SourceRoomID,
		"key":    key,
	})

	if it.donePending {
		return d.succeed(ctx, it, log)
	}
	if it.failPending {
		return d.fail(ctx, it, log)
	}

	entry, created, err := d.ledger.BeginDelivery(ctx, key)
	if err != nil {
		return d.deferForStore(ctx, it, log, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeStoreUnavailable, "ledger unavailable"))
	}
	d.storeDown.Store(false)
	if !created && entry.Outcome.IsTerminal() {
		d.registry.IncrementCounter(metrics.DeliveriesDeduplicated, nil)
		log.Debug("Skipping already-resolved delivery")
		return 0, true
	}

	if err := d.ledger.RecordAttempt(ctx, key); err != nil {
		log.WithError(err).Warn("Failed to record delivery attempt")
	}

	// A cancelled wait means shutdown; leave the item queued so it is
	// persisted for the next start instead of vanishing.
	if err := d.limiterFor(evt.Source).Wait(ctx); err != nil {
		return 0, false
	}

	err = d.handler.Deliver(ctx, evt)
	if err == nil {
		it.donePending = true
		return d.succeed(ctx, it, log)
	}

	// Platform-advertised backpressure: honor the interval exactly and
	// do not charge it against the retry budget.
	if retryAfter := bridgeerrors.GetRetryAfter(err); retryAfter > 0 {
		log.WithField("retry_after", retryAfter).Info("Delivery rate limited")
		d.registry.IncrementCounter(metrics.DeliveryRetries, nil)
		return retryAfter, false
	}

	// An edit, delete or reaction can race its target's delivery; give
	// the target one grace interval to land before giving up.
	if bridgeerrors.GetCode(err) == bridgeerrors.ErrCodeNotFound && targetsExistingMessage(evt.Kind) && !it.graceUsed {
		it.graceUsed = true
		log.Info("Target not bridged yet, deferring once")
		return time.Duration(d.cfg.EditGraceSec) * time.Second, false
	}

	// A store outage must not consume the delivery budget or resolve
	// the event; hold it and retry until the store recovers.
	if bridgeerrors.GetCode(err) == bridgeerrors.ErrCodeStoreUnavailable {
		return d.deferForStore(ctx, it, log, err)
	}

	if bridgeerrors.IsRetryable(err) {
		return d.chargeAttempt(ctx, it, log, err)
	}

	log.WithError(err).Error("Delivery failed permanently")
	it.failPending = true
	return d.fail(ctx, it, log)
}

// chargeAttempt books one failure against the retry budget and either
// schedules the next attempt or resolves the item as failed.
func (d *Dispatcher) chargeAttempt(ctx context.Context, it *item, log *logrus.Entry, err error) (time.Duration, bool) {
	it.attempts++
	if it.attempts >= d.maxAttempts {
		log.WithError(err).WithField("attempts", it.attempts).Error("Retry budget exhausted")
		it.failPending = true
		return d.fail(ctx, it, log)
	}
	d.registry.IncrementCounter(metrics.DeliveryRetries, nil)
	delay := d.backoff.NextDelay(it.attempts)
	log.WithError(err).WithFields(logrus.Fields{
		"attempt": it.attempts,
		"delay":   delay,
	}).Warn("Delivery failed, will retry")
	return delay, false
}

// deferForStore schedules an unbudgeted retry while the store is
// unreachable, keeping the item at its queue head. The flag pauses
// new-work admission upstream until a ledger call succeeds again. A
// cancelled context is shutdown, not an outage: the item is left
// queued for persistence without flagging the store.
func (d *Dispatcher) deferForStore(ctx context.Context, it *item, log *logrus.Entry, err error) (time.Duration, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	d.storeDown.Store(true)
	it.storeRetries++
	d.registry.IncrementCounter(metrics.DeliveryRetries, nil)
	delay := d.backoff.NextDelay(it.storeRetries)
	log.WithError(err).WithFields(logrus.Fields{
		"store_retries": it.storeRetries,
		"delay":         delay,
	}).Warn("Store unavailable, holding delivery until it recovers")
	return delay, false
}

// succeed records the delivered outcome. The flag on the item keeps a
// store-outage retry from re-sending an already delivered event.
func (d *Dispatcher) succeed(ctx context.Context, it *item, log *logrus.Entry) (time.Duration, bool) {
	key := idempotencyKey(it.evt)
	if err := d.ledger.MarkDelivered(ctx, key); err != nil {
		return d.deferForStore(ctx, it, log, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeStoreUnavailable, "delivered but could not record outcome"))
	}
	d.storeDown.Store(false)
	return 0, true
}

// fail records the terminal outcome in the ledger. The item is not
// resolved until the write lands: a permanent failure must never
// vanish without a recorded outcome.
func (d *Dispatcher) fail(ctx context.Context, it *item, log *logrus.Entry) (time.Duration, bool) {
	key := idempotencyKey(it.evt)
	if err := d.ledger.MarkFailed(ctx, key); err != nil {
		return d.deferForStore(ctx, it, log, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeStoreUnavailable, "could not record permanent failure"))
	}
	d.storeDown.Store(false)
	d.registry.IncrementCounter(metrics.DeliveryFailures, nil)
	return 0, true
}

// limiterFor returns the bucket of the destination network, which is
// the opposite side from the event's source.
func (d *Dispatcher) limiterFor(source models.SourceNetwork) *Limiter {
	if source == models.SourceMatrix {
		return d.slackLimiter
	}
	return d.matrixLimiter
}

func targetsExistingMessage(kind models.EventKind) bool {
	switch kind {
	case models.EventEdit, models.EventDelete, models.EventReactionAdd, models.EventReactionRemove:
		return true
	}
	return false
}

// idempotencyKey identifies one logical delivery. It is derived only
// from source-network identifiers so a redelivered upstream event maps
// to the same ledger row.
func idempotencyKey(evt *models.BridgeEvent) string {
	return fmt.Sprintf("%s|%s|%s|%s", evt.Source, evt.Kind, evt.SourceRoomID, evt.SourceEventID)
}
