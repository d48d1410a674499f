// Package reconciler drives the sync cycle: discover shipped fulfillments,
// select due shipments from the ledger, ask the carrier for each one and let
// the emitter decide what reaches the platform.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"shipsync/internal/broker/messages"
	"shipsync/internal/cache"
	"shipsync/internal/integrations/carrier"
	"shipsync/internal/integrations/platform"
	"shipsync/internal/models"
	"shipsync/internal/services/emitter"
	"shipsync/internal/storage/pgledger"
)

type Ledger interface {
	UpsertShipments(ctx context.Context, items []models.ShipmentUpsertInput) error
	SelectPending(ctx context.Context, now time.Time, limit int) ([]*models.Shipment, error)
	RecordCheck(ctx context.Context, rec pgledger.CheckRecord) error
	MarkDelivered(ctx context.Context, orderID, fulfillmentID uint64, deliveredAt *time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Reconciler struct {
	ledger   Ledger
	carrier  carrier.Client
	platform platform.Client
	emitter  *emitter.Emitter

	producer Producer
	topic    string

	rl    RateLimiter
	cache cache.BytesCache

	planner *Planner

	pollInterval      time.Duration
	batchSize         int
	sleepBetween      time.Duration
	carrierRatePerMin int64
	observationTTL    time.Duration

	sleep func(time.Duration)

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalDiscovered     atomic.Int64
	totalProcessed      atomic.Int64
	totalCreated        atomic.Int64
	totalSkipped        atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(ledger Ledger, cr carrier.Client, pl platform.Client) *Reconciler {
	return &Reconciler{
		ledger:   ledger,
		carrier:  cr,
		platform: pl,
		emitter:  emitter.New(pl),

		planner: DefaultPlanner(),

		pollInterval:      5 * time.Minute,
		batchSize:         250,
		sleepBetween:      500 * time.Millisecond,
		carrierRatePerMin: 60,

		sleep: time.Sleep,

		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Reconciler) WithSettings(pollInterval time.Duration, batchSize int, sleepBetween time.Duration, carrierRatePerMin int64) *Reconciler {
	if pollInterval > 0 {
		r.pollInterval = pollInterval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if sleepBetween >= 0 {
		r.sleepBetween = sleepBetween
	}
	if carrierRatePerMin >= 0 {
		r.carrierRatePerMin = carrierRatePerMin
	}
	return r
}

func (r *Reconciler) WithPlanner(cfg PlannerConfig) *Reconciler {
	r.planner = NewPlanner(cfg, nil)
	return r
}

// WithAudit publishes a ShipmentReconciled record per cycle to the given topic.
func (r *Reconciler) WithAudit(producer Producer, topic string) *Reconciler {
	r.producer = producer
	r.topic = topic
	return r
}

func (r *Reconciler) WithRateLimiter(rl RateLimiter) *Reconciler {
	r.rl = rl
	return r
}

// WithObservationCache short-circuits repeat carrier lookups for the same
// tracking number inside the TTL.
func (r *Reconciler) WithObservationCache(c cache.BytesCache, ttl time.Duration) *Reconciler {
	r.cache = c
	r.observationTTL = ttl
	return r
}

func (r *Reconciler) withSleep(fn func(time.Duration)) *Reconciler {
	r.sleep = fn
	return r
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (r *Reconciler) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastCycleAt     *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	TotalDiscovered int64      `json:"totalDiscovered"`
	TotalProcessed  int64      `json:"totalProcessed"`
	TotalCreated    int64      `json:"totalCreated"`
	TotalSkipped    int64      `json:"totalSkipped"`
	TotalErrors     int64      `json:"totalErrors"`
	LastError       string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalDiscovered: r.totalDiscovered.Load(),
		TotalProcessed:  r.totalProcessed.Load(),
		TotalCreated:    r.totalCreated.Load(),
		TotalSkipped:    r.totalSkipped.Load(),
		TotalErrors:     r.totalErrors.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := r.RunOnce(ctx); err != nil {
				r.noteError(err)
				slog.Error("reconcile cycle", "error", err.Error())
			}
		case <-r.triggerCh:
			if err := r.RunOnce(ctx); err != nil {
				r.noteError(err)
				slog.Error("reconcile cycle", "error", err.Error())
			}
		}
	}
}

// RunOnce performs one full cycle: discovery, selection, then a sequential
// pass over the due shipments. Only ledger failures are returned; carrier and
// platform failures are recorded on the shipment they belong to and the pass
// moves on.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	r.lastCycleUnixNano.Store(now.UnixNano())

	if err := r.discover(ctx); err != nil {
		return err
	}

	items, err := r.ledger.SelectPending(ctx, now, r.batchSize)
	if err != nil {
		return err
	}
	slog.Info("reconcile batch", "due", len(items))

	for i, sh := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i > 0 && r.sleepBetween > 0 {
			r.sleep(r.sleepBetween)
		}
		if err := r.processOne(ctx, sh); err != nil {
			return err
		}
		r.totalProcessed.Add(1)
	}
	return nil
}

// discover lists shipped fulfillments on the platform and seeds the ledger.
// A platform listing failure is logged and skipped so known shipments still
// get their cycle; a ledger failure aborts the run.
func (r *Reconciler) discover(ctx context.Context) error {
	fs, err := r.platform.ListShippedFulfillments(ctx)
	if err != nil {
		r.noteError(err)
		slog.Error("list shipped fulfillments", "error", err.Error())
		return nil
	}

	in := make([]models.ShipmentUpsertInput, 0, len(fs))
	for _, f := range fs {
		in = append(in, models.ShipmentUpsertInput{
			OrderID:        f.OrderID,
			FulfillmentID:  f.FulfillmentID,
			TrackingNumber: f.TrackingNumber,
			ShippedAt:      f.ShippedAt,
		})
	}
	if err := r.ledger.UpsertShipments(ctx, in); err != nil {
		return err
	}
	r.totalDiscovered.Add(int64(len(in)))
	slog.Info("discovery complete", "fulfillments", len(in))
	return nil
}

func (r *Reconciler) processOne(ctx context.Context, sh *models.Shipment) error {
	now := time.Now().UTC()
	log := slog.With("order_id", sh.OrderID, "fulfillment_id", sh.FulfillmentID, "tracking_number", sh.TrackingNumber)

	if r.rl != nil && r.carrierRatePerMin > 0 {
		minuteKey := fmt.Sprintf("rl:carrier:%s", now.Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.carrierRatePerMin, 70*time.Second)
		if err != nil {
			// The limiter is advisory; a dead redis must not stop the sync.
			log.Warn("rate limiter unavailable", "error", err.Error())
		} else if !allowed {
			log.Warn("carrier rate limit reached", "count", n)
			r.sleep(500 * time.Millisecond)
		}
	}

	obs, err := r.observe(ctx, sh.TrackingNumber)
	if err != nil {
		return r.failShipment(ctx, sh, now, err, log)
	}

	if obs == nil {
		next := now.Add(r.planner.NoObservationDelay())
		rec := pgledger.CheckRecord{
			OrderID:        sh.OrderID,
			FulfillmentID:  sh.FulfillmentID,
			CheckedAt:      now,
			CarrierStatus:  sh.LastCarrierStatus,
			CarrierEventAt: sh.LastCarrierEventAt,
			PlatformStatus: sh.LastPlatformStatus,
			NextCheckAt:    &next,
		}
		if err := r.ledger.RecordCheck(ctx, rec); err != nil {
			return err
		}
		r.totalSkipped.Add(1)
		log.Info("no carrier events yet")
		r.audit(ctx, sh, now, nil, "skipped", "", "no_events", &next, nil)
		return nil
	}

	existing, err := r.platform.ListFulfillmentEvents(ctx, sh.OrderID, sh.FulfillmentID)
	if err != nil {
		return r.failShipment(ctx, sh, now, errors.Wrap(err, "list fulfillment events"), log)
	}

	act, err := r.emitter.Reconcile(ctx, sh, *obs, existing)
	if err != nil {
		return r.failShipment(ctx, sh, now, err, log)
	}

	newStatus := sh.LastPlatformStatus
	if act.Create {
		newStatus = act.Status
	}
	next := now.Add(r.planner.RecheckDelay())
	rec := pgledger.CheckRecord{
		OrderID:        sh.OrderID,
		FulfillmentID:  sh.FulfillmentID,
		CheckedAt:      now,
		CarrierStatus:  obs.Text,
		CarrierEventAt: obs.OccurredAt,
		PlatformStatus: newStatus,
		NextCheckAt:    &next,
	}
	if err := r.ledger.RecordCheck(ctx, rec); err != nil {
		return err
	}

	if act.Create && act.Status == models.CategoryDelivered {
		if err := r.ledger.MarkDelivered(ctx, sh.OrderID, sh.FulfillmentID, obs.OccurredAt); err != nil {
			return err
		}
	} else if act.Reason == emitter.ReasonAlreadyDelivered {
		// The platform history is already terminal (a crash between the event
		// write and the ledger update, or an event posted by other means).
		// Park the row so it stops being polled.
		if err := r.ledger.MarkDelivered(ctx, sh.OrderID, sh.FulfillmentID, nil); err != nil {
			return err
		}
	}

	if act.Create {
		r.totalCreated.Add(1)
		log.Info("fulfillment event created", "status", string(act.Status), "carrier_status", obs.Text)
		r.audit(ctx, sh, now, obs, "created", string(act.Status), "", &next, nil)
	} else {
		r.totalSkipped.Add(1)
		log.Info("no event needed", "reason", act.Reason, "carrier_status", obs.Text)
		r.audit(ctx, sh, now, obs, "skipped", "", act.Reason, &next, nil)
	}
	return nil
}

// failShipment records a failed cycle against the shipment with the backoff
// ladder and lets the batch continue. Only a ledger write failure escapes.
func (r *Reconciler) failShipment(ctx context.Context, sh *models.Shipment, now time.Time, cause error, log *slog.Logger) error {
	e := cause.Error()
	next := now.Add(r.planner.BackoffDelay(sh.CheckFailCount + 1))
	rec := pgledger.CheckRecord{
		OrderID:       sh.OrderID,
		FulfillmentID: sh.FulfillmentID,
		CheckedAt:     now,
		NextCheckAt:   &next,
		Error:         &e,
	}
	if err := r.ledger.RecordCheck(ctx, rec); err != nil {
		return err
	}
	r.totalErrors.Add(1)
	r.noteError(cause)
	log.Error("reconcile shipment", "error", e, "next_check_at", next)
	r.audit(ctx, sh, now, nil, "error", "", "", &next, &e)
	return nil
}

type cachedObservation struct {
	Observation *carrier.Observation `json:"observation"`
}

// observe resolves the tracking number through the observation cache. A cached
// null is a real answer ("no events yet"), distinct from a miss.
func (r *Reconciler) observe(ctx context.Context, trackingNumber string) (*carrier.Observation, error) {
	key := "carrier:obs:" + trackingNumber

	if r.cache != nil && r.observationTTL > 0 {
		if b, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			var co cachedObservation
			if json.Unmarshal(b, &co) == nil {
				return co.Observation, nil
			}
		}
	}

	obs, err := r.carrier.Resolve(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}

	if r.cache != nil && r.observationTTL > 0 {
		if b, err := json.Marshal(cachedObservation{Observation: obs}); err == nil {
			_ = r.cache.Set(ctx, key, b, r.observationTTL)
		}
	}
	return obs, nil
}

func (r *Reconciler) audit(ctx context.Context, sh *models.Shipment, checkedAt time.Time, obs *carrier.Observation, action, status, reason string, nextCheckAt *time.Time, errText *string) {
	if r.producer == nil {
		return
	}

	msg := messages.ShipmentReconciled{
		OrderID:        sh.OrderID,
		FulfillmentID:  sh.FulfillmentID,
		TrackingNumber: sh.TrackingNumber,
		CheckedAt:      checkedAt,
		Action:         action,
		Status:         status,
		Reason:         reason,
		NextCheckAt:    nextCheckAt,
		Error:          errText,
	}
	if obs != nil {
		msg.CarrierStatus = obs.Text
		msg.CarrierEventAt = obs.OccurredAt
	}

	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal audit message", "error", err.Error())
		return
	}

	key := []byte(fmt.Sprintf("%d:%d", sh.OrderID, sh.FulfillmentID))
	// The broker may lag behind the worker right after startup; a short retry
	// covers that without blocking the batch for long.
	var pubErr error
	for i := 0; i < 3; i++ {
		if pubErr = r.producer.Publish(ctx, r.topic, key, b); pubErr == nil {
			return
		}
		r.sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	slog.Warn("publish audit message", "error", pubErr.Error())
}

func (r *Reconciler) noteError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
