package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/waiverly/billing-engine/config/kafka"
	"github.com/waiverly/billing-engine/config/tracing"
	"github.com/waiverly/billing-engine/models"
	"github.com/waiverly/billing-engine/utils"
)

// CheckoutPeriod is the provisional period window applied when a checkout
// completes. The next subscription_updated event carries the authoritative
// period end from the provider and replaces it.
const CheckoutPeriod = 30 * 24 * time.Hour

const defaultMaxConcurrentEvents = 32

type Config struct {
	WebhookSecret       string
	SignatureTolerance  time.Duration
	MaxConcurrentEvents int64
}

type transitionFunc func(ctx context.Context, event *models.BillingEvent, occurredAt time.Time) utils.Result[*models.Subscription]

// Reconciler is the only component that mutates plan and status. It applies
// authenticated provider events to subscription rows, one event at a time per
// provider customer, discarding duplicates and out-of-order deliveries.
type Reconciler struct {
	store    *models.Store
	guard    models.DeliveryGuarder
	notifier kafka.MessageProducer
	config   Config
	logger   *slog.Logger

	sem *semaphore.Weighted

	mu         sync.Mutex
	partitions map[string]*partitionLock

	transitions map[models.EventType]transitionFunc
}

type partitionLock struct {
	mu   sync.Mutex
	refs int
}

// NewReconciler wires the reconciler. guard and notifier are optional: without
// a guard, duplicate suppression falls back to the ordering guard alone;
// without a notifier, no lifecycle notifications are published.
func NewReconciler(store *models.Store, guard models.DeliveryGuarder, notifier kafka.MessageProducer, config Config) *Reconciler {
	logger := slog.Default()
	logger = logger.With("component", "reconciler")

	if config.SignatureTolerance == 0 {
		config.SignatureTolerance = DefaultSignatureTolerance
	}
	if config.MaxConcurrentEvents == 0 {
		config.MaxConcurrentEvents = defaultMaxConcurrentEvents
	}

	rec := &Reconciler{
		store:      store,
		guard:      guard,
		notifier:   notifier,
		config:     config,
		logger:     logger,
		sem:        semaphore.NewWeighted(config.MaxConcurrentEvents),
		partitions: make(map[string]*partitionLock),
	}

	rec.transitions = map[models.EventType]transitionFunc{
		models.EventCheckoutCompleted:   rec.applyCheckoutCompleted,
		models.EventSubscriptionUpdated: rec.applySubscriptionUpdated,
		models.EventSubscriptionDeleted: rec.applySubscriptionDeleted,
		models.EventPaymentFailed:       rec.applyPaymentFailed,
	}

	return rec
}

// ProcessWebhook verifies, parses and applies one raw webhook delivery.
//
// A SignatureError means the delivery is untrusted and must be rejected. A nil
// return acknowledges the delivery: either it was applied, or it was
// deliberately discarded (unknown type, duplicate, stale, orphan, permanently
// unprocessable). Any other error is transient and the caller should make the
// provider redeliver.
func (rec *Reconciler) ProcessWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	span := tracing.StartSpan(ctx, "Reconciler.ProcessWebhook")
	defer span.End()

	// An unset secret would make every well-formed signature forgeable
	if rec.config.WebhookSecret == "" {
		rec.logger.Error("rejecting webhook delivery: no webhook secret configured")
		eventsRejected.Inc()
		return &SignatureError{Reason: "no webhook secret configured"}
	}

	if err := VerifySignature(payload, signatureHeader, rec.config.WebhookSecret, rec.config.SignatureTolerance, time.Now()); err != nil {
		rec.logger.Warn("rejected webhook delivery", slog.String("error", err.Error()))
		eventsRejected.Inc()
		return err
	}

	eventResult := models.ParseBillingEvent(payload)
	if eventResult.Failure() {
		// Authentic but unparsable, redelivery cannot help
		rec.logger.Error("discarding unparsable billing event", slog.String("error", eventResult.ErrorMsg()))
		utils.CaptureErrorResult(eventResult)
		return nil
	}
	event := eventResult.Value()

	eventsReceived.WithLabelValues(string(event.Type)).Inc()

	transition, known := rec.transitions[event.Type]
	if !known {
		rec.logger.Info("ignoring billing event of unhandled type",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
		)
		return nil
	}

	occurredResult := event.OccurredAt()
	if occurredResult.Failure() {
		rec.logger.Error("discarding billing event without usable timestamp",
			slog.String("event_id", event.ID),
			slog.String("error", occurredResult.ErrorMsg()),
		)
		utils.CaptureErrorResult(occurredResult)
		return nil
	}
	occurredAt := occurredResult.Value()

	if err := rec.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer rec.sem.Release(1)

	unlock := rec.lockPartitions(event.PartitionKeys())
	defer unlock()

	if rec.guard != nil {
		firstResult := rec.guard.FirstDelivery(ctx, event.ID)
		switch {
		case firstResult.Failure():
			// The ordering guard still protects correctness, keep going
			rec.logger.Warn("delivery guard unavailable, processing without dedup",
				slog.String("event_id", event.ID),
				slog.String("error", firstResult.ErrorMsg()),
			)
		case !firstResult.Value():
			rec.logger.Info("skipping duplicate billing event", slog.String("event_id", event.ID))
			eventsDiscarded.WithLabelValues(discardDuplicate).Inc()
			return nil
		}
	}

	result := transition(ctx, event, occurredAt)
	if result.Failure() {
		rec.logger.Error("failed to apply billing event",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.String("error", result.ErrorMsg()),
		)
		if result.IsCapturable() {
			utils.CaptureErrorResultWithExtra(result, "event_id", event.ID)
		}
		if result.IsRetryable() {
			// The transition did not commit: forget the delivery so the
			// provider's retry is not discarded as a duplicate
			rec.releaseDelivery(ctx, event.ID)
			return result.Error()
		}
		return nil
	}

	sub := result.Value()
	if sub == nil {
		// Deliberately skipped (orphan or stale), already counted
		return nil
	}

	transitionsApplied.WithLabelValues(string(event.Type)).Inc()
	rec.logger.Info("applied billing event",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("tenant_id", sub.TenantID.String()),
		slog.String("plan", string(sub.Plan)),
		slog.String("status", string(sub.Status)),
	)

	rec.notify(ctx, event, sub)
	return nil
}

// lockPartitions serializes reconciliation across every identity the event
// names. Keys are acquired in sorted order so two events naming the same pair
// cannot deadlock, and released in reverse.
func (rec *Reconciler) lockPartitions(keys []string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, key := range sorted {
		unlocks = append(unlocks, rec.lockPartition(key))
	}

	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// lockPartition serializes reconciliation per provider customer. The lock is
// reference counted so idle partitions do not accumulate in the map.
func (rec *Reconciler) lockPartition(key string) func() {
	rec.mu.Lock()
	lock, ok := rec.partitions[key]
	if !ok {
		lock = &partitionLock{}
		rec.partitions[key] = lock
	}
	lock.refs++
	rec.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		rec.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(rec.partitions, key)
		}
		rec.mu.Unlock()
	}
}

func (rec *Reconciler) applyCheckoutCompleted(ctx context.Context, event *models.BillingEvent, occurredAt time.Time) utils.Result[*models.Subscription] {
	found := rec.store.FindSubscriptionByExternalCustomerID(ctx, event.CustomerID)
	if models.IsNotFound(found) {
		return rec.skipOrphan(event)
	}
	if found.Failure() {
		return found
	}

	sub := found.Value()
	if sub.StaleEvent(occurredAt) {
		return rec.skipStale(event, sub)
	}

	sub.ExternalSubscriptionID = sql.NullString{String: event.SubscriptionID, Valid: event.SubscriptionID != ""}
	sub.Status = models.StatusActive
	sub.CurrentPeriodStart = occurredAt
	sub.CurrentPeriodEnd = occurredAt.Add(CheckoutPeriod)
	sub.LastEventAt = sql.NullTime{Time: occurredAt, Valid: true}

	return rec.store.SaveSubscription(ctx, sub)
}

func (rec *Reconciler) applySubscriptionUpdated(ctx context.Context, event *models.BillingEvent, occurredAt time.Time) utils.Result[*models.Subscription] {
	found := rec.store.FindSubscriptionByExternalSubscriptionID(ctx, event.SubscriptionID)
	if models.IsNotFound(found) {
		return rec.skipOrphan(event)
	}
	if found.Failure() {
		return found
	}

	sub := found.Value()
	if sub.StaleEvent(occurredAt) {
		return rec.skipStale(event, sub)
	}

	sub.Status = models.MapProviderStatus(event.ProviderStatus)
	if event.PeriodEnd != nil {
		periodEndResult := event.PeriodEndAt()
		if periodEndResult.Failure() {
			return utils.FailedResultFrom[*models.Subscription](periodEndResult)
		}
		sub.CurrentPeriodEnd = periodEndResult.Value()
	}
	sub.LastEventAt = sql.NullTime{Time: occurredAt, Valid: true}

	return rec.store.SaveSubscription(ctx, sub)
}

// applySubscriptionDeleted downgrades the tenant to the free plan. The
// provider customer link is kept so a later re-checkout reuses the customer,
// but the subscription link is cleared since that subscription is gone.
func (rec *Reconciler) applySubscriptionDeleted(ctx context.Context, event *models.BillingEvent, occurredAt time.Time) utils.Result[*models.Subscription] {
	found := rec.store.FindSubscriptionByExternalSubscriptionID(ctx, event.SubscriptionID)
	if models.IsNotFound(found) {
		return rec.skipOrphan(event)
	}
	if found.Failure() {
		return found
	}

	sub := found.Value()
	if sub.StaleEvent(occurredAt) {
		return rec.skipStale(event, sub)
	}

	sub.Plan = models.PlanFree
	sub.Status = models.StatusCanceled
	sub.ExternalSubscriptionID = sql.NullString{}
	sub.LastEventAt = sql.NullTime{Time: occurredAt, Valid: true}

	return rec.store.SaveSubscription(ctx, sub)
}

// applyPaymentFailed resolves by the subscription the failed invoice belongs
// to: a tenant with a provisioned customer but no live subscription (checkout
// pending or abandoned) must not be marked past due.
func (rec *Reconciler) applyPaymentFailed(ctx context.Context, event *models.BillingEvent, occurredAt time.Time) utils.Result[*models.Subscription] {
	found := rec.store.FindSubscriptionByExternalSubscriptionID(ctx, event.SubscriptionID)
	if models.IsNotFound(found) {
		return rec.skipOrphan(event)
	}
	if found.Failure() {
		return found
	}

	sub := found.Value()
	if sub.StaleEvent(occurredAt) {
		return rec.skipStale(event, sub)
	}

	sub.Status = models.StatusPastDue
	sub.LastEventAt = sql.NullTime{Time: occurredAt, Valid: true}

	return rec.store.SaveSubscription(ctx, sub)
}

func (rec *Reconciler) releaseDelivery(ctx context.Context, eventID string) {
	if rec.guard == nil {
		return
	}

	if err := rec.guard.Release(ctx, eventID); err != nil {
		// The key expires with the guard TTL, the redelivery may be delayed
		// until then
		rec.logger.Warn("could not release delivery guard entry",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}
}

// skipOrphan acknowledges an event that references no known tenant. This is
// routine when provider accounts outlive tenants or test-mode events leak in.
func (rec *Reconciler) skipOrphan(event *models.BillingEvent) utils.Result[*models.Subscription] {
	rec.logger.Info("skipping billing event with no matching subscription",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("customer_id", event.CustomerID),
		slog.String("subscription_id", event.SubscriptionID),
	)
	eventsDiscarded.WithLabelValues(discardOrphan).Inc()
	return utils.SuccessResult[*models.Subscription](nil)
}

func (rec *Reconciler) skipStale(event *models.BillingEvent, sub *models.Subscription) utils.Result[*models.Subscription] {
	rec.logger.Info("skipping stale billing event",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("tenant_id", sub.TenantID.String()),
	)
	eventsDiscarded.WithLabelValues(discardStale).Inc()
	return utils.SuccessResult[*models.Subscription](nil)
}

type lifecycleNotification struct {
	TenantID   string    `json:"tenant_id"`
	EventType  string    `json:"event_type"`
	Plan       string    `json:"plan"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// notify publishes the applied transition for downstream consumers (email
// notifications, analytics). Publishing is best effort: a produce failure is
// logged and captured but never fails the already-committed transition.
func (rec *Reconciler) notify(ctx context.Context, event *models.BillingEvent, sub *models.Subscription) {
	if rec.notifier == nil {
		return
	}

	payload, err := json.Marshal(lifecycleNotification{
		TenantID:   sub.TenantID.String(),
		EventType:  string(event.Type),
		Plan:       string(sub.Plan),
		Status:     string(sub.Status),
		OccurredAt: sub.LastEventAt.Time,
	})
	if err != nil {
		rec.logger.Error("error while marshaling lifecycle notification", slog.String("error", err.Error()))
		utils.CaptureError(err)
		return
	}

	rec.notifier.Produce(ctx, &kafka.ProducerMessage{
		Key:   []byte(sub.TenantID.String()),
		Value: payload,
	})
}
