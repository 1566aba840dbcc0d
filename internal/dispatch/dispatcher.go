package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/common/utils"
	"edgelink/internal/events"
	"edgelink/internal/models"
)

// Store is the subset of storage the dispatcher needs.
type Store interface {
	ListSubscriptionsForEvent(ctx context.Context, ownerID, kind string) ([]*models.WebhookSubscription, error)
	GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error)
	CreateDeliveryAttempt(ctx context.Context, attempt *models.WebhookDeliveryAttempt) error
	GetDeliveryAttempt(ctx context.Context, eventID, subscriptionID string) (*models.WebhookDeliveryAttempt, error)
	UpdateDeliveryAttempt(ctx context.Context, attempt *models.WebhookDeliveryAttempt) error
}

// Dispatcher fans each event out to its enabled subscriptions and drives
// every (event, subscription) pair through an independent retry chain.
// Deliveries for the same pair are serialized; pairs run concurrently.
type Dispatcher struct {
	store  Store
	client *http.Client
	retry  utils.RetryConfig
	logger logging.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewDispatcher(store Store, client *http.Client, retry utils.RetryConfig, logger logging.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{
		store:    store,
		client:   client,
		retry:    retry,
		logger:   logger,
		inFlight: make(map[string]bool),
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// HandleEvent is the bus handler. It durably records one attempt row per
// enabled subscription, then hands the retry chains to goroutines and
// returns, so a slow or dead endpoint never head-of-line-blocks delivery
// of other events. A storage fault while recording returns an error,
// leaving the event unacked for bus redelivery.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *events.Event) error {
	subs, err := d.store.ListSubscriptionsForEvent(ctx, event.OwnerID, string(event.Kind))
	if err != nil {
		return errors.StoreUnavailableError("failed to list subscriptions", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := event.Payload()
	if err != nil {
		return errors.InternalError("failed to encode event payload", err)
	}

	for _, sub := range subs {
		pairKey := event.ID + "\x00" + sub.ID
		if !d.begin(pairKey) {
			// A chain for this pair is already running.
			continue
		}

		attempt, err := d.ensureAttempt(ctx, event, sub)
		if err != nil {
			d.end(pairKey)
			return err
		}
		if attempt == nil {
			// Already delivered or exhausted by an earlier chain.
			d.end(pairKey)
			continue
		}

		d.wg.Add(1)
		go func(sub *models.WebhookSubscription, attempt *models.WebhookDeliveryAttempt) {
			defer d.wg.Done()
			defer d.end(pairKey)
			d.deliver(ctx, event, sub, attempt, payload)
		}(sub, attempt)
	}
	return nil
}

// Wait blocks until every in-flight delivery chain finishes. Called on
// shutdown after the bus stops handing out events.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) begin(pairKey string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inFlight[pairKey] {
		return false
	}
	d.inFlight[pairKey] = true
	return true
}

func (d *Dispatcher) end(pairKey string) {
	d.mu.Lock()
	delete(d.inFlight, pairKey)
	d.mu.Unlock()
}

// ensureAttempt records the durable attempt row for the pair, or picks up
// the row left by a chain that was interrupted mid-retry. A nil attempt
// with a nil error means the pair already reached a terminal state.
func (d *Dispatcher) ensureAttempt(ctx context.Context, event *events.Event, sub *models.WebhookSubscription) (*models.WebhookDeliveryAttempt, error) {
	attempt := &models.WebhookDeliveryAttempt{
		ID:             utils.NewAttemptID(),
		EventID:        event.ID,
		SubscriptionID: sub.ID,
		AttemptNumber:  0,
		Status:         models.AttemptPending,
	}
	createErr := d.store.CreateDeliveryAttempt(ctx, attempt)
	if createErr == nil {
		return attempt, nil
	}

	// The unique (event, subscription) constraint fires when the bus
	// redelivers; the existing row tells us whether there is work left.
	existing, err := d.store.GetDeliveryAttempt(ctx, event.ID, sub.ID)
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to load delivery attempt", err)
	}
	if existing == nil {
		return nil, errors.StoreUnavailableError("failed to record delivery attempt", createErr)
	}
	if existing.Status.IsTerminal() {
		return nil, nil
	}

	d.logger.Info("resuming interrupted delivery chain",
		logging.Field{Key: "event_id", Value: event.ID},
		logging.Field{Key: "subscription_id", Value: sub.ID},
		logging.Field{Key: "attempts_used", Value: existing.AttemptNumber},
	)
	return existing, nil
}

// deliver drives the retry chain for one (event, subscription) pair,
// starting after the attempts already recorded on the row. The payload
// bytes are fixed before the first attempt, so every attempt sends
// identical body and signature.
func (d *Dispatcher) deliver(ctx context.Context, event *events.Event, sub *models.WebhookSubscription, attempt *models.WebhookDeliveryAttempt, payload []byte) {
	signature := Sign(sub.Secret, payload)

	for attempt.AttemptNumber++; attempt.AttemptNumber <= d.retry.MaxAttempts; attempt.AttemptNumber++ {
		if attempt.AttemptNumber > 1 {
			delay := d.retry.BackoffDelay(attempt.AttemptNumber - 1)
			if err := d.sleep(ctx, delay); err != nil {
				return
			}
			// The subscriber may have been disabled while we backed off.
			current, err := d.store.GetSubscription(ctx, sub.ID)
			if err == nil && current != nil && !current.Enabled {
				attempt.Status = models.AttemptExhausted
				attempt.LastError = "subscription disabled"
				d.updateAttempt(ctx, attempt)
				d.logger.Warn("delivery chain cancelled, subscription disabled",
					logging.Field{Key: "event_id", Value: event.ID},
					logging.Field{Key: "subscription_id", Value: sub.ID},
				)
				return
			}
		}

		status, err := d.post(ctx, sub.EndpointURL, payload, signature)
		attempt.ResponseStatus = status
		if err == nil {
			attempt.Status = models.AttemptSuccess
			attempt.LastError = ""
			d.updateAttempt(ctx, attempt)
			return
		}

		attempt.LastError = err.Error()
		if attempt.AttemptNumber < d.retry.MaxAttempts {
			attempt.Status = models.AttemptFailed
			d.updateAttempt(ctx, attempt)
			continue
		}
		break
	}

	// Budget spent, either in this chain or across an interrupted one.
	attempt.AttemptNumber = d.retry.MaxAttempts
	attempt.Status = models.AttemptExhausted
	d.updateAttempt(ctx, attempt)
	exhausted := errors.DeliveryExhaustedError(event.ID, sub.ID, d.retry.MaxAttempts)
	d.logger.Error("webhook delivery exhausted", exhausted,
		logging.Field{Key: "event_id", Value: event.ID},
		logging.Field{Key: "subscription_id", Value: sub.ID},
		logging.Field{Key: "endpoint", Value: sub.EndpointURL},
		logging.Field{Key: "attempts", Value: d.retry.MaxAttempts},
	)
}

func (d *Dispatcher) post(ctx context.Context, endpoint string, payload []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.DeliveryFailedError("failed to build delivery request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(TimestampHeader, timestampValue(d.now()))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, errors.DeliveryFailedError("delivery request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, errors.DeliveryFailedError(
		fmt.Sprintf("endpoint returned status %d", resp.StatusCode), nil)
}

func (d *Dispatcher) updateAttempt(ctx context.Context, attempt *models.WebhookDeliveryAttempt) {
	if err := d.store.UpdateDeliveryAttempt(ctx, attempt); err != nil {
		d.logger.Error("failed to update delivery attempt", err,
			logging.Field{Key: "attempt_id", Value: attempt.ID},
			logging.Field{Key: "event_id", Value: attempt.EventID},
		)
	}
}
