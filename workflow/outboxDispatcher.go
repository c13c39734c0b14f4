package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/models"
	"github.com/sirupsen/logrus"
)

// EventPublisher delivers one stock event and returns the broker's message id.
type EventPublisher interface {
	Publish(ctx context.Context, msg config.StockEventMessage) (string, error)
}

// PubSubPublisher publishes through the process-wide Pub/Sub topic.
type PubSubPublisher struct{}

func (PubSubPublisher) Publish(ctx context.Context, msg config.StockEventMessage) (string, error) {
	return config.PublishStockEventWithResult(ctx, msg)
}

type OutboxDispatcher struct {
	Store        models.OutboxStore
	Publisher    EventPublisher
	Logger       *logrus.Logger
	Metrics      *StockMetrics
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(store models.OutboxStore, publisher EventPublisher, logger *logrus.Logger, metrics *StockMetrics) *OutboxDispatcher {
	return &OutboxDispatcher{
		Store:          store,
		Publisher:      publisher,
		Logger:         logger,
		Metrics:        metrics,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many events were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.Store == nil || d.Publisher == nil {
		return 0
	}
	now := time.Now().UTC()
	claimed, err := d.Store.ClaimEvents(ctx, d.DispatcherID, d.BatchSize, now, now.Add(-d.LockTimeout), d.MaxAttempts)
	if err != nil {
		config.LogError(d.Logger, "workflow", "OutboxDispatcher.DispatchOnce", "claim stock events", logrus.Fields{"dispatcher_id": d.DispatcherID}, err)
		return 0
	}

	sent := 0
	for _, event := range claimed {
		pubID, pubErr := d.Publisher.Publish(ctx, event.Message())
		d.Metrics.ObservePublish(pubErr)
		if pubErr != nil {
			d.markPublishFailed(ctx, event, pubErr)
			continue
		}
		if err := d.Store.MarkEventSent(ctx, event.ID, pubID, now); err != nil {
			config.LogError(d.Logger, "workflow", "OutboxDispatcher.DispatchOnce", "mark stock event sent", logrus.Fields{"event_id": event.ID}, err)
			continue
		}
		sent++
	}
	return sent
}

func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			return time.Minute * 10
		}
	}
	return backoff
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, event models.StockEvent, err error) {
	attempt := event.PublishAttempts
	fields := logrus.Fields{
		"field":      "OutboxDispatcher",
		"event_id":   event.ID,
		"event_type": event.EventType,
		"attempt":    attempt,
	}

	// terminal after MaxAttempts
	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		if markErr := d.Store.MarkEventFailed(ctx, event.ID, err, nil, true); markErr != nil {
			config.LogError(d.Logger, "workflow", "OutboxDispatcher.markPublishFailed", "mark stock event dead", fields, markErr)
		}
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("outbox publish moved to DEAD after max attempts: " + fmt.Sprintf("%v", err))
		}
		return
	}

	next := time.Now().UTC().Add(d.backoff(attempt))
	if markErr := d.Store.MarkEventFailed(ctx, event.ID, err, &next, false); markErr != nil {
		config.LogError(d.Logger, "workflow", "OutboxDispatcher.markPublishFailed", "mark stock event failed", fields, markErr)
	}
	if d.Logger != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
		d.Logger.WithFields(fields).Error("outbox publish failed: " + fmt.Sprintf("%v", err))
	}
}
