package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/ims_backend/config"
	"github.com/mmdatafocus/ims_backend/utils"
)

type StockEventType string

const (
	StockEventAllocated        StockEventType = "stock.allocated"
	StockEventDeducted         StockEventType = "stock.deducted"
	StockEventLedgerAdjusted   StockEventType = "ledger.adjusted"
	StockEventOrderCreated     StockEventType = "order.created"
	StockEventOrderUpdated     StockEventType = "order.updated"
	StockEventOrderDeleted     StockEventType = "order.deleted"
	StockEventIncomingCreated  StockEventType = "incoming.created"
	StockEventIncomingUpdated  StockEventType = "incoming.updated"
	StockEventIncomingDeleted  StockEventType = "incoming.deleted"
	StockEventBranchCreated    StockEventType = "branch.created"
	StockEventVehicleAdded     StockEventType = "vehicle.added"
	StockEventCascadeCompleted StockEventType = "cascade.completed"
)

// StockEvent is an outbox row written in the same transaction as the change it describes.
type StockEvent struct {
	ID               string              `gorm:"primaryKey;size:36" json:"id"`
	Seq              int64               `gorm:"autoIncrement;uniqueIndex" json:"seq"`
	EventType        StockEventType      `gorm:"size:50;not null" json:"event_type"`
	AggregateType    string              `gorm:"size:30;not null" json:"aggregate_type"`
	AggregateId      string              `gorm:"index;size:36;not null" json:"aggregate_id"`
	LockKey          string              `gorm:"size:200" json:"lock_key"`
	Payload          []byte              `gorm:"type:json" json:"payload"`
	Username         string              `gorm:"size:100" json:"username"`
	CorrelationId    string              `gorm:"size:64" json:"correlation_id"`
	PublishStatus    OutboxPublishStatus `gorm:"index;size:20;not null" json:"publish_status"`
	PublishAttempts  int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time          `json:"next_attempt_at"`
	LockedAt         *time.Time          `json:"locked_at"`
	LockedBy         *string             `gorm:"size:36" json:"locked_by"`
	LastPublishError *string             `gorm:"type:text" json:"last_publish_error"`
	PubSubMessageId  *string             `gorm:"size:100" json:"pub_sub_message_id"`
	PublishedAt      *time.Time          `json:"published_at"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func NewStockEvent(ctx context.Context, eventType StockEventType, aggregateType string, aggregateId string, lockKey string, payload any) (*StockEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	username, _ := utils.GetUsernameFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	return &StockEvent{
		ID:            uuid.NewString(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateId:   aggregateId,
		LockKey:       lockKey,
		Payload:       data,
		Username:      username,
		CorrelationId: correlationId,
		PublishStatus: OutboxPublishStatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (e *StockEvent) Message() config.StockEventMessage {
	return config.StockEventMessage{
		ID:            e.ID,
		EventType:     string(e.EventType),
		AggregateType: e.AggregateType,
		AggregateId:   e.AggregateId,
		LockKey:       e.LockKey,
		Payload:       json.RawMessage(e.Payload),
		Username:      e.Username,
		CorrelationId: e.CorrelationId,
		OccurredAt:    e.CreatedAt,
	}
}
