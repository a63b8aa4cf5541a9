package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/transfer_backend/config"
	"github.com/mmdatafocus/transfer_backend/utils"
	"gorm.io/gorm"
)

// Outbox publish statuses for PubSubMessageRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// PubSubMessageRecord is written in the same db transaction as the change it
// announces and published after commit by the outbox dispatcher.
type PubSubMessageRecord struct {
	ID                  int                 `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	TransactionDateTime time.Time           `gorm:"index;not null" json:"transaction_date_time"`
	ReferenceId         int                 `gorm:"index:idx_outbox_ref,priority:2" json:"reference_id"`
	ReferenceType       OutboxReferenceType `gorm:"size:10;not null;index:idx_outbox_ref,priority:1" json:"reference_type"`
	Action              OutboxAction        `gorm:"size:1;not null" json:"action"`
	NewObj              []byte              `json:"new_obj"`
	PublishStatus       string              `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt         *time.Time          `gorm:"index" json:"published_at"`
	PubSubMessageId     *string             `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts     int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt       *time.Time          `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt            *time.Time          `gorm:"index" json:"locked_at"`
	LockedBy            *string             `gorm:"size:100" json:"locked_by"`
	LastPublishError    *string             `gorm:"type:text" json:"last_publish_error"`
	CorrelationId       string              `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// OutboxStatus is the publish state of the latest outbox row for a reference.
type OutboxStatus struct {
	RecordId         int                 `json:"record_id"`
	ReferenceType    OutboxReferenceType `json:"reference_type"`
	ReferenceId      int                 `json:"reference_id"`
	PublishStatus    string              `json:"publish_status"`
	PublishAttempts  int                 `json:"publish_attempts"`
	NextAttemptAt    *time.Time          `json:"next_attempt_at"`
	LastPublishError *string             `json:"last_publish_error"`
	CreatedAt        time.Time           `json:"created_at"`
	PublishedAt      *time.Time          `json:"published_at"`
}

func ConvertToPubSubMessage(record PubSubMessageRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:                  record.ID,
		TransactionDateTime: record.TransactionDateTime,
		ReferenceId:         record.ReferenceId,
		ReferenceType:       string(record.ReferenceType),
		Action:              string(record.Action),
		NewObj:              record.NewObj,
		CorrelationId:       record.CorrelationId,
	}
}

// WriteOutboxRecord stores a PENDING row on tx. obj is serialized as the message body.
func WriteOutboxRecord(ctx context.Context, tx *gorm.DB, referenceType OutboxReferenceType, referenceId int, action OutboxAction, obj interface{}) (*PubSubMessageRecord, error) {
	newObj, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	record := PubSubMessageRecord{
		TransactionDateTime: time.Now().UTC(),
		ReferenceId:         referenceId,
		ReferenceType:       referenceType,
		Action:              action,
		NewObj:              newObj,
		PublishStatus:       OutboxPublishStatusPending,
		CorrelationId:       correlationId,
	}
	if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
		config.LogError(config.GetLogger(), "outbox.go", "WriteOutboxRecord", "Create", referenceId, err)
		return nil, err
	}
	return &record, nil
}

func GetOutboxStatus(ctx context.Context, referenceType OutboxReferenceType, referenceId int) (*OutboxStatus, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	var rec PubSubMessageRecord
	if err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id DESC").
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &OutboxStatus{
		RecordId:         rec.ID,
		ReferenceType:    rec.ReferenceType,
		ReferenceId:      rec.ReferenceId,
		PublishStatus:    rec.PublishStatus,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}, nil
}

// RequeueOutbox moves unsent rows of a reference (including DEAD ones) back to PENDING.
func RequeueOutbox(ctx context.Context, referenceType OutboxReferenceType, referenceId int) (*OutboxStatus, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("db is nil")
	}
	res := db.WithContext(ctx).
		Model(&PubSubMessageRecord{}).
		Where("reference_type = ? AND reference_id = ? AND publish_status <> ?", referenceType, referenceId, OutboxPublishStatusSent).
		Updates(map[string]interface{}{
			"locked_at":          nil,
			"locked_by":          nil,
			"publish_status":     OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return GetOutboxStatus(ctx, referenceType, referenceId)
}
