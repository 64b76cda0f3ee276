package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InvoiceEventRecord is the transactional outbox row. The event is written
// in the same transaction as the invoice change, then pushed to Pub/Sub by
// DispatchPendingInvoiceEvents. A commit without a publish leaves a PENDING
// row; a publish without a commit cannot happen.
type InvoiceEventRecord struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;index;not null" json:"business_id"`
	InvoiceId  int    `gorm:"index;not null" json:"invoice_id"`

	EventType     InvoiceEventType `gorm:"size:30;not null" json:"event_type"`
	Payload       []byte           `gorm:"type:json" json:"payload"`
	CorrelationId string           `gorm:"size:64;index" json:"correlation_id"`

	PublishStatus   OutboxPublishStatus `gorm:"size:10;not null;default:'PENDING';index" json:"publish_status"`
	PublishAttempts int                 `gorm:"not null;default:0" json:"publish_attempts"`
	LastError       string              `gorm:"size:255" json:"last_error"`
	PublishedAt     *time.Time          `json:"published_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// publishInvoiceEvent records an event inside the caller's transaction.
// The payload is a snapshot of the invoice at event time.
func publishInvoiceEvent(ctx context.Context, tx *gorm.DB, invoice *Invoice, eventType InvoiceEventType) error {
	payload, err := json.Marshal(invoice)
	if err != nil {
		return err
	}

	record := InvoiceEventRecord{
		BusinessId:    invoice.BusinessId,
		InvoiceId:     invoice.ID,
		EventType:     eventType,
		Payload:       payload,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: OutboxPublishStatusPending,
	}
	// db action
	return tx.WithContext(ctx).Create(&record).Error
}

// DispatchPendingInvoiceEvents pushes PENDING and FAILED outbox rows to
// Pub/Sub, oldest first, up to limit. Publishing the same record twice is
// possible after a crash between Publish and the status update; consumers
// must treat the record ID as the dedup key.
func DispatchPendingInvoiceEvents(ctx context.Context, limit int) (int, error) {
	logger := config.GetLogger()
	if limit <= 0 {
		limit = 50
	}

	db := config.GetDB()
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)

	var records []InvoiceEventRecord
	err := db.WithContext(ctx).
		Where("publish_status IN ?", []OutboxPublishStatus{OutboxPublishStatusPending, OutboxPublishStatusFailed}).
		Order("id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range records {
		record := &records[i]
		msg := config.PubSubMessage{
			ID:            record.ID,
			BusinessId:    record.BusinessId,
			EventTime:     record.CreatedAt,
			InvoiceId:     record.InvoiceId,
			EventType:     string(record.EventType),
			Payload:       record.Payload,
			CorrelationId: record.CorrelationId,
		}

		_, pubErr := config.PublishInvoiceEventMessage(ctx, msg)
		updates := map[string]interface{}{
			"PublishAttempts": record.PublishAttempts + 1,
		}
		if pubErr != nil {
			config.LogError(logger, "outbox", "DispatchPendingInvoiceEvents", "publish failed", record.ID, pubErr)
			updates["PublishStatus"] = OutboxPublishStatusFailed
			updates["LastError"] = pubErr.Error()
		} else {
			now := time.Now()
			updates["PublishStatus"] = OutboxPublishStatusSent
			updates["LastError"] = ""
			updates["PublishedAt"] = &now
			sent++
		}

		// db action
		if err := db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
			return sent, err
		}
	}
	return sent, nil
}
