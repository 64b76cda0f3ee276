package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"gorm.io/gorm"
)

// InvoiceAuditLog is append-only. Rows are written inside the same
// transaction as the change they describe and never updated or deleted.
type InvoiceAuditLog struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;index;not null" json:"business_id"`
	InvoiceId  int    `gorm:"index;not null" json:"invoice_id"`

	EventType     InvoiceEventType `gorm:"size:30;not null" json:"event_type"`
	Description   string           `gorm:"size:255" json:"description"`
	UserId        int              `json:"user_id"`
	UserName      string           `gorm:"size:50" json:"user_name"`
	CorrelationId string           `gorm:"size:64;index" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func appendInvoiceAuditLog(ctx context.Context, tx *gorm.DB, invoice *Invoice, eventType InvoiceEventType, description string) error {
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	entry := InvoiceAuditLog{
		BusinessId:    invoice.BusinessId,
		InvoiceId:     invoice.ID,
		EventType:     eventType,
		Description:   description,
		UserId:        userId,
		UserName:      userName,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	// db action
	return tx.WithContext(ctx).Create(&entry).Error
}

func GetInvoiceAuditLogs(ctx context.Context, invoiceId int) ([]InvoiceAuditLog, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Invoice](ctx, businessId, invoiceId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var entries []InvoiceAuditLog
	err := db.WithContext(ctx).
		Where("business_id = ? AND invoice_id = ?", businessId, invoiceId).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
