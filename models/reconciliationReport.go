package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/utils"
)

// ReconciliationReport stores one finding from an audit run. CheckType
// names the check (SEQUENCE_GAP, SEQUENCE_DUPLICATE), Details carries the
// human-readable finding, and CorrelationId groups the rows of one run.
type ReconciliationReport struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;index;not null" json:"business_id"`

	CheckType  string `gorm:"size:40;not null" json:"check_type"`
	EntityType string `gorm:"size:40" json:"entity_type"`
	EntityId   string `gorm:"size:64" json:"entity_id"`
	Details    string `gorm:"size:255" json:"details"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetReconciliationReports(ctx context.Context, correlationId string) ([]ReconciliationReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var reports []ReconciliationReport
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if correlationId != "" {
		dbCtx = dbCtx.Where("correlation_id = ?", correlationId)
	}
	err := dbCtx.Order("id ASC").Find(&reports).Error
	if err != nil {
		return nil, err
	}
	return reports, nil
}
