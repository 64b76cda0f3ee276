package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceTaxSummary persists one VAT breakdown row per rate per invoice.
// Rows are derived data: rewritten from the lines on every draft save.
type InvoiceTaxSummary struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;index;not null" json:"business_id"`
	InvoiceId  int    `gorm:"index;not null" json:"invoice_id"`

	VatRate     decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"vat_rate"`
	TaxableBase decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"taxable_base"`
	VatAmount   decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"vat_amount"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"total_amount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// replaceInvoiceTaxSummaries rewrites the per-rate rows inside the caller's
// transaction so they always match the lines committed alongside them.
func replaceInvoiceTaxSummaries(ctx context.Context, tx *gorm.DB, invoice *Invoice) error {
	// db action
	if err := tx.WithContext(ctx).
		Where("business_id = ? AND invoice_id = ?", invoice.BusinessId, invoice.ID).
		Delete(&InvoiceTaxSummary{}).Error; err != nil {
		return err
	}

	entries := ComputeVatBreakdown(invoice.Details)
	if len(entries) == 0 {
		return nil
	}

	summaries := make([]InvoiceTaxSummary, len(entries))
	for i, entry := range entries {
		summaries[i] = InvoiceTaxSummary{
			BusinessId:  invoice.BusinessId,
			InvoiceId:   invoice.ID,
			VatRate:     entry.VatRate,
			TaxableBase: entry.TaxableBase,
			VatAmount:   entry.VatAmount,
			TotalAmount: entry.TotalAmount,
		}
	}
	return tx.WithContext(ctx).Create(&summaries).Error
}

func GetInvoiceTaxSummaries(ctx context.Context, invoiceId int) ([]InvoiceTaxSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Invoice](ctx, businessId, invoiceId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var summaries []InvoiceTaxSummary
	err := db.WithContext(ctx).
		Where("business_id = ? AND invoice_id = ?", businessId, invoiceId).
		Order("vat_rate DESC").
		Find(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
