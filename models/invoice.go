package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockInvoiceRow re-reads an invoice under FOR UPDATE inside tx. Every
// status-dependent write goes through this: the snapshot fetched before the
// transaction may be stale relative to a concurrent validation, so the
// status must be re-verified on the locked row, never on the snapshot.
func lockInvoiceRow(ctx context.Context, tx *gorm.DB, businessId string, id int) (*Invoice, error) {
	var invoice Invoice
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&invoice, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &invoice, nil
}

var validate = validator.New()

type Invoice struct {
	ID           int    `gorm:"primary_key" json:"id"`
	BusinessId   string `gorm:"size:64;index;not null" json:"business_id" validate:"required"`
	CreatedBy    string `gorm:"size:50" json:"created_by"`
	UserId       int    `json:"user_id"`
	CreationMode string `gorm:"size:20;default:'Manual'" json:"creation_mode"`

	// InvoiceNumber stays empty while the document is a draft. It is
	// assigned exactly once, by ValidateAndNumberInvoice, and never reused.
	InvoiceNumber string `gorm:"size:30;index" json:"invoice_number"`
	SequenceNo    int64  `json:"sequence_no"`
	SequenceYear  int    `json:"sequence_year"`

	OperationType string     `gorm:"size:20;not null;default:'Goods'" json:"operation_type"`
	InvoiceDate   *time.Time `gorm:"type:date" json:"invoice_date"`
	DueDate       *time.Time `gorm:"type:date" json:"due_date"`

	IssuerName      string `gorm:"size:100" json:"issuer_name"`
	IssuerSiret     string `gorm:"size:20" json:"issuer_siret"`
	IssuerVatNumber string `gorm:"size:20" json:"issuer_vat_number"`
	IssuerAddress   string `gorm:"size:255" json:"issuer_address"`
	IssuerPhone     string `gorm:"size:20" json:"issuer_phone"`
	IssuerEmail     string `gorm:"size:100" json:"issuer_email"`

	CustomerName      string `gorm:"size:100" json:"customer_name"`
	CustomerSiret     string `gorm:"size:20" json:"customer_siret"`
	CustomerVatNumber string `gorm:"size:20" json:"customer_vat_number"`
	CustomerAddress   string `gorm:"size:255" json:"customer_address"`
	CustomerPhone     string `gorm:"size:20" json:"customer_phone"`
	CustomerEmail     string `gorm:"size:100" json:"customer_email"`

	CurrentStatus InvoiceStatus `gorm:"size:20;not null;default:'Draft'" json:"current_status"`
	Notes         string        `gorm:"type:text" json:"notes"`

	Details []InvoiceDetail `gorm:"foreignKey:InvoiceId" json:"details"`

	InvoiceSubtotal       decimal.Decimal `gorm:"type:decimal(14,2)" json:"invoice_subtotal"`
	InvoiceTotalVatAmount decimal.Decimal `gorm:"type:decimal(14,2)" json:"invoice_total_vat_amount"`
	InvoiceTotalAmount    decimal.Decimal `gorm:"type:decimal(14,2)" json:"invoice_total_amount"`

	ValidatedAt *time.Time `json:"validated_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type InvoiceDetail struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"size:64;index;not null" json:"business_id"`
	InvoiceId  int    `gorm:"index;not null" json:"invoice_id"`

	DetailName string `gorm:"size:255;not null" json:"detail_name"`

	DetailQty      decimal.Decimal `gorm:"type:decimal(14,4);not null" json:"detail_qty"`
	DetailUnitRate decimal.Decimal `gorm:"type:decimal(14,4);not null" json:"detail_unit_rate"`
	DetailDiscount decimal.Decimal `gorm:"type:decimal(5,2)" json:"detail_discount"`
	DetailVatRate  decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"detail_vat_rate"`

	DetailSubtotal       decimal.Decimal `gorm:"type:decimal(14,2)" json:"detail_subtotal"`
	DetailDiscountAmount decimal.Decimal `gorm:"type:decimal(14,2)" json:"detail_discount_amount"`
	DetailNetAmount      decimal.Decimal `gorm:"type:decimal(14,2)" json:"detail_net_amount"`
	DetailVatAmount      decimal.Decimal `gorm:"type:decimal(14,2)" json:"detail_vat_amount"`
	DetailTotalAmount    decimal.Decimal `gorm:"type:decimal(14,2)" json:"detail_total_amount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	OperationType string     `json:"operation_type" validate:"required,oneof=Goods Services Mixed"`
	InvoiceDate   *time.Time `json:"invoice_date" validate:"required"`
	DueDate       *time.Time `json:"due_date"`

	IssuerName      string `json:"issuer_name" validate:"required"`
	IssuerSiret     string `json:"issuer_siret"`
	IssuerVatNumber string `json:"issuer_vat_number"`
	IssuerAddress   string `json:"issuer_address"`
	IssuerPhone     string `json:"issuer_phone"`
	IssuerEmail     string `json:"issuer_email"`

	CustomerName      string `json:"customer_name" validate:"required"`
	CustomerSiret     string `json:"customer_siret"`
	CustomerVatNumber string `json:"customer_vat_number"`
	CustomerAddress   string `json:"customer_address"`
	CustomerPhone     string `json:"customer_phone"`
	CustomerEmail     string `json:"customer_email"`

	Notes   string             `json:"notes"`
	Details []NewInvoiceDetail `json:"details" validate:"required,min=1,dive"`
}

type NewInvoiceDetail struct {
	DetailName     string          `json:"detail_name" validate:"required"`
	DetailQty      decimal.Decimal `json:"detail_qty" validate:"required"`
	DetailUnitRate decimal.Decimal `json:"detail_unit_rate" validate:"required"`
	DetailDiscount decimal.Decimal `json:"detail_discount"`
	DetailVatRate  decimal.Decimal `json:"detail_vat_rate"`
}

// CheckChangeAllowed rejects edits once an invoice leaves Draft. Numbered
// documents are immutable except for status transitions.
func (invoice Invoice) CheckChangeAllowed(ctx context.Context) error {
	if invoice.CurrentStatus.AtLeastValidated() {
		return ErrInvoiceImmutable
	}
	return nil
}

// buildInvoiceDetails converts input lines to persisted lines with all
// derived monetary fields filled in.
func buildInvoiceDetails(businessId string, inputs []NewInvoiceDetail) []InvoiceDetail {
	details := make([]InvoiceDetail, len(inputs))
	for i, input := range inputs {
		details[i] = InvoiceDetail{
			BusinessId:     businessId,
			DetailName:     input.DetailName,
			DetailQty:      input.DetailQty,
			DetailUnitRate: input.DetailUnitRate,
			DetailDiscount: input.DetailDiscount,
			DetailVatRate:  input.DetailVatRate,
		}
		ComputeLineAmounts(&details[i])
	}
	return details
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	details := buildInvoiceDetails(businessId, input.Details)
	totals := ComputeInvoiceTotals(details)

	invoice := Invoice{
		BusinessId:            businessId,
		CreatedBy:             userName,
		UserId:                userId,
		OperationType:         input.OperationType,
		InvoiceDate:           input.InvoiceDate,
		DueDate:               input.DueDate,
		IssuerName:            input.IssuerName,
		IssuerSiret:           input.IssuerSiret,
		IssuerVatNumber:       input.IssuerVatNumber,
		IssuerAddress:         input.IssuerAddress,
		IssuerPhone:           input.IssuerPhone,
		IssuerEmail:           input.IssuerEmail,
		CustomerName:          input.CustomerName,
		CustomerSiret:         input.CustomerSiret,
		CustomerVatNumber:     input.CustomerVatNumber,
		CustomerAddress:       input.CustomerAddress,
		CustomerPhone:         input.CustomerPhone,
		CustomerEmail:         input.CustomerEmail,
		CurrentStatus:         InvoiceStatusDraft,
		Notes:                 input.Notes,
		Details:               details,
		InvoiceSubtotal:       totals.Subtotal,
		InvoiceTotalVatAmount: totals.VatAmount,
		InvoiceTotalAmount:    totals.TotalAmount,
	}

	db := config.GetDB()
	tx := db.Begin()

	// db action
	if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := replaceInvoiceTaxSummaries(ctx, tx, &invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := appendInvoiceAuditLog(ctx, tx, &invoice, InvoiceEventCreated, "invoice created as draft"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := publishInvoiceEvent(ctx, tx, &invoice, InvoiceEventCreated); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// UpdateInvoice replaces a draft's header fields and lines and recomputes
// all derived amounts. Validated invoices reject the change.
func UpdateInvoice(ctx context.Context, id int, input *NewInvoice) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	invoice, err := utils.FetchModelForChange[Invoice](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	details := buildInvoiceDetails(businessId, input.Details)
	totals := ComputeInvoiceTotals(details)

	db := config.GetDB()
	tx := db.Begin()

	// the pre-transaction fetch may race a concurrent validation
	locked, err := lockInvoiceRow(ctx, tx, businessId, invoice.ID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := locked.CheckChangeAllowed(ctx); err != nil {
		tx.Rollback()
		return nil, err
	}

	// lines are replaced wholesale, not diffed
	if err := tx.WithContext(ctx).
		Where("business_id = ? AND invoice_id = ?", businessId, invoice.ID).
		Delete(&InvoiceDetail{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for i := range details {
		details[i].InvoiceId = invoice.ID
	}

	invoice.OperationType = input.OperationType
	invoice.InvoiceDate = input.InvoiceDate
	invoice.DueDate = input.DueDate
	invoice.IssuerName = input.IssuerName
	invoice.IssuerSiret = input.IssuerSiret
	invoice.IssuerVatNumber = input.IssuerVatNumber
	invoice.IssuerAddress = input.IssuerAddress
	invoice.IssuerPhone = input.IssuerPhone
	invoice.IssuerEmail = input.IssuerEmail
	invoice.CustomerName = input.CustomerName
	invoice.CustomerSiret = input.CustomerSiret
	invoice.CustomerVatNumber = input.CustomerVatNumber
	invoice.CustomerAddress = input.CustomerAddress
	invoice.CustomerPhone = input.CustomerPhone
	invoice.CustomerEmail = input.CustomerEmail
	invoice.Notes = input.Notes
	invoice.Details = details
	invoice.InvoiceSubtotal = totals.Subtotal
	invoice.InvoiceTotalVatAmount = totals.VatAmount
	invoice.InvoiceTotalAmount = totals.TotalAmount

	// db action
	if err := tx.WithContext(ctx).Save(invoice).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := replaceInvoiceTaxSummaries(ctx, tx, invoice); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := appendInvoiceAuditLog(ctx, tx, invoice, InvoiceEventUpdated, "invoice draft updated"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := publishInvoiceEvent(ctx, tx, invoice, InvoiceEventUpdated); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return invoice, nil
}

func GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Invoice](ctx, businessId, id, "Details")
}

func GetInvoices(ctx context.Context) ([]*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Invoice](ctx, businessId, "Details")
}

// UpdateInvoiceStatus applies a post-validation lifecycle transition. The
// Draft -> Validated edge is excluded: that only happens through
// ValidateAndNumberInvoice, so a bare status change can never skip the
// compliance gate.
func UpdateInvoiceStatus(ctx context.Context, id int, nextStatus InvoiceStatus) (*Invoice, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	tx := db.Begin()

	// transition legality is decided on the locked row, not a snapshot
	invoice, err := lockInvoiceRow(ctx, tx, businessId, id)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if nextStatus == InvoiceStatusValidated || !invoice.CurrentStatus.CanTransitionTo(nextStatus) {
		tx.Rollback()
		return nil, ErrInvalidStatusTransition
	}

	previous := invoice.CurrentStatus
	invoice.CurrentStatus = nextStatus

	// db action
	if err := tx.WithContext(ctx).Model(invoice).Update("CurrentStatus", nextStatus).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	description := "status changed from " + string(previous) + " to " + string(nextStatus)
	if err := appendInvoiceAuditLog(ctx, tx, invoice, InvoiceEventStatusChanged, description); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := publishInvoiceEvent(ctx, tx, invoice, InvoiceEventStatusChanged); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return invoice, nil
}

// CancelInvoice cancels via the normal status transition. The permanent
// number, if one was issued, is never reclaimed; correction happens through
// a new compensating document.
func CancelInvoice(ctx context.Context, id int) (*Invoice, error) {
	return UpdateInvoiceStatus(ctx, id, InvoiceStatusCancelled)
}

// ValidateAndNumberInvoice runs the full compliance validation on a draft
// and, only if it passes, assigns the permanent sequential number and moves
// it to Validated. Number issuance and the invoice update commit in one
// transaction, so a crash in between can never burn a sequence.
func ValidateAndNumberInvoice(ctx context.Context, id int) (*Invoice, *ValidationResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}

	invoice, err := utils.FetchModel[Invoice](ctx, businessId, id, "Details")
	if err != nil {
		return nil, nil, err
	}
	if invoice.CurrentStatus != InvoiceStatusDraft {
		return nil, nil, ErrInvalidStatusTransition
	}

	result := ValidateInvoiceCompliance(invoice)
	if !result.IsValid {
		return invoice, result, ErrInvoiceNotCompliant
	}

	err = utils.BusinessLock(ctx, businessId, "invoice_number_series", "invoice", "ValidateAndNumberInvoice", func() error {
		db := config.GetDB()
		tx := db.Begin()

		// re-verify Draft under lock: a concurrent call may have numbered
		// this invoice between the fetch above and here, and a permanent
		// number must never be overwritten
		locked, err := lockInvoiceRow(ctx, tx, businessId, invoice.ID)
		if err != nil {
			tx.Rollback()
			return err
		}
		if locked.CurrentStatus != InvoiceStatusDraft {
			tx.Rollback()
			return ErrInvalidStatusTransition
		}

		issued, err := issueNextInvoiceNumberTx(ctx, tx, businessId, time.Now())
		if err != nil {
			tx.Rollback()
			return err
		}

		now := time.Now()
		invoice.InvoiceNumber = issued.InvoiceNumber
		invoice.SequenceNo = issued.SequenceNo
		invoice.SequenceYear = issued.Year
		invoice.CurrentStatus = InvoiceStatusValidated
		invoice.ValidatedAt = &now

		// db action
		if err := tx.WithContext(ctx).Model(invoice).Updates(map[string]interface{}{
			"InvoiceNumber": issued.InvoiceNumber,
			"SequenceNo":    issued.SequenceNo,
			"SequenceYear":  issued.Year,
			"CurrentStatus": InvoiceStatusValidated,
			"ValidatedAt":   &now,
		}).Error; err != nil {
			tx.Rollback()
			return err
		}
		if err := appendInvoiceAuditLog(ctx, tx, invoice, InvoiceEventNumbered, "assigned invoice number "+issued.InvoiceNumber); err != nil {
			tx.Rollback()
			return err
		}
		if err := appendInvoiceAuditLog(ctx, tx, invoice, InvoiceEventValidated, "invoice validated"); err != nil {
			tx.Rollback()
			return err
		}
		if err := publishInvoiceEvent(ctx, tx, invoice, InvoiceEventValidated); err != nil {
			tx.Rollback()
			return err
		}

		return tx.Commit().Error
	})
	if err == utils.ErrLockNotObtained {
		return nil, nil, ErrSeriesLocked
	}
	if err != nil {
		return nil, nil, err
	}
	_ = config.RemoveRedisKey(seriesCacheKey(businessId))
	return invoice, result, nil
}
