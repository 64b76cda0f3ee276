package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceNumberSeries is the per-business sequential numbering counter.
// next_number only ever increases within a year; on year change it resets
// to 1 and current_year advances. The row is mutated exclusively by
// issueNextInvoiceNumberTx under a SELECT ... FOR UPDATE row lock.
type InvoiceNumberSeries struct {
	ID             int        `gorm:"primary_key" json:"id"`
	BusinessId     string     `gorm:"size:64;uniqueIndex;not null" json:"business_id" validate:"required"`
	Prefix         string     `gorm:"size:10" json:"prefix"`
	IncludeYear    *bool      `gorm:"not null;default:true" json:"include_year"`
	YearFormat     YearFormat `gorm:"type:enum('Full','Short');not null;default:'Full'" json:"year_format"`
	SequenceDigits int        `gorm:"not null;default:5" json:"sequence_digits"`
	Separator      string     `gorm:"size:3;not null;default:'-'" json:"separator"`
	CurrentYear    int        `gorm:"not null" json:"current_year"`
	NextNumber     int64      `gorm:"not null;default:1" json:"next_number"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoiceNumberSeries struct {
	Prefix         string     `json:"prefix"`
	IncludeYear    *bool      `json:"include_year" validate:"required"`
	YearFormat     YearFormat `json:"year_format" validate:"required,oneof=Full Short"`
	SequenceDigits int        `json:"sequence_digits" validate:"required,min=1,max=12"`
	Separator      string     `json:"separator" validate:"max=3"`
}

// IssuedNumber is what the authority hands back: the formatted permanent
// number plus the raw sequence used, for the audit trail.
type IssuedNumber struct {
	InvoiceNumber string `json:"invoice_number"`
	SequenceNo    int64  `json:"sequence_no"`
	Year          int    `json:"year"`
}

func CreateInvoiceNumberSeries(ctx context.Context, input *NewInvoiceNumberSeries) (*InvoiceNumberSeries, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[InvoiceNumberSeries](ctx, businessId, "business_id", businessId, 0); err != nil {
		return nil, errors.New("number series already configured for business")
	}

	series := InvoiceNumberSeries{
		BusinessId:     businessId,
		Prefix:         input.Prefix,
		IncludeYear:    input.IncludeYear,
		YearFormat:     input.YearFormat,
		SequenceDigits: input.SequenceDigits,
		Separator:      separatorOrDefault(input.Separator),
		CurrentYear:    time.Now().Year(),
		NextNumber:     1,
	}

	db := config.GetDB()
	// db action
	err := db.WithContext(ctx).Create(&series).Error
	if err != nil {
		return nil, err
	}
	_ = config.RemoveRedisKey(seriesCacheKey(businessId))
	return &series, nil
}

// UpdateInvoiceNumberSeries changes format fields only. The counter itself
// (current_year/next_number) is never writable from outside the authority.
func UpdateInvoiceNumberSeries(ctx context.Context, id int, input *NewInvoiceNumberSeries) (*InvoiceNumberSeries, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	series, err := utils.FetchModel[InvoiceNumberSeries](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	// db action
	if err := db.WithContext(ctx).Model(series).Updates(map[string]interface{}{
		"Prefix":         input.Prefix,
		"IncludeYear":    input.IncludeYear,
		"YearFormat":     input.YearFormat,
		"SequenceDigits": input.SequenceDigits,
		"Separator":      separatorOrDefault(input.Separator),
	}).Error; err != nil {
		return nil, err
	}
	_ = config.RemoveRedisKey(seriesCacheKey(businessId))

	return series, nil
}

func seriesCacheKey(businessId string) string {
	return "invoice_number_series:" + businessId
}

// GetInvoiceNumberSeries reads through a short-lived cache. The cache only
// serves this read API; issuance always re-reads the row under lock, so a
// stale cached next_number can never influence the numbers actually issued.
func GetInvoiceNumberSeries(ctx context.Context) (*InvoiceNumberSeries, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var series InvoiceNumberSeries
	if found, err := config.GetRedisObject(seriesCacheKey(businessId), &series); err == nil && found {
		return &series, nil
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Where("business_id = ?", businessId).First(&series).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrSeriesNotConfigured
	}
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(seriesCacheKey(businessId), &series, 10*time.Minute)
	return &series, nil
}

func separatorOrDefault(sep string) string {
	if sep == "" {
		return "-"
	}
	return sep
}

// IssueNextInvoiceNumber issues the next permanent number for the calling
// business in its own transaction. Two concurrent calls for the same
// business never observe the same next_number; calls for different
// businesses do not block one another. On any failure the counter is
// untouched and the caller may retry.
func IssueNextInvoiceNumber(ctx context.Context) (*IssuedNumber, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var issued *IssuedNumber
	err := utils.BusinessLock(ctx, businessId, "invoice_number_series", "numberSeries", "IssueNextInvoiceNumber", func() error {
		db := config.GetDB()
		tx := db.Begin()
		var err error
		issued, err = issueNextInvoiceNumberTx(ctx, tx, businessId, time.Now())
		if err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit().Error
	})
	if err == utils.ErrLockNotObtained {
		return nil, ErrSeriesLocked
	}
	if err != nil {
		return nil, err
	}
	_ = config.RemoveRedisKey(seriesCacheKey(businessId))
	return issued, nil
}

// issueNextInvoiceNumberTx is the atomic read-increment-write unit. It must
// run inside a transaction; the FOR UPDATE lock on the counter row holds
// until that transaction commits or rolls back, so no other issuance can
// act on the pre-increment value. Counter state is re-read every call —
// a previously seen value may be stale relative to another committed
// increment.
func issueNextInvoiceNumberTx(ctx context.Context, tx *gorm.DB, businessId string, now time.Time) (*IssuedNumber, error) {
	var series InvoiceNumberSeries
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&series).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrSeriesNotConfigured
	}
	if err != nil {
		return nil, err
	}

	// Yearly rollover happens before issuing.
	year := now.Year()
	if series.CurrentYear != year {
		series.CurrentYear = year
		series.NextNumber = 1
	}

	seqNo := series.NextNumber
	invoiceNumber, err := FormatInvoiceNumber(&series, seqNo, year)
	if err != nil {
		return nil, err
	}

	// db action
	if err := tx.WithContext(ctx).Model(&series).Updates(map[string]interface{}{
		"NextNumber":  seqNo + 1,
		"CurrentYear": year,
	}).Error; err != nil {
		return nil, err
	}

	return &IssuedNumber{
		InvoiceNumber: invoiceNumber,
		SequenceNo:    seqNo,
		Year:          year,
	}, nil
}

// FormatInvoiceNumber renders [prefix-][year-]sequence for a specific
// (sequence, year) pair. This function is pure and fully deterministic.
func FormatInvoiceNumber(series *InvoiceNumberSeries, seqNo int64, year int) (string, error) {
	if seqNo <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seqNo)
	}
	digits := series.SequenceDigits
	if digits < 1 {
		digits = 1
	}

	parts := make([]string, 0, 3)
	if series.Prefix != "" {
		parts = append(parts, series.Prefix)
	}
	if utils.DereferencePtr(series.IncludeYear, true) {
		if series.YearFormat == YearFormatShort {
			parts = append(parts, fmt.Sprintf("%02d", year%100))
		} else {
			parts = append(parts, strconv.Itoa(year))
		}
	}
	parts = append(parts, fmt.Sprintf("%0*d", digits, seqNo))

	return strings.Join(parts, separatorOrDefault(series.Separator)), nil
}

var lastNumberRunRe = regexp.MustCompile(`(\d+)\D*$`)

// ExtractSequenceNo parses the sequence out of a formatted number: the last
// run of digits in the string. Used for audit, not for issuing.
func ExtractSequenceNo(invoiceNumber string) (int64, error) {
	m := lastNumberRunRe.FindStringSubmatch(invoiceNumber)
	if m == nil {
		return 0, fmt.Errorf("no sequence found in invoice number %q", invoiceNumber)
	}
	return strconv.ParseInt(m[1], 10, 64)
}

// FindSequenceGaps reports the integers in [rangeStart, rangeEnd] with no
// issued number, plus any sequence issued more than once. rangeStart
// defaults to 1 and rangeEnd to the highest issued sequence. Compliance
// audit only — a healthy series never produces either list.
func FindSequenceGaps(seqNos []int64, rangeStart *int64, rangeEnd *int64) (gaps []int64, duplicates []int64) {
	seen := make(map[int64]int, len(seqNos))
	var max int64
	for _, n := range seqNos {
		seen[n]++
		if n > max {
			max = n
		}
	}

	start := int64(1)
	if rangeStart != nil {
		start = *rangeStart
	}
	end := max
	if rangeEnd != nil {
		end = *rangeEnd
	}

	for n := start; n <= end; n++ {
		if seen[n] == 0 {
			gaps = append(gaps, n)
		}
	}
	for n, count := range seen {
		if count > 1 {
			duplicates = append(duplicates, n)
		}
	}
	sort.Slice(duplicates, func(i, j int) bool { return duplicates[i] < duplicates[j] })
	return gaps, duplicates
}
