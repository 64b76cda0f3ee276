package models

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const (
	CheckTypeSequenceGap       = "SEQUENCE_GAP"
	CheckTypeSequenceDuplicate = "SEQUENCE_DUPLICATE"
)

type issuedSequenceRow struct {
	SequenceYear int
	SequenceNo   int64
}

func issuedSequencesByYear(ctx context.Context, businessId string) (map[int][]int64, error) {
	db := config.GetDB()
	var rows []issuedSequenceRow
	err := db.WithContext(ctx).
		Model(&Invoice{}).
		Select("sequence_year", "sequence_no").
		Where("business_id = ? AND sequence_no > 0", businessId).
		Order("sequence_year ASC, sequence_no ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	byYear := make(map[int][]int64)
	for _, row := range rows {
		byYear[row.SequenceYear] = append(byYear[row.SequenceYear], row.SequenceNo)
	}
	return byYear, nil
}

// RunSequenceAuditChecks scans all issued invoice numbers per year and
// records every gap and duplicate as a reconciliation report row. Returns
// the correlation id of the run; zero findings means the series is healthy.
func RunSequenceAuditChecks(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", errors.New("business id is required")
	}

	logger := config.GetLogger()
	correlationId := uuid.NewString()

	byYear, err := issuedSequencesByYear(ctx, businessId)
	if err != nil {
		config.LogError(logger, "sequenceAudit", "RunSequenceAuditChecks", "failed to load issued sequences", businessId, err)
		return "", err
	}

	db := config.GetDB()
	var reports []ReconciliationReport
	for year, seqNos := range byYear {
		gaps, duplicates := FindSequenceGaps(seqNos, nil, nil)
		for _, n := range gaps {
			reports = append(reports, ReconciliationReport{
				BusinessId:    businessId,
				CheckType:     CheckTypeSequenceGap,
				EntityType:    "invoice",
				EntityId:      fmt.Sprintf("%d/%d", year, n),
				Details:       fmt.Sprintf("no invoice issued for sequence %d in year %d", n, year),
				CorrelationId: correlationId,
			})
		}
		for _, n := range duplicates {
			reports = append(reports, ReconciliationReport{
				BusinessId:    businessId,
				CheckType:     CheckTypeSequenceDuplicate,
				EntityType:    "invoice",
				EntityId:      fmt.Sprintf("%d/%d", year, n),
				Details:       fmt.Sprintf("sequence %d issued more than once in year %d", n, year),
				CorrelationId: correlationId,
			})
		}
	}

	if len(reports) > 0 {
		// db action
		if err := db.WithContext(ctx).Create(&reports).Error; err != nil {
			return "", err
		}
	}
	return correlationId, nil
}

// ExportSequenceAuditExcel builds a workbook with one sheet per issued
// year listing every invoice number in sequence order, plus a Findings
// sheet from the latest stored reports. Caller owns the returned file.
func ExportSequenceAuditExcel(ctx context.Context) (*excelize.File, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var invoices []Invoice
	err := db.WithContext(ctx).
		Where("business_id = ? AND sequence_no > 0", businessId).
		Order("sequence_year ASC, sequence_no ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()

	currentSheet := ""
	rowIdx := 0
	for i := range invoices {
		invoice := &invoices[i]
		sheet := fmt.Sprintf("Year %d", invoice.SequenceYear)
		if sheet != currentSheet {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, err
			}
			header := []interface{}{"Sequence", "Invoice Number", "Status", "Invoice Date", "Total Amount"}
			if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
				return nil, err
			}
			currentSheet = sheet
			rowIdx = 2
		}

		invoiceDate := ""
		if invoice.InvoiceDate != nil {
			invoiceDate = invoice.InvoiceDate.Format("2006-01-02")
		}
		row := []interface{}{
			invoice.SequenceNo,
			invoice.InvoiceNumber,
			string(invoice.CurrentStatus),
			invoiceDate,
			invoice.InvoiceTotalAmount.StringFixed(2),
		}
		cell, err := excelize.CoordinatesToCellName(1, rowIdx)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(currentSheet, cell, &row); err != nil {
			return nil, err
		}
		rowIdx++
	}

	reports, err := GetReconciliationReports(ctx, "")
	if err != nil {
		return nil, err
	}
	if _, err := f.NewSheet("Findings"); err != nil {
		return nil, err
	}
	header := []interface{}{"Check", "Entity", "Details", "Run", "Recorded At"}
	if err := f.SetSheetRow("Findings", "A1", &header); err != nil {
		return nil, err
	}
	for i, report := range reports {
		row := []interface{}{
			report.CheckType,
			report.EntityId,
			report.Details,
			report.CorrelationId,
			report.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow("Findings", cell, &row); err != nil {
			return nil, err
		}
	}

	// the default sheet stays empty
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	return f, nil
}
