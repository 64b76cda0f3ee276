package models

import (
	"fmt"

	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"github.com/shopspring/decimal"
)

// Issue codes are stable machine-readable identifiers. Messages may change,
// codes never do.
const (
	CodeRequiredField            = "REQUIRED_FIELD"
	CodeMissingSiret             = "MISSING_SIRET"
	CodeInvalidSiret             = "INVALID_SIRET"
	CodeInvalidVatNumber         = "INVALID_VAT_NUMBER"
	CodeInvalidDate              = "INVALID_DATE"
	CodeDueDateBeforeInvoiceDate = "DUE_DATE_BEFORE_INVOICE_DATE"
	CodeNegativeAmount           = "NEGATIVE_AMOUNT"
	CodeAmountMismatch           = "AMOUNT_MISMATCH"
	CodeLineVatMismatch          = "LINE_VAT_MISMATCH"
	CodeLinesTotalMismatch       = "LINES_TOTAL_MISMATCH"
	CodeNonStandardVatRate       = "NON_STANDARD_VAT_RATE"
	CodeInvalidPhone             = "INVALID_PHONE"
	CodeInvalidEmail             = "INVALID_EMAIL"
)

type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

func (r *ValidationResult) addError(code, field, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Code: code, Field: field, Message: message})
	r.IsValid = false
}

func (r *ValidationResult) addWarning(code, field, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Code: code, Field: field, Message: message})
}

// Domestic VAT rates in force. Anything else is flagged as a warning, not
// an error, since reduced territorial rates legitimately exist.
var standardVatRates = []decimal.Decimal{
	decimal.NewFromInt(0),
	decimal.NewFromFloat(2.1),
	decimal.NewFromFloat(5.5),
	decimal.NewFromInt(10),
	decimal.NewFromInt(20),
}

// amountTolerance absorbs one rounding unit of drift when comparing stored
// amounts against recomputed ones.
var amountTolerance = decimal.NewFromFloat(0.01)

func isStandardVatRate(rate decimal.Decimal) bool {
	for _, r := range standardVatRates {
		if rate.Equal(r) {
			return true
		}
	}
	return false
}

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(amountTolerance)
}

// ValidateInvoiceCompliance runs every check and collects every issue; it
// never stops at the first failure. The function is pure: same invoice in,
// same result out, and the invoice is left untouched. An invoice may only
// receive its permanent number when the result has no errors.
func ValidateInvoiceCompliance(invoice *Invoice) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	checkRequiredFields(invoice, result.addError)
	checkIdentifiers(invoice, result, result.addError)
	checkDates(invoice, result.addError)
	checkLines(invoice, result, result.addError)
	checkTotals(invoice, result.addError)

	return result
}

// ValidateInvoiceDraft is the lenient variant used while a document is
// still being assembled: missing data comes back as warnings so the user
// sees what remains to be filled in, but a present identifier that fails
// its checksum is an error at any stage.
func ValidateInvoiceDraft(invoice *Invoice) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	checkRequiredFields(invoice, result.addWarning)
	checkIdentifiers(invoice, result, result.addWarning)
	checkDates(invoice, result.addWarning)
	checkLines(invoice, result, result.addWarning)
	checkTotals(invoice, result.addWarning)

	return result
}

func checkRequiredFields(invoice *Invoice, report func(code, field, message string)) {
	if invoice.OperationType == "" {
		report(CodeRequiredField, "operation_type", "operation type is required")
	}
	if invoice.IssuerName == "" {
		report(CodeRequiredField, "issuer_name", "issuer name is required")
	}
	if invoice.IssuerAddress == "" {
		report(CodeRequiredField, "issuer_address", "issuer address is required")
	}
	if invoice.CustomerName == "" {
		report(CodeRequiredField, "customer_name", "customer name is required")
	}
	if invoice.CustomerAddress == "" {
		report(CodeRequiredField, "customer_address", "customer address is required")
	}
	if invoice.InvoiceDate == nil {
		report(CodeRequiredField, "invoice_date", "invoice date is required")
	}
	if invoice.DueDate == nil {
		report(CodeRequiredField, "due_date", "due date is required")
	}
	if len(invoice.Details) == 0 {
		report(CodeRequiredField, "details", "invoice must have at least one line")
	}
}

// checkIdentifiers reports a present-but-invalid identifier as an error in
// both modes; only the absence of the issuer siret follows the mode's
// severity. An absent customer siret is advisory in both modes, the
// obligation depends on the transaction type.
func checkIdentifiers(invoice *Invoice, result *ValidationResult, reportMissing func(code, field, message string)) {
	if invoice.IssuerSiret == "" {
		reportMissing(CodeMissingSiret, "issuer_siret", "issuer siret is required")
	} else if err := ValidateSiret(invoice.IssuerSiret); err != nil {
		result.addError(CodeInvalidSiret, "issuer_siret", err.Error())
	}

	if invoice.CustomerSiret == "" {
		result.addWarning(CodeMissingSiret, "customer_siret", "customer siret is not set")
	} else if err := ValidateSiret(invoice.CustomerSiret); err != nil {
		result.addError(CodeInvalidSiret, "customer_siret", err.Error())
	}

	if invoice.IssuerVatNumber != "" {
		if err := ValidateVatNumber(invoice.IssuerVatNumber); err != nil {
			result.addError(CodeInvalidVatNumber, "issuer_vat_number", err.Error())
		}
	}
	if invoice.CustomerVatNumber != "" {
		if err := ValidateVatNumber(invoice.CustomerVatNumber); err != nil {
			result.addError(CodeInvalidVatNumber, "customer_vat_number", err.Error())
		}
	}

	if invoice.IssuerPhone != "" {
		if err := utils.ValidatePhoneNumber(invoice.IssuerPhone, utils.CountryCode); err != nil {
			result.addWarning(CodeInvalidPhone, "issuer_phone", "issuer phone number is not valid")
		}
	}
	if invoice.CustomerPhone != "" {
		if err := utils.ValidatePhoneNumber(invoice.CustomerPhone, utils.CountryCode); err != nil {
			result.addWarning(CodeInvalidPhone, "customer_phone", "customer phone number is not valid")
		}
	}

	if invoice.IssuerEmail != "" && !utils.IsValidEmail(invoice.IssuerEmail) {
		result.addWarning(CodeInvalidEmail, "issuer_email", "issuer email is not valid")
	}
	if invoice.CustomerEmail != "" && !utils.IsValidEmail(invoice.CustomerEmail) {
		result.addWarning(CodeInvalidEmail, "customer_email", "customer email is not valid")
	}
}

// checkDates treats the zero time as invalid: a zero value reaching this
// point means an unparsed or defaulted date column, not a real calendar date.
func checkDates(invoice *Invoice, report func(code, field, message string)) {
	if invoice.InvoiceDate != nil && invoice.InvoiceDate.IsZero() {
		report(CodeInvalidDate, "invoice_date", "invoice date is not a valid calendar date")
	}
	if invoice.DueDate != nil && invoice.DueDate.IsZero() {
		report(CodeInvalidDate, "due_date", "due date is not a valid calendar date")
	}
	if invoice.InvoiceDate == nil || invoice.InvoiceDate.IsZero() ||
		invoice.DueDate == nil || invoice.DueDate.IsZero() {
		return
	}
	if invoice.DueDate.Before(*invoice.InvoiceDate) {
		report(CodeDueDateBeforeInvoiceDate, "due_date", "due date is before the invoice date")
	}
}

func checkLines(invoice *Invoice, result *ValidationResult, report func(code, field, message string)) {
	for i := range invoice.Details {
		detail := &invoice.Details[i]
		field := fmt.Sprintf("details[%d]", i)

		if detail.DetailName == "" {
			report(CodeRequiredField, field+".detail_name", "line description is required")
		}
		if detail.DetailQty.LessThanOrEqual(decimal.Zero) {
			report(CodeNegativeAmount, field+".detail_qty", "line quantity must be greater than zero")
		}
		if detail.DetailUnitRate.IsNegative() {
			report(CodeNegativeAmount, field+".detail_unit_rate", "line unit rate is negative")
		}
		if detail.DetailVatRate.IsNegative() {
			report(CodeNegativeAmount, field+".detail_vat_rate", "line vat rate is negative")
		} else if !isStandardVatRate(detail.DetailVatRate) {
			result.addWarning(CodeNonStandardVatRate, field+".detail_vat_rate",
				fmt.Sprintf("vat rate %s is not a standard rate", detail.DetailVatRate.String()))
		}

		expectedVat := utils.CalculateVatAmount(detail.DetailNetAmount, detail.DetailVatRate)
		if !withinTolerance(detail.DetailVatAmount, expectedVat) {
			report(CodeLineVatMismatch, field+".detail_vat_amount",
				fmt.Sprintf("line vat amount %s does not match %s%% of %s",
					detail.DetailVatAmount.String(), detail.DetailVatRate.String(), detail.DetailNetAmount.String()))
		}
	}
}

// checkTotals reconciles the stored document totals three ways: against
// each other, against the sum of line totals, and against the per-rate
// breakdown recomputed from the lines. Drift beyond one rounding unit on
// any of them is a hard inconsistency.
func checkTotals(invoice *Invoice, report func(code, field, message string)) {
	if invoice.InvoiceSubtotal.IsNegative() {
		report(CodeNegativeAmount, "invoice_subtotal", "subtotal is negative")
	}
	if invoice.InvoiceTotalVatAmount.IsNegative() {
		report(CodeNegativeAmount, "invoice_total_vat_amount", "total vat is negative")
	}
	if invoice.InvoiceTotalAmount.IsNegative() {
		report(CodeNegativeAmount, "invoice_total_amount", "total is negative")
	}

	expectedTotal := utils.RoundMoney(invoice.InvoiceSubtotal.Add(invoice.InvoiceTotalVatAmount))
	if !withinTolerance(invoice.InvoiceTotalAmount, expectedTotal) {
		report(CodeAmountMismatch, "invoice_total_amount",
			fmt.Sprintf("total %s does not equal subtotal %s plus vat %s",
				invoice.InvoiceTotalAmount.String(), invoice.InvoiceSubtotal.String(), invoice.InvoiceTotalVatAmount.String()))
	}

	if len(invoice.Details) == 0 {
		return
	}

	linesTotal := decimal.Zero
	for i := range invoice.Details {
		linesTotal = linesTotal.Add(invoice.Details[i].DetailTotalAmount)
	}
	if !withinTolerance(invoice.InvoiceTotalAmount, linesTotal) {
		report(CodeLinesTotalMismatch, "invoice_total_amount",
			fmt.Sprintf("total %s does not match sum of line totals %s",
				invoice.InvoiceTotalAmount.String(), linesTotal.String()))
	}

	totals := ComputeInvoiceTotals(invoice.Details)
	if !withinTolerance(invoice.InvoiceSubtotal, totals.Subtotal) {
		report(CodeAmountMismatch, "invoice_subtotal",
			fmt.Sprintf("subtotal %s does not match recomputed %s",
				invoice.InvoiceSubtotal.String(), totals.Subtotal.String()))
	}
	if !withinTolerance(invoice.InvoiceTotalVatAmount, totals.VatAmount) {
		report(CodeAmountMismatch, "invoice_total_vat_amount",
			fmt.Sprintf("total vat %s does not match recomputed %s",
				invoice.InvoiceTotalVatAmount.String(), totals.VatAmount.String()))
	}
}
