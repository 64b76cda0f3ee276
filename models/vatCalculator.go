package models

import (
	"sort"

	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"github.com/shopspring/decimal"
)

// VatBreakdownEntry is one per-rate grouping of a document's lines.
// All amounts are rounded to 2 decimal places.
type VatBreakdownEntry struct {
	VatRate     decimal.Decimal `json:"vat_rate"`
	TaxableBase decimal.Decimal `json:"taxable_base"`
	VatAmount   decimal.Decimal `json:"vat_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// InvoiceTotals are derived from the breakdown, never computed
// independently, so the two always reconcile by construction.
type InvoiceTotals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	VatAmount   decimal.Decimal `json:"vat_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// ComputeLineAmounts fills the derived monetary fields of one line.
// Each step rounds to 2 decimals before the next; downstream reconciliation
// checks assume per-step rounding (each line's VAT must be independently
// auditable).
func ComputeLineAmounts(detail *InvoiceDetail) {
	detail.DetailSubtotal = utils.RoundMoney(detail.DetailQty.Mul(detail.DetailUnitRate))
	detail.DetailDiscountAmount = utils.CalculateDiscountAmount(detail.DetailSubtotal, detail.DetailDiscount)
	detail.DetailNetAmount = utils.ApplyDiscount(detail.DetailSubtotal, detail.DetailDiscountAmount)
	detail.DetailVatAmount = utils.CalculateVatAmount(detail.DetailNetAmount, detail.DetailVatRate)
	detail.DetailTotalAmount = utils.RoundMoney(detail.DetailNetAmount.Add(detail.DetailVatAmount))
}

// ComputeVatBreakdown groups lines by VAT rate. The group's VAT is
// recomputed from the summed taxable base, not by summing per-line VAT,
// which avoids accumulated rounding drift. Groups come back sorted by
// descending rate so display and audit comparisons are deterministic.
func ComputeVatBreakdown(details []InvoiceDetail) []VatBreakdownEntry {
	byRate := make(map[string]*VatBreakdownEntry)
	order := make([]string, 0)

	for i := range details {
		key := details[i].DetailVatRate.String()
		entry, ok := byRate[key]
		if !ok {
			entry = &VatBreakdownEntry{VatRate: details[i].DetailVatRate}
			byRate[key] = entry
			order = append(order, key)
		}
		entry.TaxableBase = entry.TaxableBase.Add(details[i].DetailNetAmount)
	}

	entries := make([]VatBreakdownEntry, 0, len(order))
	for _, key := range order {
		entry := byRate[key]
		entry.TaxableBase = utils.RoundMoney(entry.TaxableBase)
		entry.VatAmount = utils.CalculateVatAmount(entry.TaxableBase, entry.VatRate)
		entry.TotalAmount = utils.RoundMoney(entry.TaxableBase.Add(entry.VatAmount))
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].VatRate.GreaterThan(entries[j].VatRate)
	})
	return entries
}

// ComputeInvoiceTotals derives document totals from the per-rate breakdown.
func ComputeInvoiceTotals(details []InvoiceDetail) InvoiceTotals {
	totals := InvoiceTotals{
		Subtotal:    decimal.Zero,
		VatAmount:   decimal.Zero,
		TotalAmount: decimal.Zero,
	}
	for _, entry := range ComputeVatBreakdown(details) {
		totals.Subtotal = totals.Subtotal.Add(entry.TaxableBase)
		totals.VatAmount = totals.VatAmount.Add(entry.VatAmount)
		totals.TotalAmount = totals.TotalAmount.Add(entry.TotalAmount)
	}
	return totals
}
