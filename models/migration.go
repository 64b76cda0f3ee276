package models

import (
	"bitbucket.org/mmdatafocus/facture_backend/config"
)

func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Invoice{},
		&InvoiceDetail{},
		&InvoiceTaxSummary{},
		&InvoiceNumberSeries{},
		&InvoiceAuditLog{},
		&InvoiceEventRecord{},
		&ReconciliationReport{},
	)
	if err != nil {
		panic("table migration failed")
	}
}
