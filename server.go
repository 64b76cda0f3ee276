package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/models"
	"github.com/joho/godotenv"
)

const defaultOutboxInterval = 10 * time.Second

func main() {
	godotenv.Load()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	interval := defaultOutboxInterval
	if v := os.Getenv("OUTBOX_DISPATCH_INTERVAL_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			interval = d
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("outbox dispatcher running (interval=%s)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("shutting down")
			return
		case <-ticker.C:
			sent, err := models.DispatchPendingInvoiceEvents(ctx, 50)
			if err != nil {
				log.Printf("outbox dispatch error: %v", err)
				continue
			}
			if sent > 0 {
				log.Printf("outbox dispatched %d events", sent)
			}
		}
	}
}
