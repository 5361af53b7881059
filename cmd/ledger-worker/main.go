package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/audit"
	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/workflow"
	"github.com/sirupsen/logrus"
)

// ledger-worker runs the background jobs: the audit retention sweep and the outbox dispatcher.
func main() {
	settings := config.LoadSettings()
	config.SetLogLevel(settings.LogLevel)
	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := config.ConnectDatabaseWithRetry(settings)
	if err := models.MigrateTable(db); err != nil {
		logger.WithFields(logrus.Fields{"field": "MigrateTable"}).Fatal(err.Error())
	}
	_, locker := config.ConnectRedisWithRetry(ctx, settings)

	publishers := map[string]workflow.Publisher{}
	if settings.PubSubProjectId != "" && settings.PubSubTopic != "" {
		client, err := config.GetPubSubClient(ctx, settings.PubSubProjectId)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "GetPubSubClient"}).Fatal(err.Error())
		}
		defer client.Close()
		events, err := config.NewPubSubPublisher(client, settings.PubSubTopic)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "NewPubSubPublisher"}).Fatal(err.Error())
		}
		defer events.Stop()
		publishers[models.OutboxTopicInvoiceEvents] = events
	}
	if settings.SnapshotArchiveBucket != "" {
		client, err := config.GetGCSClient(ctx)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "GetGCSClient"}).Fatal(err.Error())
		}
		defer client.Close()
		archive, err := config.NewGCSArchivePublisher(client, settings.SnapshotArchiveBucket)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "NewGCSArchivePublisher"}).Fatal(err.Error())
		}
		publishers[models.OutboxTopicSnapshotArchive] = archive
	}

	dispatcher := workflow.NewOutboxDispatcher(db, logger, publishers)
	dispatcher.BatchSize = settings.OutboxBatchSize
	dispatcher.MaxAttempts = settings.OutboxMaxAttempts
	dispatcher.PollInterval = settings.OutboxPollEvery

	sweeper := audit.NewSweeper(db, locker, models.SystemClock{}, settings.AuditRetentionMonths, settings.AuditSweepBatchSize)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		runSweeps(ctx, logger, sweeper, settings.AuditSweepInterval)
	}()

	config.LogInfo(logger, "ledger-worker", "main", "worker started", logrus.Fields{
		"dispatcher_id": dispatcher.DispatcherID,
		"topics":        len(publishers),
	})
	<-ctx.Done()
	wg.Wait()
	config.LogInfo(logger, "ledger-worker", "main", "worker stopped", nil)
}

func runSweeps(ctx context.Context, logger *logrus.Logger, sweeper *audit.Sweeper, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := sweeper.Sweep(ctx); err != nil {
			config.LogError(logger, "ledger-worker", "runSweeps", "Sweep", sweeper.Cutoff(), err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
