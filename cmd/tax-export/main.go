package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/audit"
	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/reports"
	"bitbucket.org/mmdatafocus/billing_ledger/snapshot"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/google/uuid"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Tenant to export (required).")
	period := flag.String("period", "", "Month to export (YYYY-MM). Defaults to the previous month.")
	output := flag.String("output", "", "Output xlsx path. Defaults to tax-export-<tenant>-<period>.xlsx.")
	flag.Parse()

	if strings.TrimSpace(*tenantID) == "" {
		fmt.Fprintln(os.Stderr, "-tenant-id is required")
		os.Exit(2)
	}
	from, err := periodStart(*period, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -period: %v\n", err)
		os.Exit(2)
	}
	to := from.AddDate(0, 1, 0)
	path := *output
	if path == "" {
		path = fmt.Sprintf("tax-export-%s-%s.xlsx", *tenantID, from.Format("2006-01"))
	}

	settings := config.LoadSettings()
	config.SetLogLevel(settings.LogLevel)
	logger := config.GetLogger()

	ctx := utils.SetTenantIdInContext(context.Background(), *tenantID)
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	db := config.ConnectDatabaseWithRetry(settings)
	cache, _ := config.ConnectRedisWithRetry(ctx, settings)
	store := snapshot.NewStore(db, cache, settings.SnapshotCacheTTL)

	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", path, err)
		os.Exit(1)
	}
	summary, err := reports.ExportSnapshots(ctx, store, *tenantID, from, to, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		config.LogError(logger, "tax-export", "main", "ExportSnapshots", *tenantID, err)
		os.Remove(path)
		os.Exit(1)
	}

	recorder := audit.NewRecorder(db, nil)
	for _, invoiceID := range summary.InvoiceIds {
		_, err := recorder.Record(ctx, *tenantID, audit.Entry{
			InvoiceId:   invoiceID,
			Action:      models.AuditActionExport,
			Actor:       models.Actor{UserId: 0, UserName: "TaxExport"},
			Description: "Included in tax export " + from.Format("2006-01"),
			After:       map[string]string{"file": path},
		})
		if err != nil {
			config.LogError(logger, "tax-export", "main", "RecordExport", invoiceID, err)
		}
	}
	fmt.Printf("exported %d invoices to %s (tax %s, total %s)\n", summary.Invoices, path, summary.Tax.StringFixed(2), summary.GrandTotal.StringFixed(2))
}

func periodStart(period string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(period) == "" {
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, -1, 0), nil
	}
	return time.ParseInLocation("2006-01", strings.TrimSpace(period), time.UTC)
}
