package config

import (
	"testing"
	"time"
)

func TestLoadSettings_NonPositiveIntervalsFallBack(t *testing.T) {
	t.Setenv("AUDIT_SWEEP_INTERVAL_MINUTES", "0")
	t.Setenv("AUDIT_SWEEP_BATCH_SIZE", "-5")
	t.Setenv("OUTBOX_POLL_INTERVAL_MS", "-1")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "0")
	t.Setenv("AUDIT_RETENTION_MONTHS", "36")

	s := LoadSettings()
	if s.AuditSweepInterval != time.Hour {
		t.Fatalf("expected sweep interval 1h, got %s", s.AuditSweepInterval)
	}
	if s.AuditSweepBatchSize != 500 {
		t.Fatalf("expected sweep batch 500, got %d", s.AuditSweepBatchSize)
	}
	if s.OutboxPollEvery != time.Second {
		t.Fatalf("expected poll interval 1s, got %s", s.OutboxPollEvery)
	}
	if s.OutboxMaxAttempts != 10 {
		t.Fatalf("expected max attempts 10, got %d", s.OutboxMaxAttempts)
	}
	if s.AuditRetentionMonths != 36 {
		t.Fatalf("expected retention 36, got %d", s.AuditRetentionMonths)
	}
}
