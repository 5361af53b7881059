package utils

import (
	"context"
	"errors"
	"strings"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// mysql error numbers that mean "another transaction got there first".
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// Unique indexes whose violation means a concurrent transaction took the same slot.
// mysql reports the index name, sqlite the constrained columns. Any other duplicate is a
// real conflict and is not retried.
var contendedUniqueKeys = []string{
	"idx_invoice_serial",
	"idx_prefix_one_active",
	"invoices.serial_number",
	"invoice_prefixes.active_tenant_id",
}

type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// IsContentionError reports whether err is a transient lock failure worth retrying the whole transaction for.
func IsContentionError(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return true
		case mysqlErrDuplicateEntry:
			return isContendedKey(mysqlErr.Message)
		}
		return false
	}
	// sqlite (tests, local tooling) only reports these as text.
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint failed") {
		return isContendedKey(msg)
	}
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

func isContendedKey(msg string) bool {
	msg = strings.ToLower(msg)
	for _, key := range contendedUniqueKeys {
		if strings.Contains(msg, key) {
			return true
		}
	}
	return false
}

// RetryOnContention runs fn until it succeeds, fails with a non-contention error, or the attempts are used up.
// It returns the number of attempts made together with the last error.
func RetryOnContention(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) (int, error) {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.InitialBackoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil || !IsContentionError(err) {
			return attempt, err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return attempts, err
}
