package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/billing_ledger/config"
	"bitbucket.org/mmdatafocus/billing_ledger/models"
	"bitbucket.org/mmdatafocus/billing_ledger/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Record is a stored snapshot with its decoded payload. Raw is the exact stored JSON.
type Record struct {
	models.InvoiceSnapshot
	Data Payload         `json:"data"`
	Raw  json.RawMessage `json:"-"`
}

// Store is append-only: there is no update or delete. Reads put the tenant on the context and
// leave the tenant filter to the scope plugin installed by config.
// Rows never change, so reads may be served from Redis; a nil client disables the cache.
type Store struct {
	db    *gorm.DB
	cache *redis.Client
	ttl   time.Duration
}

func NewStore(db *gorm.DB, cache *redis.Client, ttl time.Duration) *Store {
	return &Store{db: db, cache: cache, ttl: ttl}
}

// Encode returns the canonical payload bytes and their sha256 hex digest.
func Encode(payload *Payload) ([]byte, string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(raw)
	return raw, hex.EncodeToString(sum[:]), nil
}

// CreateTx appends a snapshot row inside the caller's transaction.
func (s *Store) CreateTx(tx *gorm.DB, tenantId string, invoiceId int, payload *Payload) (*models.InvoiceSnapshot, error) {
	raw, hash, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	row := models.InvoiceSnapshot{
		TenantId:      tenantId,
		InvoiceId:     invoiceId,
		Status:        payload.Metadata.CapturedStatus,
		SchemaVersion: payload.Metadata.SchemaVersion,
		Payload:       string(raw),
		PayloadHash:   hash,
		CreatedBy:     payload.Metadata.ActorId,
		CreatedByName: payload.Metadata.ActorName,
		CreatedAt:     payload.Metadata.GeneratedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) Create(ctx context.Context, tenantId string, invoiceId int, payload *Payload) (*models.InvoiceSnapshot, error) {
	var row *models.InvoiceSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		row, err = s.CreateTx(tx, tenantId, invoiceId, payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Store) Get(ctx context.Context, tenantId string, snapshotId int) (*Record, error) {
	if row, ok := s.getCached(ctx, tenantId, snapshotId); ok {
		return decode(row)
	}
	var row models.InvoiceSnapshot
	err := s.db.WithContext(utils.SetTenantIdInContext(ctx, tenantId)).Where("id = ?", snapshotId).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	record, err := decode(&row)
	if err != nil {
		return nil, err
	}
	s.setCached(ctx, &row)
	return record, nil
}

// Latest returns the newest snapshot of an invoice.
func (s *Store) Latest(ctx context.Context, tenantId string, invoiceId int) (*Record, error) {
	var ids []int
	err := s.db.WithContext(utils.SetTenantIdInContext(ctx, tenantId)).Model(&models.InvoiceSnapshot{}).
		Where("invoice_id = ?", invoiceId).
		Order("id DESC").Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return s.Get(ctx, tenantId, ids[0])
}

// LatestTx reads the newest snapshot inside the caller's transaction, bypassing the cache.
func (s *Store) LatestTx(tx *gorm.DB, tenantId string, invoiceId int) (*Record, error) {
	var row models.InvoiceSnapshot
	err := tx.Where("tenant_id = ? AND invoice_id = ?", tenantId, invoiceId).
		Order("id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return decode(&row)
}

// List returns every snapshot of an invoice, oldest first.
func (s *Store) List(ctx context.Context, tenantId string, invoiceId int) ([]*Record, error) {
	var rows []models.InvoiceSnapshot
	err := s.db.WithContext(utils.SetTenantIdInContext(ctx, tenantId)).
		Where("invoice_id = ?", invoiceId).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(rows))
	for i := range rows {
		record, err := decode(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// ListForPeriod returns the snapshots captured in [from, to) with the given status, for tax export.
func (s *Store) ListForPeriod(ctx context.Context, tenantId string, status models.InvoiceStatus, from time.Time, to time.Time) ([]*Record, error) {
	var rows []models.InvoiceSnapshot
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND created_at >= ? AND created_at < ?", tenantId, status, from, to).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(rows))
	for i := range rows {
		record, err := decode(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func decode(row *models.InvoiceSnapshot) (*Record, error) {
	sum := sha256.Sum256([]byte(row.Payload))
	if hex.EncodeToString(sum[:]) != row.PayloadHash {
		return nil, fmt.Errorf("snapshot %d of invoice %d: %w", row.ID, row.InvoiceId, utils.ErrSnapshotTampered)
	}
	record := &Record{InvoiceSnapshot: *row, Raw: json.RawMessage(row.Payload)}
	if err := json.Unmarshal([]byte(row.Payload), &record.Data); err != nil {
		return nil, fmt.Errorf("decode snapshot %d: %w", row.ID, err)
	}
	return record, nil
}

func cacheKey(tenantId string, snapshotId int) string {
	return fmt.Sprintf("invoice_snapshot:%s:%d", tenantId, snapshotId)
}

func (s *Store) getCached(ctx context.Context, tenantId string, snapshotId int) (*models.InvoiceSnapshot, bool) {
	if s.cache == nil {
		return nil, false
	}
	val, err := s.cache.Get(ctx, cacheKey(tenantId, snapshotId)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			config.LogError(config.GetLogger(), "snapshot", "getCached", tenantId, snapshotId, err)
		}
		return nil, false
	}
	var row models.InvoiceSnapshot
	if err := json.Unmarshal(val, &row); err != nil {
		return nil, false
	}
	return &row, true
}

func (s *Store) setCached(ctx context.Context, row *models.InvoiceSnapshot) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(row)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(row.TenantId, row.ID), b, s.ttl).Err(); err != nil {
		config.LogError(config.GetLogger(), "snapshot", "setCached", row.TenantId, row.ID, err)
	}
}
