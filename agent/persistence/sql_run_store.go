package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/careerflow/internal/database"
	"github.com/BaSui01/careerflow/internal/retry"
)

// runRecord is the gorm row for one run. The full run lives in Data; the
// indexed columns only serve List filtering. Version implements
// compare-and-swap updates.
type runRecord struct {
	ID        string    `gorm:"primaryKey;size:191"`
	Workflow  string    `gorm:"size:191;index"`
	Status    string    `gorm:"size:32;index"`
	Version   int64     `gorm:"not null;default:0"`
	Data      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (runRecord) TableName() string { return "workflow_runs" }

// SQLRunStore is a gorm-backed implementation of RunStore for postgres,
// mysql or sqlite.
type SQLRunStore struct {
	pool       *database.PoolManager
	maxRetries int
	txRetry    retry.Policy
	logger     *zap.Logger
}

// NewSQLRunStore opens the configured database and migrates the runs table
func NewSQLRunStore(config StoreConfig, logger *zap.Logger) (*SQLRunStore, error) {
	pool, err := database.Open(config.Database, logger)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLRunStoreWithPool(pool, config, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLRunStoreWithPool uses an existing pool; the store closes it on Close.
func NewSQLRunStoreWithPool(pool *database.PoolManager, config StoreConfig, logger *zap.Logger) (*SQLRunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().AutoMigrate(&runRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate runs table: %w", err)
	}
	retries := config.MaxCASRetries
	if retries <= 0 {
		retries = 16
	}
	return &SQLRunStore{
		pool:       pool,
		maxRetries: retries,
		txRetry:    config.TxRetry,
		logger:     logger.With(zap.String("component", "sql_run_store")),
	}, nil
}

// Close closes the store
func (s *SQLRunStore) Close() error {
	return s.pool.Close()
}

// Ping checks if the store is healthy
func (s *SQLRunStore) Ping(ctx context.Context) error {
	err := s.pool.Ping(ctx)
	if errors.Is(err, database.ErrPoolClosed) {
		return ErrStoreClosed
	}
	return err
}

func (s *SQLRunStore) db(ctx context.Context) (*gorm.DB, error) {
	if err := s.pool.Ping(ctx); errors.Is(err, database.ErrPoolClosed) {
		return nil, ErrStoreClosed
	}
	return s.pool.DB().WithContext(ctx), nil
}

// Create persists a new run. Transient transaction failures are retried
// with the store's TxRetry policy.
func (s *SQLRunStore) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return ErrInvalidInput
	}
	if err := ValidateRunID(run.ID); err != nil {
		return err
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	err = s.pool.WithTransactionRetry(ctx, s.txRetry, func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&runRecord{}).Where("id = ?", run.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(&runRecord{
			ID:        run.ID,
			Workflow:  run.Workflow,
			Status:    string(run.Status),
			Data:      string(data),
			CreatedAt: run.CreatedAt,
			UpdatedAt: run.UpdatedAt,
		}).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}

// Get retrieves a run by ID
func (s *SQLRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}
	_, run, err := s.load(db, runID)
	return run, err
}

func (s *SQLRunStore) load(db *gorm.DB, runID string) (runRecord, *Run, error) {
	var rec runRecord
	err := db.Where("id = ?", runID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, nil, ErrNotFound
	}
	if err != nil {
		return rec, nil, err
	}
	run, err := decodeRun([]byte(rec.Data))
	return rec, run, err
}

// Update merges u into the stored run. Each attempt reads the row and
// writes it back only if its version is unchanged.
func (s *SQLRunStore) Update(ctx context.Context, runID string, u Update) (*Run, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	for i := 0; i < s.maxRetries; i++ {
		rec, run, err := s.load(db, runID)
		if err != nil {
			return nil, err
		}
		if err := run.Apply(u); err != nil {
			return nil, err
		}
		data, err := json.Marshal(run)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run: %w", err)
		}

		res := db.Model(&runRecord{}).
			Where("id = ? AND version = ?", runID, rec.Version).
			Updates(map[string]any{
				"status":     string(run.Status),
				"data":       string(data),
				"version":    rec.Version + 1,
				"updated_at": run.UpdatedAt,
			})
		if res.Error != nil {
			if database.IsRetryableError(res.Error) {
				continue
			}
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return run, nil
		}
		s.logger.Debug("run update conflict, retrying",
			zap.String("run_id", runID),
			zap.Int64("version", rec.Version),
			zap.Int("attempt", i+1))
	}
	return nil, fmt.Errorf("%w: run %s after %d attempts", ErrConflict, runID, s.maxRetries)
}

// List retrieves runs matching the filter
func (s *SQLRunStore) List(ctx context.Context, filter RunFilter) ([]*Run, error) {
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&runRecord{})
	if filter.Workflow != "" {
		query = query.Where("workflow = ?", filter.Workflow)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}

	var records []runRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(records))
	for _, rec := range records {
		run, err := decodeRun([]byte(rec.Data))
		if err != nil {
			s.logger.Warn("skipping undecodable run", zap.String("run_id", rec.ID), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	// 排序与分页统一在内存中完成，保证各后端顺序一致
	return applyFilter(runs, filter), nil
}
