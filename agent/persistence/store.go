package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/BaSui01/careerflow/internal/database"
	"github.com/BaSui01/careerflow/internal/retry"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
	ErrConflict      = errors.New("concurrent modification")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type" env:"TYPE"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir" env:"BASE_DIR"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis" env:"REDIS"`

	// Database configuration (only used when Type is "sql")
	Database database.Config `json:"database" yaml:"database" env:"DATABASE"`

	// MaxCASRetries bounds optimistic retries in the redis and sql backends
	MaxCASRetries int `json:"max_cas_retries" yaml:"max_cas_retries" env:"MAX_CAS_RETRIES"`

	// TxRetry backs off sql transactions that hit deadlocks or a busy database
	TxRetry retry.Policy `json:"tx_retry" yaml:"tx_retry" env:"TX_RETRY"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Host is the Redis server host
	Host string `json:"host" yaml:"host" env:"HOST"`

	// Port is the Redis server port
	Port int `json:"port" yaml:"port" env:"PORT"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password" env:"PASSWORD"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db" env:"DB"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/runs",
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "careerflow:",
		},
		Database:      database.DefaultConfig(),
		MaxCASRetries: 16,
		TxRetry: retry.Policy{
			MaxRetries:   3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2,
			Jitter:       true,
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// RunStore persists workflow runs.
type RunStore interface {
	Store

	// Create persists a new run; ErrAlreadyExists if the ID is taken
	Create(ctx context.Context, run *Run) error

	// Get returns a copy of the stored run; ErrNotFound if absent
	Get(ctx context.Context, runID string) (*Run, error)

	// Update atomically merges u into the stored run and returns the result.
	// Merge rule violations are returned as INVALID_TRANSITION errors and
	// leave the record unchanged.
	Update(ctx context.Context, runID string, u Update) (*Run, error)

	// List returns runs matching the filter, newest first
	List(ctx context.Context, filter RunFilter) ([]*Run, error)
}

// RunFilter defines filtering options for listing runs
type RunFilter struct {
	// Workflow filters by workflow name
	Workflow string `json:"workflow,omitempty"`

	// Status filters by one or more statuses
	Status []RunStatus `json:"status,omitempty"`

	// CreatedAfter filters runs created after this time
	CreatedAfter *time.Time `json:"created_after,omitempty"`

	// Limit is the maximum number of runs to return
	Limit int `json:"limit,omitempty"`

	// Offset is the number of runs to skip
	Offset int `json:"offset,omitempty"`
}

func (f RunFilter) matches(r *Run) bool {
	if f.Workflow != "" && r.Workflow != f.Workflow {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedAfter != nil && !r.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	return true
}

// applyFilter filters, sorts newest first and pages runs.
func applyFilter(runs []*Run, f RunFilter) []*Run {
	out := make([]*Run, 0, len(runs))
	for _, r := range runs {
		if f.matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*Run{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}
