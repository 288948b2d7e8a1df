package persistence

import (
	"fmt"

	"go.uber.org/zap"
)

// NewRunStore creates a new RunStore based on the configuration
func NewRunStore(config StoreConfig, logger *zap.Logger) (RunStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryRunStore(), nil
	case StoreTypeFile:
		return NewFileRunStore(config, logger)
	case StoreTypeRedis:
		return NewRedisRunStore(config, logger)
	case StoreTypeSQL:
		return NewSQLRunStore(config, logger)
	default:
		return nil, fmt.Errorf("unsupported run store type: %s", config.Type)
	}
}

// NewManagerFromConfig creates the store and wraps it in a Manager
func NewManagerFromConfig(config StoreConfig, logger *zap.Logger) (*Manager, error) {
	store, err := NewRunStore(config, logger)
	if err != nil {
		return nil, err
	}
	return NewManager(store, logger), nil
}
