package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileRunStore keeps one JSON document per run under BaseDir/runs.
// Suitable for single-node production deployments. Every write goes to a
// synced temporary file that is renamed over the record, and the directory
// is synced after the rename, so a crash leaves either the old or the new
// version on disk.
type FileRunStore struct {
	baseDir string
	locks   *keyedMutex
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewFileRunStore creates a new file-based run store
func NewFileRunStore(config StoreConfig, logger *zap.Logger) (*FileRunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseDir := filepath.Join(config.BaseDir, "runs")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run store directory: %w", err)
	}
	return &FileRunStore{
		baseDir: baseDir,
		locks:   newKeyedMutex(),
		logger:  logger.With(zap.String("component", "file_run_store")),
	}, nil
}

// Close closes the store
func (s *FileRunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store directory is usable
func (s *FileRunStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileRunStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *FileRunStore) path(runID string) string {
	return filepath.Join(s.baseDir, runID+".json")
}

// Create persists a new run
func (s *FileRunStore) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return ErrInvalidInput
	}
	if err := ValidateRunID(run.ID); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	unlock := s.locks.Lock(run.ID)
	defer unlock()

	if _, err := os.Stat(s.path(run.ID)); err == nil {
		return ErrAlreadyExists
	} else if !os.IsNotExist(err) {
		return err
	}
	return s.write(run)
}

// Get retrieves a run by ID
func (s *FileRunStore) Get(ctx context.Context, runID string) (*Run, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, ErrNotFound
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.read(s.path(runID))
}

// Update merges u into the stored run
func (s *FileRunStore) Update(ctx context.Context, runID string, u Update) (*Run, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, ErrNotFound
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(runID)
	defer unlock()

	run, err := s.read(s.path(runID))
	if err != nil {
		return nil, err
	}
	if err := run.Apply(u); err != nil {
		return nil, err
	}
	if err := s.write(run); err != nil {
		return nil, err
	}
	return run, nil
}

// List retrieves runs matching the filter
func (s *FileRunStore) List(ctx context.Context, filter RunFilter) ([]*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	runs := make([]*Run, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		run, err := s.read(filepath.Join(s.baseDir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable run file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	return applyFilter(runs, filter), nil
}

func (s *FileRunStore) read(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run, err := decodeRun(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return run, nil
}

// write 原子写: 写入临时文件并 fsync 后重命名，再 fsync 目录
func (s *FileRunStore) write(run *Run) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	tmp, err := os.CreateTemp(s.baseDir, run.ID+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpPath, s.path(run.ID)); err != nil {
		return err
	}
	return syncDir(s.baseDir)
}

// syncDir flushes dir's entries so a completed rename survives a crash.
func syncDir(dir string) error {
	// Windows 不支持对目录 fsync
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return fmt.Errorf("sync %s: %w", dir, err)
	}
	return d.Close()
}
