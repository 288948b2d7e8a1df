package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/types"
)

// FileExporter writes each run's final payload to <dir>/<run id>.json.
type FileExporter struct {
	dir string
}

// NewFileExporter creates an exporter rooted at dir. The directory is created
// on first export.
func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{dir: dir}
}

// Export writes atomically through a temp file and returns the file path.
func (e *FileExporter) Export(_ context.Context, runID string, final types.Payload) (string, error) {
	if err := persistence.ValidateRunID(runID); err != nil {
		return "", types.NewError(types.ErrInvalidInput, "invalid run id").WithCause(err)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return "", types.NewError(types.ErrInvalidInput, "payload is not serializable").WithCause(err)
	}

	path := filepath.Join(e.dir, runID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename export: %w", err)
	}
	return path, nil
}

// Export hands the collected run outputs to an Exporter.
type Export struct {
	*agent.Base
	exporter agent.Exporter
}

// NewExport creates the export stage.
func NewExport(exporter agent.Exporter, logger *zap.Logger, opts ...agent.BaseOption) *Export {
	x := &Export{exporter: exporter}
	x.Base = agent.NewBase(StageExport, x.process, logger, opts...)
	return x
}

func (x *Export) process(ctx context.Context, input types.Payload) agent.Result {
	runID := input.String(agent.InputRunID)
	if runID == "" {
		return agent.Failed(types.ErrInvalidInput, "export needs a run id")
	}

	// 汇总各阶段输出，按阶段标记而非步骤名归档
	stages := types.Payload{}
	up := input.Map(agent.InputUpstream)
	for _, name := range up.Keys() {
		out := up.Map(name)
		key := out.String(KeyStage)
		if key == "" {
			key = name
		}
		stages[key] = out
	}
	final := types.Payload{
		"run_id":      runID,
		"job":         jobOf(input),
		"stages":      stages,
		"exported_at": time.Now().UTC().Format(time.RFC3339),
	}

	ref, err := x.exporter.Export(ctx, runID, final)
	if err != nil {
		return agent.FailedFromError(err)
	}
	return agent.Succeeded(types.Payload{
		KeyStage:    StageExport,
		"reference": ref,
		"format":    "json",
	}, types.Payload{
		"stages_exported": len(stages),
	})
}
