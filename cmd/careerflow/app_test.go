package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent/bus"
	"github.com/BaSui01/careerflow/config"
)

func TestApp_OperatorEndpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.WorkflowsDir = filepath.Join("..", "..", "workflows")
	cfg.Agents.Content.Encoding = ""
	cfg.Agents.Export.OutputDir = filepath.Join(dir, "out")
	cfg.Metrics.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.close(context.Background())
	require.NotNil(t, a.operator)

	get := func(path string) (int, string) {
		resp, err := http.Get("http://" + a.operator.Addr() + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/healthz")
	assert.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"run_store":"ok"`)
	assert.Contains(t, body, `"agents":"ok"`)

	a.collector.RecordRunFinished("senior_level", "completed", 1.5)
	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `careerflow_workflow_runs_total{status="completed",workflow="senior_level"} 1`)
	assert.Contains(t, body, "go_goroutines")

	for _, run := range []string{"run-x", "run-x", "run-y"} {
		require.NoError(t, a.bus.Publish(bus.NewMessage("engine", "observer", bus.KindStatusUpdate, run, nil)))
	}
	decode := func(body string) []bus.Message {
		var msgs []bus.Message
		require.NoError(t, json.Unmarshal([]byte(body), &msgs), body)
		return msgs
	}
	code, body = get("/messages?run=run-x")
	require.Equal(t, http.StatusOK, code, body)
	msgs := decode(body)
	require.Len(t, msgs, 2)
	assert.Equal(t, "observer", msgs[0].Recipient)

	code, body = get("/messages?recipient=observer&limit=1")
	require.Equal(t, http.StatusOK, code, body)
	msgs = decode(body)
	require.Len(t, msgs, 1)
	assert.Equal(t, "run-y", msgs[0].CorrelationID)

	code, _ = get("/messages?limit=many")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestApp_ResolveWorkflow(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	cfg.WorkflowsDir = filepath.Join("..", "..", "workflows")
	cfg.Agents.Content.Encoding = ""
	cfg.Agents.Export.OutputDir = t.TempDir()

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.close(context.Background())

	def, err := a.resolveWorkflow(workflowAuto, map[string]any{"role": "VP of Engineering"})
	require.NoError(t, err)
	assert.Equal(t, "director_level", def.Name)

	def, err = a.resolveWorkflow("principal_level", nil)
	require.NoError(t, err)
	assert.Equal(t, "principal_level", def.Name)

	def, err = a.resolveWorkflow("score_only", nil)
	require.NoError(t, err)
	for _, s := range def.Steps {
		assert.True(t, s.Parallel, "score_only step %s runs in parallel", s.Name)
		assert.Empty(t, s.DependsOn, s.Name)
	}

	_, err = a.resolveWorkflow("intern_level", nil)
	assert.Equal(t, exitUsage, exitCodeFor(err))
}
