package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/careerflow/config"
	"github.com/BaSui01/careerflow/types"
)

// testEnv is a config file with a file run store and exports under a temp dir.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	workflows, err := filepath.Abs(filepath.Join("..", "..", "workflows"))
	require.NoError(t, err)

	cfg := fmt.Sprintf(`
store:
  type: file
  base_dir: %s
agents:
  content:
    encoding: ""
  export:
    output_dir: %s
workflows_dir: %s
log:
  level: error
  output_paths: [%s]
`, filepath.Join(dir, "data"), filepath.Join(dir, "out"), workflows, filepath.Join(dir, "careerflow.log"))

	path := filepath.Join(dir, "careerflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return testEnv{dir: dir, config: path}
}

func (e testEnv) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", e.config}, args...)
	code := execute(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func (e testEnv) writeJob(t *testing.T, job map[string]any) string {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	path := filepath.Join(e.dir, "job.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func decodeSummary(t *testing.T, out string) map[string]any {
	t.Helper()
	var s map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &s), out)
	return s
}

func TestExecute_Version(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"version"}, &stdout, &stderr)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout.String(), "careerflow dev")
	assert.Empty(t, stderr.String())
}

func TestExecute_InvalidInvocation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := map[string][]string{
		"unknown command":  {"launch"},
		"unknown flag":     {"submit", "--bogus"},
		"missing run id":   {"status"},
		"extra argument":   {"list", "extra"},
		"empty job":        {"submit", "--workflow", "senior_level"},
		"malformed set":    {"submit", "--set", "company"},
		"bad run id":       {"submit", "--set", "company=Acme", "--run-id", "../escape"},
		"unknown workflow": {"submit", "--set", "company=Acme", "--workflow", "intern_level"},
		"unknown run":      {"status", "ghost"},
		"unknown status":   {"list", "--status", "paused"},
		"missing job file": {"submit", "--job", filepath.Join(env.dir, "missing.json")},
		"missing config":   {"--config", filepath.Join(env.dir, "nope.yaml"), "list"},
		"batch no jobs":    {"batch"},
		"batch parallel":   {"batch", "--parallel", "0", filepath.Join(env.dir, "job.json")},
		"batch missing":    {"batch", filepath.Join(env.dir, "missing.json")},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			code, _, stderr := env.run(args...)
			assert.Equal(t, exitUsage, code, stderr)
			assert.Contains(t, stderr, "Error:")
		})
	}
}

func TestExecute_SubmitStatusListResume(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	job := env.writeJob(t, map[string]any{
		"company":     "Acme",
		"role":        "Senior Backend Engineer",
		"industry":    "B2B SaaS",
		"description": "Own backend platform services and APIs, lead cross-team projects and drive measurable revenue growth.",
		"candidate":   "Jordan Lee",
	})

	code, out, stderr := env.run("submit", "--job", job, "--run-id", "run-1")
	require.Equal(t, exitOK, code, stderr)
	s := decodeSummary(t, out)
	assert.Equal(t, "run-1", s["run_id"])
	assert.Equal(t, "senior_level", s["workflow"], "auto picks by role")
	assert.Equal(t, "completed", s["status"])
	output, ok := s["output"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, output, "export")
	assert.FileExists(t, filepath.Join(env.dir, "out", "run-1.json"))

	code, out, stderr = env.run("status", "run-1")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "completed", decodeSummary(t, out)["status"])

	code, out, stderr = env.run("list", "--status", "completed")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "senior_level")

	// 已终止的运行再次恢复不会重新执行
	code, out, stderr = env.run("resume", "run-1")
	require.Equal(t, exitOK, code, stderr)
	assert.Equal(t, "completed", decodeSummary(t, out)["status"])

	code, _, stderr = env.run("submit", "--job", job, "--run-id", "run-1")
	assert.Equal(t, exitUsage, code, "duplicate run id: %s", stderr)
}

func TestExecute_FailedRunExitsOne(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	// 缺少职位描述，评分阶段失败，下游步骤被跳过
	code, out, stderr := env.run("submit",
		"--workflow", "senior_level",
		"--set", "company=Acme",
		"--set", "role=Senior Engineer",
		"--run-id", "no-description")
	require.Equal(t, exitRunFailed, code, stderr)

	s := decodeSummary(t, out)
	assert.Equal(t, "failed", s["status"])
	failure, ok := s["failure"].(map[string]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"position", "content", "qa", "export"}, failure["skipped"])

	code, _, _ = env.run("status", "no-description")
	assert.Equal(t, exitRunFailed, code)
}

func TestExecute_ScoreOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	job := env.writeJob(t, map[string]any{
		"company":     "Acme",
		"role":        "Senior Backend Engineer",
		"description": "Own backend platform services and APIs, lead cross-team projects and drive measurable revenue growth.",
	})

	code, out, stderr := env.run("submit", "--workflow", "score_only", "--job", job, "--run-id", "score-1")
	require.Equal(t, exitOK, code, stderr)
	s := decodeSummary(t, out)
	assert.Equal(t, "score_only", s["workflow"])
	assert.Equal(t, "completed", s["status"])
	output, ok := s["output"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, output, "score")
	assert.NotContains(t, output, "content")
	assert.NoFileExists(t, filepath.Join(env.dir, "out", "score-1.json"))
}

func TestExecute_Batch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	list := filepath.Join(env.dir, "postings.yaml")
	require.NoError(t, os.WriteFile(list, []byte(`
- company: Acme
  role: Senior Backend Engineer
  candidate: Jordan Lee
  description: Own backend platform services and APIs, lead cross-team projects and drive measurable revenue growth.
- company: Globex
  role: Staff Engineer
  candidate: Sam Rivera
  description: Set technical strategy for the payments platform and mentor senior engineers across teams.
`), 0o644))
	single := env.writeJob(t, map[string]any{
		"company":     "Initech",
		"role":        "Director of Engineering",
		"candidate":   "Alex Kim",
		"description": "Lead engineering organisations of forty people, own hiring plans and deliver the product roadmap.",
	})

	code, out, stderr := env.run("batch", "--parallel", "2", "--run-id-prefix", "wk", list, single)
	require.Equal(t, exitOK, code, stderr)

	var results []struct {
		Job     int            `json:"job"`
		Source  string         `json:"source"`
		Summary map[string]any `json:"summary"`
		Error   string         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 3)

	wantWorkflows := []string{"senior_level", "principal_level", "director_level"}
	for i, r := range results {
		assert.Equal(t, i+1, r.Job)
		assert.Empty(t, r.Error)
		require.NotNil(t, r.Summary, r.Source)
		assert.Equal(t, fmt.Sprintf("wk-%d", i+1), r.Summary["run_id"])
		assert.Equal(t, wantWorkflows[i], r.Summary["workflow"])
		assert.Equal(t, "completed", r.Summary["status"])
	}
	assert.Equal(t, list+"#1", results[0].Source)
	assert.Equal(t, single, results[2].Source)

	// 同一前缀再次提交：运行 ID 重复，每个职位单独报告错误
	code, out, _ = env.run("batch", "--run-id-prefix", "wk", single)
	results = nil
	assert.Equal(t, exitRunFailed, code)
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "DUPLICATE_RUN")
}

func TestExecute_BatchReportsFailedJobs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	list := filepath.Join(env.dir, "postings.yaml")
	require.NoError(t, os.WriteFile(list, []byte(`
- {company: Acme, role: Senior Engineer}
- company: Globex
  role: Senior Engineer
  description: Own backend platform services and APIs, lead cross-team projects and drive measurable revenue growth.
`), 0o644))

	code, out, stderr := env.run("batch", "--workflow", "score_only", list)
	require.Equal(t, exitRunFailed, code, stderr)

	var results []struct {
		Summary map[string]any `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 2)
	assert.Equal(t, "failed", results[0].Summary["status"])
	assert.Equal(t, "completed", results[1].Summary["status"])
}

func TestReadJobs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	jobs, err := readJobs(write("one.yaml", "company: Acme\nrole: Staff Engineer\n"))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "Acme", jobs[0].String("company"))

	jobs, err = readJobs(write("many.json", `[{"company":"Acme"},{"company":"Globex"}]`))
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "Globex", jobs[1].String("company"))

	for name, body := range map[string]string{
		"empty.yaml":      "",
		"empty-list.json": "[]",
		"blank-job.yaml":  "- company: Acme\n- {}\n",
		"scalar.yaml":     "just text",
	} {
		_, err := readJobs(write(name, body))
		assert.Error(t, err, name)
	}
	_, err = readJobs(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestExecute_Validate(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	extra := filepath.Join(env.dir, "custom.yaml")
	require.NoError(t, os.WriteFile(extra, []byte(`
name: quick_score
steps:
  - {name: research, agent: research}
  - {name: score, agent: scoring, depends_on: [research]}
`), 0o644))

	code, out, stderr := env.run("validate", extra)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "custom.yaml: ok (quick_score, 2 steps)")
	assert.Contains(t, out, "agents: content, export, positioning, qa, research, scoring")
	for _, name := range []string{"director_level", "principal_level", "score_only", "senior_level"} {
		assert.Contains(t, out, "workflow "+name+": ok")
	}

	unbound := filepath.Join(env.dir, "unbound.yaml")
	require.NoError(t, os.WriteFile(unbound, []byte("name: w\nsteps:\n  - {name: a, agent: translator}\n"), 0o644))
	code, _, stderr = env.run("validate", unbound)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "MISSING_AGENT")
}

func TestReadJob(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	posting := filepath.Join(dir, "posting.txt")
	require.NoError(t, os.WriteFile(posting, []byte("Build APIs"), 0o644))
	jobFile := filepath.Join(dir, "job.yaml")
	require.NoError(t, os.WriteFile(jobFile, []byte("company: Acme\nrole: Staff Engineer\nremote: false\n"), 0o644))

	input, err := readJob(jobFile, []string{"role=Principal Engineer", "threshold=72.5", "years=8", "description=@" + posting})
	require.NoError(t, err)
	assert.Equal(t, "Acme", input.String("company"))
	assert.Equal(t, "Principal Engineer", input.String("role"), "--set overrides the file")
	assert.Equal(t, false, input["remote"])
	assert.Equal(t, 72.5, input["threshold"])
	assert.Equal(t, 8, input["years"])
	assert.Equal(t, "Build APIs", input.String("description"))

	_, err = readJob("", nil)
	assert.Error(t, err)
	_, err = readJob("", []string{"=value"})
	assert.Error(t, err)
	_, err = readJob("", []string{"description=@" + filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)
}

func TestExitCodeFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, exitUsage, exitCodeFor(usageErrorf("bad flag")))
	assert.Equal(t, exitRunFailed, exitCodeFor(&exitErr{code: exitRunFailed, err: errors.New("run x failed")}))
	assert.Equal(t, exitUsage, exitCodeFor(fmt.Errorf("load: %w", types.NewError(types.ErrInvalidConfig, "bad"))))
	assert.Equal(t, exitUsage, exitCodeFor(types.NewError(types.ErrRunNotFound, "gone")))
	assert.Equal(t, exitError, exitCodeFor(types.NewError(types.ErrStatePersistenceFailure, "disk full")))
	assert.Equal(t, exitError, exitCodeFor(errors.New("boom")))
}

func TestInitLogger(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "out.log")

	logger := initLogger(config.LogConfig{Level: "warn", Format: "json", OutputPaths: []string{logPath}})
	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), `"msg":"shown"`)
	assert.Contains(t, string(data), `"timestamp"`)

	assert.NotNil(t, initLogger(config.LogConfig{}))
}
