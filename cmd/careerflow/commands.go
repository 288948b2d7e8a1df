package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/config"
	"github.com/BaSui01/careerflow/types"
	"github.com/BaSui01/careerflow/workflow"
)

// workflowAuto 按职位名称挑选默认工作流
const workflowAuto = "auto"

type rootOptions struct {
	configPath  string
	logLevel    string
	metricsAddr string

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "careerflow",
		Short:         "Job application workflow runner",
		Long:          "careerflow runs job application workflows (research, scoring, positioning, content, QA, export) as checkpointed DAGs.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "path to config file (YAML)")
	pf.StringVar(&o.logLevel, "log-level", "", "override log level: debug, info, warn, error")
	pf.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	root.AddCommand(
		newSubmitCmd(o),
		newBatchCmd(o),
		newStatusCmd(o),
		newResumeCmd(o),
		newListCmd(o),
		newValidateCmd(o),
		newVersionCmd(o),
	)
	return root
}

// exactArgs reports argument count problems as invalid invocations.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// load 读取配置并应用命令行覆盖项，返回配置与 logger
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	loader := config.NewLoader()
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, initLogger(cfg.Log), nil
}

// open loads config and wires the application around cmd's context.
func (o *rootOptions) open(ctx context.Context) (*app, func(), error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, func() {
		a.close(context.WithoutCancel(ctx))
		_ = logger.Sync()
	}, nil
}

func (o *rootOptions) printJSON(v any) error {
	enc := json.NewEncoder(o.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report prints the summary and turns an unsuccessful run into exit code 1.
func (o *rootOptions) report(s persistence.Summary) error {
	if err := o.printJSON(s); err != nil {
		return err
	}
	switch s.Status {
	case persistence.RunStatusFailed, persistence.RunStatusCancelled:
		return &exitErr{code: exitRunFailed, err: fmt.Errorf("run %s %s", s.RunID, s.Status)}
	}
	return nil
}

// =============================================================================
// 🚀 submit
// =============================================================================

func newSubmitCmd(o *rootOptions) *cobra.Command {
	var (
		workflowName string
		jobPath      string
		sets         []string
		runID        string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to a workflow and wait for the run to finish",
		Example: `  careerflow submit --workflow auto --job job.yaml
  careerflow submit --workflow senior_level --set company=Acme --set role="Senior Engineer" --set description=@posting.txt`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			input, err := readJob(jobPath, sets)
			if err != nil {
				return usageError(err)
			}
			if runID != "" {
				if err := persistence.ValidateRunID(runID); err != nil {
					return usageError(err)
				}
			}

			ctx := cmd.Context()
			a, closeApp, err := o.open(ctx)
			if err != nil {
				return err
			}
			defer closeApp()

			def, err := a.resolveWorkflow(workflowName, input)
			if err != nil {
				return err
			}

			var opts []workflow.SubmitOption
			if runID != "" {
				opts = append(opts, workflow.WithRunID(runID))
			}
			run, err := a.engine.Run(ctx, def, input, opts...)
			if err != nil {
				if ctx.Err() != nil && run == nil {
					return &exitErr{code: exitRunFailed, err: fmt.Errorf("interrupted: %w", err)}
				}
				return err
			}
			return o.report(run.Summary())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&workflowName, "workflow", "w", workflowAuto, `workflow name, or "auto" to pick by role title`)
	f.StringVarP(&jobPath, "job", "j", "", "job input file (YAML or JSON)")
	f.StringArrayVar(&sets, "set", nil, "job field as key=value; value @path reads a file (repeatable)")
	f.StringVar(&runID, "run-id", "", "run identifier (default: generated)")
	return cmd
}

func (a *app) resolveWorkflow(name string, input types.Payload) (*workflow.Definition, error) {
	if name == "" || name == workflowAuto {
		name = workflow.SelectForRole(input.String("role"))
		a.logger.Info("workflow selected by role",
			zap.String("role", input.String("role")),
			zap.String("workflow", name))
	}
	def, ok := a.catalog.Get(name)
	if !ok {
		return nil, usageErrorf("unknown workflow %q (loaded: %s)", name, strings.Join(a.catalog.Names(), ", "))
	}
	return def, nil
}

// readJob merges the job file with --set overrides.
func readJob(path string, sets []string) (types.Payload, error) {
	input := types.Payload{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read job input: %w", err)
		}
		if err := yaml.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("parse job input %s: %w", path, err)
		}
	}
	for _, kv := range sets {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --set %q (expected key=value)", kv)
		}
		v, err := parseValue(raw)
		if err != nil {
			return nil, err
		}
		input[strings.TrimSpace(key)] = v
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("job input is empty: use --job or --set")
	}
	return input, nil
}

// parseValue 依次尝试整数、浮点、布尔，否则按字符串处理；@path 读取文件内容
func parseValue(raw string) (any, error) {
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return string(data), nil
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b, nil
	}
	return raw, nil
}

// =============================================================================
// 📦 batch
// =============================================================================

// batchResult is one entry of the batch report, in input order.
type batchResult struct {
	Job     int                  `json:"job"`
	Source  string               `json:"source"`
	Summary *persistence.Summary `json:"summary,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type batchJob struct {
	source string
	input  types.Payload
	runID  string
}

func newBatchCmd(o *rootOptions) *cobra.Command {
	var (
		workflowName string
		parallel     int
		prefix       string
	)
	cmd := &cobra.Command{
		Use:   "batch <job-file>...",
		Short: "Run several jobs as independent runs, a bounded number at a time",
		Long: "batch reads one job per file, or a list of jobs from a single file, and runs each as its own run. " +
			"At most --parallel runs are in flight. One result per job is printed in input order.",
		Example: `  careerflow batch --parallel 3 acme.yaml globex.yaml
  careerflow batch --workflow score_only --run-id-prefix week42 postings.yaml`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MinimumNArgs(1)(cmd, args); err != nil {
				return usageError(err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel < 1 {
				return usageErrorf("--parallel must be at least 1, got %d", parallel)
			}
			var jobs []batchJob
			for _, path := range args {
				inputs, err := readJobs(path)
				if err != nil {
					return usageError(err)
				}
				for i, input := range inputs {
					source := path
					if len(inputs) > 1 {
						source = fmt.Sprintf("%s#%d", path, i+1)
					}
					jobs = append(jobs, batchJob{source: source, input: input})
				}
			}
			if prefix != "" {
				for i := range jobs {
					jobs[i].runID = fmt.Sprintf("%s-%d", prefix, i+1)
					if err := persistence.ValidateRunID(jobs[i].runID); err != nil {
						return usageError(err)
					}
				}
			}

			ctx := cmd.Context()
			a, closeApp, err := o.open(ctx)
			if err != nil {
				return err
			}
			defer closeApp()

			results := a.runBatch(ctx, workflowName, jobs, parallel)
			if err := o.printJSON(results); err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				if r.Error != "" || r.Summary == nil {
					failed++
					continue
				}
				switch r.Summary.Status {
				case persistence.RunStatusFailed, persistence.RunStatusCancelled:
					failed++
				}
			}
			if failed > 0 {
				return &exitErr{code: exitRunFailed, err: fmt.Errorf("%d of %d batch jobs did not complete", failed, len(results))}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&workflowName, "workflow", "w", workflowAuto, `workflow name, or "auto" to pick by each job's role title`)
	f.IntVarP(&parallel, "parallel", "p", 3, "maximum number of runs in flight")
	f.StringVar(&prefix, "run-id-prefix", "", "run identifiers become <prefix>-<n> (default: generated)")
	return cmd
}

// runBatch 每个职位独立成一次运行，单个失败不影响其他职位
func (a *app) runBatch(ctx context.Context, workflowName string, jobs []batchJob, parallel int) []batchResult {
	results := make([]batchResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, job := range jobs {
		results[i] = batchResult{Job: i + 1, Source: job.source}
		g.Go(func() error {
			def, err := a.resolveWorkflow(workflowName, job.input)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			var opts []workflow.SubmitOption
			if job.runID != "" {
				opts = append(opts, workflow.WithRunID(job.runID))
			}
			run, err := a.engine.Run(ctx, def, job.input, opts...)
			if run != nil {
				s := run.Summary()
				results[i].Summary = &s
			}
			if err != nil {
				a.logger.Warn("batch job did not finish",
					zap.String("source", job.source),
					zap.Error(err))
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// readJobs parses a job file holding either one job or a list of jobs.
func readJobs(path string) ([]types.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job input: %w", err)
	}
	var list []types.Payload
	if err := yaml.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("job list %s is empty", path)
		}
		for i, input := range list {
			if len(input) == 0 {
				return nil, fmt.Errorf("job %d in %s is empty", i+1, path)
			}
		}
		return list, nil
	}
	input := types.Payload{}
	if err := yaml.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse job input %s: %w", path, err)
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("job input %s is empty", path)
	}
	return []types.Payload{input}, nil
}

// =============================================================================
// 🔍 status
// =============================================================================

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run's status and, once terminal, its output or failure",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			s, err := a.state.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return o.report(s)
		},
	}
}

// =============================================================================
// ♻️ resume
// =============================================================================

func newResumeCmd(o *rootOptions) *cobra.Command {
	var workflowName string
	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue a stored run from its first unfinished step",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, closeApp, err := o.open(ctx)
			if err != nil {
				return err
			}
			defer closeApp()

			runID := args[0]
			run, err := a.state.Load(ctx, runID)
			if err != nil {
				return err
			}
			name := workflowName
			if name == "" {
				name = run.Workflow
			}
			def, ok := a.catalog.Get(name)
			if !ok {
				return usageErrorf("workflow %q of run %s is not loaded", name, runID)
			}
			if def.Version != run.Version {
				a.logger.Warn("resuming with a different workflow version",
					zap.String("run_id", runID),
					zap.String("stored", run.Version),
					zap.String("loaded", def.Version))
			}

			if err := a.engine.Resume(ctx, def, runID); err != nil {
				return err
			}
			final, err := a.engine.Wait(ctx, runID)
			if err != nil {
				if ctx.Err() != nil {
					return &exitErr{code: exitRunFailed, err: fmt.Errorf("interrupted: %w", err)}
				}
				return err
			}
			return o.report(final.Summary())
		},
	}
	cmd.Flags().StringVarP(&workflowName, "workflow", "w", "", "workflow to resume with (default: the run's workflow)")
	return cmd
}

// =============================================================================
// 📋 list
// =============================================================================

func newListCmd(o *rootOptions) *cobra.Command {
	var (
		workflowName string
		statuses     []string
		limit        int
		since        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := persistence.RunFilter{Workflow: workflowName, Limit: limit}
			for _, s := range statuses {
				st := persistence.RunStatus(strings.ToLower(strings.TrimSpace(s)))
				if !st.Valid() {
					return usageErrorf("unknown run status %q", s)
				}
				filter.Status = append(filter.Status, st)
			}
			if since > 0 {
				after := time.Now().Add(-since)
				filter.CreatedAfter = &after
			}

			a, closeApp, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			runs, err := a.state.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(o.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tWORKFLOW\tSTATUS\tNEXT STEP\tCREATED\tUPDATED")
			for _, r := range runs {
				next := r.FirstPending()
				if next == "" {
					next = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Workflow, r.Status, next,
					r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVarP(&workflowName, "workflow", "w", "", "only runs of this workflow")
	f.StringSliceVarP(&statuses, "status", "s", nil, "only runs with these statuses")
	f.IntVarP(&limit, "limit", "n", 20, "maximum number of runs (0 for all)")
	f.DurationVar(&since, "since", 0, "only runs created within this duration")
	return cmd
}

// =============================================================================
// ✅ validate
// =============================================================================

func newValidateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [workflow-file...]",
		Short: "Check the config, the workflows directory and optional extra definition files",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			for _, path := range args {
				def, err := workflow.LoadFile(path)
				if err != nil {
					return err
				}
				if err := def.ValidateAgents(a.agents); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(o.stdout, "%s: ok (%s, %d steps)\n", path, def.Name, len(def.Steps))
			}

			fmt.Fprintf(o.stdout, "agents: %s\n", strings.Join(a.agents.Names(), ", "))
			for _, name := range a.catalog.Names() {
				def, _ := a.catalog.Get(name)
				fmt.Fprintf(o.stdout, "workflow %s: ok (%d steps, order %s)\n",
					name, len(def.Steps), strings.Join(def.TopologicalOrder(), " -> "))
			}
			return nil
		},
	}
}

// =============================================================================
// 📋 version
// =============================================================================

func newVersionCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  exactArgs(0),
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(o.stdout, "careerflow %s\n", Version)
			fmt.Fprintf(o.stdout, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(o.stdout, "  Git Commit: %s\n", GitCommit)
		},
	}
}
