package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/careerflow/agent"
	"github.com/BaSui01/careerflow/agent/bus"
	"github.com/BaSui01/careerflow/agent/persistence"
	"github.com/BaSui01/careerflow/agent/stages"
	"github.com/BaSui01/careerflow/config"
	"github.com/BaSui01/careerflow/internal/cache"
	"github.com/BaSui01/careerflow/internal/metrics"
	"github.com/BaSui01/careerflow/internal/server"
	"github.com/BaSui01/careerflow/internal/telemetry"
	"github.com/BaSui01/careerflow/workflow"
)

const tracerName = "github.com/BaSui01/careerflow/workflow"

// app 持有一次命令执行所需的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	providers   *telemetry.Providers
	registry    *prometheus.Registry
	collector   *metrics.Collector
	operator    *server.Manager
	bus         *bus.Bus
	state       *persistence.Manager
	cache       *cache.Manager
	agents      *agent.Registry
	attachments []*agent.Attachment
	catalog     *workflow.Catalog
	engine      *workflow.Engine
}

// newApp wires config → telemetry → metrics → bus → state → cache →
// stages → workflows → engine. On error everything built so far is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	a.providers, err = telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		// 遥测不可用不影响运行
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		a.providers, err = nil, nil
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, logger)

	a.bus = bus.New(
		bus.WithMailboxSize(cfg.Bus.MailboxSize),
		bus.WithHistorySize(cfg.Bus.HistorySize),
		bus.WithLogger(logger),
		bus.WithRecorder(a.collector),
	)

	a.state, err = persistence.NewManagerFromConfig(cfg.Store, logger)
	if err != nil {
		return a, fmt.Errorf("open run store: %w", err)
	}

	a.cache, err = cache.New(cfg.Cache, logger, cache.WithRecorder(a.collector))
	if err != nil {
		return a, fmt.Errorf("open cache: %w", err)
	}

	a.agents = agent.NewRegistry(logger)
	deps := stages.Dependencies{Cache: a.cache, Recorder: a.collector}
	if err = stages.RegisterAll(a.agents, cfg.Agents, deps, logger); err != nil {
		return a, err
	}
	if a.attachments, err = a.agents.AttachAll(a.bus); err != nil {
		return a, err
	}

	a.catalog, err = workflow.LoadDir(cfg.WorkflowsDir, logger)
	if err != nil {
		return a, err
	}
	if err = a.catalog.ValidateAgents(a.agents); err != nil {
		return a, err
	}

	a.engine = workflow.NewEngine(a.bus, a.agents, a.state, cfg.Engine, logger,
		workflow.WithRecorder(a.collector),
		workflow.WithTracer(a.providers.Tracer(tracerName)),
	)

	if cfg.Metrics.Addr != "" {
		if err = a.serveOperator(cfg.Metrics.Addr); err != nil {
			return a, err
		}
	}
	return a, nil
}

// serveOperator exposes /metrics, /healthz and /messages while the command runs.
func (a *app) serveOperator(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.Handle("/healthz", server.HealthHandler(map[string]server.Check{
		"run_store": a.state.Ping,
		"cache":     a.cache.Ping,
		"agents":    a.agentsHealthy,
	}, 5*time.Second))
	mux.Handle("/messages", messagesHandler(a.bus))

	cfg := server.DefaultConfig()
	cfg.Addr = addr
	a.operator = server.NewManager(mux, cfg, a.logger)
	return a.operator.Start()
}

// messagesHandler 查询本进程保留的总线消息，run 参数对应 correlation id
func messagesHandler(b *bus.Bus) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := bus.Filter{
			CorrelationID: q.Get("run"),
			Sender:        q.Get("sender"),
			Recipient:     q.Get("recipient"),
			Kind:          bus.Kind(q.Get("kind")),
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			f.Limit = n
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.Query(f))
	})
}

func (a *app) agentsHealthy(ctx context.Context) error {
	failures := a.agents.HealthCheck(ctx)
	errs := make([]error, 0, len(failures))
	for _, name := range a.agents.Names() {
		if err, ok := failures[name]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// close 按依赖的逆序释放资源
func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.engine != nil {
		if err := a.engine.Close(ctx); err != nil {
			a.logger.Warn("engine close", zap.Error(err))
		}
	}
	for _, att := range a.attachments {
		att.Detach()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.Warn("run store close", zap.Error(err))
		}
	}
	if a.operator != nil {
		_ = a.operator.Shutdown(ctx)
	}
	if err := a.providers.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(err))
	}
}
