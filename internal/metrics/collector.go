package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector records workflow, agent, cache and bus series. It satisfies the
// Recorder interfaces of workflow.Engine, agent.Base, cache.Manager and
// bus.Bus.
type Collector struct {
	// 工作流指标
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepAttempts *prometheus.HistogramVec

	// Agent 指标
	agentCallsTotal   *prometheus.CounterVec
	agentCallDuration *prometheus.HistogramVec

	// 缓存指标
	cacheLookups *prometheus.CounterVec

	// 总线指标
	busPublished     *prometheus.CounterVec
	busDropped       *prometheus.CounterVec
	busHandlerErrors *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers every series under namespace with reg. A nil reg
// uses the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 工作流指标
	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of finished workflow runs",
		},
		[]string{"workflow", "status"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"workflow"},
	)

	c.stepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of finished workflow steps",
		},
		[]string{"workflow", "step", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Workflow step duration in seconds, retries included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow", "step"},
	)

	c.stepAttempts = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_attempts",
			Help:      "Dispatch attempts per finished step",
			Buckets:   []float64{1, 2, 3, 4, 6, 10},
		},
		[]string{"workflow", "step"},
	)

	// Agent 指标
	c.agentCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_calls_total",
			Help:      "Total number of agent Process calls",
		},
		[]string{"agent", "success", "error_kind"},
	)

	c.agentCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_call_duration_seconds",
			Help:      "Agent Process duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent"},
	)

	// 缓存指标
	c.cacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result",
		},
		[]string{"result"},
	)

	// 总线指标
	c.busPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_published_total",
			Help:      "Messages accepted by the bus",
		},
		[]string{"kind"},
	)

	c.busDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_dropped_total",
			Help:      "Messages dropped because a subscriber mailbox was full",
		},
		[]string{"subscriber"},
	)

	c.busHandlerErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_handler_errors_total",
			Help:      "Subscriber handler failures",
		},
		[]string{"subscriber"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🔀 工作流指标记录
// =============================================================================

// RecordRunFinished 记录运行结束
func (c *Collector) RecordRunFinished(workflow, status string, seconds float64) {
	c.runsTotal.WithLabelValues(workflow, status).Inc()
	c.runDuration.WithLabelValues(workflow).Observe(seconds)
}

// RecordStepFinished 记录步骤结束。跳过的步骤只计数。
func (c *Collector) RecordStepFinished(workflow, step, status string, attempts int, seconds float64) {
	c.stepsTotal.WithLabelValues(workflow, step, status).Inc()
	if attempts > 0 {
		c.stepDuration.WithLabelValues(workflow, step).Observe(seconds)
		c.stepAttempts.WithLabelValues(workflow, step).Observe(float64(attempts))
	}
}

// =============================================================================
// 🎭 Agent 指标记录
// =============================================================================

// RecordAgentCall 记录 Agent 调用
func (c *Collector) RecordAgentCall(agent string, success bool, errorKind string, seconds float64) {
	c.agentCallsTotal.WithLabelValues(agent, strconv.FormatBool(success), errorKind).Inc()
	c.agentCallDuration.WithLabelValues(agent).Observe(seconds)
}

// =============================================================================
// 💾 缓存与总线指标记录
// =============================================================================

// RecordCacheLookup 记录缓存查找结果
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) RecordBusPublish(kind string) {
	c.busPublished.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordBusDrop(subscriber string) {
	c.busDropped.WithLabelValues(subscriber).Inc()
}

func (c *Collector) RecordBusHandlerError(subscriber string) {
	c.busHandlerErrors.WithLabelValues(subscriber).Inc()
}
