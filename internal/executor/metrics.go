package executor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExecutorMetrics tracks statistics about the most recent run.
type ExecutorMetrics struct {
	StepsExecuted    int
	StepsSucceeded   int
	StepsFailed      int
	ArgumentWarnings int
	TotalDuration    time.Duration
	LongestStepTime  time.Duration
	ShortestStepTime time.Duration

	mu sync.Mutex // Protects metrics updates
}

// Copy returns a snapshot without the mutex.
func (m *ExecutorMetrics) Copy() ExecutorMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ExecutorMetrics{
		StepsExecuted:    m.StepsExecuted,
		StepsSucceeded:   m.StepsSucceeded,
		StepsFailed:      m.StepsFailed,
		ArgumentWarnings: m.ArgumentWarnings,
		TotalDuration:    m.TotalDuration,
		LongestStepTime:  m.LongestStepTime,
		ShortestStepTime: m.ShortestStepTime,
	}
}

func (m *ExecutorMetrics) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsExecuted = 0
	m.StepsSucceeded = 0
	m.StepsFailed = 0
	m.ArgumentWarnings = 0
	m.TotalDuration = 0
	m.LongestStepTime = 0
	m.ShortestStepTime = 0
}

func (m *ExecutorMetrics) recordStep(d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StepsExecuted++
	if failed {
		m.StepsFailed++
	} else {
		m.StepsSucceeded++
	}
	if d > m.LongestStepTime {
		m.LongestStepTime = d
	}
	if m.ShortestStepTime == 0 || d < m.ShortestStepTime {
		m.ShortestStepTime = d
	}
}

func (m *ExecutorMetrics) recordWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ArgumentWarnings++
}

func (m *ExecutorMetrics) finish(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalDuration = d
}

// Metrics exports executor activity to Prometheus. One Metrics may be shared
// by every executor of a process.
type Metrics struct {
	Runs             *prometheus.CounterVec
	Steps            *prometheus.CounterVec
	ArgumentWarnings prometheus.Counter
	StepDuration     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "runs_total",
			Help:      "Plan runs by outcome.",
		}, []string{"outcome"}),
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "steps_total",
			Help:      "Executed steps by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ArgumentWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stepwise",
			Name:      "argument_parse_warnings_total",
			Help:      "List expressions that failed to parse and fell through.",
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepwise",
			Name:      "step_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Runs, m.Steps, m.ArgumentWarnings, m.StepDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeCancelled = "cancelled"
)

func (m *Metrics) observeStep(tool string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	outcome := outcomeSuccess
	if failed {
		outcome = outcomeFailure
	}
	m.Steps.WithLabelValues(tool, outcome).Inc()
	m.StepDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) observeRun(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeWarning() {
	if m == nil {
		return
	}
	m.ArgumentWarnings.Inc()
}
