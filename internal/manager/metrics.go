package manager

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"loopd/internal/genloop"
)

// Metrics turns loop and session events into Prometheus series.
type Metrics struct {
	tokensSampled prometheus.Counter
	promptTokens  prometheus.Counter
	contextShifts prometheus.Counter
	selfExtends   prometheus.Counter
	truncations   prometheus.Counter
	antiprompts   prometheus.Counter
	inputsAwaited prometheus.Counter
	stops         *prometheus.CounterVec
	sessionFiles  *prometheus.CounterVec
	failures      prometheus.Counter
	active        prometheus.Gauge
}

var _ genloop.EventPublisher = (*Metrics)(nil)

// NewMetrics registers the loop metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loopd",
			Subsystem: "loop",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		tokensSampled: counter("tokens_sampled_total", "Tokens sampled by generation loops"),
		promptTokens:  counter("prompt_tokens_total", "Prompt and input tokens decoded"),
		contextShifts: counter("context_shifts_total", "Context shifts performed"),
		selfExtends:   counter("self_extend_steps_total", "Self-extend compression steps"),
		truncations:   counter("input_truncations_total", "Batches truncated to fit the context"),
		antiprompts:   counter("antiprompt_matches_total", "Antiprompt matches"),
		inputsAwaited: counter("await_input_total", "Times a loop waited for caller input"),
		failures:      counter("failures_total", "Sessions that ended with an error"),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loopd",
			Subsystem: "loop",
			Name:      "stops_total",
			Help:      "Sessions that ended normally, by stop reason",
		}, []string{"reason"}),
		sessionFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loopd",
			Subsystem: "loop",
			Name:      "session_file_ops_total",
			Help:      "Session cache loads (by status) and saves (by kind)",
		}, []string{"op", "detail"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loopd",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions whose loop is running",
		}),
	}
	reg.MustRegister(
		m.tokensSampled, m.promptTokens, m.contextShifts, m.selfExtends,
		m.truncations, m.antiprompts, m.inputsAwaited, m.failures,
		m.stops, m.sessionFiles, m.active,
	)
	return m
}

func (m *Metrics) Publish(e genloop.Event) {
	switch e.Name {
	case genloop.EventTokenSampled:
		m.tokensSampled.Inc()
	case genloop.EventPromptDecoded:
		if n, ok := e.Fields["tokens"].(int); ok {
			m.promptTokens.Add(float64(n))
		}
	case genloop.EventContextShift:
		m.contextShifts.Inc()
	case genloop.EventSelfExtend:
		m.selfExtends.Inc()
	case genloop.EventTruncated:
		m.truncations.Inc()
	case genloop.EventAntiprompt:
		m.antiprompts.Inc()
	case genloop.EventAwaitInput:
		m.inputsAwaited.Inc()
	case genloop.EventSessionLoaded:
		m.sessionFiles.WithLabelValues("load", field(e, "status")).Inc()
	case genloop.EventSessionSaved:
		m.sessionFiles.WithLabelValues("save", field(e, "kind")).Inc()
	case genloop.EventFinished:
		m.stops.WithLabelValues(field(e, "reason")).Inc()
	case genloop.EventFailed:
		m.failures.Inc()
	case EventSessionStarted:
		m.active.Inc()
	case EventSessionEnded:
		m.active.Dec()
	}
}

func field(e genloop.Event, key string) string {
	v, ok := e.Fields[key]
	if !ok {
		return "unknown"
	}
	return fmt.Sprint(v)
}
