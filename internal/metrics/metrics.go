// Package metrics records Prometheus metrics for handoffs and transitions.
//
// All Recorder methods are safe on a nil receiver so components can take
// an optional *Recorder without checking it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HendryAvila/sentinel/internal/gate"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

// Recorder implements handoff metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	handoffsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	gateDuration     *prometheus.HistogramVec
	liveCountTotal   *prometheus.CounterVec
}

// NewRecorder creates a Recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		handoffsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_handoffs_total",
				Help: "Handoff attempts by submitting role and outcome",
			},
			[]string{"role", "outcome"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_transitions_total",
				Help: "Successful transitions by source and destination role",
			},
			[]string{"from", "to", "sent_back"},
		),
		gateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_gate_duration_seconds",
				Help:    "Time spent validating a handoff, including live design queries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"role"},
		),
		liveCountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_live_count_total",
				Help: "Live design-surface element count queries by status",
			},
			[]string{"status"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveHandoff counts one handoff attempt. outcome is "success" or the
// failure kind.
func (r *Recorder) ObserveHandoff(role workflow.Role, res workflow.TransitionResult) {
	if r == nil {
		return
	}
	outcome := "success"
	if !res.Success {
		outcome = string(res.Kind)
		if outcome == "" {
			outcome = "error"
		}
	}
	r.handoffsTotal.WithLabelValues(string(role), outcome).Inc()
}

// IncTransition counts a committed transition.
func (r *Recorder) IncTransition(from, to workflow.Role, sentBack bool) {
	if r == nil {
		return
	}
	sb := "false"
	if sentBack {
		sb = "true"
	}
	r.transitionsTotal.WithLabelValues(string(from), string(to), sb).Inc()
}

// ObserveGate records how long validation took for role.
func (r *Recorder) ObserveGate(role workflow.Role, d time.Duration) {
	if r == nil {
		return
	}
	r.gateDuration.WithLabelValues(string(role)).Observe(d.Seconds())
}

// ObserveLiveCount counts a live element query.
func (r *Recorder) ObserveLiveCount(err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.liveCountTotal.WithLabelValues(status).Inc()
}

// --- Instrumentation wrappers ---

type instrumentedValidator struct {
	next workflow.Validator
	rec  *Recorder
}

// InstrumentValidator times every Check call of v.
func InstrumentValidator(v workflow.Validator, rec *Recorder) workflow.Validator {
	if rec == nil || v == nil {
		return v
	}
	return &instrumentedValidator{next: v, rec: rec}
}

func (i *instrumentedValidator) Check(ctx context.Context, role workflow.Role, h *workflow.Handoff) error {
	start := time.Now()
	err := i.next.Check(ctx, role, h)
	i.rec.ObserveGate(role, time.Since(start))
	return err
}

type instrumentedCounter struct {
	next gate.ElementCounter
	rec  *Recorder
}

// InstrumentCounter counts the outcomes of c's queries.
func InstrumentCounter(c gate.ElementCounter, rec *Recorder) gate.ElementCounter {
	if rec == nil || c == nil {
		return c
	}
	return &instrumentedCounter{next: c, rec: rec}
}

func (i *instrumentedCounter) CountElements(ctx context.Context, designURL string) (int, error) {
	n, err := i.next.CountElements(ctx, designURL)
	i.rec.ObserveLiveCount(err)
	return n, err
}
