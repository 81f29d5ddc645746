package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/HendryAvila/sentinel/internal/metrics"
	"github.com/HendryAvila/sentinel/internal/workflow"
)

// TransitionObserver is notified after a transition has been committed
// and the workflow saved. It's an optional dependency: tools work fine
// with a nil observer.
type TransitionObserver interface {
	OnTransition(ctx context.Context, state *workflow.State, rec workflow.TransitionRecord)
}

// HistoryBridge appends every transition to the store's history table so
// it can be queried without loading the whole workflow.
//
// Best-effort: store failures are logged but don't propagate, because the
// workflow itself has already been saved.
type HistoryBridge struct {
	store  workflow.Store
	logger *zap.Logger
}

// NewHistoryBridge creates a bridge writing to store. Returns nil if store
// is nil.
func NewHistoryBridge(store workflow.Store, logger *zap.Logger) *HistoryBridge {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryBridge{store: store, logger: logger}
}

// OnTransition records rec.
func (b *HistoryBridge) OnTransition(ctx context.Context, state *workflow.State, rec workflow.TransitionRecord) {
	if err := b.store.RecordTransition(ctx, state, rec); err != nil {
		b.logger.Warn("recording transition failed",
			zap.String("session_id", state.SessionID),
			zap.String("from", string(rec.From)),
			zap.String("to", string(rec.To)),
			zap.Error(err),
		)
	}
}

// MetricsBridge counts transitions.
type MetricsBridge struct {
	rec *metrics.Recorder
}

// NewMetricsBridge returns nil if rec is nil.
func NewMetricsBridge(rec *metrics.Recorder) *MetricsBridge {
	if rec == nil {
		return nil
	}
	return &MetricsBridge{rec: rec}
}

// OnTransition implements TransitionObserver.
func (b *MetricsBridge) OnTransition(_ context.Context, _ *workflow.State, rec workflow.TransitionRecord) {
	b.rec.IncTransition(rec.From, rec.To, rec.SentBack)
}

// Observers fans a transition out to several observers. Nil entries are skipped.
type Observers []TransitionObserver

// OnTransition implements TransitionObserver.
func (o Observers) OnTransition(ctx context.Context, state *workflow.State, rec workflow.TransitionRecord) {
	for _, obs := range o {
		notifyTransition(obs, ctx, state, rec)
	}
}

// notifyTransition is a nil-safe helper called from tool Handle methods.
func notifyTransition(obs TransitionObserver, ctx context.Context, state *workflow.State, rec workflow.TransitionRecord) {
	if obs == nil || isNilObserver(obs) {
		return
	}
	obs.OnTransition(ctx, state, rec)
}

// isNilObserver catches typed nils such as a (*HistoryBridge)(nil)
// stored in the interface.
func isNilObserver(obs TransitionObserver) bool {
	switch o := obs.(type) {
	case *HistoryBridge:
		return o == nil
	case *MetricsBridge:
		return o == nil
	}
	return false
}
