package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/hedgefund/internal/analysts"
	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/portfolio"
	"github.com/wonny/hedgefund/internal/risk"
	"github.com/wonny/hedgefund/pkg/logger"
	"github.com/wonny/hedgefund/pkg/metrics"
)

// DefaultAnalystTimeout is the soft deadline per analyst
const DefaultAnalystTimeout = 120 * time.Second

// RiskGate is the node bounding exposure
type RiskGate interface {
	Run(ctx context.Context, state *contracts.RunState, data risk.PriceSource) error
}

// DecisionMaker is the terminal node
type DecisionMaker interface {
	Run(ctx context.Context, state *contracts.RunState) error
}

// Orchestrator executes the analysis graph level by level
// ⭐ SSOT: node ordering and failure substitution happen only here
type Orchestrator struct {
	gate    RiskGate
	manager DecisionMaker
	data    analysts.DataSource
	timeout time.Duration
	sink    ProgressSink
	metrics *metrics.Recorder
	logger  *logger.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithAnalystTimeout sets the soft deadline per analyst
func WithAnalystTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithProgressSink receives node events
func WithProgressSink(s ProgressSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithMetrics records analyst outcomes
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// New creates an orchestrator
func New(gate RiskGate, manager DecisionMaker, data analysts.DataSource, log *logger.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gate:    gate,
		manager: manager,
		data:    data,
		timeout: DefaultAnalystTimeout,
		logger:  log.Component("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type nodeFunc func(ctx context.Context) error

// Run executes start -> analysts -> risk gate -> portfolio manager -> end.
// Only risk gate and portfolio manager failures or cancellation fail the run.
func (o *Orchestrator) Run(ctx context.Context, state *contracts.RunState, selected []analysts.Analyst) error {
	started := time.Now()
	ids := make([]string, len(selected))
	nodes := map[string]nodeFunc{
		StartNode: func(context.Context) error { return nil },
		EndNode:   func(context.Context) error { return nil },
		risk.NodeID: func(ctx context.Context) error {
			return terminal(contracts.ErrRiskGateFailure, safely(func() error { return o.gate.Run(ctx, state, o.data) }))
		},
		portfolio.NodeID: func(ctx context.Context) error {
			return terminal(contracts.ErrPortfolioManagerFailure, safely(func() error { return o.manager.Run(ctx, state) }))
		},
	}
	for i, a := range selected {
		a := a
		ids[i] = a.ID()
		nodes[a.ID()] = func(ctx context.Context) error { return o.runAnalyst(ctx, a, state) }
	}

	dag, err := Build(ids, risk.NodeID, portfolio.NodeID)
	if err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrPrecondition, err)
	}
	levels, err := dag.Levels()
	if err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrPrecondition, err)
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id":   state.Metadata.RunID,
		"tickers":  state.Tickers,
		"analysts": ids,
	}).Info("Starting analysis graph")

	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range level {
			id, fn := id, nodes[id]
			g.Go(func() error { return o.runNode(gctx, state, id, fn) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id":   state.Metadata.RunID,
		"duration": time.Since(started).Seconds(),
	}).Info("Analysis graph completed")
	return nil
}

func (o *Orchestrator) runNode(ctx context.Context, state *contracts.RunState, id string, fn nodeFunc) error {
	started := time.Now()
	o.emit(Event{RunID: state.Metadata.RunID, Node: id, Kind: NodeStarted, At: started})

	err := fn(ctx)

	e := Event{RunID: state.Metadata.RunID, Node: id, Kind: NodeFinished, Elapsed: time.Since(started), At: time.Now()}
	if err != nil {
		e.Kind = NodeFailed
		e.Error = err.Error()
	}
	o.emit(e)
	return err
}

// runAnalyst runs a against a private copy of the state and merges its
// own signals back. Errors, panics and the soft deadline become neutral
// signals; only cancellation of ctx is returned.
func (o *Orchestrator) runAnalyst(ctx context.Context, a analysts.Analyst, state *contracts.RunState) error {
	id := a.ID()
	scratch := contracts.NewRunState(state.Tickers, state.StartDate, state.EndDate, state.Portfolio, state.Metadata)

	actx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safely(func() error { return a.Run(actx, scratch, o.data) })
	}()

	var err error
	timedOut := false
	select {
	case err = <-done:
		timedOut = errors.Is(err, context.DeadlineExceeded) && actx.Err() != nil
	case <-actx.Done():
		timedOut = true
	}

	if ctx.Err() != nil {
		merge(state, scratch, id)
		return ctx.Err()
	}

	log := o.logger.WithField("analyst", id)
	switch {
	case timedOut:
		log.WithField("timeout", o.timeout.String()).Warn("Analyst timed out")
		o.substitute(state, id, fmt.Sprintf("timeout: 分析超过 %s 未完成", o.timeout))
		o.metrics.RecordAnalystRun(id, "timeout")
	case err != nil:
		log.WithError(err).Warn("Analyst failed")
		o.substitute(state, id, "error: "+err.Error())
		o.metrics.RecordAnalystRun(id, "error")
	default:
		merge(state, scratch, id)
		for _, t := range state.Tickers {
			if !state.HasSignal(id, t) {
				_ = state.SetSignal(id, contracts.NeutralSignal(id, t, "未产生信号"))
			}
		}
		o.metrics.RecordAnalystRun(id, "ok")
	}
	return nil
}

func (o *Orchestrator) substitute(state *contracts.RunState, id, reason string) {
	for _, t := range state.Tickers {
		_ = state.SetSignal(id, contracts.NeutralSignal(id, t, reason))
	}
}

func (o *Orchestrator) emit(e Event) {
	if o.sink != nil {
		o.sink.Emit(e)
	}
}

func merge(state, scratch *contracts.RunState, id string) {
	for _, sig := range scratch.Signals()[id] {
		_ = state.SetSignal(id, sig)
	}
}

// safely converts a panic into an error
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// terminal tags a node failure with kind unless it is a cancellation
func terminal(kind, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
