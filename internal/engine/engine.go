package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"hftsim/internal/bus"
	"hftsim/internal/exec"
	"hftsim/internal/ledger"
	"hftsim/internal/market"
	"hftsim/internal/mdg"
	"hftsim/internal/obs"
	"hftsim/internal/risk"
	"hftsim/internal/schema"
	"hftsim/pkg/exception"
)

// Mode selects where quotes come from.
type Mode uint8

const (
	ModeSimulated Mode = iota
	ModeLive
)

func (m Mode) String() string {
	if m == ModeLive {
		return "live"
	}
	return "simulated"
}

// Phase is the tick loop's current stage.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseRefreshingMarket
	PhaseEvaluatingStrategies
	PhaseExecutingOrders
	PhaseUpdatingLedger
)

func (p Phase) String() string {
	switch p {
	case PhaseRefreshingMarket:
		return "refreshing_market"
	case PhaseEvaluatingStrategies:
		return "evaluating_strategies"
	case PhaseExecutingOrders:
		return "executing_orders"
	case PhaseUpdatingLedger:
		return "updating_ledger"
	default:
		return "idle"
	}
}

// Strategy decides orders for one symbol per tick. Returned orders need
// only symbol, side and quantity; the engine stamps the rest.
type Strategy interface {
	Name() string
	Evaluate(symbol string, m market.View, p ledger.PortfolioView) []schema.Order
}

// Config controls tick pacing and the clock.
type Config struct {
	Mode Mode
	// TickInterval paces ticks in wall time. Zero runs ticks back to back.
	TickInterval time.Duration
	// SimStep is the virtual time between simulated ticks. Defaults to
	// TickInterval, or one second when that is zero.
	SimStep   time.Duration
	StartTime time.Time
	// MaxTicks stops Run after that many ticks. Zero runs until ctx ends.
	MaxTicks uint64
	RunID    string
}

// Deps are the components the engine drives.
type Deps struct {
	Registry   *schema.Registry
	Market     *market.State
	Generator  *mdg.Generator
	Executor   *exec.Simulator
	Ledger     *ledger.Ledger
	Risk       *risk.Engine
	Strategies []Strategy
	// Bus receives every snapshot. With a blocking queue the tick waits
	// for the reporter; otherwise a full queue drops the snapshot.
	Bus     *bus.Queue
	Metrics *obs.Metrics
}

type rejectionKey struct {
	strategy string
	symbol   string
}

// Engine runs the tick loop. Step and Run must be called from one
// goroutine; Phase may be read from any.
type Engine struct {
	cfg        Config
	deps       Deps
	ids        *obs.IDGenerator
	phase      atomic.Uint32
	tick       uint64
	rejections map[rejectionKey]schema.Rejection
	rejected   int
	last       schema.Snapshot
}

// New validates deps against cfg.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil || deps.Market == nil || deps.Executor == nil || deps.Ledger == nil {
		return nil, fmt.Errorf("registry, market state, executor and ledger are required: %w", exception.ErrNilInstance)
	}
	if cfg.Mode == ModeSimulated && deps.Generator == nil {
		return nil, fmt.Errorf("simulated mode needs a quote generator: %w", exception.ErrInvalidConfig)
	}
	if len(deps.Strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy is required: %w", exception.ErrInvalidConfig)
	}
	names := make(map[string]bool, len(deps.Strategies))
	for _, s := range deps.Strategies {
		if s == nil {
			return nil, fmt.Errorf("nil strategy: %w", exception.ErrNilInstance)
		}
		if names[s.Name()] {
			return nil, fmt.Errorf("duplicate strategy name %q: %w", s.Name(), exception.ErrInvalidConfig)
		}
		names[s.Name()] = true
	}
	if cfg.TickInterval < 0 || cfg.SimStep < 0 {
		return nil, fmt.Errorf("tick interval and sim step must be >= 0: %w", exception.ErrInvalidConfig)
	}
	if cfg.SimStep == 0 {
		cfg.SimStep = cfg.TickInterval
		if cfg.SimStep == 0 {
			cfg.SimStep = time.Second
		}
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now().UTC().Truncate(time.Second)
	}
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		ids:        obs.NewIDGenerator(0),
		rejections: make(map[rejectionKey]schema.Rejection),
	}, nil
}

// Phase returns the current tick phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// Tick returns the number of completed ticks.
func (e *Engine) Tick() uint64 {
	return e.tick
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(uint32(p))
}

func (e *Engine) now(tick uint64) time.Time {
	if e.cfg.Mode == ModeLive {
		return time.Now().UTC()
	}
	return e.cfg.StartTime.Add(time.Duration(tick) * e.cfg.SimStep)
}

// Step runs one tick and returns its snapshot. Order-level failures are
// recorded as rejections; only a failing price model aborts the tick.
func (e *Engine) Step(ctx context.Context) (schema.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return schema.Snapshot{}, err
	}
	start := time.Now()
	tick := e.tick + 1
	now := e.now(tick)
	defer e.setPhase(PhaseIdle)

	e.setPhase(PhaseRefreshingMarket)
	if err := e.refresh(now); err != nil {
		return schema.Snapshot{}, err
	}

	e.setPhase(PhaseEvaluatingStrategies)
	orders := e.evaluate(now)

	e.setPhase(PhaseExecutingOrders)
	fills, rejections := e.execute(orders, now)

	e.setPhase(PhaseUpdatingLedger)
	fills, rejections = e.settle(fills, rejections)
	e.deps.Ledger.MarkToMarket(e.deps.Market.Latest(), now)

	e.tick = tick
	snap := e.snapshot(now, false, fills, rejections)
	e.deps.Metrics.ObserveTick(time.Since(start))
	return snap, nil
}

// Run paces Step until ctx ends or MaxTicks is reached, then records a
// final equity sample and returns the final snapshot.
func (e *Engine) Run(ctx context.Context) (schema.Snapshot, error) {
	logs.Infof("engine: run %s started in %s mode, %d strategies", e.cfg.RunID, e.cfg.Mode, len(e.deps.Strategies))

	var ticker *time.Ticker
	if e.cfg.TickInterval > 0 {
		ticker = time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
	}

loop:
	for {
		if ctx.Err() != nil {
			break
		}
		if e.cfg.MaxTicks > 0 && e.tick >= e.cfg.MaxTicks {
			break
		}
		if _, err := e.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return e.last, err
		}
		if ticker == nil {
			continue
		}
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	final := e.finalize()
	logs.Infof("engine: run %s stopped after %d ticks, equity %.2f", e.cfg.RunID, e.tick, final.Portfolio.Equity)
	return final, nil
}

func (e *Engine) finalize() schema.Snapshot {
	now := e.now(e.tick)
	e.deps.Ledger.MarkToMarket(e.deps.Market.Latest(), now)
	return e.snapshot(now, true, nil, nil)
}

func (e *Engine) refresh(now time.Time) error {
	if e.cfg.Mode == ModeLive {
		return nil
	}
	quotes, err := e.deps.Generator.Next(e.cfg.SimStep.Seconds(), now)
	if err != nil {
		return fmt.Errorf("generate quotes: %w", err)
	}
	for _, q := range quotes {
		e.deps.Metrics.ObserveQuote(e.deps.Market.Update(q))
	}
	return nil
}

func (e *Engine) evaluate(now time.Time) []schema.Order {
	var orders []schema.Order
	view := e.deps.Ledger.View()
	mv := e.deps.Market.View()
	symbols := e.deps.Market.Symbols()
	for _, strat := range e.deps.Strategies {
		pv := portfolio{View: view, strategy: strat.Name(), rejections: e.rejections}
		for _, symbol := range symbols {
			for _, o := range strat.Evaluate(symbol, mv, pv) {
				o.ID = e.ids.Next()
				o.Strategy = strat.Name()
				o.SubmittedAt = now
				if o.Symbol == "" {
					o.Symbol = symbol
				}
				if o.Kind == schema.OrderKindUnknown {
					o.Kind = schema.OrderKindMarket
				}
				orders = append(orders, o)
			}
		}
	}
	return orders
}

func (e *Engine) execute(orders []schema.Order, now time.Time) ([]schema.Fill, []schema.Rejection) {
	var (
		fills      []schema.Fill
		rejections []schema.Rejection
		projected  = make(map[string]float64)
	)
	for _, o := range orders {
		if e.deps.Risk != nil {
			pos, ok := projected[o.Symbol]
			if !ok {
				pos = e.deps.Ledger.Position(o.Symbol).Quantity.InexactFloat64()
			}
			var ref float64
			if q, err := e.deps.Market.Read(o.Symbol); err == nil {
				ref = q.Mid
			}
			start := time.Now()
			decision := e.deps.Risk.Evaluate(o, risk.StateView{Position: pos, ReferencePrice: ref, Now: now})
			e.deps.Metrics.ObserveRiskEval(time.Since(start))
			if err := decision.Err(); err != nil {
				rejections = append(rejections, e.reject(o, err))
				continue
			}
			projected[o.Symbol] = pos + float64(o.Side.Sign())*o.Quantity
		}

		fill, err := e.deps.Executor.Execute(o)
		if err != nil {
			rejections = append(rejections, e.reject(o, err))
			continue
		}
		fills = append(fills, fill)
	}
	return fills, rejections
}

func (e *Engine) settle(fills []schema.Fill, rejections []schema.Rejection) ([]schema.Fill, []schema.Rejection) {
	booked := fills[:0]
	for _, f := range fills {
		if err := e.deps.Ledger.Apply(f); err != nil {
			if rerr := e.deps.Executor.Reject(f.OrderID, err); rerr != nil {
				logs.Errorf("engine: reject order %d, err: %+v", f.OrderID, rerr)
			}
			rejections = append(rejections, e.reject(schema.Order{
				ID:       f.OrderID,
				Strategy: f.Strategy,
				Symbol:   f.Symbol,
				Side:     f.Side,
				Quantity: f.Quantity,
			}, err))
			continue
		}
		if err := e.deps.Executor.Settle(f); err != nil {
			logs.Errorf("engine: settle order %d, err: %+v", f.OrderID, err)
		}
		e.deps.Metrics.IncFill()
		delete(e.rejections, rejectionKey{strategy: f.Strategy, symbol: f.Symbol})
		booked = append(booked, f)
	}
	return booked, rejections
}

func (e *Engine) reject(o schema.Order, err error) schema.Rejection {
	rej := schema.Rejection{
		OrderID:  o.ID,
		Strategy: o.Strategy,
		Symbol:   o.Symbol,
		Side:     o.Side,
		Quantity: o.Quantity,
		Reason:   exception.Reason(err),
		Message:  err.Error(),
	}
	e.rejections[rejectionKey{strategy: o.Strategy, symbol: o.Symbol}] = rej
	e.rejected++
	e.deps.Metrics.IncRejection(rej.Reason)
	logs.Debugf("engine: order %d %s %s %v rejected (%s), err: %+v", o.ID, o.Symbol, o.Side, o.Quantity, rej.Reason, err)
	return rej
}

func (e *Engine) snapshot(now time.Time, final bool, fills []schema.Fill, rejections []schema.Rejection) schema.Snapshot {
	state := e.deps.Ledger.Snapshot()
	state.Rejections = e.rejected
	snap := schema.Snapshot{
		RunID:      e.cfg.RunID,
		Tick:       e.tick,
		Timestamp:  now,
		Final:      final,
		Quotes:     e.deps.Market.Latest(),
		Portfolio:  state,
		Fills:      append([]schema.Fill(nil), fills...),
		Rejections: append([]schema.Rejection(nil), rejections...),
	}
	e.last = snap
	e.publish(snap)
	return snap
}

func (e *Engine) publish(snap schema.Snapshot) {
	if e.deps.Bus == nil {
		return
	}
	switch err := e.deps.Bus.Publish(snap); {
	case err == nil:
	case errors.Is(err, bus.ErrQueueFull):
		e.deps.Metrics.IncQueueDrop()
	case errors.Is(err, bus.ErrQueueClosed):
		e.deps.Metrics.IncQueueClosed()
	}
}

type portfolio struct {
	ledger.View
	strategy   string
	rejections map[rejectionKey]schema.Rejection
}

func (p portfolio) LastRejection(symbol string) (schema.Rejection, bool) {
	rej, ok := p.rejections[rejectionKey{strategy: p.strategy, symbol: symbol}]
	return rej, ok
}
