package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"hftsim/internal/bus"
	"hftsim/internal/chaos"
	"hftsim/internal/engine"
	"hftsim/internal/exec"
	"hftsim/internal/feed"
	"hftsim/internal/ledger"
	"hftsim/internal/market"
	"hftsim/internal/mdg"
	"hftsim/internal/obs"
	"hftsim/internal/ops"
	"hftsim/internal/report"
	"hftsim/internal/risk"
	"hftsim/internal/schema"
	"hftsim/internal/sink"
	"hftsim/internal/strategy"
	"hftsim/pkg/conn"
)

// run wires one simulation from loaded, drives it to completion and
// returns the report. The report is also written when an export path is
// configured.
func run(ctx context.Context, loaded ops.Loaded, clock func() time.Time) (report.Export, error) {
	reg := loaded.Registry
	names := reg.Names()
	metrics := obs.NewMetrics()

	state, err := market.NewState(names, loaded.StaleAfter)
	if err != nil {
		return report.Export{}, err
	}

	rng := rand.New(rand.NewSource(loaded.Seed))
	seq := mdg.NewSequencer(names)
	synth, err := mdg.NewSynthesizer(reg, loaded.Model.Classes, rng, seq)
	if err != nil {
		return report.Export{}, err
	}

	var generator *mdg.Generator
	if loaded.Engine.Mode == engine.ModeSimulated {
		model, err := mdg.NewPriceModel(reg, loaded.Model, rng)
		if err != nil {
			return report.Export{}, err
		}
		if generator, err = mdg.NewGenerator(reg, model, synth); err != nil {
			return report.Export{}, err
		}
	}

	executor, err := exec.NewSimulator(reg, state, loaded.Execution)
	if err != nil {
		return report.Export{}, err
	}
	book, err := ledger.New(loaded.Ledger)
	if err != nil {
		return report.Export{}, err
	}
	var riskEngine *risk.Engine
	if loaded.Features.EnableRisk {
		riskEngine = risk.NewEngine(loaded.Risk)
	}

	strategies := make([]engine.Strategy, 0, len(loaded.Strategies))
	for _, spec := range loaded.Strategies {
		s, err := strategy.New(spec.Kind, spec.Name, spec.Params)
		if err != nil {
			return report.Export{}, err
		}
		strategies = append(strategies, s)
	}

	tracker := report.NewTracker()
	handlers := []func(schema.Snapshot){tracker.Observe, logReporter(loaded.Report.LogEvery)}
	if loaded.Features.EnableSink {
		client, err := conn.New(conn.Option{ConnString: loaded.SinkDSN})
		if err != nil {
			return report.Export{}, err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logs.Errorf("close postgres client, err: %+v", err)
			}
		}()
		if err := client.Ping(ctx); err != nil {
			return report.Export{}, err
		}
		store, err := sink.New(client.DB())
		if err != nil {
			return report.Export{}, err
		}
		if err := store.Migrate(ctx); err != nil {
			return report.Export{}, err
		}
		handlers = append(handlers, store.Handle)
	}

	queue := bus.NewQueue(loaded.Report.QueueSize, loaded.Report.Overflow)
	eng, err := engine.New(loaded.Engine, engine.Deps{
		Registry:   reg,
		Market:     state,
		Generator:  generator,
		Executor:   executor,
		Ledger:     book,
		Risk:       riskEngine,
		Strategies: strategies,
		Bus:        queue,
		Metrics:    metrics,
	})
	if err != nil {
		return report.Export{}, err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var wg sync.WaitGroup

	if loaded.Engine.Mode == engine.ModeLive {
		poller, err := newPoller(loaded, reg, synth, seq, state, metrics)
		if err != nil {
			return report.Export{}, err
		}
		if err := poller.PollOnce(runCtx); err != nil {
			logs.Warnf("initial feed poll failed, err: %+v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(runCtx)
		}()
	}

	var reporters sync.WaitGroup
	reporters.Add(1)
	go func() {
		defer reporters.Done()
		// Drains after the engine stops, so it must not share runCtx.
		queue.Run(context.Background(), bus.Fanout(handlers...))
	}()

	final, runErr := eng.Run(runCtx)
	stop()
	wg.Wait()
	queue.Close()
	reporters.Wait()
	if runErr != nil {
		return report.Export{}, runErr
	}

	export := report.NewExport(tracker, final, clock().UTC())
	logSummary(export, metrics.Snapshot())
	if path := loaded.Report.ExportPath; path != "" {
		if err := report.WriteExport(path, export); err != nil {
			return export, err
		}
		logs.Infof("report written to %s", path)
	}
	return export, nil
}

func newPoller(loaded ops.Loaded, reg *schema.Registry, synth *mdg.Synthesizer, seq *mdg.Sequencer, state *market.State, metrics *obs.Metrics) (*feed.Poller, error) {
	var source feed.Feed
	httpFeed, err := feed.NewHTTPFeed(loaded.Feed.HTTP)
	if err != nil {
		return nil, err
	}
	source = httpFeed
	if loaded.Features.EnableChaos && loaded.Feed.Chaos.Enabled() {
		faults, err := chaos.NewEngine(loaded.Feed.Chaos)
		if err != nil {
			return nil, err
		}
		if source, err = chaos.NewFeed(httpFeed, faults); err != nil {
			return nil, err
		}
		logs.Warnf("chaos enabled on the live feed: %+v", loaded.Feed.Chaos)
	}
	norm := mdg.NewNormalizer(reg, synth, seq)
	return feed.NewPoller(source, norm, state, loaded.Feed.UpdateInterval, metrics)
}

// logReporter logs equity every n ticks and always on the final snapshot.
func logReporter(n uint64) func(schema.Snapshot) {
	return func(s schema.Snapshot) {
		if !s.Final && (n == 0 || s.Tick%n != 0) {
			return
		}
		logs.Infof("tick %d: equity %.2f cash %.2f realized %.2f unrealized %.2f positions %d",
			s.Tick, s.Portfolio.Equity, s.Portfolio.Cash, s.Portfolio.RealizedPnL, s.Portfolio.UnrealizedPnL, len(s.Portfolio.Positions))
	}
}

func logSummary(export report.Export, snap obs.Snapshot) {
	m := export.Metrics
	logs.Infof("run %s: return %.4f%% sharpe %.3f max drawdown %.4f%% trades %d rejections %d win rate %.2f",
		export.RunID, m.TotalReturn*100, m.SharpeRatio, m.MaxDrawdown*100, m.Trades, m.Rejections, m.WinRate)
	logs.Infof("metrics: ticks=%d fills=%d rejections=%v feed_polls=%d feed_failures=%d quotes=%d/%d drops=%d closed=%d tick_latency=%+v",
		snap.Ticks, snap.Fills, snap.Rejections, snap.FeedPolls, snap.FeedFailures,
		snap.QuotesAccepted, snap.QuotesAccepted+snap.QuotesDiscarded, snap.QueueDrops, snap.QueueClosed, snap.TickLatency)
}

// verify compares the run's equity curve with a previous export.
func verify(path string, export report.Export) error {
	previous, err := report.ReadExport(path)
	if err != nil {
		return err
	}
	if err := report.CompareCurves(previous.EquityCurve, export.EquityCurve); err != nil {
		return fmt.Errorf("run %s differs from %s: %w", export.RunID, previous.RunID, err)
	}
	return nil
}
