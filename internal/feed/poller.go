package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	ierrors "hftsim/internal/errors"
	"hftsim/internal/market"
	"hftsim/internal/mdg"
	"hftsim/internal/obs"
	"hftsim/pkg/exception"
)

// Poller is the single background writer of market state in live mode.
type Poller struct {
	feed    Feed
	norm    *mdg.Normalizer
	state   *market.State
	limiter *rate.Limiter
	metrics *obs.Metrics
	symbols []string
}

// NewPoller creates a poller that fetches at most once per interval.
func NewPoller(f Feed, norm *mdg.Normalizer, state *market.State, interval time.Duration, metrics *obs.Metrics) (*Poller, error) {
	if f == nil || norm == nil || state == nil {
		return nil, fmt.Errorf("feed, normalizer and market state are required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("update interval must be > 0, got %s", interval)
	}
	return &Poller{
		feed:    f,
		norm:    norm,
		state:   state,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		metrics: metrics,
		symbols: state.Symbols(),
	}, nil
}

// PollOnce fetches and publishes one round of quotes. Symbols not refreshed
// by the round count a missed poll; their last quote is kept.
func (p *Poller) PollOnce(ctx context.Context) error {
	start := time.Now()
	raws, err := p.feed.Poll(ctx, p.symbols)
	p.metrics.ObserveFeedPoll(time.Since(start), err != nil)
	if err != nil {
		for _, name := range p.symbols {
			p.state.MarkMissed(name)
		}
		if ierrors.Is(err, exception.ErrFeedUnavailable) {
			return err
		}
		return ierrors.Wrap(exception.ErrFeedUnavailable, err.Error())
	}

	refreshed := make(map[string]bool, len(p.symbols))
	for _, raw := range raws {
		q, err := p.norm.Normalize(raw)
		if err != nil {
			logs.Debugf("feed: skip record for %s, err: %+v", raw.Symbol, err)
			continue
		}
		accepted := p.state.Update(q)
		p.metrics.ObserveQuote(accepted)
		if accepted {
			refreshed[q.Symbol] = true
		}
	}
	for _, name := range p.symbols {
		if !refreshed[name] {
			p.state.MarkMissed(name)
		}
	}
	return nil
}

// Run polls until ctx is done. Feed failures are logged and never stop the
// loop.
func (p *Poller) Run(ctx context.Context) {
	logs.Infof("feed: poller started for %d symbols", len(p.symbols))
	defer logs.Info("feed: poller stopped")
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		if err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logs.Warnf("feed: poll failed, err: %+v", err)
		}
	}
}
