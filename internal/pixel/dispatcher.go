package pixel

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ghostlayer/server/internal/campaign"
	"github.com/ghostlayer/server/internal/config"
	"github.com/ghostlayer/server/internal/logger"
	"github.com/ghostlayer/server/internal/metrics"
)

// Result is the delivery outcome for one platform.
type Result struct {
	Platform string `json:"platform"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Dispatcher fans one event out to every platform a campaign is configured
// for. Each platform has its own circuit breaker so one failing API does not
// slow down the others.
type Dispatcher struct {
	reporters []Reporter
	breakers  map[string]CircuitBreaker
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewDispatcher builds a dispatcher with one breaker per reporter.
func NewDispatcher(reporters []Reporter, failures uint32, cooldown time.Duration, m *metrics.Metrics, log *logrus.Logger) *Dispatcher {
	if failures == 0 {
		failures = 5
	}
	if log == nil {
		log = logger.Discard()
	}
	breakers := make(map[string]CircuitBreaker, len(reporters))
	for _, r := range reporters {
		breakers[r.Platform()] = NewCircuitBreaker("pixel-"+r.Platform(), cooldown, failures)
	}
	return &Dispatcher{reporters: reporters, breakers: breakers, metrics: m, logger: log}
}

// FromConfig wires the Meta, TikTok and Google reporters with a shared
// HTTP client.
func FromConfig(cfg config.PixelConfig, m *metrics.Metrics, log *logrus.Logger) *Dispatcher {
	client := &http.Client{Timeout: cfg.Timeout}
	reporters := []Reporter{
		&MetaReporter{BaseURL: cfg.MetaBaseURL, Client: client},
		&TikTokReporter{BaseURL: cfg.TikTokBaseURL, Client: client},
		&GoogleReporter{BaseURL: cfg.GoogleBaseURL, Client: client},
	}
	return NewDispatcher(reporters, cfg.BreakerFailures, cfg.BreakerCooldown, m, log)
}

// Dispatch reports e for campaign c. Bot visits are refused with
// ErrBotTraffic before any platform is contacted. Results come back in
// reporter order; platforms the campaign has no credentials for are
// skipped. A failing platform never fails the dispatch as a whole.
func (d *Dispatcher) Dispatch(ctx context.Context, c campaign.Campaign, e Event, isBot bool) ([]Result, error) {
	if isBot {
		return nil, ErrBotTraffic
	}

	var enabled []Reporter
	for _, r := range d.reporters {
		if r.Enabled(c) {
			enabled = append(enabled, r)
		}
	}

	results := make([]Result, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range enabled {
		i, r := i, r
		g.Go(func() error {
			err := d.breakers[r.Platform()].Execute(func() error {
				return r.Send(gctx, c, e)
			})
			results[i] = Result{Platform: r.Platform(), Success: err == nil}
			if err != nil {
				results[i].Error = err.Error()
				d.logger.WithFields(logrus.Fields{
					"platform": r.Platform(),
					"campaign": c.ID,
					"event":    e.EventName,
				}).WithError(err).Warn("pixel delivery failed")
			}
			d.metrics.ObservePixel(r.Platform(), err == nil)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}
