// Package detector classifies a page view as bot or human from browser
// readings and produces a device fingerprint for correlation.
package detector

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ghostlayer/server/internal/logger"
)

// Detector runs the probe suite against an Environment. It holds no
// per-request state and is safe for concurrent use.
type Detector struct {
	patterns Patterns
	logger   *logrus.Logger
	clock    Clock
}

// Option configures a Detector.
type Option func(*Detector)

// WithPatterns replaces the built-in pattern lists.
func WithPatterns(p Patterns) Option {
	return func(d *Detector) { d.patterns = p }
}

func WithLogger(l *logrus.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock sets the clock used for storage probe keys.
func WithClock(c Clock) Option {
	return func(d *Detector) {
		if c != nil {
			d.clock = c
		}
	}
}

// New creates a Detector with the built-in patterns and a discarding logger.
func New(opts ...Option) *Detector {
	d := &Detector{
		patterns: DefaultPatterns(),
		logger:   logger.Discard(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Detector) Patterns() Patterns { return d.patterns }

func (d *Detector) now() time.Time { return d.clock() }

// Detect runs every probe and generates the fingerprint concurrently, then
// aggregates the probe results. It always runs to completion: probe
// failures become their documented fallback results and never surface as
// errors.
func (d *Detector) Detect(ctx context.Context, env Environment, s *Session) *Result {
	if s == nil {
		s = NewSession(d.now(), d.clock)
	}

	var (
		checks []NamedCheck
		fp     Fingerprint
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		checks = d.RunProbes(gctx, env, s)
		return nil
	})
	g.Go(func() error {
		fp = d.GenerateFingerprint(gctx, env)
		return nil
	})
	_ = g.Wait()

	res := Aggregate(checks)
	res.Fingerprint = fp

	d.logger.WithFields(logrus.Fields{
		"is_bot":      res.IsBot,
		"confidence":  res.Confidence,
		"reason":      res.Reason,
		"fingerprint": fp.Hash,
	}).Debug("detection complete")

	return res
}

// RunProbes evaluates all probes sequentially in declaration order.
func (d *Detector) RunProbes(ctx context.Context, env Environment, s *Session) []NamedCheck {
	checks := make([]NamedCheck, 0, len(probes))
	for _, p := range probes {
		checks = append(checks, NamedCheck{Name: p.name, Result: p.check(ctx, d, env, s)})
	}
	return checks
}

// Aggregate scores probe results. The primary reason is the first firing
// check, in the given order, whose weight exceeds SalientWeight.
func Aggregate(checks []NamedCheck) *Result {
	res := &Result{Checks: make(map[string]CheckResult, len(checks))}

	score := 0
	for _, c := range checks {
		res.Checks[c.Name] = c.Result
		if !c.Result.IsBot {
			continue
		}
		score += c.Result.Weight
		if res.Reason == "" && c.Result.Weight > SalientWeight {
			res.Reason = c.Result.Reason
		}
	}

	res.Confidence = Confidence(score)
	res.IsBot = res.Confidence > DecisionThreshold

	if res.Reason == "" {
		res.Reason = ReasonLegitimate
		if res.IsBot {
			res.Reason = ReasonMultipleSignals
		}
	}
	return res
}

// Confidence maps a triggered-weight sum to 0..100, rounding half away from zero.
func Confidence(score int) int {
	c := int(math.Round(float64(score) / ScoreNormalizer * 100))
	if c > 100 {
		return 100
	}
	if c < 0 {
		return 0
	}
	return c
}
