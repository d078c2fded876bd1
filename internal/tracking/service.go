package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ghostlayer/server/internal/campaign"
	"github.com/ghostlayer/server/internal/dedup"
	"github.com/ghostlayer/server/internal/detector"
	"github.com/ghostlayer/server/internal/metrics"
	"github.com/ghostlayer/server/internal/pixel"
	"github.com/ghostlayer/server/internal/signals"
	"github.com/ghostlayer/server/internal/verdict"
)

// ReasonVerified is the click reason when a signed verdict overruled the
// detector.
const ReasonVerified = "Verified detection token"

// RecentLimit is how many clicks Stats returns alongside the aggregates.
const RecentLimit = 100

// Dispatcher delivers conversion events to ad platforms.
type Dispatcher interface {
	Dispatch(ctx context.Context, c campaign.Campaign, e pixel.Event, isBot bool) ([]pixel.Result, error)
}

// Service ties detection, deduplication, persistence and pixel reporting
// together for tracked clicks.
type Service struct {
	Detector   *detector.Detector
	Signer     *verdict.Signer
	Counter    dedup.Counter
	Store      Store
	Campaigns  *campaign.Registry
	Dispatcher Dispatcher
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// TrackInput is one landing-page visit as posted by the collector.
type TrackInput struct {
	CampaignID string
	Report     *signals.Report
	Token      string
	UTM        UTM
	ClickIDs   pixel.ClickIDs
	FBP        string
	ClientIP   string
}

// TrackOutcome is what Track decided and stored.
type TrackOutcome struct {
	Click  *Click
	Result *detector.Result
	Pixels []pixel.Result
}

// Track classifies and records one click. The report always runs through
// the full detector; a posted verdict token that verifies for the report's
// fingerprint and the caller's IP then supplies the verdict. Pixel events
// are sent for human clicks only. Failures of dedup and pixel delivery are
// logged and do not fail the click.
func (s *Service) Track(ctx context.Context, in TrackInput) (*TrackOutcome, error) {
	c, err := s.Campaigns.Get(in.CampaignID)
	if err != nil {
		return nil, err
	}
	if in.Report == nil {
		return nil, fmt.Errorf("%w: report is required", signals.ErrInvalidReport)
	}
	if err := in.Report.Validate(); err != nil {
		return nil, err
	}

	receivedAt := s.now()
	res, verified := s.classify(ctx, in, receivedAt)

	log := s.Logger.WithFields(logrus.Fields{
		"campaign":    c.ID,
		"fingerprint": res.Fingerprint.Hash,
	})

	sighting, err := s.Counter.Record(ctx, c.ID, res.Fingerprint.Hash, in.ClientIP)
	if err != nil {
		log.WithError(err).Warn("dedup counter unavailable, treating click as first sighting")
		sighting = dedup.Sighting{Count: 1}
	}

	ua := ParseUserAgent(in.Report.UserAgent)
	click := &Click{
		ID:              uuid.NewString(),
		CampaignID:      c.ID,
		IsBot:           res.IsBot,
		Confidence:      res.Confidence,
		Reason:          res.Reason,
		FingerprintHash: res.Fingerprint.Hash,
		UserAgent:       in.Report.UserAgent,
		IPHash:          verdict.HashIP(in.ClientIP),
		Browser:         ua.Browser,
		OS:              ua.OS,
		DeviceType:      ua.DeviceType,
		UTM:             in.UTM,
		Referrer:        in.Report.Referrer,
		ClickIDs:        in.ClickIDs,
		Duplicate:       sighting.Duplicate(),
		Verified:        verified,
		CreatedAt:       receivedAt.UTC(),
	}

	if err := s.Store.SaveClick(ctx, click); err != nil {
		return nil, fmt.Errorf("save click: %w", err)
	}
	if err := s.Store.SaveDetection(ctx, NewDetection(click.ID, res)); err != nil {
		log.WithError(err).Error("failed to store detection details")
	}

	log.WithFields(logrus.Fields{
		"click_id":   click.ID,
		"is_bot":     click.IsBot,
		"confidence": click.Confidence,
		"duplicate":  click.Duplicate,
		"verified":   verified,
	}).Info("click tracked")

	out := &TrackOutcome{Click: click, Result: res}
	if click.IsBot {
		return out, nil
	}

	out.Pixels = s.report(ctx, c, click.ID, pixel.EventInput{
		EventName:       "PageView",
		At:              receivedAt,
		ClientIP:        in.ClientIP,
		UserAgent:       in.Report.UserAgent,
		FingerprintHash: click.FingerprintHash,
		FBP:             in.FBP,
		ClickIDs:        in.ClickIDs,
	})
	return out, nil
}

// classify runs the full detector on the report, so every click keeps its
// per-probe evidence. A verified token then decides IsBot and Confidence;
// when it overrules the detector the reason says so.
func (s *Service) classify(ctx context.Context, in TrackInput, receivedAt time.Time) (*detector.Result, bool) {
	res := s.Detector.Detect(ctx, in.Report.Environment(), in.Report.Session(receivedAt))
	s.Metrics.ObserveDetection(res)

	if in.Token == "" {
		return res, false
	}
	claims, err := s.Signer.VerifyFor(in.Token, res.Fingerprint.Hash)
	switch {
	case err != nil:
		s.Logger.WithError(err).Debug("verdict token rejected, keeping detector verdict")
		return res, false
	case claims.IPHash != verdict.HashIP(in.ClientIP):
		s.Logger.Debug("verdict token issued to another IP, keeping detector verdict")
		return res, false
	}

	if claims.IsBot != res.IsBot {
		s.Logger.WithFields(logrus.Fields{
			"fingerprint": res.Fingerprint.Hash,
			"token_bot":   claims.IsBot,
			"detector":    res.Reason,
		}).Info("verdict token overrules detector")
		res.Reason = ReasonVerified
	}
	res.IsBot = claims.IsBot
	res.Confidence = claims.Confidence
	return res, true
}

// ConversionInput is a conversion reported after the landing page.
type ConversionInput struct {
	CampaignID      string
	ClickID         string
	EventName       string
	FingerprintHash string
	IsBot           bool
	ClickIDs        pixel.ClickIDs
	FBP             string
	CustomData      map[string]interface{}
	ClientIP        string
	UserAgent       string
}

// ReportConversion sends a conversion event for a human visit. When a
// click ID is given the stored click decides bot status and supplies the
// fingerprint and click IDs the caller left out.
func (s *Service) ReportConversion(ctx context.Context, in ConversionInput) ([]pixel.Result, error) {
	c, err := s.Campaigns.Get(in.CampaignID)
	if err != nil {
		return nil, err
	}

	isBot := in.IsBot
	if in.ClickID != "" {
		click, err := s.Store.GetClick(ctx, in.ClickID)
		if err != nil {
			return nil, err
		}
		if click.CampaignID != c.ID {
			return nil, ErrClickNotFound
		}
		isBot = isBot || click.IsBot
		if in.FingerprintHash == "" {
			in.FingerprintHash = click.FingerprintHash
		}
		if in.ClickIDs == (pixel.ClickIDs{}) {
			in.ClickIDs = click.ClickIDs
		}
	}
	if isBot {
		return nil, pixel.ErrBotTraffic
	}

	return s.report(ctx, c, in.ClickID, pixel.EventInput{
		EventName:       in.EventName,
		At:              s.now(),
		ClientIP:        in.ClientIP,
		UserAgent:       in.UserAgent,
		FingerprintHash: in.FingerprintHash,
		FBP:             in.FBP,
		ClickIDs:        in.ClickIDs,
		CustomData:      in.CustomData,
	}), nil
}

// report dispatches one event and records each platform's outcome.
func (s *Service) report(ctx context.Context, c campaign.Campaign, clickID string, in pixel.EventInput) []pixel.Result {
	event := pixel.BuildEvent(in)
	results, err := s.Dispatcher.Dispatch(ctx, c, event, false)
	if err != nil {
		s.Logger.WithError(err).WithField("campaign", c.ID).Error("pixel dispatch failed")
		return nil
	}

	for _, r := range results {
		pe := &PixelEvent{
			ID:         uuid.NewString(),
			ClickID:    clickID,
			CampaignID: c.ID,
			Platform:   r.Platform,
			EventName:  event.EventName,
			Success:    r.Success,
			Error:      r.Error,
			CreatedAt:  s.now().UTC(),
		}
		if err := s.Store.SavePixelEvent(ctx, pe); err != nil {
			s.Logger.WithError(err).WithField("platform", r.Platform).Error("failed to store pixel event")
		}
	}
	return results
}

// StatsReport is a campaign's aggregates plus its most recent clicks.
type StatsReport struct {
	Stats  *Stats  `json:"stats"`
	Recent []Click `json:"recentClicks"`
}

// Stats aggregates one campaign, or all when campaignID is empty.
func (s *Service) Stats(ctx context.Context, campaignID string) (*StatsReport, error) {
	if campaignID != "" {
		c, err := s.Campaigns.Get(campaignID)
		if err != nil {
			return nil, err
		}
		campaignID = c.ID
	}

	st, err := s.Store.Stats(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	recent, err := s.Store.RecentClicks(ctx, campaignID, RecentLimit)
	if err != nil {
		return nil, err
	}
	return &StatsReport{Stats: st, Recent: recent}, nil
}
