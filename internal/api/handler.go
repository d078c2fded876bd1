package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ghostlayer/server/internal/campaign"
	"github.com/ghostlayer/server/internal/detector"
	"github.com/ghostlayer/server/internal/metrics"
	"github.com/ghostlayer/server/internal/pixel"
	"github.com/ghostlayer/server/internal/ratelimit"
	"github.com/ghostlayer/server/internal/signals"
	"github.com/ghostlayer/server/internal/tracking"
	"github.com/ghostlayer/server/internal/verdict"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	detector *detector.Detector
	signer   *verdict.Signer
	tracking *tracking.Service
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	db       Pinger
	now      func() time.Time
}

// Deps are the collaborators NewHandler wires together.
type Deps struct {
	Detector *detector.Detector
	Signer   *verdict.Signer
	Tracking *tracking.Service
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	Logger   *logrus.Logger
	DB       Pinger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		detector: d.Detector,
		signer:   d.Signer,
		tracking: d.Tracking,
		limiter:  d.Limiter,
		metrics:  d.Metrics,
		logger:   d.Logger,
		db:       d.DB,
		now:      time.Now,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "INVALID_JSON", "request body must be valid JSON")
		return false
	}
	return true
}

// fail maps domain errors to responses; anything unrecognised is a 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, campaign.ErrUnknownCampaign):
		notFound(w, "campaign not found")
	case errors.Is(err, tracking.ErrClickNotFound):
		notFound(w, "click not found")
	case errors.Is(err, signals.ErrInvalidReport):
		badRequest(w, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, pixel.ErrBotTraffic):
		unprocessable(w, "BOT_TRAFFIC", "conversion events are not sent for bot traffic")
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
		internalError(w)
	}
}

// ─── GET /health ─────────────────────────────────────────────────────────────

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "service": "ghostlayer"}
	if h.db != nil {
		status["database"] = "ok"
		if err := h.db.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = "unavailable"
		}
	}
	ok(w, status)
}

// ─── GET /api/precheck ───────────────────────────────────────────────────────

type precheckResponse struct {
	Bot bool `json:"bot"`
}

// Precheck runs the quick detector over the request headers. Bots get 403.
func (h *Handler) Precheck(w http.ResponseWriter, r *http.Request) {
	isBot := h.detector.QuickDetect(signals.FromRequest(r))
	h.metrics.ObservePrecheck(isBot)

	status := http.StatusOK
	if isBot {
		status = http.StatusForbidden
	}
	writeJSON(w, status, envelope{Data: precheckResponse{Bot: isBot}})
}

// ─── POST /api/detect ────────────────────────────────────────────────────────

type detectRequest struct {
	Report *signals.Report `json:"report"`
}

type detectResponse struct {
	*detector.Result
	Token string `json:"token"`
}

// Detect runs the full detector over a collector report and returns the
// result with a signed verdict token bound to the caller's IP.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Report == nil {
		badRequest(w, "VALIDATION_ERROR", "report is required")
		return
	}
	if err := req.Report.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}

	res := h.detector.Detect(r.Context(), req.Report.Environment(), req.Report.Session(h.now()))
	h.metrics.ObserveDetection(res)

	ip := signals.ClientIP(r)
	ok(w, detectResponse{
		Result: res,
		Token:  h.signer.Issue(res.Fingerprint.Hash, res.IsBot, res.Confidence, ip),
	})
}

// ─── POST /api/track ─────────────────────────────────────────────────────────

type trackRequest struct {
	CampaignID string          `json:"campaignId"`
	Report     *signals.Report `json:"report"`
	Token      string          `json:"token"`
	UTM        tracking.UTM    `json:"utm"`
	ClickIDs   pixel.ClickIDs  `json:"clickIds"`
	FBP        string          `json:"fbp"`
}

type trackResponse struct {
	ClickID    string         `json:"clickId"`
	IsBot      bool           `json:"isBot"`
	Confidence int            `json:"confidence"`
	Reason     string         `json:"reason"`
	Duplicate  bool           `json:"duplicate"`
	Verified   bool           `json:"verified"`
	Pixels     []pixel.Result `json:"pixels"`
}

func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CampaignID == "" {
		badRequest(w, "VALIDATION_ERROR", "campaignId is required")
		return
	}

	out, err := h.tracking.Track(r.Context(), tracking.TrackInput{
		CampaignID: req.CampaignID,
		Report:     req.Report,
		Token:      req.Token,
		UTM:        req.UTM,
		ClickIDs:   req.ClickIDs,
		FBP:        req.FBP,
		ClientIP:   signals.ClientIP(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	pixels := out.Pixels
	if pixels == nil {
		pixels = []pixel.Result{}
	}
	created(w, trackResponse{
		ClickID:    out.Click.ID,
		IsBot:      out.Click.IsBot,
		Confidence: out.Click.Confidence,
		Reason:     out.Click.Reason,
		Duplicate:  out.Click.Duplicate,
		Verified:   out.Click.Verified,
		Pixels:     pixels,
	})
}

// ─── GET /api/tracking/stats ─────────────────────────────────────────────────

func (h *Handler) TrackingStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.tracking.Stats(r.Context(), r.URL.Query().Get("campaignId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ok(w, report)
}

// ─── POST /api/pixel-event ───────────────────────────────────────────────────

type pixelEventRequest struct {
	CampaignID      string                 `json:"campaignId"`
	ClickID         string                 `json:"clickId"`
	EventName       string                 `json:"eventName"`
	FingerprintHash string                 `json:"fingerprintHash"`
	IsBot           bool                   `json:"isBot"`
	ClickIDs        pixel.ClickIDs         `json:"clickIds"`
	FBP             string                 `json:"fbp"`
	CustomData      map[string]interface{} `json:"customData"`
}

type pixelEventResponse struct {
	Results []pixel.Result `json:"results"`
}

// PixelEvent reports a conversion to the campaign's ad platforms. Bot
// traffic is refused with 422.
func (h *Handler) PixelEvent(w http.ResponseWriter, r *http.Request) {
	var req pixelEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CampaignID == "" {
		badRequest(w, "VALIDATION_ERROR", "campaignId is required")
		return
	}

	results, err := h.tracking.ReportConversion(r.Context(), tracking.ConversionInput{
		CampaignID:      req.CampaignID,
		ClickID:         req.ClickID,
		EventName:       req.EventName,
		FingerprintHash: req.FingerprintHash,
		IsBot:           req.IsBot,
		ClickIDs:        req.ClickIDs,
		FBP:             req.FBP,
		CustomData:      req.CustomData,
		ClientIP:        signals.ClientIP(r),
		UserAgent:       r.UserAgent(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if results == nil {
		results = []pixel.Result{}
	}
	ok(w, pixelEventResponse{Results: results})
}

// ─── Middleware ──────────────────────────────────────────────────────────────

// Gate refuses requests whose headers already give the client away as a
// bot. Every refused request gets the same 403.
func (h *Handler) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isBot := h.detector.QuickDetect(signals.FromRequest(r))
		h.metrics.ObservePrecheck(isBot)
		if isBot {
			forbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit allows each client IP the limiter's budget.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limited, _ := h.limiter.Check(signals.ClientIP(r)); limited {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(h.limiter.RetryAfter().Seconds())))
			tooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured record per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTP(r.Method, status)
		h.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("http")
	})
}
