package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostlayer/server/internal/api"
	"github.com/ghostlayer/server/internal/campaign"
	"github.com/ghostlayer/server/internal/dedup"
	"github.com/ghostlayer/server/internal/detector"
	"github.com/ghostlayer/server/internal/logger"
	"github.com/ghostlayer/server/internal/metrics"
	"github.com/ghostlayer/server/internal/pixel"
	"github.com/ghostlayer/server/internal/ratelimit"
	"github.com/ghostlayer/server/internal/signals"
	"github.com/ghostlayer/server/internal/tracking"
	"github.com/ghostlayer/server/internal/tracking/sqlite"
	"github.com/ghostlayer/server/internal/verdict"
)

const (
	chromeUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	headlessUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36"
	secret     = "test-secret-0123456789"
)

// ─── Test server setup ───────────────────────────────────────────────────────

type testServer struct {
	handler http.Handler
	h       *api.Handler
	signer  *verdict.Signer
	meta    *httptest.Server
}

func newTestServer(t *testing.T, trackPerMinute int) *testServer {
	t.Helper()

	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	meta := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events_received":1}`))
	}))
	t.Cleanup(meta.Close)

	m := metrics.New()
	log := logger.Discard()
	det := detector.New()
	signer := verdict.NewSigner(secret, verdict.DefaultTTL)
	dispatcher := pixel.NewDispatcher(
		[]pixel.Reporter{&pixel.MetaReporter{BaseURL: meta.URL, Client: meta.Client()}},
		3, time.Minute, m, log,
	)

	svc := &tracking.Service{
		Detector:   det,
		Signer:     signer,
		Counter:    dedup.NewMemoryCounter(dedup.DefaultWindow),
		Store:      store,
		Campaigns:  campaign.NewRegistry(campaign.Campaign{ID: "spring", MetaPixelID: "1", MetaAccessToken: "tok"}),
		Dispatcher: dispatcher,
		Metrics:    m,
		Logger:     log,
	}

	h := api.NewHandler(api.Deps{
		Detector: det,
		Signer:   signer,
		Tracking: svc,
		Limiter:  ratelimit.New(trackPerMinute, time.Minute),
		Metrics:  m,
		Logger:   log,
		DB:       store,
	})
	return &testServer{
		handler: api.NewRouter(h, api.RouterOptions{Metrics: m.Handler()}),
		h:       h,
		signer:  signer,
		meta:    meta,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, browser bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, isString := body.(string); isString {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if browser {
		req.Header.Set("User-Agent", chromeUA)
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	d, ok := env["data"].(map[string]any)
	require.True(t, ok, "response has no data: %s", rec.Body.String())
	return d
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func humanReport() *signals.Report {
	platform := "Win32"
	widths := make(map[string]float64)
	for _, q := range detector.FontQueries() {
		widths[q] = 100
		for _, f := range []string{"Arial", "Verdana", "Georgia"} {
			if strings.Contains(q, "'"+f+"'") {
				widths[q] = 110
			}
		}
	}
	return &signals.Report{
		UserAgent: chromeUA,
		Navigator: signals.NavigatorReport{
			Language:            "en-US",
			Languages:           []string{"en-US", "en"},
			Platform:            &platform,
			Plugins:             []string{"PDF Viewer"},
			HardwareConcurrency: 8,
			DeviceMemory:        8,
			CookieEnabled:       true,
			SessionStorage:      true,
		},
		Screen:       &signals.ScreenReport{Width: 1920, Height: 1080, AvailWidth: 1920, AvailHeight: 1040, ColorDepth: 24, PixelRatio: 1},
		Globals:      []string{"chrome"},
		Timezone:     "America/Sao_Paulo",
		IndexedDB:    true,
		Canvas:       &signals.CanvasReport{ProbeDataURL: "data:image/png;base64," + strings.Repeat("B", 200), FingerprintDataURL: "data:image/png;base64,FP"},
		WebGL:        &signals.WebGLReport{Vendor: "Google Inc. (NVIDIA)", Renderer: "ANGLE (NVIDIA GeForce RTX 3060)"},
		LocalStorage: &signals.StorageReport{RoundTrip: true},
		Fonts:        &signals.FontReport{Widths: widths},
		Interaction:  signals.InteractionReport{ElapsedMs: 3500, MouseMovements: 12},
	}
}

func botReport() *signals.Report {
	r := humanReport()
	r.UserAgent = headlessUA
	r.Navigator.Webdriver = true
	r.Navigator.Plugins = []string{}
	r.Globals = nil
	r.Interaction = signals.InteractionReport{ElapsedMs: 5}
	return r
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "ok", data["database"])
}

func TestPrecheck(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodGet, "/api/precheck", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeData(t, rec)["bot"])

	rec = s.do(t, http.MethodGet, "/api/precheck", nil, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, true, decodeData(t, rec)["bot"])
}

func TestDetect_ReturnsVerifiableToken(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/detect", map[string]any{"report": humanReport()}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decodeData(t, rec)
	assert.Equal(t, false, data["isBot"])
	assert.Contains(t, data, "checks")

	fp := data["fingerprint"].(map[string]any)
	claims, err := s.signer.VerifyFor(data["token"].(string), fp["hash"].(string))
	require.NoError(t, err)
	assert.False(t, claims.IsBot)
}

func TestDetect_BadRequests(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/detect", "{not json", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/detect", map[string]any{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	bad := humanReport()
	bad.UserAgent = ""
	rec = s.do(t, http.MethodPost, "/api/detect", map[string]any{"report": bad}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrack_HumanAndBot(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/track", map[string]any{
		"campaignId": "spring",
		"report":     humanReport(),
		"utm":        map[string]string{"source": "facebook"},
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	human := decodeData(t, rec)
	assert.Equal(t, false, human["isBot"])
	assert.NotEmpty(t, human["clickId"])
	assert.Len(t, human["pixels"], 1)

	rec = s.do(t, http.MethodPost, "/api/track", map[string]any{
		"campaignId": "spring",
		"report":     botReport(),
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	bot := decodeData(t, rec)
	assert.Equal(t, true, bot["isBot"])
	assert.Empty(t, bot["pixels"])

	rec = s.do(t, http.MethodGet, "/api/tracking/stats?campaignId=spring", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeData(t, rec)["stats"].(map[string]any)
	assert.Equal(t, 2.0, stats["total"])
	assert.Equal(t, 1.0, stats["bots"])
}

func TestTrack_Errors(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/track", map[string]any{"campaignId": "winter", "report": humanReport()}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/track", map[string]any{"report": humanReport()}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/track", map[string]any{"campaignId": "spring"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))
}

func TestTrack_RateLimited(t *testing.T) {
	s := newTestServer(t, 2)
	body := map[string]any{"campaignId": "spring", "report": humanReport()}

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/track", body, true)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/track", body, true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))
}

func TestTrack_RateLimitIgnoresForwardedHeadersByDefault(t *testing.T) {
	s := newTestServer(t, 1)
	trusted := api.NewRouter(s.h, api.RouterOptions{TrustProxy: true})

	post := func(handler http.Handler, forwardedFor string) int {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(map[string]any{"campaignId": "spring", "report": humanReport()}))
		req := httptest.NewRequest(http.MethodPost, "/api/track", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", chromeUA)
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, post(s.handler, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, post(s.handler, "203.0.113.2"))

	assert.Equal(t, http.StatusCreated, post(trusted, "203.0.113.3"))
	assert.Equal(t, http.StatusCreated, post(trusted, "203.0.113.4"))
}

func TestStats_UnknownCampaign(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodGet, "/api/tracking/stats?campaignId=winter", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPixelEvent(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/track", map[string]any{"campaignId": "spring", "report": humanReport()}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	humanClick := decodeData(t, rec)["clickId"]

	rec = s.do(t, http.MethodPost, "/api/track", map[string]any{"campaignId": "spring", "report": botReport()}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	botClick := decodeData(t, rec)["clickId"]

	rec = s.do(t, http.MethodPost, "/api/pixel-event", map[string]any{
		"campaignId": "spring", "clickId": humanClick, "eventName": "Lead",
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decodeData(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].(map[string]any)["success"])

	rec = s.do(t, http.MethodPost, "/api/pixel-event", map[string]any{
		"campaignId": "spring", "clickId": botClick, "eventName": "Lead",
	}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "BOT_TRAFFIC", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/pixel-event", map[string]any{
		"campaignId": "spring", "isBot": true,
	}, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/pixel-event", map[string]any{
		"campaignId": "spring", "clickId": "missing",
	}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGate_RefusesScriptedClients(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/pixel-event", map[string]any{"campaignId": "spring"}, false)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 10)
	s.do(t, http.MethodGet, "/health", nil, false)

	rec := s.do(t, http.MethodGet, "/metrics", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ghostlayer_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, 10)

	req := httptest.NewRequest(http.MethodOptions, "/api/track", nil)
	req.Header.Set("Origin", "https://landing.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
