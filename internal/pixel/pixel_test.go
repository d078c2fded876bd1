package pixel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostlayer/server/internal/campaign"
	"github.com/ghostlayer/server/internal/config"
	"github.com/ghostlayer/server/internal/metrics"
)

var fullCampaign = campaign.Campaign{
	ID:                    "spring",
	MetaPixelID:           "111",
	MetaAccessToken:       "meta-token",
	TikTokPixelID:         "TT1",
	TikTokAccessToken:     "tt-token",
	GoogleAdsID:           "AW-1",
	GoogleConversionLabel: "label",
}

type recorded struct {
	path    string
	headers http.Header
	body    map[string]interface{}
}

type platformServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	status   map[string]int
	tiktok   string
}

func newPlatformServer(t *testing.T) *platformServer {
	ps := &platformServer{status: map[string]int{}, tiktok: `{"code":0,"message":"OK"}`}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		ps.mu.Lock()
		ps.requests = append(ps.requests, recorded{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		status, ok := ps.status[r.URL.Path]
		ps.mu.Unlock()
		if !ok {
			status = http.StatusOK
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		switch {
		case r.URL.Path == "/tiktok/event/track/":
			_, _ = w.Write([]byte(ps.tiktok))
		case status >= 400:
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
		default:
			_, _ = w.Write([]byte(`{"events_received":1}`))
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *platformServer) byPath(path string) *recorded {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i := range ps.requests {
		if ps.requests[i].path == path {
			return &ps.requests[i]
		}
	}
	return nil
}

func (ps *platformServer) config() config.PixelConfig {
	return config.PixelConfig{
		Timeout:         time.Second,
		BreakerFailures: 2,
		BreakerCooldown: time.Minute,
		MetaBaseURL:     ps.URL + "/meta",
		TikTokBaseURL:   ps.URL + "/tiktok",
		GoogleBaseURL:   ps.URL + "/google",
	}
}

func sampleEvent() Event {
	return BuildEvent(EventInput{
		EventName:       "Lead",
		At:              time.Unix(1700000000, 0),
		ClientIP:        "203.0.113.9",
		UserAgent:       "Mozilla/5.0",
		FingerprintHash: "d84d0eb",
		ClickIDs:        ClickIDs{FBCLID: "abc"},
	})
}

func TestBuildEvent(t *testing.T) {
	e := sampleEvent()

	assert.Equal(t, "Lead", e.EventName)
	assert.Equal(t, int64(1700000000), e.EventTime)
	assert.Equal(t, "fb.1.1700000000000.abc", e.UserData.FBC)
	assert.Equal(t, "d84d0eb", e.UserData.ExternalID)

	assert.Equal(t, "PageView", BuildEvent(EventInput{At: time.Now()}).EventName)
	assert.Empty(t, BuildEvent(EventInput{At: time.Now()}).UserData.FBC)
}

func TestDispatch_AllPlatforms(t *testing.T) {
	ps := newPlatformServer(t)
	m := metrics.New()
	d := FromConfig(ps.config(), m, nil)

	results, err := d.Dispatch(context.Background(), fullCampaign, sampleEvent(), false)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success, r.Platform)
	}
	assert.Equal(t, []string{PlatformMeta, PlatformTikTok, PlatformGoogle},
		[]string{results[0].Platform, results[1].Platform, results[2].Platform})

	meta := ps.byPath("/meta/111/events")
	require.NotNil(t, meta)
	assert.Equal(t, "meta-token", meta.body["access_token"])
	data := meta.body["data"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "website", data["action_source"])
	assert.Equal(t, "Lead", data["event_name"])

	tt := ps.byPath("/tiktok/event/track/")
	require.NotNil(t, tt)
	assert.Equal(t, "tt-token", tt.headers.Get("Access-Token"))
	assert.Equal(t, "TT1", tt.body["pixel_code"])

	g := ps.byPath("/google/AW-1/")
	require.NotNil(t, g)
	assert.Equal(t, "label", g.body["conversion_label"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PixelEvents.WithLabelValues(PlatformMeta, "sent")))
}

func TestDispatch_BotIsRefused(t *testing.T) {
	ps := newPlatformServer(t)
	d := FromConfig(ps.config(), nil, nil)

	results, err := d.Dispatch(context.Background(), fullCampaign, sampleEvent(), true)
	assert.ErrorIs(t, err, ErrBotTraffic)
	assert.Nil(t, results)
	assert.Empty(t, ps.requests)
}

func TestDispatch_SkipsUnconfiguredPlatforms(t *testing.T) {
	ps := newPlatformServer(t)
	d := FromConfig(ps.config(), nil, nil)

	c := campaign.Campaign{ID: "meta-only", MetaPixelID: "111", MetaAccessToken: "tok"}
	results, err := d.Dispatch(context.Background(), c, sampleEvent(), false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, PlatformMeta, results[0].Platform)
}

func TestDispatch_OneFailureDoesNotFailOthers(t *testing.T) {
	ps := newPlatformServer(t)
	ps.status["/meta/111/events"] = http.StatusBadRequest
	ps.tiktok = `{"code":40001,"message":"invalid pixel"}`
	m := metrics.New()
	d := FromConfig(ps.config(), m, nil)

	results, err := d.Dispatch(context.Background(), fullCampaign, sampleEvent(), false)
	require.NoError(t, err)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "Invalid OAuth access token")
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "invalid pixel")
	assert.True(t, results[2].Success)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PixelEvents.WithLabelValues(PlatformMeta, "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PixelEvents.WithLabelValues(PlatformGoogle, "sent")))
}

func TestDispatch_BreakerOpensAfterFailures(t *testing.T) {
	ps := newPlatformServer(t)
	ps.status["/google/AW-1/"] = http.StatusInternalServerError
	d := FromConfig(ps.config(), nil, nil)

	c := campaign.Campaign{ID: "g", GoogleAdsID: "AW-1", GoogleConversionLabel: "label"}
	for i := 0; i < 2; i++ {
		results, err := d.Dispatch(context.Background(), c, sampleEvent(), false)
		require.NoError(t, err)
		assert.False(t, results[0].Success)
	}
	require.Len(t, ps.requests, 2)

	results, err := d.Dispatch(context.Background(), c, sampleEvent(), false)
	require.NoError(t, err)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "circuit breaker is open")
	assert.Len(t, ps.requests, 2)
}

func TestPlatformError(t *testing.T) {
	r := &GoogleReporter{BaseURL: "http://127.0.0.1:1", Client: &http.Client{Timeout: 100 * time.Millisecond}}
	err := r.Send(context.Background(), fullCampaign, sampleEvent())
	require.Error(t, err)

	var pe *PlatformError
	assert.False(t, errors.As(err, &pe))
}
