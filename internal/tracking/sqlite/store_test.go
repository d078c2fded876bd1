package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghostlayer/server/internal/detector"
	"github.com/ghostlayer/server/internal/pixel"
	"github.com/ghostlayer/server/internal/tracking"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func click(id, campaign string, isBot bool, source string, at time.Duration) *tracking.Click {
	return &tracking.Click{
		ID:              id,
		CampaignID:      campaign,
		IsBot:           isBot,
		Confidence:      12,
		Reason:          detector.ReasonLegitimate,
		FingerprintHash: "fp-" + id,
		UserAgent:       "Mozilla/5.0",
		IPHash:          "a1b2c3d4",
		Browser:         "Chrome 121",
		OS:              "Windows",
		DeviceType:      "Desktop",
		UTM:             tracking.UTM{Source: source, Campaign: "spring"},
		ClickIDs:        pixel.ClickIDs{FBCLID: "fb-" + id},
		CreatedAt:       base.Add(at),
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, NewMigrator(s.db).Up(context.Background()))
}

func TestStore_ClickRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := click("c1", "spring", false, "facebook", 0)
	in.Duplicate = true
	in.Verified = true
	in.Referrer = "https://m.facebook.com/"
	require.NoError(t, s.SaveClick(ctx, in))

	out, err := s.GetClick(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStore_GetClickNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetClick(context.Background(), "missing")
	assert.ErrorIs(t, err, tracking.ErrClickNotFound)
}

func TestStore_DetectionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveClick(ctx, click("c1", "spring", true, "", 0)))

	in := &tracking.Detection{
		ClickID: "c1",
		Checks: map[string]detector.CheckResult{
			"webdriver": {IsBot: true, Reason: "WebDriver detected", Weight: 40},
			"mouse":     {IsBot: false, Reason: "Mouse movement detected", Weight: 0},
		},
		ScreenResolution:  "1920x1080",
		ColorDepth:        24,
		Timezone:          "Europe/Paris",
		Language:          "fr-FR",
		Platform:          "Win32",
		Cores:             8,
		Memory:            8,
		WebGLVendor:       "Google Inc.",
		WebGLRenderer:     "ANGLE",
		CanvasFingerprint: "data:image/png;base64,AAAA",
		AudioFingerprint:  "unavailable",
		InstalledFonts:    []string{"Arial", "Verdana"},
	}
	require.NoError(t, s.SaveDetection(ctx, in))

	out, err := s.GetDetection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStore_DetectionRequiresClick(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveDetection(context.Background(), &tracking.Detection{ClickID: "nope"})
	assert.Error(t, err)
}

func TestStore_RecentClicks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveClick(ctx, click("c1", "spring", false, "facebook", 0)))
	require.NoError(t, s.SaveClick(ctx, click("c2", "spring", true, "tiktok", time.Minute)))
	require.NoError(t, s.SaveClick(ctx, click("c3", "autumn", false, "google", 2*time.Minute)))

	recent, err := s.RecentClicks(ctx, "spring", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c2", recent[0].ID)
	assert.Equal(t, "c1", recent[1].ID)

	all, err := s.RecentClicks(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c3", all[0].ID)

	none, err := s.RecentClicks(ctx, "winter", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	dup := click("c3", "spring", false, "facebook", 2*time.Minute)
	dup.Duplicate = true
	mobile := click("c4", "spring", false, "", 3*time.Minute)
	mobile.DeviceType = "Mobile"

	for _, c := range []*tracking.Click{
		click("c1", "spring", false, "facebook", 0),
		click("c2", "spring", true, "tiktok", time.Minute),
		dup,
		mobile,
		click("c5", "autumn", true, "google", 4*time.Minute),
	} {
		require.NoError(t, s.SaveClick(ctx, c))
	}
	for i, e := range []tracking.PixelEvent{
		{Platform: pixel.PlatformMeta, Success: true},
		{Platform: pixel.PlatformMeta, Success: true},
		{Platform: pixel.PlatformTikTok, Success: false, Error: "boom"},
	} {
		e.ID = string(rune('a' + i))
		e.CampaignID = "spring"
		e.EventName = "PageView"
		e.CreatedAt = base
		require.NoError(t, s.SavePixelEvent(ctx, &e))
	}

	st, err := s.Stats(ctx, "spring")
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Total)
	assert.Equal(t, int64(1), st.Bots)
	assert.Equal(t, int64(3), st.Humans)
	assert.Equal(t, int64(1), st.Duplicates)
	assert.Equal(t, map[string]int64{"facebook": 2, "tiktok": 1, "direct": 1}, st.BySource)
	assert.Equal(t, map[string]int64{"spring": 4}, st.ByCampaign)
	assert.Equal(t, map[string]int64{"Desktop": 3, "Mobile": 1}, st.ByDevice)
	assert.Equal(t, map[string]int64{pixel.PlatformMeta: 2}, st.PixelEvents)

	all, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), all.Total)
	assert.Equal(t, int64(2), all.Bots)
}
