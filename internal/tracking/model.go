// Package tracking records campaign clicks with their detection evidence
// and reports human conversions to ad platforms.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avct/uasurfer"

	"github.com/ghostlayer/server/internal/detector"
	"github.com/ghostlayer/server/internal/pixel"
)

var ErrClickNotFound = errors.New("click not found")

// UTM holds the utm_* landing-page parameters.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Content  string `json:"content,omitempty"`
	Term     string `json:"term,omitempty"`
}

// Click is one tracked landing-page visit.
type Click struct {
	ID              string         `json:"id"`
	CampaignID      string         `json:"campaignId"`
	IsBot           bool           `json:"isBot"`
	Confidence      int            `json:"confidence"`
	Reason          string         `json:"reason"`
	FingerprintHash string         `json:"fingerprintHash"`
	UserAgent       string         `json:"userAgent"`
	IPHash          string         `json:"ipHash"`
	Browser         string         `json:"browser"`
	OS              string         `json:"os"`
	DeviceType      string         `json:"deviceType"`
	UTM             UTM            `json:"utm"`
	Referrer        string         `json:"referrer,omitempty"`
	ClickIDs        pixel.ClickIDs `json:"clickIds"`
	Duplicate       bool           `json:"duplicate"`
	Verified        bool           `json:"verified"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Detection is the evidence behind a click's verdict: every probe result
// plus the fingerprint attributes worth aggregating.
type Detection struct {
	ClickID           string
	Checks            map[string]detector.CheckResult
	ScreenResolution  string
	ColorDepth        int
	Timezone          string
	Language          string
	Platform          string
	Cores             int
	Memory            float64
	WebGLVendor       string
	WebGLRenderer     string
	CanvasFingerprint string
	AudioFingerprint  string
	InstalledFonts    []string
}

// NewDetection extracts the stored evidence from a detection result.
func NewDetection(clickID string, res *detector.Result) *Detection {
	fp := res.Fingerprint
	return &Detection{
		ClickID:           clickID,
		Checks:            res.Checks,
		ScreenResolution:  fp.ScreenResolution,
		ColorDepth:        fp.ColorDepth,
		Timezone:          fp.Timezone,
		Language:          fp.Language,
		Platform:          fp.Platform,
		Cores:             fp.Cores,
		Memory:            fp.Memory,
		WebGLVendor:       fp.WebGLVendor,
		WebGLRenderer:     fp.WebGLRenderer,
		CanvasFingerprint: fp.CanvasSignature(),
		AudioFingerprint:  fp.AudioFingerprint,
		InstalledFonts:    fp.InstalledFonts,
	}
}

// PixelEvent is one delivery attempt to one ad platform.
type PixelEvent struct {
	ID         string    `json:"id"`
	ClickID    string    `json:"clickId,omitempty"`
	CampaignID string    `json:"campaignId"`
	Platform   string    `json:"platform"`
	EventName  string    `json:"eventName"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Stats aggregates the clicks of one campaign, or of all campaigns when
// CampaignID is empty.
type Stats struct {
	CampaignID  string           `json:"campaignId,omitempty"`
	Total       int64            `json:"total"`
	Bots        int64            `json:"bots"`
	Humans      int64            `json:"humans"`
	Duplicates  int64            `json:"duplicates"`
	BySource    map[string]int64 `json:"bySource"`
	ByCampaign  map[string]int64 `json:"byCampaign"`
	ByDevice    map[string]int64 `json:"byDevice"`
	PixelEvents map[string]int64 `json:"pixelEvents"`
}

// Store persists clicks, their detections and pixel deliveries.
type Store interface {
	SaveClick(ctx context.Context, c *Click) error
	SaveDetection(ctx context.Context, d *Detection) error
	GetClick(ctx context.Context, id string) (*Click, error)
	SavePixelEvent(ctx context.Context, e *PixelEvent) error
	Stats(ctx context.Context, campaignID string) (*Stats, error)
	RecentClicks(ctx context.Context, campaignID string, limit int) ([]Click, error)
}

// UserAgentInfo is the coarse browser, OS and device class of a user agent.
type UserAgentInfo struct {
	Browser    string
	OS         string
	DeviceType string
}

// ParseUserAgent classifies ua for analytics. Unknown parts are "Unknown".
func ParseUserAgent(ua string) UserAgentInfo {
	parsed := uasurfer.Parse(ua)

	device := "Unknown"
	switch parsed.DeviceType {
	case uasurfer.DeviceComputer:
		device = "Desktop"
	case uasurfer.DeviceTablet:
		device = "Tablet"
	case uasurfer.DevicePhone:
		device = "Mobile"
	case uasurfer.DeviceConsole:
		device = "Console"
	case uasurfer.DeviceWearable:
		device = "Wearable"
	case uasurfer.DeviceTV:
		device = "TV"
	}

	info := UserAgentInfo{Browser: "Unknown", OS: "Unknown", DeviceType: device}
	if parsed.Browser.Name != uasurfer.BrowserUnknown {
		info.Browser = fmt.Sprintf("%s %d", parsed.Browser.Name.StringTrimPrefix(), parsed.Browser.Version.Major)
	}
	if parsed.OS.Name != uasurfer.OSUnknown {
		info.OS = parsed.OS.Name.StringTrimPrefix()
	}
	return info
}
