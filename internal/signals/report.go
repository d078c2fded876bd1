// Package signals turns what reaches the server, a collector report or a
// bare HTTP request, into detector environments.
package signals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ghostlayer/server/internal/detector"
)

// Limits applied by Validate.
const (
	MaxUserAgentLen = 2048
	MaxListLen      = 256
	MaxFontQueries  = 512
	MaxAudioBins    = 2048

	// MaxElapsedMs caps a reported page-view session at one week.
	MaxElapsedMs = int64(7 * 24 * time.Hour / time.Millisecond)
)

// Report is the JSON document a browser collector posts. Each capability
// block is a pointer: a missing block means the API does not exist, and a
// non-empty Error means it threw.
type Report struct {
	UserAgent          string            `json:"userAgent"`
	Referrer           string            `json:"referrer"`
	Navigator          NavigatorReport   `json:"navigator"`
	Screen             *ScreenReport     `json:"screen,omitempty"`
	Globals            []string          `json:"globals"`
	DocumentProperties []string          `json:"documentProperties"`
	Timezone           string            `json:"timezone"`
	TimezoneOffset     int               `json:"timezoneOffset"`
	IndexedDB          bool              `json:"indexedDB"`
	TouchSupport       bool              `json:"touchSupport"`
	Canvas             *CanvasReport     `json:"canvas,omitempty"`
	WebGL              *WebGLReport      `json:"webgl,omitempty"`
	LocalStorage       *StorageReport    `json:"localStorage,omitempty"`
	Fonts              *FontReport       `json:"fonts,omitempty"`
	Battery            *BatteryReport    `json:"battery,omitempty"`
	Connection         *ConnectionReport `json:"connection,omitempty"`
	Audio              *AudioReport      `json:"audio,omitempty"`
	Interaction        InteractionReport `json:"interaction"`
}

// NavigatorReport mirrors navigator.*. JSON null and absent keys decode to
// nil, which the detector treats as unreadable.
type NavigatorReport struct {
	Webdriver           bool     `json:"webdriver"`
	Language            string   `json:"language"`
	Languages           []string `json:"languages"`
	Platform            *string  `json:"platform"`
	Plugins             []string `json:"plugins"`
	MimeTypes           []string `json:"mimeTypes"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        float64  `json:"deviceMemory"`
	DoNotTrack          *string  `json:"doNotTrack"`
	CookieEnabled       bool     `json:"cookieEnabled"`
	SessionStorage      bool     `json:"sessionStorage"`
}

type ScreenReport struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"availWidth"`
	AvailHeight int     `json:"availHeight"`
	ColorDepth  int     `json:"colorDepth"`
	PixelRatio  float64 `json:"pixelRatio"`
}

// CanvasReport carries both exported drawings.
type CanvasReport struct {
	ProbeDataURL       string `json:"probeDataURL"`
	FingerprintDataURL string `json:"fingerprintDataURL"`
	Error              string `json:"error,omitempty"`
}

type WebGLReport struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
	Error    string `json:"error,omitempty"`
}

// StorageReport records whether a written value read back unchanged.
type StorageReport struct {
	RoundTrip bool   `json:"roundTrip"`
	Error     string `json:"error,omitempty"`
}

// FontReport maps each measured CSS font (see detector.FontQueries) to the
// rendered width of the test string.
type FontReport struct {
	Widths map[string]float64 `json:"widths"`
	Error  string             `json:"error,omitempty"`
}

// BatteryReport: a null chargingTime is what JSON.stringify makes of Infinity.
type BatteryReport struct {
	Level        float64  `json:"level"`
	Charging     bool     `json:"charging"`
	ChargingTime *float64 `json:"chargingTime"`
}

type ConnectionReport struct {
	Downlink      float64 `json:"downlink"`
	RTT           float64 `json:"rtt"`
	EffectiveType string  `json:"effectiveType"`
}

// AudioReport: null bins are -Infinity in the browser.
type AudioReport struct {
	Bins  []*float64 `json:"bins"`
	Error string     `json:"error,omitempty"`
}

// InteractionReport is the collector's view of the page-view session.
type InteractionReport struct {
	ElapsedMs      int64 `json:"elapsedMs"`
	MouseMovements int   `json:"mouseMovements"`
	TouchEvents    int   `json:"touchEvents"`
}

// ErrInvalidReport wraps every Validate failure.
var ErrInvalidReport = errors.New("invalid signal report")

// Validate rejects reports that are too large or internally impossible.
func (r *Report) Validate() error {
	switch {
	case r.UserAgent == "":
		return fmt.Errorf("%w: userAgent is required", ErrInvalidReport)
	case len(r.UserAgent) > MaxUserAgentLen:
		return fmt.Errorf("%w: userAgent longer than %d", ErrInvalidReport, MaxUserAgentLen)
	case r.Interaction.ElapsedMs < 0:
		return fmt.Errorf("%w: negative elapsedMs", ErrInvalidReport)
	case r.Interaction.ElapsedMs > MaxElapsedMs:
		return fmt.Errorf("%w: elapsedMs longer than %d", ErrInvalidReport, MaxElapsedMs)
	case r.Interaction.MouseMovements < 0 || r.Interaction.TouchEvents < 0:
		return fmt.Errorf("%w: negative interaction counters", ErrInvalidReport)
	}

	lists := map[string][]string{
		"globals":            r.Globals,
		"documentProperties": r.DocumentProperties,
		"languages":          r.Navigator.Languages,
		"plugins":            r.Navigator.Plugins,
		"mimeTypes":          r.Navigator.MimeTypes,
	}
	for name, l := range lists {
		if len(l) > MaxListLen {
			return fmt.Errorf("%w: %s has more than %d entries", ErrInvalidReport, name, MaxListLen)
		}
	}
	if r.Fonts != nil && len(r.Fonts.Widths) > MaxFontQueries {
		return fmt.Errorf("%w: too many font measurements", ErrInvalidReport)
	}
	if r.Audio != nil && len(r.Audio.Bins) > MaxAudioBins {
		return fmt.Errorf("%w: too many audio bins", ErrInvalidReport)
	}
	return nil
}

// Session rebuilds the page-view session as of receivedAt. The session
// clock is frozen there so time-based probes judge the moment of collection.
func (r *Report) Session(receivedAt time.Time) *detector.Session {
	ms := r.Interaction.ElapsedMs
	if ms > MaxElapsedMs {
		ms = MaxElapsedMs
	}
	start := receivedAt.Add(-time.Duration(ms) * time.Millisecond)
	s := detector.NewSession(start, func() time.Time { return receivedAt })
	s.AddMouseMovements(r.Interaction.MouseMovements)
	s.AddTouchEvents(r.Interaction.TouchEvents)
	return s
}

// Environment adapts the report to the detector.
func (r *Report) Environment() detector.Environment {
	return &reportEnv{r: r, globals: toSet(r.Globals), docProps: toSet(r.DocumentProperties)}
}

type reportEnv struct {
	r        *Report
	globals  map[string]struct{}
	docProps map[string]struct{}
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func (e *reportEnv) UserAgent() string { return e.r.UserAgent }

func (e *reportEnv) Navigator() detector.Navigator {
	n := e.r.Navigator
	return detector.Navigator{
		Webdriver:           n.Webdriver,
		Language:            n.Language,
		Languages:           n.Languages,
		Platform:            n.Platform,
		Plugins:             n.Plugins,
		MimeTypes:           n.MimeTypes,
		HardwareConcurrency: n.HardwareConcurrency,
		DeviceMemory:        n.DeviceMemory,
		DoNotTrack:          n.DoNotTrack,
		CookieEnabled:       n.CookieEnabled,
		SessionStorage:      n.SessionStorage,
	}
}

func (e *reportEnv) Screen() (detector.Screen, bool) {
	s := e.r.Screen
	if s == nil {
		return detector.Screen{}, false
	}
	return detector.Screen{
		Width:       s.Width,
		Height:      s.Height,
		AvailWidth:  s.AvailWidth,
		AvailHeight: s.AvailHeight,
		ColorDepth:  s.ColorDepth,
		PixelRatio:  s.PixelRatio,
	}, true
}

func (e *reportEnv) HasGlobal(name string) bool {
	_, ok := e.globals[name]
	return ok
}

func (e *reportEnv) HasDocumentProperty(name string) bool {
	_, ok := e.docProps[name]
	return ok
}

func (e *reportEnv) Referrer() string { return e.r.Referrer }

func (e *reportEnv) Timezone() (string, int) { return e.r.Timezone, e.r.TimezoneOffset }

func (e *reportEnv) HasIndexedDB() bool { return e.r.IndexedDB }

func (e *reportEnv) HasTouchSupport() bool { return e.r.TouchSupport }

func (e *reportEnv) CanvasDataURL(drawing detector.CanvasDrawing) (string, error) {
	c := e.r.Canvas
	if c == nil {
		return "", detector.ErrUnavailable
	}
	if c.Error != "" {
		return "", errors.New(c.Error)
	}
	if drawing == detector.CanvasFingerprint {
		return c.FingerprintDataURL, nil
	}
	return c.ProbeDataURL, nil
}

func (e *reportEnv) WebGLParameters() (detector.WebGLInfo, error) {
	g := e.r.WebGL
	if g == nil {
		return detector.WebGLInfo{}, detector.ErrUnavailable
	}
	if g.Error != "" {
		return detector.WebGLInfo{}, errors.New(g.Error)
	}
	return detector.WebGLInfo{Vendor: g.Vendor, Renderer: g.Renderer}, nil
}

// StorageRoundTrip replays the collector's observation for any key.
func (e *reportEnv) StorageRoundTrip(_, value string) (string, error) {
	s := e.r.LocalStorage
	if s == nil {
		return "", detector.ErrUnavailable
	}
	if s.Error != "" {
		return "", errors.New(s.Error)
	}
	if s.RoundTrip {
		return value, nil
	}
	return "", nil
}

func (e *reportEnv) MeasureText(font, _ string) (float64, error) {
	f := e.r.Fonts
	if f == nil {
		return 0, detector.ErrUnavailable
	}
	if f.Error != "" {
		return 0, errors.New(f.Error)
	}
	w, ok := f.Widths[font]
	if !ok {
		return 0, fmt.Errorf("no measurement for %q", font)
	}
	return w, nil
}

func (e *reportEnv) Battery(ctx context.Context) (detector.Battery, error) {
	if err := ctx.Err(); err != nil {
		return detector.Battery{}, err
	}
	b := e.r.Battery
	if b == nil {
		return detector.Battery{}, detector.ErrUnavailable
	}
	chargingTime := math.Inf(1)
	if b.ChargingTime != nil {
		chargingTime = *b.ChargingTime
	}
	return detector.Battery{Level: b.Level, Charging: b.Charging, ChargingTime: chargingTime}, nil
}

func (e *reportEnv) ConnectionInfo() (detector.Connection, bool) {
	c := e.r.Connection
	if c == nil {
		return detector.Connection{}, false
	}
	return detector.Connection{Downlink: c.Downlink, RTT: c.RTT, EffectiveType: c.EffectiveType}, true
}

func (e *reportEnv) AudioFrequencyData() ([]float64, error) {
	a := e.r.Audio
	if a == nil {
		return nil, detector.ErrUnavailable
	}
	if a.Error != "" {
		return nil, errors.New(a.Error)
	}
	bins := make([]float64, len(a.Bins))
	for i, b := range a.Bins {
		if b == nil {
			bins[i] = math.Inf(-1)
			continue
		}
		bins[i] = *b
	}
	return bins, nil
}
