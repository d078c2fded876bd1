package detector

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// HashInput is the ordered tuple the fingerprint hash is computed over.
type HashInput struct {
	UserAgent      string
	Language       string
	ColorDepth     int
	ScreenWidth    int
	ScreenHeight   int
	TimezoneOffset int
	Platform       string
	Cores          int
}

func (in HashInput) String() string {
	return strings.Join([]string{
		in.UserAgent,
		in.Language,
		strconv.Itoa(in.ColorDepth),
		strconv.Itoa(in.ScreenWidth),
		strconv.Itoa(in.ScreenHeight),
		strconv.Itoa(in.TimezoneOffset),
		in.Platform,
		strconv.Itoa(in.Cores),
	}, "|")
}

// Hash is a 31-multiplier rolling hash over the UTF-16 code units of the
// pipe-joined input, wrapped to int32 at each step and rendered as the
// lower-case hex of its absolute value. It matches the value a browser
// collector computes for the same readings. Not collision resistant.
func Hash(in HashInput) string {
	var h int32
	for _, c := range utf16.Encode([]rune(in.String())) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 16)
}

// GenerateFingerprint collects the device fingerprint. Every reading
// degrades to a neutral value; it never fails.
func (d *Detector) GenerateFingerprint(_ context.Context, env Environment) Fingerprint {
	var (
		ua       string
		nav      Navigator
		screen   Screen
		tzName   string
		tzOffset int
	)
	safely(d, "userAgent", func() { ua = env.UserAgent() })
	safely(d, "navigator", func() { nav = env.Navigator() })
	safely(d, "screen", func() { screen, _ = env.Screen() })
	safely(d, "timezone", func() { tzName, tzOffset = env.Timezone() })

	platform := ""
	if nav.Platform != nil {
		platform = *nav.Platform
	}

	fp := Fingerprint{
		Hash: Hash(HashInput{
			UserAgent:      ua,
			Language:       nav.Language,
			ColorDepth:     screen.ColorDepth,
			ScreenWidth:    screen.Width,
			ScreenHeight:   screen.Height,
			TimezoneOffset: tzOffset,
			Platform:       platform,
			Cores:          nav.HardwareConcurrency,
		}),
		UserAgent:                 ua,
		Language:                  nav.Language,
		Languages:                 nonNil(nav.Languages),
		Timezone:                  tzName,
		TimezoneOffset:            tzOffset,
		ScreenResolution:          fmt.Sprintf("%dx%d", screen.Width, screen.Height),
		AvailableScreenResolution: fmt.Sprintf("%dx%d", screen.AvailWidth, screen.AvailHeight),
		ColorDepth:                screen.ColorDepth,
		PixelRatio:                screen.PixelRatio,
		Platform:                  platform,
		Cores:                     nav.HardwareConcurrency,
		Memory:                    nav.DeviceMemory,
		AudioFingerprint:          AudioUnavailable,
		WebGLVendor:               WebGLUnknown,
		WebGLRenderer:             WebGLUnknown,
		SessionStorage:            nav.SessionStorage,
		Cookies:                   nav.CookieEnabled,
		DoNotTrack:                nav.DoNotTrack,
		Plugins:                   nonNil(nav.Plugins),
		MimeTypes:                 nonNil(nav.MimeTypes),
		InstalledFonts:            []string{},
	}

	safely(d, "canvas", func() {
		if url, err := env.CanvasDataURL(CanvasFingerprint); err == nil {
			fp.CanvasFingerprint = url
		}
	})
	safely(d, "audio", func() {
		if bins, err := env.AudioFrequencyData(); err == nil {
			fp.AudioFingerprint = formatAudioBins(bins)
		}
	})
	safely(d, "webgl", func() {
		if info, err := env.WebGLParameters(); err == nil {
			fp.WebGLVendor = orUnknown(info.Vendor)
			fp.WebGLRenderer = orUnknown(info.Renderer)
		}
	})
	safely(d, "fonts", func() {
		if fonts, err := detectFonts(env); err == nil {
			fp.InstalledFonts = fonts
		}
	})
	safely(d, "storage", func() {
		ok, err := storageWorks(env, d.now())
		fp.LocalStorage = err == nil && ok
	})
	safely(d, "indexedDB", func() { fp.IndexedDB = env.HasIndexedDB() })

	return fp
}

func safely(d *Detector, reading string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("reading", reading).Debugf("fingerprint reading panicked: %v", r)
		}
	}()
	fn()
}

// formatAudioBins joins the first bins the way a browser stringifies a
// Float32Array: -Inf renders as "-Infinity".
func formatAudioBins(bins []float64) string {
	if len(bins) > AudioFingerprintBins {
		bins = bins[:AudioFingerprintBins]
	}
	parts := make([]string, len(bins))
	for i, b := range bins {
		switch {
		case math.IsInf(b, -1):
			parts[i] = "-Infinity"
		case math.IsInf(b, 1):
			parts[i] = "Infinity"
		case math.IsNaN(b):
			parts[i] = "NaN"
		default:
			parts[i] = strconv.FormatFloat(b, 'f', -1, 64)
		}
	}
	return strings.Join(parts, ",")
}

func orUnknown(s string) string {
	if s == "" {
		return WebGLUnknown
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
