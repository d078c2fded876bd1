package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// probe is one independent signal check. onPanic is returned when run
// panics; it encodes whether absence of the API is itself evidence.
type probe struct {
	name    string
	run     func(ctx context.Context, d *Detector, env Environment, s *Session) CheckResult
	onPanic CheckResult
}

func (p probe) check(ctx context.Context, d *Detector, env Environment, s *Session) (res CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("probe", p.name).Debugf("probe panicked: %v", r)
			res = p.onPanic
		}
	}()
	return p.run(ctx, d, env, s)
}

var pass = CheckResult{}

// probes in declaration order. Order matters for primary reason selection.
var probes = []probe{
	{name: "userAgent", run: checkUserAgent},
	{name: "referrer", run: checkReferrer},
	{name: "headless", run: checkHeadless},
	{name: "webdriver", run: checkWebDriver},
	{name: "canvas", run: checkCanvas, onPanic: CheckResult{IsBot: true, Reason: "Canvas error", Weight: 20}},
	{name: "webgl", run: checkWebGL, onPanic: CheckResult{IsBot: true, Reason: "WebGL error", Weight: 15}},
	{name: "plugins", run: checkPlugins, onPanic: CheckResult{IsBot: true, Reason: "No browser plugins detected", Weight: 15}},
	{name: "localStorage", run: checkLocalStorage},
	{name: "indexedDB", run: checkIndexedDB, onPanic: CheckResult{IsBot: true, Reason: "IndexedDB unavailable", Weight: 10}},
	{name: "fonts", run: checkFonts},
	{name: "timing", run: checkTiming},
	{name: "mouse", run: checkMouse},
	{name: "touch", run: checkTouch},
	{name: "battery", run: checkBattery},
	{name: "connection", run: checkConnection},
}

// ProbeNames lists the probe names in declaration order.
func ProbeNames() []string {
	names := make([]string, len(probes))
	for i, p := range probes {
		names[i] = p.name
	}
	return names
}

func checkUserAgent(_ context.Context, d *Detector, env Environment, _ *Session) CheckResult {
	ua := env.UserAgent()
	match := firstMatch(strings.ToLower(ua), d.patterns.UserAgents)
	if match == "" {
		return CheckResult{Details: map[string]interface{}{"userAgent": ua}}
	}
	return CheckResult{
		IsBot:   true,
		Reason:  "Bot user agent detected: " + match,
		Weight:  35,
		Details: map[string]interface{}{"userAgent": ua},
	}
}

func checkReferrer(_ context.Context, d *Detector, env Environment, _ *Session) CheckResult {
	ref := env.Referrer()
	details := map[string]interface{}{"referrer": ref}
	if firstMatch(strings.ToLower(ref), d.patterns.Referrers) == "" {
		return CheckResult{Details: details}
	}
	return CheckResult{IsBot: true, Reason: "Ad platform referrer detected", Weight: 20, Details: details}
}

func checkHeadless(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	ua := strings.ToLower(env.UserAgent())
	headless := strings.Contains(ua, "headless") ||
		env.Navigator().Webdriver ||
		!env.HasGlobal("chrome")
	for _, g := range automationGlobals {
		headless = headless || env.HasGlobal(g)
	}
	if !headless {
		return pass
	}
	return CheckResult{IsBot: true, Reason: "Headless browser detected", Weight: 35}
}

func checkWebDriver(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	found := env.Navigator().Webdriver
	for _, p := range webdriverDocumentMarkers {
		found = found || env.HasDocumentProperty(p)
	}
	if !found {
		return pass
	}
	return CheckResult{IsBot: true, Reason: "WebDriver detected", Weight: 40}
}

func checkCanvas(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	dataURL, err := env.CanvasDataURL(CanvasProbe)
	switch {
	case errors.Is(err, ErrUnavailable):
		return CheckResult{IsBot: true, Reason: "Canvas context unavailable", Weight: 20}
	case err != nil:
		return CheckResult{IsBot: true, Reason: "Canvas error", Weight: 20}
	}

	details := map[string]interface{}{"canvasLength": len(dataURL)}
	if strings.Contains(dataURL, "data:image/png") && len(dataURL) >= MinCanvasDataURLLen {
		return CheckResult{Details: details}
	}
	return CheckResult{IsBot: true, Reason: "Canvas fingerprinting blocked", Weight: 25, Details: details}
}

func checkWebGL(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	info, err := env.WebGLParameters()
	switch {
	case errors.Is(err, ErrUnavailable):
		return CheckResult{IsBot: true, Reason: "WebGL unavailable", Weight: 25}
	case err != nil:
		return CheckResult{IsBot: true, Reason: "WebGL error", Weight: 15}
	}

	details := map[string]interface{}{"vendor": info.Vendor, "renderer": info.Renderer}
	if !isSoftwareRenderer(info) {
		return CheckResult{Details: details}
	}
	return CheckResult{IsBot: true, Reason: "Suspicious WebGL renderer", Weight: 20, Details: details}
}

// isSoftwareRenderer matches Mesa, SwiftShader and llvmpipe signatures, or missing strings.
func isSoftwareRenderer(info WebGLInfo) bool {
	return info.Vendor == "" ||
		info.Renderer == "" ||
		info.Vendor == "Brian Paul" ||
		strings.Contains(info.Renderer, "SwiftShader") ||
		strings.Contains(info.Renderer, "llvmpipe")
}

func checkPlugins(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	count := len(env.Navigator().Plugins)
	details := map[string]interface{}{"pluginCount": count}
	if count > 0 {
		return CheckResult{Details: details}
	}
	return CheckResult{IsBot: true, Reason: "No browser plugins detected", Weight: 15, Details: details}
}

func checkLocalStorage(_ context.Context, d *Detector, env Environment, _ *Session) CheckResult {
	ok, err := storageWorks(env, d.now())
	if err != nil {
		return CheckResult{Details: map[string]interface{}{"error": err.Error()}}
	}
	if ok {
		return pass
	}
	return CheckResult{IsBot: true, Reason: "LocalStorage blocked", Weight: 15}
}

// storageWorks round-trips a throwaway key. The error is non-nil when
// storage is missing or throws.
func storageWorks(env Environment, now time.Time) (bool, error) {
	key := fmt.Sprintf("__bot_test_%d", now.UnixMilli())
	v, err := env.StorageRoundTrip(key, "1")
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

func checkIndexedDB(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	if env.HasIndexedDB() {
		return pass
	}
	return CheckResult{IsBot: true, Reason: "IndexedDB unavailable", Weight: 10}
}

func checkFonts(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	installed, err := detectFonts(env)
	if err != nil {
		return pass
	}

	details := map[string]interface{}{"installedFonts": installed}
	if len(installed) >= MinInstalledFonts {
		return CheckResult{Details: details}
	}
	return CheckResult{IsBot: true, Reason: "Insufficient fonts detected", Weight: 15, Details: details}
}

// detectFonts uses the width-delta technique: a candidate font is installed
// when text rendered in it differs by more than 1px from at least one
// generic fallback family.
func detectFonts(env Environment) ([]string, error) {
	installed := make([]string, 0, len(fontCandidates))
	for _, font := range fontCandidates {
		for _, base := range fontBaseFamilies {
			baseWidth, err := env.MeasureText(BaseFontQuery(base), fontTestString)
			if err != nil {
				return nil, err
			}
			testWidth, err := env.MeasureText(CandidateFontQuery(font, base), fontTestString)
			if err != nil {
				return nil, err
			}
			if math.Abs(testWidth-baseWidth) > 1 {
				installed = append(installed, font)
				break
			}
		}
	}
	return installed, nil
}

// BaseFontQuery is the CSS font used to measure a generic family.
func BaseFontQuery(base string) string {
	return "72px " + base
}

// CandidateFontQuery is the CSS font used to measure a candidate with a fallback.
func CandidateFontQuery(font, base string) string {
	return fmt.Sprintf("72px '%s', %s", font, base)
}

// FontQueries lists every CSS font the font probe measures, so that a
// collector can report widths for exactly these.
func FontQueries() []string {
	queries := make([]string, 0, len(fontBaseFamilies)*(len(fontCandidates)+1))
	for _, base := range fontBaseFamilies {
		queries = append(queries, BaseFontQuery(base))
	}
	for _, font := range fontCandidates {
		for _, base := range fontBaseFamilies {
			queries = append(queries, CandidateFontQuery(font, base))
		}
	}
	return queries
}

// FontTestString is the text the font probe measures.
func FontTestString() string { return fontTestString }

func checkTiming(_ context.Context, _ *Detector, _ Environment, s *Session) CheckResult {
	elapsed := s.Elapsed().Milliseconds()
	details := map[string]interface{}{"timeOnPage": elapsed}
	if elapsed >= FastPageThreshold {
		return CheckResult{Details: details}
	}
	return CheckResult{IsBot: true, Reason: "Page loaded too quickly", Weight: 25, Details: details}
}

func checkMouse(_ context.Context, _ *Detector, _ Environment, s *Session) CheckResult {
	moves := s.MouseMovements()
	elapsed := s.Elapsed().Milliseconds()
	details := map[string]interface{}{"mouseMovements": moves, "timeOnPage": elapsed}
	if moves > 0 || elapsed <= MouseIdleThreshold {
		return CheckResult{Details: details}
	}
	return CheckResult{IsBot: true, Reason: "No mouse movement detected", Weight: 10, Details: details}
}

var mobileUA = regexp.MustCompile(`(?i)Mobile|Android|iPhone|iPad`)

func checkTouch(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	mobile := mobileUA.MatchString(env.UserAgent())
	touch := env.HasTouchSupport()
	details := map[string]interface{}{"isMobile": mobile, "hasTouchSupport": touch}
	if !mobile || touch {
		return CheckResult{Details: details}
	}
	return CheckResult{IsBot: true, Reason: "Mobile device without touch support", Weight: 20, Details: details}
}

func checkBattery(ctx context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	b, err := env.Battery(ctx)
	if err != nil {
		return pass
	}

	details := map[string]interface{}{"level": b.Level, "charging": b.Charging}
	if b.Level == 1 && !b.Charging && math.IsInf(b.ChargingTime, 1) {
		return CheckResult{IsBot: true, Reason: "Suspicious battery status", Weight: 10, Details: details}
	}
	return CheckResult{Details: details}
}

func checkConnection(_ context.Context, _ *Detector, env Environment, _ *Session) CheckResult {
	conn, ok := env.ConnectionInfo()
	if !ok {
		return pass
	}

	details := map[string]interface{}{
		"downlink":      conn.Downlink,
		"rtt":           conn.RTT,
		"effectiveType": conn.EffectiveType,
	}
	if conn.Downlink == 10 && conn.RTT == 0 {
		return CheckResult{IsBot: true, Reason: "Suspicious network connection", Weight: 10, Details: details}
	}
	return CheckResult{Details: details}
}
