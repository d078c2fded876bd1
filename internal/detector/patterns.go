package detector

import "strings"

// Scoring constants of the full detector.
const (
	// ScoreNormalizer is the triggered-weight sum that maps to 100 confidence.
	ScoreNormalizer = 300
	// DecisionThreshold is the confidence a result must exceed to be a bot.
	DecisionThreshold = 40
	// SalientWeight is the weight a probe must exceed for its reason to become the primary reason.
	SalientWeight = 15

	ReasonMultipleSignals = "Multiple suspicious signals"
	ReasonLegitimate      = "Appears legitimate"
)

// Rule constants of the quick pre-check.
const (
	// QuickSuspicionQuorum is how many critical suspicious features must coincide.
	QuickSuspicionQuorum = 3
	// ShortUserAgentLen is the length below which a user agent counts as suspicious.
	ShortUserAgentLen = 50
	// LegacyDefaultUserAgent is the bare default some HTTP stacks still send.
	LegacyDefaultUserAgent = "Mozilla/5.0"
)

// Probe thresholds.
const (
	MinInstalledFonts    = 3
	MinCanvasDataURLLen  = 100
	FastPageThreshold    = 50 // milliseconds
	MouseIdleThreshold   = 2000
	AudioFingerprintBins = 30
	CanvasSignatureLen   = 100

	AudioUnavailable = "unavailable"
	WebGLUnknown     = "N/A"
)

// Patterns are the substring lists matched against lower-cased user agents and referrers.
type Patterns struct {
	// Critical is the short list consulted by the quick pre-check.
	Critical []string
	// UserAgents is the extended list consulted by the userAgent probe.
	UserAgents []string
	// Referrers are ad-platform internal or review domains.
	Referrers []string
}

// DefaultPatterns returns a copy of the built-in pattern lists.
func DefaultPatterns() Patterns {
	return Patterns{
		Critical:   append([]string(nil), criticalUserAgents...),
		UserAgents: append([]string(nil), extendedUserAgents...),
		Referrers:  append([]string(nil), adPlatformReferrers...),
	}
}

// Merge appends extra tokens to p, lower-casing them and dropping duplicates.
func (p Patterns) Merge(extra Patterns) Patterns {
	return Patterns{
		Critical:   mergeTokens(p.Critical, extra.Critical),
		UserAgents: mergeTokens(p.UserAgents, extra.UserAgents),
		Referrers:  mergeTokens(p.Referrers, extra.Referrers),
	}
}

func mergeTokens(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, t := range list {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// firstMatch returns the first token contained in s, or "".
func firstMatch(s string, tokens []string) string {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return t
		}
	}
	return ""
}

var criticalUserAgents = []string{
	// generic crawlers and clients
	"bot", "crawler", "spider", "scraper", "curl", "wget", "python", "java/",
	"apache-httpclient", "okhttp",
	// TikTok
	"bytespider", "tiktokbot", "ttbot", "bytedancebot", "tt-ads-bot", "tt_spider",
	// Meta
	"facebookexternalhit", "facebookcatalog", "facebookbot", "fb_iab/fb4a", "fbav/",
	"meta-externalagent",
	// Google
	"googlebot", "adsbot-google", "mediapartners-google", "google-adwords-instant",
	"google-site-verification",
	// other search and ad crawlers
	"bingbot", "slurp", "duckduckbot", "baiduspider", "yandexbot",
	// headless and automation
	"headlesschrome", "phantomjs", "selenium", "puppeteer", "playwright", "cypress",
	"nightmare", "casperjs", "zombie", "slimerjs",
	// scrapers and HTTP libraries
	"scrapy", "beautifulsoup", "mechanize", "httpclient", "python-requests",
	"node-fetch", "axios/", "got/",
	// testing and monitoring
	"prerender", "lighthouse", "pagespeed", "gtmetrix", "pingdom", "uptimerobot",
	// security scanners
	"nmap", "nikto", "nessus", "openvas", "qualys", "burp", "zap", "acunetix",
}

var extendedUserAgents = []string{
	"bot", "crawler", "spider", "scraper",
	"tiktok", "bytedance", "tt_webview", "tt_ads", "douyin",
	"facebookexternalhit", "fbbot", "fban", "fbav",
	"googlebot", "adsbot", "bingbot", "slurp",
	"curl", "wget", "scrapy", "python-requests",
	"headlesschrome", "phantomjs", "selenium", "puppeteer", "playwright", "webdriver", "automation",
	"bytespider", "facebookcatalog", "instagram", "whatsapp",
	"mediapartners-google", "google-adwords", "google-structured-data",
	"java", "apache-httpclient", "okhttp", "cypress",
	"prerender", "lighthouse", "pagespeed", "gtmetrix", "pingdom", "uptimerobot",
	"tiktokbot", "ttbot", "bytedancebot", "tt-ads-bot", "tiktok-ads", "tt_spider",
	"fb_iab", "fbios", "fbandroid", "fb4a", "fbsv", "meta-externalagent",
	"facebookplatform", "fb-messenger", "instagrambot", "whatsappbot",
	"adsbot-google", "google-ads-bot", "google-adwords-instant", "google-site-verification",
	"linkedinbot", "twitterbot", "pinterestbot", "snapchat",
	"casperjs", "zombie", "slimerjs",
	"newrelic", "datadog", "dynatrace",
	"axios", "node-fetch", "got", "superagent", "restsharp",
	"nmap", "nikto", "nessus", "openvas", "qualys", "burp", "zap", "acunetix",
	"monitor", "check", "test", "scan", "probe", "validator", "analyzer",
}

var adPlatformReferrers = []string{
	"ads.tiktok", "tiktok.com/ads", "business.tiktok",
	"facebook.com/ads", "facebook.com/tr", "business.facebook",
	"google.com/ads", "googleadservices", "doubleclick.net", "adservice",
	"googleads", "googlesyndication", "adwords",
}

// Automation markers injected into window by headless drivers.
var automationGlobals = []string{"__nightmare", "_phantom", "callPhantom"}

// quickAutomationGlobals adds the selenium marker the quick pre-check reads from window.
var quickAutomationGlobals = []string{"__nightmare", "_phantom", "callPhantom", "__selenium_unwrapped"}

// quickDocumentMarkers are the document properties read by the quick pre-check.
var quickDocumentMarkers = []string{
	"__webdriver_evaluate",
	"$cdc_asdjflasutopfhvcZLmcfl_",
	"__webdriver_script_fn",
	"__selenium_evaluate",
	"__fxdriver_evaluate",
	"__driver_unwrapped",
	"__webdriver_unwrapped",
	"__fxdriver_unwrapped",
}

// webdriverDocumentMarkers are the document properties read by the webdriver probe.
var webdriverDocumentMarkers = []string{
	"__webdriver_evaluate",
	"$cdc_asdjflasutopfhvcZLmcfl_",
	"__selenium_unwrapped",
	"__webdriver_script_fn",
	"__selenium_evaluate",
	"__fxdriver_evaluate",
	"__driver_unwrapped",
	"__webdriver_unwrapped",
	"__fxdriver_unwrapped",
}

// Font probe inputs.
var (
	fontBaseFamilies = []string{"monospace", "sans-serif", "serif"}
	fontCandidates   = []string{
		"Arial", "Verdana", "Times New Roman", "Courier New", "Georgia", "Palatino",
		"Garamond", "Comic Sans MS", "Trebuchet MS", "Impact", "Lucida Console",
	}
)

const fontTestString = "mmmmmmmmmmlli"
