package detector

import "strings"

// QuickDetect is the synchronous pre-check run before anything else on a
// page view, using the built-in patterns. It trades recall for latency:
// only explicit bot tokens, explicit automation markers, or a cluster of
// missing browser features count.
func QuickDetect(env QuickEnvironment) bool {
	return quickDetect(env, criticalUserAgents)
}

// QuickDetect runs the pre-check with the detector's configured patterns.
func (d *Detector) QuickDetect(env QuickEnvironment) bool {
	return quickDetect(env, d.patterns.Critical)
}

func quickDetect(env QuickEnvironment, critical []string) (isBot bool) {
	defer func() {
		if recover() != nil {
			isBot = false
		}
	}()

	ua := env.UserAgent()
	lower := strings.ToLower(ua)

	if firstMatch(lower, critical) != "" {
		return true
	}

	nav := env.Navigator()
	if nav.Webdriver || strings.Contains(lower, "headless") || hasAutomationMarkers(env) {
		return true
	}

	screen, screenOK := env.Screen()
	minimal := nav.Plugins != nil && nav.Languages != nil && nav.Platform != nil && screenOK

	return !minimal && suspiciousFeatureCount(ua, nav, screen, screenOK) >= QuickSuspicionQuorum
}

func hasAutomationMarkers(env QuickEnvironment) bool {
	for _, g := range quickAutomationGlobals {
		if env.HasGlobal(g) {
			return true
		}
	}
	for _, p := range quickDocumentMarkers {
		if env.HasDocumentProperty(p) {
			return true
		}
	}
	return false
}

// suspiciousFeatureCount counts the critical suspicious conditions. A value
// that cannot be read never counts.
func suspiciousFeatureCount(ua string, nav Navigator, screen Screen, screenOK bool) int {
	conditions := []bool{
		nav.Plugins != nil && len(nav.Plugins) == 0,
		nav.Languages != nil && len(nav.Languages) == 0,
		nav.Language == "",
		screenOK && (screen.Width == 0 || screen.Height == 0),
		screenOK && screen.ColorDepth == 0,
		len(ua) < ShortUserAgentLen,
		ua == LegacyDefaultUserAgent,
	}

	n := 0
	for _, c := range conditions {
		if c {
			n++
		}
	}
	return n
}
