package detector

// CheckResult is the verdict of a single probe.
type CheckResult struct {
	IsBot   bool                   `json:"isBot"`
	Reason  string                 `json:"reason"`
	Weight  int                    `json:"weight"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NamedCheck pairs a probe name with its result, preserving probe order.
type NamedCheck struct {
	Name   string
	Result CheckResult
}

// Result is the aggregate verdict of a full detection run.
type Result struct {
	IsBot       bool                   `json:"isBot"`
	Confidence  int                    `json:"confidence"`
	Reason      string                 `json:"reason"`
	Checks      map[string]CheckResult `json:"checks"`
	Fingerprint Fingerprint            `json:"fingerprint"`
}

// Fingerprint is a semi-stable summary of the visitor's device and browser.
// Only Hash is meant as an identity key; the rest is analytics evidence.
type Fingerprint struct {
	Hash                      string   `json:"hash"`
	UserAgent                 string   `json:"userAgent"`
	Language                  string   `json:"language"`
	Languages                 []string `json:"languages"`
	Timezone                  string   `json:"timezone"`
	TimezoneOffset            int      `json:"timezoneOffset"`
	ScreenResolution          string   `json:"screenResolution"`
	AvailableScreenResolution string   `json:"availableScreenResolution"`
	ColorDepth                int      `json:"colorDepth"`
	PixelRatio                float64  `json:"pixelRatio"`
	Platform                  string   `json:"platform"`
	Cores                     int      `json:"cores"`
	Memory                    float64  `json:"memory"`
	WebGLVendor               string   `json:"webglVendor"`
	WebGLRenderer             string   `json:"webglRenderer"`
	CanvasFingerprint         string   `json:"canvasFingerprint"`
	AudioFingerprint          string   `json:"audioFingerprint"`
	InstalledFonts            []string `json:"installedFonts"`
	LocalStorage              bool     `json:"localStorage"`
	SessionStorage            bool     `json:"sessionStorage"`
	IndexedDB                 bool     `json:"indexedDB"`
	Cookies                   bool     `json:"cookies"`
	DoNotTrack                *string  `json:"doNotTrack"`
	Plugins                   []string `json:"plugins"`
	MimeTypes                 []string `json:"mimeTypes"`
}

// CanvasSignature returns the canvas fingerprint truncated for storage.
func (f Fingerprint) CanvasSignature() string {
	if len(f.CanvasFingerprint) <= CanvasSignatureLen {
		return f.CanvasFingerprint
	}
	return f.CanvasFingerprint[:CanvasSignatureLen]
}
