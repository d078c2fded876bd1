package detector

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by an Environment when the underlying browser
// API does not exist (no 2D context, no WebGL context, no Battery API...).
var ErrUnavailable = errors.New("browser capability unavailable")

// Navigator is a snapshot of navigator.* readings. A nil slice or pointer
// means the property could not be read at all, which is different from an
// empty value.
type Navigator struct {
	Webdriver           bool
	Language            string
	Languages           []string
	Platform            *string
	Plugins             []string
	MimeTypes           []string
	HardwareConcurrency int
	DeviceMemory        float64
	DoNotTrack          *string
	CookieEnabled       bool
	SessionStorage      bool
}

// Screen is a snapshot of screen.* and window.devicePixelRatio.
type Screen struct {
	Width       int
	Height      int
	AvailWidth  int
	AvailHeight int
	ColorDepth  int
	PixelRatio  float64
}

// WebGLInfo holds the unmasked vendor and renderer strings of a WebGL context.
type WebGLInfo struct {
	Vendor   string
	Renderer string
}

// Battery is a Battery Status API reading. ChargingTime is +Inf when the
// browser reports an infinite charging time.
type Battery struct {
	Level        float64
	Charging     bool
	ChargingTime float64
}

// Connection is a Network Information API reading.
type Connection struct {
	Downlink      float64
	RTT           float64
	EffectiveType string
}

// CanvasDrawing selects which fixed composite is rendered before export.
type CanvasDrawing int

const (
	// CanvasProbe is the arc, rectangle and emoji text composite used by the canvas probe.
	CanvasProbe CanvasDrawing = iota
	// CanvasFingerprint is the composite rendered for the device fingerprint.
	CanvasFingerprint
)

// QuickEnvironment is the subset of browser readings the quick pre-check
// needs. It can be satisfied from request headers alone.
type QuickEnvironment interface {
	UserAgent() string
	Navigator() Navigator
	// Screen reports false when screen dimensions cannot be read.
	Screen() (Screen, bool)
	// HasGlobal reports whether a window property with the given name exists.
	HasGlobal(name string) bool
	// HasDocumentProperty reports whether a document property with the given name is defined.
	HasDocumentProperty(name string) bool
}

// Environment is the capability provider every probe reads from. Browser
// collectors, header-only request views and test doubles implement it.
// Implementations must be safe for concurrent reads.
type Environment interface {
	QuickEnvironment

	Referrer() string
	Timezone() (name string, offsetMinutes int)
	HasIndexedDB() bool
	HasTouchSupport() bool

	// CanvasDataURL renders the given drawing on a 2D canvas and exports it.
	// It returns ErrUnavailable when no 2D context can be created.
	CanvasDataURL(drawing CanvasDrawing) (string, error)
	// WebGLParameters returns ErrUnavailable when neither webgl nor webgl2 is available.
	WebGLParameters() (WebGLInfo, error)
	// StorageRoundTrip writes, reads back and removes key in localStorage.
	StorageRoundTrip(key, value string) (string, error)
	// MeasureText returns the rendered width of text in the given CSS font.
	MeasureText(font, text string) (float64, error)
	Battery(ctx context.Context) (Battery, error)
	ConnectionInfo() (Connection, bool)
	// AudioFrequencyData returns the analyser's float frequency bins of a muted oscillator.
	AudioFrequencyData() ([]float64, error)
}
