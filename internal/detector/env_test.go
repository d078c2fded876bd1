package detector

import (
	"context"
	"errors"
	"strings"
	"time"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var errBoom = errors.New("boom")

// fakeEnv is a scripted browser. The zero value of each knob is overridden
// by humanEnv to look like an ordinary desktop Chrome.
type fakeEnv struct {
	ua        string
	nav       Navigator
	screen    Screen
	screenOK  bool
	globals   map[string]bool
	docProps  map[string]bool
	referrer  string
	tzName    string
	tzOffset  int
	indexedDB bool
	touch     bool

	canvasURL string
	canvasErr error
	webgl     WebGLInfo
	webglErr  error
	storage   func(key, value string) (string, error)
	fonts     map[string]bool
	fontErr   error
	battery   Battery
	batteryOK bool
	conn      Connection
	connOK    bool
	audio     []float64
	audioErr  error

	panics map[string]bool
}

func humanEnv() *fakeEnv {
	platform := "Win32"
	return &fakeEnv{
		ua: chromeUA,
		nav: Navigator{
			Language:            "en-US",
			Languages:           []string{"en-US", "en"},
			Platform:            &platform,
			Plugins:             []string{"PDF Viewer", "Chrome PDF Viewer"},
			MimeTypes:           []string{"application/pdf"},
			HardwareConcurrency: 8,
			DeviceMemory:        8,
			CookieEnabled:       true,
			SessionStorage:      true,
		},
		screen:    Screen{Width: 1920, Height: 1080, AvailWidth: 1920, AvailHeight: 1040, ColorDepth: 24, PixelRatio: 1},
		screenOK:  true,
		globals:   map[string]bool{"chrome": true},
		docProps:  map[string]bool{},
		tzName:    "Europe/Berlin",
		tzOffset:  -60,
		indexedDB: true,
		canvasURL: "data:image/png;base64," + strings.Repeat("iVBORw0KGgo", 20),
		webgl:     WebGLInfo{Vendor: "Google Inc. (NVIDIA)", Renderer: "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0)"},
		storage:   func(_, v string) (string, error) { return v, nil },
		fonts:     map[string]bool{"Arial": true, "Verdana": true, "Times New Roman": true, "Georgia": true},
		battery:   Battery{Level: 0.76, Charging: true, ChargingTime: 1800},
		batteryOK: true,
		conn:      Connection{Downlink: 1.55, RTT: 50, EffectiveType: "4g"},
		connOK:    true,
		audio:     []float64{-120.5, -118.25, -117},
		panics:    map[string]bool{},
	}
}

func (e *fakeEnv) maybePanic(name string) {
	if e.panics[name] {
		panic(name + " exploded")
	}
}

func (e *fakeEnv) UserAgent() string { return e.ua }

func (e *fakeEnv) Navigator() Navigator {
	e.maybePanic("navigator")
	return e.nav
}

func (e *fakeEnv) Screen() (Screen, bool) {
	e.maybePanic("screen")
	return e.screen, e.screenOK
}

func (e *fakeEnv) HasGlobal(name string) bool { return e.globals[name] }

func (e *fakeEnv) HasDocumentProperty(name string) bool { return e.docProps[name] }

func (e *fakeEnv) Referrer() string { return e.referrer }

func (e *fakeEnv) Timezone() (string, int) {
	e.maybePanic("timezone")
	return e.tzName, e.tzOffset
}

func (e *fakeEnv) HasIndexedDB() bool {
	e.maybePanic("indexedDB")
	return e.indexedDB
}

func (e *fakeEnv) HasTouchSupport() bool { return e.touch }

func (e *fakeEnv) CanvasDataURL(CanvasDrawing) (string, error) {
	e.maybePanic("canvas")
	return e.canvasURL, e.canvasErr
}

func (e *fakeEnv) WebGLParameters() (WebGLInfo, error) {
	e.maybePanic("webgl")
	return e.webgl, e.webglErr
}

func (e *fakeEnv) StorageRoundTrip(key, value string) (string, error) {
	e.maybePanic("storage")
	return e.storage(key, value)
}

// MeasureText renders generic families 100px wide and installed fonts 112px wide.
func (e *fakeEnv) MeasureText(font, _ string) (float64, error) {
	e.maybePanic("fonts")
	if e.fontErr != nil {
		return 0, e.fontErr
	}
	for name, installed := range e.fonts {
		if installed && strings.Contains(font, "'"+name+"'") {
			return 112, nil
		}
	}
	return 100, nil
}

func (e *fakeEnv) Battery(ctx context.Context) (Battery, error) {
	e.maybePanic("battery")
	if !e.batteryOK {
		return Battery{}, ErrUnavailable
	}
	return e.battery, ctx.Err()
}

func (e *fakeEnv) ConnectionInfo() (Connection, bool) { return e.conn, e.connOK }

func (e *fakeEnv) AudioFrequencyData() ([]float64, error) {
	e.maybePanic("audio")
	return e.audio, e.audioErr
}

// engagedSession is five seconds into the page with some mouse movement.
func engagedSession() *Session {
	now := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	s := NewSession(now.Add(-5*time.Second), func() time.Time { return now })
	s.AddMouseMovements(12)
	return s
}

func sessionAt(elapsed time.Duration, moves int) *Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession(now.Add(-elapsed), func() time.Time { return now })
	s.AddMouseMovements(moves)
	return s
}
