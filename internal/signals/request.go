package signals

import (
	"net"
	"net/http"
	"strings"

	"github.com/ghostlayer/server/internal/detector"
)

// FromRequest exposes what the request headers reveal about the browser.
// Only the user agent, languages and client-hint platform are readable;
// plugins and screen stay unreadable so they never count as suspicious.
func FromRequest(r *http.Request) detector.QuickEnvironment {
	langs := parseAcceptLanguage(r.Header.Get("Accept-Language"))
	env := &headerEnv{
		ua: r.Header.Get("User-Agent"),
		nav: detector.Navigator{
			Languages: langs,
		},
	}
	if len(langs) > 0 {
		env.nav.Language = langs[0]
	}
	if p := r.Header.Get("Sec-CH-UA-Platform"); p != "" {
		p = strings.Trim(p, `"`)
		env.nav.Platform = &p
	}
	return env
}

type headerEnv struct {
	ua  string
	nav detector.Navigator
}

func (e *headerEnv) UserAgent() string { return e.ua }
func (e *headerEnv) Navigator() detector.Navigator { return e.nav }
func (e *headerEnv) Screen() (detector.Screen, bool) { return detector.Screen{}, false }
func (e *headerEnv) HasGlobal(string) bool { return false }
func (e *headerEnv) HasDocumentProperty(string) bool { return false }

// parseAcceptLanguage returns the language tags in header order, without
// quality values. The result is never nil.
func parseAcceptLanguage(header string) []string {
	tags := []string{}
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(part)
		if i := strings.IndexByte(tag, ';'); i >= 0 {
			tag = strings.TrimSpace(tag[:i])
		}
		if tag == "" || tag == "*" {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// ClientIP is the remote address without its port. Proxy headers are not
// read here: behind a trusted proxy the router rewrites RemoteAddr from
// them before handlers run.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
