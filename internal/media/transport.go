package media

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// authTransport injects the media server API token on every request.
type authTransport struct {
	token string
	next  http.RoundTripper
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("X-Emby-Token", t.token)
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(req)
}

// loggingTransport emits one debug line per request with method, URL,
// status and duration. Failures are logged at error level.
type loggingTransport struct {
	log  zerolog.Logger
	next http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	ev := t.log.Debug()
	if err != nil {
		ev = t.log.Error().Err(err)
	}
	ev = ev.
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Dur("duration", time.Since(start))
	if resp != nil {
		ev = ev.Int("status", resp.StatusCode)
	}
	ev.Msg("media server request")
	return resp, err
}
