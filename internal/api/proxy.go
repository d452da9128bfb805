package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/m1k1o/go-streamproxy/internal/hlsproxy"
	"github.com/m1k1o/go-streamproxy/internal/metrics"
	"github.com/m1k1o/go-streamproxy/internal/proxyerr"
	"github.com/m1k1o/go-streamproxy/internal/safeurl"
	"github.com/m1k1o/go-streamproxy/internal/utils"
)

// total-request deadline; the upstream deadline inside hlsproxy is shorter
const requestTimeout = 60 * time.Second

// proxyInput is a validated, admitted proxy request.
type proxyInput struct {
	url     string
	headers utils.Headers
}

// parseInput runs the shared front half of every proxy endpoint: input
// extraction, safety validation, normalization and the host allowlist. The
// throttler already ran as middleware.
func (a *ApiManagerCtx) parseInput(w http.ResponseWriter, r *http.Request, rawURL, rawHeaders string) (proxyInput, bool) {
	if rawURL == "" {
		a.writeError(w, proxyerr.Malformed("missing url parameter"))
		return proxyInput{}, false
	}

	if err := safeurl.ValidateSafety(rawURL); err != nil {
		a.writeError(w, err)
		return proxyInput{}, false
	}

	canonical, err := safeurl.Normalize(rawURL)
	if err != nil {
		a.writeError(w, err)
		return proxyInput{}, false
	}

	host := hostname(canonical)
	if !a.policy.IsAllowed(host) {
		a.writeError(w, proxyerr.HostNotAllowed(host))
		return proxyInput{}, false
	}

	headers, err := utils.ParseHeadersJSON(rawHeaders)
	if err != nil {
		a.writeError(w, proxyerr.Malformed(fmt.Sprintf("invalid headers parameter: %v", err)))
		return proxyInput{}, false
	}

	return proxyInput{url: canonical, headers: headers}, true
}

// dispatch runs a proxy operation behind the total-request deadline,
// translates its error and records metrics for the terminated request.
func (a *ApiManagerCtx) dispatch(
	w http.ResponseWriter,
	r *http.Request,
	input proxyInput,
	category metrics.Category,
	serve func(ctx context.Context, w http.ResponseWriter, req hlsproxy.Request) error,
) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rec := &statusRecorder{ResponseWriter: w}
	started := time.Now()

	req := hlsproxy.Request{
		URL:     input.url,
		Headers: input.headers,
		BaseURL: serverBaseURL(r),
		Range:   r.Header.Get("Range"),
	}

	err := serve(ctx, rec, req)

	status := rec.status()
	success := err == nil && status < 400

	if err != nil && !rec.wrote {
		// a deadline that elapsed before any byte went out is a gateway
		// timeout, whatever the component reported
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = proxyerr.Timeout("request deadline elapsed")
		}
		perr := a.writeError(rec, err)
		status = perr.Status
	}

	a.metrics.Record(input.url, hostname(input.url), category, success, status, time.Since(started))
}

// statusRecorder remembers what status went out, and whether anything did.
type statusRecorder struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.code = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if !s.wrote {
		s.code = http.StatusOK
		s.wrote = true
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) status() int {
	if !s.wrote {
		return 0
	}
	return s.code
}

func (a *ApiManagerCtx) m3u8ProxyGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input, ok := a.parseInput(w, r, q.Get("url"), q.Get("headers"))
	if !ok {
		return
	}
	a.dispatch(w, r, input, metrics.CategoryManifest, a.proxy.ServePlaylist)
}

// m3u8ProxyPost accepts the same inputs as the GET form, in a JSON body.
func (a *ApiManagerCtx) m3u8ProxyPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, proxyerr.Malformed(fmt.Sprintf("invalid json body: %v", err)))
		return
	}

	rawHeaders := ""
	if len(body.Headers) > 0 {
		buf, _ := json.Marshal(body.Headers)
		rawHeaders = string(buf)
	}

	input, ok := a.parseInput(w, r, body.URL, rawHeaders)
	if !ok {
		return
	}
	a.dispatch(w, r, input, metrics.CategoryManifest, a.proxy.ServePlaylist)
}

// hlsAlias is the legacy manifest endpoint taking `link`.
func (a *ApiManagerCtx) hlsAlias(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rawURL := q.Get("link")
	if rawURL == "" {
		rawURL = q.Get("url")
	}

	input, ok := a.parseInput(w, r, rawURL, q.Get("headers"))
	if !ok {
		return
	}
	a.dispatch(w, r, input, metrics.CategoryManifest, a.proxy.ServePlaylist)
}

func (a *ApiManagerCtx) tsProxy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input, ok := a.parseInput(w, r, q.Get("url"), q.Get("headers"))
	if !ok {
		return
	}
	a.dispatch(w, r, input, metrics.CategorySegment, a.proxy.ServeSegment)
}

func (a *ApiManagerCtx) subProxy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input, ok := a.parseInput(w, r, q.Get("url"), q.Get("headers"))
	if !ok {
		return
	}
	a.dispatch(w, r, input, metrics.CategorySubtitle, a.proxy.ServeSubtitle)
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
