package hlsproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-streamproxy/internal/hostpolicy"
	"github.com/m1k1o/go-streamproxy/internal/playlistcache"
	"github.com/m1k1o/go-streamproxy/internal/proxyerr"
	"github.com/m1k1o/go-streamproxy/internal/utils"
)

type ManagerCtx struct {
	logger zerolog.Logger

	client    *http.Client
	policy    *hostpolicy.Policy
	playlists *playlistcache.Cache
	segments  *playlistcache.SegmentCache // nil when disabled

	userAgent string
}

type Config struct {
	UserAgent string
}

func New(config Config, policy *hostpolicy.Policy, playlists *playlistcache.Cache, segments *playlistcache.SegmentCache) *ManagerCtx {
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &ManagerCtx{
		logger: log.With().Str("module", "hlsproxy").Logger(),
		client: &http.Client{
			// per-request deadlines come from the context
		},
		policy:    policy,
		playlists: playlists,
		segments:  segments,
		userAgent: userAgent,
	}
}

func (m *ManagerCtx) Shutdown() {
	m.playlists.Stop()
	m.segments.Close()
	m.client.CloseIdleConnections()
}

// fetch issues an upstream request with the policy headers for its host
// merged under the caller's, bounded by the upstream deadline.
func (m *ManagerCtx) fetch(ctx context.Context, method string, rawURL string, headers utils.Headers, rangeHeader string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, proxyerr.Malformed(fmt.Sprintf("unparseable upstream url: %v", err))
	}
	host := u.Hostname()

	ctx, cancel := context.WithTimeout(ctx, upstreamTimeout)
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		cancel()
		return nil, proxyerr.Malformed(fmt.Sprintf("invalid upstream request: %v", err))
	}

	m.applyUpstreamHeaders(req, m.policy.HeadersFor(host, headers))

	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, proxyerr.Timeout("upstream fetch timed out")
		}
		if errors.Is(err, context.Canceled) {
			return nil, proxyerr.From(err)
		}
		return nil, proxyerr.BadGateway(fmt.Sprintf("upstream unreachable: %v", err))
	}

	// release the timeout once the body is drained
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// ServePlaylist fetches the upstream manifest, rewrites every URI to point
// back at the proxy, caches the result and emits it. Cache hits are served
// verbatim.
func (m *ManagerCtx) ServePlaylist(ctx context.Context, w http.ResponseWriter, req Request) error {
	if body, ok := m.playlists.Get(req.URL); ok {
		writePlaylist(w, body, "HIT")
		return nil
	}

	resp, err := m.fetch(ctx, http.MethodGet, req.URL, req.Headers, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return proxyerr.Upstream(resp.StatusCode, hostOf(req.URL))
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return proxyerr.BadGateway(fmt.Sprintf("unable to read upstream body: %v", err))
	}

	rewritten := []byte(RewritePlaylist(string(buf), req.URL, req.BaseURL, req.Headers))
	m.playlists.Set(req.URL, rewritten)

	writePlaylist(w, rewritten, "MISS")
	return nil
}

func writePlaylist(w http.ResponseWriter, body []byte, cacheState string) {
	w.Header().Set("X-Cache", cacheState)
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	//nolint
	_, _ = w.Write(body)
}

// ServeSegment streams a media segment (or encryption key) through the
// proxy, forwarding the client's Range header verbatim and preserving
// partial-content semantics. The body is piped to the client as it arrives;
// only when the segment cache is enabled is a complete non-range response
// also collected in memory for the cache.
func (m *ManagerCtx) ServeSegment(ctx context.Context, w http.ResponseWriter, req Request) error {
	cacheable := req.Range == "" && m.segments != nil

	if cacheable {
		if entry, ok := m.segments.Get(req.URL); ok {
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("Content-Type", entry.ContentType)
			w.Header().Set("Content-Length", strconv.Itoa(len(entry.Body)))
			w.WriteHeader(http.StatusOK)
			//nolint
			_, _ = w.Write(entry.Body)
			return nil
		}
	}

	resp, err := m.fetch(ctx, http.MethodGet, req.URL, req.Headers, req.Range)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return proxyerr.Upstream(resp.StatusCode, hostOf(req.URL))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = segmentContentType
	}
	w.Header().Set("Content-Type", contentType)

	for _, name := range []string{"Content-Length", "Content-Range", "Accept-Ranges"} {
		if value := resp.Header.Get(name); value != "" {
			w.Header().Set(name, value)
		}
	}

	status := http.StatusOK
	if resp.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if cacheable && status == http.StatusOK {
		m.streamAndCache(w, resp.Body, req.URL, contentType)
		return nil
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		// client went away or upstream died mid-stream; status is already out
		m.logger.Debug().Err(err).Str("url", hostOf(req.URL)).Msg("segment stream interrupted")
	}
	return nil
}

// streamAndCache tees a complete non-range response into the segment cache
// while piping it to the client. Interrupted transfers are not cached.
func (m *ManagerCtx) streamAndCache(w http.ResponseWriter, body io.Reader, key, contentType string) {
	var buf []byte

	_, err := io.Copy(w, io.TeeReader(body, writerFunc(func(p []byte) (int, error) {
		buf = append(buf, p...)
		return len(p), nil
	})))
	if err != nil {
		m.logger.Debug().Err(err).Msg("segment stream interrupted")
		return
	}

	m.segments.Set(key, playlistcache.SegmentEntry{
		Body:        buf,
		ContentType: contentType,
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// ServeSubtitle is a pass-through for subtitle files. Subtitles are static,
// so they get a public cache header.
func (m *ManagerCtx) ServeSubtitle(ctx context.Context, w http.ResponseWriter, req Request) error {
	resp, err := m.fetch(ctx, http.MethodGet, req.URL, req.Headers, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return proxyerr.Upstream(resp.StatusCode, hostOf(req.URL))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = subtitleContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")

	if value := resp.Header.Get("Content-Length"); value != "" {
		w.Header().Set("Content-Length", value)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, resp.Body); err != nil {
		m.logger.Debug().Err(err).Msg("subtitle stream interrupted")
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
