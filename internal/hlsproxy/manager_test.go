package hlsproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/m1k1o/go-streamproxy/internal/hostpolicy"
	"github.com/m1k1o/go-streamproxy/internal/playlistcache"
	"github.com/m1k1o/go-streamproxy/internal/proxyerr"
	"github.com/m1k1o/go-streamproxy/internal/utils"
)

func newTestManager(t *testing.T) *ManagerCtx {
	t.Helper()

	cache := playlistcache.New(playlistcache.Config{TTL: time.Minute})
	t.Cleanup(cache.Stop)

	return New(Config{}, hostpolicy.New(nil, nil), cache, nil)
}

func TestServePlaylistRewritesAndCaches(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		//nolint
		_, _ = w.Write([]byte("#EXTM3U\nseg1.ts\n"))
	}))
	defer upstream.Close()

	m := newTestManager(t)
	req := Request{
		URL:     upstream.URL + "/m/root.m3u8",
		Headers: utils.NewHeaders(),
		BaseURL: testBase,
	}

	rec := httptest.NewRecorder()
	if err := m.ServePlaylist(context.Background(), rec, req); err != nil {
		t.Fatalf("ServePlaylist() error: %v", err)
	}

	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.apple.mpegurl" {
		t.Errorf("Content-Type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), testBase+"/ts-proxy?url=") {
		t.Errorf("body not rewritten: %q", rec.Body.String())
	}

	// second request must be served from cache
	rec = httptest.NewRecorder()
	if err := m.ServePlaylist(context.Background(), rec, req); err != nil {
		t.Fatalf("ServePlaylist() cached error: %v", err)
	}
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
}

func TestServePlaylistUpstream403(t *testing.T) {
	for _, upstreamStatus := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(upstreamStatus)
		}))

		m := newTestManager(t)
		err := m.ServePlaylist(context.Background(), httptest.NewRecorder(), Request{
			URL:     upstream.URL + "/root.m3u8",
			Headers: utils.NewHeaders(),
			BaseURL: testBase,
		})
		upstream.Close()

		if err == nil {
			t.Fatalf("upstream %d: expected error", upstreamStatus)
		}

		perr := proxyerr.From(err)
		if perr.Code != proxyerr.CodeUpstream403 {
			t.Errorf("upstream %d: code = %q, want UPSTREAM_403", upstreamStatus, perr.Code)
		}
		if perr.Status != http.StatusForbidden {
			t.Errorf("upstream %d: status = %d, want 403", upstreamStatus, perr.Status)
		}
	}
}

func TestServePlaylistUpstream404(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	m := newTestManager(t)
	err := m.ServePlaylist(context.Background(), httptest.NewRecorder(), Request{
		URL:     upstream.URL + "/root.m3u8",
		Headers: utils.NewHeaders(),
		BaseURL: testBase,
	})

	if perr := proxyerr.From(err); perr.Code != proxyerr.CodeNotFound || perr.Status != http.StatusNotFound {
		t.Errorf("got %q/%d, want NOT_FOUND/404", perr.Code, perr.Status)
	}
}

func TestServePlaylistConnectionRefused(t *testing.T) {
	m := newTestManager(t)
	err := m.ServePlaylist(context.Background(), httptest.NewRecorder(), Request{
		// reserved port that nothing listens on
		URL:     "http://127.0.0.1:1/root.m3u8",
		Headers: utils.NewHeaders(),
		BaseURL: testBase,
	})

	if perr := proxyerr.From(err); perr.Code != proxyerr.CodeBadGateway {
		t.Errorf("code = %q, want BAD_GATEWAY", perr.Code)
	}
}

func TestServeSegmentRangePassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Range"); got != "bytes=0-1023" {
			t.Errorf("upstream Range = %q, want bytes=0-1023", got)
		}
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Content-Range", "bytes 0-1023/5000")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusPartialContent)
		//nolint
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer upstream.Close()

	m := newTestManager(t)
	rec := httptest.NewRecorder()
	err := m.ServeSegment(context.Background(), rec, Request{
		URL:     upstream.URL + "/seg1.ts",
		Headers: utils.NewHeaders(),
		BaseURL: testBase,
		Range:   "bytes=0-1023",
	})
	if err != nil {
		t.Fatalf("ServeSegment() error: %v", err)
	}

	if rec.Code != http.StatusPartialContent {
		t.Errorf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-1023/5000" {
		t.Errorf("Content-Range = %q", got)
	}
	if rec.Body.Len() != 1024 {
		t.Errorf("body length = %d, want 1024", rec.Body.Len())
	}
}

func TestServeSegmentDefaultContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// deliberately no Content-Type
		w.Header()["Content-Type"] = nil
		//nolint
		_, _ = w.Write([]byte{0x47})
	}))
	defer upstream.Close()

	m := newTestManager(t)
	rec := httptest.NewRecorder()
	err := m.ServeSegment(context.Background(), rec, Request{
		URL:     upstream.URL + "/enc.key",
		Headers: utils.NewHeaders(),
		BaseURL: testBase,
	})
	if err != nil {
		t.Fatalf("ServeSegment() error: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "video/mp2t" {
		t.Errorf("Content-Type = %q, want default video/mp2t", got)
	}
}

func TestServeSegmentCachesCompleteResponses(t *testing.T) {
	requests := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "video/mp2t")
		//nolint
		_, _ = w.Write([]byte("segment-bytes"))
	}))
	defer upstream.Close()

	cache := playlistcache.New(playlistcache.Config{TTL: time.Minute})
	t.Cleanup(cache.Stop)
	segments := playlistcache.NewSegmentCache()
	t.Cleanup(segments.Close)

	m := New(Config{}, hostpolicy.New(nil, nil), cache, segments)

	req := Request{
		URL:     upstream.URL + "/seg1.ts",
		Headers: utils.NewHeaders(),
		BaseURL: testBase,
	}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		if err := m.ServeSegment(context.Background(), rec, req); err != nil {
			t.Fatalf("ServeSegment() round %d error: %v", i, err)
		}
		if rec.Body.String() != "segment-bytes" {
			t.Fatalf("round %d body = %q", i, rec.Body.String())
		}
	}

	if requests != 1 {
		t.Errorf("upstream hit %d times, want 1 (second served from cache)", requests)
	}
}

func TestServeSubtitleDefaults(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		//nolint
		_, _ = w.Write([]byte("WEBVTT\n"))
	}))
	defer upstream.Close()

	m := newTestManager(t)
	rec := httptest.NewRecorder()
	err := m.ServeSubtitle(context.Background(), rec, Request{
		URL:     upstream.URL + "/subs/en.vtt",
		Headers: utils.NewHeaders(),
		BaseURL: testBase,
	})
	if err != nil {
		t.Fatalf("ServeSubtitle() error: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/vtt" {
		t.Errorf("Content-Type = %q, want text/vtt", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestRepairReferer(t *testing.T) {
	tests := []struct {
		name    string
		referer string
		origin  string
		want    string
		dropped bool
	}{
		{
			name:    "valid absolute untouched",
			referer: "https://site.example/watch",
			origin:  "https://other.example",
			want:    "https://site.example/watch",
		},
		{
			name:    "path joined to origin",
			referer: "/watch/123",
			origin:  "https://site.example",
			want:    "https://site.example/watch/123",
		},
		{
			name:    "slug joined to origin",
			referer: "watch",
			origin:  "https://site.example/",
			want:    "https://site.example/watch",
		},
		{
			name:    "no origin drops broken referer",
			referer: "watch",
			dropped: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := utils.NewHeaders()
			headers.Set("Referer", tt.referer)
			if tt.origin != "" {
				headers.Set("Origin", tt.origin)
			}

			got := repairReferer(headers)

			if tt.dropped {
				if got.Has("Referer") {
					t.Errorf("Referer = %q, want dropped", got.Get("Referer"))
				}
				return
			}
			if got.Get("Referer") != tt.want {
				t.Errorf("Referer = %q, want %q", got.Get("Referer"), tt.want)
			}
		})
	}
}
