package hlsproxy

import (
	"context"
	"net/http"
	"time"

	"github.com/m1k1o/go-streamproxy/internal/utils"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// upstream deadline, strictly less than the client-facing 60 s deadline
	upstreamTimeout = 55 * time.Second

	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
	subtitleContentType = "text/vtt"
)

// Request carries everything a proxied fetch needs: the canonical upstream
// URL, the caller's headers, the proxy's own base URL for rewriting, and the
// client's Range header on the segment path.
type Request struct {
	URL     string
	Headers utils.Headers
	BaseURL string
	Range   string
}

type Manager interface {
	Shutdown()

	ServePlaylist(ctx context.Context, w http.ResponseWriter, req Request) error
	ServeSegment(ctx context.Context, w http.ResponseWriter, req Request) error
	ServeSubtitle(ctx context.Context, w http.ResponseWriter, req Request) error
}
