package hlsproxy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/m1k1o/go-streamproxy/internal/utils"
)

// applyUpstreamHeaders copies caller headers onto the outbound request,
// repairing the Referer and filling in the default User-Agent.
func (m *ManagerCtx) applyUpstreamHeaders(req *http.Request, headers utils.Headers) {
	headers = repairReferer(headers)

	headers.Range(func(name, value string) {
		req.Header.Set(name, value)
	})

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", m.userAgent)
	}
}

// repairReferer fixes a Referer value that is not itself a valid absolute
// URL. A path Referer is prefixed with the Origin; anything else is treated
// as a slug under the Origin. Without an Origin the broken Referer is
// dropped.
func repairReferer(headers utils.Headers) utils.Headers {
	referer := headers.Get("Referer")
	if referer == "" {
		return headers
	}

	if u, err := url.Parse(referer); err == nil && u.IsAbs() && u.Host != "" {
		return headers
	}

	origin := headers.Get("Origin")

	out := headers.Clone()
	if origin == "" {
		out.Del("Referer")
		return out
	}

	origin = strings.TrimSuffix(origin, "/")
	if strings.HasPrefix(referer, "/") {
		out.Set("Referer", origin+referer)
	} else {
		out.Set("Referer", origin+"/"+referer)
	}
	return out
}
