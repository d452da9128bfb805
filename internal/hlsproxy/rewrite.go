package hlsproxy

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/m1k1o/go-streamproxy/internal/utils"
)

// RewritePlaylist replaces every URI inside an HLS manifest with an absolute
// proxy URL, so every nested playlist, encryption key and media segment is
// re-fetched through the proxy. Lines whose URL cannot be resolved are kept
// verbatim.
//
// baseURL is the proxy's own base URL. Caller headers, when present, are
// propagated to sub-requests by appending an encoded headers parameter.
func RewritePlaylist(body string, upstreamURL string, baseURL string, headers utils.Headers) string {
	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		return body
	}

	headersParam := encodeHeadersParam(headers)

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			// keep

		case strings.HasPrefix(trimmed, "#EXT-X-MEDIA:"):
			lines[i] = rewriteTagURI(line, upstream, baseURL, "/m3u8-proxy", headersParam)

		case strings.HasPrefix(trimmed, "#EXT-X-KEY:"):
			// keys flow through the byte-streaming path
			lines[i] = rewriteTagURI(line, upstream, baseURL, "/ts-proxy", headersParam)

		case strings.HasPrefix(trimmed, "#"):
			// keep

		default:
			resolved, ok := resolveAgainst(upstream, trimmed)
			if !ok {
				// unresolvable line stays untouched
				continue
			}

			endpoint := "/ts-proxy"
			if isPlaylistURI(resolved, trimmed) {
				endpoint = "/m3u8-proxy"
			}
			lines[i] = proxyURL(baseURL, endpoint, resolved, headersParam)
		}
	}

	return strings.Join(lines, "\n")
}

// rewriteTagURI replaces the URI="…" attribute value of a manifest tag line.
func rewriteTagURI(line string, upstream *url.URL, baseURL, endpoint, headersParam string) string {
	start := strings.Index(line, `URI="`)
	if start < 0 {
		return line
	}
	start += len(`URI="`)

	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return line
	}

	uri := line[start : start+end]
	resolved, ok := resolveAgainst(upstream, uri)
	if !ok {
		return line
	}

	return line[:start] + proxyURL(baseURL, endpoint, resolved, headersParam) + line[start+end:]
}

func resolveAgainst(upstream *url.URL, ref string) (string, bool) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	resolved := upstream.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}

// isPlaylistURI classifies a resolved line as a nested playlist. A textual
// m3u8 hint in either the resolved path or the original line is enough.
func isPlaylistURI(resolved string, original string) bool {
	u, err := url.Parse(resolved)
	if err == nil && strings.Contains(u.Path, "m3u8") {
		return true
	}
	return strings.Contains(original, "m3u8")
}

func proxyURL(baseURL, endpoint, target, headersParam string) string {
	s := baseURL + endpoint + "?url=" + url.QueryEscape(target)
	if headersParam != "" {
		s += "&headers=" + headersParam
	}
	return s
}

func encodeHeadersParam(headers utils.Headers) string {
	if headers.Len() == 0 {
		return ""
	}
	buf, err := json.Marshal(headers)
	if err != nil {
		return ""
	}
	return url.QueryEscape(string(buf))
}
