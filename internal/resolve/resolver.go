package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-streamproxy/internal/hostpolicy"
	"github.com/m1k1o/go-streamproxy/internal/proxyerr"
	"github.com/m1k1o/go-streamproxy/internal/safeurl"
	"github.com/m1k1o/go-streamproxy/internal/utils"
)

var (
	orSplitRe = regexp.MustCompile(`(?i)\s+or\s+`)
	urlRe     = regexp.MustCompile(`https?://[^\s"<>{}|]+`)
)

// jsonURLFields is the ordered list of object fields searched for a URL when
// the input parses as JSON.
var jsonURLFields = []string{"url", "link", "src", "source", "stream", "m3u8", "playlist"}

// Resolver normalizes messy provider strings ("A or B", pipe-separated
// alternatives, JSON envelopes) down to a single playable manifest URL.
type Resolver struct {
	logger zerolog.Logger
	policy *hostpolicy.Policy
	client *http.Client
}

func New(policy *hostpolicy.Policy) *Resolver {
	return &Resolver{
		logger: log.With().Str("module", "resolve").Logger(),
		policy: policy,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Resolve returns the canonical URL of the first candidate that passes
// safety validation, the host allowlist and either a lightweight content
// probe or a textual m3u8 hint. When no candidate qualifies that way, the
// first candidate that passes safety validation and the allowlist is
// returned.
func (r *Resolver) Resolve(ctx context.Context, input string, headers utils.Headers) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", proxyerr.Malformed("empty input")
	}

	// alternatives separated by "or" / "|": first one that resolves wins
	if parts := orSplitRe.Split(input, -1); len(parts) > 1 {
		return r.resolveFirst(ctx, parts, headers, "or-separated alternatives")
	}
	if strings.Contains(input, "|") {
		return r.resolveFirst(ctx, strings.Split(input, "|"), headers, "pipe-separated alternatives")
	}

	candidate := input
	if fromJSON, ok := extractFromJSON(input); ok {
		candidate = fromJSON
	}

	matches := urlRe.FindAllString(candidate, -1)
	if len(matches) == 0 {
		return "", proxyerr.Malformed(fmt.Sprintf("no url found in input (%s)", describeShape(input)))
	}

	// prefer candidates that mention m3u8
	sort.SliceStable(matches, func(i, j int) bool {
		return strings.Contains(matches[i], "m3u8") && !strings.Contains(matches[j], "m3u8")
	})

	var lastErr error
	for _, match := range matches {
		canonical, err := r.vet(match)
		if err != nil {
			lastErr = err
			continue
		}

		// the probe decides, but a textual m3u8 hint is accepted even when
		// the probe fails
		if r.probe(ctx, canonical, headers) || strings.Contains(canonical, "m3u8") {
			return canonical, nil
		}
	}

	// no m3u8-looking candidate survived the probe, fall back to the first
	// vetted URL and let playback discover the content type
	for _, match := range matches {
		if canonical, err := r.vet(match); err == nil {
			return canonical, nil
		}
	}

	if lastErr != nil {
		if perr := proxyerr.From(lastErr); perr.Code == proxyerr.CodeHostNotAllowed {
			return "", perr
		}
	}
	return "", proxyerr.Malformed(fmt.Sprintf("no playable url in input (%s)", describeShape(input)))
}

func (r *Resolver) resolveFirst(ctx context.Context, parts []string, headers utils.Headers, shape string) (string, error) {
	var lastErr error
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		resolved, err := r.Resolve(ctx, part, headers)
		if err == nil {
			return resolved, nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", proxyerr.Malformed(fmt.Sprintf("no playable url in input (%s)", shape))
}

// vet runs safety validation, normalization and the host allowlist.
func (r *Resolver) vet(candidate string) (string, error) {
	if err := safeurl.ValidateSafety(candidate); err != nil {
		return "", err
	}

	canonical, err := safeurl.Normalize(candidate)
	if err != nil {
		return "", err
	}

	host := hostOf(canonical)
	if !r.policy.IsAllowed(host) {
		return "", proxyerr.HostNotAllowed(host)
	}

	return canonical, nil
}

// probe issues a HEAD request and accepts the URL when the answer looks like
// an HLS playlist.
func (r *Resolver) probe(ctx context.Context, rawURL string, headers utils.Headers) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}

	headers.Range(func(name, value string) {
		req.Header.Set(name, value)
	})
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "Mozilla/5.0")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Str("url", safeurl.SanitizeForLogging(rawURL)).Msg("probe failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "mpegurl") || strings.Contains(contentType, "m3u8") {
		return true
	}

	return strings.Contains(rawURL, ".m3u8")
}

// extractFromJSON digs a URL string out of a JSON object input.
func extractFromJSON(input string) (string, bool) {
	if !strings.HasPrefix(strings.TrimSpace(input), "{") {
		return "", false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(input), &obj); err != nil {
		return "", false
	}

	for _, field := range jsonURLFields {
		if value, ok := obj[field].(string); ok && value != "" {
			return value, true
		}
	}
	return "", false
}

// describeShape names the shape of an input that failed to resolve, without
// echoing potentially sensitive content back.
func describeShape(input string) string {
	switch {
	case strings.HasPrefix(strings.TrimSpace(input), "{"):
		return "json object"
	case strings.Contains(input, "|"):
		return "pipe-separated"
	case orSplitRe.MatchString(input):
		return "or-separated"
	case len(input) > 2048:
		return "oversized string"
	default:
		return fmt.Sprintf("plain string of %d bytes", len(input))
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
