package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// status reports how the proxy sees the current request, which is the
// fastest way to debug base-URL derivation behind load balancers.
func (a *ApiManagerCtx) status(w http.ResponseWriter, r *http.Request) {
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}

	w.Header().Set("Content-Type", "application/json")
	//nolint
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"userAgent":       a.userAgent,
		"serverUrl":       serverBaseURL(r),
		"protocol":        schemeFor(r, r.Host),
		"host":            r.Host,
		"xForwardedProto": r.Header.Get("X-Forwarded-Proto"),
		"reqProtocol":     proto,
	})
}

// metricsSnapshot dumps the per-host observability counters as JSON.
func (a *ApiManagerCtx) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	//nolint
	_ = json.NewEncoder(w).Encode(a.metrics.Snapshot())
}
