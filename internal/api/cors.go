package api

import (
	"net/http"

	"github.com/m1k1o/go-streamproxy/internal/proxyerr"
	"github.com/m1k1o/go-streamproxy/internal/throttle"
)

// setCORSHeaders emits the permissive cross-origin header set. It is applied
// to every response, including errors, so browsers can always read the
// outcome.
func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Range, Accept, Origin, Referer, User-Agent, Authorization, X-Requested-With")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges, Content-Type")
	h.Set("Access-Control-Allow-Credentials", "false")
	h.Set("Access-Control-Max-Age", "86400")
}

// corsMiddleware answers preflight requests and decorates everything else.
func (a *ApiManagerCtx) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// throttleMiddleware applies the per-client rate limit to every endpoint.
func (a *ApiManagerCtx) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed, retryAfter := a.throttler.Admit(throttle.ClientID(r)); !allowed {
			a.writeError(w, proxyerr.RateLimited(retryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}
