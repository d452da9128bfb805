package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/m1k1o/go-streamproxy/internal/proxyerr"
)

// errorEnvelope is the JSON body of every error response.
type errorEnvelope struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Hint       string `json:"hint,omitempty"`
	Host       string `json:"host,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// writeError translates a component error into its HTTP shape. CORS headers
// were already set by the middleware, so error responses stay readable
// cross-origin.
func (a *ApiManagerCtx) writeError(w http.ResponseWriter, err error) *proxyerr.Error {
	perr := proxyerr.From(err)

	envelope := errorEnvelope{
		Code:       perr.Code,
		Message:    perr.Message,
		Hint:       perr.Hint,
		Host:       perr.Host,
		RetryAfter: perr.RetryAfter,
	}
	if envelope.Code == "" {
		envelope.Code = proxyerr.ExtractCode(perr.Message, perr.Status)
	}

	w.Header().Set("Content-Type", "application/json")
	if perr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(perr.RetryAfter))
	}
	w.WriteHeader(perr.Status)
	//nolint
	_ = json.NewEncoder(w).Encode(envelope)

	return perr
}
