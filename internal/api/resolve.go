package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/m1k1o/go-streamproxy/internal/proxyerr"
	"github.com/m1k1o/go-streamproxy/internal/utils"
)

// resolve normalizes a messy provider string down to one playable manifest
// URL before playback begins.
func (a *ApiManagerCtx) resolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.writeError(w, proxyerr.Malformed(fmt.Sprintf("invalid json body: %v", err)))
		return
	}
	if body.URL == "" {
		a.writeError(w, proxyerr.Malformed("missing url field"))
		return
	}

	headers := utils.NewHeaders()
	for name, value := range body.Headers {
		headers.Set(name, value)
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resolved, err := a.resolver.Resolve(ctx, body.URL, headers)
	if err != nil {
		a.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	//nolint
	_ = json.NewEncoder(w).Encode(map[string]any{
		"url":      resolved,
		"resolved": true,
	})
}
