package api

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/go-streamproxy/internal/hlsproxy"
	"github.com/m1k1o/go-streamproxy/internal/hostpolicy"
	"github.com/m1k1o/go-streamproxy/internal/metrics"
	"github.com/m1k1o/go-streamproxy/internal/resolve"
	"github.com/m1k1o/go-streamproxy/internal/throttle"
)

type ApiManagerCtx struct {
	logger zerolog.Logger

	proxy     hlsproxy.Manager
	resolver  *resolve.Resolver
	policy    *hostpolicy.Policy
	throttler *throttle.Throttler
	metrics   *metrics.Manager

	userAgent string
}

func New(
	proxy hlsproxy.Manager,
	resolver *resolve.Resolver,
	policy *hostpolicy.Policy,
	throttler *throttle.Throttler,
	m *metrics.Manager,
	userAgent string,
) *ApiManagerCtx {
	return &ApiManagerCtx{
		logger:    log.With().Str("module", "api").Logger(),
		proxy:     proxy,
		resolver:  resolver,
		policy:    policy,
		throttler: throttler,
		metrics:   m,
		userAgent: userAgent,
	}
}

func (a *ApiManagerCtx) Mount(r *chi.Mux) {
	r.Use(a.corsMiddleware)
	r.Use(a.throttleMiddleware)

	r.Get("/proxy/status", a.status)
	r.Get("/proxy/metrics", a.metricsSnapshot)
	r.Handle("/metrics", a.metrics.Handler())

	r.Get("/m3u8-proxy", a.m3u8ProxyGet)
	r.Post("/m3u8-proxy", a.m3u8ProxyPost)
	r.Get("/proxy/hls", a.hlsAlias)
	r.Get("/ts-proxy", a.tsProxy)
	r.Get("/sub-proxy", a.subProxy)
	r.Post("/resolve", a.resolve)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		//nolint
		w.Write([]byte("pong"))
	})
}
