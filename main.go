package streamproxy

import (
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-streamproxy/internal/api"
	"github.com/m1k1o/go-streamproxy/internal/config"
	"github.com/m1k1o/go-streamproxy/internal/hlsproxy"
	"github.com/m1k1o/go-streamproxy/internal/hostpolicy"
	"github.com/m1k1o/go-streamproxy/internal/http"
	"github.com/m1k1o/go-streamproxy/internal/metrics"
	"github.com/m1k1o/go-streamproxy/internal/playlistcache"
	"github.com/m1k1o/go-streamproxy/internal/resolve"
	"github.com/m1k1o/go-streamproxy/internal/throttle"
)

var Service *Main

func init() {
	Service = &Main{
		ServerConfig: &config.Server{},
		StreamConfig: &config.Stream{},
	}
}

type Main struct {
	ServerConfig *config.Server
	StreamConfig *config.Stream

	logger zerolog.Logger

	playlists  *playlistcache.Cache
	segments   *playlistcache.SegmentCache
	throttler  *throttle.Throttler
	metrics    *metrics.Manager
	policy     *hostpolicy.Policy
	proxy      *hlsproxy.ManagerCtx
	resolver   *resolve.Resolver
	apiManager *api.ApiManagerCtx
	server     *http.HttpManagerCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) Start() {
	streamConfig := main.StreamConfig

	main.policy = hostpolicy.New(streamConfig.AllowedHosts, streamConfig.HostHeaders)

	main.playlists = playlistcache.New(playlistcache.Config{
		TTL:         streamConfig.PlaylistTTL,
		SweepPeriod: streamConfig.PlaylistSweep,
		MaxEntries:  streamConfig.PlaylistMax,
	})
	main.playlists.Start()

	if streamConfig.SegmentCache {
		main.segments = playlistcache.NewSegmentCache()
	}

	main.throttler = throttle.New(throttle.Config{
		Window:      streamConfig.ThrottleWindow,
		MaxRequests: streamConfig.ThrottleMax,
		SweepPeriod: streamConfig.ThrottleSweep,
	})
	main.throttler.Start()

	main.metrics = metrics.New()

	main.proxy = hlsproxy.New(hlsproxy.Config{
		UserAgent: streamConfig.UserAgent,
	}, main.policy, main.playlists, main.segments)

	main.resolver = resolve.New(main.policy)

	userAgent := streamConfig.UserAgent
	if userAgent == "" {
		userAgent = hlsproxy.DefaultUserAgent
	}

	main.apiManager = api.New(
		main.proxy,
		main.resolver,
		main.policy,
		main.throttler,
		main.metrics,
		userAgent,
	)

	main.server = http.New(main.ServerConfig)
	main.server.Mount(main.apiManager.Mount)

	if main.ServerConfig.PProf {
		main.server.WithDebugPProf("/debug/pprof")
	}

	main.server.Start()
}

func (main *Main) Shutdown() {
	if err := main.server.Shutdown(); err != nil {
		main.logger.Err(err).Msg("server shutdown with an error")
	} else {
		main.logger.Debug().Msg("server shutdown")
	}

	main.proxy.Shutdown()
	main.throttler.Stop()
}

// ConfigReloaded applies a changed configuration file to the live
// components. Only the host policy is hot-swappable; bind address and
// cache/throttle sizing need a restart.
func (main *Main) ConfigReloaded() {
	if main.policy == nil {
		// initial load, Start has not wired the components yet
		return
	}

	main.policy.Reload(main.StreamConfig.AllowedHosts, main.StreamConfig.HostHeaders)
	main.logger.Info().Msg("host policy reloaded")
}

func (main *Main) ServeCommand(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.Start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}
