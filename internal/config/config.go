package config

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

type Server struct {
	PProf bool

	Bind  string
	Proxy bool
}

func (Server) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("bind", "127.0.0.1:8080", "address/port/socket to serve http")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	return nil
}

func (s *Server) Set() {
	s.PProf = viper.GetBool("pprof")
	s.Bind = viper.GetString("bind")
	s.Proxy = viper.GetBool("proxy")

	// hosting platforms hand the listen port over via PORT
	if port := os.Getenv("PORT"); port != "" {
		s.Bind = ":" + port
	}
}

type Stream struct {
	UserAgent string

	AllowedHosts []string
	HostHeaders  map[string]map[string]string

	PlaylistTTL   time.Duration
	PlaylistSweep time.Duration
	PlaylistMax   int

	SegmentCache bool

	ThrottleWindow time.Duration
	ThrottleMax    int
	ThrottleSweep  time.Duration
}

func (Stream) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("useragent", "", "default User-Agent sent upstream")
	if err := viper.BindPFlag("useragent", cmd.PersistentFlags().Lookup("useragent")); err != nil {
		return err
	}

	cmd.PersistentFlags().StringSlice("hosts.allow", nil, "upstream host allowlist, empty allows all")
	if err := viper.BindPFlag("hosts.allow", cmd.PersistentFlags().Lookup("hosts.allow")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("cache.playlist-ttl", 30*time.Second, "playlist cache entry lifetime")
	if err := viper.BindPFlag("cache.playlist-ttl", cmd.PersistentFlags().Lookup("cache.playlist-ttl")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("cache.playlist-sweep", 10*time.Second, "playlist cache sweep period")
	if err := viper.BindPFlag("cache.playlist-sweep", cmd.PersistentFlags().Lookup("cache.playlist-sweep")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("cache.playlist-max", 500, "playlist cache entry cap")
	if err := viper.BindPFlag("cache.playlist-max", cmd.PersistentFlags().Lookup("cache.playlist-max")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("cache.segments", false, "cache complete non-range segment responses")
	if err := viper.BindPFlag("cache.segments", cmd.PersistentFlags().Lookup("cache.segments")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("throttle.window", time.Minute, "throttle sliding window")
	if err := viper.BindPFlag("throttle.window", cmd.PersistentFlags().Lookup("throttle.window")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("throttle.max", 60, "max requests per client per window")
	if err := viper.BindPFlag("throttle.max", cmd.PersistentFlags().Lookup("throttle.max")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("throttle.sweep", time.Minute, "throttle idle record sweep period")
	if err := viper.BindPFlag("throttle.sweep", cmd.PersistentFlags().Lookup("throttle.sweep")); err != nil {
		return err
	}

	return nil
}

func (s *Stream) Set() {
	s.UserAgent = viper.GetString("useragent")

	s.AllowedHosts = viper.GetStringSlice("hosts.allow")

	// per-host header templates only make sense in a config file
	s.HostHeaders = map[string]map[string]string{}
	for host, headers := range viper.GetStringMap("hosts.headers") {
		tpl := map[string]string{}
		if m, ok := headers.(map[string]any); ok {
			for name, value := range m {
				if str, ok := value.(string); ok {
					tpl[name] = str
				}
			}
		}
		if len(tpl) > 0 {
			s.HostHeaders[host] = tpl
		}
	}

	s.PlaylistTTL = viper.GetDuration("cache.playlist-ttl")
	s.PlaylistSweep = viper.GetDuration("cache.playlist-sweep")
	s.PlaylistMax = viper.GetInt("cache.playlist-max")

	s.SegmentCache = viper.GetBool("cache.segments")

	s.ThrottleWindow = viper.GetDuration("throttle.window")
	s.ThrottleMax = viper.GetInt("throttle.max")
	s.ThrottleSweep = viper.GetDuration("throttle.sweep")
}
