package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	streamproxy "github.com/m1k1o/go-streamproxy"
	"github.com/m1k1o/go-streamproxy/internal/config"
)

func init() {
	command := &cobra.Command{
		Use:   "serve",
		Short: "serve streamproxy server",
		Long:  `serve streamproxy server`,
		Run:   streamproxy.Service.ServeCommand,
	}

	configs := []config.Config{
		streamproxy.Service.ServerConfig,
		streamproxy.Service.StreamConfig,
	}

	cobra.OnInitialize(func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		streamproxy.Service.Preflight()
	})

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run serve command")
		}
	}

	// re-apply config and swap the live host policy when the file changes
	onConfigLoad = append(onConfigLoad, func() {
		for _, cfg := range configs {
			cfg.Set()
		}
		streamproxy.Service.ConfigReloaded()
	})

	rootCmd.AddCommand(command)
}
