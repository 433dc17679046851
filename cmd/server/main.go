package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	natsbus "github.com/Wyydra/yacall/internal/adapter/driven/bus/nats"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/presence/redis"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts config.ServerOptions
	cmd := &cobra.Command{
		Use:           "yacall-server",
		Short:         "Call-signaling relay",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(opts, nil)
			if err != nil {
				return err
			}
			if err := config.SetupLogging(cfg.Logging, os.Stdout); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ListenAddr, "listen", "", "listen address (default "+config.DefaultListenAddr+")")
	f.StringVar(&opts.StaticDir, "static", "", "directory served at / (default "+config.DefaultStaticDir+")")
	f.StringVar(&opts.AllowedOrigins, "allowed-origins", "", "comma-separated websocket origin allowlist")
	f.StringVar(&opts.ShutdownTimeout, "shutdown-timeout", "", "graceful shutdown timeout")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level")
	f.StringVar(&opts.LogFormat, "log-format", "", "console or json")
	f.StringVar(&opts.NodeID, "node-id", "", "node id in cluster mode (random by default)")
	f.StringVar(&opts.RedisAddr, "redis", "", "Redis address for the presence directory")
	f.StringVar(&opts.RedisPassword, "redis-password", "", "Redis password")
	f.StringVar(&opts.RedisDB, "redis-db", "", "Redis database")
	f.StringVar(&opts.NATSURL, "nats", "", "NATS URL for the inter-node bus")
	f.StringVar(&opts.PresenceTTL, "presence-ttl", "", "presence entry TTL")
	return cmd
}

func run(parent context.Context, cfg *config.Server) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	var relayOpts []service.RelayOption
	if cfg.Clustered() {
		presence, err := redis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer presence.Close()

		bus, err := natsbus.Connect(natsbus.Config{
			Servers: []string{cfg.NATSURL},
			Name:    "yacall-" + cfg.NodeID.String(),
		})
		if err != nil {
			return err
		}
		defer bus.Close()

		relayOpts = append(relayOpts, service.WithCluster(cfg.NodeID, presence, bus, cfg.PresenceTTL))
		log.Info().Str("node_id", cfg.NodeID.String()).Msg("Cluster mode enabled")
	}

	relay := service.NewRelayService(hub, relayOpts...)
	var relayErr chan error
	if cfg.Clustered() {
		relayErr = make(chan error, 1)
		go func() { relayErr <- relay.Run(ctx) }()
	}

	h := handler.NewHandler(relay, handler.Options{
		StaticDir:      cfg.StaticDir,
		AllowedOrigins: cfg.AllowedOrigins,
		Node:           cfg.NodeID,
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h.NewRouter(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case err := <-relayErr:
		if err != nil {
			log.Error().Err(err).Msg("Cluster relay stopped")
		}
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
	return nil
}
