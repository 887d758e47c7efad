package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/framerelay/internal/config"
	"github.com/danmuck/framerelay/internal/observability"
	"github.com/danmuck/framerelay/internal/peer"
	"github.com/danmuck/framerelay/internal/transport"
	"github.com/rs/zerolog/log"
)

func main() {
	listen := flag.String("listen", "", "endpoint to serve: tcp://host:port | unix:///path | pipes")
	admin := flag.String("admin", "", "admin HTTP address for /health and /metrics (disabled when empty)")
	configPath := flag.String("config", "", "TOML peer config; flags override its values")
	flag.Parse()

	observability.InitLogger("relayd")

	cfg, err := loadConfig(*configPath, *listen, *admin)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid relayd config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		log.Fatal().Err(err).Msg("relayd stopped")
	}
	log.Info().Msg("relayd stopped")
}

func loadConfig(path, listen, admin string) (config.PeerConfig, error) {
	cfg := config.DefaultPeerConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadPeerConfig(path); err != nil {
			return config.PeerConfig{}, err
		}
		log.Info().Str("path", path).Msg("loaded relayd config")
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if admin != "" {
		cfg.Admin = admin
	}
	if err := config.ValidatePeerConfig(cfg); err != nil {
		return config.PeerConfig{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.PeerConfig) error {
	network, address, err := peer.ParseListen(cfg.Listen)
	if err != nil {
		return err
	}

	var srv *peer.Server
	if network != string(transport.KindPipes) {
		if srv, err = peer.Listen(network, address); err != nil {
			return err
		}
		srv.Transport = cfg.TransportConfig()
		srv.Limits = cfg.Limits()
	}

	// admin outlives ctx so /ready reports shutdown while sessions drain
	adminCtx, stopAdmin := context.WithCancel(context.WithoutCancel(ctx))
	defer stopAdmin()

	var a *peer.Admin
	adminErr := make(chan error, 1)
	if cfg.Admin != "" {
		a = newAdmin(cfg, srv)
		stopWatch := context.AfterFunc(ctx, a.BeginShutdown)
		defer stopWatch()
		go func() {
			err := a.Serve(adminCtx)
			if err != nil {
				log.Error().Err(err).Msg("admin stopped")
			}
			adminErr <- err
		}()
	} else {
		adminErr <- nil
	}

	if srv == nil {
		err = peer.ServeStdio(ctx, cfg.Limits())
	} else {
		err = srv.Serve(ctx)
	}
	if a != nil {
		a.BeginShutdown()
	}
	stopAdmin()
	return errors.Join(err, <-adminErr)
}

// newAdmin builds the admin surface with the listener registered as a
// checked component.
func newAdmin(cfg config.PeerConfig, srv *peer.Server) *peer.Admin {
	a := peer.NewAdmin(cfg.Name, cfg.Admin, cfg.Listen, cfg.CorsOrigins)
	a.UnavailableStatusCode = cfg.UnavailableStatusCode
	a.CheckTimeout = cfg.CheckTimeoutDuration()
	if srv != nil {
		a.Register(srv)
		a.Sessions = srv.ActiveSessions
	}
	return a
}
