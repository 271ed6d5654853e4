package main

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/niss337/securechat/lib/chatcontrol"
	"github.com/niss337/securechat/lib/config"
	"github.com/niss337/securechat/lib/events"
	"github.com/niss337/securechat/lib/metrics"
	"github.com/niss337/securechat/lib/server"
	"github.com/niss337/securechat/lib/transport"
	"github.com/niss337/securechat/lib/util"
	"github.com/niss337/securechat/lib/util/logger"
	"github.com/niss337/securechat/lib/util/signals"
	"github.com/niss337/securechat/lib/util/time/sntp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds closing sessions and the control server.
const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), config.CurrentConfig())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "address to listen on (host:port)")
	flags.Int("max-sessions", 0, "maximum concurrent connections")
	flags.String("cert", "", "TLS certificate file (PEM)")
	flags.String("key", "", "TLS private key file (PEM)")
	flags.Bool("control", false, "enable the JSON-RPC control endpoint")
	flags.Bool("events", false, "publish chat events to NATS")
	_ = viper.BindPFlag("server.listen_addr", flags.Lookup("listen"))
	_ = viper.BindPFlag("server.max_sessions", flags.Lookup("max-sessions"))
	_ = viper.BindPFlag("tls.cert_file", flags.Lookup("cert"))
	_ = viper.BindPFlag("tls.key_file", flags.Lookup("key"))
	_ = viper.BindPFlag("control.enabled", flags.Lookup("control"))
	_ = viper.BindPFlag("events.enabled", flags.Lookup("events"))
	return cmd
}

func runServe(ctx context.Context, cfg config.ConfigDefaults) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tlsConfig, err := serverTLS(cfg.TLS)
	if err != nil {
		return err
	}

	collector := metrics.New(metrics.Config{})
	opts := []server.Option{server.WithMetrics(collector)}

	if cfg.Events.Enabled {
		publisher, err := events.DialNATS(events.NATSConfig{
			URL:           cfg.Events.NATSURL,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			ClientName:    cfg.Events.ClientName,
		})
		if err != nil {
			return err
		}
		util.RegisterCloser(publisher)
		opts = append(opts, server.WithEvents(publisher))
	}

	if cfg.Clock.NTPEnabled {
		clock := sntp.NewTimestamper(nil, sntp.Config{
			Servers:        cfg.Clock.Servers,
			QueryFrequency: cfg.Clock.QueryFrequency,
			Concurring:     cfg.Clock.Concurring,
			Timeout:        cfg.Clock.Timeout,
		})
		clock.Start()
		util.RegisterCloser(clock)
		opts = append(opts, server.WithClock(clock))
	}
	defer func() {
		if err := util.CloseAll(); err != nil {
			log.WithField("at", "main.runServe").WithError(err).Warn("close_failed")
		}
	}()

	srv, err := server.NewServer(&server.ServerConfig{
		ListenAddr:       cfg.Server.ListenAddr,
		Network:          "tcp",
		MaxSessions:      cfg.Server.MaxSessions,
		IdleTimeout:      cfg.Server.IdleTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		RateLimit:        cfg.Server.RateLimit,
		RateBurst:        cfg.Server.RateBurst,
		PruneEmptyRooms:  cfg.Server.PruneEmptyRooms,
		TLS:              tlsConfig,
	}, opts...)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	var control *chatcontrol.Server
	if cfg.Control.Enabled {
		controlConfig := chatcontrol.DefaultConfig()
		controlConfig.Address = cfg.Control.Address
		controlConfig.Password = cfg.Control.Password
		controlConfig.TokenExpiration = cfg.Control.TokenExpiration
		if cfg.Control.UseHTTPS {
			controlConfig.TLS = tlsConfig
		}
		control, err = chatcontrol.NewServer(controlConfig, srv, collector)
		if err != nil {
			_ = srv.Stop()
			return err
		}
		if err := control.Start(); err != nil {
			_ = srv.Stop()
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals.RegisterReloadHandler(func() {
		if err := viper.ReadInConfig(); err != nil {
			log.WithField("at", "main.reload").WithError(err).Warn("config_reload_failed")
			return
		}
		level := viper.GetString("log.level")
		logger.SetLevel(level)
		log.WithFields(logger.Fields{"at": "main.reload", "level": level}).Info("log_level_reloaded")
	})
	signals.RegisterPreShutdownHandler(func() {
		if err := srv.Stop(); err != nil {
			log.WithField("at", "main.shutdown").WithError(err).Warn("listener_stop_failed")
		}
	})
	signals.RegisterInterruptHandler(func() { cancel() })
	go signals.Handle()
	defer signals.StopHandle()

	log.WithFields(logger.Fields{
		"at":      "main.runServe",
		"addr":    srv.Addr().String(),
		"control": cfg.Control.Enabled,
		"events":  cfg.Events.Enabled,
		"ntp":     cfg.Clock.NTPEnabled,
	}).Info("securechat_started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		if err := srv.Stop(); err != nil {
			log.WithField("at", "main.shutdown").WithError(err).Warn("listener_stop_failed")
		}
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return srv.CloseSessions(sctx)
	})
	if control != nil {
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			return control.Stop(sctx)
		})
	}

	err = g.Wait()
	log.WithField("at", "main.runServe").Info("securechat_stopped")
	return err
}

// serverTLS loads the configured key pair, or generates a self-signed one.
func serverTLS(cfg config.TLSDefaults) (*tls.Config, error) {
	if cfg.CertFile != "" {
		return transport.LoadServerTLS(cfg.CertFile, cfg.KeyFile)
	}
	cert, err := transport.GenerateSelfSigned(cfg.Hosts...)
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		"at":    "main.serverTLS",
		"hosts": cfg.Hosts,
	}).Warn("using_self_signed_certificate")
	return transport.ServerTLS(cert), nil
}
