package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voicecall/internal/adapters/backend"
	"github.com/dkeye/voicecall/internal/adapters/broadcast"
	"github.com/dkeye/voicecall/internal/adapters/capture"
	router "github.com/dkeye/voicecall/internal/adapters/http"
	"github.com/dkeye/voicecall/internal/adapters/peer"
	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/app"
	"github.com/dkeye/voicecall/internal/app/media"
	"github.com/dkeye/voicecall/internal/app/orch"
	"github.com/dkeye/voicecall/internal/config"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("client stopped")
		os.Exit(1)
	}
	log.Info().Msg("Client exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	self := domain.UserID(cfg.UserID)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	be := backend.New(backend.Config{
		URL:     cfg.Backend.URL,
		Token:   cfg.AuthToken,
		Timeout: cfg.Backend.Timeout,
	})

	capturer, err := capture.New(capture.Config{})
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	rooms, err := rtc.NewFactory(rtc.RoomConfig{
		URL:        cfg.Media.SFUURL,
		ICEServers: cfg.Media.ICEServers,
		RecordDir:  cfg.Media.RecordDir,
	}, capturer.Codecs())
	if err != nil {
		return fmt.Errorf("webrtc api: %w", err)
	}
	mediaMgr := media.NewManager(media.Config{
		AppID:          cfg.Media.AppID,
		LockWait:       cfg.Media.LockWait,
		LockPoll:       cfg.Media.LockPoll,
		DisconnectWait: cfg.Media.DisconnectWait,
	}, rooms, capturer, app.SimplePolicy{}, m)

	peerClient := peer.New(peer.Config{
		URL:          cfg.Peer.URL,
		AppID:        cfg.Peer.AppID,
		MaxAttempts:  cfg.Peer.MaxAttempts,
		BackoffBase:  cfg.Peer.BackoffBase,
		LoginTimeout: cfg.Peer.LoginTimeout,
		RenewMargin:  cfg.Peer.RenewMargin,
		PingPeriod:   cfg.Peer.PingPeriod,
		ReadLimit:    cfg.Peer.ReadLimit,
	}, m)
	relay := broadcast.New(broadcast.Config{
		URL:            cfg.Broadcast.URL,
		Token:          cfg.AuthToken,
		ReconnectDelay: cfg.Broadcast.ReconnectDelay,
		PingPeriod:     cfg.Broadcast.PingPeriod,
		ReadLimit:      cfg.Broadcast.ReadLimit,
	})

	store := app.NewStore()
	ctrl := orch.New(orch.Options{
		Self:    self,
		Config:  cfg.Call,
		Store:   store,
		Media:   mediaMgr,
		Signals: app.NewDispatcher(cfg.Call.SendTimeout, m, peerClient, relay),
		Backend: be,
		Limiter: app.NewInviteLimiter(cfg.Call.InviteLimit, cfg.Call.InviteWindow),
		Metrics: m,
	})
	alerts := router.NewAlerts()
	ctrl.OnAlert(alerts.Raise)
	peerClient.OnMessage(ctrl.HandleSignal)
	relay.OnSignal(ctrl.HandleSignal)

	r := router.SetupRouter(ctx, cfg, ctrl, store, alerts, reg)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Control.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		// The call still works over the broadcast channel without the peer one.
		if err := peerClient.Connect(gctx, self, "", be.FetchRelayToken); err != nil {
			log.Warn().Str("module", "main").Err(err).Msg("peer channel unavailable")
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("user", string(self)).Msg("Voice call client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := peerClient.Disconnect(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("peer disconnect")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}
