package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/SupportCall/internal/adapters/credential"
	"github.com/dkeye/SupportCall/internal/adapters/device"
	router "github.com/dkeye/SupportCall/internal/adapters/http"
	"github.com/dkeye/SupportCall/internal/adapters/rtc"
	"github.com/dkeye/SupportCall/internal/app"
	"github.com/dkeye/SupportCall/internal/app/orch"
	"github.com/dkeye/SupportCall/internal/app/session"
	"github.com/dkeye/SupportCall/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	creds, err := credential.New(cfg.Credential)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build credential source")
	}

	transport := rtc.NewTransport(rtc.Options{
		SignalPath:       cfg.RTC.SignalPath,
		ICEServers:       cfg.RTC.ICEServers,
		HandshakeTimeout: cfg.RTC.HandshakeTimeout,
		WriteTimeout:     cfg.RTC.WriteTimeout,
		PingPeriod:       cfg.PingPeriod,
		ReadLimit:        cfg.ReadLimit,
	})
	mic := device.NewMicrophone(cfg.Audio.SourcePath, cfg.Audio.FrameDuration)
	speaker := device.NewSpeaker(cfg.Audio.PlayerCommand)

	// One coordinator per browser client; the local devices are shared and
	// held by at most one session at a time.
	reg := app.NewRegistry(func(l session.Listener) *session.Coordinator {
		return session.New(session.Options{
			Transport:  transport,
			Microphone: mic,
			Speaker:    speaker,
			Endpoint:   cfg.Credential.ServerURL,
			Config:     cfg.Session,
			Listener:   l,
		})
	}, app.SimplePolicy{})
	reg.MaxClients = cfg.Limits.MaxClients

	o := &orch.Orchestrator{
		Registry:    reg,
		Limiter:     app.NewStartLimiter(cfg.Limits.StartBurst, cfg.Limits.StartInterval),
		Credentials: creds,
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("credential_source", cfg.Credential.Source).Msg("SupportCall server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	reg.Close()
	log.Info().Msg("Server exited gracefully")
}
