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

	router "github.com/mkrajcer/castroom/internal/adapters/http"
	"github.com/mkrajcer/castroom/internal/app"
	"github.com/mkrajcer/castroom/internal/app/orch"
	"github.com/mkrajcer/castroom/internal/config"
	"github.com/mkrajcer/castroom/internal/engine"
	"github.com/mkrajcer/castroom/internal/engine/msoup"
	"github.com/mkrajcer/castroom/internal/recording"
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

	eng := engine.New(engine.Config{
		WorkerCount: cfg.WorkerCount,
		Listen: engine.ListenConfig{
			IP:          cfg.ListenIP,
			AnnouncedIP: cfg.AnnouncedIP,
		},
	}, msoup.NewFactory(cfg.WorkerBin))

	restreamer, err := recording.NewRestreamer(recording.Config{
		HlsDir:         cfg.HlsDir,
		FfmpegPath:     cfg.FfmpegPath,
		BasePort:       cfg.RtpBasePort,
		StopGrace:      cfg.StopGrace,
		SegmentSeconds: cfg.SegmentSeconds,
		PlaylistSize:   cfg.PlaylistSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init restreamer")
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Engine:   eng,
		Streamer: restreamer,
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("castroom server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	for _, room := range o.Rooms() {
		if room.Streaming {
			_ = restreamer.Stop(room.ID)
		}
	}
	eng.Close()
	log.Info().Msg("Server exited gracefully")
}
