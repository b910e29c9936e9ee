package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dwalbeck/job-track-now-portal/internal/capture"
	"github.com/dwalbeck/job-track-now-portal/internal/config"
	"github.com/dwalbeck/job-track-now-portal/internal/playback"
	"github.com/dwalbeck/job-track-now-portal/internal/portal"
	"github.com/dwalbeck/job-track-now-portal/internal/session"
	"github.com/dwalbeck/job-track-now-portal/internal/view"
)

func main() {
	var (
		jobID       = flag.String("job-id", "", "job posting the interview is for")
		companyID   = flag.String("company-id", "", "company the job belongs to")
		resumeID    = flag.String("resume-id", "", "resume to tailor the questions to")
		listDevices = flag.Bool("list-devices", false, "print input devices and exit")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	if *listDevices {
		devices, err := capture.ListInputDevices()
		if err != nil {
			logger.Fatal("device listing failed", zap.Error(err))
		}
		for i, d := range devices {
			log.Printf("  [%d] %s", i, d.Name)
		}
		return
	}

	if *jobID == "" || *companyID == "" || *resumeID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()

	client := portal.NewClient(cfg.APIBaseURL, cfg.AccessToken, logger)
	mic := capture.NewMicrophone(cfg.InputDeviceIndex, logger)

	// The player's callbacks close over the session, which does not exist
	// yet; they only run once audio is playing.
	var sess *session.Session
	player := playback.NewPlayer(cfg.WordRevealEvery, playback.Events{
		OnSpectrum: func(bars []float64) { sess.UpdateSpectrum(bars) },
		OnWord:     func(string) { sess.CaptionChanged() },
		OnComplete: func() { sess.PlaybackFinished() },
	}, logger)
	if err := player.OpenDevice(); err != nil {
		logger.Fatal("output device unavailable", zap.Error(err))
	}
	defer player.CloseDevice()

	sess = session.New(&cfg, client, mic, player, *jobID, *companyID, *resumeID, logger)
	client.OnAuthFailure = sess.AuthFailed

	srv := view.New(sess, logger)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("view listening", zap.String("addr", cfg.HTTPAddress))
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	prepCtx, prepCancel := context.WithCancel(context.Background())
	defer prepCancel()
	go func() {
		if err := sess.Prepare(prepCtx); err != nil {
			logger.Error("interview preparation failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	prepCancel()
	sess.Exit()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
