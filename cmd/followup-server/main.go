package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tiger/discharge-followup/internal/callflow"
	"github.com/tiger/discharge-followup/internal/config"
	"github.com/tiger/discharge-followup/internal/httpapi"
	"github.com/tiger/discharge-followup/internal/ledger"
	"github.com/tiger/discharge-followup/internal/logger"
	"github.com/tiger/discharge-followup/internal/promptcache"
	"github.com/tiger/discharge-followup/internal/runtime/executionpool"
	"github.com/tiger/discharge-followup/internal/runtime/provider/bootstrap"
	providerconfig "github.com/tiger/discharge-followup/internal/runtime/provider/config"
	"github.com/tiger/discharge-followup/internal/settings"
	"github.com/tiger/discharge-followup/internal/store/sqlite"
	ttsplivo "github.com/tiger/discharge-followup/providers/tts/plivo"
	"github.com/tiger/discharge-followup/transports/telephony/plivo"
	"github.com/tiger/discharge-followup/transports/websocket"
)

const (
	cacheSweepInterval = time.Minute
	abandonGrace       = 2 * time.Second
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "followup-server: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, _ io.Writer) error {
	if len(args) == 0 || args[0] == "serve" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	}

	switch args[0] {
	case "providers":
		return runProviderBootstrap(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stdout)
		return fmt.Errorf("unsupported command %q", args[0])
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: followup-server [serve|providers|help]")
	_, _ = fmt.Fprintln(w, "  serve      run the HTTP server (default)")
	_, _ = fmt.Fprintln(w, "  providers  build every provider adapter from the environment and list them")
}

func runProviderBootstrap(stdout io.Writer) error {
	reg, err := bootstrap.BuildProviders(providerconfig.OSEnv(), bootstrap.Options{
		DefaultTTS: os.Getenv("DEFAULT_TTS_PROVIDER"),
		DefaultSTT: os.Getenv("DEFAULT_STT_PROVIDER"),
	})
	if err != nil {
		return fmt.Errorf("provider bootstrap failed: %w", err)
	}
	summary, err := bootstrap.Summary(reg)
	if err != nil {
		return fmt.Errorf("provider summary failed: %w", err)
	}
	_, _ = fmt.Fprintf(stdout, "followup-server: %s\n", summary)
	return nil
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	previous := logger.SetBase(log)
	defer func() {
		_ = log.Sync()
		logger.SetBase(previous)
	}()

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	settingsSvc, err := settings.New(store)
	if err != nil {
		return err
	}
	if cfg.SettingsFile != "" {
		go func() {
			if err := settingsSvc.Watch(ctx, cfg.SettingsFile); err != nil {
				log.Error("settings watcher stopped", zap.String("path", cfg.SettingsFile), zap.Error(err))
			}
		}()
	}

	env := providerconfig.OSEnv()
	reg, err := bootstrap.BuildProviders(env, bootstrap.Options{DefaultTTS: cfg.DefaultTTSProvider, DefaultSTT: cfg.DefaultSTTProvider})
	if err != nil {
		return fmt.Errorf("provider bootstrap failed: %w", err)
	}
	if summary, err := bootstrap.Summary(reg); err == nil {
		log.Info(summary)
	}
	dialer, err := plivo.NewClient(plivo.ConfigFromEnv(env))
	if err != nil {
		return err
	}

	pool := executionpool.NewManager(executionpool.Config{Workers: cfg.STTWorkers, Capacity: cfg.STTQueue})
	cache := promptcache.New()
	go sweepCache(ctx, cache)
	feed := websocket.NewHub(websocket.Config{AllowedOrigins: cfg.FeedOrigins})

	coord, err := callflow.New(cfg.PublicURL, callflow.Deps{
		Store:     store,
		Ledger:    ledger.New(store),
		Providers: reg,
		Settings:  settingsSvc,
		Cache:     cache,
		Dialer:    dialer,
		Jobs:      pool,
		Dedupe:    store,
		Native:    ttsplivo.NewAdapter(),
		Feed:      feed,
	})
	if err != nil {
		return err
	}
	if _, err := coord.Recover(ctx); err != nil {
		return fmt.Errorf("recover transcriptions: %w", err)
	}

	api := &httpapi.Server{
		Coordinator: coord,
		Patients:    store,
		Settings:    settingsSvc,
		Feed:        feed,
		Health:      store.Ping,
	}
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.ListenAddr), zap.String("public_url", cfg.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	feed.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := coord.Drain(shutdownCtx); err != nil {
		log.Warn("transcription jobs abandoned", zap.Error(err), zap.Any("pool", pool.Stats()))
		// Cancelled jobs release their claims on the way out; let them reach the store.
		graceCtx, graceCancel := context.WithTimeout(context.Background(), abandonGrace)
		defer graceCancel()
		if err := coord.WaitIdle(graceCtx); err != nil {
			log.Warn("abandoned jobs still running at exit", zap.Error(err))
		}
	}
	return nil
}

func sweepCache(ctx context.Context, cache *promptcache.Cache) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := cache.Sweep(); removed > 0 {
				logger.Base().Debug("prompt cache swept", zap.Int("removed", removed))
			}
		}
	}
}
