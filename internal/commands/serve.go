package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"moodcam/internal/config"
	"moodcam/internal/emotion"
	"moodcam/internal/live"
	"moodcam/internal/realtime"
	"moodcam/internal/report"
	"moodcam/internal/session"
	"moodcam/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Port = port
			}
			return serve(opts.logContext(cmd.Context()), cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides the config)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	frames := frameSource(ctx, cfg)
	detector := newDetector(cfg)

	// Recording sessions get the detector directly; the live endpoints
	// share a rate limit so polling clients cannot starve them.
	sessions := session.NewManager(ctx, store, emotion.NewSampler(frames, detector), cfg.MaxSessions)
	monitor := live.NewMonitor(
		emotion.NewSampler(frames, emotion.NewLimitedSource(detector, cfg.Live.MaxRate)),
		cfg.Live.Interval, cfg.Live.History)

	srv := realtime.New(ctx, sessions, monitor, cfg.StaticDir)
	sessions.OnUpdate(srv.OnSessionUpdate)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go monitor.Run(runCtx)
	go srv.ForwardReadings(runCtx)

	if cfg.Store.Backend == report.BackendFile {
		w, err := watcher.New(cfg.Store.ReportsDir, srv.OnReportSaved)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "report watcher disabled"})
		} else {
			go w.Run(runCtx)
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf(ctx, "moodcam listening on http://localhost:%d", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-runCtx.Done():
	}

	log.Info(ctx, log.KV{K: "msg", V: "shutting down"})
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// running sessions are finalized before the listener goes away so their
	// update messages still reach connected clients
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "sessions did not finish"})
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
