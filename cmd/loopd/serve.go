package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"loopd/internal/config"
	"loopd/internal/httpapi"
	"loopd/internal/manager"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr, cacheDir, corsOrigins string
		maxSessions                 int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve generation sessions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.cfg.Server
			if cmd.Flags().Changed("addr") {
				s.Addr = addr
			}
			if cmd.Flags().Changed("cache-dir") {
				s.CacheDir = cacheDir
			}
			if cmd.Flags().Changed("max-sessions") {
				s.MaxSessions = maxSessions
			}
			if cmd.Flags().Changed("cors-origins") {
				s.CORS.Enabled = true
				s.CORS.Origins = splitCSV(corsOrigins)
			}
			a.cfg.Server = s

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a, prometheus.DefaultRegisterer, nil)
		},
	}
	defaultAddr := ":8080"
	if v := os.Getenv("LOOPD_ADDR"); v != "" {
		defaultAddr = v
	}
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", defaultAddr, "HTTP listen address, e.g. :8080")
	fl.StringVar(&cacheDir, "cache-dir", "", "Directory holding session cache files")
	fl.IntVar(&maxSessions, "max-sessions", 0, "Maximum concurrently running sessions")
	fl.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	return cmd
}

// newManager wires the session manager from configuration.
func newManager(a *app, reg prometheus.Registerer) *manager.Manager {
	s := a.cfg.Server
	logger := a.log.With().Str("component", "manager").Logger()
	return manager.NewWithConfig(manager.ManagerConfig{
		Defaults:     a.cfg.Generation,
		Factory:      manager.SimFactory{Config: a.cfg.Model},
		CacheDir:     s.CacheDir,
		MaxSessions:  s.MaxSessions,
		MaxWait:      time.Duration(s.MaxWaitSeconds) * time.Second,
		DrainTimeout: time.Duration(s.DrainTimeoutSeconds) * time.Second,
		Publisher:    manager.NewMetrics(reg),
		Logger:       &logger,
	})
}

// configureHTTP applies server settings to the HTTP layer.
func configureHTTP(ctx context.Context, a *app) {
	s := a.cfg.Server
	httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(httpLogLevel(a.cfg.Log))
	httpapi.SetMaxBodyBytes(s.MaxBodyBytes)
	httpapi.SetMaxPollSeconds(s.MaxPollSeconds)
	httpapi.SetCORSOptions(s.CORS.Enabled, s.CORS.Origins, s.CORS.Methods, s.CORS.Headers)
	httpapi.SetBaseContext(ctx)
}

func httpLogLevel(c config.Log) string {
	switch strings.ToLower(c.Level) {
	case "debug", "trace":
		return "debug"
	case "error", "fatal", "panic":
		return "error"
	default:
		return "info"
	}
}

// serve runs until ctx is done, then shuts the listener down and drains
// sessions. Loop metrics go to reg; ready, when not nil, receives the
// bound address.
func serve(ctx context.Context, a *app, reg prometheus.Registerer, ready chan<- string) error {
	mgr := newManager(a, reg)
	configureHTTP(ctx, a)
	srv := &http.Server{
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return err
	}
	a.log.Info().Str("addr", ln.Addr().String()).Str("cache_dir", a.cfg.Server.CacheDir).Int("max_sessions", a.cfg.Server.MaxSessions).Msg("loopd listening")
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errc := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown (Ctrl+C / SIGTERM)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.DrainTimeoutSeconds+1)*time.Second)
	defer cancelDrain()
	if err := mgr.Close(drainCtx); err != nil {
		a.log.Warn().Err(err).Msg("sessions did not drain")
	}
	return nil
}

// splitCSV splits a comma-separated list, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
