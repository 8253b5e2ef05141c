package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialcast/dialcast/internal/api"
	"github.com/dialcast/dialcast/internal/callerid"
	"github.com/dialcast/dialcast/internal/conference"
	"github.com/dialcast/dialcast/internal/config"
	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/history"
	"github.com/dialcast/dialcast/internal/metrics"
	"github.com/dialcast/dialcast/internal/notify"
	"github.com/dialcast/dialcast/internal/presence"
	"github.com/dialcast/dialcast/internal/sipprobe"
	"github.com/dialcast/dialcast/internal/store"
	"github.com/dialcast/dialcast/internal/store/memstore"
	"github.com/dialcast/dialcast/internal/store/pgstore"
	"github.com/dialcast/dialcast/internal/telephony/rest"
	"github.com/dialcast/dialcast/internal/token"
)

// lockSweepInterval is how often expired caller-identity locks are purged.
const lockSweepInterval = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialcast",
		"http_addr", cfg.HTTPAddr,
		"store_driver", cfg.StoreDriver,
		"lock_ttl", cfg.LockTTL().String(),
	)

	startTime := time.Now()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Pick the store backend. Postgres gives the lock table and winner
	// arbitration cross-instance atomicity; memory is single-instance.
	var (
		locksStore    store.LockStore
		groupStore    store.GroupStore
		transferStore store.TransferStore
	)
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := pgstore.New(cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgresql store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		locksStore, groupStore, transferStore = pg, pg, pg
	default:
		mem := memstore.New()
		locksStore, groupStore, transferStore = mem, mem, mem
	}

	// Telephony provider client.
	if !cfg.ProviderConfigured() {
		slog.Warn("telephony provider credentials not configured, outbound calls will fail")
	}
	provider := rest.NewClient(rest.Config{
		SpaceURL:  cfg.ProviderSpaceURL,
		ProjectID: cfg.ProviderProject,
		AuthToken: cfg.ProviderToken,
	}, logger)

	// Orchestration core.
	locks := callerid.NewService(locksStore, cfg.LockTTL(), logger)
	locks.StartSweep(appCtx, lockSweepInterval)

	dialOrch := dialer.NewOrchestrator(groupStore, locks, provider, logger)
	transferOrch := conference.NewOrchestrator(transferStore, locks, provider, logger)

	// Call history audit trail.
	hist, err := history.Open(cfg.HistoryDBPath, logger)
	if err != nil {
		slog.Error("failed to open call history store", "error", err)
		os.Exit(1)
	}
	defer hist.Close()
	dialOrch.SetRecorder(hist)
	transferOrch.SetRecorder(hist)

	// Agent-desktop event notifications.
	notifier := notify.NewClient(cfg.NotifyURL, logger)
	if notifier.Configured() {
		dialOrch.SetNotifier(notifier)
		transferOrch.SetNotifier(notifier)
	}

	// Voice token issuer.
	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to load jwt secret", "error", err)
		os.Exit(1)
	}
	tokens := token.NewIssuer(jwtSecret, token.DefaultTTL)

	// SIP edge probe, when a target is configured.
	probe, err := sipprobe.New(sipprobe.Config{
		Target:    cfg.ProbeTarget,
		Transport: cfg.ProbeTransport,
		Username:  cfg.ProbeUsername,
		Password:  cfg.ProbePassword,
	}, logger)
	if err != nil {
		slog.Error("failed to create sip probe", "error", err)
		os.Exit(1)
	}
	if probe != nil {
		go probe.Run(appCtx)
		defer probe.Close()
	}

	// Metrics. The collector tolerates a nil probe.
	var probeState metrics.ProbeState
	if probe != nil {
		probeState = probe
	}
	collector := metrics.NewCollector(locksStore, groupStore, transferStore, dialOrch, probeState, startTime)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	// HTTP server using the api package.
	handler := api.NewServer(api.Deps{
		Config:    cfg,
		Dialer:    dialOrch,
		Transfers: transferOrch,
		Locks:     locks,
		Selector:  presence.NewSelector(cfg.ProximityRadius),
		Tokens:    tokens,
		History:   hist,
		Probe:     probe,
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	defer handler.Close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dialcast stopped")
}
