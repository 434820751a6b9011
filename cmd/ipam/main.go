package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ttani03/lan-ipam/internal/allocator"
	"github.com/ttani03/lan-ipam/internal/config"
	"github.com/ttani03/lan-ipam/internal/database"
	"github.com/ttani03/lan-ipam/internal/handlers"
	"github.com/ttani03/lan-ipam/internal/ledger"
	"github.com/ttani03/lan-ipam/internal/logger"
	"github.com/ttani03/lan-ipam/internal/metrics"
	"github.com/ttani03/lan-ipam/internal/models"
	"github.com/ttani03/lan-ipam/internal/netprobe"
	"github.com/ttani03/lan-ipam/internal/report"
	"github.com/ttani03/lan-ipam/internal/subnets"
)

var cfg config.Config

func main() {
	var cmd = cobra.Command{
		Use:           "ipam",
		Short:         "LAN IP address manager",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			logger.Init(cfg.Debug, os.Stderr, cfg.LogFile)
			return nil
		},
		RunE: runServe,
	}

	cmd.AddCommand(
		&cobra.Command{Use: "serve", Short: "Run the HTTP server", RunE: runServe},
		&cobra.Command{Use: "migrate", Short: "Apply the database schema", RunE: runMigrate},
		&cobra.Command{Use: "probe <address>", Short: "Report whether an address answers on the LAN", Args: cobra.ExactArgs(1), RunE: runProbe},
		&cobra.Command{Use: "stale <subnet-id>", Short: "Write the stale allocation report as CSV", Args: cobra.ExactArgs(1), RunE: runStale},
	)

	if err := cmd.Execute(); err != nil {
		logger.Log().WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func connect(ctx context.Context) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	// The database container may still be starting.
	return database.ConnectWithRetry(ctx, cfg.DatabaseURL, 10, 2*time.Second)
}

func newOracle() *netprobe.Oracle {
	return netprobe.NewOracle(netprobe.NewSystemProber(), netprobe.Options{
		Interface: cfg.ProbeInterface,
		Timeout:   cfg.ProbeTimeout,
		Policy:    netprobe.ParsePolicy(cfg.ProbeFailurePolicy),
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Log().WithError(err).Warn("failed to execute schema")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	engine := allocator.New(database.DB, newOracle(), allocator.Config{
		FirstFreeAttempts: cfg.FirstFreeAttempts,
		SpecificAttempts:  cfg.SpecificAttempts,
	})
	handlers.Configure(engine, cfg.StaleDays)

	root := http.NewServeMux()
	root.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	root.Handle("/", handlers.RequireIdentity(handlers.Routes()))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.RequestLogger(root),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "probe_iface": cfg.ProbeInterface,
			"probe_policy": cfg.ProbeFailurePolicy}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if err := connect(cmd.Context()); err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(cmd.Context()); err != nil {
		return err
	}
	logger.Log().Info("schema applied")
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	addr, err := netip.ParseAddr(args[0])
	if err != nil || !addr.Is4() {
		return fmt.Errorf("invalid IPv4 address %q", args[0])
	}

	state := "free"
	if newOracle().InUse(cmd.Context(), addr) {
		state = "in use"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", addr, state)
	return nil
}

func runStale(cmd *cobra.Command, args []string) error {
	id, err := models.ParseID(args[0])
	if err != nil {
		return fmt.Errorf("invalid subnet id %q", args[0])
	}

	ctx := cmd.Context()
	if err := connect(ctx); err != nil {
		return err
	}
	defer database.Close()

	subnet, err := subnets.Get(ctx, database.DB, id, false)
	if err != nil {
		return err
	}

	now := time.Now()
	allocs, err := ledger.StaleAllocations(ctx, database.DB, id, report.StaleCutoff(now, cfg.StaleDays))
	if err != nil {
		return err
	}
	return report.WriteStaleCSV(cmd.OutOrStdout(), subnet, allocs, now)
}
