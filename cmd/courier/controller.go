package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/courier/pkg/api"
	"github.com/cuemby/courier/pkg/configserv"
	"github.com/cuemby/courier/pkg/log"
	"github.com/cuemby/courier/pkg/manager"
	"github.com/cuemby/courier/pkg/metrics"
	"github.com/cuemby/courier/pkg/plans"
	"github.com/cuemby/courier/pkg/reconciler"
	"github.com/cuemby/courier/pkg/source"
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the control plane",
}

var controllerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the controller",
	Long: `Start the controller on this node.

The node bootstraps a single-node Raft cluster holding the cluster
resources, watches the spaces directory for address space declarations
and reconciles every declared space onto broker units. Configuration
snapshots are served over gRPC on --api-addr.`,
	RunE: runController,
}

func init() {
	controllerCmd.AddCommand(controllerRunCmd)

	f := controllerRunCmd.Flags()
	f.String("plans", "plans.yaml", "Plan catalog file")
	f.String("spaces-dir", "./spaces", "Directory of address space declarations")
	f.String("data-dir", "./courier-data", "Data directory for cluster state")
	f.String("node-id", "controller-1", "Unique node ID")
	f.String("bind-addr", "127.0.0.1:7946", "Address for Raft communication")
	f.String("api-addr", "127.0.0.1:8080", "Address for the gRPC config service")
	f.String("health-addr", "127.0.0.1:9090", "Address for health and metrics endpoints")
	f.Duration("resync", 30*time.Second, "Full resync interval")
	f.Int("workers", 2, "Instances reconciled concurrently")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.Bool("json-logs", false, "Emit logs as JSON")
}

func runController(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	plansPath, _ := f.GetString("plans")
	spacesDir, _ := f.GetString("spaces-dir")
	dataDir, _ := f.GetString("data-dir")
	nodeID, _ := f.GetString("node-id")
	bindAddr, _ := f.GetString("bind-addr")
	apiAddr, _ := f.GetString("api-addr")
	healthAddr, _ := f.GetString("health-addr")
	resync, _ := f.GetDuration("resync")
	workers, _ := f.GetInt("workers")
	levelFlag, _ := f.GetString("log-level")
	jsonLogs, _ := f.GetBool("json-logs")

	level, err := log.ParseLevel(levelFlag)
	if err != nil {
		return err
	}
	log.Init(log.Config{Level: level, JSONOutput: jsonLogs})
	logger := log.WithNodeID(nodeID)

	catalog, err := plans.Load(plansPath)
	if err != nil {
		return err
	}
	logger.Info().
		Int("address_plans", len(catalog.AddressPlans())).
		Int("space_plans", len(catalog.AddressSpacePlans())).
		Msg("Loaded plan catalog")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("Manager shutdown failed")
		}
	}()

	if err := mgr.Bootstrap(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = mgr.WaitForLeader(waitCtx)
	cancel()
	if err != nil {
		return err
	}
	metrics.UpdateComponent(metrics.ComponentRaft, true, "leader")

	src := source.NewFilesystemSource(source.Config{Dir: spacesDir, ResyncInterval: resync})
	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch %s: %w", spacesDir, err)
	}
	defer func() { _ = src.Stop() }()

	ctrl := reconciler.New(mgr, src, catalog, reconciler.Config{
		Workers:        workers,
		ResyncInterval: resync,
	})
	dist := configserv.NewDistributor(mgr.Feed(), configserv.Config{})
	apiServer := api.NewServer(dist.Registry())
	healthServer := api.NewHealthServer(mgr, ctrl)

	collector := metrics.NewCollector(mgr)
	collector.Start()
	defer collector.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(ctrl.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(dist.Run(gctx)) })
	g.Go(func() error { return apiServer.Start(apiAddr) })
	g.Go(func() error { return healthServer.Start(healthAddr) })
	g.Go(func() error {
		<-gctx.Done()
		// Watch streams only end when their clients leave, so do not wait
		// for them.
		apiServer.ForceStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info().
		Str("api_addr", apiAddr).
		Str("health_addr", healthAddr).
		Str("spaces_dir", spacesDir).
		Msg("Controller is running")

	err = g.Wait()
	logger.Info().Msg("Shutdown complete")
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
