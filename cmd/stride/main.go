package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/stride/pkg/config"
	"github.com/cuemby/stride/pkg/election"
	"github.com/cuemby/stride/pkg/events"
	"github.com/cuemby/stride/pkg/gc"
	"github.com/cuemby/stride/pkg/health"
	"github.com/cuemby/stride/pkg/kill"
	"github.com/cuemby/stride/pkg/log"
	"github.com/cuemby/stride/pkg/metrics"
	"github.com/cuemby/stride/pkg/offers"
	"github.com/cuemby/stride/pkg/scheduler"
	"github.com/cuemby/stride/pkg/storage"
	"github.com/cuemby/stride/pkg/tracker"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stride",
	Short: "Stride - Mesos workload orchestrator control plane",
	Long: `Stride is a long-running cluster workload orchestrator that drives
app and pod specifications toward a declared target state by negotiating
resource offers with an underlying two-level scheduler.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stride version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(gcCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane",
	Long: `Run the Stride control plane: join leader election, and on gaining
leadership resume persisted deployments, reconcile tasks and keep
run-specs at their declared instance counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})
		logger := log.WithComponent("main")

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		collector := gc.New(store, nil, gc.Config{
			ScanInterval:    cfg.GCInterval.Std(),
			MaxVersions:     cfg.MaxVersions,
			MaxRootVersions: cfg.MaxRootVersions,
		})
		guarded := collector.Guard(store)

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		tr := tracker.New(guarded.Instances(), broker, nil)
		ctx := context.Background()
		if err := tr.Load(ctx); err != nil {
			return err
		}
		tr.Start()
		defer tr.Stop()

		// The offer layer connects here; until a driver registers, demand
		// queues and kills are recorded but not delivered.
		driver := &offers.RecordingDriver{}
		queue := &offers.RecordingLaunchQueue{}

		killer := kill.NewService(driver, tr, broker, nil, kill.Config{
			ChunkSize:    cfg.KillChunkSize,
			RetryTimeout: cfg.KillRetryTimeout.Std(),
		})
		killer.Start(ctx)
		defer killer.Stop()

		sched := scheduler.New(guarded, tr, killer, queue, driver, broker, health.NewReadinessRunner(), nil)
		defer sched.Stop()

		collector.Start()
		defer collector.Stop()

		candidate := election.NewCandidate(election.Config{
			NodeID:   cfg.NodeID,
			BindAddr: cfg.BindAddr,
			DataDir:  cfg.DataDir,
		})
		if err := candidate.Bootstrap(); err != nil {
			return fmt.Errorf("failed to start election: %w", err)
		}
		defer candidate.Shutdown()

		if cfg.MetricsAddr != "" {
			go func() {
				logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
				if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil {
					logger.Error().Err(err).Msg("metrics listener failed")
				}
			}()
		}

		go func() {
			for isLeader := range candidate.LeaderCh() {
				if isLeader {
					logger.Info().Msg("gained leadership")
					if err := sched.ElectedAsLeaderAndReady(ctx); err != nil {
						// Unrecoverable repository failure at election
						// time is fatal.
						logger.Fatal().Err(err).Msg("leader activation failed")
					}
					sched.ReconcileTasks(ctx)
					collector.RunGC()
				} else {
					logger.Info().Msg("lost leadership")
					broker.Publish(&events.Event{Type: events.EventLeadershipLost})
					sched.Suspend()
				}
			}
		}()

		logger.Info().Str("node_id", cfg.NodeID).Msg("control plane running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down")
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Run one garbage collection pass against the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel)})

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		collector := gc.New(store, nil, gc.Config{
			MaxVersions:     cfg.MaxVersions,
			MaxRootVersions: cfg.MaxRootVersions,
		})
		collector.Start()
		collector.RunGC()

		for collector.State() != gc.StateReadyForGC {
			time.Sleep(50 * time.Millisecond)
		}
		fmt.Println("✓ Garbage collection complete")
		return nil
	},
}
