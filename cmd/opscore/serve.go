package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/workloadcore/pkg/cache"
	"github.com/cuemby/workloadcore/pkg/core"
	"github.com/cuemby/workloadcore/pkg/health"
	"github.com/cuemby/workloadcore/pkg/knowledge"
	"github.com/cuemby/workloadcore/pkg/metrics"
	"github.com/cuemby/workloadcore/pkg/syncapi"
	"github.com/cuemby/workloadcore/pkg/transaction"

	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the core: cache, feedback loop, and knowledge graph",
	Long: `serve brings up the full storage/coordination core — the
sharded TTL cache with WAL and snapshotting, the feedback-aware
retriever and review queue, the audit-to-knowledge-graph pipeline, and
the knowledge graph's cache and incremental sync managers — and blocks
until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "./data", "Base directory for WAL segments, snapshots, and the knowledge graph")
	serveCmd.Flags().Int("shards", 16, "Number of cache shards")
	serveCmd.Flags().Float64("default-ttl", 3600, "Default entry TTL in seconds")
	serveCmd.Flags().Duration("cleanup-interval", 30*time.Second, "Interval between expired-entry sweeps")
	serveCmd.Flags().Duration("warming-interval", 0, "Interval between adaptive-TTL warming passes (0 disables)")
	serveCmd.Flags().Int("max-entries", 1_000_000, "Maximum total cache entries before eviction")
	serveCmd.Flags().Int("max-memory-mb", 512, "Maximum estimated cache memory in MB before eviction")
	serveCmd.Flags().Bool("paranoia-mode", false, "Apply conservative bounds overrides regardless of configured limits")
	serveCmd.Flags().Bool("enable-wal", true, "Enable the write-ahead log")
	serveCmd.Flags().Int64("wal-max-segment-bytes", 64*1024*1024, "WAL segment rotation threshold in bytes")
	serveCmd.Flags().Duration("wal-retention", 7*24*time.Hour, "How long rotated WAL segments are retained")
	serveCmd.Flags().Duration("snapshot-retention", 7*24*time.Hour, "How long snapshot files are retained")
	serveCmd.Flags().Int("max-active-transactions", 1000, "Maximum simultaneously active transactions")
	serveCmd.Flags().Duration("transaction-timeout", 5*time.Minute, "How long a transaction may remain active before expiring")
	serveCmd.Flags().Duration("kg-cache-ttl", 5*time.Minute, "Knowledge-graph working-copy staleness window")
	serveCmd.Flags().Duration("kg-sync-interval", time.Minute, "Interval between external-scheduler delta syncs")
	serveCmd.Flags().String("pattern-dictionary", "", "Path to a YAML pattern dictionary (built-in table if unset)")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address the /metrics, /health, /ready, and /live endpoints listen on")
	serveCmd.Flags().StringToString("scheduler", nil, "kind=addr pairs of external-scheduler gRPC endpoints to sync from and health-check (repeatable, e.g. --scheduler job=10.0.0.1:7100)")
	serveCmd.Flags().StringToString("scheduler-http", nil, "kind=url pairs of external-scheduler REST health endpoints to additionally poll (repeatable, e.g. --scheduler-http job=http://10.0.0.1:31116/health)")
	serveCmd.Flags().Duration("health-check-interval", 30*time.Second, "Interval between external-scheduler connectivity checks")
}

// dialSchedulers opens one gRPC connection per kind=addr pair, wrapping
// each in a syncapi.Client (for KGSyncManager's Probers) and a
// health.TCPChecker (for System's health monitor) against the same
// address. Connections are left open for the process lifetime; there
// is no corresponding close path because Dial uses grpc.NewClient's
// lazy-connect semantics, matching how the teacher's manager command
// leaves its own long-lived client connections open until process exit.
//
// httpEndpoints optionally adds a health.HTTPChecker per kind=url pair
// for schedulers that also expose a REST health route (e.g. the
// Dynamic Workload Console) separate from the gRPC sync port; these
// contribute no prober, only an additional health signal under its
// own "scheduler.<kind>.http" status key.
func dialSchedulers(endpoints map[string]string, httpEndpoints map[string]string) ([]knowledge.EntityProber, map[string]health.Checker, error) {
	probers := make([]knowledge.EntityProber, 0, len(endpoints))
	checkers := make(map[string]health.Checker, len(endpoints)+len(httpEndpoints))

	for kind, addr := range endpoints {
		client, err := syncapi.Dial(addr, kind, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("dialing scheduler %q at %s: %w", kind, addr, err)
		}
		probers = append(probers, client)
		checkers["scheduler."+kind] = health.NewTCPChecker(addr)
	}
	for kind, url := range httpEndpoints {
		checkers["scheduler."+kind+".http"] = health.NewHTTPChecker(url)
	}
	return probers, checkers, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	shards, _ := cmd.Flags().GetInt("shards")
	defaultTTL, _ := cmd.Flags().GetFloat64("default-ttl")
	cleanupInterval, _ := cmd.Flags().GetDuration("cleanup-interval")
	warmingInterval, _ := cmd.Flags().GetDuration("warming-interval")
	maxEntries, _ := cmd.Flags().GetInt("max-entries")
	maxMemoryMB, _ := cmd.Flags().GetInt("max-memory-mb")
	paranoiaMode, _ := cmd.Flags().GetBool("paranoia-mode")
	enableWAL, _ := cmd.Flags().GetBool("enable-wal")
	walMaxSegmentBytes, _ := cmd.Flags().GetInt64("wal-max-segment-bytes")
	walRetention, _ := cmd.Flags().GetDuration("wal-retention")
	snapshotRetention, _ := cmd.Flags().GetDuration("snapshot-retention")
	maxActiveTxns, _ := cmd.Flags().GetInt("max-active-transactions")
	txnTimeout, _ := cmd.Flags().GetDuration("transaction-timeout")
	kgCacheTTL, _ := cmd.Flags().GetDuration("kg-cache-ttl")
	kgSyncInterval, _ := cmd.Flags().GetDuration("kg-sync-interval")
	patternDictionary, _ := cmd.Flags().GetString("pattern-dictionary")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	schedulers, _ := cmd.Flags().GetStringToString("scheduler")
	schedulerHTTP, _ := cmd.Flags().GetStringToString("scheduler-http")
	healthCheckInterval, _ := cmd.Flags().GetDuration("health-check-interval")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	probers, healthCheckers, err := dialSchedulers(schedulers, schedulerHTTP)
	if err != nil {
		return err
	}

	cfg := core.Config{
		DataDir: dataDir,
		Cache: cache.Config{
			NumShards:          shards,
			DefaultTTLSeconds:  defaultTTL,
			CleanupInterval:    cleanupInterval,
			WarmingInterval:    warmingInterval,
			MaxEntries:         maxEntries,
			MaxMemoryMB:        maxMemoryMB,
			ParanoiaMode:       paranoiaMode,
			EnableWAL:          enableWAL,
			WALDir:             filepath.Join(dataDir, "wal"),
			WALMaxSegmentBytes: walMaxSegmentBytes,
			WALRetention:       walRetention,
			SnapshotDir:        filepath.Join(dataDir, "snapshots"),
			SnapshotRetention:  snapshotRetention,
		},
		Transaction:           transaction.Config{MaxActive: maxActiveTxns, Timeout: txnTimeout},
		PatternDictionaryPath: patternDictionary,
		Probers:               probers,
		KGCacheTTL:            kgCacheTTL,
		KGSyncInterval:        kgSyncInterval,
		HealthCheckers:        healthCheckers,
		HealthCheck:           health.Config{Interval: healthCheckInterval, Timeout: 5 * time.Second, Retries: 3},
		MetricsVersion:        Version,
	}

	system, err := core.NewSystem(cfg)
	if err != nil {
		return fmt.Errorf("constructing core: %w", err)
	}
	if len(schedulers) > 0 {
		fmt.Printf("✓ %d external-scheduler endpoint(s) dialed for sync and health checks\n", len(schedulers))
	}
	fmt.Println("✓ Cache, feedback store, review queue, and knowledge graph constructed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	system.Start(ctx)
	fmt.Println("✓ Background loops started (cache cleanup/warming, KG refresh, KG sync)")

	metrics.RegisterComponent("wal", enableWAL, "")
	metrics.RegisterComponent("cache", true, "ready")
	metrics.RegisterComponent("knowledge_graph", true, "ready")

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())

	errCh := make(chan error, 1)
	go func() {
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
	fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live}\n", metricsAddr)
	fmt.Println()
	fmt.Println("opscore is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	cancel()
	if err := system.Shutdown(); err != nil {
		return fmt.Errorf("shutting down core: %w", err)
	}
	fmt.Println("✓ Shutdown complete")
	return nil
}
