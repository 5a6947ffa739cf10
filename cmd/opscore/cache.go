package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the sharded TTL cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print per-shard sizes and a health-check summary",
	RunE:  runCacheStats,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheStatsCmd.Flags().String("data-dir", "./data", "Base directory for WAL segments, snapshots, and the knowledge graph")
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	system, err := openOfflineSystem(dataDir)
	if err != nil {
		return err
	}
	defer system.Shutdown()

	sizes := system.Cache.CacheShardSizes()
	total := 0
	for _, n := range sizes {
		total += n
	}
	fmt.Printf("Shards: %d  Entries: %d\n", len(sizes), total)
	for i, n := range sizes {
		fmt.Printf("  shard %d: %d\n", i, n)
	}

	health := system.Cache.HealthCheck()
	fmt.Printf("\nHealth: %s — %s\n", health.Kind, health.Message)
	return nil
}
