package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var walCmd = &cobra.Command{
	Use:   "wal",
	Short: "Inspect and replay the write-ahead log",
}

var walReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Force an immediate WAL replay into the cache and report entries applied",
	RunE:  runWALReplay,
}

func init() {
	walCmd.AddCommand(walReplayCmd)
	walReplayCmd.Flags().String("data-dir", "./data", "Base directory for WAL segments, snapshots, and the knowledge graph")
}

func runWALReplay(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	system, err := openOfflineSystem(dataDir)
	if err != nil {
		return err
	}
	defer system.Shutdown()

	n, err := system.Cache.Replay()
	if err != nil {
		return fmt.Errorf("replaying wal: %w", err)
	}
	fmt.Printf("✓ Replayed %d entries\n", n)
	return nil
}
