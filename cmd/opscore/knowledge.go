package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var kgCmd = &cobra.Command{
	Use:   "kg",
	Short: "Inspect and sync the knowledge graph",
}

var kgSyncNowCmd = &cobra.Command{
	Use:   "sync-now",
	Short: "Run one incremental sync pass against the configured external-scheduler endpoints and exit",
	RunE:  runKGSyncNow,
}

func init() {
	kgCmd.AddCommand(kgSyncNowCmd)
	kgSyncNowCmd.Flags().String("data-dir", "./data", "Base directory for WAL segments, snapshots, and the knowledge graph")
	kgSyncNowCmd.Flags().StringToString("scheduler", nil, "kind=addr pairs of external-scheduler gRPC endpoints to sync from (repeatable)")
}

func runKGSyncNow(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	schedulers, _ := cmd.Flags().GetStringToString("scheduler")

	probers, _, err := dialSchedulers(schedulers, nil)
	if err != nil {
		return err
	}

	system, err := openOfflineSystem(dataDir, probers...)
	if err != nil {
		return err
	}
	defer system.Shutdown()

	changes, err := system.KGSync.SyncNow(context.Background())
	if err != nil {
		return fmt.Errorf("syncing knowledge graph: %w", err)
	}
	fmt.Printf("✓ Applied %d external-scheduler change(s)\n", len(changes))
	for _, c := range changes {
		fmt.Printf("  %s %s: %s\n", c.ChangeType, c.EntityKind, c.EntityID)
	}
	return nil
}
