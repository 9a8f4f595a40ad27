package cli

import (
	"fmt"

	"github.com/harun/recall/pkg/syncer"
	"github.com/spf13/cobra"
)

var (
	syncForce  bool
	syncReason string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile workspace memory files with the remote context database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		manager, log, err := buildManager(cfg)
		if err != nil {
			return err
		}
		defer log.Close()
		defer manager.Close()

		err = manager.Sync(cmd.Context(), syncReason, syncForce, func(ev syncer.ProgressEvent) {
			switch ev.Phase {
			case syncer.PhaseScan:
				fmt.Printf("scanning: %d candidates\n", ev.Total)
			case syncer.PhaseUpsert:
				fmt.Printf("uploading %s (%d/%d)\n", ev.Path, ev.Done+1, ev.Total)
			case syncer.PhaseRemove:
				fmt.Printf("removing %s (%d/%d)\n", ev.Path, ev.Done+1, ev.Total)
			case syncer.PhaseWait:
				fmt.Println("waiting for remote processing queue")
			case syncer.PhaseDone:
				fmt.Printf("sync finished: %s\n", ev.Message)
			}
		})
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "re-upload every file regardless of fingerprints")
	syncCmd.Flags().StringVar(&syncReason, "reason", "cli", "reason recorded with the sync run")
	rootCmd.AddCommand(syncCmd)
}
