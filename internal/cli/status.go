package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and remote service health",
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

		status := manager.Status()
		fmt.Printf("workspace:     %s\n", status.Workspace)
		fmt.Printf("agent:         %s\n", status.AgentID)
		fmt.Printf("remote prefix: %s\n", status.RemotePrefix)
		if status.LastSyncTime != nil {
			fmt.Printf("last sync:     %s\n", status.LastSyncTime.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("last sync:     never (this process)")
		}

		if err := manager.Health(cmd.Context()); err != nil {
			fmt.Printf("remote:        unreachable (%v)\n", err)
			return nil
		}

		sys, err := manager.SystemStatus(cmd.Context())
		if err != nil {
			fmt.Printf("remote:        healthy, status unavailable (%v)\n", err)
			return nil
		}
		fmt.Printf("remote:        healthy, version %s, queue depth %d\n", sys.Version, sys.QueueDepth)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
