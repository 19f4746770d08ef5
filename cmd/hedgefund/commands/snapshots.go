package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/hedgefund/internal/snapshot"
)

var snapshotsTicker string

// snapshotsCmd lists the snapshot index
var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List mirrored data snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		w := snapshot.Init(cfg, log)
		if w == nil {
			fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render("snapshots are disabled (DATA_SNAPSHOT_ENABLED=false)"))
			return nil
		}
		defer snapshot.Close()

		entries, err := w.Index(cmd.Context())
		if err != nil {
			return fmt.Errorf("read snapshot index: %w", err)
		}
		if snapshotsTicker != "" {
			filtered := entries[:0]
			for _, e := range entries {
				if e.Ticker == snapshotsTicker {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}
		printSnapshots(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.Flags().StringVar(&snapshotsTicker, "ticker", "", "only this ticker")
}
