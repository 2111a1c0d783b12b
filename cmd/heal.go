package cmd

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/prodhub/internal/watcher"
)

func init() {
	rootCmd.AddCommand(healCmd)
}

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Recreate missing report indexes and refresh statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		heal := func(label string, open func() (*sql.DB, error)) error {
			db, err := open()
			if err != nil {
				return err
			}
			created, err := watcher.HealIndexes(cmd.Context(), db)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				fmt.Printf("%s: all indexes present\n", label)
			} else {
				for _, name := range created {
					fmt.Printf("%s: created %s\n", label, name)
				}
			}
			if err := watcher.Analyze(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Printf("%s: statistics refreshed\n", label)
			return nil
		}

		if err := heal("live", a.mgr.GetWritable); err != nil {
			return err
		}
		if a.mgr.ArchivePresent() {
			if err := heal("archive", a.mgr.GetWritableArchive); err != nil {
				return err
			}
		}
		return nil
	},
}
