// Package stats implements the datastore statistics command.
package stats

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/datastore"
)

// Command creates the stats command: row counts of the synced schedule.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show datastore row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := datastore.New(settings)
			if store == nil {
				return fmt.Errorf("no datastore output enabled")
			}
			if err := store.Open(); err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := store.GetStats()
			if err != nil {
				return err
			}

			fmt.Printf("buildings:   %d\n", stats.Buildings)
			fmt.Printf("rooms:       %d\n", stats.Rooms)
			fmt.Printf("disciplines: %d\n", stats.Disciplines)
			fmt.Printf("teachers:    %d\n", stats.Teachers)
			fmt.Printf("groups:      %d\n", stats.Groups)
			fmt.Printf("entries:     %d\n", stats.Entries)
			fmt.Printf("weeks:       %d\n", stats.Weeks)
			return nil
		},
	}
}
