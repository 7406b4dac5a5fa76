// Package health implements the reachability check command.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/datastore"
	"github.com/mpetrenko/campusched/internal/ingest"
	"github.com/mpetrenko/campusched/internal/timetable"
)

// Command creates the health command: verifies the datastore and the
// timetable source without running an ingestion.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check datastore and timetable source reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			store := datastore.New(settings)
			if store == nil {
				return fmt.Errorf("no datastore output enabled")
			}
			if err := store.Open(); err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			client, err := timetable.NewClient(timetable.ConfigFromSettings(settings))
			if err != nil {
				return err
			}
			if err := client.Authenticate(ctx); err != nil {
				return err
			}

			runner := ingest.NewRunner(client, store, settings)
			if err := runner.HealthCheck(ctx); err != nil {
				return err
			}

			fmt.Println("ok: datastore and timetable source are healthy")
			return nil
		},
	}
}
