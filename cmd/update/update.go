// Package update implements the one-shot ingestion command.
package update

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/datastore"
	"github.com/mpetrenko/campusched/internal/ingest"
	"github.com/mpetrenko/campusched/internal/timetable"
)

// Command creates the update command: a single full ingestion run.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Run one full timetable ingestion",
		Long:  "Fetches the whole semester from the timetable source, normalizes it and syncs the datastore. Exits non-zero when the run fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return RunOnce(ctx, settings)
		},
	}
}

// RunOnce wires the pipeline together and executes one ingestion pass.
func RunOnce(ctx context.Context, settings *conf.Settings) error {
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

	runner := ingest.NewRunner(client, store, settings)
	summary, err := runner.Run(ctx)
	if err != nil {
		if summary != nil {
			fmt.Printf("run %s cancelled, partial progress committed: inserted %d, updated %d, retired %d\n",
				summary.RunID, summary.Inserted, summary.Updated, summary.Retired)
		}
		return err
	}

	fmt.Printf("run %s finished in %s\n", summary.RunID, summary.Duration().Round(time.Millisecond))
	fmt.Printf("  year %d, %d groups, %d scopes fetched\n", summary.YearID, summary.Groups, summary.ScopesFetched)
	fmt.Printf("  inserted %d, updated %d, retired %d\n", summary.Inserted, summary.Updated, summary.Retired)
	if summary.Gaps > 0 || summary.Malformed > 0 || summary.Conflicts > 0 {
		fmt.Printf("  gaps %d, malformed %d, conflicts %d\n", summary.Gaps, summary.Malformed, summary.Conflicts)
	}
	return nil
}
