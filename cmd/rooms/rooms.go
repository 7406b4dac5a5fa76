// Package rooms implements the free-room query command.
package rooms

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mpetrenko/campusched/internal/availability"
	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/datastore"
)

// Command creates the rooms command: lists the rooms of a building that are
// free for a clock window on one weekday.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		building string
		weekday  int
		start    string
		end      string
		week     int
		year     int
	)

	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List free rooms for a time window",
		Long:  "Lists the rooms of a building with no scheduled lesson in any slot of the window. With --week 0 the rooms must be free in every week of the year.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := datastore.New(settings)
			if store == nil {
				return fmt.Errorf("no datastore output enabled")
			}
			if err := store.Open(); err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if year == 0 {
				latest, err := store.LatestYearID()
				if err != nil {
					return err
				}
				if latest == 0 {
					return fmt.Errorf("datastore is empty, run an ingestion first")
				}
				year = latest
			}

			engine := availability.NewEngine(store)
			free, err := engine.AvailableRooms(building, weekday, start, end, year, week)
			if err != nil {
				return err
			}

			if len(free) == 0 {
				fmt.Printf("no free rooms in building %s on weekday %d %s-%s\n", building, weekday, start, end)
				if rooms, err := store.RoomsInBuilding(datastore.NormalizeName(building)); err == nil && len(rooms) == 0 {
					if known, err := store.Buildings(); err == nil && len(known) > 0 {
						fmt.Println("known buildings:")
						for i := range known {
							fmt.Printf("  %s\n", known[i].Name)
						}
					}
				}
				return nil
			}
			fmt.Printf("free rooms in building %s on weekday %d %s-%s (year %d, week %d):\n",
				building, weekday, start, end, year, week)
			for i := range free {
				fmt.Printf("  %s\n", free[i].Label)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&building, "building", "", "Building name")
	cmd.Flags().IntVar(&weekday, "weekday", 1, "Weekday, 1 (Monday) to 7 (Sunday)")
	cmd.Flags().StringVar(&start, "start", "", "Window start, HH:MM on a slot boundary")
	cmd.Flags().StringVar(&end, "end", "", "Window end, HH:MM on a slot boundary")
	cmd.Flags().IntVar(&week, "week", 0, "Semester week, 0 for every week")
	cmd.Flags().IntVar(&year, "year", 0, "Academic year id, 0 for the latest synced year")
	_ = cmd.MarkFlagRequired("building")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}
