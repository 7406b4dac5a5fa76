// Package schedule implements the room schedule listing command.
package schedule

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mpetrenko/campusched/internal/availability"
	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/datastore"
)

// Command creates the schedule command: prints one room's week ordered by
// weekday and slot.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		building string
		room     string
		group    int64
		weekday  int
		week     int
		year     int
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show a room's or group's schedule for one week",
		RunE: func(cmd *cobra.Command, args []string) error {
			if group == 0 && (building == "" || room == "") {
				return fmt.Errorf("either --group or both --building and --room are required")
			}

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

			if group != 0 {
				entries, err := store.GroupScheduleEntries(group, year, week)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Printf("group %d has no lessons in week %d\n", group, week)
					return nil
				}
				fmt.Printf("schedule for group %d, year %d, week %d:\n", group, year, week)
				for i := range entries {
					fmt.Println(formatEntry(&entries[i]))
				}
				return nil
			}

			engine := availability.NewEngine(store)
			entries, err := engine.RoomSchedule(building, room, year, week, weekday)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Printf("room %s/%s is free for the whole week %d\n", building, room, week)
				return nil
			}

			fmt.Printf("schedule for room %s/%s, year %d, week %d:\n", building, room, year, week)
			for i := range entries {
				fmt.Println(formatEntry(&entries[i]))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&building, "building", "", "Building name")
	cmd.Flags().StringVar(&room, "room", "", "Room label")
	cmd.Flags().Int64Var(&group, "group", 0, "Group id, instead of --building and --room")
	cmd.Flags().IntVar(&weekday, "weekday", 0, "Weekday, 1 (Monday) to 7 (Sunday), 0 for the whole week")
	cmd.Flags().IntVar(&week, "week", 1, "Semester week")
	cmd.Flags().IntVar(&year, "year", 0, "Academic year id, 0 for the latest synced year")

	return cmd
}

func formatEntry(entry *datastore.ScheduleEntry) string {
	var groups []string
	for i := range entry.Groups {
		name := entry.Groups[i].Group.Name
		if sub := entry.Groups[i].Subgroup; sub != nil {
			name = fmt.Sprintf("%s/%d", name, *sub)
		}
		groups = append(groups, name)
	}
	var teachers []string
	for i := range entry.Teachers {
		teachers = append(teachers, entry.Teachers[i].Teacher.Name)
	}

	return fmt.Sprintf("  %-9s %s-%s  %-12s %s  [%s] %s",
		entry.Weekday.Name,
		entry.Slot.Begin, entry.Slot.End,
		entry.Type.Name,
		entry.Discipline.Name,
		strings.Join(groups, ", "),
		strings.Join(teachers, ", "))
}
