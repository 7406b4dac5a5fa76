package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mpetrenko/campusched/cmd/health"
	"github.com/mpetrenko/campusched/cmd/rooms"
	"github.com/mpetrenko/campusched/cmd/schedule"
	"github.com/mpetrenko/campusched/cmd/serve"
	"github.com/mpetrenko/campusched/cmd/stats"
	"github.com/mpetrenko/campusched/cmd/update"
	"github.com/mpetrenko/campusched/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "campusched",
		Short: "University timetable ingestion and room availability",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		update.Command(settings),
		serve.Command(settings),
		health.Command(settings),
		rooms.Command(settings),
		schedule.Command(settings),
		stats.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().IntVar(&settings.Source.Weeks, "weeks", viper.GetInt("source.weeks"), "Number of semester weeks to fetch")
	rootCmd.PersistentFlags().IntVar(&settings.Source.YearID, "yearid", viper.GetInt("source.yearid"), "Academic year id, 0 to auto-detect")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
