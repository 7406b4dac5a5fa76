// defaults.go: default values for the viper configuration.
package conf

import "github.com/spf13/viper"

// setDefaultConfig registers default values for every configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main settings
	viper.SetDefault("main.name", "campusched")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs")
	viper.SetDefault("main.log.rotation", RotationSize)

	// Timetable source settings
	viper.SetDefault("source.baseurl", "https://ssau.ru/rasp")
	viper.SetDefault("source.apiurl", "https://cabinet.ssau.ru/api/timetable/get-timetable")
	viper.SetDefault("source.loginurl", "https://cabinet.ssau.ru/login")
	viper.SetDefault("source.username", "")
	viper.SetDefault("source.password", "")
	viper.SetDefault("source.sessionid", "")
	viper.SetDefault("source.yearid", 0)
	viper.SetDefault("source.weeks", 18)
	viper.SetDefault("source.concurrency", 30)
	viper.SetDefault("source.ratelimit", 25)
	viper.SetDefault("source.maxretries", 3)
	viper.SetDefault("source.timeoutsec", 10)
	viper.SetDefault("source.catalogpath", "cache/groups.json")

	// Schedule store settings
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "schedule.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "campusched")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
	viper.SetDefault("output.mysql.database", "campusched")

	// Updater service settings
	viper.SetDefault("updater.schedule", "0 5 * * *")
	viper.SetDefault("updater.healthintervalmin", 10)
}
