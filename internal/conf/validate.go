// validate.go: validation of loaded settings.
package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks the loaded settings for inconsistencies that would
// make a run fail in a confusing way later.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if settings.Source.APIURL == "" {
		errs = append(errs, errors.New("source.apiurl must not be empty"))
	}
	if settings.Source.Weeks < 1 || settings.Source.Weeks > 52 {
		errs = append(errs, fmt.Errorf("source.weeks must be between 1 and 52, got %d", settings.Source.Weeks))
	}
	if settings.Source.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("source.concurrency must be at least 1, got %d", settings.Source.Concurrency))
	}
	if settings.Source.RateLimit < 1 {
		errs = append(errs, fmt.Errorf("source.ratelimit must be at least 1, got %d", settings.Source.RateLimit))
	}
	if settings.Source.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("source.maxretries must not be negative, got %d", settings.Source.MaxRetries))
	}
	if settings.Source.SessionID == "" && (settings.Source.Username == "" || settings.Source.Password == "") {
		errs = append(errs, errors.New("either source.sessionid or source.username and source.password must be set"))
	}

	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		errs = append(errs, errors.New("at least one of output.sqlite or output.mysql must be enabled"))
	}
	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		errs = append(errs, errors.New("output.sqlite.path must not be empty"))
	}
	if settings.Output.MySQL.Enabled && settings.Output.MySQL.Database == "" {
		errs = append(errs, errors.New("output.mysql.database must not be empty"))
	}

	switch settings.Main.Log.Rotation {
	case RotationDaily, RotationWeekly, RotationSize:
	default:
		errs = append(errs, fmt.Errorf("main.log.rotation must be daily, weekly or size, got %q", settings.Main.Log.Rotation))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
