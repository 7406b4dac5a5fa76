// interfaces.go defines the interface for the database operations
package datastore

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mpetrenko/campusched/internal/conf"
)

// Interface abstracts the underlying database implementation and defines the
// operations the ingestion pipeline and the availability engine need.
type Interface interface {
	Open() error
	Close() error
	Ping() error
	SeedReferenceData() error

	// Reference resolution during normalization.
	GetOrCreateBuilding(sourceID int64, name string) (*Building, error)
	GetOrCreateRoom(buildingID uint, sourceID int64, label string) (*Room, error)
	GetOrCreateDiscipline(sourceID int64, name string) (*Discipline, error)
	GetOrCreateTeacher(sourceID int64, name, state string) (*Teacher, error)
	GetOrCreateGroup(sourceID int64, name string) (*Group, error)

	// Sync.
	EntriesForYear(yearID int) ([]ScheduleEntry, error)
	ApplyWeekSync(yearID, week int, inserts, updates []*ScheduleEntry, retireIDs []uint) error

	// Queries.
	LatestYearID() (int, error)
	AllGroups() ([]Group, error)
	TimeSlots() ([]TimeSlot, error)
	Buildings() ([]Building, error)
	RoomsInBuilding(buildingName string) ([]Room, error)
	OccupiedRoomIDs(yearID, week, weekdayID int, slotIDs []int) ([]uint, error)
	RoomScheduleEntries(roomID uint, yearID, week, weekdayID int) ([]ScheduleEntry, error)
	GroupScheduleEntries(groupSourceID int64, yearID, week int) ([]ScheduleEntry, error)
	GetStats() (Stats, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a datastore instance based on the configured output.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// Ping verifies the underlying connection is alive.
func (ds *DataStore) Ping() error {
	if ds.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return fmt.Errorf("retrieving database handle: %w", err)
	}
	return sqlDB.Ping()
}

// GetOrCreateBuilding resolves a building by name, creating it on first
// sight. The source id is refreshed when the source starts reporting one.
func (ds *DataStore) GetOrCreateBuilding(sourceID int64, name string) (*Building, error) {
	if name == "" {
		return nil, fmt.Errorf("building name must not be empty")
	}

	var building Building
	err := ds.DB.Where(&Building{Name: name}).
		Attrs(Building{SourceID: sourceID}).
		FirstOrCreate(&building).Error
	if err != nil {
		return nil, fmt.Errorf("resolving building %q: %w", name, err)
	}

	if sourceID != 0 && building.SourceID != sourceID {
		building.SourceID = sourceID
		if err := ds.DB.Model(&building).Update("source_id", sourceID).Error; err != nil {
			return nil, fmt.Errorf("updating building %q: %w", name, err)
		}
	}
	return &building, nil
}

// GetOrCreateRoom resolves a room by (building, label).
func (ds *DataStore) GetOrCreateRoom(buildingID uint, sourceID int64, label string) (*Room, error) {
	if label == "" {
		return nil, fmt.Errorf("room label must not be empty")
	}

	var room Room
	err := ds.DB.Where(&Room{BuildingID: buildingID, Label: label}).
		Attrs(Room{SourceID: sourceID}).
		FirstOrCreate(&room).Error
	if err != nil {
		return nil, fmt.Errorf("resolving room %q in building %d: %w", label, buildingID, err)
	}
	return &room, nil
}

// GetOrCreateDiscipline resolves a discipline by its normalized name.
func (ds *DataStore) GetOrCreateDiscipline(sourceID int64, name string) (*Discipline, error) {
	if name == "" {
		return nil, fmt.Errorf("discipline name must not be empty")
	}

	var discipline Discipline
	err := ds.DB.Where(&Discipline{Name: name}).
		Attrs(Discipline{SourceID: sourceID}).
		FirstOrCreate(&discipline).Error
	if err != nil {
		return nil, fmt.Errorf("resolving discipline %q: %w", name, err)
	}
	return &discipline, nil
}

// GetOrCreateTeacher resolves a teacher by source id, refreshing the display
// name when the source renames them.
func (ds *DataStore) GetOrCreateTeacher(sourceID int64, name, state string) (*Teacher, error) {
	if sourceID == 0 {
		return nil, fmt.Errorf("teacher source id must not be zero")
	}

	var teacher Teacher
	err := ds.DB.Where(&Teacher{SourceID: sourceID}).
		Attrs(Teacher{Name: name, State: state}).
		FirstOrCreate(&teacher).Error
	if err != nil {
		return nil, fmt.Errorf("resolving teacher %d: %w", sourceID, err)
	}

	if name != "" && teacher.Name != name {
		teacher.Name = name
		teacher.State = state
		if err := ds.DB.Model(&teacher).Updates(map[string]any{"name": name, "state": state}).Error; err != nil {
			return nil, fmt.Errorf("updating teacher %d: %w", sourceID, err)
		}
	}
	return &teacher, nil
}

// GetOrCreateGroup resolves a student group by source id.
func (ds *DataStore) GetOrCreateGroup(sourceID int64, name string) (*Group, error) {
	if sourceID == 0 {
		return nil, fmt.Errorf("group source id must not be zero")
	}

	var group Group
	err := ds.DB.Where(&Group{SourceID: sourceID}).
		Attrs(Group{Name: name}).
		FirstOrCreate(&group).Error
	if err != nil {
		return nil, fmt.Errorf("resolving group %d: %w", sourceID, err)
	}

	if name != "" && group.Name != name {
		group.Name = name
		if err := ds.DB.Model(&group).Update("name", name).Error; err != nil {
			return nil, fmt.Errorf("updating group %d: %w", sourceID, err)
		}
	}
	return &group, nil
}

// TimeSlots returns the canonical slot grid ordered by slot id.
func (ds *DataStore) TimeSlots() ([]TimeSlot, error) {
	var slots []TimeSlot
	if err := ds.DB.Order("id ASC").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("getting time slots: %w", err)
	}
	return slots, nil
}

// Buildings returns all known buildings ordered by name.
func (ds *DataStore) Buildings() ([]Building, error) {
	var buildings []Building
	if err := ds.DB.Order("name ASC").Find(&buildings).Error; err != nil {
		return nil, fmt.Errorf("getting buildings: %w", err)
	}
	return buildings, nil
}

// GetStats counts the datastore contents.
func (ds *DataStore) GetStats() (Stats, error) {
	var stats Stats
	counts := []struct {
		model any
		dst   *int64
	}{
		{&Building{}, &stats.Buildings},
		{&Room{}, &stats.Rooms},
		{&Discipline{}, &stats.Disciplines},
		{&Teacher{}, &stats.Teachers},
		{&Group{}, &stats.Groups},
		{&ScheduleEntry{}, &stats.Entries},
	}
	for _, c := range counts {
		if err := ds.DB.Model(c.model).Count(c.dst).Error; err != nil {
			return Stats{}, fmt.Errorf("counting rows: %w", err)
		}
	}

	err := ds.DB.Model(&ScheduleEntry{}).
		Distinct("week").
		Count(&stats.Weeks).Error
	if err != nil {
		return Stats{}, fmt.Errorf("counting weeks: %w", err)
	}
	return stats, nil
}

// performAutoMigration migrates the schema and seeds the reference tables.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Building{}, &Room{}, &Discipline{}, &Teacher{}, &Group{},
		&Weekday{}, &TimeSlot{}, &LessonType{},
		&ScheduleEntry{}, &ScheduleGroup{}, &ScheduleTeacher{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger builds the GORM logger used by both store kinds.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
			Colorful:      true,
		},
	)
}

// upsertByID is the conflict clause for seeded reference tables.
var upsertByID = clause.OnConflict{
	Columns:   []clause.Column{{Name: "id"}},
	UpdateAll: true,
}
