package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *DataStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, performAutoMigration(db, false, "SQLite", dbPath))

	ds := &DataStore{DB: db}
	require.NoError(t, ds.SeedReferenceData())
	return ds
}

func TestSeedReferenceDataIsIdempotent(t *testing.T) {
	ds := newTestStore(t)

	// The helper already seeded once; a second pass must not duplicate rows.
	require.NoError(t, ds.SeedReferenceData())

	slots, err := ds.TimeSlots()
	require.NoError(t, err)
	require.Len(t, slots, 8)
	assert.Equal(t, "08:00", slots[0].Begin)
	assert.Equal(t, "22:05", slots[7].End)

	var weekdays int64
	require.NoError(t, ds.DB.Model(&Weekday{}).Count(&weekdays).Error)
	assert.Equal(t, int64(7), weekdays)

	var types int64
	require.NoError(t, ds.DB.Model(&LessonType{}).Count(&types).Error)
	assert.Equal(t, int64(4), types)
}

func TestSlotIDForBeginTime(t *testing.T) {
	assert.Equal(t, 1, SlotIDForBeginTime("08:00"))
	assert.Equal(t, 4, SlotIDForBeginTime("13:30"))
	assert.Equal(t, 8, SlotIDForBeginTime("20:30"))
	assert.Equal(t, 0, SlotIDForBeginTime("08:15"))
}

func TestGetOrCreateBuildingIsStable(t *testing.T) {
	ds := newTestStore(t)

	first, err := ds.GetOrCreateBuilding(7, "5")
	require.NoError(t, err)
	second, err := ds.GetOrCreateBuilding(7, "5")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, ds.DB.Model(&Building{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetOrCreateRoomUniquePerBuilding(t *testing.T) {
	ds := newTestStore(t)

	b5, err := ds.GetOrCreateBuilding(1, "5")
	require.NoError(t, err)
	b14, err := ds.GetOrCreateBuilding(2, "14")
	require.NoError(t, err)

	// The same label in different buildings is two distinct rooms.
	r1, err := ds.GetOrCreateRoom(b5.ID, 10, "417")
	require.NoError(t, err)
	r2, err := ds.GetOrCreateRoom(b14.ID, 11, "417")
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID)

	again, err := ds.GetOrCreateRoom(b5.ID, 10, "417")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, again.ID)
}

func TestGetOrCreateTeacherRefreshesName(t *testing.T) {
	ds := newTestStore(t)

	created, err := ds.GetOrCreateTeacher(200, "Ivanov I. I.", "teacher")
	require.NoError(t, err)

	renamed, err := ds.GetOrCreateTeacher(200, "Ivanov Ivan Ivanovich", "professor")
	require.NoError(t, err)
	assert.Equal(t, created.ID, renamed.ID)

	var stored Teacher
	require.NoError(t, ds.DB.First(&stored, created.ID).Error)
	assert.Equal(t, "Ivanov Ivan Ivanovich", stored.Name)
	assert.Equal(t, "professor", stored.State)
}

func TestGetOrCreateGroupBySourceID(t *testing.T) {
	ds := newTestStore(t)

	g, err := ds.GetOrCreateGroup(531873125, "6101-010302D")
	require.NoError(t, err)
	again, err := ds.GetOrCreateGroup(531873125, "6101-010302D")
	require.NoError(t, err)
	assert.Equal(t, g.ID, again.ID)

	_, err = ds.GetOrCreateGroup(0, "nameless")
	assert.Error(t, err)
}

func TestGetStats(t *testing.T) {
	ds := newTestStore(t)

	b, err := ds.GetOrCreateBuilding(1, "5")
	require.NoError(t, err)
	_, err = ds.GetOrCreateRoom(b.ID, 1, "417")
	require.NoError(t, err)
	_, err = ds.GetOrCreateDiscipline(10, "mathematical analysis")
	require.NoError(t, err)

	stats, err := ds.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Buildings)
	assert.Equal(t, int64(1), stats.Rooms)
	assert.Equal(t, int64(1), stats.Disciplines)
	assert.Equal(t, int64(0), stats.Entries)
}
