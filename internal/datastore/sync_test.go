package datastore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedEntry builds an insert-ready entry occupying (week, weekday, slot) in
// the given room, attended by one group.
func seedEntry(t *testing.T, ds *DataStore, week, weekdayID, slotID int, roomLabel string, groupSourceID int64) *ScheduleEntry {
	t.Helper()

	building, err := ds.GetOrCreateBuilding(1, "5")
	require.NoError(t, err)
	room, err := ds.GetOrCreateRoom(building.ID, 0, roomLabel)
	require.NoError(t, err)
	discipline, err := ds.GetOrCreateDiscipline(10, "mathematical analysis")
	require.NoError(t, err)
	group, err := ds.GetOrCreateGroup(groupSourceID, "6101-010302D")
	require.NoError(t, err)
	teacher, err := ds.GetOrCreateTeacher(200, "Ivanov I. I.", "teacher")
	require.NoError(t, err)

	return &ScheduleEntry{
		SourceLessonID: 555,
		WeekdayID:      weekdayID,
		SlotID:         slotID,
		RoomKey:        "5|" + roomLabel,
		RoomID:         &room.ID,
		BuildingID:     &building.ID,
		DisciplineID:   discipline.ID,
		TypeID:         TypeLecture,
		Groups:         []ScheduleGroup{{GroupID: group.ID}},
		Teachers:       []ScheduleTeacher{{TeacherID: teacher.ID}},
	}
}

func TestApplyWeekSyncInsert(t *testing.T) {
	ds := newTestStore(t)

	entry := seedEntry(t, ds, 3, 1, 2, "417", 111)
	require.NoError(t, ds.ApplyWeekSync(42, 3, []*ScheduleEntry{entry}, nil, nil))

	entries, err := ds.EntriesForYear(42)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, 42, got.YearID)
	assert.Equal(t, 3, got.Week)
	assert.Equal(t, "5|417", got.RoomKey)
	require.Len(t, got.Groups, 1)
	require.Len(t, got.Teachers, 1)
}

func TestApplyWeekSyncUpdateRewritesAssociations(t *testing.T) {
	ds := newTestStore(t)

	entry := seedEntry(t, ds, 3, 1, 2, "417", 111)
	require.NoError(t, ds.ApplyWeekSync(42, 3, []*ScheduleEntry{entry}, nil, nil))

	entries, err := ds.EntriesForYear(42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	stored := entries[0]

	physics, err := ds.GetOrCreateDiscipline(11, "physics")
	require.NoError(t, err)
	otherGroup, err := ds.GetOrCreateGroup(222, "6102-010302D")
	require.NoError(t, err)

	sub := 1
	updated := &ScheduleEntry{
		ID:             stored.ID,
		SourceLessonID: 556,
		RoomKey:        stored.RoomKey,
		RoomID:         stored.RoomID,
		BuildingID:     stored.BuildingID,
		DisciplineID:   physics.ID,
		TypeID:         TypePractice,
		Groups: []ScheduleGroup{
			{GroupID: stored.Groups[0].GroupID},
			{GroupID: otherGroup.ID, Subgroup: &sub},
		},
		Teachers: nil,
	}
	require.NoError(t, ds.ApplyWeekSync(42, 3, nil, []*ScheduleEntry{updated}, nil))

	entries, err = ds.EntriesForYear(42)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, physics.ID, got.DisciplineID)
	assert.Equal(t, TypePractice, got.TypeID)
	assert.Equal(t, int64(556), got.SourceLessonID)
	require.Len(t, got.Groups, 2)
	assert.Empty(t, got.Teachers)
}

func TestApplyWeekSyncRetireRemovesAssociations(t *testing.T) {
	ds := newTestStore(t)

	entry := seedEntry(t, ds, 3, 1, 2, "417", 111)
	require.NoError(t, ds.ApplyWeekSync(42, 3, []*ScheduleEntry{entry}, nil, nil))

	entries, err := ds.EntriesForYear(42)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, ds.ApplyWeekSync(42, 3, nil, nil, []uint{entries[0].ID}))

	entries, err = ds.EntriesForYear(42)
	require.NoError(t, err)
	assert.Empty(t, entries)

	var orphanGroups, orphanTeachers int64
	require.NoError(t, ds.DB.Model(&ScheduleGroup{}).Count(&orphanGroups).Error)
	require.NoError(t, ds.DB.Model(&ScheduleTeacher{}).Count(&orphanTeachers).Error)
	assert.Equal(t, int64(0), orphanGroups)
	assert.Equal(t, int64(0), orphanTeachers)
}

func TestApplyWeekSyncReadersNeverSeeDetachedEntries(t *testing.T) {
	ds := newTestStore(t)

	first := seedEntry(t, ds, 3, 1, 2, "417", 111)
	second := seedEntry(t, ds, 3, 1, 3, "101", 111)
	require.NoError(t, ds.ApplyWeekSync(42, 3, []*ScheduleEntry{first, second}, nil, nil))

	groupA, err := ds.GetOrCreateGroup(111, "6101-010302D")
	require.NoError(t, err)
	groupB, err := ds.GetOrCreateGroup(222, "6102-010302D")
	require.NoError(t, err)
	teacher, err := ds.GetOrCreateTeacher(200, "Ivanov I. I.", "teacher")
	require.NoError(t, err)

	stored, err := ds.EntriesForYear(42)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			entries, err := ds.EntriesForYear(42)
			if err != nil {
				// Transient lock contention, retry.
				continue
			}
			for i := range entries {
				assert.NotEmpty(t, entries[i].Groups, "entry %d visible without groups", entries[i].ID)
				assert.NotEmpty(t, entries[i].Teachers, "entry %d visible without teachers", entries[i].ID)
			}
		}
	}()

	// Each update transaction deletes and recreates the association rows; a
	// reader must only ever see the committed state on either side.
	for i := 0; i < 25; i++ {
		groupID := groupA.ID
		if i%2 == 1 {
			groupID = groupB.ID
		}
		updates := make([]*ScheduleEntry, 0, len(stored))
		for j := range stored {
			updates = append(updates, &ScheduleEntry{
				ID:             stored[j].ID,
				SourceLessonID: int64(600 + i),
				RoomKey:        stored[j].RoomKey,
				RoomID:         stored[j].RoomID,
				BuildingID:     stored[j].BuildingID,
				DisciplineID:   stored[j].DisciplineID,
				TypeID:         TypeLecture,
				Groups:         []ScheduleGroup{{GroupID: groupID}},
				Teachers:       []ScheduleTeacher{{TeacherID: teacher.ID}},
			})
		}
		require.NoError(t, ds.ApplyWeekSync(42, 3, nil, updates, nil))
	}

	close(done)
	wg.Wait()
}

func TestApplyWeekSyncEmptyIsNoop(t *testing.T) {
	ds := newTestStore(t)
	require.NoError(t, ds.ApplyWeekSync(42, 3, nil, nil, nil))
}

func TestEntriesForYearScopesByYear(t *testing.T) {
	ds := newTestStore(t)

	entry42 := seedEntry(t, ds, 3, 1, 2, "417", 111)
	require.NoError(t, ds.ApplyWeekSync(42, 3, []*ScheduleEntry{entry42}, nil, nil))
	entry43 := seedEntry(t, ds, 3, 1, 2, "417", 111)
	require.NoError(t, ds.ApplyWeekSync(43, 3, []*ScheduleEntry{entry43}, nil, nil))

	entries, err := ds.EntriesForYear(42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 42, entries[0].YearID)
}
