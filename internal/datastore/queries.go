package datastore

import "fmt"

// LatestYearID returns the newest academic year present in the store, or 0
// when no entries have been synced yet.
func (ds *DataStore) LatestYearID() (int, error) {
	var year *int
	err := ds.DB.Model(&ScheduleEntry{}).
		Select("MAX(year_id)").
		Scan(&year).Error
	if err != nil {
		return 0, fmt.Errorf("getting latest year: %w", err)
	}
	if year == nil {
		return 0, nil
	}
	return *year, nil
}

// AllGroups returns every known student group.
func (ds *DataStore) AllGroups() ([]Group, error) {
	var groups []Group
	if err := ds.DB.Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("getting groups: %w", err)
	}
	return groups, nil
}

// RoomsInBuilding returns the rooms of a building ordered by label. An
// unknown building name yields an empty slice, not an error.
func (ds *DataStore) RoomsInBuilding(buildingName string) ([]Room, error) {
	var rooms []Room
	err := ds.DB.
		Joins("JOIN buildings ON buildings.id = rooms.building_id").
		Where("buildings.name = ?", buildingName).
		Order("rooms.label ASC").
		Preload("Building").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("getting rooms for building %q: %w", buildingName, err)
	}
	return rooms, nil
}

// OccupiedRoomIDs returns the ids of rooms that host at least one entry in
// any of the given slots at (year, week, weekday). Online entries carry no
// room and never occupy one. A week of 0 matches every week of the year, for
// recurring availability questions.
func (ds *DataStore) OccupiedRoomIDs(yearID, week, weekdayID int, slotIDs []int) ([]uint, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}

	query := ds.DB.Model(&ScheduleEntry{}).
		Distinct("room_id").
		Where("year_id = ? AND weekday_id = ? AND slot_id IN ? AND room_id IS NOT NULL",
			yearID, weekdayID, slotIDs)
	if week > 0 {
		query = query.Where("week = ?", week)
	}

	var ids []uint
	if err := query.Pluck("room_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("getting occupied rooms: %w", err)
	}
	return ids, nil
}

// RoomScheduleEntries returns a room's entries for one (year, week), ordered
// by weekday then slot, with references preloaded for display. A weekday of 0
// covers the whole week; 1 to 7 narrows to that day.
func (ds *DataStore) RoomScheduleEntries(roomID uint, yearID, week, weekdayID int) ([]ScheduleEntry, error) {
	query := ds.DB.
		Preload("Discipline").
		Preload("Type").
		Preload("Slot").
		Preload("Weekday").
		Preload("Groups.Group").
		Preload("Teachers.Teacher").
		Where("room_id = ? AND year_id = ? AND week = ?", roomID, yearID, week)
	if weekdayID > 0 {
		query = query.Where("weekday_id = ?", weekdayID)
	}

	var entries []ScheduleEntry
	err := query.
		Order("weekday_id ASC, slot_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("getting schedule for room %d: %w", roomID, err)
	}
	return entries, nil
}

// GroupScheduleEntries returns a group's entries for one (year, week),
// ordered by weekday then slot. The group is addressed by its source id, the
// identifier students actually know.
func (ds *DataStore) GroupScheduleEntries(groupSourceID int64, yearID, week int) ([]ScheduleEntry, error) {
	var group Group
	if err := ds.DB.Where("source_id = ?", groupSourceID).First(&group).Error; err != nil {
		return nil, fmt.Errorf("resolving group %d: %w", groupSourceID, err)
	}

	var entries []ScheduleEntry
	err := ds.DB.
		Preload("Discipline").
		Preload("Type").
		Preload("Slot").
		Preload("Weekday").
		Preload("Room.Building").
		Preload("Teachers.Teacher").
		Joins("JOIN schedule_groups ON schedule_groups.entry_id = schedule_entries.id").
		Where("schedule_groups.group_id = ? AND schedule_entries.year_id = ? AND schedule_entries.week = ?",
			group.ID, yearID, week).
		Order("schedule_entries.weekday_id ASC, schedule_entries.slot_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("getting schedule for group %d: %w", groupSourceID, err)
	}
	return entries, nil
}
