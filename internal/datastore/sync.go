package datastore

import (
	"fmt"

	"gorm.io/gorm"
)

// EntriesForYear loads every stored entry for an academic year with its
// group and teacher associations. The sync diff runs against this snapshot.
func (ds *DataStore) EntriesForYear(yearID int) ([]ScheduleEntry, error) {
	var entries []ScheduleEntry
	err := ds.DB.
		Preload("Groups").
		Preload("Teachers").
		Where("year_id = ?", yearID).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("getting entries for year %d: %w", yearID, err)
	}
	return entries, nil
}

// ApplyWeekSync applies one week's worth of sync decisions in a single
// transaction: new entries are inserted with their associations, changed
// entries are rewritten in place, and retired entry ids are deleted together
// with their association rows. A failed week rolls back completely and leaves
// the previous week state intact.
func (ds *DataStore) ApplyWeekSync(yearID, week int, inserts, updates []*ScheduleEntry, retireIDs []uint) error {
	if len(inserts) == 0 && len(updates) == 0 && len(retireIDs) == 0 {
		return nil
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		for _, entry := range inserts {
			entry.YearID = yearID
			entry.Week = week
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("inserting entry %s: %w", entry.RoomKey, err)
			}
		}

		for _, entry := range updates {
			if entry.ID == 0 {
				return fmt.Errorf("updating entry %s: missing id", entry.RoomKey)
			}
			// Associations are rewritten wholesale; group and teacher sets
			// are small and their diffs are not worth tracking separately.
			if err := tx.Where("entry_id = ?", entry.ID).Delete(&ScheduleGroup{}).Error; err != nil {
				return fmt.Errorf("clearing groups for entry %d: %w", entry.ID, err)
			}
			if err := tx.Where("entry_id = ?", entry.ID).Delete(&ScheduleTeacher{}).Error; err != nil {
				return fmt.Errorf("clearing teachers for entry %d: %w", entry.ID, err)
			}

			for i := range entry.Groups {
				entry.Groups[i].ID = 0
				entry.Groups[i].EntryID = entry.ID
			}
			for i := range entry.Teachers {
				entry.Teachers[i].ID = 0
				entry.Teachers[i].EntryID = entry.ID
			}

			err := tx.Model(&ScheduleEntry{}).
				Where("id = ?", entry.ID).
				Updates(map[string]any{
					"source_lesson_id": entry.SourceLessonID,
					"discipline_id":    entry.DisciplineID,
					"type_id":          entry.TypeID,
					"room_id":          entry.RoomID,
					"building_id":      entry.BuildingID,
					"is_online":        entry.IsOnline,
					"conference_url":   entry.ConferenceURL,
					"comment":          entry.Comment,
				}).Error
			if err != nil {
				return fmt.Errorf("updating entry %d: %w", entry.ID, err)
			}

			if len(entry.Groups) > 0 {
				if err := tx.Create(&entry.Groups).Error; err != nil {
					return fmt.Errorf("saving groups for entry %d: %w", entry.ID, err)
				}
			}
			if len(entry.Teachers) > 0 {
				if err := tx.Create(&entry.Teachers).Error; err != nil {
					return fmt.Errorf("saving teachers for entry %d: %w", entry.ID, err)
				}
			}
		}

		if len(retireIDs) > 0 {
			if err := tx.Where("entry_id IN ?", retireIDs).Delete(&ScheduleGroup{}).Error; err != nil {
				return fmt.Errorf("clearing groups for retired entries: %w", err)
			}
			if err := tx.Where("entry_id IN ?", retireIDs).Delete(&ScheduleTeacher{}).Error; err != nil {
				return fmt.Errorf("clearing teachers for retired entries: %w", err)
			}
			if err := tx.Delete(&ScheduleEntry{}, retireIDs).Error; err != nil {
				return fmt.Errorf("retiring entries: %w", err)
			}
		}

		return nil
	})
}
