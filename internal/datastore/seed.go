package datastore

import "fmt"

// Canonical lesson type ids.
const (
	TypeLecture    = 1
	TypeLaboratory = 2
	TypePractice   = 3
	TypeOther      = 4
)

// CanonicalTimeSlots is the fixed grid of lesson pairs used by the campus.
// Raw lessons are mapped onto this grid by their begin time.
var CanonicalTimeSlots = []TimeSlot{
	{ID: 1, Name: "1 pair", Begin: "08:00", End: "09:35"},
	{ID: 2, Name: "2 pair", Begin: "09:45", End: "11:20"},
	{ID: 3, Name: "3 pair", Begin: "11:30", End: "13:05"},
	{ID: 4, Name: "4 pair", Begin: "13:30", End: "15:05"},
	{ID: 5, Name: "5 pair", Begin: "15:15", End: "16:50"},
	{ID: 6, Name: "6 pair", Begin: "17:00", End: "18:35"},
	{ID: 7, Name: "7 pair", Begin: "18:45", End: "20:15"},
	{ID: 8, Name: "8 pair", Begin: "20:30", End: "22:05"},
}

// CanonicalWeekdays covers the full teaching week, Monday first.
var CanonicalWeekdays = []Weekday{
	{ID: 1, Name: "Monday"},
	{ID: 2, Name: "Tuesday"},
	{ID: 3, Name: "Wednesday"},
	{ID: 4, Name: "Thursday"},
	{ID: 5, Name: "Friday"},
	{ID: 6, Name: "Saturday"},
	{ID: 7, Name: "Sunday"},
}

// CanonicalLessonTypes are the lesson kinds distinguished by the source.
var CanonicalLessonTypes = []LessonType{
	{ID: TypeLecture, Name: "Lecture"},
	{ID: TypeLaboratory, Name: "Laboratory"},
	{ID: TypePractice, Name: "Practice"},
	{ID: TypeOther, Name: "Other"},
}

// SlotIDForBeginTime maps a raw "HH:MM" lesson begin time onto the canonical
// slot grid. Unknown begin times return 0.
func SlotIDForBeginTime(begin string) int {
	for _, slot := range CanonicalTimeSlots {
		if slot.Begin == begin {
			return slot.ID
		}
	}
	return 0
}

// SeedReferenceData upserts the fixed reference tables. Safe to call on every
// startup; existing rows are refreshed in place.
func (ds *DataStore) SeedReferenceData() error {
	if err := ds.DB.Clauses(upsertByID).Create(&CanonicalTimeSlots).Error; err != nil {
		return fmt.Errorf("seeding time slots: %w", err)
	}
	if err := ds.DB.Clauses(upsertByID).Create(&CanonicalWeekdays).Error; err != nil {
		return fmt.Errorf("seeding weekdays: %w", err)
	}
	if err := ds.DB.Clauses(upsertByID).Create(&CanonicalLessonTypes).Error; err != nil {
		return fmt.Errorf("seeding lesson types: %w", err)
	}
	return nil
}
