// model.go defines the relational schedule model.
package datastore

import "time"

// Building is a campus building referenced by rooms.
type Building struct {
	ID       uint   `gorm:"primaryKey"`
	SourceID int64  `gorm:"index"`
	Name     string `gorm:"uniqueIndex;not null"`
}

// Room is a physical room. Rooms are unique per building: the same label can
// exist in several buildings.
type Room struct {
	ID         uint     `gorm:"primaryKey"`
	SourceID   int64    `gorm:"index"`
	BuildingID uint     `gorm:"index:idx_rooms_building_label,unique;not null"`
	Label      string   `gorm:"index:idx_rooms_building_label,unique;not null"`
	Building   Building `gorm:"foreignKey:BuildingID"`
}

// Discipline is a taught subject, unique by normalized name.
type Discipline struct {
	ID       uint   `gorm:"primaryKey"`
	SourceID int64  `gorm:"index"`
	Name     string `gorm:"uniqueIndex;not null"`
}

// Teacher is unique by its source id; names are kept as displayed.
type Teacher struct {
	ID       uint   `gorm:"primaryKey"`
	SourceID int64  `gorm:"uniqueIndex;not null"`
	Name     string `gorm:"index"`
	State    string `gorm:"type:varchar(32)"`
}

// Group is a student group, unique by its source id.
type Group struct {
	ID       uint   `gorm:"primaryKey"`
	SourceID int64  `gorm:"uniqueIndex;not null"`
	Name     string `gorm:"index"`
}

// Weekday is seeded reference data; the source weekday id (1 = Monday) is the
// primary key.
type Weekday struct {
	ID   int    `gorm:"primaryKey"`
	Name string `gorm:"not null"`
}

// TimeSlot is a seeded lesson pair interval. Begin and End are "HH:MM" clock
// strings; slots are ordered and non-overlapping within a day.
type TimeSlot struct {
	ID    int    `gorm:"primaryKey"`
	Name  string `gorm:"not null"`
	Begin string `gorm:"type:varchar(5);not null"`
	End   string `gorm:"type:varchar(5);not null"`
}

// LessonType is a seeded lesson kind (lecture, laboratory, practice, other).
type LessonType struct {
	ID   int    `gorm:"primaryKey"`
	Name string `gorm:"not null"`
}

// ScheduleEntry is one normalized schedule occurrence: a discipline held in a
// concrete room (or online) at one (year, week, weekday, slot) position. The
// identity index is the natural key sync diffs against; RoomKey disambiguates
// online entries which share a null room.
type ScheduleEntry struct {
	ID             uint `gorm:"primaryKey"`
	SourceLessonID int64
	YearID         int    `gorm:"index:idx_entries_identity,unique;not null"`
	Week           int    `gorm:"index:idx_entries_identity,unique;index:idx_entries_week;not null"`
	WeekdayID      int    `gorm:"index:idx_entries_identity,unique;not null"`
	SlotID         int    `gorm:"index:idx_entries_identity,unique;not null"`
	RoomKey        string `gorm:"index:idx_entries_identity,unique;not null"`
	RoomID         *uint  `gorm:"index"`
	BuildingID     *uint
	DisciplineID   uint `gorm:"index;not null"`
	TypeID         int  `gorm:"not null"`
	IsOnline       bool
	ConferenceURL  string
	Comment        string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Room       *Room             `gorm:"foreignKey:RoomID"`
	Building   *Building         `gorm:"foreignKey:BuildingID"`
	Discipline Discipline        `gorm:"foreignKey:DisciplineID"`
	Type       LessonType        `gorm:"foreignKey:TypeID"`
	Weekday    Weekday           `gorm:"foreignKey:WeekdayID"`
	Slot       TimeSlot          `gorm:"foreignKey:SlotID"`
	Groups     []ScheduleGroup   `gorm:"foreignKey:EntryID;constraint:OnDelete:CASCADE"`
	Teachers   []ScheduleTeacher `gorm:"foreignKey:EntryID;constraint:OnDelete:CASCADE"`
}

// ScheduleGroup links an entry to an attending group, with an optional
// subgroup split (nil means the whole group attends).
type ScheduleGroup struct {
	ID       uint `gorm:"primaryKey"`
	EntryID  uint `gorm:"index:idx_schedule_groups_entry_group,unique;not null"`
	GroupID  uint `gorm:"index:idx_schedule_groups_entry_group,unique;not null"`
	Subgroup *int
	Group    Group `gorm:"foreignKey:GroupID"`
}

// ScheduleTeacher links an entry to an assigned teacher.
type ScheduleTeacher struct {
	ID        uint    `gorm:"primaryKey"`
	EntryID   uint    `gorm:"index:idx_schedule_teachers_entry_teacher,unique;not null"`
	TeacherID uint    `gorm:"index:idx_schedule_teachers_entry_teacher,unique;not null"`
	Teacher   Teacher `gorm:"foreignKey:TeacherID"`
}

// Stats summarizes the datastore contents for reporting commands.
type Stats struct {
	Buildings   int64
	Rooms       int64
	Disciplines int64
	Teachers    int64
	Groups      int64
	Entries     int64
	Weeks       int64
}
