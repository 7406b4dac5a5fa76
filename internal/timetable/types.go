package timetable

import "time"

// Named is the id/name pair the timetable API uses for most reference objects.
type Named struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RawTimeSlot describes the lesson pair interval as reported by the API.
type RawTimeSlot struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	BeginTime string `json:"beginTime"`
	EndTime   string `json:"endTime"`
}

// RawWeekday describes the weekday as reported by the API, 1 = Monday.
type RawWeekday struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Abbrev string `json:"abbrev"`
}

// LessonWeek is one concrete occurrence of a lesson in a calendar week.
// Building and Room are absent for online lessons.
type LessonWeek struct {
	Week     int    `json:"week"`
	IsOnline int    `json:"isOnline"`
	Building *Named `json:"building"`
	Room     *Named `json:"room"`
}

// LessonGroup is a group attending a lesson, with an optional subgroup split.
type LessonGroup struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Subgroup *int   `json:"subgroup"`
}

// LessonTeacher is a teacher assigned to a lesson.
type LessonTeacher struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// Conference holds the meeting URL for online lessons.
type Conference struct {
	URL string `json:"url"`
}

// Lesson is one raw schedule record as returned by the timetable API.
// A single lesson may span several weeks and serve several groups.
type Lesson struct {
	ID         int64           `json:"id"`
	Discipline Named           `json:"discipline"`
	Type       Named           `json:"type"`
	Time       RawTimeSlot     `json:"time"`
	Weekday    RawWeekday      `json:"weekday"`
	Weeks      []LessonWeek    `json:"weeks"`
	Groups     []LessonGroup   `json:"groups"`
	Teachers   []LessonTeacher `json:"teachers"`
	Conference *Conference     `json:"conference"`
	Comment    string          `json:"comment"`
}

// timetableResponse is the envelope of the get-timetable endpoint.
type timetableResponse struct {
	Lessons     []Lesson `json:"lessons"`
	CurrentYear *struct {
		ID int `json:"id"`
	} `json:"currentYear"`
}

// WeekLessons is the raw fetch result for one (group, week) scope.
type WeekLessons struct {
	GroupID int64
	Week    int
	Lessons []Lesson
}

// Gap records a (group, week) scope that stayed unfetchable after retries.
// Downstream sync must not mistake a gap for removal of the scope's lessons.
type Gap struct {
	GroupID int64
	Week    int
	Err     error
}

// SemesterFetch is the complete raw output of one semester fetch pass.
type SemesterFetch struct {
	YearID   int
	Weeks    []WeekLessons
	Gaps     []Gap
	Started  time.Time
	Finished time.Time
}
