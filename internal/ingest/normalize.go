// Package ingest turns raw timetable fetches into the relational schedule
// model: normalization into canonical entries, a three-way diff against the
// stored state, and the runner that drives a full ingestion pass.
package ingest

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mpetrenko/campusched/internal/datastore"
	"github.com/mpetrenko/campusched/internal/logging"
	"github.com/mpetrenko/campusched/internal/timetable"
)

// EntryKey is the natural identity of a schedule entry inside one academic
// year. RoomKey keeps online entries distinct even though they share a null
// room.
type EntryKey struct {
	Week      int
	WeekdayID int
	SlotID    int
	RoomKey   string
}

func (k EntryKey) String() string {
	return fmt.Sprintf("week=%d weekday=%d slot=%d room=%s", k.Week, k.WeekdayID, k.SlotID, k.RoomKey)
}

// Reference descriptors collected during normalization, deduplicated by their
// natural keys. They are upserted before any entry is written.
type (
	BuildingRef struct {
		SourceID int64
		Name     string
	}
	RoomRef struct {
		Building string // normalized building name
		SourceID int64
		Label    string
	}
	DisciplineRef struct {
		SourceID int64
		Name     string
	}
	TeacherRef struct {
		SourceID int64
		Name     string
		State    string
	}
	GroupRef struct {
		SourceID int64
		Name     string
	}
)

// roomRefKey is the natural key of a room: normalized "building|label".
func roomRefKey(building, label string) string {
	return building + "|" + label
}

// Attendance is one group's participation in an entry.
type Attendance struct {
	GroupSourceID int64
	Subgroup      *int
}

// Entry is a normalized schedule occurrence, expressed with natural keys.
// Database ids are resolved later, at sync time.
type Entry struct {
	Key            EntryKey
	SourceLessonID int64
	Discipline     string // normalized name
	TypeID         int
	Building       string // normalized name, empty for online entries
	RoomLabel      string // normalized label, empty for online entries
	IsOnline       bool
	ConferenceURL  string
	Comment        string
	Groups         []Attendance
	Teachers       []int64 // teacher source ids
}

// Scope identifies one fetched (group, week) unit.
type Scope struct {
	GroupID int64
	Week    int
}

// Conflict records a room double-booking inside one snapshot: two raw lessons
// claimed the same (week, weekday, slot, room) with different disciplines.
// The later one in scan order wins.
type Conflict struct {
	Key       EntryKey
	Kept      string
	Discarded string
}

// MalformedRecord is a raw lesson occurrence that was rejected individually.
type MalformedRecord struct {
	LessonID int64
	GroupID  int64
	Week     int
	Reason   string
}

// Snapshot is the fully normalized output of one fetch pass.
type Snapshot struct {
	YearID      int
	Entries     map[EntryKey]*Entry
	Buildings   map[string]BuildingRef
	Rooms       map[string]RoomRef
	Disciplines map[string]DisciplineRef
	Teachers    map[int64]TeacherRef
	Groups      map[int64]GroupRef
	Fetched     map[Scope]bool // scopes fetched successfully
	Gapped      map[Scope]bool // scopes lost to fetch failures
	Conflicts   []Conflict
	Malformed   []MalformedRecord
}

// Normalizer converts raw semester fetches into snapshots. Identity caches
// live in the produced snapshot, so a normalizer is reusable across runs.
type Normalizer struct {
	logger *slog.Logger
}

func NewNormalizer() *Normalizer {
	return &Normalizer{logger: logging.ForService("ingest")}
}

// normalizeName delegates to the datastore's natural-key normalization.
func normalizeName(s string) string {
	return datastore.NormalizeName(s)
}

// lessonTypeID maps the raw lesson type onto the seeded enumeration. The
// source uses stable ids for lecture, laboratory and practice; everything
// else is filed under Other.
func lessonTypeID(raw timetable.Named) int {
	switch raw.ID {
	case int64(datastore.TypeLecture), int64(datastore.TypeLaboratory), int64(datastore.TypePractice):
		return int(raw.ID)
	default:
		return datastore.TypeOther
	}
}

// Normalize builds a snapshot from a raw semester fetch. Malformed lesson
// occurrences are rejected one at a time; a bad row never poisons its week.
func (n *Normalizer) Normalize(fetch *timetable.SemesterFetch) *Snapshot {
	snap := &Snapshot{
		YearID:      fetch.YearID,
		Entries:     make(map[EntryKey]*Entry),
		Buildings:   make(map[string]BuildingRef),
		Rooms:       make(map[string]RoomRef),
		Disciplines: make(map[string]DisciplineRef),
		Teachers:    make(map[int64]TeacherRef),
		Groups:      make(map[int64]GroupRef),
		Fetched:     make(map[Scope]bool),
		Gapped:      make(map[Scope]bool),
	}

	for groupID, weeks := range fetch.GapScopes() {
		for week := range weeks {
			snap.Gapped[Scope{GroupID: groupID, Week: week}] = true
		}
	}

	for _, wl := range fetch.Weeks {
		snap.Fetched[Scope{GroupID: wl.GroupID, Week: wl.Week}] = true
		for i := range wl.Lessons {
			n.normalizeLesson(snap, &wl.Lessons[i], wl.GroupID, wl.Week)
		}
	}

	n.logger.Info("snapshot normalized",
		"entries", len(snap.Entries),
		"disciplines", len(snap.Disciplines),
		"rooms", len(snap.Rooms),
		"conflicts", len(snap.Conflicts),
		"malformed", len(snap.Malformed))

	return snap
}

// normalizeLesson folds one raw lesson's occurrence in the fetched week into
// the snapshot. Occurrences of other weeks are skipped: they belong to their
// own fetch scope and would otherwise leak across gap boundaries.
func (n *Normalizer) normalizeLesson(snap *Snapshot, lesson *timetable.Lesson, groupID int64, week int) {
	reject := func(reason string) {
		snap.Malformed = append(snap.Malformed, MalformedRecord{
			LessonID: lesson.ID,
			GroupID:  groupID,
			Week:     week,
			Reason:   reason,
		})
		n.logger.Warn("rejecting malformed lesson",
			"lesson_id", lesson.ID, "group_id", groupID, "week", week, "reason", reason)
	}

	discipline := normalizeName(lesson.Discipline.Name)
	if discipline == "" {
		reject("empty discipline name")
		return
	}
	if lesson.Weekday.ID < 1 || lesson.Weekday.ID > 7 {
		reject(fmt.Sprintf("invalid weekday %d", lesson.Weekday.ID))
		return
	}
	slotID := datastore.SlotIDForBeginTime(lesson.Time.BeginTime)
	if slotID == 0 {
		reject(fmt.Sprintf("unknown begin time %q", lesson.Time.BeginTime))
		return
	}
	if len(lesson.Groups) == 0 {
		reject("no groups")
		return
	}
	if len(lesson.Teachers) == 0 {
		reject("no teachers")
		return
	}

	for i := range lesson.Weeks {
		occ := &lesson.Weeks[i]
		if occ.Week != week {
			continue
		}
		n.normalizeOccurrence(snap, lesson, occ, groupID, week, discipline, slotID, reject)
	}
}

func (n *Normalizer) normalizeOccurrence(snap *Snapshot, lesson *timetable.Lesson, occ *timetable.LessonWeek,
	groupID int64, week int, discipline string, slotID int, reject func(string)) {

	online := occ.IsOnline != 0 || occ.Room == nil

	var building, roomLabel, roomKey string
	if online {
		roomKey = fmt.Sprintf("online:%d", lesson.ID)
	} else {
		if occ.Building == nil {
			reject("room without building")
			return
		}
		building = normalizeName(occ.Building.Name)
		roomLabel = normalizeName(occ.Room.Name)
		if building == "" || roomLabel == "" {
			reject("empty building or room name")
			return
		}
		roomKey = roomRefKey(building, roomLabel)

		snap.Buildings[building] = BuildingRef{SourceID: occ.Building.ID, Name: building}
		snap.Rooms[roomKey] = RoomRef{Building: building, SourceID: occ.Room.ID, Label: roomLabel}
	}

	snap.Disciplines[discipline] = DisciplineRef{SourceID: lesson.Discipline.ID, Name: discipline}
	for _, teacher := range lesson.Teachers {
		snap.Teachers[teacher.ID] = TeacherRef{SourceID: teacher.ID, Name: teacher.Name, State: teacher.State}
	}
	for _, group := range lesson.Groups {
		snap.Groups[group.ID] = GroupRef{SourceID: group.ID, Name: group.Name}
	}

	entry := &Entry{
		Key: EntryKey{
			Week:      week,
			WeekdayID: lesson.Weekday.ID,
			SlotID:    slotID,
			RoomKey:   roomKey,
		},
		SourceLessonID: lesson.ID,
		Discipline:     discipline,
		TypeID:         lessonTypeID(lesson.Type),
		Building:       building,
		RoomLabel:      roomLabel,
		IsOnline:       online,
		Comment:        strings.TrimSpace(lesson.Comment),
	}
	if lesson.Conference != nil {
		entry.ConferenceURL = lesson.Conference.URL
	}
	for _, group := range lesson.Groups {
		entry.Groups = append(entry.Groups, Attendance{GroupSourceID: group.ID, Subgroup: group.Subgroup})
	}
	for _, teacher := range lesson.Teachers {
		entry.Teachers = append(entry.Teachers, teacher.ID)
	}

	existing, ok := snap.Entries[entry.Key]
	if !ok {
		snap.Entries[entry.Key] = entry
		return
	}

	if existing.Discipline == entry.Discipline {
		// The same lesson seen through another group's fetch: merge the
		// attendance and teacher sets.
		mergeEntry(existing, entry)
		return
	}

	// Room double-booking with a different discipline. Last seen wins, the
	// loser is surfaced as a conflict warning.
	snap.Conflicts = append(snap.Conflicts, Conflict{
		Key:       entry.Key,
		Kept:      entry.Discipline,
		Discarded: existing.Discipline,
	})
	n.logger.Warn("schedule identity conflict, keeping later lesson",
		"key", entry.Key.String(),
		"kept", entry.Discipline,
		"discarded", existing.Discipline)
	snap.Entries[entry.Key] = entry
}

// mergeEntry folds src's groups and teachers into dst without duplicates.
func mergeEntry(dst, src *Entry) {
	for _, att := range src.Groups {
		found := false
		for i := range dst.Groups {
			if dst.Groups[i].GroupSourceID == att.GroupSourceID {
				if dst.Groups[i].Subgroup == nil && att.Subgroup != nil {
					dst.Groups[i].Subgroup = att.Subgroup
				}
				found = true
				break
			}
		}
		if !found {
			dst.Groups = append(dst.Groups, att)
		}
	}
	for _, id := range src.Teachers {
		found := false
		for _, existing := range dst.Teachers {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			dst.Teachers = append(dst.Teachers, id)
		}
	}
}
