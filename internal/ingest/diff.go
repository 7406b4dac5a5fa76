package ingest

import (
	"sort"
	"strconv"

	"github.com/mpetrenko/campusched/internal/datastore"
	"github.com/mpetrenko/campusched/internal/errors"
)

// refIDs holds the database ids of every reference entity the snapshot
// mentions, resolved by the runner before diffing.
type refIDs struct {
	buildings   map[string]uint // normalized name → id
	rooms       map[string]uint // roomRefKey → id
	disciplines map[string]uint // normalized name → id
	teachers    map[int64]uint  // source id → id
	groups      map[int64]uint  // source id → id
}

// weekChanges is the sync decision set for one week, applied as one
// transaction.
type weekChanges struct {
	inserts   []*datastore.ScheduleEntry
	updates   []*datastore.ScheduleEntry
	retireIDs []uint
}

// storeEntryKey reconstructs the natural key of a persisted entry.
func storeEntryKey(e *datastore.ScheduleEntry) EntryKey {
	return EntryKey{
		Week:      e.Week,
		WeekdayID: e.WeekdayID,
		SlotID:    e.SlotID,
		RoomKey:   e.RoomKey,
	}
}

// diffSnapshot compares the normalized snapshot against the persisted year
// state and produces per-week insert/update/retire decisions. Retirement of
// an entry is suppressed unless at least one of its attending groups was
// fetched successfully for that week: a FetchGap must never masquerade as a
// removal.
func diffSnapshot(snap *Snapshot, existing []datastore.ScheduleEntry, ids *refIDs,
	groupSourceByID map[uint]int64) (map[int]*weekChanges, error) {

	changes := make(map[int]*weekChanges)
	weekOf := func(week int) *weekChanges {
		wc := changes[week]
		if wc == nil {
			wc = &weekChanges{}
			changes[week] = wc
		}
		return wc
	}

	current := make(map[EntryKey]*datastore.ScheduleEntry, len(existing))
	for i := range existing {
		current[storeEntryKey(&existing[i])] = &existing[i]
	}

	// Deterministic processing order keeps logs and transaction contents
	// stable across runs.
	keys := make([]EntryKey, 0, len(snap.Entries))
	for key := range snap.Entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })

	for _, key := range keys {
		want, err := buildStoreEntry(snap.Entries[key], ids)
		if err != nil {
			return nil, err
		}

		have, ok := current[key]
		if !ok {
			weekOf(key.Week).inserts = append(weekOf(key.Week).inserts, want)
			continue
		}
		if !storeEntriesEqual(have, want) {
			want.ID = have.ID
			weekOf(key.Week).updates = append(weekOf(key.Week).updates, want)
		}
	}

	for key, have := range current {
		if _, stillWanted := snap.Entries[key]; stillWanted {
			continue
		}
		if !retirementCovered(snap, have, groupSourceByID) {
			continue
		}
		weekOf(key.Week).retireIDs = append(weekOf(key.Week).retireIDs, have.ID)
	}
	for _, wc := range changes {
		sort.Slice(wc.retireIDs, func(i, j int) bool { return wc.retireIDs[i] < wc.retireIDs[j] })
	}

	return changes, nil
}

func lessKey(a, b EntryKey) bool {
	if a.Week != b.Week {
		return a.Week < b.Week
	}
	if a.WeekdayID != b.WeekdayID {
		return a.WeekdayID < b.WeekdayID
	}
	if a.SlotID != b.SlotID {
		return a.SlotID < b.SlotID
	}
	return a.RoomKey < b.RoomKey
}

// retirementCovered reports whether the disappearance of a persisted entry is
// backed by evidence: some group that attends it was fetched successfully for
// that week and no longer lists it.
func retirementCovered(snap *Snapshot, have *datastore.ScheduleEntry, groupSourceByID map[uint]int64) bool {
	for i := range have.Groups {
		sourceID, known := groupSourceByID[have.Groups[i].GroupID]
		if !known {
			continue
		}
		if snap.Fetched[Scope{GroupID: sourceID, Week: have.Week}] {
			return true
		}
	}
	return false
}

// buildStoreEntry converts a normalized entry into its datastore form using
// the resolved reference ids.
func buildStoreEntry(entry *Entry, ids *refIDs) (*datastore.ScheduleEntry, error) {
	missing := func(kind, key string) error {
		return errors.Newf("unresolved %s reference %q", kind, key).
			Category(errors.CategoryState).
			Component("ingest").
			Build()
	}

	disciplineID, ok := ids.disciplines[entry.Discipline]
	if !ok {
		return nil, missing("discipline", entry.Discipline)
	}

	store := &datastore.ScheduleEntry{
		SourceLessonID: entry.SourceLessonID,
		Week:           entry.Key.Week,
		WeekdayID:      entry.Key.WeekdayID,
		SlotID:         entry.Key.SlotID,
		RoomKey:        entry.Key.RoomKey,
		DisciplineID:   disciplineID,
		TypeID:         entry.TypeID,
		IsOnline:       entry.IsOnline,
		ConferenceURL:  entry.ConferenceURL,
		Comment:        entry.Comment,
	}

	if !entry.IsOnline {
		buildingID, ok := ids.buildings[entry.Building]
		if !ok {
			return nil, missing("building", entry.Building)
		}
		roomID, ok := ids.rooms[roomRefKey(entry.Building, entry.RoomLabel)]
		if !ok {
			return nil, missing("room", entry.RoomLabel)
		}
		store.BuildingID = &buildingID
		store.RoomID = &roomID
	}

	for _, att := range entry.Groups {
		groupID, ok := ids.groups[att.GroupSourceID]
		if !ok {
			return nil, missing("group", fmt64(att.GroupSourceID))
		}
		store.Groups = append(store.Groups, datastore.ScheduleGroup{GroupID: groupID, Subgroup: att.Subgroup})
	}
	for _, teacherSourceID := range entry.Teachers {
		teacherID, ok := ids.teachers[teacherSourceID]
		if !ok {
			return nil, missing("teacher", fmt64(teacherSourceID))
		}
		store.Teachers = append(store.Teachers, datastore.ScheduleTeacher{TeacherID: teacherID})
	}

	return store, nil
}

func fmt64(v int64) string {
	return strconv.FormatInt(v, 10)
}

// storeEntriesEqual compares the sync-relevant fields of two entries. Group
// and teacher sets are compared order-insensitively.
func storeEntriesEqual(a, b *datastore.ScheduleEntry) bool {
	if a.DisciplineID != b.DisciplineID ||
		a.TypeID != b.TypeID ||
		a.IsOnline != b.IsOnline ||
		a.ConferenceURL != b.ConferenceURL ||
		a.Comment != b.Comment ||
		a.SourceLessonID != b.SourceLessonID {
		return false
	}
	if !uintPtrEqual(a.RoomID, b.RoomID) || !uintPtrEqual(a.BuildingID, b.BuildingID) {
		return false
	}

	if len(a.Groups) != len(b.Groups) || len(a.Teachers) != len(b.Teachers) {
		return false
	}

	groups := make(map[uint]*int, len(a.Groups))
	for i := range a.Groups {
		groups[a.Groups[i].GroupID] = a.Groups[i].Subgroup
	}
	for i := range b.Groups {
		sub, ok := groups[b.Groups[i].GroupID]
		if !ok || !intPtrEqual(sub, b.Groups[i].Subgroup) {
			return false
		}
	}

	teachers := make(map[uint]bool, len(a.Teachers))
	for i := range a.Teachers {
		teachers[a.Teachers[i].TeacherID] = true
	}
	for i := range b.Teachers {
		if !teachers[b.Teachers[i].TeacherID] {
			return false
		}
	}
	return true
}

func uintPtrEqual(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
