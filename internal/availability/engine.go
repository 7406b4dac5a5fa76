// Package availability answers free-room queries over the synced schedule:
// which rooms of a building are unoccupied for a given slot window, and what
// a single room's week looks like.
package availability

import (
	"log/slog"
	"time"

	"github.com/mpetrenko/campusched/internal/datastore"
	"github.com/mpetrenko/campusched/internal/errors"
	"github.com/mpetrenko/campusched/internal/logging"
)

const clockLayout = "15:04"

// Engine runs read-only queries against the datastore.
type Engine struct {
	store  datastore.Interface
	logger *slog.Logger
}

func NewEngine(store datastore.Interface) *Engine {
	return &Engine{
		store:  store,
		logger: logging.ForService("availability"),
	}
}

func validationError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Category(errors.CategoryValidation).
		Component("availability").
		Build()
}

// ResolveSlots maps a clock window onto the canonical slot grid. The window
// must align exactly: start on a slot's begin time, end on a (possibly later)
// slot's end time, covering a contiguous run of slots. Anything else is a
// validation error rather than a silent approximation.
func (e *Engine) ResolveSlots(start, end string) ([]int, error) {
	startClock, err := time.Parse(clockLayout, start)
	if err != nil {
		return nil, validationError("invalid start time %q, expected HH:MM", start)
	}
	endClock, err := time.Parse(clockLayout, end)
	if err != nil {
		return nil, validationError("invalid end time %q, expected HH:MM", end)
	}
	if !startClock.Before(endClock) {
		return nil, validationError("start time %s must be before end time %s", start, end)
	}

	slots, err := e.store.TimeSlots()
	if err != nil {
		return nil, storeFailure("loading time slots", err)
	}

	first := -1
	for i := range slots {
		if slots[i].Begin == start {
			first = i
			break
		}
	}
	if first < 0 {
		return nil, validationError("window start %s does not align with a slot boundary", start)
	}

	var ids []int
	for i := first; i < len(slots); i++ {
		ids = append(ids, slots[i].ID)
		if slots[i].End == end {
			return ids, nil
		}
	}
	return nil, validationError("window end %s does not align with a slot boundary", end)
}

// AvailableRooms returns the rooms of a building that are free for the whole
// window at (year, week, weekday). A week of 0 requires the rooms to be free
// in every week of the year. An unknown building yields an empty set.
func (e *Engine) AvailableRooms(building string, weekdayID int, start, end string, yearID, week int) ([]datastore.Room, error) {
	if weekdayID < 1 || weekdayID > 7 {
		return nil, validationError("invalid weekday %d, expected 1 (Monday) to 7 (Sunday)", weekdayID)
	}

	slotIDs, err := e.ResolveSlots(start, end)
	if err != nil {
		return nil, err
	}

	rooms, err := e.store.RoomsInBuilding(datastore.NormalizeName(building))
	if err != nil {
		return nil, storeFailure("loading rooms", err)
	}
	if len(rooms) == 0 {
		return nil, nil
	}

	occupiedIDs, err := e.store.OccupiedRoomIDs(yearID, week, weekdayID, slotIDs)
	if err != nil {
		return nil, storeFailure("loading occupancy", err)
	}
	occupied := make(map[uint]bool, len(occupiedIDs))
	for _, id := range occupiedIDs {
		occupied[id] = true
	}

	var free []datastore.Room
	for i := range rooms {
		if !occupied[rooms[i].ID] {
			free = append(free, rooms[i])
		}
	}

	e.logger.Debug("availability query",
		"building", building,
		"weekday", weekdayID,
		"window", start+"-"+end,
		"slots", len(slotIDs),
		"rooms", len(rooms),
		"free", len(free))

	return free, nil
}

// RoomSchedule returns a room's entries for one (year, week), ordered by
// weekday then slot. The room is addressed by building name and room label.
// A weekday of 0 lists the whole week; 1 to 7 narrows to that day.
func (e *Engine) RoomSchedule(building, roomLabel string, yearID, week, weekdayID int) ([]datastore.ScheduleEntry, error) {
	if week < 1 {
		return nil, validationError("invalid week %d", week)
	}
	if weekdayID < 0 || weekdayID > 7 {
		return nil, validationError("invalid weekday %d, expected 1 (Monday) to 7 (Sunday) or 0 for the whole week", weekdayID)
	}

	rooms, err := e.store.RoomsInBuilding(datastore.NormalizeName(building))
	if err != nil {
		return nil, storeFailure("loading rooms", err)
	}

	label := datastore.NormalizeName(roomLabel)
	for i := range rooms {
		if rooms[i].Label == label {
			return e.store.RoomScheduleEntries(rooms[i].ID, yearID, week, weekdayID)
		}
	}

	return nil, errors.Newf("room %q not found in building %q", roomLabel, building).
		Category(errors.CategoryNotFound).
		Component("availability").
		Build()
}

func storeFailure(action string, err error) error {
	return errors.Newf("%s: %w", action, err).
		Category(errors.CategoryDatabase).
		Component("availability").
		Build()
}
