package ingest

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/datastore"
	"github.com/mpetrenko/campusched/internal/errors"
	"github.com/mpetrenko/campusched/internal/logging"
	"github.com/mpetrenko/campusched/internal/timetable"
)

// Source is the slice of the timetable client the runner needs. Tests
// substitute a fake; production wires *timetable.Client.
type Source interface {
	Authenticate(ctx context.Context) error
	CurrentYearID(ctx context.Context) (int, error)
	YearID() int
	SetYearID(id int)
	GroupCatalog(ctx context.Context) ([]int64, error)
	FetchSemester(ctx context.Context, groups []int64, weeks int) (*timetable.SemesterFetch, error)
	Healthy(ctx context.Context) error
}

// Summary is the outcome of one ingestion run.
type Summary struct {
	RunID         uuid.UUID
	YearID        int
	Started       time.Time
	Finished      time.Time
	Groups        int
	ScopesFetched int
	Gaps          int
	Malformed     int
	Conflicts     int
	Inserted      int
	Updated       int
	Retired       int
}

func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Runner drives a full ingestion pass: authenticate, fetch, normalize, diff,
// sync. At most one run is in flight at a time.
type Runner struct {
	source   Source
	store    datastore.Interface
	settings *conf.Settings
	logger   *slog.Logger
	normal   *Normalizer

	runMu sync.Mutex
}

func NewRunner(source Source, store datastore.Interface, settings *conf.Settings) *Runner {
	return &Runner{
		source:   source,
		store:    store,
		settings: settings,
		logger:   logging.ForService("ingest"),
		normal:   NewNormalizer(),
	}
}

// Run executes one ingestion pass and returns its summary. A second Run call
// while one is in flight fails immediately instead of queueing.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if !r.runMu.TryLock() {
		return nil, errors.Newf("an ingestion run is already in progress").
			Category(errors.CategoryState).
			Component("ingest").
			Build()
	}
	defer r.runMu.Unlock()

	summary := &Summary{
		RunID:   uuid.New(),
		Started: time.Now(),
	}
	runLogger := r.logger.With("run_id", summary.RunID.String())
	runLogger.Info("ingestion run starting")

	if err := r.source.Authenticate(ctx); err != nil {
		return nil, err
	}

	yearID, err := r.source.CurrentYearID(ctx)
	if err != nil {
		return nil, err
	}
	r.source.SetYearID(yearID)
	summary.YearID = yearID

	groups, err := r.source.GroupCatalog(ctx)
	if err != nil {
		return nil, err
	}
	summary.Groups = len(groups)

	fetch, err := r.source.FetchSemester(ctx, groups, r.settings.Source.Weeks)
	if err != nil {
		return nil, err
	}
	summary.ScopesFetched = len(fetch.Weeks)
	summary.Gaps = len(fetch.Gaps)

	snap := r.normal.Normalize(fetch)
	summary.Malformed = len(snap.Malformed)
	summary.Conflicts = len(snap.Conflicts)

	if err := r.sync(ctx, snap, summary, runLogger); err != nil {
		if errors.IsCategory(err, errors.CategoryCancellation) {
			// The weeks applied before cancellation are committed; report
			// them so the partial progress is visible.
			summary.Finished = time.Now()
			runLogger.Info("ingestion run cancelled after partial sync",
				"year_id", summary.YearID,
				"inserted", summary.Inserted,
				"updated", summary.Updated,
				"retired", summary.Retired)
			return summary, err
		}
		return nil, err
	}

	summary.Finished = time.Now()
	runLogger.Info("ingestion run complete",
		"year_id", summary.YearID,
		"groups", summary.Groups,
		"scopes", summary.ScopesFetched,
		"gaps", summary.Gaps,
		"malformed", summary.Malformed,
		"conflicts", summary.Conflicts,
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"retired", summary.Retired,
		"duration", summary.Duration().Round(time.Millisecond))

	return summary, nil
}

// sync resolves references, diffs the snapshot against the stored year and
// applies the changes week by week. Each week commits atomically; a failed
// week aborts the run without touching the weeks behind it.
func (r *Runner) sync(ctx context.Context, snap *Snapshot, summary *Summary, runLogger *slog.Logger) error {
	ids, err := r.resolveReferences(snap)
	if err != nil {
		return err
	}

	existing, err := r.store.EntriesForYear(snap.YearID)
	if err != nil {
		return storeFailure("loading persisted year", err)
	}

	allGroups, err := r.store.AllGroups()
	if err != nil {
		return storeFailure("loading groups", err)
	}
	groupSourceByID := make(map[uint]int64, len(allGroups))
	for i := range allGroups {
		groupSourceByID[allGroups[i].ID] = allGroups[i].SourceID
	}

	changes, err := diffSnapshot(snap, existing, ids, groupSourceByID)
	if err != nil {
		return err
	}

	weeks := make([]int, 0, len(changes))
	for week := range changes {
		weeks = append(weeks, week)
	}
	sort.Ints(weeks)

	for _, week := range weeks {
		if err := ctx.Err(); err != nil {
			return errors.Newf("run cancelled: %w", err).
				Category(errors.CategoryCancellation).
				Component("ingest").
				Build()
		}

		wc := changes[week]
		if err := r.store.ApplyWeekSync(snap.YearID, week, wc.inserts, wc.updates, wc.retireIDs); err != nil {
			return storeFailure("applying week sync", err)
		}

		summary.Inserted += len(wc.inserts)
		summary.Updated += len(wc.updates)
		summary.Retired += len(wc.retireIDs)

		if len(wc.inserts)+len(wc.updates)+len(wc.retireIDs) > 0 {
			runLogger.Debug("week synced",
				"week", week,
				"inserted", len(wc.inserts),
				"updated", len(wc.updates),
				"retired", len(wc.retireIDs))
		}
	}

	return nil
}

// resolveReferences upserts every reference the snapshot mentions and returns
// their database ids. References are never deleted, so this only grows the
// reference tables.
func (r *Runner) resolveReferences(snap *Snapshot) (*refIDs, error) {
	ids := &refIDs{
		buildings:   make(map[string]uint, len(snap.Buildings)),
		rooms:       make(map[string]uint, len(snap.Rooms)),
		disciplines: make(map[string]uint, len(snap.Disciplines)),
		teachers:    make(map[int64]uint, len(snap.Teachers)),
		groups:      make(map[int64]uint, len(snap.Groups)),
	}

	for name, ref := range snap.Buildings {
		building, err := r.store.GetOrCreateBuilding(ref.SourceID, ref.Name)
		if err != nil {
			return nil, storeFailure("resolving building", err)
		}
		ids.buildings[name] = building.ID
	}
	for key, ref := range snap.Rooms {
		room, err := r.store.GetOrCreateRoom(ids.buildings[ref.Building], ref.SourceID, ref.Label)
		if err != nil {
			return nil, storeFailure("resolving room", err)
		}
		ids.rooms[key] = room.ID
	}
	for name, ref := range snap.Disciplines {
		discipline, err := r.store.GetOrCreateDiscipline(ref.SourceID, ref.Name)
		if err != nil {
			return nil, storeFailure("resolving discipline", err)
		}
		ids.disciplines[name] = discipline.ID
	}
	for sourceID, ref := range snap.Teachers {
		teacher, err := r.store.GetOrCreateTeacher(ref.SourceID, ref.Name, ref.State)
		if err != nil {
			return nil, storeFailure("resolving teacher", err)
		}
		ids.teachers[sourceID] = teacher.ID
	}
	for sourceID, ref := range snap.Groups {
		group, err := r.store.GetOrCreateGroup(ref.SourceID, ref.Name)
		if err != nil {
			return nil, storeFailure("resolving group", err)
		}
		ids.groups[sourceID] = group.ID
	}

	return ids, nil
}

// HealthCheck verifies both ends of the pipeline: the datastore connection
// and source reachability with a working session.
func (r *Runner) HealthCheck(ctx context.Context) error {
	if err := r.store.Ping(); err != nil {
		return errors.Newf("datastore unhealthy: %w", err).
			Category(errors.CategoryDatabase).
			Component("ingest").
			Build()
	}
	if err := r.source.Healthy(ctx); err != nil {
		return errors.Newf("timetable source unhealthy: %w", err).
			Category(errors.CategoryNetwork).
			Component("ingest").
			Build()
	}
	return nil
}

func storeFailure(action string, err error) error {
	return errors.Newf("%s: %w", action, err).
		Category(errors.CategoryDatabase).
		Component("ingest").
		Build()
}
