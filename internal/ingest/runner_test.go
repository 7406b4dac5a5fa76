package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/datastore"
	"github.com/mpetrenko/campusched/internal/errors"
	"github.com/mpetrenko/campusched/internal/timetable"
)

type fakeSource struct {
	yearID  int
	groups  []int64
	fetch   *timetable.SemesterFetch
	entered chan struct{} // closed when a fetch starts
	release chan struct{} // fetch blocks until this closes
	onFetch func()        // runs after the fetch completes
	healthy error
	authErr error
}

func (f *fakeSource) Authenticate(ctx context.Context) error { return f.authErr }
func (f *fakeSource) CurrentYearID(ctx context.Context) (int, error) {
	return f.yearID, nil
}
func (f *fakeSource) YearID() int      { return f.yearID }
func (f *fakeSource) SetYearID(id int) { f.yearID = id }
func (f *fakeSource) GroupCatalog(ctx context.Context) ([]int64, error) {
	return f.groups, nil
}
func (f *fakeSource) FetchSemester(ctx context.Context, groups []int64, weeks int) (*timetable.SemesterFetch, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.release != nil {
		<-f.release
	}
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.fetch, nil
}
func (f *fakeSource) Healthy(ctx context.Context) error { return f.healthy }

func newTestRunner(t *testing.T, source *fakeSource) (*Runner, datastore.Interface) {
	t.Helper()

	settings := &conf.Settings{}
	settings.Source.Weeks = 18
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store := datastore.New(settings)
	require.NotNil(t, store)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	return NewRunner(source, store, settings), store
}

func TestRunInsertsSnapshot(t *testing.T) {
	source := &fakeSource{
		yearID: 42,
		groups: []int64{111},
		fetch: fetchOf(42, []timetable.WeekLessons{
			{GroupID: 111, Week: 3, Lessons: []timetable.Lesson{
				rawLesson(1, "physics", 1, 3, "09:45", "5", "417", 111),
				rawLesson(2, "chemistry", 2, 3, "08:00", "5", "101", 111),
			}},
		}, nil),
	}
	runner, store := newTestRunner(t, source)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", summary.RunID.String())
	assert.Equal(t, 42, summary.YearID)
	assert.Equal(t, 2, summary.Inserted)
	assert.Zero(t, summary.Updated)
	assert.Zero(t, summary.Retired)

	entries, err := store.EntriesForYear(42)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for i := range entries {
		assert.NotEmpty(t, entries[i].Groups)
		assert.NotEmpty(t, entries[i].Teachers)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	source := &fakeSource{
		yearID: 42,
		groups: []int64{111},
		fetch: fetchOf(42, []timetable.WeekLessons{
			{GroupID: 111, Week: 3, Lessons: []timetable.Lesson{
				rawLesson(1, "physics", 1, 3, "09:45", "5", "417", 111),
			}},
		}, nil),
	}
	runner, _ := newTestRunner(t, source)

	first, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Retired)
}

func TestRunUpdatesChangedEntryInPlace(t *testing.T) {
	source := &fakeSource{
		yearID: 42,
		groups: []int64{111},
		fetch: fetchOf(42, []timetable.WeekLessons{
			{GroupID: 111, Week: 3, Lessons: []timetable.Lesson{
				rawLesson(1, "physics", 1, 3, "09:45", "5", "417", 111),
			}},
		}, nil),
	}
	runner, store := newTestRunner(t, source)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// The same slot and room now hosts a different discipline.
	source.fetch = fetchOf(42, []timetable.WeekLessons{
		{GroupID: 111, Week: 3, Lessons: []timetable.Lesson{
			rawLesson(9, "numerical methods", 1, 3, "09:45", "5", "417", 111),
		}},
	}, nil)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Inserted)
	assert.Equal(t, 1, summary.Updated)
	assert.Zero(t, summary.Retired)

	entries, err := store.EntriesForYear(42)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(9), entries[0].SourceLessonID)
}

func TestRunRetiresVanishedEntry(t *testing.T) {
	source := &fakeSource{
		yearID: 42,
		groups: []int64{111},
		fetch: fetchOf(42, []timetable.WeekLessons{
			{GroupID: 111, Week: 3, Lessons: []timetable.Lesson{
				rawLesson(1, "physics", 1, 3, "09:45", "5", "417", 111),
			}},
		}, nil),
	}
	runner, store := newTestRunner(t, source)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// The group's week 3 was fetched successfully and no longer lists the
	// lesson: that is positive evidence of removal.
	source.fetch = fetchOf(42, []timetable.WeekLessons{
		{GroupID: 111, Week: 3, Lessons: nil},
	}, nil)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Retired)

	entries, err := store.EntriesForYear(42)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunFetchGapSuppressesRetirement(t *testing.T) {
	source := &fakeSource{
		yearID: 42,
		groups: []int64{111},
		fetch: fetchOf(42, []timetable.WeekLessons{
			{GroupID: 111, Week: 3, Lessons: []timetable.Lesson{
				rawLesson(1, "physics", 1, 3, "09:45", "5", "417", 111),
			}},
		}, nil),
	}
	runner, store := newTestRunner(t, source)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// The scope could not be fetched this time. Its absence proves nothing,
	// so the stored entry must survive.
	source.fetch = fetchOf(42, nil, []timetable.Gap{{GroupID: 111, Week: 3}})

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Retired)
	assert.Equal(t, 1, summary.Gaps)

	entries, err := store.EntriesForYear(42)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	source := &fakeSource{
		yearID:  42,
		groups:  []int64{111},
		fetch:   fetchOf(42, nil, nil),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	runner, _ := newTestRunner(t, source)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	// Wait until the first run is parked inside the fetch.
	<-source.entered

	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	close(source.release)
	require.NoError(t, <-done)
}

func TestRunSummaryCountsDiagnostics(t *testing.T) {
	malformed := rawLesson(2, "", 1, 3, "09:45", "5", "101", 111)
	conflictA := rawLesson(3, "physics", 1, 3, "08:00", "5", "417", 111)
	conflictB := rawLesson(4, "chemistry", 1, 3, "08:00", "5", "417", 222)

	source := &fakeSource{
		yearID: 42,
		groups: []int64{111, 222},
		fetch: fetchOf(42, []timetable.WeekLessons{
			{GroupID: 111, Week: 3, Lessons: []timetable.Lesson{conflictA, malformed}},
			{GroupID: 222, Week: 3, Lessons: []timetable.Lesson{conflictB}},
		}, []timetable.Gap{{GroupID: 222, Week: 4}}),
	}
	runner, _ := newTestRunner(t, source)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Malformed)
	assert.Equal(t, 1, summary.Conflicts)
	assert.Equal(t, 1, summary.Gaps)
	assert.Equal(t, 2, summary.Groups)
	assert.Equal(t, 1, summary.Inserted)
}

func TestRunReturnsPartialSummaryOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{
		yearID: 42,
		groups: []int64{111},
		fetch: fetchOf(42, []timetable.WeekLessons{
			{GroupID: 111, Week: 3, Lessons: []timetable.Lesson{
				rawLesson(1, "physics", 1, 3, "09:45", "5", "417", 111),
			}},
		}, nil),
		onFetch: cancel,
	}
	runner, store := newTestRunner(t, source)

	summary, err := runner.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))

	// The run is reported as partially completed: the summary comes back
	// alongside the error with the counts committed before the stop.
	require.NotNil(t, summary)
	assert.Equal(t, 42, summary.YearID)
	assert.False(t, summary.Finished.IsZero())
	assert.Zero(t, summary.Inserted)

	entries, err := store.EntriesForYear(42)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunPropagatesAuthenticationFailure(t *testing.T) {
	source := &fakeSource{
		yearID:  42,
		authErr: errors.Newf("credentials rejected").Category(errors.CategoryAuthentication).Build(),
	}
	runner, _ := newTestRunner(t, source)

	_, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthentication))
}

func TestHealthCheck(t *testing.T) {
	source := &fakeSource{yearID: 42}
	runner, _ := newTestRunner(t, source)

	require.NoError(t, runner.HealthCheck(context.Background()))

	source.healthy = errors.Newf("source unreachable").Category(errors.CategoryNetwork).Build()
	err := runner.HealthCheck(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}
