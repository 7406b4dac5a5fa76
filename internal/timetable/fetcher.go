package timetable

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpetrenko/campusched/internal/errors"
)

// FetchSemester pulls the timetable of every listed group for weeks 1..weeks
// with bounded concurrency. Scopes that stay unfetchable after the client's
// retries are collected as Gaps rather than failing the pass; authentication
// and cancellation errors abort the whole fetch because no later scope could
// succeed either.
func (c *Client) FetchSemester(ctx context.Context, groups []int64, weeks int) (*SemesterFetch, error) {
	if len(groups) == 0 {
		return nil, errors.Newf("no groups to fetch").
			Category(errors.CategoryValidation).
			Component("timetable").
			Build()
	}
	if weeks < 1 {
		return nil, errors.Newf("invalid week count %d", weeks).
			Category(errors.CategoryValidation).
			Component("timetable").
			Build()
	}

	result := &SemesterFetch{
		YearID:  c.YearID(),
		Started: time.Now(),
	}

	c.logger.Info("fetching semester timetable",
		"groups", len(groups),
		"weeks", weeks,
		"concurrency", c.config.Concurrency)

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	for _, groupID := range groups {
		for week := 1; week <= weeks; week++ {
			groupID, week := groupID, week
			g.Go(func() error {
				lessons, err := c.FetchWeek(gctx, groupID, week)
				if err != nil {
					if errors.IsCategory(err, errors.CategoryAuthentication) ||
						errors.IsCategory(err, errors.CategoryCancellation) {
						return err
					}
					c.logger.Warn("week fetch failed, recording gap",
						"group_id", groupID, "week", week, "error", err)
					mu.Lock()
					result.Gaps = append(result.Gaps, Gap{GroupID: groupID, Week: week, Err: err})
					mu.Unlock()
					return nil
				}

				mu.Lock()
				result.Weeks = append(result.Weeks, WeekLessons{
					GroupID: groupID,
					Week:    week,
					Lessons: lessons,
				})
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Deterministic order keeps downstream normalization and logs stable.
	sort.Slice(result.Weeks, func(i, j int) bool {
		if result.Weeks[i].GroupID != result.Weeks[j].GroupID {
			return result.Weeks[i].GroupID < result.Weeks[j].GroupID
		}
		return result.Weeks[i].Week < result.Weeks[j].Week
	})
	sort.Slice(result.Gaps, func(i, j int) bool {
		if result.Gaps[i].GroupID != result.Gaps[j].GroupID {
			return result.Gaps[i].GroupID < result.Gaps[j].GroupID
		}
		return result.Gaps[i].Week < result.Gaps[j].Week
	})

	result.Finished = time.Now()
	result.YearID = c.YearID()

	c.logger.Info("semester fetch complete",
		"scopes", len(result.Weeks),
		"gaps", len(result.Gaps),
		"duration", result.Finished.Sub(result.Started).Round(time.Millisecond))

	return result, nil
}

// GapScopes returns the set of (group, week) scopes that could not be
// fetched, keyed for quick lookups during sync.
func (f *SemesterFetch) GapScopes() map[int64]map[int]bool {
	if len(f.Gaps) == 0 {
		return nil
	}
	scopes := make(map[int64]map[int]bool)
	for _, gap := range f.Gaps {
		weeks := scopes[gap.GroupID]
		if weeks == nil {
			weeks = make(map[int]bool)
			scopes[gap.GroupID] = weeks
		}
		weeks[gap.Week] = true
	}
	return scopes
}
