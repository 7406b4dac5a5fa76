package timetable

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetrenko/campusched/internal/errors"
)

func TestFetchSemesterCollectsAllScopes(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", `=~^`+testAPIURL,
		httpmock.NewStringResponder(http.StatusOK, weekPayload))

	result, err := client.FetchSemester(context.Background(), []int64{111, 222}, 3)
	require.NoError(t, err)

	assert.Len(t, result.Weeks, 6)
	assert.Empty(t, result.Gaps)
	assert.Equal(t, 42, result.YearID)
	assert.False(t, result.Finished.Before(result.Started))

	// Deterministic ordering by group then week.
	assert.Equal(t, int64(111), result.Weeks[0].GroupID)
	assert.Equal(t, 1, result.Weeks[0].Week)
	assert.Equal(t, int64(222), result.Weeks[3].GroupID)
	assert.Equal(t, 3, result.Weeks[5].Week)
}

func TestFetchSemesterRecordsGapsForFailedScopes(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", `=~groupId=111$`,
		httpmock.NewStringResponder(http.StatusOK, weekPayload))
	httpmock.RegisterResponder("GET", `=~groupId=222$`,
		httpmock.NewStringResponder(http.StatusNotFound, "unknown group"))

	result, err := client.FetchSemester(context.Background(), []int64{111, 222}, 2)
	require.NoError(t, err)

	assert.Len(t, result.Weeks, 2)
	require.Len(t, result.Gaps, 2)
	assert.Equal(t, int64(222), result.Gaps[0].GroupID)
	assert.Equal(t, 1, result.Gaps[0].Week)
	assert.Error(t, result.Gaps[0].Err)

	scopes := result.GapScopes()
	require.NotNil(t, scopes)
	assert.True(t, scopes[222][1])
	assert.True(t, scopes[222][2])
	assert.Nil(t, scopes[111])
}

func TestFetchSemesterAbortsOnAuthenticationFailure(t *testing.T) {
	client := newTestClient(t)

	// Every request is rejected, including the re-auth probe, so the pass
	// fails instead of recording every scope as a gap.
	httpmock.RegisterResponder("GET", `=~^`+testAPIURL,
		httpmock.NewStringResponder(http.StatusUnauthorized, "expired"))

	_, err := client.FetchSemester(context.Background(), []int64{111, 222}, 2)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAuthentication))
}

func TestFetchSemesterValidatesInput(t *testing.T) {
	client := newTestClient(t)

	_, err := client.FetchSemester(context.Background(), nil, 18)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = client.FetchSemester(context.Background(), []int64{111}, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestGapScopesEmpty(t *testing.T) {
	fetch := &SemesterFetch{}
	assert.Nil(t, fetch.GapScopes())
}
