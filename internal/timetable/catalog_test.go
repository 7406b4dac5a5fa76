package timetable

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mainPage = `<html><body>
<div class="card-default faculties__item">
  <a href="/rasp/faculty?id=1">Institute of Informatics</a>
</div>
<div class="card-default faculties__item">
  <a href="/rasp/faculty?id=2">Institute of Engines</a>
</div>
</body></html>`

const coursePage = `<html><body>
<a class="btn-text nav-course__item" href="/rasp/faculty?id=1&course=1">1</a>
<a class="btn-text nav-course__item" href="/rasp/faculty?id=1&course=2">2</a>
</body></html>`

const groupPage = `<html><body>
<a class="btn-text group-catalog__group" href="/rasp?groupId=111222333">6101-010302D</a>
<a class="btn-text group-catalog__group" href="/rasp?groupId=444555666">6102-010302D</a>
<a class="btn-text group-catalog__group" href="/rasp?groupId=111222333">6101-010302D</a>
</body></html>`

func TestScrapeGroupCatalog(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", testBaseURL,
		httpmock.NewStringResponder(http.StatusOK, mainPage))
	httpmock.RegisterResponder("GET", `=~/rasp/faculty\?id=\d+$`,
		httpmock.NewStringResponder(http.StatusOK, coursePage))
	httpmock.RegisterResponder("GET", `=~/rasp/faculty\?id=\d+&course=\d+$`,
		httpmock.NewStringResponder(http.StatusOK, groupPage))

	ids, err := client.ScrapeGroupCatalog(context.Background())
	require.NoError(t, err)

	// Duplicates across pages collapse into a sorted unique set.
	assert.Equal(t, []int64{111222333, 444555666}, ids)
}

func TestScrapeGroupCatalogFailsWithoutInstitutes(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", testBaseURL,
		httpmock.NewStringResponder(http.StatusOK, `<html><body>maintenance</body></html>`))

	_, err := client.ScrapeGroupCatalog(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no institute links")
}

func TestScrapeGroupCatalogToleratesBrokenCoursePages(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", testBaseURL,
		httpmock.NewStringResponder(http.StatusOK, mainPage))
	httpmock.RegisterResponder("GET", `=~/rasp/faculty\?id=1$`,
		httpmock.NewStringResponder(http.StatusOK, coursePage))
	httpmock.RegisterResponder("GET", `=~/rasp/faculty\?id=2$`,
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))
	httpmock.RegisterResponder("GET", `=~/rasp/faculty\?id=\d+&course=\d+$`,
		httpmock.NewStringResponder(http.StatusOK, groupPage))

	ids, err := client.ScrapeGroupCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{111222333, 444555666}, ids)
}

func TestGroupCatalogPrefersCacheFile(t *testing.T) {
	client := newTestClient(t)
	path := filepath.Join(t.TempDir(), "groups.json")
	client.config.CatalogPath = path

	data, err := json.Marshal([]int64{123, 456})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	// No HTTP responders registered: a network fetch would fail the test.
	ids, err := client.GroupCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{123, 456}, ids)
}

func TestGroupCatalogWritesCacheFile(t *testing.T) {
	client := newTestClient(t)
	path := filepath.Join(t.TempDir(), "cache", "groups.json")
	client.config.CatalogPath = path

	httpmock.RegisterResponder("GET", testBaseURL,
		httpmock.NewStringResponder(http.StatusOK, mainPage))
	httpmock.RegisterResponder("GET", `=~/rasp/faculty\?id=\d+$`,
		httpmock.NewStringResponder(http.StatusOK, coursePage))
	httpmock.RegisterResponder("GET", `=~/rasp/faculty\?id=\d+&course=\d+$`,
		httpmock.NewStringResponder(http.StatusOK, groupPage))

	ids, err := client.GroupCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, 2)

	cached, err := loadCatalogFile(path)
	require.NoError(t, err)
	assert.Equal(t, ids, cached)
}

func TestGroupIDFromHref(t *testing.T) {
	cases := []struct {
		href string
		want int64
		ok   bool
	}{
		{"https://example.edu/rasp?groupId=531873125", 531873125, true},
		{"/rasp?groupId=42&week=3", 42, true},
		{"/rasp?week=3", 0, false},
		{"/rasp?groupId=abc", 0, false},
		{"/rasp?groupId=-5", 0, false},
	}
	for _, tc := range cases {
		id, ok := groupIDFromHref(tc.href)
		assert.Equal(t, tc.ok, ok, tc.href)
		assert.Equal(t, tc.want, id, tc.href)
	}
}

func TestAbsoluteHref(t *testing.T) {
	assert.Equal(t, "https://example.edu/rasp?id=1",
		absoluteHref("https://example.edu/rasp", "/rasp?id=1"))
	assert.Equal(t, "https://other.edu/x",
		absoluteHref("https://example.edu/rasp", "https://other.edu/x"))
}
