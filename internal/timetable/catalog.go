package timetable

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/mpetrenko/campusched/internal/errors"
)

// GroupCatalog returns the ids of every student group published on the
// timetable site. A cached catalog file is used when present; discovery walks
// the institute and course pages otherwise.
func (c *Client) GroupCatalog(ctx context.Context) ([]int64, error) {
	if c.config.CatalogPath != "" {
		if ids, err := loadCatalogFile(c.config.CatalogPath); err == nil && len(ids) > 0 {
			c.logger.Info("loaded group catalog from cache", "path", c.config.CatalogPath, "groups", len(ids))
			return ids, nil
		}
	}

	ids, err := c.ScrapeGroupCatalog(ctx)
	if err != nil {
		return nil, err
	}

	if c.config.CatalogPath != "" {
		if err := saveCatalogFile(c.config.CatalogPath, ids); err != nil {
			c.logger.Warn("failed to cache group catalog", "path", c.config.CatalogPath, "error", err)
		}
	}
	return ids, nil
}

// ScrapeGroupCatalog discovers group ids by walking the public timetable
// pages from the institute list down to the per-course group links.
func (c *Client) ScrapeGroupCatalog(ctx context.Context) ([]int64, error) {
	c.logger.Info("scraping group catalog", "base_url", c.config.BaseURL)

	institutes, err := c.extractLinks(ctx, c.config.BaseURL, "faculties__item")
	if err != nil {
		return nil, err
	}
	if len(institutes) == 0 {
		return nil, errors.Newf("no institute links found on %s", c.config.BaseURL).
			Category(errors.CategoryParsing).
			Component("timetable").
			Build()
	}
	c.logger.Info("found institutes", "count", len(institutes))

	courses, err := c.collectConcurrently(ctx, institutes, "nav-course__item")
	if err != nil {
		return nil, err
	}
	c.logger.Info("found courses", "count", len(courses))

	groupLinks, err := c.collectConcurrently(ctx, courses, "group-catalog__group")
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var ids []int64
	for _, link := range groupLinks {
		id, ok := groupIDFromHref(link)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c.logger.Info("group catalog scraped", "groups", len(ids))
	return ids, nil
}

// collectConcurrently fetches a set of pages with bounded concurrency and
// returns the hrefs found under elements carrying the given class token.
// Pages that fail to load are skipped; catalog discovery tolerates holes
// because missing groups simply stay untracked for the run.
func (c *Client) collectConcurrently(ctx context.Context, pages []string, classToken string) ([]string, error) {
	var (
		mu    sync.Mutex
		links []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	for _, page := range pages {
		page := page
		g.Go(func() error {
			found, err := c.extractLinks(gctx, page, classToken)
			if err != nil {
				if errors.IsCategory(err, errors.CategoryCancellation) {
					return err
				}
				c.logger.Warn("catalog page failed, skipping", "url", page, "error", err)
				return nil
			}
			mu.Lock()
			links = append(links, found...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return links, nil
}

// extractLinks fetches a catalog page and returns the hrefs of anchors inside
// (or being) elements with the given class token. Pages are cached for the
// run so repeated discovery passes stay cheap.
func (c *Client) extractLinks(ctx context.Context, pageURL, classToken string) ([]string, error) {
	body, err := c.fetchPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, errors.Newf("failed to parse catalog page: %w", err).
			Category(errors.CategoryParsing).
			Context("url", pageURL).
			Component("timetable").
			Build()
	}

	var links []string
	var walk func(n *html.Node, inside bool)
	walk = func(n *html.Node, inside bool) {
		match := inside
		if n.Type == html.ElementNode {
			if hasClassToken(n, classToken) {
				match = true
			}
			if match && n.Data == "a" {
				if href, ok := attrValue(n, "href"); ok && href != "" {
					links = append(links, absoluteHref(pageURL, href))
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child, match)
		}
	}
	walk(doc, false)

	return links, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (string, error) {
	if cached, found := c.pageCache.Get(pageURL); found {
		if body, ok := cached.(string); ok {
			return body, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.Newf("catalog fetch cancelled: %w", err).
			Category(errors.CategoryCancellation).
			Component("timetable").
			Build()
	}

	req, err := c.newRequest(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Newf("catalog page request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", pageURL).
			Component("timetable").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("catalog page returned status %d", resp.StatusCode).
			Category(errors.CategoryNetwork).
			Context("status_code", resp.StatusCode).
			Context("url", pageURL).
			Component("timetable").
			Build()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Newf("failed to read catalog page: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", pageURL).
			Component("timetable").
			Build()
	}

	page := string(body)
	c.pageCache.Set(pageURL, page, cache.DefaultExpiration)
	return page, nil
}

func hasClassToken(n *html.Node, token string) bool {
	class, ok := attrValue(n, "class")
	if !ok {
		return false
	}
	for _, field := range strings.Fields(class) {
		if field == token {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, name string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val, true
		}
	}
	return "", false
}

// absoluteHref resolves site-relative hrefs against the page they came from.
func absoluteHref(pageURL, href string) string {
	if !strings.HasPrefix(href, "/") {
		return href
	}
	if idx := strings.Index(pageURL, "://"); idx > 0 {
		if slash := strings.Index(pageURL[idx+3:], "/"); slash > 0 {
			return pageURL[:idx+3+slash] + href
		}
		return pageURL + href
	}
	return href
}

func groupIDFromHref(href string) (int64, bool) {
	idx := strings.LastIndex(href, "groupId=")
	if idx < 0 {
		return 0, false
	}
	raw := href[idx+len("groupId="):]
	if amp := strings.IndexByte(raw, '&'); amp >= 0 {
		raw = raw[:amp]
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func loadCatalogFile(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func saveCatalogFile(path string, ids []int64) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
