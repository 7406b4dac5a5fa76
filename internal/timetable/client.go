// Package timetable implements the authenticated client for the university
// timetable source: session handling, per-week schedule fetches and group
// catalog discovery.
package timetable

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/mpetrenko/campusched/internal/conf"
	"github.com/mpetrenko/campusched/internal/errors"
	"github.com/mpetrenko/campusched/internal/logging"
)

const (
	sessionCookieName = "laravel_session"

	// probeGroupID is a known group used to validate sessions and detect the
	// academic year without fetching a full schedule.
	probeGroupID = 1282752616

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds the timetable client configuration.
type Config struct {
	BaseURL     string
	APIURL      string
	LoginURL    string
	Username    string
	Password    string
	SessionID   string
	YearID      int
	Weeks       int
	Concurrency int
	RateLimit   int // requests per second
	MaxRetries  int
	Timeout     time.Duration
	CatalogPath string
	UserAgent   string
}

// DefaultConfig returns a config with sane fetch limits. URLs and credentials
// still have to be filled in by the caller.
func DefaultConfig() Config {
	return Config{
		Weeks:       18,
		Concurrency: 30,
		RateLimit:   25,
		MaxRetries:  3,
		Timeout:     10 * time.Second,
		UserAgent:   defaultUserAgent,
	}
}

// ConfigFromSettings builds a client config from the application settings.
func ConfigFromSettings(s *conf.Settings) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = s.Source.BaseURL
	cfg.APIURL = s.Source.APIURL
	cfg.LoginURL = s.Source.LoginURL
	cfg.Username = s.Source.Username
	cfg.Password = s.Source.Password
	cfg.SessionID = s.Source.SessionID
	cfg.YearID = s.Source.YearID
	cfg.Weeks = s.Source.Weeks
	cfg.CatalogPath = s.Source.CatalogPath
	if s.Source.Concurrency > 0 {
		cfg.Concurrency = s.Source.Concurrency
	}
	if s.Source.RateLimit > 0 {
		cfg.RateLimit = s.Source.RateLimit
	}
	if s.Source.MaxRetries > 0 {
		cfg.MaxRetries = s.Source.MaxRetries
	}
	if s.Source.TimeoutSec > 0 {
		cfg.Timeout = time.Duration(s.Source.TimeoutSec) * time.Second
	}
	return cfg
}

// Client talks to the timetable source. The authenticated session is owned by
// the client for the duration of one ingestion run; it is not process-global.
type Client struct {
	config     Config
	httpClient *http.Client
	noRedirect *http.Client // shares the jar, used for the login POST
	limiter    *rate.Limiter
	pageCache  *cache.Cache // caches catalog pages within a run
	logger     *slog.Logger

	mu      sync.RWMutex
	session string // current session cookie value
	yearID  int
}

// NewClient creates a new timetable client. Either a session id or full
// credentials must be configured.
func NewClient(config Config) (*Client, error) {
	if config.SessionID == "" && (config.Username == "" || config.Password == "") {
		return nil, errors.Newf("timetable source requires a session id or username and password").
			Category(errors.CategoryConfiguration).
			Component("timetable").
			Build()
	}
	if config.APIURL == "" {
		return nil, errors.Newf("timetable API URL is required").
			Category(errors.CategoryConfiguration).
			Component("timetable").
			Build()
	}

	def := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = def.RateLimit
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.Concurrency == 0 {
		config.Concurrency = def.Concurrency
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Newf("failed to create cookie jar: %w", err).
			Category(errors.CategoryConfiguration).
			Component("timetable").
			Build()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Jar:     jar,
	}
	noRedirect := &http.Client{
		Timeout: config.Timeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	client := &Client{
		config:     config,
		httpClient: httpClient,
		noRedirect: noRedirect,
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit),
		pageCache:  cache.New(30*time.Minute, time.Hour),
		logger:     logging.ForService("timetable"),
		session:    config.SessionID,
		yearID:     config.YearID,
	}

	client.logger.Info("timetable client initialized",
		"api_url", config.APIURL,
		"rate_limit_rps", config.RateLimit,
		"max_retries", config.MaxRetries,
		"has_session", config.SessionID != "",
		"has_credentials", config.Username != "")

	return client, nil
}

// YearID returns the academic year the client fetches for.
func (c *Client) YearID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.yearID
}

// SetYearID records the academic year to use for subsequent fetches.
func (c *Client) SetYearID(id int) {
	c.mu.Lock()
	c.yearID = id
	c.mu.Unlock()
}

func (c *Client) sessionCookie() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSessionCookie(value string) {
	c.mu.Lock()
	c.session = value
	c.mu.Unlock()
}

// newRequest builds a request with the browser-like headers the source expects.
func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Newf("failed to create HTTP request: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", rawURL).
			Component("timetable").
			Build()
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if s := c.sessionCookie(); s != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: s})
	}
	return req, nil
}

// Authenticate establishes a working session. It first validates a
// pre-configured session cookie and only falls back to a credential login
// when the cookie is missing, expired or rejected.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.sessionCookie() != "" {
		if err := c.validateSession(ctx); err == nil {
			c.logger.Info("existing session is valid")
			return nil
		}
		c.logger.Warn("existing session rejected, falling back to credential login")
	}
	return c.loginWithCredentials(ctx)
}

// validateSession performs a cheap probe request and checks that the source
// answers with schedule data rather than a login redirect.
func (c *Client) validateSession(ctx context.Context) error {
	probeURL := c.timetableURL(probeGroupID, 1)
	req, err := c.newRequest(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Newf("session probe failed: %w", err).
			Category(errors.CategoryNetwork).
			Component("timetable").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("session probe returned status %d", resp.StatusCode).
			Category(errors.CategoryAuthentication).
			Context("status_code", resp.StatusCode).
			Component("timetable").
			Build()
	}

	var payload timetableResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return errors.Newf("session probe returned unparseable body: %w", err).
			Category(errors.CategoryAuthentication).
			Component("timetable").
			Build()
	}
	if payload.Lessons == nil && payload.CurrentYear == nil {
		return errors.Newf("session probe returned no schedule payload").
			Category(errors.CategoryAuthentication).
			Component("timetable").
			Build()
	}
	return nil
}

// CSRF token extraction patterns, tried in order. The login page has carried
// the token in different places across source deployments.
var csrfPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<meta\s+name=(?:"?csrf-token"?)\s+content=(?:"([^"]+)"|([^\s>]+))`),
	regexp.MustCompile(`<meta\s+name=(?:"?_token"?)\s+content=(?:"([^"]+)"|([^\s>]+))`),
	regexp.MustCompile(`window\.__APP__\s*=\s*\{[^}]*"csrf"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`window\.Laravel\s*=\s*\{[^}]*"csrfToken"\s*:\s*"([^"]+)"`),
	regexp.MustCompile(`<input[^>]*name="?_token"?[^>]*value="?([^"\s>]+)"?`),
}

func extractCSRFToken(html string) string {
	for _, re := range csrfPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			for _, g := range m[1:] {
				if g != "" {
					return g
				}
			}
		}
	}
	return ""
}

// loginWithCredentials performs the CSRF-protected form login and captures the
// session cookie issued by the source.
func (c *Client) loginWithCredentials(ctx context.Context) error {
	if c.config.Username == "" || c.config.Password == "" {
		return errors.Newf("session invalid and no credentials configured").
			Category(errors.CategoryAuthentication).
			Component("timetable").
			Build()
	}

	c.logger.Info("starting credential login")

	req, err := c.newRequest(ctx, http.MethodGet, c.config.LoginURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Newf("failed to load login page: %w", err).
			Category(errors.CategoryNetwork).
			Component("timetable").
			Build()
	}
	page, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return errors.Newf("failed to read login page: %w", err).
			Category(errors.CategoryNetwork).
			Component("timetable").
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("login page returned status %d", resp.StatusCode).
			Category(errors.CategoryAuthentication).
			Context("status_code", resp.StatusCode).
			Component("timetable").
			Build()
	}

	token := extractCSRFToken(string(page))
	if token == "" {
		return errors.Newf("CSRF token not found in login page").
			Category(errors.CategoryAuthentication).
			Component("timetable").
			Build()
	}

	form := url.Values{}
	form.Set("_token", token)
	form.Set("login", c.config.Username)
	form.Set("password", c.config.Password)

	loginReq, err := c.newRequest(ctx, http.MethodPost, c.config.LoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	loginReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	loginReq.Header.Set("Referer", c.config.LoginURL)

	loginResp, err := c.noRedirect.Do(loginReq)
	if err != nil {
		return errors.Newf("login request failed: %w", err).
			Category(errors.CategoryNetwork).
			Component("timetable").
			Build()
	}
	defer func() { _ = loginResp.Body.Close() }()

	switch loginResp.StatusCode {
	case http.StatusOK, http.StatusFound, http.StatusSeeOther:
	default:
		return errors.Newf("login rejected with status %d", loginResp.StatusCode).
			Category(errors.CategoryAuthentication).
			Context("status_code", loginResp.StatusCode).
			Component("timetable").
			Build()
	}

	session := sessionFromCookies(loginResp.Cookies())
	if session == "" {
		// The cookie may have been set on the login page request instead.
		if u, err := url.Parse(c.config.LoginURL); err == nil {
			session = sessionFromCookies(c.httpClient.Jar.Cookies(u))
		}
	}
	if session == "" {
		return errors.Newf("credentials rejected: no session cookie issued").
			Category(errors.CategoryAuthentication).
			Component("timetable").
			Build()
	}

	c.setSessionCookie(session)

	if err := c.validateSession(ctx); err != nil {
		return errors.Newf("fresh session failed validation: %w", err).
			Category(errors.CategoryAuthentication).
			Component("timetable").
			Build()
	}

	c.logger.Info("credential login successful")
	return nil
}

func sessionFromCookies(cookies []*http.Cookie) string {
	for _, ck := range cookies {
		if ck.Name == sessionCookieName && ck.Value != "" {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) timetableURL(groupID int64, week int) string {
	return fmt.Sprintf("%s?yearId=%d&week=%d&userType=student&groupId=%d",
		c.config.APIURL, c.YearID(), week, groupID)
}

// FetchWeek retrieves the raw lessons for one (group, week) scope. Transient
// failures are retried with exponential backoff; a rejected session triggers
// one re-authentication before the fetch is retried.
func (c *Client) FetchWeek(ctx context.Context, groupID int64, week int) ([]Lesson, error) {
	rawURL := c.timetableURL(groupID, week)
	reauthed := false

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Newf("fetch cancelled: %w", err).
				Category(errors.CategoryCancellation).
				Component("timetable").
				Build()
		}

		payload, status, err := c.fetchTimetable(ctx, rawURL)
		switch {
		case err == nil:
			return payload.Lessons, nil

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			if reauthed {
				return nil, errors.Newf("session rejected after re-authentication").
					Category(errors.CategoryAuthentication).
					Context("group_id", groupID).
					Context("week", week).
					Component("timetable").
					Build()
			}
			c.logger.Warn("session expired, re-authenticating", "group_id", groupID, "week", week)
			if authErr := c.Authenticate(ctx); authErr != nil {
				return nil, authErr
			}
			reauthed = true
			// Do not count the auth round-trip as a retry attempt.
			attempt--
			continue

		case status >= 400 && status < 500 && status != http.StatusTooManyRequests:
			// Permanent client error, retrying will not help.
			return nil, err

		default:
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, errors.Newf("fetch cancelled: %w", ctx.Err()).
				Category(errors.CategoryCancellation).
				Component("timetable").
				Build()
		}

		if attempt < c.config.MaxRetries {
			delay := backoffDelay(attempt)
			c.logger.Warn("week fetch failed, retrying",
				"group_id", groupID,
				"week", week,
				"attempt", attempt+1,
				"delay_ms", delay.Milliseconds(),
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, errors.Newf("fetch cancelled: %w", ctx.Err()).
					Category(errors.CategoryCancellation).
					Component("timetable").
					Build()
			}
		}
	}

	return nil, errors.Newf("week fetch exhausted %d attempts: %w", c.config.MaxRetries+1, lastErr).
		Category(errors.CategoryNetwork).
		Context("group_id", groupID).
		Context("week", week).
		Component("timetable").
		Build()
}

// backoffDelay returns the exponential backoff delay for a retry attempt,
// capped at five seconds.
func backoffDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
	if delay > 5*time.Second {
		delay = 5 * time.Second
	}
	return delay
}

// fetchTimetable performs a single timetable API request. The returned status
// is 0 for transport-level failures.
func (c *Client) fetchTimetable(ctx context.Context, rawURL string) (*timetableResponse, int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Newf("timetable request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", rawURL).
			Component("timetable").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Newf("failed to read timetable response: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", rawURL).
			Component("timetable").
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, errors.Newf("timetable request returned status %d", resp.StatusCode).
			Category(categoryForStatus(resp.StatusCode)).
			Context("status_code", resp.StatusCode).
			Context("url", rawURL).
			Component("timetable").
			Build()
	}

	var payload timetableResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, resp.StatusCode, errors.Newf("failed to parse timetable response: %w", err).
			Category(errors.CategoryParsing).
			Context("url", rawURL).
			Context("response_size", len(body)).
			Component("timetable").
			Build()
	}

	return &payload, resp.StatusCode, nil
}

// CurrentYearID asks the source for the current academic year. When the
// source does not report one, the configured year is returned.
func (c *Client) CurrentYearID(ctx context.Context) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	payload, _, err := c.fetchTimetable(ctx, c.timetableURL(probeGroupID, 1))
	if err != nil {
		return 0, err
	}
	if payload.CurrentYear != nil && payload.CurrentYear.ID > 0 {
		return payload.CurrentYear.ID, nil
	}
	if c.YearID() > 0 {
		c.logger.Warn("source did not report the current year, using configured year", "year_id", c.YearID())
		return c.YearID(), nil
	}
	return 0, errors.Newf("source did not report the current academic year").
		Category(errors.CategoryParsing).
		Component("timetable").
		Build()
}

// Healthy reports whether the source is reachable with a working session.
func (c *Client) Healthy(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.validateSession(ctx)
}

func categoryForStatus(statusCode int) errors.ErrorCategory {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errors.CategoryAuthentication
	case statusCode == http.StatusTooManyRequests:
		return errors.CategoryLimit
	case statusCode == http.StatusNotFound:
		return errors.CategoryNotFound
	default:
		return errors.CategoryNetwork
	}
}
