// Package tmdb enriches notifications with TMDB metadata: poster art,
// localized summaries, and, when the webhook carried no TMDB id, the id
// itself via find/search discovery. Lookups are best effort; every
// failure is swallowed after logging so delivery never waits on TMDB.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"embygram/internal/media"
	"embygram/internal/metrics"
	"embygram/pkg/logx"
)

const (
	DefaultBaseURL      = "https://api.themoviedb.org"
	DefaultImageBaseURL = "https://image.tmdb.org/t/p/w500"
	DefaultLanguage     = "zh-CN"
	DefaultTimeout      = 5 * time.Second

	breakerName     = "tmdb-api"
	maxResponseSize = 1 << 20
)

// Config holds the TMDB client settings. Zero fields fall back to the
// package defaults; an empty APIKey disables enrichment entirely.
type Config struct {
	APIKey       string
	BaseURL      string
	ImageBaseURL string
	Language     string
	Timeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.ImageBaseURL == "" {
		c.ImageBaseURL = DefaultImageBaseURL
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Info is the enrichment result. Zero fields mean the lookup produced
// nothing for that slot.
type Info struct {
	TMDBID    string
	PosterURL string
	Summary   string
}

// Client talks to the TMDB v3 API behind a circuit breaker.
type Client struct {
	log     logx.Logger
	breaker *gobreaker.CircuitBreaker[[]byte]

	mu   sync.RWMutex
	cfg  Config
	http *http.Client
}

func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		log:  log.With(logx.String("comp", "tmdb")),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}

	metrics.BreakerState.WithLabelValues(breakerName).Set(0)
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			c.log.Warn("circuit breaker state changed",
				logx.String("from", from.String()),
				logx.String("to", to.String()))
		},
	})
	return c
}

// Apply swaps the client settings. Called on config reload; the breaker
// keeps its state across reloads.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.http = &http.Client{Timeout: cfg.Timeout}
}

func (c *Client) snapshot() (Config, *http.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.http
}

// Lookup resolves poster, localized summary, and (when absent) the TMDB
// id for the given notification. It never returns an error: a failed or
// disabled lookup yields a zero Info.
func (c *Client) Lookup(ctx context.Context, attrs media.NotificationAttributes) Info {
	cfg, _ := c.snapshot()
	if cfg.APIKey == "" {
		c.log.Debug("no API key configured, skipping enrichment")
		return Info{}
	}

	id := attrs.TMDBID
	if id == "" {
		id = c.discover(ctx, cfg, attrs)
	}
	if id == "" {
		return Info{}
	}

	info := Info{TMDBID: id}
	details, err := c.details(ctx, cfg, attrs.Kind.CatalogType(), id)
	if err != nil {
		c.log.Warn("details lookup failed", logx.String("id", id), logx.Err(err))
		return info
	}
	if details.PosterPath != "" {
		info.PosterURL = strings.TrimRight(cfg.ImageBaseURL, "/") + details.PosterPath
	}
	info.Summary = details.Overview
	return info
}

// Enrich merges a lookup into the notification in place: discovered id,
// poster, and the localized summary (keeping the Emby one when TMDB has
// no translation).
func (c *Client) Enrich(ctx context.Context, attrs *media.NotificationAttributes) {
	info := c.Lookup(ctx, *attrs)
	if attrs.TMDBID == "" && info.TMDBID != "" {
		attrs.TMDBID = info.TMDBID
	}
	if info.PosterURL != "" {
		attrs.PosterURL = info.PosterURL
	}
	if info.Summary != "" {
		attrs.Summary = info.Summary
		attrs.SummarySource = "tmdb"
	}
}

type detailsResponse struct {
	PosterPath string `json:"poster_path"`
	Overview   string `json:"overview"`
}

func (c *Client) details(ctx context.Context, cfg Config, catalog, id string) (detailsResponse, error) {
	q := url.Values{}
	q.Set("api_key", cfg.APIKey)
	q.Set("language", cfg.Language)
	body, err := c.get(ctx, cfg, fmt.Sprintf("%s/3/%s/%s?%s", cfg.BaseURL, catalog, id, q.Encode()))
	if err != nil {
		metrics.TMDBLookups.WithLabelValues("details", outcomeOf(err)).Inc()
		return detailsResponse{}, err
	}
	var resp detailsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.TMDBLookups.WithLabelValues("details", "error").Inc()
		return detailsResponse{}, fmt.Errorf("decode details: %w", err)
	}
	metrics.TMDBLookups.WithLabelValues("details", "hit").Inc()
	return resp, nil
}

type catalogEntry struct {
	ID int64 `json:"id"`
}

type findResponse struct {
	MovieResults []catalogEntry `json:"movie_results"`
	TVResults    []catalogEntry `json:"tv_results"`
}

type searchResponse struct {
	Results []catalogEntry `json:"results"`
}

// discover resolves a TMDB id the webhook did not carry: external-id
// lookup by IMDb id first, then a title+year search.
func (c *Client) discover(ctx context.Context, cfg Config, attrs media.NotificationAttributes) string {
	if attrs.IMDBID != "" {
		if id := c.findByIMDB(ctx, cfg, attrs.IMDBID, attrs.Kind); id != "" {
			return id
		}
	}
	title, year := splitTitleYear(attrs.TitleYear)
	if title == "" {
		title = attrs.Title
	}
	if title == "" {
		return ""
	}
	return c.search(ctx, cfg, title, year, attrs.Kind)
}

func (c *Client) findByIMDB(ctx context.Context, cfg Config, imdbID string, kind media.Kind) string {
	q := url.Values{}
	q.Set("api_key", cfg.APIKey)
	q.Set("external_source", "imdb_id")
	body, err := c.get(ctx, cfg, fmt.Sprintf("%s/3/find/%s?%s", cfg.BaseURL, url.PathEscape(imdbID), q.Encode()))
	if err != nil {
		metrics.TMDBLookups.WithLabelValues("find", outcomeOf(err)).Inc()
		c.log.Debug("find by IMDb id failed", logx.String("imdb_id", imdbID), logx.Err(err))
		return ""
	}
	var resp findResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.TMDBLookups.WithLabelValues("find", "error").Inc()
		return ""
	}
	results := resp.MovieResults
	if kind == media.KindEpisode {
		results = resp.TVResults
	}
	if len(results) == 0 {
		metrics.TMDBLookups.WithLabelValues("find", "miss").Inc()
		return ""
	}
	metrics.TMDBLookups.WithLabelValues("find", "hit").Inc()
	return strconv.FormatInt(results[0].ID, 10)
}

func (c *Client) search(ctx context.Context, cfg Config, title string, year int, kind media.Kind) string {
	q := url.Values{}
	q.Set("api_key", cfg.APIKey)
	q.Set("language", cfg.Language)
	q.Set("query", title)
	if year > 0 {
		if kind == media.KindEpisode {
			q.Set("first_air_date_year", strconv.Itoa(year))
		} else {
			q.Set("year", strconv.Itoa(year))
		}
	}
	body, err := c.get(ctx, cfg, fmt.Sprintf("%s/3/search/%s?%s", cfg.BaseURL, kind.CatalogType(), q.Encode()))
	if err != nil {
		metrics.TMDBLookups.WithLabelValues("search", outcomeOf(err)).Inc()
		c.log.Debug("title search failed", logx.String("title", title), logx.Err(err))
		return ""
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.TMDBLookups.WithLabelValues("search", "error").Inc()
		return ""
	}
	if len(resp.Results) == 0 {
		metrics.TMDBLookups.WithLabelValues("search", "miss").Inc()
		return ""
	}
	metrics.TMDBLookups.WithLabelValues("search", "hit").Inc()
	return strconv.FormatInt(resp.Results[0].ID, 10)
}

// get performs one GET through the circuit breaker and returns the
// response body on HTTP 200.
func (c *Client) get(ctx context.Context, cfg Config, rawURL string) ([]byte, error) {
	_, httpClient := c.snapshot()
	return c.breaker.Execute(func() ([]byte, error) {
		reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return body, nil
	})
}

var yearParenRe = regexp.MustCompile(`\((\d{4})\)`)

// splitTitleYear separates "Title (YYYY)" into its parts. Without a year
// marker the whole string is the title.
func splitTitleYear(titleYear string) (string, int) {
	m := yearParenRe.FindStringSubmatch(titleYear)
	if m == nil {
		return titleYear, 0
	}
	year, _ := strconv.Atoi(m[1])
	title := titleYear
	if i := strings.LastIndex(titleYear, "("); i >= 0 {
		title = strings.TrimSpace(titleYear[:i])
	}
	return title, year
}

func outcomeOf(err error) string {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "rejected"
	}
	return "error"
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}
