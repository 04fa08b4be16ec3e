package tmdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"embygram/internal/media"
	"embygram/pkg/logx"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(Config{APIKey: "test-key", BaseURL: srv.URL, ImageBaseURL: "https://img.example/w500"}, logx.Nop())
	return c, srv
}

func TestLookupDetails(t *testing.T) {
	t.Parallel()
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/3/tv/94997" {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("language"); got != "zh-CN" {
			t.Errorf("language = %q", got)
		}
		if got := r.URL.Query().Get("api_key"); got != "test-key" {
			t.Errorf("api_key = %q", got)
		}
		w.Write([]byte(`{"poster_path": "/abc.jpg", "overview": "中文简介"}`))
	}))

	info := c.Lookup(context.Background(), media.NotificationAttributes{
		Kind:   media.KindEpisode,
		TMDBID: "94997",
	})

	if info.TMDBID != "94997" {
		t.Fatalf("TMDBID = %q", info.TMDBID)
	}
	if info.PosterURL != "https://img.example/w500/abc.jpg" {
		t.Fatalf("PosterURL = %q", info.PosterURL)
	}
	if info.Summary != "中文简介" {
		t.Fatalf("Summary = %q", info.Summary)
	}
}

func TestLookupDiscoversByIMDB(t *testing.T) {
	t.Parallel()
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/3/find/tt1520211":
			if got := r.URL.Query().Get("external_source"); got != "imdb_id" {
				t.Errorf("external_source = %q", got)
			}
			w.Write([]byte(`{"tv_results": [{"id": 94997}], "movie_results": []}`))
		case "/3/tv/94997":
			w.Write([]byte(`{"poster_path": "/p.jpg", "overview": ""}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
		}
	}))

	info := c.Lookup(context.Background(), media.NotificationAttributes{
		Kind:   media.KindEpisode,
		IMDBID: "tt1520211",
	})

	if info.TMDBID != "94997" {
		t.Fatalf("TMDBID = %q", info.TMDBID)
	}
	if info.PosterURL != "https://img.example/w500/p.jpg" {
		t.Fatalf("PosterURL = %q", info.PosterURL)
	}
}

func TestLookupFallsBackToSearch(t *testing.T) {
	t.Parallel()
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/3/search/movie":
			if got := r.URL.Query().Get("query"); got != "沙丘" {
				t.Errorf("query = %q", got)
			}
			if got := r.URL.Query().Get("year"); got != "2021" {
				t.Errorf("year = %q", got)
			}
			w.Write([]byte(`{"results": [{"id": 438631}]}`))
		case "/3/movie/438631":
			w.Write([]byte(`{"poster_path": "", "overview": "沙丘的简介"}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
		}
	}))

	info := c.Lookup(context.Background(), media.NotificationAttributes{
		Kind:      media.KindMovie,
		Title:     "沙丘",
		TitleYear: "沙丘 (2021)",
	})

	if info.TMDBID != "438631" {
		t.Fatalf("TMDBID = %q", info.TMDBID)
	}
	if info.PosterURL != "" {
		t.Fatalf("PosterURL = %q, want empty", info.PosterURL)
	}
	if info.Summary != "沙丘的简介" {
		t.Fatalf("Summary = %q", info.Summary)
	}
}

func TestLookupWithoutAPIKey(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	info := c.Lookup(context.Background(), media.NotificationAttributes{TMDBID: "1"})

	if info != (Info{}) {
		t.Fatalf("Lookup = %+v, want zero", info)
	}
	if hits.Load() != 0 {
		t.Fatalf("server hit %d times, want 0", hits.Load())
	}
}

func TestLookupSurvivesServerError(t *testing.T) {
	t.Parallel()
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	info := c.Lookup(context.Background(), media.NotificationAttributes{
		Kind:   media.KindMovie,
		TMDBID: "438631",
	})

	if info.TMDBID != "438631" {
		t.Fatalf("TMDBID = %q, want the known id even when details fail", info.TMDBID)
	}
	if info.PosterURL != "" || info.Summary != "" {
		t.Fatalf("info = %+v, want no poster or summary", info)
	}
}

func TestEnrich(t *testing.T) {
	t.Parallel()
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"poster_path": "/x.jpg", "overview": "翻译后的简介"}`))
	}))

	attrs := media.NotificationAttributes{
		Kind:          media.KindMovie,
		TMDBID:        "438631",
		Summary:       "english overview",
		SummarySource: "emby",
	}
	c.Enrich(context.Background(), &attrs)

	if attrs.PosterURL != "https://img.example/w500/x.jpg" {
		t.Fatalf("PosterURL = %q", attrs.PosterURL)
	}
	if attrs.Summary != "翻译后的简介" || attrs.SummarySource != "tmdb" {
		t.Fatalf("summary = %q from %q", attrs.Summary, attrs.SummarySource)
	}
}

func TestEnrichKeepsSourceSummaryWhenEmpty(t *testing.T) {
	t.Parallel()
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"poster_path": "/x.jpg", "overview": ""}`))
	}))

	attrs := media.NotificationAttributes{
		Kind:          media.KindMovie,
		TMDBID:        "438631",
		Summary:       "来自 Emby 的简介",
		SummarySource: "emby",
	}
	c.Enrich(context.Background(), &attrs)

	if attrs.Summary != "来自 Emby 的简介" || attrs.SummarySource != "emby" {
		t.Fatalf("summary = %q from %q, want the Emby summary kept", attrs.Summary, attrs.SummarySource)
	}
}

func TestSplitTitleYear(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		title string
		year  int
	}{
		{name: "with year", in: "群星 (2023)", title: "群星", year: 2023},
		{name: "no year", in: "群星", title: "群星", year: 0},
		{name: "empty", in: "", title: "", year: 0},
		{name: "parens in name", in: "Mission (Redux) (2019)", title: "Mission (Redux)", year: 2019},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			title, year := splitTitleYear(tt.in)
			if title != tt.title || year != tt.year {
				t.Fatalf("splitTitleYear(%q) = (%q, %d), want (%q, %d)",
					tt.in, title, year, tt.title, tt.year)
			}
		})
	}
}
