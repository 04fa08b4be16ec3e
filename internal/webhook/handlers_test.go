package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"embygram/internal/emby"
	"embygram/internal/media"
	"embygram/pkg/logx"
)

const libraryNewPayload = `{
  "tv": [
    {
      "Event": "library.new",
      "Item": {
        "Type": "Episode",
        "Name": "第 5 集",
        "SeriesName": "群星",
        "SeriesId": "srv-101",
        "SeasonId": "srv-101-s01",
        "IndexNumber": 5,
        "ParentIndexNumber": 1,
        "ProductionYear": 2023,
        "Size": 1610612736
      }
    }
  ]
}`

type fakeEngine struct {
	mu      sync.Mutex
	err     error
	pending int
	subs    []media.NotificationAttributes
}

func (f *fakeEngine) Submit(_ context.Context, attrs media.NotificationAttributes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, attrs)
	return f.err
}

func (f *fakeEngine) Pending() int { return f.pending }

func (f *fakeEngine) submitted() []media.NotificationAttributes {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]media.NotificationAttributes, len(f.subs))
	copy(out, f.subs)
	return out
}

type fakeEnricher struct{ calls int }

func (f *fakeEnricher) Enrich(_ context.Context, attrs *media.NotificationAttributes) {
	f.calls++
	if attrs.TMDBID == "" {
		attrs.TMDBID = "424242"
	}
}

type fakeTelegram struct{ configured bool }

func (f *fakeTelegram) IsConfigured() bool { return f.configured }

func newTestHandler(cfg Config, engine *fakeEngine, enricher Enricher, tg Telegram) http.Handler {
	deps := Deps{
		Extractor: emby.NewExtractor(logx.Nop()),
		Enricher:  enricher,
		Engine:    engine,
		Telegram:  tg,
	}
	s := New(cfg, deps, logx.Nop())
	return s.routes(cfg)
}

func postWebhook(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestWebhookQueuesLibraryNew(t *testing.T) {
	engine := &fakeEngine{}
	enricher := &fakeEnricher{}
	h := newTestHandler(Config{}, engine, enricher, &fakeTelegram{})

	rec := postWebhook(t, h, libraryNewPayload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "success" || resp.Message != "Notification queued" {
		t.Fatalf("response = %+v", resp)
	}

	subs := engine.submitted()
	if len(subs) != 1 {
		t.Fatalf("engine received %d submissions, want 1", len(subs))
	}
	got := subs[0]
	if got.Kind != media.KindEpisode || got.EpisodeCode != "S01E05" || got.SeriesID != "srv-101" {
		t.Errorf("submitted attrs = %+v", got)
	}
	if got.TMDBID != "424242" {
		t.Errorf("enrichment did not run before submit: TMDBID = %q", got.TMDBID)
	}
	if enricher.calls != 1 {
		t.Errorf("enricher called %d times, want 1", enricher.calls)
	}
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(Config{}, engine, nil, &fakeTelegram{})

	rec := postWebhook(t, h, `{"Event": "playback.start"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "ignored" || resp.Message != "Event playback.start ignored" {
		t.Fatalf("response = %+v", resp)
	}
	if len(engine.submitted()) != 0 {
		t.Fatal("ignored event reached the engine")
	}
}

func TestWebhookRejectsUnusableBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"not json", "not json"},
		{"no event marker", `{"tv": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &fakeEngine{}
			h := newTestHandler(Config{}, engine, nil, &fakeTelegram{})

			rec := postWebhook(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
			}
			resp := decodeResponse(t, rec)
			if resp.Status != "error" || resp.Message != "Empty request" {
				t.Fatalf("response = %+v", resp)
			}
			if len(engine.submitted()) != 0 {
				t.Fatal("rejected body reached the engine")
			}
		})
	}
}

func TestWebhookReportsUnextractableItem(t *testing.T) {
	engine := &fakeEngine{}
	h := newTestHandler(Config{}, engine, nil, &fakeTelegram{})

	rec := postWebhook(t, h, `{"Event": "library.new"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "error" || resp.Message != "Failed to process notification" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestWebhookReportsSubmitFailure(t *testing.T) {
	engine := &fakeEngine{err: errors.New("telegram down")}
	h := newTestHandler(Config{}, engine, nil, &fakeTelegram{})

	rec := postWebhook(t, h, libraryNewPayload)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Status != "error" || resp.Message != "Failed to process notification" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestHealthReportsConfigurationAndBacklog(t *testing.T) {
	engine := &fakeEngine{pending: 3}
	h := newTestHandler(Config{}, engine, nil, &fakeTelegram{configured: true})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || !resp.TelegramConfigured || resp.PendingBatches != 3 {
		t.Fatalf("health = %+v", resp)
	}
}

func TestIndexListsEndpoints(t *testing.T) {
	h := newTestHandler(Config{Version: "1.2.3", EnableMetrics: true}, &fakeEngine{}, nil, &fakeTelegram{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp indexResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Name != "embygram" || resp.Version != "1.2.3" {
		t.Fatalf("index = %+v", resp)
	}
	for _, key := range []string{"webhook", "health", "metrics"} {
		if _, ok := resp.Endpoints[key]; !ok {
			t.Errorf("endpoints missing %q: %v", key, resp.Endpoints)
		}
	}
}
