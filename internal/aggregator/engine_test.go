package aggregator

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"embygram/internal/eventbus"
	"embygram/internal/media"
	"embygram/internal/render"
	"embygram/internal/telegram"
	"embygram/pkg/logx"
)

type sentNote struct {
	note telegram.Note
	at   time.Time
}

type fakeSender struct {
	mu    sync.Mutex
	err   error
	notes []sentNote
}

func (f *fakeSender) Send(_ context.Context, n telegram.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, sentNote{note: n, at: time.Now()})
	return f.err
}

func (f *fakeSender) sent() []sentNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentNote, len(f.notes))
	copy(out, f.notes)
	return out
}

func newTestEngine(delay time.Duration, bus eventbus.Bus) (*Engine, *fakeSender) {
	sender := &fakeSender{}
	return New(delay, render.New(), sender, bus, logx.Nop()), sender
}

func waitSends(t *testing.T, f *fakeSender, n int, timeout time.Duration) []sentNote {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if got := f.sent(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := f.sent()
	t.Fatalf("got %d sends before timeout, want %d", len(got), n)
	return got
}

func episodeAttrs(code, sizeText string) media.NotificationAttributes {
	return media.NotificationAttributes{
		Kind:        media.KindEpisode,
		Title:       "群星",
		TitleYear:   "群星 (2023)",
		SeriesID:    "srv-101",
		SeasonID:    "srv-101-s01",
		EpisodeCode: code,
		SizeText:    sizeText,
		PosterURL:   "https://image.tmdb.org/t/p/w500/stars.jpg",
	}
}

func TestSubmitMergesEpisodesUnderOneKey(t *testing.T) {
	eng, sender := newTestEngine(80*time.Millisecond, nil)
	ctx := context.Background()

	if err := eng.Submit(ctx, episodeAttrs("S01E01", "1.50 GB")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Submit(ctx, episodeAttrs("S01E02", "500.00 MB")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := len(sender.sent()); got != 0 {
		t.Fatalf("sent %d notes before the window closed", got)
	}
	if got := eng.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}

	got := waitSends(t, sender, 1, 2*time.Second)
	time.Sleep(120 * time.Millisecond)
	if n := len(sender.sent()); n != 1 {
		t.Fatalf("sent %d notes, want exactly 1", n)
	}

	note := got[0].note
	wantTitle := "🎬 群星 (2023) S01E01-E02 已入库（共 2 集）"
	if note.Title != wantTitle {
		t.Errorf("title = %q, want %q", note.Title, wantTitle)
	}
	if !strings.Contains(note.Body, "💾 总大小：1.99 GB") {
		t.Errorf("body missing summed size:\n%s", note.Body)
	}
	if !strings.Contains(note.Body, "📂 文件：2 个") {
		t.Errorf("body missing file count:\n%s", note.Body)
	}
	if note.ImageURL != "https://image.tmdb.org/t/p/w500/stars.jpg" {
		t.Errorf("image = %q, want first entry's poster", note.ImageURL)
	}
	if got := eng.Pending(); got != 0 {
		t.Errorf("Pending = %d after flush, want 0", got)
	}
}

func TestSubmitKeepsSeasonsApart(t *testing.T) {
	eng, sender := newTestEngine(60*time.Millisecond, nil)
	ctx := context.Background()

	s2 := episodeAttrs("S02E01", "1.50 GB")
	s2.SeasonID = "srv-101-s02"

	if err := eng.Submit(ctx, episodeAttrs("S01E05", "1.50 GB")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Submit(ctx, s2); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := eng.Pending(); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}

	got := waitSends(t, sender, 2, 2*time.Second)
	titles := []string{got[0].note.Title, got[1].note.Title}
	sort.Strings(titles)
	want := []string{
		"🎬 群星 (2023) S01E05 已入库",
		"🎬 群星 (2023) S02E01 已入库",
	}
	if titles[0] != want[0] || titles[1] != want[1] {
		t.Fatalf("titles = %v, want %v", titles, want)
	}
}

func TestSubmitRestartsWindowOnEachEpisode(t *testing.T) {
	delay := 300 * time.Millisecond
	eng, sender := newTestEngine(delay, nil)
	ctx := context.Background()

	var beforeLast time.Time
	for i, code := range []string{"S01E01", "S01E02", "S01E03"} {
		if i > 0 {
			time.Sleep(75 * time.Millisecond)
		}
		beforeLast = time.Now()
		if err := eng.Submit(ctx, episodeAttrs(code, "")); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	got := waitSends(t, sender, 1, 3*time.Second)
	if elapsed := got[0].at.Sub(beforeLast); elapsed < delay {
		t.Errorf("flushed %v after the last submission, want at least %v", elapsed, delay)
	}
	if n := len(sender.sent()); n != 1 {
		t.Fatalf("sent %d notes, want 1", n)
	}
	wantTitle := "🎬 群星 (2023) S01E01-E03 已入库（共 3 集）"
	if got[0].note.Title != wantTitle {
		t.Errorf("title = %q, want %q", got[0].note.Title, wantTitle)
	}
}

func TestSubmitSendsMoviesImmediately(t *testing.T) {
	eng, sender := newTestEngine(50*time.Millisecond, nil)

	attrs := media.NotificationAttributes{
		Kind:      media.KindMovie,
		Title:     "沙丘",
		TitleYear: "沙丘 (2021)",
		SizeText:  "2.00 GB",
		PosterURL: "https://image.tmdb.org/t/p/w500/dune.jpg",
	}
	if err := eng.Submit(context.Background(), attrs); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := sender.sent()
	if len(got) != 1 {
		t.Fatalf("sent %d notes, want an immediate single send", len(got))
	}
	if want := "🎬 沙丘 (2021) 已入库"; got[0].note.Title != want {
		t.Errorf("title = %q, want %q", got[0].note.Title, want)
	}
	if got[0].note.ImageURL != attrs.PosterURL {
		t.Errorf("image = %q, want %q", got[0].note.ImageURL, attrs.PosterURL)
	}
	if eng.Pending() != 0 {
		t.Errorf("movie submission left a pending batch")
	}

	time.Sleep(120 * time.Millisecond)
	if n := len(sender.sent()); n != 1 {
		t.Fatalf("sent %d notes after the window, want 1", n)
	}
}

func TestSubmitFallsBackWhenKeyIncomplete(t *testing.T) {
	eng, sender := newTestEngine(50*time.Millisecond, nil)

	attrs := episodeAttrs("S01E01", "1.50 GB")
	attrs.SeasonID = ""
	if err := eng.Submit(context.Background(), attrs); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := sender.sent()
	if len(got) != 1 {
		t.Fatalf("sent %d notes, want an immediate fallback send", len(got))
	}
	if want := "🎬 群星 (2023) S01E01 已入库"; got[0].note.Title != want {
		t.Errorf("title = %q, want %q", got[0].note.Title, want)
	}
	if got[0].note.ImageURL != attrs.PosterURL {
		t.Errorf("image = %q, want the episode poster", got[0].note.ImageURL)
	}
	if eng.Pending() != 0 {
		t.Errorf("fallback submission left a pending batch")
	}
}

func TestDeliverSplitsInconsistentBatch(t *testing.T) {
	eng, sender := newTestEngine(time.Minute, nil)

	stray := episodeAttrs("S01E02", "1.50 GB")
	stray.SeriesID = "srv-999"
	now := time.Now()
	entries := []entry{
		{attrs: episodeAttrs("S01E01", "1.50 GB"), receivedAt: now},
		{attrs: stray, receivedAt: now},
	}

	eng.deliver(context.Background(), batchKey{seriesID: "srv-101", seasonID: "srv-101-s01"}, entries)

	got := sender.sent()
	if len(got) != 2 {
		t.Fatalf("sent %d notes, want one per entry", len(got))
	}
	for _, s := range got {
		if strings.Contains(s.note.Title, "共") {
			t.Errorf("entry rendered as a batch: %q", s.note.Title)
		}
		if s.note.ImageURL != "" {
			t.Errorf("fallback send carried an image: %q", s.note.ImageURL)
		}
	}
}

func TestFlushAllDrainsAndCancelsTimers(t *testing.T) {
	eng, sender := newTestEngine(150*time.Millisecond, nil)
	ctx := context.Background()

	s2 := episodeAttrs("S02E01", "500.00 MB")
	s2.SeasonID = "srv-101-s02"
	if err := eng.Submit(ctx, episodeAttrs("S01E01", "1.50 GB")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Submit(ctx, s2); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	eng.FlushAll(ctx)
	if got := len(sender.sent()); got != 2 {
		t.Fatalf("FlushAll sent %d notes, want 2", got)
	}
	if eng.Pending() != 0 {
		t.Fatalf("Pending = %d after FlushAll, want 0", eng.Pending())
	}

	// The original timers must not fire a second delivery.
	time.Sleep(250 * time.Millisecond)
	if got := len(sender.sent()); got != 2 {
		t.Fatalf("stale timer re-sent: %d notes, want 2", got)
	}
}

func TestSubmitReportsImmediateDeliveryError(t *testing.T) {
	eng, sender := newTestEngine(50*time.Millisecond, nil)
	boom := errors.New("telegram down")
	sender.err = boom

	attrs := media.NotificationAttributes{Kind: media.KindMovie, Title: "沙丘", TitleYear: "沙丘 (2021)"}
	err := eng.Submit(context.Background(), attrs)
	if !errors.Is(err, boom) {
		t.Fatalf("Submit error = %v, want wrapped %v", err, boom)
	}
}

func TestSetDelayAppliesToNextBatch(t *testing.T) {
	eng, sender := newTestEngine(time.Hour, nil)
	eng.SetDelay(60 * time.Millisecond)

	if err := eng.Submit(context.Background(), episodeAttrs("S01E01", "")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitSends(t, sender, 1, 2*time.Second)
}

func TestDeliveryEventsReachSubscribers(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	eng, sender := newTestEngine(60*time.Millisecond, bus)
	ctx := context.Background()

	if err := eng.Submit(ctx, episodeAttrs("S01E01", "1.50 GB")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Submit(ctx, episodeAttrs("S01E02", "500.00 MB")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitSends(t, sender, 1, 2*time.Second)

	select {
	case ev := <-ch:
		if ev.Type != eventbus.EventDelivered {
			t.Fatalf("event type = %q, want %q", ev.Type, eventbus.EventDelivered)
		}
		d, ok := ev.Data.(eventbus.Delivery)
		if !ok {
			t.Fatalf("event data = %T, want eventbus.Delivery", ev.Data)
		}
		if d.Kind != "batch" || d.Items != 2 || d.Episodes != "S01E01-E02" || !d.OK {
			t.Fatalf("delivery = %+v", d)
		}
		if d.Bytes != 2134900736 {
			t.Fatalf("delivery bytes = %d, want 2134900736", d.Bytes)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery event published")
	}
}

func TestFailedDeliveryPublishesFailureEvent(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	eng, sender := newTestEngine(50*time.Millisecond, bus)
	sender.err = errors.New("telegram down")

	attrs := media.NotificationAttributes{Kind: media.KindMovie, Title: "沙丘", TitleYear: "沙丘 (2021)"}
	if err := eng.Submit(context.Background(), attrs); err == nil {
		t.Fatal("Submit returned nil for a failed delivery")
	}

	select {
	case ev := <-ch:
		if ev.Type != eventbus.EventDeliveryFailed {
			t.Fatalf("event type = %q, want %q", ev.Type, eventbus.EventDeliveryFailed)
		}
		d := ev.Data.(eventbus.Delivery)
		if d.OK || d.Error == "" || d.Kind != "movie" {
			t.Fatalf("delivery = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no failure event published")
	}
}
