package digest

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"embygram/internal/eventbus"
	"embygram/pkg/logx"
)

func TestSummarize(t *testing.T) {
	records := []eventbus.Delivery{
		{Kind: "movie", Title: "沙丘 (2021)", Items: 1, Bytes: 2147483648, OK: true},
		{Kind: "batch", Title: "群星 (2023)", Episodes: "S01E01-E03", Items: 3, Bytes: 4831838208, OK: true},
		{Kind: "episode", Title: "群星 (2023)", Items: 1, Bytes: 1610612736, OK: false, Error: "telegram down"},
	}

	got := Summarize(records, 24*time.Hour)
	want := strings.Join([]string{
		"📊 Emby 入库日报",
		"",
		"🗓 统计范围：最近 24 小时",
		"🎦 电影：1 部",
		"📺 剧集：4 集（1 个批次）",
		"💾 新增：8.00 GB",
		"✅ 送达：2 条",
		"❌ 失败：1 条",
	}, "\n")
	if got != want {
		t.Fatalf("Summarize =\n%s\nwant:\n%s", got, want)
	}
}

func TestSummarizeWithoutFailuresOrSizes(t *testing.T) {
	records := []eventbus.Delivery{
		{Kind: "episode", Title: "群星 (2023)", Items: 1, OK: true},
	}

	got := Summarize(records, 12*time.Hour)
	if strings.Contains(got, "❌") {
		t.Errorf("summary shows a failure line with no failures:\n%s", got)
	}
	if strings.Contains(got, "💾") {
		t.Errorf("summary shows a size line with no size data:\n%s", got)
	}
	if !strings.Contains(got, "🗓 统计范围：最近 12 小时") {
		t.Errorf("summary missing window line:\n%s", got)
	}
	if !strings.Contains(got, "📺 剧集：1 集") || strings.Contains(got, "批次") {
		t.Errorf("episode line wrong without batches:\n%s", got)
	}
}

func TestScheduleSpecsParse(t *testing.T) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, spec := range []string{DefaultSchedule, "30 8 * * 1", "0 0 9 * * *", "@daily"} {
		if _, err := parser.Parse(spec); err != nil {
			t.Errorf("spec %q rejected: %v", spec, err)
		}
	}
}

type fakeStore struct {
	mu      sync.Mutex
	records []eventbus.Delivery
	err     error
}

func (f *fakeStore) AppendDelivery(_ context.Context, d eventbus.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, d)
	return nil
}

func (f *fakeStore) Recent(_ context.Context, _ time.Time) ([]eventbus.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eventbus.Delivery(nil), f.records...), f.err
}

func (f *fakeStore) Close() error { return nil }

type fakeSender struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSender) SendText(_ context.Context, _ int64, _ int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func TestRunDigestSendsSummary(t *testing.T) {
	store := &fakeStore{records: []eventbus.Delivery{
		{At: time.Now().Add(-time.Hour), Kind: "movie", Title: "沙丘 (2021)", Items: 1, OK: true},
	}}
	sender := &fakeSender{}
	s := New(Config{Enabled: true}, store, sender, logx.Nop())

	s.runDigest()

	texts := sender.sent()
	if len(texts) != 1 {
		t.Fatalf("sent %d messages, want 1", len(texts))
	}
	if !strings.Contains(texts[0], "📊 Emby 入库日报") || !strings.Contains(texts[0], "🎦 电影：1 部") {
		t.Errorf("digest text:\n%s", texts[0])
	}
}

func TestRunDigestSkipsEmptyWindow(t *testing.T) {
	sender := &fakeSender{}
	s := New(Config{Enabled: true}, &fakeStore{}, sender, logx.Nop())

	s.runDigest()

	if got := sender.sent(); len(got) != 0 {
		t.Fatalf("sent %d messages for an empty window, want 0", len(got))
	}
}
