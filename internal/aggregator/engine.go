// Package aggregator is the relay's core: it decides immediate send vs
// hold, batches episode notifications per (series, season) over a
// debounced time window, and merges each batch into one summarized
// message when the window closes.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"embygram/internal/eventbus"
	"embygram/internal/media"
	"embygram/internal/metrics"
	"embygram/internal/telegram"
	"embygram/pkg/logx"
)

// DefaultDelay is the aggregation window applied when the configured
// delay is missing or invalid.
const DefaultDelay = 10 * time.Second

// Renderer produces the message text for single and aggregated
// deliveries.
type Renderer interface {
	RenderSingle(attrs media.NotificationAttributes) (title, body string)
	RenderBatch(base media.NotificationAttributes, episodeRanges string, count int, totalSizeText string) (title, body string)
}

// Sender delivers a rendered note.
type Sender interface {
	Send(ctx context.Context, note telegram.Note) error
}

type batchKey struct {
	seriesID string
	seasonID string
}

type entry struct {
	attrs      media.NotificationAttributes
	receivedAt time.Time
}

// batch is owned by the engine and only touched under its mutex. gen is
// the engine generation at the last timer arm; a timer firing with an
// older generation lost a race against a newer submission and must
// no-op.
type batch struct {
	entries []entry
	timer   *time.Timer
	gen     uint64
}

// Engine implements the aggregation core. One mutex guards the batch
// map, the timer handles, and the delay; nothing network-bound ever runs
// under it.
type Engine struct {
	log      logx.Logger
	renderer Renderer
	sender   Sender
	bus      eventbus.Bus

	mu      sync.Mutex
	delay   time.Duration
	gen     uint64
	batches map[batchKey]*batch
}

// New builds an engine. bus may be nil when no component consumes
// delivery events.
func New(delay time.Duration, renderer Renderer, sender Sender, bus eventbus.Bus, log logx.Logger) *Engine {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Engine{
		log:      log.With(logx.String("comp", "aggregator")),
		renderer: renderer,
		sender:   sender,
		bus:      bus,
		delay:    delay,
		batches:  map[batchKey]*batch{},
	}
}

// SetDelay updates the aggregation window for batches armed after the
// call. Non-positive values are ignored.
func (e *Engine) SetDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	e.mu.Lock()
	e.delay = d
	e.mu.Unlock()
}

// Pending reports the number of batches waiting for their window to
// close.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

// Submit routes one normalized notification. Movies and episodes without
// a complete aggregation key deliver immediately and report that
// delivery's outcome; episodes with a key are buffered and their timer
// restarted, so a steady trickle keeps extending the window. For
// buffered submissions the return is always nil.
func (e *Engine) Submit(ctx context.Context, attrs media.NotificationAttributes) error {
	if attrs.Kind != media.KindEpisode {
		metrics.Submissions.WithLabelValues(string(attrs.Kind), "immediate").Inc()
		return e.sendSingle(ctx, attrs, attrs.PosterURL)
	}

	if !attrs.HasAggregationKey() {
		e.log.Warn("episode missing series or season id, sending directly",
			logx.String("title", attrs.TitleYear),
			logx.String("series_id", attrs.SeriesID),
			logx.String("season_id", attrs.SeasonID))
		metrics.Submissions.WithLabelValues("episode", "fallback").Inc()
		return e.sendSingle(ctx, attrs, attrs.PosterURL)
	}

	key := batchKey{seriesID: attrs.SeriesID, seasonID: attrs.SeasonID}

	e.mu.Lock()
	b, ok := e.batches[key]
	if !ok {
		b = &batch{}
		e.batches[key] = b
		metrics.PendingBatches.Set(float64(len(e.batches)))
	}
	b.entries = append(b.entries, entry{attrs: attrs, receivedAt: time.Now()})
	if b.timer != nil {
		b.timer.Stop()
	}
	e.gen++
	gen := e.gen
	b.gen = gen
	b.timer = time.AfterFunc(e.delay, func() { e.flush(key, gen) })
	pending := len(b.entries)
	e.mu.Unlock()

	metrics.Submissions.WithLabelValues("episode", "batched").Inc()
	e.log.Info("episode queued for aggregation",
		logx.String("series_id", key.seriesID),
		logx.String("season_id", key.seasonID),
		logx.String("episode", attrs.EpisodeCode),
		logx.Int("queued", pending))
	return nil
}

// flush is the timer callback. The generation check makes timers that
// lost a cancel race harmless.
func (e *Engine) flush(key batchKey, gen uint64) {
	e.mu.Lock()
	b, ok := e.batches[key]
	if !ok || b.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.batches, key)
	metrics.PendingBatches.Set(float64(len(e.batches)))
	if b.timer != nil {
		b.timer.Stop()
	}
	entries := b.entries
	e.mu.Unlock()

	e.deliver(context.Background(), key, entries)
}

// FlushAll drains every pending batch immediately, used on shutdown.
// Timers are cancelled and batches removed under the mutex; delivery
// happens outside it.
func (e *Engine) FlushAll(ctx context.Context) {
	e.mu.Lock()
	drained := make(map[batchKey][]entry, len(e.batches))
	for key, b := range e.batches {
		if b.timer != nil {
			b.timer.Stop()
		}
		drained[key] = b.entries
	}
	e.batches = map[batchKey]*batch{}
	metrics.PendingBatches.Set(0)
	e.mu.Unlock()

	for key, entries := range drained {
		e.deliver(ctx, key, entries)
	}
}

// deliver sends a drained batch: the defensive per-item fallback when
// entries disagree on their key, a plain single send for one entry, and
// the merged summary otherwise. Delivery failures are logged and
// published, never retried.
func (e *Engine) deliver(ctx context.Context, key batchKey, entries []entry) {
	if len(entries) == 0 {
		return
	}

	if !allConsistent(entries) {
		e.log.Error("batch mixes series or season entries, sending individually",
			logx.String("series_id", key.seriesID),
			logx.String("season_id", key.seasonID),
			logx.Int("entries", len(entries)))
		metrics.Flushes.WithLabelValues("inconsistent").Inc()
		for _, it := range entries {
			_ = e.sendSingle(ctx, it.attrs, "")
		}
		return
	}

	metrics.BatchSize.Observe(float64(len(entries)))

	if len(entries) == 1 {
		metrics.Flushes.WithLabelValues("single").Inc()
		_ = e.sendSingle(ctx, entries[0].attrs, entries[0].attrs.PosterURL)
		return
	}

	base := entries[0].attrs
	ranges, totalSizeText, totalBytes := mergeEntries(entries)
	title, body := e.renderer.RenderBatch(base, ranges, len(entries), totalSizeText)

	err := e.sender.Send(ctx, telegram.Note{Title: title, Body: body, ImageURL: base.PosterURL})
	metrics.Flushes.WithLabelValues("merged").Inc()
	e.publishDelivery("batch", base.TitleYear, ranges, len(entries), totalBytes, err)
	if err != nil {
		e.log.Error("aggregated delivery failed",
			logx.String("title", title),
			logx.Int("episodes", len(entries)),
			logx.Err(err))
		return
	}
	e.log.Info("aggregated notification sent",
		logx.String("title", title),
		logx.Int("episodes", len(entries)))
}

func (e *Engine) sendSingle(ctx context.Context, attrs media.NotificationAttributes, imageURL string) error {
	title, body := e.renderer.RenderSingle(attrs)
	err := e.sender.Send(ctx, telegram.Note{Title: title, Body: body, ImageURL: imageURL})
	e.publishDelivery(string(attrs.Kind), attrs.TitleYear, attrs.EpisodeCode, 1, attrs.SizeBytes, err)
	if err != nil {
		e.log.Error("notification delivery failed", logx.String("title", title), logx.Err(err))
		return fmt.Errorf("deliver %q: %w", title, err)
	}
	e.log.Info("notification sent", logx.String("title", title))
	return nil
}

func (e *Engine) publishDelivery(kind, title, episodes string, items int, size int64, err error) {
	if e.bus == nil {
		return
	}
	d := eventbus.Delivery{
		At:       time.Now(),
		Kind:     kind,
		Title:    title,
		Episodes: episodes,
		Items:    items,
		Bytes:    size,
		OK:       err == nil,
	}
	typ := eventbus.EventDelivered
	if err != nil {
		typ = eventbus.EventDeliveryFailed
		d.Error = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: d})
}
