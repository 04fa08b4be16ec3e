// Package digest sends a scheduled summary of recent deliveries, so a
// quiet chat still gets one overview message a day.
package digest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"embygram/internal/history"
	"embygram/internal/metrics"
	"embygram/pkg/logx"
)

const (
	DefaultSchedule = "0 9 * * *"
	DefaultWindow   = 24 * time.Hour

	runTimeout = time.Minute
)

// Config controls the digest schedule.
type Config struct {
	Enabled  bool
	Schedule string        // cron spec; empty means DefaultSchedule
	Timezone string        // IANA name; empty means local time
	Window   time.Duration // lookback; 0 means DefaultWindow
}

func (c Config) schedule() string {
	if s := strings.TrimSpace(c.Schedule); s != "" {
		return s
	}
	return DefaultSchedule
}

func (c Config) window() time.Duration {
	if c.Window > 0 {
		return c.Window
	}
	return DefaultWindow
}

// Sender delivers the digest text to the configured chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	cfg    Config
	store  history.Store
	sender Sender
	parser cron.Parser
	c      *cron.Cron
}

// New builds the digest service. store may be nil, which leaves the
// digest dormant regardless of Enabled.
func New(cfg Config, store history.Store, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "digest")),
		cfg:    cfg,
		store:  store,
		sender: sender,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cur := s.cfg
	if !cur.Enabled || s.store == nil {
		s.log.Debug("digest disabled", logx.Bool("enabled", cur.Enabled), logx.Bool("history", s.store != nil))
		return
	}

	loc := s.loadLocationLocked()
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	if _, err := c.AddFunc(cur.schedule(), s.runDigest); err != nil {
		s.log.Error("digest schedule rejected, using default",
			logx.String("schedule", cur.schedule()), logx.Err(err))
		if _, err := c.AddFunc(DefaultSchedule, s.runDigest); err != nil {
			return
		}
	}
	c.Start()
	s.c = c
	s.log.Info("digest scheduled",
		logx.String("schedule", cur.schedule()),
		logx.String("tz", loc.String()),
		logx.Duration("window", cur.window()))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply reschedules on config changes. Safe during hot-reload.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.c != nil
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		s.Start(ctx)
		return
	}
	if prev.schedule() != cfg.schedule() || strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("unknown digest timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) runDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	s.mu.Lock()
	window := s.cfg.window()
	s.mu.Unlock()

	records, err := s.store.Recent(ctx, time.Now().Add(-window))
	if err != nil {
		metrics.DigestRuns.WithLabelValues("error").Inc()
		s.log.Error("digest history query failed", logx.Err(err))
		return
	}
	if len(records) == 0 {
		metrics.DigestRuns.WithLabelValues("empty").Inc()
		s.log.Debug("digest window empty, nothing to send")
		return
	}

	if err := s.sender.SendText(ctx, 0, 0, Summarize(records, window)); err != nil {
		metrics.DigestRuns.WithLabelValues("error").Inc()
		s.log.Error("digest send failed", logx.Err(err))
		return
	}
	metrics.DigestRuns.WithLabelValues("sent").Inc()
	s.log.Info("digest sent", logx.Int("records", len(records)))
}
