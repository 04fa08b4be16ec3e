// Package app wires the relay together: config, logging, the Telegram
// sender, the aggregation engine, the webhook server, and the optional
// history and digest services.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"embygram/internal/aggregator"
	"embygram/internal/config"
	"embygram/internal/digest"
	"embygram/internal/emby"
	"embygram/internal/eventbus"
	"embygram/internal/history"
	"embygram/internal/render"
	"embygram/internal/runtime/supervisor"
	"embygram/internal/telegram"
	"embygram/internal/tmdb"
	"embygram/internal/webhook"
	logx "embygram/pkg/logx"
)

type App struct {
	cfgPath string
	version string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	sender *telegram.Sender
	tmdb   *tmdb.Client
	engine *aggregator.Engine
	web    *webhook.Service

	store  history.Store
	rec    *history.Recorder
	digest *digest.Service
}

func New(cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The log service wants the sender for its Telegram mirror and the
	// sender wants a logger. Bootstrap logging without a sender, then
	// attach it once it exists.
	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	log = log.With(logx.String("comp", "app"))

	sender := telegram.New(mapTelegramConfig(cfg), log)
	logSvc.SetSender(sender)

	if !cfg.TelegramConfigured() {
		log.Warn("telegram credentials missing; webhooks will be accepted but nothing can be delivered")
	}

	bus := eventbus.New()

	tmdbCfg, err := mapTMDBConfig(cfg)
	if err != nil {
		return nil, err
	}
	tmdbClient := tmdb.New(tmdbCfg, log)

	delay, err := config.ParseDurationOrDefault("aggregation.delay", cfg.Aggregation.Delay, aggregator.DefaultDelay)
	if err != nil {
		return nil, err
	}
	engine := aggregator.New(delay, render.New(), sender, bus, log)

	// History journal (optional)
	var store history.Store
	if hc, enabled, err := mapHistoryConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := history.Open(hc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("history enabled", logx.String("driver", hc.Driver))
	}

	webCfg, err := mapWebhookConfig(cfg, version)
	if err != nil {
		return nil, err
	}
	web := webhook.New(webCfg, webhook.Deps{
		Extractor: emby.NewExtractor(log),
		Enricher:  tmdbClient,
		Engine:    engine,
		Telegram:  sender,
	}, log)

	digestCfg, err := mapDigestConfig(cfg)
	if err != nil {
		return nil, err
	}
	digestSvc := digest.New(digestCfg, store, sender, log)

	a := &App{
		cfgPath: cfgPath,
		version: version,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		sender:  sender,
		tmdb:    tmdbClient,
		engine:  engine,
		web:     web,
		store:   store,
		digest:  digestSvc,
	}
	if store != nil {
		a.rec = history.NewRecorder(store, bus, log)
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
		supervisor.WithErrorHook(func(task string, err error) {
			a.bus.Publish(eventbus.Event{
				Type: eventbus.EventTaskError,
				Data: eventbus.TaskError{Task: task, Err: err.Error()},
			})
		}),
	)

	// transactional config reload: validate before commit/publish.
	// Parse() already normalizes and shape-checks; the maps add the
	// cross-field problems (unknown driver, missing path).
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := mapWebhookConfig(cfg, a.version); err != nil {
			return err
		}
		if _, err := mapTMDBConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapHistoryConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDigestConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	a.web.Start(a.sup.Context())

	if a.rec != nil {
		a.sup.GoRestart("history.record", a.rec.Run)
	}

	a.digest.Start(a.sup.Context())

	// Surface bus traffic: task errors at warn, the rest at debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == eventbus.EventTaskError {
					if te, ok := e.Data.(eventbus.TaskError); ok {
						a.log.Warn("background task error", logx.String("task", te.Task), logx.String("err", te.Err))
						continue
					}
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					if s == "history" {
						a.log.Warn("history config changed; restart required for changes to take effect")
						break
					}
				}

				// apply logging updates
				a.logs.Apply(mapLogConfig(newCfg))

				// sender and enricher swap settings in place
				a.sender.Apply(mapTelegramConfig(newCfg))
				if tc, err := mapTMDBConfig(newCfg); err != nil {
					a.log.Warn("invalid tmdb config; keeping previous", logx.Any("err", err))
				} else {
					a.tmdb.Apply(tc)
				}

				// aggregation window
				if delay, err := config.ParseDurationOrDefault("aggregation.delay", newCfg.Aggregation.Delay, aggregator.DefaultDelay); err != nil {
					a.log.Warn("invalid aggregation.delay; keeping previous", logx.Any("err", err))
				} else {
					a.engine.SetDelay(delay)
				}

				// webhook server (restarts only when the listener config changed)
				if wc, err := mapWebhookConfig(newCfg, a.version); err != nil {
					a.log.Warn("invalid webhook config; keeping previous", logx.Any("err", err))
				} else {
					a.web.Reconfigure(c, wc)
				}

				// digest cron
				if dc, err := mapDigestConfig(newCfg); err != nil {
					a.log.Warn("invalid digest config; keeping previous", logx.Any("err", err))
				} else {
					a.digest.Apply(c, dc)
				}

				a.bus.Publish(eventbus.Event{Type: eventbus.EventConfigReloaded})

				// Keep the final log line concise and human-friendly (details are in debug logs).
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("relay started",
		logx.String("version", a.version),
		logx.Bool("telegram_configured", a.sender.IsConfigured()),
		logx.Bool("history", a.store != nil),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component
	// can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Refuse new webhooks first so the flush below sees a settled queue.
	step("webhook", 3*time.Second, func(c context.Context) error { a.web.Stop(c); return nil })

	// Deliver whatever is still batched. The history recorder is still
	// running, so these deliveries land in the journal.
	step("flush", 10*time.Second, func(c context.Context) error { a.engine.FlushAll(c); return nil })

	step("digest", 2*time.Second, func(c context.Context) error { a.digest.Stop(c); return nil })

	// Now unwind the background loops (config watch/reload, recorder).
	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	step("history", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
