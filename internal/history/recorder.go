package history

import (
	"context"
	"time"

	"embygram/internal/eventbus"
	"embygram/internal/metrics"
	"embygram/pkg/logx"
)

const appendTimeout = 5 * time.Second

// Recorder subscribes to delivery events and persists them. Run it
// under the supervisor; it exits when the context is cancelled.
type Recorder struct {
	log   logx.Logger
	store Store
	bus   eventbus.Bus
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{
		log:   log.With(logx.String("comp", "history")),
		store: store,
		bus:   bus,
	}
}

func (r *Recorder) Run(ctx context.Context) error {
	ch, unsub := r.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			// Drain what is already buffered so deliveries flushed during
			// shutdown still land in the journal.
			for {
				select {
				case ev := <-ch:
					r.handle(ev)
				default:
					return ctx.Err()
				}
			}
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

func (r *Recorder) handle(ev eventbus.Event) {
	if ev.Type != eventbus.EventDelivered && ev.Type != eventbus.EventDeliveryFailed {
		return
	}
	d, ok := ev.Data.(eventbus.Delivery)
	if !ok {
		return
	}
	r.record(d)
}

func (r *Recorder) record(d eventbus.Delivery) {
	// The write deadline is independent of the run context so shutdown
	// does not drop the final records.
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	if err := r.store.AppendDelivery(ctx, d); err != nil {
		metrics.HistoryWrites.WithLabelValues("error").Inc()
		r.log.Warn("delivery record write failed", logx.String("title", d.Title), logx.Err(err))
		return
	}
	metrics.HistoryWrites.WithLabelValues("ok").Inc()
}
