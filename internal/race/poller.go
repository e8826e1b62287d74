package race

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/example/kiderace/internal/metrics"
	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is the launch cadence of overlapping product requests.
// Going much lower risks the client being flagged by the vendor.
const DefaultPollInterval = 50 * time.Millisecond

// Poller repeatedly asks Source for inventory until some attempt sees a
// non-empty variant list or the deadline passes.
type Poller struct {
	Source   InventorySource
	Interval time.Duration

	// OnStart is called once, right before the first attempt is launched.
	OnStart func()

	last atomic.Int64
}

// Attempts returns the number of attempts launched by the most recently
// finished Poll or PollCounted call.
func (p *Poller) Attempts() int64 { return p.last.Load() }

// Poll returns the first non-empty variant list observed, or nil when the
// deadline (or ctx) ends the race first. Attempt failures are never surfaced.
//
// Attempts overlap: a new one is launched every Interval without waiting for
// earlier ones. Once Poll returns, all outstanding attempts are cancelled and
// abandoned; Poll does not wait for them to unwind.
func (p *Poller) Poll(ctx context.Context, eventID string, deadline time.Time) []Variant {
	vs, _ := p.PollCounted(ctx, eventID, deadline)
	return vs
}

// PollCounted is Poll, also returning the number of attempts this call
// launched. Concurrent calls on one Poller keep separate counts.
func (p *Poller) PollCounted(ctx context.Context, eventID string, deadline time.Time) ([]Variant, int64) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	var launched int64
	defer func() { p.last.Store(launched) }()

	scope, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	found := NewCell[[]Variant]()
	launch := func() {
		launched++
		go p.attempt(scope, eventID, launched, found)
	}

	if scope.Err() != nil {
		log.Warn().Str("eventId", eventID).Time("deadline", deadline).Msg("poller: deadline already passed")
		return nil, 0
	}
	if p.OnStart != nil {
		p.OnStart()
	}
	log.Info().Str("eventId", eventID).Dur("interval", interval).Time("deadline", deadline).Msg("poller: started")

	t := time.NewTicker(interval)
	defer t.Stop()

	launch()
	for {
		select {
		case <-found.Done():
			vs, _ := found.Load()
			log.Info().Str("eventId", eventID).Int("variants", len(vs)).Int64("attempts", launched).Msg("poller: inventory found")
			return vs, launched
		case <-scope.Done():
			// A success may have landed in the same instant as the deadline.
			if vs, ok := found.Load(); ok {
				return vs, launched
			}
			log.Warn().Str("eventId", eventID).Int64("attempts", launched).Err(scope.Err()).Msg("poller: no inventory before deadline")
			return nil, launched
		case <-t.C:
			select {
			case <-found.Done():
				continue
			default:
			}
			if !time.Now().Before(deadline) {
				continue
			}
			launch()
		}
	}
}

func (p *Poller) attempt(ctx context.Context, eventID string, n int64, found *Cell[[]Variant]) {
	vs, err := p.Source.Variants(ctx, eventID)
	if err != nil && ctx.Err() != nil {
		// Cut off by a win elsewhere, the deadline or the caller.
		metrics.PollAttemptsTotal.WithLabelValues("abandoned").Inc()
		log.Debug().Int64("attempt", n).Msg("poller: attempt abandoned")
		return
	}
	if err != nil {
		metrics.PollAttemptsTotal.WithLabelValues("error").Inc()
		log.Debug().Err(err).Int64("attempt", n).Msg("poller: attempt failed")
		return
	}
	if len(vs) == 0 {
		metrics.PollAttemptsTotal.WithLabelValues("empty").Inc()
		log.Debug().Int64("attempt", n).Msg("poller: no variants yet")
		return
	}

	cp := make([]Variant, len(vs))
	copy(cp, vs)
	if found.Set(cp) {
		metrics.PollAttemptsTotal.WithLabelValues("inventory").Inc()
		log.Debug().Int64("attempt", n).Int("variants", len(cp)).Msg("poller: attempt won")
		return
	}
	metrics.PollAttemptsTotal.WithLabelValues("late").Inc()
}
