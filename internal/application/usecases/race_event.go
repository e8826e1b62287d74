package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/example/kiderace/internal/clock"
	"github.com/example/kiderace/internal/metrics"
	"github.com/example/kiderace/internal/race"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultRaceTimeout bounds the discovery phase when RaceInput.Timeout is 0.
const DefaultRaceTimeout = 30 * time.Second

type Discoverer interface {
	Poll(ctx context.Context, eventID string, deadline time.Time) []race.Variant
}

type Reserver interface {
	Reserve(ctx context.Context, variants []race.Variant, cred race.Credential, tag string) []race.Outcome
}

// Recorder persists finished races.
type Recorder interface {
	Record(ctx context.Context, r RaceReport) error
}

type RaceInput struct {
	EventID    string
	EventName  string
	SalesFrom  time.Time
	Credential race.Credential
	Tag        string
	// Lead starts polling this long before SalesFrom.
	Lead    time.Duration
	Timeout time.Duration
}

type RaceReport struct {
	RunID        uuid.UUID      `json:"runId"`
	EventID      string         `json:"eventId"`
	EventName    string         `json:"eventName,omitempty"`
	Tag          string         `json:"tag,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	DiscoveredAt *time.Time     `json:"discoveredAt,omitempty"`
	FinishedAt   time.Time      `json:"finishedAt"`
	TimedOut     bool           `json:"timedOut"`
	Variants     []race.Variant `json:"variants"`
	Outcomes     []race.Outcome `json:"outcomes"`
}

func (r RaceReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded {
			n++
		}
	}
	return n
}

func (r RaceReport) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Result is the race result label used by metrics and history.
func (r RaceReport) Result() string {
	switch {
	case r.TimedOut:
		return "timeout"
	case r.Succeeded() > 0:
		return "reserved"
	default:
		return "unreserved"
	}
}

type RaceEvent struct {
	Poller     Discoverer
	Dispatcher Reserver
	// Recorder is optional.
	Recorder Recorder
	Clock    clock.Clock
}

// Execute waits for the sale to open, polls for inventory until the race
// deadline and fires the reservation waves. Only a cancelled wait is an
// error; a race that reserves nothing still yields a report.
func (u RaceEvent) Execute(ctx context.Context, in RaceInput) (RaceReport, error) {
	if u.Poller == nil || u.Dispatcher == nil {
		return RaceReport{}, fmt.Errorf("race: poller and dispatcher are required")
	}
	if in.EventID == "" {
		return RaceReport{}, fmt.Errorf("race: event id is required")
	}
	clk := u.Clock
	if clk == nil {
		clk = clock.System
	}
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultRaceTimeout
	}

	if err := waitUntil(ctx, clk, in.SalesFrom.Add(-in.Lead)); err != nil {
		return RaceReport{}, err
	}

	// started keeps its monotonic reading; the report only gets UTC copies.
	started := clk.Now()
	rep := RaceReport{
		RunID:     uuid.Must(uuid.NewV7()),
		EventID:   in.EventID,
		EventName: in.EventName,
		Tag:       in.Tag,
		StartedAt: started.UTC(),
	}
	logger := log.With().Str("runId", rep.RunID.String()).Str("eventId", in.EventID).Logger()

	rep.Variants = u.Poller.Poll(ctx, in.EventID, started.Add(timeout))
	if len(rep.Variants) == 0 {
		rep.TimedOut = true
		logger.Warn().Dur("timeout", timeout).Msg("race: no inventory before deadline")
	} else {
		at := clk.Now().UTC()
		rep.DiscoveredAt = &at
		rep.Outcomes = u.Dispatcher.Reserve(ctx, rep.Variants, in.Credential, in.Tag)
	}
	finished := clk.Now()
	rep.FinishedAt = finished.UTC()

	metrics.RaceDuration.Observe(finished.Sub(started).Seconds())
	metrics.RacesTotal.WithLabelValues(rep.Result()).Inc()
	logger.Info().
		Str("result", rep.Result()).
		Int("succeeded", rep.Succeeded()).
		Int("failed", rep.Failed()).
		Msg("race: finished")

	if u.Recorder != nil {
		// The race context may be cancelled by now; the record must still land.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := u.Recorder.Record(rctx, rep); err != nil {
			logger.Error().Err(err).Msg("race: record history failed")
		}
	}
	return rep, nil
}

func waitUntil(ctx context.Context, clk clock.Clock, at time.Time) error {
	d := clock.Until(clk, at)
	if d == 0 {
		return ctx.Err()
	}
	log.Info().Time("at", at).Dur("in", d).Msg("race: waiting for sale start")
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
