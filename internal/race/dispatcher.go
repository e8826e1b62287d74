package race

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/example/kiderace/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
)

// Dispatcher fans out reservation requests over discovered variants.
type Dispatcher struct {
	Allocator Allocator
}

// Reserve runs up to two waves of concurrent allocations and returns every
// outcome, wave 1 first.
//
// Every variant is requested at its MaxReservableQuantity as reported, even
// below 1; the vendor's answer decides the outcome.
//
// Wave 1 only runs when tag is non-empty and matches at least one variant
// name (case-insensitively). Wave 2 always covers the full set, so preferred
// variants are requested twice. Failures never stop sibling requests and
// nothing is retried.
func (d *Dispatcher) Reserve(ctx context.Context, variants []Variant, cred Credential, tag string) []Outcome {
	if len(variants) == 0 {
		return nil
	}

	var out []Outcome
	if preferred := MatchTag(variants, tag); len(preferred) > 0 {
		log.Info().Str("tag", tag).Int("variants", len(preferred)).Msg("dispatcher: reserving preferred variants")
		out = append(out, d.wave(ctx, 1, preferred, cred)...)
	} else if strings.TrimSpace(tag) != "" {
		log.Warn().Str("tag", tag).Msg("dispatcher: no variant matches tag")
	}

	log.Info().Int("variants", len(variants)).Msg("dispatcher: reserving all variants")
	return append(out, d.wave(ctx, 2, variants, cred)...)
}

// MatchTag returns the variants whose name contains tag under Unicode case
// folding. An empty or blank tag matches nothing.
func MatchTag(variants []Variant, tag string) []Variant {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}
	fold := cases.Fold()
	needle := fold.String(tag)

	var out []Variant
	for _, v := range variants {
		if strings.Contains(fold.String(v.Name), needle) {
			out = append(out, v)
		}
	}
	return out
}

// wave issues one request per variant and blocks until all have resolved.
func (d *Dispatcher) wave(ctx context.Context, n int, variants []Variant, cred Credential) []Outcome {
	out := make([]Outcome, len(variants))

	// Goroutines always return nil: a failed allocation must not cancel its siblings.
	var g errgroup.Group
	for i, v := range variants {
		g.Go(func() error {
			out[i] = d.allocate(ctx, n, v, cred)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (d *Dispatcher) allocate(ctx context.Context, wave int, v Variant, cred Credential) Outcome {
	o := Outcome{
		InventoryID: v.InventoryID,
		Name:        v.Name,
		Wave:        wave,
		Quantity:    v.MaxReservableQuantity,
	}
	start := time.Now()
	status, err := d.Allocator.Allocate(ctx, cred, Allocation{InventoryID: v.InventoryID, Quantity: v.MaxReservableQuantity})
	o.Duration = time.Since(start)
	if status != 0 {
		s := status
		o.HTTPStatus = &s
	}

	switch {
	case err != nil:
		o.Error = classify(err)
		o.Detail = err.Error()
	case status < 200 || status > 299:
		o.Error = ErrorRejected
		o.Detail = (&StatusError{Code: status}).Error()
	default:
		o.Succeeded = true
	}
	record(o)
	return o
}

func record(o Outcome) {
	result := "success"
	if !o.Succeeded {
		result = string(o.Error)
	}
	metrics.ReservationsTotal.WithLabelValues(result, strconv.Itoa(o.Wave)).Inc()

	ev := log.Info()
	if !o.Succeeded {
		ev = log.Warn().Str("error", string(o.Error)).Str("detail", o.Detail)
	}
	if o.HTTPStatus != nil {
		ev = ev.Int("status", *o.HTTPStatus)
	}
	ev.Str("inventoryId", o.InventoryID).Str("name", o.Name).Int("wave", o.Wave).Int("quantity", o.Quantity).
		Dur("duration", o.Duration).Bool("succeeded", o.Succeeded).Msg("dispatcher: reservation outcome")
}
