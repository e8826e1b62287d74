package history

import (
	"context"
	"fmt"
	"time"

	"github.com/example/kiderace/internal/application/usecases"
	"github.com/example/kiderace/internal/db"
	"github.com/example/kiderace/internal/race"
	"github.com/google/uuid"
)

// DefaultLimit caps ListRecent when no limit is given.
const DefaultLimit = 20

// Run is the stored summary of one race.
type Run struct {
	RunID        uuid.UUID  `json:"runId"`
	EventID      string     `json:"eventId"`
	EventName    string     `json:"eventName,omitempty"`
	Tag          string     `json:"tag,omitempty"`
	Result       string     `json:"result"`
	Variants     int        `json:"variants"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	StartedAt    time.Time  `json:"startedAt"`
	DiscoveredAt *time.Time `json:"discoveredAt,omitempty"`
	FinishedAt   time.Time  `json:"finishedAt"`
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// Record stores the run and all of its outcomes atomically.
func (r *Repo) Record(ctx context.Context, rep usecases.RaceReport) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if err := r.db.Exec(ctx, `
INSERT INTO race_runs(run_id,event_id,event_name,tag,result,variants,started_at,discovered_at,finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			rep.RunID.String(), rep.EventID, rep.EventName, rep.Tag, rep.Result(), len(rep.Variants),
			rep.StartedAt, rep.DiscoveredAt, rep.FinishedAt,
		); err != nil {
			return fmt.Errorf("history: insert run: %w", err)
		}

		for i, o := range rep.Outcomes {
			if err := r.db.Exec(ctx, `
INSERT INTO race_outcomes(run_id,seq,wave,inventory_id,variant_name,quantity,succeeded,http_status,error_kind,detail,duration_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
				rep.RunID.String(), i, o.Wave, o.InventoryID, o.Name, o.Quantity, o.Succeeded,
				o.HTTPStatus, string(o.Error), o.Detail, o.Duration.Milliseconds(),
			); err != nil {
				return fmt.Errorf("history: insert outcome %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListRecent returns the newest runs first. An empty eventID lists every
// event.
func (r *Repo) ListRecent(ctx context.Context, eventID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := r.db.Query(ctx, `
SELECT r.run_id::text,r.event_id,r.event_name,r.tag,r.result,r.variants,r.started_at,r.discovered_at,r.finished_at,
       COUNT(o.id) FILTER (WHERE o.succeeded),
       COUNT(o.id) FILTER (WHERE NOT o.succeeded)
FROM race_runs r
LEFT JOIN race_outcomes o ON o.run_id = r.run_id
WHERE ($1 = '' OR r.event_id = $1)
GROUP BY r.run_id
ORDER BY r.started_at DESC
LIMIT $2`, eventID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run   Run
			id    string
			found *time.Time
		)
		if err := rows.Scan(
			&id, &run.EventID, &run.EventName, &run.Tag, &run.Result, &run.Variants,
			&run.StartedAt, &found, &run.FinishedAt, &run.Succeeded, &run.Failed,
		); err != nil {
			return nil, err
		}
		if run.RunID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("history: run id %q: %w", id, err)
		}
		run.DiscoveredAt = found
		out = append(out, run)
	}
	return out, rows.Err()
}

// Outcomes returns the stored outcomes of one run in dispatch order.
func (r *Repo) Outcomes(ctx context.Context, runID uuid.UUID) ([]race.Outcome, error) {
	rows, err := r.db.Query(ctx, `
SELECT wave,inventory_id,variant_name,quantity,succeeded,http_status,error_kind,detail,duration_ms
FROM race_outcomes
WHERE run_id=$1
ORDER BY seq ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("history: outcomes: %w", err)
	}
	defer rows.Close()

	var out []race.Outcome
	for rows.Next() {
		var (
			o    race.Outcome
			kind string
			ms   int64
		)
		if err := rows.Scan(&o.Wave, &o.InventoryID, &o.Name, &o.Quantity, &o.Succeeded, &o.HTTPStatus, &kind, &o.Detail, &ms); err != nil {
			return nil, err
		}
		o.Error = race.ErrorKind(kind)
		o.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}
