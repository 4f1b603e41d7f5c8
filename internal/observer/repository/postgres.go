package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/digaas/internal/observer/model"
)

// PostgresStore persists everything to PostgreSQL. Durations are stored as
// microseconds; absent optional fields are NULL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const observerColumns = `id, target_name, nameserver, record_type, type, condition,
	expected_serial, expected_data, start_time, timeout_us, interval_us,
	status, duration_us, accepted_at, finished_at, error_message`

// Create inserts a new observer, assigning an id when it has none.
func (r *PostgresStore) Create(ctx context.Context, o *model.Observer) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO observers (`+observerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.TargetName, o.Nameserver, nullString(o.RecordType), nullString(string(o.Type)), string(o.Condition),
		serialToDB(o.ExpectedSerial), o.ExpectedData, o.StartTime.UTC(), o.Timeout.Microseconds(), o.Interval.Microseconds(),
		string(o.Status), durationToDB(o.Duration), o.AcceptedAt.UTC(), o.FinishedAt, o.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert observer: %w", err)
	}
	return nil
}

// Update writes the mutable fields of o. Only an ACCEPTED row can change.
func (r *PostgresStore) Update(ctx context.Context, o *model.Observer) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE observers
		 SET status = $2, duration_us = $3, finished_at = $4, error_message = $5
		 WHERE id = $1 AND status = 'ACCEPTED'`,
		o.ID, string(o.Status), durationToDB(o.Duration), o.FinishedAt, o.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update observer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, o.ID); err != nil {
			return err
		}
		return ErrObserverFinal
	}
	return nil
}

func (r *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Observer, error) {
	row := r.db.QueryRow(ctx, `SELECT `+observerColumns+` FROM observers WHERE id = $1`, id)
	o, err := scanObserver(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrObserverNotFound
		}
		return nil, fmt.Errorf("get observer: %w", err)
	}
	return o, nil
}

func (r *PostgresStore) ListByStartTime(ctx context.Context, from, to time.Time) ([]*model.Observer, error) {
	return r.listObservers(ctx,
		`SELECT `+observerColumns+` FROM observers
		 WHERE start_time >= $1 AND start_time <= $2
		 ORDER BY start_time`, from.UTC(), to.UTC())
}

func (r *PostgresStore) ListAccepted(ctx context.Context, acceptedBefore time.Time) ([]*model.Observer, error) {
	return r.listObservers(ctx,
		`SELECT `+observerColumns+` FROM observers
		 WHERE status = 'ACCEPTED' AND accepted_at < $1`, acceptedBefore.UTC())
}

func (r *PostgresStore) listObservers(ctx context.Context, sql string, args ...any) ([]*model.Observer, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list observers: %w", err)
	}
	defer rows.Close()

	var out []*model.Observer
	for rows.Next() {
		o, err := scanObserver(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observer: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanObserver(row pgx.Row) (*model.Observer, error) {
	var (
		o                     model.Observer
		recordType, typ       *string
		cond, status          string
		expectedSerial        *int64
		timeoutUS, intervalUS int64
		durationUS            *int64
	)
	err := row.Scan(&o.ID, &o.TargetName, &o.Nameserver, &recordType, &typ, &cond,
		&expectedSerial, &o.ExpectedData, &o.StartTime, &timeoutUS, &intervalUS,
		&status, &durationUS, &o.AcceptedAt, &o.FinishedAt, &o.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if recordType != nil {
		o.RecordType = *recordType
	}
	if typ != nil {
		o.Type = model.ObserverType(*typ)
	}
	o.Condition = model.ConditionKind(cond)
	o.Status = model.Status(status)
	o.Timeout = time.Duration(timeoutUS) * time.Microsecond
	o.Interval = time.Duration(intervalUS) * time.Microsecond
	if expectedSerial != nil {
		v := uint32(*expectedSerial)
		o.ExpectedSerial = &v
	}
	if durationUS != nil {
		d := time.Duration(*durationUS) * time.Microsecond
		o.Duration = &d
	}
	return &o, nil
}

// ── Stats requests ───────────────────────────────────────────────────────

func (r *PostgresStore) CreateStats(ctx context.Context, st *model.ObserverStats) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO stats_requests (id, start_time, end_time, status, accepted_at, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		st.ID, st.Start.UTC(), st.End.UTC(), string(st.Status), st.AcceptedAt.UTC(), st.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert stats request: %w", err)
	}
	return nil
}

func (r *PostgresStore) UpdateStats(ctx context.Context, st *model.ObserverStats) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE stats_requests SET status = $2, error_message = $3 WHERE id = $1`,
		st.ID, string(st.Status), st.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update stats request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatsNotFound
	}
	return nil
}

func (r *PostgresStore) GetStats(ctx context.Context, id uuid.UUID) (*model.ObserverStats, error) {
	var (
		st     model.ObserverStats
		status string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, start_time, end_time, status, accepted_at, error_message
		 FROM stats_requests WHERE id = $1`, id,
	).Scan(&st.ID, &st.Start, &st.End, &status, &st.AcceptedAt, &st.ErrorMessage)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatsNotFound
		}
		return nil, fmt.Errorf("get stats request: %w", err)
	}
	st.Status = model.Status(status)
	return &st, nil
}

// SaveSummaries inserts all summaries for a stats request in one batch.
func (r *PostgresStore) SaveSummaries(ctx context.Context, statsID uuid.UUID, summaries []model.Summary) error {
	batch := &pgx.Batch{}
	for _, s := range summaries {
		batch.Queue(
			`INSERT INTO summaries (stats_id, view, key, average, median, min, max,
			 per66, per75, per90, per95, per99, success_count, error_count)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			statsID, string(s.View), s.Key, s.Average, s.Median, s.Min, s.Max,
			s.Per66, s.Per75, s.Per90, s.Per95, s.Per99, s.SuccessCount, s.ErrorCount,
		)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert summaries: %w", err)
	}
	return nil
}

func (r *PostgresStore) ListSummaries(ctx context.Context, statsID uuid.UUID) ([]model.Summary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT stats_id, view, key, average, median, min, max,
		        per66, per75, per90, per95, per99, success_count, error_count
		 FROM summaries WHERE stats_id = $1 ORDER BY view, key`, statsID)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		var (
			s    model.Summary
			view string
		)
		if err := rows.Scan(&s.StatsID, &view, &s.Key, &s.Average, &s.Median, &s.Min, &s.Max,
			&s.Per66, &s.Per75, &s.Per90, &s.Per95, &s.Per99, &s.SuccessCount, &s.ErrorCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.View = model.SummaryView(view)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresStore) SavePlot(ctx context.Context, p *model.Plot) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO plots (stats_id, type, mimetype, image) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (stats_id, type) DO UPDATE SET mimetype = EXCLUDED.mimetype, image = EXCLUDED.image`,
		p.StatsID, string(p.Type), p.MimeType, p.Image,
	)
	if err != nil {
		return fmt.Errorf("insert plot: %w", err)
	}
	return nil
}

func (r *PostgresStore) GetPlot(ctx context.Context, statsID uuid.UUID, typ model.PlotType) (*model.Plot, error) {
	p := &model.Plot{StatsID: statsID, Type: typ}
	err := r.db.QueryRow(ctx,
		`SELECT mimetype, image FROM plots WHERE stats_id = $1 AND type = $2`,
		statsID, string(typ),
	).Scan(&p.MimeType, &p.Image)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlotNotFound
		}
		return nil, fmt.Errorf("get plot: %w", err)
	}
	return p, nil
}

// ── Query log ────────────────────────────────────────────────────────────

func (r *PostgresStore) RecordQuery(ctx context.Context, q *model.DNSQuery) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO dns_queries (id, nameserver, status, ts, duration_us) VALUES ($1, $2, $3, $4, $5)`,
		q.ID, q.Nameserver, string(q.Status), q.Timestamp.UTC(), q.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert dns query: %w", err)
	}
	return nil
}

func (r *PostgresStore) ListQueries(ctx context.Context, from, to time.Time) ([]model.DNSQuery, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, nameserver, status, ts, duration_us FROM dns_queries
		 WHERE ts >= $1 AND ts <= $2 ORDER BY ts`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list dns queries: %w", err)
	}
	defer rows.Close()

	var out []model.DNSQuery
	for rows.Next() {
		var (
			q          model.DNSQuery
			status     string
			durationUS int64
		)
		if err := rows.Scan(&q.ID, &q.Nameserver, &status, &q.Timestamp, &durationUS); err != nil {
			return nil, fmt.Errorf("scan dns query: %w", err)
		}
		q.Status = model.QueryStatus(status)
		q.Duration = time.Duration(durationUS) * time.Microsecond
		out = append(out, q)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func serialToDB(v *uint32) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func durationToDB(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	us := d.Microseconds()
	return &us
}
