package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fleetopt/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		batch_key TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		body JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS plans_batch_key_idx ON plans (batch_key, id)`,
	`CREATE TABLE IF NOT EXISTS optimizer_config (
		id SMALLINT PRIMARY KEY DEFAULT 1,
		config JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload BYTEA NOT NULL,
		status TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL,
		last_error TEXT,
		seq BIGSERIAL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS webhook_deliveries_due_idx ON webhook_deliveries (status, next_attempt_at)`,
}

// Migrate creates the tables the server needs.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) SavePlan(ctx context.Context, plan model.Plan) error {
	body, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	created, err := time.Parse(time.RFC3339Nano, plan.CreatedAt)
	if err != nil {
		created = time.Now().UTC()
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO plans (id, batch_key, status, created_at, body) VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (id) DO UPDATE SET status=$3, body=$5`, plan.ID, nullIfEmpty(plan.BatchKey), plan.Status, created, body)
	return err
}

func (p *Postgres) GetPlan(ctx context.Context, id string) (model.Plan, error) {
	var body []byte
	if err := p.db.QueryRowContext(ctx, `SELECT body FROM plans WHERE id=$1`, id).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Plan{}, ErrNotFound
		}
		return model.Plan{}, err
	}
	var plan model.Plan
	if err := json.Unmarshal(body, &plan); err != nil {
		return model.Plan{}, err
	}
	return plan, nil
}

// ListPlans orders by id; plan ids are time-ordered UUIDs so this is
// creation order.
func (p *Postgres) ListPlans(ctx context.Context, batchKey, cursor string, limit int) ([]model.Plan, string, error) {
	limit = clampLimit(limit)
	q, args := listPlansQuery(batchKey, cursor, limit)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.Plan{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, "", err
		}
		var plan model.Plan
		if err := json.Unmarshal(body, &plan); err != nil {
			return nil, "", err
		}
		out = append(out, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) > limit {
		out = out[:limit]
		next = out[limit-1].ID
	}
	return out, next, nil
}

// listPlansQuery fetches one extra row to detect a following page.
func listPlansQuery(batchKey, cursor string, limit int) (string, []any) {
	q := `SELECT body FROM plans WHERE true`
	args := []any{}
	idx := 1
	if batchKey != "" {
		q += ` AND batch_key=$` + fmt.Sprint(idx)
		args = append(args, batchKey)
		idx++
	}
	if cursor != "" {
		q += ` AND id > $` + fmt.Sprint(idx)
		args = append(args, cursor)
		idx++
	}
	q += ` ORDER BY id LIMIT $` + fmt.Sprint(idx)
	args = append(args, limit+1)
	return q, args
}

func (p *Postgres) GetOptimizerConfig(ctx context.Context) (*model.OptimizerProfile, error) {
	var js []byte
	if err := p.db.QueryRowContext(ctx, `SELECT config FROM optimizer_config WHERE id=1`).Scan(&js); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var prof model.OptimizerProfile
	if err := json.Unmarshal(js, &prof); err != nil {
		return nil, err
	}
	return &prof, nil
}

func (p *Postgres) SaveOptimizerConfig(ctx context.Context, prof model.OptimizerProfile) error {
	js, err := json.Marshal(prof)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO optimizer_config (id, config, updated_at) VALUES (1, $1, now())
        ON CONFLICT (id) DO UPDATE SET config=$1, updated_at=now()`, js)
	return err
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, d WebhookDelivery, maxPending int) (int, error) {
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, event_type, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,'pending',0,$4) ON CONFLICT (id) DO NOTHING`, d.ID, d.EventType, d.Payload, d.NextAttemptAt)
	if err != nil {
		return 0, err
	}
	if maxPending <= 0 {
		return 0, nil
	}
	res, err := p.db.ExecContext(ctx, dropOldestDeliveriesQuery, maxPending)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

const dropOldestDeliveriesQuery = `DELETE FROM webhook_deliveries WHERE id IN (
        SELECT id FROM webhook_deliveries WHERE status IN ('pending','retry') ORDER BY seq DESC OFFSET $1)`

const dueDeliveriesQuery = `SELECT id, event_type, payload, status, attempts, next_attempt_at, COALESCE(last_error,'')
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= $1 ORDER BY next_attempt_at, seq LIMIT $2`

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, now time.Time, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, dueDeliveriesQuery, now, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.EventType, &d.Payload, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt time.Time, lastError string) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='delivered', updated_at=now() WHERE id=$1`, id)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now() WHERE id=$1`,
		id, nullIfEmpty(lastError), nextAttemptAt)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now() WHERE id=$1`,
		id, nullIfEmpty(lastError))
	return err
}

func (p *Postgres) CountPendingWebhookDeliveries(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM webhook_deliveries WHERE status IN ('pending','retry')`).Scan(&n)
	return n, err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
