package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	pkgpg "TradeLoop/pkg/postgres"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS decisions (
		decision_id TEXT PRIMARY KEY,
		symbol      TEXT             NOT NULL,
		timeframe   TEXT             NOT NULL,
		t           BIGINT           NOT NULL,
		action      TEXT             NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		payload     JSONB            NOT NULL,
		created_at  TIMESTAMPTZ      NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS decisions_key_t_idx ON decisions (symbol, timeframe, t DESC)`,
	`CREATE TABLE IF NOT EXISTS outcomes (
		decision_id TEXT PRIMARY KEY REFERENCES decisions (decision_id),
		open_time   TIMESTAMPTZ      NOT NULL,
		close_time  TIMESTAMPTZ      NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price  DOUBLE PRECISION NOT NULL,
		profit      DOUBLE PRECISION NOT NULL,
		is_win      BOOLEAN          NOT NULL,
		side        TEXT             NOT NULL,
		created_at  TIMESTAMPTZ      NOT NULL DEFAULT now()
	)`,
}

// PostgresJournal implements Journal on PostgreSQL.
type PostgresJournal struct {
	pool *pkgpg.Pool
}

var _ domrepo.Journal = (*PostgresJournal)(nil)

func NewPostgresJournal(pool *pkgpg.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

func (j *PostgresJournal) Init(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := j.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return nil
}

// AppendDecision inserts d. Re-inserting the same id is a no-op so spill
// replays are safe.
func (j *PostgresJournal) AppendDecision(ctx context.Context, d *models.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	_, err = j.pool.Exec(ctx, `
		INSERT INTO decisions (decision_id, symbol, timeframe, t, action, confidence, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		ON CONFLICT (decision_id) DO NOTHING`,
		d.ID, d.Symbol, d.Timeframe, d.T, string(d.Action), d.Confidence, string(payload),
	)
	if err != nil {
		return models.NewError(models.KindStoreUnavailable, "insert decision", err)
	}
	return nil
}

func (j *PostgresJournal) AppendOutcome(ctx context.Context, o *models.TradeOutcome) (bool, error) {
	tag, err := j.pool.Exec(ctx, `
		INSERT INTO outcomes (decision_id, open_time, close_time, entry_price, exit_price, profit, is_win, side)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (decision_id) DO NOTHING`,
		o.DecisionID, o.OpenTime.UTC(), o.CloseTime.UTC(), o.EntryPrice, o.ExitPrice, o.Profit, o.IsWin, string(o.Side),
	)
	if err != nil {
		if pkgpg.HasCode(err, pkgpg.ErrCodeForeignKeyViolation) {
			return false, models.Errorf(models.KindBadInput, "unknown decision %s", o.DecisionID)
		}
		return false, models.NewError(models.KindStoreUnavailable, "insert outcome", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (j *PostgresJournal) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	var payload string
	err := j.pool.QueryRow(ctx, `SELECT payload::text FROM decisions WHERE decision_id = $1`, id).Scan(&payload)
	if err != nil {
		if pkgpg.IsNotFound(err) {
			return nil, domrepo.ErrNotFound
		}
		return nil, models.NewError(models.KindStoreUnavailable, "get decision", err)
	}
	var d models.Decision
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, fmt.Errorf("decode decision %s: %w", id, err)
	}
	return &d, nil
}

func (j *PostgresJournal) Entries(ctx context.Context, symbol, timeframe string, limit int) ([]models.JournalEntry, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT d.payload::text, o.decision_id, o.open_time, o.close_time,
		       o.entry_price, o.exit_price, o.profit, o.is_win, o.side
		FROM decisions d
		LEFT JOIN outcomes o ON o.decision_id = d.decision_id
		WHERE d.symbol = $1 AND d.timeframe = $2
		ORDER BY d.t DESC, d.created_at DESC
		LIMIT $3`, symbol, timeframe, limit)
	if err != nil {
		return nil, models.NewError(models.KindStoreUnavailable, "query journal", err)
	}
	defer rows.Close()

	var out []models.JournalEntry
	for rows.Next() {
		var (
			payload          string
			oid, side        *string
			openT, closeT    *time.Time
			entry, exit, pnl *float64
			win              *bool
		)
		if err := rows.Scan(&payload, &oid, &openT, &closeT, &entry, &exit, &pnl, &win, &side); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		var e models.JournalEntry
		if err := json.Unmarshal([]byte(payload), &e.Decision); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		if oid != nil {
			e.Outcome = &models.TradeOutcome{
				DecisionID: *oid,
				OpenTime:   openT.UTC(),
				CloseTime:  closeT.UTC(),
				EntryPrice: *entry,
				ExitPrice:  *exit,
				Profit:     *pnl,
				IsWin:      *win,
				Side:       models.Action(*side),
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewError(models.KindStoreUnavailable, "iterate journal", err)
	}
	return out, nil
}

func (j *PostgresJournal) Health(ctx context.Context) error { return j.pool.Health(ctx) }

// Close is a no-op; the pool is owned by the caller.
func (j *PostgresJournal) Close() error { return nil }
