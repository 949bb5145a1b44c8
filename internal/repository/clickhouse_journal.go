package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	pkgch "TradeLoop/pkg/clickhouse"
	applogger "TradeLoop/pkg/logger"
)

// ClickHouseSchema returns the idempotent DDL of the journal and candle tables.
func ClickHouseSchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.decisions (
			decision_id String,
			symbol LowCardinality(String),
			timeframe LowCardinality(String),
			t DateTime,
			action LowCardinality(String),
			confidence Float64,
			payload String,
			inserted_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, timeframe, t, decision_id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.outcomes (
			decision_id String,
			open_time DateTime,
			close_time DateTime,
			entry_price Float64,
			exit_price Float64,
			profit Float64,
			is_win UInt8,
			side LowCardinality(String),
			inserted_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree ORDER BY decision_id`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.candles (
			symbol LowCardinality(String),
			timeframe LowCardinality(String),
			t DateTime,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			tick_volume Float64
		) ENGINE = ReplacingMergeTree ORDER BY (symbol, timeframe, t)`, database),
	}
}

// ClickHouseJournal implements Journal for ClickHouse. Both tables are
// ReplacingMergeTree so replays collapse; reads use FINAL.
type ClickHouseJournal struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

var _ domrepo.Journal = (*ClickHouseJournal)(nil)

// NewClickHouseJournal creates the ClickHouse journal.
func NewClickHouseJournal(ch *pkgch.Client, database string, l *applogger.Logger) *ClickHouseJournal {
	if l == nil {
		l = applogger.NewNop()
	}
	return &ClickHouseJournal{db: ch.DB(), database: database, l: l}
}

func (j *ClickHouseJournal) Init(ctx context.Context) error {
	for _, stmt := range ClickHouseSchema(j.database) {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (j *ClickHouseJournal) AppendDecision(ctx context.Context, d *models.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	q := fmt.Sprintf("INSERT INTO %s.decisions (decision_id, symbol, timeframe, t, action, confidence, payload) VALUES (?, ?, ?, ?, ?, ?, ?)", j.database)
	_, err = j.db.ExecContext(ctx, q,
		d.ID,
		d.Symbol,
		d.Timeframe,
		d.Time(),
		string(d.Action),
		d.Confidence,
		string(payload),
	)
	if err != nil {
		j.l.Error("clickhouse insert decision error",
			applogger.String("decision_id", d.ID),
			applogger.String("symbol", d.Symbol),
			applogger.Error(err),
		)
		return models.NewError(models.KindStoreUnavailable, "insert decision", err)
	}
	return nil
}

func (j *ClickHouseJournal) exists(ctx context.Context, table, id string) (bool, error) {
	var n uint64
	q := fmt.Sprintf("SELECT count() FROM %s.%s WHERE decision_id = ?", j.database, table)
	if err := j.db.QueryRowContext(ctx, q, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendOutcome checks for an existing row before inserting. Callers serialize
// per decision id; concurrent duplicates that slip through collapse on merge.
func (j *ClickHouseJournal) AppendOutcome(ctx context.Context, o *models.TradeOutcome) (bool, error) {
	ok, err := j.exists(ctx, "decisions", o.DecisionID)
	if err != nil {
		return false, models.NewError(models.KindStoreUnavailable, "lookup decision", err)
	}
	if !ok {
		return false, models.Errorf(models.KindBadInput, "unknown decision %s", o.DecisionID)
	}
	dup, err := j.exists(ctx, "outcomes", o.DecisionID)
	if err != nil {
		return false, models.NewError(models.KindStoreUnavailable, "lookup outcome", err)
	}
	if dup {
		return false, nil
	}
	var win uint8
	if o.IsWin {
		win = 1
	}
	q := fmt.Sprintf("INSERT INTO %s.outcomes (decision_id, open_time, close_time, entry_price, exit_price, profit, is_win, side) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", j.database)
	if _, err := j.db.ExecContext(ctx, q,
		o.DecisionID,
		o.OpenTime.UTC(),
		o.CloseTime.UTC(),
		o.EntryPrice,
		o.ExitPrice,
		o.Profit,
		win,
		string(o.Side),
	); err != nil {
		j.l.Error("clickhouse insert outcome error",
			applogger.String("decision_id", o.DecisionID),
			applogger.Error(err),
		)
		return false, models.NewError(models.KindStoreUnavailable, "insert outcome", err)
	}
	return true, nil
}

func (j *ClickHouseJournal) GetDecision(ctx context.Context, id string) (*models.Decision, error) {
	q := fmt.Sprintf("SELECT payload FROM %s.decisions FINAL WHERE decision_id = ? LIMIT 1", j.database)
	var payload string
	if err := j.db.QueryRowContext(ctx, q, id).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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

func (j *ClickHouseJournal) Entries(ctx context.Context, symbol, timeframe string, limit int) ([]models.JournalEntry, error) {
	start := time.Now()
	const qtpl = `
        SELECT d.payload, o.decision_id, o.open_time, o.close_time,
               o.entry_price, o.exit_price, o.profit, o.is_win, o.side
        FROM (
            SELECT decision_id, t, inserted_at, payload
            FROM %[1]s.decisions FINAL
            WHERE symbol = ? AND timeframe = ?
            ORDER BY t DESC, inserted_at DESC
            LIMIT ?
        ) AS d
        LEFT JOIN (SELECT * FROM %[1]s.outcomes FINAL) AS o ON o.decision_id = d.decision_id
        ORDER BY d.t DESC, d.inserted_at DESC
    `
	rows, err := j.db.QueryContext(ctx, fmt.Sprintf(qtpl, j.database), symbol, timeframe, limit)
	if err != nil {
		j.l.Error("clickhouse journal query error",
			applogger.String("symbol", symbol),
			applogger.String("tf", timeframe),
			applogger.Error(err),
		)
		return nil, models.NewError(models.KindStoreUnavailable, "query journal", err)
	}
	defer rows.Close()

	out := make([]models.JournalEntry, 0, limit)
	for rows.Next() {
		var (
			payload, oid, side string
			openT, closeT      time.Time
			entry, exit, pnl   float64
			win                uint8
		)
		if err := rows.Scan(&payload, &oid, &openT, &closeT, &entry, &exit, &pnl, &win, &side); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		var e models.JournalEntry
		if err := json.Unmarshal([]byte(payload), &e.Decision); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
		// Unmatched LEFT JOIN columns come back as defaults.
		if oid != "" {
			e.Outcome = &models.TradeOutcome{
				DecisionID: oid,
				OpenTime:   openT.UTC(),
				CloseTime:  closeT.UTC(),
				EntryPrice: entry,
				ExitPrice:  exit,
				Profit:     pnl,
				IsWin:      win == 1,
				Side:       models.Action(side),
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewError(models.KindStoreUnavailable, "iterate journal", err)
	}
	j.l.Debug("clickhouse journal entries ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", timeframe),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

func (j *ClickHouseJournal) Health(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

func (j *ClickHouseJournal) Close() error {
	return nil // Managed by pkg
}
