package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	pkgch "TradeLoop/pkg/clickhouse"
	applogger "TradeLoop/pkg/logger"
)

// CHCandleStore implements CandleStore backed by ClickHouse.
type CHCandleStore struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

var _ domrepo.CandleStore = (*CHCandleStore)(nil)

func NewCHCandleStore(ch *pkgch.Client, database string) *CHCandleStore {
	return &CHCandleStore{db: ch.DB(), database: database}
}

// SetLogger injects a structured logger.
func (s *CHCandleStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHCandleStore) StoreCandles(ctx context.Context, symbol string, tf domrepo.Timeframe, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	// Multi-row VALUES, 2000 rows per statement.
	const chunkSize = 2000
	for start := 0; start < len(candles); start += chunkSize {
		end := start + chunkSize
		if end > len(candles) {
			end = len(candles)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*8)
		for _, c := range candles[start:end] {
			if !c.Valid() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, symbol, string(tf), c.Time(), c.Open, c.High, c.Low, c.Close, c.TickVolume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s.candles (symbol, timeframe, t, open, high, low, close, tick_volume) VALUES %s",
			s.database, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse store_candles error",
					applogger.String("symbol", symbol),
					applogger.String("tf", string(tf)),
					applogger.Int("rows", len(values)),
					applogger.Error(err),
				)
			}
			return models.NewError(models.KindStoreUnavailable, "store candles", err)
		}
	}
	return nil
}

func (s *CHCandleStore) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	const qtpl = `
        SELECT t, open, high, low, close, tick_volume
        FROM %s.candles FINAL
        WHERE symbol = ? AND timeframe = ? AND t >= ? AND t <= ?
        ORDER BY t ASC
    `
	out, err := s.query(ctx, "get_candles", fmt.Sprintf(qtpl, s.database), symbol, string(tf), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CHCandleStore) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	const qtpl = `
        SELECT t, open, high, low, close, tick_volume
        FROM %s.candles FINAL
        WHERE symbol = ? AND timeframe = ?
        ORDER BY t DESC
        LIMIT ?
    `
	tmp, err := s.query(ctx, "latest_candles", fmt.Sprintf(qtpl, s.database), symbol, string(tf), n)
	if err != nil {
		return nil, err
	}
	// reverse to ASC
	for i, j := 0, len(tmp)-1; i < j; i, j = i+1, j-1 {
		tmp[i], tmp[j] = tmp[j], tmp[i]
	}
	return tmp, nil
}

func (s *CHCandleStore) query(ctx context.Context, op, q string, args ...interface{}) ([]models.Candle, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logErr(op, "query", err)
		return nil, models.NewError(models.KindStoreUnavailable, op, err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, 256)
	for rows.Next() {
		var (
			c  models.Candle
			ts time.Time
		)
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.TickVolume); err != nil {
			s.logErr(op, "scan", err)
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.T = ts.Unix()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		s.logErr(op, "rows", err)
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse "+op+" ok",
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHCandleStore) logErr(op, stage string, err error) {
	if s.l != nil {
		s.l.Error("clickhouse "+op+" "+stage+" error", applogger.Error(err))
	}
}
