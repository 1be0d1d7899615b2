// Package history persists archive rows and price bars in Postgres so
// repeated backfills only pay for days not yet stored.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/driftcore/internal/drift"
	"github.com/quantfold/driftcore/internal/series"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.raw.QueryRowContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	inSingleQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '\'' {
			out.WriteByte(ch)
			if inSingleQuote {
				// SQL escape: two single quotes inside a string literal.
				if i+1 < len(query) && query[i+1] == '\'' {
					out.WriteByte(query[i+1])
					i++
					continue
				}
				inSingleQuote = false
			} else {
				inSingleQuote = true
			}
			continue
		}

		if ch == '?' && !inSingleQuote {
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
			continue
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS settle_pnl_records (
			tx_sig                    TEXT        NOT NULL,
			market_index              INTEGER     NOT NULL,
			user_account              TEXT        NOT NULL,
			program_id                TEXT        NOT NULL,
			pnl                       NUMERIC     NOT NULL,
			base_asset_amount         NUMERIC     NOT NULL,
			quote_asset_amount_after  NUMERIC     NOT NULL,
			quote_entry_amount_before NUMERIC     NOT NULL,
			settle_price              NUMERIC     NOT NULL,
			explanation               TEXT        NOT NULL DEFAULT '',
			slot                      BIGINT      NOT NULL,
			ts                        BIGINT      NOT NULL,
			PRIMARY KEY (tx_sig, market_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settle_pnl_user_ts
			ON settle_pnl_records (user_account, ts)`,
		`CREATE TABLE IF NOT EXISTS price_bars (
			market       TEXT             NOT NULL,
			bar_date     BIGINT           NOT NULL,
			open         DOUBLE PRECISION NOT NULL,
			high         DOUBLE PRECISION NOT NULL,
			low          DOUBLE PRECISION NOT NULL,
			close        DOUBLE PRECISION NOT NULL,
			volume       DOUBLE PRECISION,
			PRIMARY KEY (market, bar_date)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate history schema: %w", err)
		}
	}
	return nil
}

// UpsertSettlePnlRecords stores rows idempotently keyed on (tx_sig,
// market_index), so re-fetching a day the archive already served is safe.
func (s *Store) UpsertSettlePnlRecords(ctx context.Context, records []drift.SettlePnlRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, record := range records {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO settle_pnl_records (
					tx_sig, market_index, user_account, program_id,
					pnl, base_asset_amount, quote_asset_amount_after,
					quote_entry_amount_before, settle_price, explanation, slot, ts
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (tx_sig, market_index) DO NOTHING`,
				record.TxSig, int32(record.MarketIndex), record.User, record.ProgramID,
				record.Pnl.String(), record.BaseAssetAmount.String(),
				record.QuoteAssetAmountAfter.String(), record.QuoteEntryAmountBefore.String(),
				record.SettlePrice.String(), record.Explanation,
				int64(record.Slot), record.Ts,
			)
			if err != nil {
				return fmt.Errorf("insert settle pnl %s/%d: %w", record.TxSig, record.MarketIndex, err)
			}
		}
		return nil
	})
}

// SettlePnlSince returns stored rows for one user from ts onward, oldest
// first.
func (s *Store) SettlePnlSince(ctx context.Context, user string, since int64) ([]drift.SettlePnlRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_sig, market_index, user_account, program_id,
			pnl, base_asset_amount, quote_asset_amount_after,
			quote_entry_amount_before, settle_price, explanation, slot, ts
		FROM settle_pnl_records
		WHERE user_account = ? AND ts >= ?
		ORDER BY ts ASC`, user, since)
	if err != nil {
		return nil, fmt.Errorf("query settle pnl: %w", err)
	}
	defer rows.Close()

	var out []drift.SettlePnlRecord
	for rows.Next() {
		record, err := scanSettlePnl(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// LatestSettlePnlTs reports the newest stored ts for a user, zero when the
// user has no rows. Backfills start from here.
func (s *Store) LatestSettlePnlTs(ctx context.Context, user string) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT ts FROM settle_pnl_records WHERE user_account = ? ORDER BY ts DESC LIMIT 1`,
		user).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query latest settle pnl ts: %w", err)
	}
	return ts, nil
}

func scanSettlePnl(rows *sql.Rows) (drift.SettlePnlRecord, error) {
	var (
		record      drift.SettlePnlRecord
		marketIndex int32
		slot        int64
		pnl         string
		base        string
		quoteAfter  string
		entryBefore string
		settlePrice string
	)
	err := rows.Scan(&record.TxSig, &marketIndex, &record.User, &record.ProgramID,
		&pnl, &base, &quoteAfter, &entryBefore, &settlePrice,
		&record.Explanation, &slot, &record.Ts)
	if err != nil {
		return record, fmt.Errorf("scan settle pnl row: %w", err)
	}
	record.MarketIndex = uint16(marketIndex)
	record.Slot = uint64(slot)

	for _, column := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{pnl, &record.Pnl},
		{base, &record.BaseAssetAmount},
		{quoteAfter, &record.QuoteAssetAmountAfter},
		{entryBefore, &record.QuoteEntryAmountBefore},
		{settlePrice, &record.SettlePrice},
	} {
		value, err := decimal.NewFromString(column.raw)
		if err != nil {
			return record, fmt.Errorf("decode numeric column: %w", err)
		}
		*column.dst = value
	}
	return record, nil
}

// UpsertBars stores bars for one market keyed on (market, bar_date); a
// re-run replaces the stored candle with the newer values.
func (s *Store) UpsertBars(ctx context.Context, market string, bars []series.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, bar := range bars {
			var volume sql.NullFloat64
			if bar.Volume != nil {
				volume = sql.NullFloat64{Float64: *bar.Volume, Valid: true}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO price_bars (market, bar_date, open, high, low, close, volume)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (market, bar_date) DO UPDATE SET
					open = EXCLUDED.open, high = EXCLUDED.high,
					low = EXCLUDED.low, close = EXCLUDED.close,
					volume = EXCLUDED.volume`,
				market, bar.Date, bar.Open, bar.High, bar.Low, bar.Close, volume,
			)
			if err != nil {
				return fmt.Errorf("insert bar %s@%d: %w", market, bar.Date, err)
			}
		}
		return nil
	})
}

// Bars returns stored bars for one market from date onward, oldest first.
func (s *Store) Bars(ctx context.Context, market string, since int64) ([]series.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bar_date, open, high, low, close, volume
		FROM price_bars
		WHERE market = ? AND bar_date >= ?
		ORDER BY bar_date ASC`, market, since)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var out []series.Bar
	for rows.Next() {
		var bar series.Bar
		var volume sql.NullFloat64
		if err := rows.Scan(&bar.Date, &bar.Open, &bar.High, &bar.Low, &bar.Close, &volume); err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		if volume.Valid {
			value := volume.Float64
			bar.Volume = &value
		}
		out = append(out, bar)
	}
	return out, rows.Err()
}
