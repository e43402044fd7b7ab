package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ESStats/internal/domain/models"
	"ESStats/internal/domain/repository"
)

// postgresSchema mirrors the constraint set the pipeline relies on: the
// 1-minute primary key the upsert is defined against, non-negative counts,
// high >= low, and 30-minute bucket alignment.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS instruments (
  instrument_id BIGSERIAL PRIMARY KEY,
  symbol        TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS imports (
  import_id            BIGSERIAL PRIMARY KEY,
  instrument_id        BIGINT NOT NULL REFERENCES instruments(instrument_id),
  source_name          TEXT NOT NULL,
  source_hash          TEXT,
  input_timezone       TEXT NOT NULL,
  bar_interval_seconds INTEGER NOT NULL,
  merge_policy         TEXT NOT NULL CHECK (merge_policy IN ('skip', 'overwrite')),
  started_at_utc       BIGINT NOT NULL,
  finished_at_utc      BIGINT,
  ts_min_utc           BIGINT,
  ts_max_utc           BIGINT,
  row_count_read       INTEGER NOT NULL DEFAULT 0,
  row_count_inserted   INTEGER NOT NULL DEFAULT 0,
  row_count_updated    INTEGER NOT NULL DEFAULT 0,
  row_count_rejected   INTEGER NOT NULL DEFAULT 0,
  status               TEXT NOT NULL CHECK (status IN ('success', 'failed')),
  error_summary        TEXT
);

CREATE TABLE IF NOT EXISTS bars_1m (
  instrument_id       BIGINT NOT NULL REFERENCES instruments(instrument_id),
  ts_start_utc        BIGINT NOT NULL,
  trading_date_ct_int INTEGER NOT NULL,
  ct_minute_of_day    INTEGER NOT NULL CHECK (ct_minute_of_day BETWEEN 0 AND 1439),
  open                DOUBLE PRECISION NOT NULL,
  high                DOUBLE PRECISION NOT NULL,
  low                 DOUBLE PRECISION NOT NULL,
  close               DOUBLE PRECISION NOT NULL,
  volume              BIGINT NOT NULL CHECK (volume >= 0),
  trades_count        BIGINT NOT NULL CHECK (trades_count >= 0),
  source_import_id    BIGINT NOT NULL REFERENCES imports(import_id),
  PRIMARY KEY (instrument_id, ts_start_utc),
  CHECK (high >= low)
);
CREATE INDEX IF NOT EXISTS idx_bars_1m_trading_date
  ON bars_1m (instrument_id, trading_date_ct_int, ct_minute_of_day);

CREATE TABLE IF NOT EXISTS bars_30m (
  instrument_id           BIGINT NOT NULL REFERENCES instruments(instrument_id),
  bucket_start_utc        BIGINT NOT NULL,
  trading_date_ct_int     INTEGER NOT NULL,
  bucket_ct_minute_of_day INTEGER NOT NULL
    CHECK (bucket_ct_minute_of_day BETWEEN 0 AND 1439 AND bucket_ct_minute_of_day % 30 = 0),
  open                    DOUBLE PRECISION NOT NULL,
  high                    DOUBLE PRECISION NOT NULL,
  low                     DOUBLE PRECISION NOT NULL,
  close                   DOUBLE PRECISION NOT NULL,
  volume                  BIGINT NOT NULL CHECK (volume >= 0),
  trades_count            BIGINT NOT NULL CHECK (trades_count >= 0),
  bar_count_1m            INTEGER NOT NULL CHECK (bar_count_1m BETWEEN 1 AND 30),
  is_complete             BOOLEAN NOT NULL,
  session                 TEXT NOT NULL,
  period_index            INTEGER NOT NULL,
  derived_from_import_id  BIGINT NOT NULL REFERENCES imports(import_id),
  PRIMARY KEY (instrument_id, bucket_start_utc),
  CHECK (high >= low)
);
CREATE INDEX IF NOT EXISTS idx_bars_30m_trading_date
  ON bars_30m (instrument_id, trading_date_ct_int, bucket_ct_minute_of_day);
`

// PostgresStore is the primary backend: every import runs inside one
// pgx transaction covering audit, upsert and rebuild.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("init postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) EnsureInstrument(ctx context.Context, symbol string) (int64, error) {
	var id int64
	// The no-op update makes RETURNING yield the id on conflict too.
	err := t.tx.QueryRow(ctx, `
		INSERT INTO instruments (symbol) VALUES ($1)
		ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		RETURNING instrument_id;`, symbol).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure instrument %q: %w", symbol, err)
	}
	return id, nil
}

func (t *postgresTx) InsertImportRun(ctx context.Context, run *models.ImportRun) (int64, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO imports (
		  instrument_id, source_name, source_hash, input_timezone,
		  bar_interval_seconds, merge_policy, started_at_utc, status, error_summary
		) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, NULLIF($9, ''))
		RETURNING import_id;`,
		run.InstrumentID, run.SourceName, run.SourceHash, run.InputTimezone,
		run.BarIntervalSeconds, run.MergePolicy, run.StartedAtUTC, run.Status, run.ErrorSummary,
	).Scan(&run.ImportID)
	if err != nil {
		return 0, fmt.Errorf("insert import run: %w", err)
	}
	return run.ImportID, nil
}

func (t *postgresTx) FinalizeImportRun(ctx context.Context, run *models.ImportRun) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE imports SET
		  finished_at_utc = $2, ts_min_utc = NULLIF($3, 0), ts_max_utc = NULLIF($4, 0),
		  row_count_read = $5, row_count_inserted = $6, row_count_updated = $7,
		  row_count_rejected = $8, status = $9, error_summary = NULLIF($10, '')
		WHERE import_id = $1;`,
		run.ImportID, run.FinishedAtUTC, run.TsMinUTC, run.TsMaxUTC,
		run.RowCountRead, run.RowCountInserted, run.RowCountUpdated,
		run.RowCountRejected, run.Status, run.ErrorSummary,
	)
	if err != nil {
		return fmt.Errorf("finalize import run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("import run %d not found", run.ImportID)
	}
	return nil
}

// UpsertBars1m stages the batch into a temp table with COPY, derives the
// counts from key joins against the live table, then applies the set-based
// UPDATE (overwrite only) and the insert of genuinely new keys.
func (t *postgresTx) UpsertBars1m(ctx context.Context, bars []models.Bar1m, policy models.MergePolicy) (repository.UpsertResult, error) {
	if policy != models.MergeSkip && policy != models.MergeOverwrite {
		return repository.UpsertResult{}, fmt.Errorf("merge policy must be 'skip' or 'overwrite', got %q", policy)
	}
	if len(bars) == 0 {
		return repository.UpsertResult{}, nil
	}
	bars = dedupeBars(bars)

	if _, err := t.tx.Exec(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS tmp_bars_1m
		  (LIKE bars_1m INCLUDING DEFAULTS) ON COMMIT DROP;`); err != nil {
		return repository.UpsertResult{}, fmt.Errorf("create staging table: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM tmp_bars_1m;`); err != nil {
		return repository.UpsertResult{}, fmt.Errorf("clear staging table: %w", err)
	}

	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"tmp_bars_1m"},
		[]string{
			"instrument_id", "ts_start_utc", "trading_date_ct_int", "ct_minute_of_day",
			"open", "high", "low", "close", "volume", "trades_count", "source_import_id",
		},
		pgx.CopyFromSlice(len(bars), func(i int) ([]any, error) {
			b := bars[i]
			return []any{
				b.InstrumentID, b.TsStartUTC, b.TradingDateCT, b.CTMinuteOfDay,
				b.Open, b.High, b.Low, b.Close, b.Volume, b.TradesCount, b.SourceImportID,
			}, nil
		}),
	)
	if err != nil {
		return repository.UpsertResult{}, fmt.Errorf("stage bars: %w", err)
	}

	// Counts are fixed before any mutation of bars_1m.
	var res repository.UpsertResult
	if err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tmp_bars_1m t
		LEFT JOIN bars_1m b
		  ON b.instrument_id = t.instrument_id
		 AND b.ts_start_utc  = t.ts_start_utc
		WHERE b.instrument_id IS NULL;`).Scan(&res.Inserted); err != nil {
		return repository.UpsertResult{}, fmt.Errorf("count new rows: %w", err)
	}

	var matched int
	if err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tmp_bars_1m t
		JOIN bars_1m b
		  ON b.instrument_id = t.instrument_id
		 AND b.ts_start_utc  = t.ts_start_utc;`).Scan(&matched); err != nil {
		return repository.UpsertResult{}, fmt.Errorf("count existing rows: %w", err)
	}

	if policy == models.MergeOverwrite {
		res.Updated = matched
		if _, err := t.tx.Exec(ctx, `
			UPDATE bars_1m b SET
			  trading_date_ct_int = t.trading_date_ct_int,
			  ct_minute_of_day    = t.ct_minute_of_day,
			  open = t.open, high = t.high, low = t.low, close = t.close,
			  volume = t.volume, trades_count = t.trades_count,
			  source_import_id = t.source_import_id
			FROM tmp_bars_1m t
			WHERE b.instrument_id = t.instrument_id
			  AND b.ts_start_utc  = t.ts_start_utc;`); err != nil {
			return repository.UpsertResult{}, fmt.Errorf("overwrite existing rows: %w", err)
		}
	} else {
		res.Skipped = matched
	}

	if _, err := t.tx.Exec(ctx, `
		INSERT INTO bars_1m (
		  instrument_id, ts_start_utc, trading_date_ct_int, ct_minute_of_day,
		  open, high, low, close, volume, trades_count, source_import_id
		)
		SELECT instrument_id, ts_start_utc, trading_date_ct_int, ct_minute_of_day,
		       open, high, low, close, volume, trades_count, source_import_id
		FROM tmp_bars_1m
		ON CONFLICT (instrument_id, ts_start_utc) DO NOTHING;`); err != nil {
		return repository.UpsertResult{}, fmt.Errorf("insert new rows: %w", err)
	}

	return res, nil
}

func (t *postgresTx) RebuildBars30m(ctx context.Context, instrumentID int64, tdMin, tdMax int, importID int64, sessions []models.WindowSpec) (repository.RebuildResult, error) {
	var res repository.RebuildResult

	tag, err := t.tx.Exec(ctx, `
		DELETE FROM bars_30m
		WHERE instrument_id = $1
		  AND trading_date_ct_int BETWEEN $2 AND $3;`, instrumentID, tdMin, tdMax)
	if err != nil {
		return res, fmt.Errorf("delete derived range: %w", err)
	}
	res.Deleted = int(tag.RowsAffected())

	sessionCase, indexCase, args := sessionCaseSQL(sessions, 4)
	insertSQL := fmt.Sprintf(`
		INSERT INTO bars_30m (
		  instrument_id, bucket_start_utc, trading_date_ct_int, bucket_ct_minute_of_day,
		  open, high, low, close, volume, trades_count,
		  bar_count_1m, is_complete, session, period_index, derived_from_import_id
		)
		SELECT
		  g.instrument_id,
		  g.min_ts - 60 * (g.min_minute - g.bucket_minute),
		  g.trading_date_ct_int,
		  g.bucket_minute,
		  g.open, g.high, g.low, g.close, g.volume, g.trades_count,
		  g.bar_count_1m,
		  g.bar_count_1m = 30,
		  %s,
		  %s,
		  $3::bigint
		FROM (
		  SELECT
		    b.instrument_id,
		    b.trading_date_ct_int,
		    b.ct_minute_of_day - (b.ct_minute_of_day %% 30) AS bucket_minute,
		    MIN(b.ts_start_utc)     AS min_ts,
		    MIN(b.ct_minute_of_day) AS min_minute,
		    (ARRAY_AGG(b.open  ORDER BY b.ct_minute_of_day ASC))[1]  AS open,
		    (ARRAY_AGG(b.close ORDER BY b.ct_minute_of_day DESC))[1] AS close,
		    MAX(b.high)          AS high,
		    MIN(b.low)           AS low,
		    SUM(b.volume)        AS volume,
		    SUM(b.trades_count)  AS trades_count,
		    COUNT(*)::int        AS bar_count_1m
		  FROM bars_1m b
		  WHERE b.instrument_id = $1
		    AND b.trading_date_ct_int BETWEEN $2 AND $4
		  GROUP BY b.instrument_id, b.trading_date_ct_int,
		           b.ct_minute_of_day - (b.ct_minute_of_day %% 30)
		) g;`, sessionCase, indexCase)

	allArgs := append([]any{instrumentID, tdMin, importID, tdMax}, args...)
	tag, err = t.tx.Exec(ctx, insertSQL, allArgs...)
	if err != nil {
		return res, fmt.Errorf("insert derived range: %w", err)
	}
	res.Inserted = int(tag.RowsAffected())
	return res, nil
}

// sessionCaseSQL builds the CASE expressions labeling each bucket with its
// configured window and wrap-aware period index. Window bounds are ints and
// inlined; names are bound parameters starting at argOffset+1.
func sessionCaseSQL(sessions []models.WindowSpec, argOffset int) (sessionCase, indexCase string, args []any) {
	var sb, ib strings.Builder
	sb.WriteString("CASE")
	ib.WriteString("CASE")
	for _, w := range sessions {
		var cond string
		if w.SpansMidnight() {
			cond = fmt.Sprintf("g.bucket_minute >= %d OR g.bucket_minute <= %d", w.StartMinuteCT, w.EndMinuteCT)
		} else {
			cond = fmt.Sprintf("g.bucket_minute BETWEEN %d AND %d", w.StartMinuteCT, w.EndMinuteCT)
		}
		args = append(args, w.Name)
		fmt.Fprintf(&sb, " WHEN %s THEN $%d::text", cond, argOffset+len(args))
		fmt.Fprintf(&ib, " WHEN %s THEN ((g.bucket_minute - %d + 1440) %% 1440) / 30", cond, w.StartMinuteCT)
	}
	sb.WriteString(" ELSE 'OTHER' END")
	ib.WriteString(" ELSE g.bucket_minute / 30 END")
	return sb.String(), ib.String(), args
}

// --- Reader ---

func (s *PostgresStore) RecentImports(ctx context.Context, limit int) ([]models.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT import_id, instrument_id, source_name, COALESCE(source_hash, ''),
		       input_timezone, bar_interval_seconds, merge_policy, started_at_utc,
		       COALESCE(finished_at_utc, 0), COALESCE(ts_min_utc, 0), COALESCE(ts_max_utc, 0),
		       row_count_read, row_count_inserted, row_count_updated, row_count_rejected,
		       status, COALESCE(error_summary, '')
		FROM imports
		ORDER BY import_id DESC
		LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query imports: %w", err)
	}
	defer rows.Close()

	var out []models.ImportRun
	for rows.Next() {
		var r models.ImportRun
		if err := rows.Scan(
			&r.ImportID, &r.InstrumentID, &r.SourceName, &r.SourceHash,
			&r.InputTimezone, &r.BarIntervalSeconds, &r.MergePolicy, &r.StartedAtUTC,
			&r.FinishedAtUTC, &r.TsMinUTC, &r.TsMaxUTC,
			&r.RowCountRead, &r.RowCountInserted, &r.RowCountUpdated, &r.RowCountRejected,
			&r.Status, &r.ErrorSummary,
		); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Bars1m(ctx context.Context, symbol string, tdMin, tdMax int) ([]models.Bar1m, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.instrument_id, b.ts_start_utc, b.trading_date_ct_int, b.ct_minute_of_day,
		       b.open, b.high, b.low, b.close, b.volume, b.trades_count, b.source_import_id
		FROM bars_1m b
		JOIN instruments i ON i.instrument_id = b.instrument_id
		WHERE i.symbol = $1 AND b.trading_date_ct_int BETWEEN $2 AND $3
		ORDER BY b.ts_start_utc;`, symbol, tdMin, tdMax)
	if err != nil {
		return nil, fmt.Errorf("query bars_1m: %w", err)
	}
	defer rows.Close()

	var out []models.Bar1m
	for rows.Next() {
		var b models.Bar1m
		if err := rows.Scan(
			&b.InstrumentID, &b.TsStartUTC, &b.TradingDateCT, &b.CTMinuteOfDay,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradesCount, &b.SourceImportID,
		); err != nil {
			return nil, fmt.Errorf("scan bar_1m: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Bars30m(ctx context.Context, symbol string, tdMin, tdMax int) ([]models.Bar30m, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT b.instrument_id, b.bucket_start_utc, b.trading_date_ct_int, b.bucket_ct_minute_of_day,
		       b.open, b.high, b.low, b.close, b.volume, b.trades_count,
		       b.bar_count_1m, b.is_complete, b.session, b.period_index, b.derived_from_import_id
		FROM bars_30m b
		JOIN instruments i ON i.instrument_id = b.instrument_id
		WHERE i.symbol = $1 AND b.trading_date_ct_int BETWEEN $2 AND $3
		ORDER BY b.bucket_start_utc;`, symbol, tdMin, tdMax)
	if err != nil {
		return nil, fmt.Errorf("query bars_30m: %w", err)
	}
	defer rows.Close()

	var out []models.Bar30m
	for rows.Next() {
		var b models.Bar30m
		if err := rows.Scan(
			&b.InstrumentID, &b.BucketStartUTC, &b.TradingDateCT, &b.BucketMinuteOfDay,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradesCount,
			&b.BarCount1m, &b.IsComplete, &b.Session, &b.PeriodIndex, &b.DerivedFromImportID,
		); err != nil {
			return nil, fmt.Errorf("scan bar_30m: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountBarsInWindow(ctx context.Context, symbol string, tdMin, tdMax int, w models.WindowSpec, resolution string) (int, error) {
	var table, minuteCol string
	switch resolution {
	case "1m":
		table, minuteCol = "bars_1m", "ct_minute_of_day"
	case "30m":
		table, minuteCol = "bars_30m", "bucket_ct_minute_of_day"
	default:
		return 0, fmt.Errorf("unsupported resolution %q", resolution)
	}

	minuteCond := fmt.Sprintf("b.%s BETWEEN $4 AND $5", minuteCol)
	if w.SpansMidnight() {
		minuteCond = fmt.Sprintf("(b.%s >= $4 OR b.%s <= $5)", minuteCol, minuteCol)
	}

	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM %s b
		JOIN instruments i ON i.instrument_id = b.instrument_id
		WHERE i.symbol = $1
		  AND b.trading_date_ct_int BETWEEN $2 AND $3
		  AND %s;`, table, minuteCond),
		symbol, tdMin, tdMax, w.StartMinuteCT, w.EndMinuteCT,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bars in window: %w", err)
	}
	return count, nil
}
