package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ESStats/internal/domain/models"
	"ESStats/internal/domain/repository"
	"ESStats/pkg/clickhouse"
)

// clickhouseSchema holds one DDL statement per table. MergeTree keyed on
// the same primary keys the relational schema enforces; key uniqueness is
// maintained by the store itself (mutation-then-insert), not the engine.
var clickhouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS instruments (
		instrument_id Int64,
		symbol        String
	) ENGINE = MergeTree ORDER BY instrument_id;`,

	`CREATE TABLE IF NOT EXISTS imports (
		import_id            Int64,
		instrument_id        Int64,
		source_name          String,
		source_hash          String,
		input_timezone       String,
		bar_interval_seconds Int32,
		merge_policy         String,
		started_at_utc       Int64,
		finished_at_utc      Int64,
		ts_min_utc           Int64,
		ts_max_utc           Int64,
		row_count_read       Int32,
		row_count_inserted   Int32,
		row_count_updated    Int32,
		row_count_rejected   Int32,
		status               String,
		error_summary        String
	) ENGINE = MergeTree ORDER BY import_id;`,

	`CREATE TABLE IF NOT EXISTS bars_1m (
		instrument_id       Int64,
		ts_start_utc        Int64,
		trading_date_ct_int Int32,
		ct_minute_of_day    Int32,
		open                Float64,
		high                Float64,
		low                 Float64,
		close               Float64,
		volume              Int64,
		trades_count        Int64,
		source_import_id    Int64
	) ENGINE = MergeTree ORDER BY (instrument_id, ts_start_utc);`,

	`CREATE TABLE IF NOT EXISTS bars_30m (
		instrument_id           Int64,
		bucket_start_utc        Int64,
		trading_date_ct_int     Int32,
		bucket_ct_minute_of_day Int32,
		open                    Float64,
		high                    Float64,
		low                     Float64,
		close                   Float64,
		volume                  Int64,
		trades_count            Int64,
		bar_count_1m            Int32,
		is_complete             UInt8,
		session                 String,
		period_index            Int32,
		derived_from_import_id  Int64
	) ENGINE = MergeTree ORDER BY (instrument_id, bucket_start_utc);`,
}

// ClickHouseStore is the analytical backend. ClickHouse has no
// transactions, so RunInTransaction only scopes the work: a failed run can
// leave partial state, which the audit row's "failed" status makes visible.
// Key uniqueness is enforced with synchronous delete mutations before
// inserts, so reads never see duplicate keys.
type ClickHouseStore struct {
	client *clickhouse.Client
	db     *sql.DB
}

func NewClickHouseStore(client *clickhouse.Client) *ClickHouseStore {
	return &ClickHouseStore{client: client, db: client.DB()}
}

func (s *ClickHouseStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, clickhouseSchema)
}

func (s *ClickHouseStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *ClickHouseStore) Close() error {
	return s.client.Close()
}

func (s *ClickHouseStore) RunInTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	return fn(&clickhouseTx{db: s.db})
}

type clickhouseTx struct {
	db *sql.DB
}

func (t *clickhouseTx) EnsureInstrument(ctx context.Context, symbol string) (int64, error) {
	var id int64
	err := t.db.QueryRowContext(ctx,
		`SELECT instrument_id FROM instruments WHERE symbol = ? LIMIT 1;`, symbol).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup instrument %q: %w", symbol, err)
	}

	if err := t.db.QueryRowContext(ctx,
		`SELECT coalesce(max(instrument_id), 0) + 1 FROM instruments;`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next instrument id: %w", err)
	}
	if _, err := t.db.ExecContext(ctx,
		`INSERT INTO instruments (instrument_id, symbol) VALUES (?, ?);`, id, symbol); err != nil {
		return 0, fmt.Errorf("insert instrument %q: %w", symbol, err)
	}
	return id, nil
}

func (t *clickhouseTx) InsertImportRun(ctx context.Context, run *models.ImportRun) (int64, error) {
	var id int64
	if err := t.db.QueryRowContext(ctx,
		`SELECT coalesce(max(import_id), 0) + 1 FROM imports;`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next import id: %w", err)
	}
	run.ImportID = id

	_, err := t.db.ExecContext(ctx, `
		INSERT INTO imports (
		  import_id, instrument_id, source_name, source_hash, input_timezone,
		  bar_interval_seconds, merge_policy, started_at_utc, finished_at_utc,
		  ts_min_utc, ts_max_utc, row_count_read, row_count_inserted,
		  row_count_updated, row_count_rejected, status, error_summary
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, 0, 0, ?, ?);`,
		run.ImportID, run.InstrumentID, run.SourceName, run.SourceHash, run.InputTimezone,
		run.BarIntervalSeconds, run.MergePolicy, run.StartedAtUTC, run.Status, run.ErrorSummary,
	)
	if err != nil {
		return 0, fmt.Errorf("insert import run: %w", err)
	}
	return run.ImportID, nil
}

func (t *clickhouseTx) FinalizeImportRun(ctx context.Context, run *models.ImportRun) error {
	_, err := t.db.ExecContext(ctx, `
		ALTER TABLE imports UPDATE
		  finished_at_utc = ?, ts_min_utc = ?, ts_max_utc = ?,
		  row_count_read = ?, row_count_inserted = ?, row_count_updated = ?,
		  row_count_rejected = ?, status = ?, error_summary = ?
		WHERE import_id = ?
		SETTINGS mutations_sync = 1;`,
		run.FinishedAtUTC, run.TsMinUTC, run.TsMaxUTC,
		run.RowCountRead, run.RowCountInserted, run.RowCountUpdated,
		run.RowCountRejected, run.Status, run.ErrorSummary, run.ImportID,
	)
	if err != nil {
		return fmt.Errorf("finalize import run: %w", err)
	}
	return nil
}

func (t *clickhouseTx) UpsertBars1m(ctx context.Context, bars []models.Bar1m, policy models.MergePolicy) (repository.UpsertResult, error) {
	if policy != models.MergeSkip && policy != models.MergeOverwrite {
		return repository.UpsertResult{}, fmt.Errorf("merge policy must be 'skip' or 'overwrite', got %q", policy)
	}
	if len(bars) == 0 {
		return repository.UpsertResult{}, nil
	}
	bars = dedupeBars(bars)

	instrumentID := bars[0].InstrumentID
	existing, err := t.existingKeys(ctx, instrumentID, bars)
	if err != nil {
		return repository.UpsertResult{}, err
	}

	var res repository.UpsertResult
	toInsert := make([]models.Bar1m, 0, len(bars))
	var overwriteKeys []int64
	for _, b := range bars {
		if _, ok := existing[b.TsStartUTC]; !ok {
			res.Inserted++
			toInsert = append(toInsert, b)
			continue
		}
		if policy == models.MergeOverwrite {
			res.Updated++
			overwriteKeys = append(overwriteKeys, b.TsStartUTC)
			toInsert = append(toInsert, b)
		} else {
			res.Skipped++
		}
	}

	// Overwrite = delete matched keys, then insert the replacement rows.
	// mutations_sync keeps reads within this run consistent.
	if len(overwriteKeys) > 0 {
		if _, err := t.db.ExecContext(ctx, fmt.Sprintf(`
			ALTER TABLE bars_1m DELETE
			WHERE instrument_id = ? AND ts_start_utc IN (%s)
			SETTINGS mutations_sync = 1;`, placeholders(len(overwriteKeys))),
			prepend(instrumentID, overwriteKeys)...); err != nil {
			return repository.UpsertResult{}, fmt.Errorf("delete overwritten rows: %w", err)
		}
	}

	if len(toInsert) > 0 {
		if err := t.insertBars1m(ctx, toInsert); err != nil {
			return repository.UpsertResult{}, err
		}
	}
	return res, nil
}

func (t *clickhouseTx) existingKeys(ctx context.Context, instrumentID int64, bars []models.Bar1m) (map[int64]struct{}, error) {
	keys := make([]int64, 0, len(bars))
	for _, b := range bars {
		keys = append(keys, b.TsStartUTC)
	}

	rows, err := t.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT ts_start_utc FROM bars_1m
		WHERE instrument_id = ? AND ts_start_utc IN (%s);`, placeholders(len(keys))),
		prepend(instrumentID, keys)...)
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan existing key: %w", err)
		}
		existing[ts] = struct{}{}
	}
	return existing, rows.Err()
}

func (t *clickhouseTx) insertBars1m(ctx context.Context, bars []models.Bar1m) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars_1m (
		  instrument_id, ts_start_utc, trading_date_ct_int, ct_minute_of_day,
		  open, high, low, close, volume, trades_count, source_import_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx,
			b.InstrumentID, b.TsStartUTC, b.TradingDateCT, b.CTMinuteOfDay,
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradesCount, b.SourceImportID,
		); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("append bar: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (t *clickhouseTx) RebuildBars30m(ctx context.Context, instrumentID int64, tdMin, tdMax int, importID int64, sessions []models.WindowSpec) (repository.RebuildResult, error) {
	var res repository.RebuildResult

	if err := t.db.QueryRowContext(ctx, `
		SELECT count() FROM bars_30m
		WHERE instrument_id = ? AND trading_date_ct_int BETWEEN ? AND ?;`,
		instrumentID, tdMin, tdMax).Scan(&res.Deleted); err != nil {
		return res, fmt.Errorf("count derived range: %w", err)
	}

	if _, err := t.db.ExecContext(ctx, `
		ALTER TABLE bars_30m DELETE
		WHERE instrument_id = ? AND trading_date_ct_int BETWEEN ? AND ?
		SETTINGS mutations_sync = 1;`, instrumentID, tdMin, tdMax); err != nil {
		return res, fmt.Errorf("delete derived range: %w", err)
	}

	sessionExpr, indexExpr, names := clickhouseSessionExpr(sessions)
	insertSQL := fmt.Sprintf(`
		INSERT INTO bars_30m
		SELECT
		  instrument_id,
		  min(ts_start_utc) - 60 * (min(ct_minute_of_day) - bucket_minute) AS bucket_start_utc,
		  trading_date_ct_int,
		  bucket_minute AS bucket_ct_minute_of_day,
		  argMin(open, ct_minute_of_day)  AS open,
		  max(high)                       AS high,
		  min(low)                        AS low,
		  argMax(close, ct_minute_of_day) AS close,
		  sum(volume)                     AS volume,
		  sum(trades_count)               AS trades_count,
		  toInt32(count())                AS bar_count_1m,
		  toUInt8(count() = 30)           AS is_complete,
		  %s AS session,
		  %s AS period_index,
		  ? AS derived_from_import_id
		FROM bars_1m
		WHERE instrument_id = ? AND trading_date_ct_int BETWEEN ? AND ?
		GROUP BY instrument_id, trading_date_ct_int,
		         ct_minute_of_day - (ct_minute_of_day %% 30) AS bucket_minute;`,
		sessionExpr, indexExpr)

	args := append(names, importID, instrumentID, tdMin, tdMax)
	if _, err := t.db.ExecContext(ctx, insertSQL, args...); err != nil {
		return res, fmt.Errorf("insert derived range: %w", err)
	}

	if err := t.db.QueryRowContext(ctx, `
		SELECT count() FROM bars_30m
		WHERE instrument_id = ? AND trading_date_ct_int BETWEEN ? AND ?;`,
		instrumentID, tdMin, tdMax).Scan(&res.Inserted); err != nil {
		return res, fmt.Errorf("count rebuilt range: %w", err)
	}
	return res, nil
}

// clickhouseSessionExpr builds multiIf expressions labeling each bucket
// with its window name and wrap-aware period index. Bounds are ints and
// inlined; names bind as leading parameters.
func clickhouseSessionExpr(sessions []models.WindowSpec) (sessionExpr, indexExpr string, names []any) {
	if len(sessions) == 0 {
		return "'OTHER'", "toInt32(bucket_minute / 30)", nil
	}
	var sb, ib strings.Builder
	sb.WriteString("multiIf(")
	ib.WriteString("multiIf(")
	for _, w := range sessions {
		var cond string
		if w.SpansMidnight() {
			cond = fmt.Sprintf("bucket_minute >= %d OR bucket_minute <= %d", w.StartMinuteCT, w.EndMinuteCT)
		} else {
			cond = fmt.Sprintf("bucket_minute BETWEEN %d AND %d", w.StartMinuteCT, w.EndMinuteCT)
		}
		names = append(names, w.Name)
		fmt.Fprintf(&sb, "%s, ?, ", cond)
		fmt.Fprintf(&ib, "%s, toInt32(((bucket_minute - %d + 1440) %% 1440) / 30), ", cond, w.StartMinuteCT)
	}
	sb.WriteString("'OTHER')")
	ib.WriteString("toInt32(bucket_minute / 30))")
	return sb.String(), ib.String(), names
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func prepend(head int64, tail []int64) []any {
	out := make([]any, 0, len(tail)+1)
	out = append(out, head)
	for _, v := range tail {
		out = append(out, v)
	}
	return out
}

// --- Reader ---

func (s *ClickHouseStore) RecentImports(ctx context.Context, limit int) ([]models.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT import_id, instrument_id, source_name, source_hash, input_timezone,
		       bar_interval_seconds, merge_policy, started_at_utc, finished_at_utc,
		       ts_min_utc, ts_max_utc, row_count_read, row_count_inserted,
		       row_count_updated, row_count_rejected, status, error_summary
		FROM imports
		ORDER BY import_id DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query imports: %w", err)
	}
	defer rows.Close()

	var out []models.ImportRun
	for rows.Next() {
		var r models.ImportRun
		if err := rows.Scan(
			&r.ImportID, &r.InstrumentID, &r.SourceName, &r.SourceHash, &r.InputTimezone,
			&r.BarIntervalSeconds, &r.MergePolicy, &r.StartedAtUTC, &r.FinishedAtUTC,
			&r.TsMinUTC, &r.TsMaxUTC, &r.RowCountRead, &r.RowCountInserted,
			&r.RowCountUpdated, &r.RowCountRejected, &r.Status, &r.ErrorSummary,
		); err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) instrumentID(ctx context.Context, symbol string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT instrument_id FROM instruments WHERE symbol = ? LIMIT 1;`, symbol).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup instrument %q: %w", symbol, err)
	}
	return id, true, nil
}

func (s *ClickHouseStore) Bars1m(ctx context.Context, symbol string, tdMin, tdMax int) ([]models.Bar1m, error) {
	id, ok, err := s.instrumentID(ctx, symbol)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument_id, ts_start_utc, trading_date_ct_int, ct_minute_of_day,
		       open, high, low, close, volume, trades_count, source_import_id
		FROM bars_1m
		WHERE instrument_id = ? AND trading_date_ct_int BETWEEN ? AND ?
		ORDER BY ts_start_utc;`, id, tdMin, tdMax)
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

func (s *ClickHouseStore) Bars30m(ctx context.Context, symbol string, tdMin, tdMax int) ([]models.Bar30m, error) {
	id, ok, err := s.instrumentID(ctx, symbol)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT instrument_id, bucket_start_utc, trading_date_ct_int, bucket_ct_minute_of_day,
		       open, high, low, close, volume, trades_count,
		       bar_count_1m, is_complete, session, period_index, derived_from_import_id
		FROM bars_30m
		WHERE instrument_id = ? AND trading_date_ct_int BETWEEN ? AND ?
		ORDER BY bucket_start_utc;`, id, tdMin, tdMax)
	if err != nil {
		return nil, fmt.Errorf("query bars_30m: %w", err)
	}
	defer rows.Close()

	var out []models.Bar30m
	for rows.Next() {
		var b models.Bar30m
		var complete uint8
		if err := rows.Scan(
			&b.InstrumentID, &b.BucketStartUTC, &b.TradingDateCT, &b.BucketMinuteOfDay,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradesCount,
			&b.BarCount1m, &complete, &b.Session, &b.PeriodIndex, &b.DerivedFromImportID,
		); err != nil {
			return nil, fmt.Errorf("scan bar_30m: %w", err)
		}
		b.IsComplete = complete != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) CountBarsInWindow(ctx context.Context, symbol string, tdMin, tdMax int, w models.WindowSpec, resolution string) (int, error) {
	var table, minuteCol string
	switch resolution {
	case "1m":
		table, minuteCol = "bars_1m", "ct_minute_of_day"
	case "30m":
		table, minuteCol = "bars_30m", "bucket_ct_minute_of_day"
	default:
		return 0, fmt.Errorf("unsupported resolution %q", resolution)
	}

	id, ok, err := s.instrumentID(ctx, symbol)
	if err != nil || !ok {
		return 0, err
	}

	minuteCond := fmt.Sprintf("%s BETWEEN ? AND ?", minuteCol)
	if w.SpansMidnight() {
		minuteCond = fmt.Sprintf("(%s >= ? OR %s <= ?)", minuteCol, minuteCol)
	}

	var count int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT count() FROM %s
		WHERE instrument_id = ? AND trading_date_ct_int BETWEEN ? AND ? AND %s;`, table, minuteCond),
		id, tdMin, tdMax, w.StartMinuteCT, w.EndMinuteCT,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count bars in window: %w", err)
	}
	return count, nil
}
