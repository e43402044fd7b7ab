package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ESStats/internal/domain/models"
	"ESStats/internal/domain/repository"
)

// MemoryStore implements the Store contract entirely in-process. It is the
// reference implementation of the merge and rebuild semantics: the SQL
// backends must agree with it. Selected with backend "memory" for dry runs
// and used throughout the pipeline tests.
type MemoryStore struct {
	mu sync.Mutex

	instruments    map[string]int64
	nextInstrument int64
	imports        map[int64]models.ImportRun
	nextImport     int64
	bars1m         map[barKey]models.Bar1m
	bars30m        map[barKey]models.Bar30m
}

// barKey is the primary key of both bar tables; Ts is the minute start for
// 1m rows and the bucket start for 30m rows.
type barKey struct {
	Instrument int64
	Ts         int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instruments: make(map[string]int64),
		imports:     make(map[int64]models.ImportRun),
		bars1m:      make(map[barKey]models.Bar1m),
		bars30m:     make(map[barKey]models.Bar30m),
	}
}

func (s *MemoryStore) Init(ctx context.Context) error { return nil }

func (s *MemoryStore) Health(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// RunInTransaction snapshots all state and restores it when fn fails, so a
// failed import leaves nothing observable, matching the SQL backends.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&memoryTx{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	instruments    map[string]int64
	nextInstrument int64
	imports        map[int64]models.ImportRun
	nextImport     int64
	bars1m         map[barKey]models.Bar1m
	bars30m        map[barKey]models.Bar30m
}

func (s *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		instruments:    make(map[string]int64, len(s.instruments)),
		nextInstrument: s.nextInstrument,
		imports:        make(map[int64]models.ImportRun, len(s.imports)),
		nextImport:     s.nextImport,
		bars1m:         make(map[barKey]models.Bar1m, len(s.bars1m)),
		bars30m:        make(map[barKey]models.Bar30m, len(s.bars30m)),
	}
	for k, v := range s.instruments {
		snap.instruments[k] = v
	}
	for k, v := range s.imports {
		snap.imports[k] = v
	}
	for k, v := range s.bars1m {
		snap.bars1m[k] = v
	}
	for k, v := range s.bars30m {
		snap.bars30m[k] = v
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.instruments = snap.instruments
	s.nextInstrument = snap.nextInstrument
	s.imports = snap.imports
	s.nextImport = snap.nextImport
	s.bars1m = snap.bars1m
	s.bars30m = snap.bars30m
}

// memoryTx applies writes directly; rollback is the store's snapshot.
type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) EnsureInstrument(ctx context.Context, symbol string) (int64, error) {
	if symbol == "" {
		return 0, fmt.Errorf("symbol required")
	}
	s := t.store
	if id, ok := s.instruments[symbol]; ok {
		return id, nil
	}
	s.nextInstrument++
	s.instruments[symbol] = s.nextInstrument
	return s.nextInstrument, nil
}

func (t *memoryTx) InsertImportRun(ctx context.Context, run *models.ImportRun) (int64, error) {
	s := t.store
	s.nextImport++
	run.ImportID = s.nextImport
	s.imports[run.ImportID] = *run
	return run.ImportID, nil
}

func (t *memoryTx) FinalizeImportRun(ctx context.Context, run *models.ImportRun) error {
	s := t.store
	stored, ok := s.imports[run.ImportID]
	if !ok {
		return fmt.Errorf("import run %d not found", run.ImportID)
	}
	stored.FinishedAtUTC = run.FinishedAtUTC
	stored.TsMinUTC = run.TsMinUTC
	stored.TsMaxUTC = run.TsMaxUTC
	stored.RowCountRead = run.RowCountRead
	stored.RowCountInserted = run.RowCountInserted
	stored.RowCountUpdated = run.RowCountUpdated
	stored.RowCountRejected = run.RowCountRejected
	stored.Status = run.Status
	stored.ErrorSummary = run.ErrorSummary
	s.imports[run.ImportID] = stored
	return nil
}

// dedupeBars collapses duplicate (instrument, ts_start_utc) keys within one
// batch, keeping the later occurrence. Without this a repeated key would be
// counted once as inserted and again as updated or skipped, breaking the
// counts-sum-to-distinct-keys relationship every backend promises.
func dedupeBars(bars []models.Bar1m) []models.Bar1m {
	index := make(map[barKey]int, len(bars))
	out := make([]models.Bar1m, 0, len(bars))
	for _, b := range bars {
		key := barKey{Instrument: b.InstrumentID, Ts: b.TsStartUTC}
		if i, ok := index[key]; ok {
			out[i] = b
			continue
		}
		index[key] = len(out)
		out = append(out, b)
	}
	return out
}

func (t *memoryTx) UpsertBars1m(ctx context.Context, bars []models.Bar1m, policy models.MergePolicy) (repository.UpsertResult, error) {
	if policy != models.MergeSkip && policy != models.MergeOverwrite {
		return repository.UpsertResult{}, fmt.Errorf("merge policy must be 'skip' or 'overwrite', got %q", policy)
	}
	if len(bars) == 0 {
		return repository.UpsertResult{}, nil
	}
	bars = dedupeBars(bars)
	s := t.store

	// Counts come from the key relationship before any mutation.
	var res repository.UpsertResult
	for _, b := range bars {
		key := barKey{Instrument: b.InstrumentID, Ts: b.TsStartUTC}
		if _, exists := s.bars1m[key]; !exists {
			res.Inserted++
		} else if policy == models.MergeOverwrite {
			res.Updated++
		} else {
			res.Skipped++
		}
	}

	for _, b := range bars {
		key := barKey{Instrument: b.InstrumentID, Ts: b.TsStartUTC}
		if _, exists := s.bars1m[key]; exists && policy == models.MergeSkip {
			continue
		}
		s.bars1m[key] = b
	}
	return res, nil
}

func (t *memoryTx) RebuildBars30m(ctx context.Context, instrumentID int64, tdMin, tdMax int, importID int64, sessions []models.WindowSpec) (repository.RebuildResult, error) {
	s := t.store

	var res repository.RebuildResult
	for key, b := range s.bars30m {
		if b.InstrumentID == instrumentID && b.TradingDateCT >= tdMin && b.TradingDateCT <= tdMax {
			delete(s.bars30m, key)
			res.Deleted++
		}
	}

	type bucketID struct {
		TradingDate int
		Minute      int
	}
	groups := make(map[bucketID][]models.Bar1m)
	for _, b := range s.bars1m {
		if b.InstrumentID != instrumentID || b.TradingDateCT < tdMin || b.TradingDateCT > tdMax {
			continue
		}
		id := bucketID{TradingDate: b.TradingDateCT, Minute: models.BucketMinute(b.CTMinuteOfDay)}
		groups[id] = append(groups[id], b)
	}

	for id, members := range groups {
		sort.Slice(members, func(i, j int) bool {
			return members[i].CTMinuteOfDay < members[j].CTMinuteOfDay
		})
		first, last := members[0], members[len(members)-1]

		agg := models.Bar30m{
			InstrumentID: instrumentID,
			// Align the bucket start to its boundary even when the first
			// minute is missing.
			BucketStartUTC:      first.TsStartUTC - 60*int64(first.CTMinuteOfDay-id.Minute),
			TradingDateCT:       id.TradingDate,
			BucketMinuteOfDay:   id.Minute,
			Open:                first.Open,
			Close:               last.Close,
			High:                members[0].High,
			Low:                 members[0].Low,
			BarCount1m:          len(members),
			IsComplete:          len(members) == 30,
			DerivedFromImportID: importID,
		}
		for _, m := range members {
			if m.High > agg.High {
				agg.High = m.High
			}
			if m.Low < agg.Low {
				agg.Low = m.Low
			}
			agg.Volume += m.Volume
			agg.TradesCount += m.TradesCount
		}
		agg.Session, agg.PeriodIndex = SessionForBucket(id.Minute, sessions)

		s.bars30m[barKey{Instrument: instrumentID, Ts: agg.BucketStartUTC}] = agg
		res.Inserted++
	}
	return res, nil
}

// SessionForBucket labels a 30-minute bucket with the configured window
// containing its start minute, or "OTHER". The period index is the
// wrap-aware bucket ordinal from the window start (or from midnight for
// unlabeled buckets).
func SessionForBucket(bucketMinute int, sessions []models.WindowSpec) (string, int) {
	for _, w := range sessions {
		if w.Contains(bucketMinute) {
			return w.Name, w.OffsetMinutes(bucketMinute) / 30
		}
	}
	return "OTHER", bucketMinute / 30
}

// --- Reader ---

func (s *MemoryStore) RecentImports(ctx context.Context, limit int) ([]models.ImportRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ImportRun, 0, len(s.imports))
	for _, run := range s.imports {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImportID > out[j].ImportID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) instrumentID(symbol string) (int64, bool) {
	id, ok := s.instruments[symbol]
	return id, ok
}

func (s *MemoryStore) Bars1m(ctx context.Context, symbol string, tdMin, tdMax int) ([]models.Bar1m, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.instrumentID(symbol)
	if !ok {
		return nil, nil
	}
	var out []models.Bar1m
	for _, b := range s.bars1m {
		if b.InstrumentID == id && b.TradingDateCT >= tdMin && b.TradingDateCT <= tdMax {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsStartUTC < out[j].TsStartUTC })
	return out, nil
}

func (s *MemoryStore) Bars30m(ctx context.Context, symbol string, tdMin, tdMax int) ([]models.Bar30m, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.instrumentID(symbol)
	if !ok {
		return nil, nil
	}
	var out []models.Bar30m
	for _, b := range s.bars30m {
		if b.InstrumentID == id && b.TradingDateCT >= tdMin && b.TradingDateCT <= tdMax {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStartUTC < out[j].BucketStartUTC })
	return out, nil
}

func (s *MemoryStore) CountBarsInWindow(ctx context.Context, symbol string, tdMin, tdMax int, w models.WindowSpec, resolution string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.instrumentID(symbol)
	if !ok {
		return 0, nil
	}

	count := 0
	switch resolution {
	case "1m":
		for _, b := range s.bars1m {
			if b.InstrumentID == id && b.TradingDateCT >= tdMin && b.TradingDateCT <= tdMax && w.Contains(b.CTMinuteOfDay) {
				count++
			}
		}
	case "30m":
		for _, b := range s.bars30m {
			if b.InstrumentID == id && b.TradingDateCT >= tdMin && b.TradingDateCT <= tdMax && w.Contains(b.BucketMinuteOfDay) {
				count++
			}
		}
	default:
		return 0, fmt.Errorf("unsupported resolution %q", resolution)
	}
	return count, nil
}
