package repository

import (
	"context"
	"fmt"
	"testing"

	"ESStats/internal/domain/models"
	"ESStats/internal/domain/repository"
)

// seedBar builds the i-th minute of a deterministic ramp starting at
// 08:30 CT (minute 510). Prices encode the position so aggregate fields
// are easy to assert.
func seedBar(instrumentID int64, i int) models.Bar1m {
	const baseTs = int64(1735741800) // arbitrary aligned minute start
	return models.Bar1m{
		InstrumentID:   instrumentID,
		TsStartUTC:     baseTs + int64(i)*60,
		TradingDateCT:  20250102,
		CTMinuteOfDay:  510 + i,
		Open:           100 + float64(i),
		High:           101 + float64(i),
		Low:            99 + float64(i),
		Close:          100.5 + float64(i),
		Volume:         10,
		TradesCount:    2,
		SourceImportID: 1,
	}
}

func seedBatch(instrumentID int64, n int) []models.Bar1m {
	bars := make([]models.Bar1m, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, seedBar(instrumentID, i))
	}
	return bars
}

func sessionWindows(t *testing.T) []models.WindowSpec {
	t.Helper()
	rth, err := models.NewWindowSpec(models.AnchorTradingDateCT, 510, 959, "RTH")
	if err != nil {
		t.Fatalf("rth window: %v", err)
	}
	on, err := models.NewWindowSpec(models.AnchorTradingDateCT, 1020, 509, "ON")
	if err != nil {
		t.Fatalf("on window: %v", err)
	}
	return []models.WindowSpec{rth, on}
}

func TestUpsertCountsSkipThenOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, err := tx.EnsureInstrument(ctx, "ES")
		if err != nil {
			return err
		}

		res, err := tx.UpsertBars1m(ctx, seedBatch(id, 3), models.MergeSkip)
		if err != nil {
			return err
		}
		if res.Inserted != 3 || res.Updated != 0 || res.Skipped != 0 {
			t.Fatalf("first upsert = %+v, want 3/0/0", res)
		}

		// Same keys again under skip: nothing changes, everything counted.
		res, err = tx.UpsertBars1m(ctx, seedBatch(id, 3), models.MergeSkip)
		if err != nil {
			return err
		}
		if res.Inserted != 0 || res.Updated != 0 || res.Skipped != 3 {
			t.Fatalf("skip re-upsert = %+v, want 0/0/3", res)
		}

		changed := seedBatch(id, 3)
		for i := range changed {
			changed[i].Close = 500
		}
		res, err = tx.UpsertBars1m(ctx, changed, models.MergeOverwrite)
		if err != nil {
			return err
		}
		if res.Inserted != 0 || res.Updated != 3 || res.Skipped != 0 {
			t.Fatalf("overwrite = %+v, want 0/3/0", res)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	bars, err := store.Bars1m(ctx, "ES", 20250102, 20250102)
	if err != nil {
		t.Fatalf("bars1m: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("stored bars = %d, want 3", len(bars))
	}
	for _, b := range bars {
		if b.Close != 500 {
			t.Fatalf("overwrite should replace close, got %v at minute %d", b.Close, b.CTMinuteOfDay)
		}
	}
}

func TestSkipPolicyLeavesExistingRowUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, _ := tx.EnsureInstrument(ctx, "ES")
		if _, err := tx.UpsertBars1m(ctx, seedBatch(id, 1), models.MergeSkip); err != nil {
			return err
		}
		changed := seedBatch(id, 1)
		changed[0].Close = 999
		_, err := tx.UpsertBars1m(ctx, changed, models.MergeSkip)
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	bars, _ := store.Bars1m(ctx, "ES", 20250102, 20250102)
	if bars[0].Close != 100.5 {
		t.Fatalf("skip must not modify the stored row, close = %v", bars[0].Close)
	}
}

func TestUpsertCollapsesDuplicateKeysWithinBatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, err := tx.EnsureInstrument(ctx, "ES")
		if err != nil {
			return err
		}

		// Same key twice in one batch: one distinct key, one insert, and
		// the later row's fields win.
		dup := seedBar(id, 0)
		dup.Close = 777
		batch := []models.Bar1m{seedBar(id, 0), dup}

		res, err := tx.UpsertBars1m(ctx, batch, models.MergeSkip)
		if err != nil {
			return err
		}
		if res.Inserted != 1 || res.Updated != 0 || res.Skipped != 0 {
			t.Fatalf("duplicate-key upsert = %+v, want 1/0/0", res)
		}

		// Against stored state under skip the key counts once, not twice.
		res, err = tx.UpsertBars1m(ctx, batch, models.MergeSkip)
		if err != nil {
			return err
		}
		if res.Inserted != 0 || res.Updated != 0 || res.Skipped != 1 {
			t.Fatalf("duplicate-key re-upsert = %+v, want 0/0/1", res)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	bars, _ := store.Bars1m(ctx, "ES", 20250102, 20250102)
	if len(bars) != 1 {
		t.Fatalf("stored bars = %d, want 1", len(bars))
	}
	if bars[0].Close != 777 {
		t.Fatalf("later duplicate must win, close = %v", bars[0].Close)
	}
}

func TestUpsertRejectsUnknownPolicy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, _ := tx.EnsureInstrument(ctx, "ES")
		_, err := tx.UpsertBars1m(ctx, seedBatch(id, 1), models.MergePolicy("merge"))
		return err
	})
	if err == nil {
		t.Fatalf("expected error for unknown merge policy")
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sentinel := fmt.Errorf("boom")
	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, _ := tx.EnsureInstrument(ctx, "ES")
		if _, err := tx.UpsertBars1m(ctx, seedBatch(id, 5), models.MergeSkip); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("transaction error = %v, want sentinel", err)
	}

	bars, _ := store.Bars1m(ctx, "ES", 20250102, 20250102)
	if len(bars) != 0 {
		t.Fatalf("failed transaction must leave no bars, got %d", len(bars))
	}
	runs, _ := store.RecentImports(ctx, 10)
	if len(runs) != 0 {
		t.Fatalf("failed transaction must leave no state, got %d imports", len(runs))
	}
}

func TestRebuildAggregatesBuckets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	windows := sessionWindows(t)

	// 32 consecutive minutes from 08:30 CT: one full bucket and a 2-bar tail.
	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, _ := tx.EnsureInstrument(ctx, "ES")
		if _, err := tx.UpsertBars1m(ctx, seedBatch(id, 32), models.MergeSkip); err != nil {
			return err
		}
		res, err := tx.RebuildBars30m(ctx, id, 20250102, 20250102, 7, windows)
		if err != nil {
			return err
		}
		if res.Deleted != 0 || res.Inserted != 2 {
			t.Fatalf("rebuild = %+v, want deleted 0 inserted 2", res)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	buckets, err := store.Bars30m(ctx, "ES", 20250102, 20250102)
	if err != nil {
		t.Fatalf("bars30m: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(buckets))
	}

	full := buckets[0]
	if full.BucketMinuteOfDay != 510 || full.BarCount1m != 30 || !full.IsComplete {
		t.Fatalf("first bucket = %+v, want complete bucket at minute 510", full)
	}
	if full.Open != 100 || full.Close != 129.5 || full.High != 130 || full.Low != 99 {
		t.Fatalf("first bucket OHLC = %v/%v/%v/%v", full.Open, full.High, full.Low, full.Close)
	}
	if full.Volume != 300 || full.TradesCount != 60 {
		t.Fatalf("first bucket sums = volume %d trades %d", full.Volume, full.TradesCount)
	}
	if full.Session != "RTH" || full.PeriodIndex != 0 {
		t.Fatalf("first bucket session = %s/%d, want RTH/0", full.Session, full.PeriodIndex)
	}
	if full.DerivedFromImportID != 7 {
		t.Fatalf("derived_from_import_id = %d, want 7", full.DerivedFromImportID)
	}

	tail := buckets[1]
	if tail.BucketMinuteOfDay != 540 || tail.BarCount1m != 2 || tail.IsComplete {
		t.Fatalf("second bucket = %+v, want incomplete 2-bar bucket at minute 540", tail)
	}
	if tail.Open != 130 || tail.Close != 131.5 || tail.High != 132 || tail.Low != 129 {
		t.Fatalf("second bucket OHLC = %v/%v/%v/%v", tail.Open, tail.High, tail.Low, tail.Close)
	}
	if tail.Session != "RTH" || tail.PeriodIndex != 1 {
		t.Fatalf("second bucket session = %s/%d, want RTH/1", tail.Session, tail.PeriodIndex)
	}
	if tail.BucketStartUTC != full.BucketStartUTC+1800 {
		t.Fatalf("bucket starts must be 30 minutes apart, got %d and %d", full.BucketStartUTC, tail.BucketStartUTC)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	windows := sessionWindows(t)

	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, _ := tx.EnsureInstrument(ctx, "ES")
		if _, err := tx.UpsertBars1m(ctx, seedBatch(id, 32), models.MergeSkip); err != nil {
			return err
		}
		if _, err := tx.RebuildBars30m(ctx, id, 20250102, 20250102, 1, windows); err != nil {
			return err
		}
		res, err := tx.RebuildBars30m(ctx, id, 20250102, 20250102, 2, windows)
		if err != nil {
			return err
		}
		if res.Deleted != 2 || res.Inserted != 2 {
			t.Fatalf("second rebuild = %+v, want deleted 2 inserted 2", res)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	buckets, _ := store.Bars30m(ctx, "ES", 20250102, 20250102)
	if len(buckets) != 2 {
		t.Fatalf("buckets after second rebuild = %d, want 2", len(buckets))
	}
	for _, b := range buckets {
		if b.DerivedFromImportID != 2 {
			t.Fatalf("rebuild must retag provenance, got import %d", b.DerivedFromImportID)
		}
	}
}

func TestRebuildAlignsBucketStartWhenFirstMinuteMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Only minutes 515..517: the bucket start must still be aligned to 510.
	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, _ := tx.EnsureInstrument(ctx, "ES")
		var bars []models.Bar1m
		for i := 5; i < 8; i++ {
			bars = append(bars, seedBar(id, i))
		}
		if _, err := tx.UpsertBars1m(ctx, bars, models.MergeSkip); err != nil {
			return err
		}
		_, err := tx.RebuildBars30m(ctx, id, 20250102, 20250102, 1, nil)
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	buckets, _ := store.Bars30m(ctx, "ES", 20250102, 20250102)
	if len(buckets) != 1 {
		t.Fatalf("buckets = %d, want 1", len(buckets))
	}
	b := buckets[0]
	if b.BucketMinuteOfDay != 510 {
		t.Fatalf("bucket minute = %d, want 510", b.BucketMinuteOfDay)
	}
	wantStart := seedBar(1, 5).TsStartUTC - 5*60
	if b.BucketStartUTC != wantStart {
		t.Fatalf("bucket start = %d, want %d", b.BucketStartUTC, wantStart)
	}
	if b.Open != 105 || b.Close != 107.5 {
		t.Fatalf("partial bucket OHLC = %v/%v", b.Open, b.Close)
	}
}

func TestSessionForBucket(t *testing.T) {
	windows := sessionWindows(t)

	cases := []struct {
		minute  int
		session string
		period  int
	}{
		{510, "RTH", 0},
		{600, "RTH", 3},
		{930, "RTH", 14},
		{1020, "ON", 0},
		{0, "ON", 14},   // wraps past midnight
		{480, "ON", 30}, // last ON bucket
		{990, "OTHER", 33},
	}
	for _, c := range cases {
		session, period := SessionForBucket(c.minute, windows)
		if session != c.session || period != c.period {
			t.Fatalf("bucket %d = %s/%d, want %s/%d", c.minute, session, period, c.session, c.period)
		}
	}
}

func TestCountBarsInWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	windows := sessionWindows(t)

	err := store.RunInTransaction(ctx, func(tx repository.Tx) error {
		id, _ := tx.EnsureInstrument(ctx, "ES")
		if _, err := tx.UpsertBars1m(ctx, seedBatch(id, 32), models.MergeSkip); err != nil {
			return err
		}
		_, err := tx.RebuildBars30m(ctx, id, 20250102, 20250102, 1, windows)
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	rth := windows[0]
	n, err := store.CountBarsInWindow(ctx, "ES", 20250102, 20250102, rth, "1m")
	if err != nil {
		t.Fatalf("count 1m: %v", err)
	}
	if n != 32 {
		t.Fatalf("1m count = %d, want 32", n)
	}

	n, err = store.CountBarsInWindow(ctx, "ES", 20250102, 20250102, rth, "30m")
	if err != nil {
		t.Fatalf("count 30m: %v", err)
	}
	if n != 2 {
		t.Fatalf("30m count = %d, want 2", n)
	}

	if _, err := store.CountBarsInWindow(ctx, "ES", 20250102, 20250102, rth, "5m"); err == nil {
		t.Fatalf("expected error for unsupported resolution")
	}
}
