package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ESStats/internal/domain/models"
	drepo "ESStats/internal/domain/repository"
	"ESStats/internal/repository"
	"ESStats/internal/usecase"
	"ESStats/pkg/cache"
	applogger "ESStats/pkg/logger"

	"github.com/labstack/echo/v4"
)

func testEnv(t *testing.T) (*echo.Echo, *repository.MemoryStore) {
	t.Helper()

	log, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	rth, err := models.NewWindowSpec(models.AnchorTradingDateCT, 510, 959, "RTH")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	on, err := models.NewWindowSpec(models.AnchorTradingDateCT, 1020, 509, "ON")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	policy, err := models.NewMissingPolicy(models.PolicyAllowMissingUpTo, 0.1, 1.0)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	store := repository.NewMemoryStore()
	analyzer := usecase.NewAnalyzer(store, log, rth, on, policy)
	h := NewStatsHandler(log, store, analyzer, cache.NewMemoryCache(), time.Minute)

	e := echo.New()
	h.RegisterRoutes(e)
	return e, store
}

// seedDay stores one 1m bar per RTH minute of the trading date and
// rebuilds the derived buckets.
func seedDay(t *testing.T, store *repository.MemoryStore, tradingDate int) {
	t.Helper()
	ctx := context.Background()
	rth, _ := models.NewWindowSpec(models.AnchorTradingDateCT, 510, 959, "RTH")
	on, _ := models.NewWindowSpec(models.AnchorTradingDateCT, 1020, 509, "ON")

	err := store.RunInTransaction(ctx, func(tx drepo.Tx) error {
		id, err := tx.EnsureInstrument(ctx, "ES")
		if err != nil {
			return err
		}
		var bars []models.Bar1m
		base := int64(1735800000)
		for m := 510; m <= 959; m++ {
			bars = append(bars, models.Bar1m{
				InstrumentID:  id,
				TsStartUTC:    base + int64(m)*60,
				TradingDateCT: tradingDate,
				CTMinuteOfDay: m,
				Open:          1, High: 2, Low: 0.5, Close: 1.5,
				Volume: 1, TradesCount: 1,
			})
		}
		if _, err := tx.UpsertBars1m(ctx, bars, models.MergeSkip); err != nil {
			return err
		}
		_, err = tx.RebuildBars30m(ctx, id, tradingDate, tradingDate, 1, []models.WindowSpec{rth, on})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func doGET(t *testing.T, e *echo.Echo, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestHealthz(t *testing.T) {
	e, _ := testEnv(t)

	rec := doGET(t, e, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Status != http.StatusOK {
		t.Fatalf("envelope status = %d", env.Status)
	}
}

func TestBarsRequiresSymbol(t *testing.T) {
	e, _ := testEnv(t)

	rec := doGET(t, e, "/api/bars/1m?from=20250102&to=20250102")
	if env := decodeEnvelope(t, rec); env.Status != http.StatusBadRequest {
		t.Fatalf("envelope status = %d, want 400", env.Status)
	}
}

func TestBars30mReturnsRebuiltBuckets(t *testing.T) {
	e, store := testEnv(t)
	seedDay(t, store, 20250102)

	rec := doGET(t, e, "/api/bars/30m?symbol=ES&from=20250102&to=20250102")
	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusOK {
		t.Fatalf("envelope status = %d (%s)", env.Status, rec.Body.String())
	}

	var list struct {
		Rows  []models.Bar30m `json:"rows"`
		Total int64           `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Total != 15 || len(list.Rows) != 15 {
		t.Fatalf("total = %d, rows = %d, want 15 RTH buckets", list.Total, len(list.Rows))
	}
	first := list.Rows[0]
	if first.BucketMinuteOfDay != 510 || first.Session != "RTH" || first.PeriodIndex != 0 {
		t.Fatalf("first bucket = %+v", first)
	}
	if !first.IsComplete {
		t.Fatalf("full bucket should be complete")
	}
}

func TestImportsListsRecentRuns(t *testing.T) {
	e, store := testEnv(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx drepo.Tx) error {
		id, err := tx.EnsureInstrument(ctx, "ES")
		if err != nil {
			return err
		}
		run := models.ImportRun{InstrumentID: id, SourceName: "day1.csv", Status: models.StatusFailed}
		if _, err := tx.InsertImportRun(ctx, &run); err != nil {
			return err
		}
		run.Status = models.StatusSuccess
		return tx.FinalizeImportRun(ctx, &run)
	})
	if err != nil {
		t.Fatalf("seed run: %v", err)
	}

	rec := doGET(t, e, "/api/imports?limit=10")
	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusOK {
		t.Fatalf("envelope status = %d", env.Status)
	}
	var list struct {
		Rows []models.ImportRun `json:"rows"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Rows) != 1 || list.Rows[0].SourceName != "day1.csv" {
		t.Fatalf("rows = %+v", list.Rows)
	}
	if list.Rows[0].Status != models.StatusSuccess {
		t.Fatalf("status = %s", list.Rows[0].Status)
	}
}

func TestCoverageReportsBothWindows(t *testing.T) {
	e, store := testEnv(t)
	seedDay(t, store, 20250102)

	rec := doGET(t, e, "/api/coverage?symbol=ES&from=20250102&to=20250102")
	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusOK {
		t.Fatalf("envelope status = %d (%s)", env.Status, rec.Body.String())
	}

	var report usecase.CoverageReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.X.IsComplete || report.X.ObservedBarCount != 15 {
		t.Fatalf("x = %+v", report.X)
	}
	// Y tolerance is 1.0 in the test policy, so an empty overnight passes.
	if !report.Usable {
		t.Fatalf("report should be usable")
	}

	// Second call is served from cache and must agree.
	rec2 := doGET(t, e, "/api/coverage?symbol=ES&from=20250102&to=20250102")
	if env2 := decodeEnvelope(t, rec2); env2.Status != http.StatusOK {
		t.Fatalf("cached envelope status = %d", env2.Status)
	}
}

func TestCoverageInvertedRangeIsBadRequest(t *testing.T) {
	e, store := testEnv(t)
	seedDay(t, store, 20250102)

	rec := doGET(t, e, "/api/coverage?symbol=ES&from=20250103&to=20250102")
	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("envelope status = %d, want 400 (%s)", env.Status, rec.Body.String())
	}

	var appErrs []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &appErrs); err != nil {
		t.Fatalf("decode errors: %v", err)
	}
	if len(appErrs) != 1 || appErrs[0].Code != "ERR_BAD_REQUEST" {
		t.Fatalf("errors = %+v", appErrs)
	}
}
