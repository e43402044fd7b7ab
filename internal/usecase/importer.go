package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ESStats/internal/domain/models"
	drepo "ESStats/internal/domain/repository"
	"ESStats/internal/service/ingest"
	"ESStats/internal/service/timefield"
	"ESStats/pkg/cache"
	"ESStats/pkg/logger"
)

// Importer runs the CSV import pipeline: parse, resolve time fields,
// upsert 1-minute bars and rebuild the touched 30-minute range, all inside
// one store transaction with an audit row.
type Importer struct {
	store    drepo.Store
	audit    drepo.AuditPublisher
	metrics  drepo.Metrics
	cache    cache.Service
	log      *logger.Logger
	sessions []models.WindowSpec
}

// NewImporter creates a new Importer instance. Sessions label the rebuilt
// 30-minute buckets; nil leaves every bucket labeled OTHER. The cache, when
// present, has the instrument's coverage entries invalidated after a
// committed run; nil skips invalidation.
func NewImporter(
	store drepo.Store,
	audit drepo.AuditPublisher,
	metrics drepo.Metrics,
	cacheSvc cache.Service,
	log *logger.Logger,
	sessions []models.WindowSpec,
) *Importer {
	return &Importer{
		store:    store,
		audit:    audit,
		metrics:  metrics,
		cache:    cacheSvc,
		log:      log,
		sessions: sessions,
	}
}

// ImportRequest describes one import invocation.
type ImportRequest struct {
	FilePath           string
	Symbol             string
	InputTimezone      string
	MergePolicy        models.MergePolicy
	BarIntervalSeconds int
}

// ImportSummary is the outcome of a committed import run.
type ImportSummary struct {
	Run     models.ImportRun    `json:"run"`
	Upsert  drepo.UpsertResult  `json:"upsert"`
	Rebuild drepo.RebuildResult `json:"rebuild"`
	Issues  []ingest.Issue      `json:"issues,omitempty"`
}

// ImportCSV runs the full pipeline for one file. File-fatal problems
// (unreadable file, missing columns, zero usable rows, unknown timezone)
// return before any store write; row-level problems reject the row and
// continue.
func (im *Importer) ImportCSV(ctx context.Context, req ImportRequest) (*ImportSummary, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if req.MergePolicy == "" {
		req.MergePolicy = models.MergeSkip
	}
	if _, err := models.ParseMergePolicy(string(req.MergePolicy)); err != nil {
		return nil, err
	}
	if req.BarIntervalSeconds == 0 {
		req.BarIntervalSeconds = 60
	}

	start := time.Now()

	parsed, err := ingest.ReadFile(req.FilePath)
	if err != nil {
		im.metrics.RecordError("parse")
		return nil, fmt.Errorf("read %s: %w", req.FilePath, err)
	}

	resolver, err := timefield.NewResolver(req.InputTimezone)
	if err != nil {
		im.metrics.RecordError("timezone")
		return nil, err
	}

	bars, issues := im.resolveBatch(resolver, parsed.Bars)
	allIssues := append(parsed.Issues, issues...)
	rejected := parsed.RowCountRejected + len(issues)
	if len(bars) == 0 {
		im.metrics.RecordError("parse")
		return nil, &ingest.ValidationError{Issues: allIssues}
	}

	hash, err := fileSHA256(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", req.FilePath, err)
	}

	tsMin, tsMax := bars[0].TsStartUTC, bars[0].TsStartUTC
	tdMin, tdMax := bars[0].TradingDateCT, bars[0].TradingDateCT
	for _, b := range bars[1:] {
		if b.TsStartUTC < tsMin {
			tsMin = b.TsStartUTC
		}
		if b.TsStartUTC > tsMax {
			tsMax = b.TsStartUTC
		}
		if b.TradingDateCT < tdMin {
			tdMin = b.TradingDateCT
		}
		if b.TradingDateCT > tdMax {
			tdMax = b.TradingDateCT
		}
	}

	summary := &ImportSummary{Issues: allIssues}
	run := models.ImportRun{
		SourceName:         filepath.Base(req.FilePath),
		SourceHash:         hash,
		InputTimezone:      resolver.InputTimezone(),
		BarIntervalSeconds: req.BarIntervalSeconds,
		MergePolicy:        string(req.MergePolicy),
		StartedAtUTC:       start.Unix(),
		Status:             models.StatusFailed,
	}
	if len(allIssues) > 0 {
		run.ErrorSummary = (&ingest.ValidationError{Issues: allIssues}).Error()
	}

	err = im.store.RunInTransaction(ctx, func(tx drepo.Tx) error {
		instrumentID, err := tx.EnsureInstrument(ctx, req.Symbol)
		if err != nil {
			return err
		}
		run.InstrumentID = instrumentID

		// Audit row goes in first as "failed"; a crash mid-run rolls the
		// whole transaction back, a finished run flips it to "success".
		if _, err := tx.InsertImportRun(ctx, &run); err != nil {
			return err
		}
		for i := range bars {
			bars[i].InstrumentID = instrumentID
			bars[i].SourceImportID = run.ImportID
		}

		upsert, err := tx.UpsertBars1m(ctx, bars, req.MergePolicy)
		if err != nil {
			return err
		}
		summary.Upsert = upsert

		rebuild, err := tx.RebuildBars30m(ctx, instrumentID, tdMin, tdMax, run.ImportID, im.sessions)
		if err != nil {
			return err
		}
		summary.Rebuild = rebuild

		run.FinishedAtUTC = time.Now().Unix()
		run.TsMinUTC = tsMin
		run.TsMaxUTC = tsMax
		run.RowCountRead = parsed.RowCountRead
		run.RowCountInserted = upsert.Inserted
		run.RowCountUpdated = upsert.Updated
		run.RowCountRejected = rejected
		run.Status = models.StatusSuccess
		return tx.FinalizeImportRun(ctx, &run)
	})
	if err != nil {
		im.metrics.RecordError("import")
		return nil, fmt.Errorf("import %s: %w", run.SourceName, err)
	}
	summary.Run = run

	im.metrics.RecordImportRows(req.Symbol, "inserted", summary.Upsert.Inserted)
	im.metrics.RecordImportRows(req.Symbol, "updated", summary.Upsert.Updated)
	im.metrics.RecordImportRows(req.Symbol, "skipped", summary.Upsert.Skipped)
	im.metrics.RecordImportRows(req.Symbol, "rejected", rejected)
	im.metrics.RecordImportDuration(req.Symbol, time.Since(start).Seconds())
	im.metrics.RecordRebuildBuckets(req.Symbol, summary.Rebuild.Deleted, summary.Rebuild.Inserted)

	// The bars changed, so cached coverage reports for this instrument are
	// stale. Best-effort, like the audit publish below.
	if im.cache != nil {
		pattern := cache.GenerateKeyWithParams("coverage", req.Symbol) + ":*"
		if err := im.cache.DeleteByPattern(ctx, pattern); err != nil {
			im.log.Warn("coverage cache invalidation failed",
				logger.String("symbol", req.Symbol),
				logger.Error(err))
		}
	}

	// Audit publish is best-effort: the run is already committed.
	if err := im.audit.PublishImportRun(ctx, &run); err != nil {
		im.metrics.RecordError("audit_publish")
		im.log.Warn("audit publish failed",
			logger.Int64("import_id", run.ImportID),
			logger.Error(err))
	}

	im.log.Info("import finished",
		logger.String("symbol", req.Symbol),
		logger.String("source", run.SourceName),
		logger.Int64("import_id", run.ImportID),
		logger.Int("read", run.RowCountRead),
		logger.Int("inserted", run.RowCountInserted),
		logger.Int("updated", run.RowCountUpdated),
		logger.Int("skipped", summary.Upsert.Skipped),
		logger.Int("rejected", run.RowCountRejected),
		logger.Int("buckets_rebuilt", summary.Rebuild.Inserted),
		logger.Duration("took_ms", time.Since(start)))

	return summary, nil
}

// resolveBatch annotates raw bars with canonical time fields. Rows whose
// local time does not exist (DST gap) or otherwise fail resolution are
// rejected; a timestamp seen twice keeps the later row.
func (im *Importer) resolveBatch(resolver *timefield.Resolver, raw []models.RawBar) ([]models.Bar1m, []ingest.Issue) {
	var issues []ingest.Issue
	index := make(map[int64]int, len(raw))
	bars := make([]models.Bar1m, 0, len(raw))

	for _, rb := range raw {
		tf, err := resolver.Resolve(rb)
		if err != nil {
			issues = append(issues, ingest.Issue{Line: rb.Line, Message: err.Error()})
			continue
		}
		bar := models.Bar1m{
			TsStartUTC:    tf.TsStartUTC,
			TradingDateCT: tf.TradingDateCT,
			CTMinuteOfDay: tf.CTMinuteOfDay,
			Open:          rb.Open,
			High:          rb.High,
			Low:           rb.Low,
			Close:         rb.Close,
			Volume:        rb.Volume,
			TradesCount:   rb.TradesCount,
		}
		if i, ok := index[tf.TsStartUTC]; ok {
			bars[i] = bar
			continue
		}
		index[tf.TsStartUTC] = len(bars)
		bars = append(bars, bar)
	}
	return bars, issues
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
