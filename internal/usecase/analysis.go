package usecase

import (
	"context"
	"errors"
	"fmt"

	"ESStats/internal/domain/models"
	drepo "ESStats/internal/domain/repository"
	"ESStats/internal/service/coverage"
	"ESStats/pkg/logger"
	"ESStats/pkg/util"
)

// ErrInvalidRange marks a trading-date range the caller got wrong, as
// opposed to a store failure. Handlers turn it into a 400.
var ErrInvalidRange = errors.New("invalid trading date range")

// Analyzer answers coverage questions: for a symbol and trading-date
// range, does each analysis window hold enough bars to be usable under
// the missing-data policy?
type Analyzer struct {
	reader drepo.Reader
	log    *logger.Logger

	x      models.WindowSpec
	y      models.WindowSpec
	policy models.MissingPolicy
}

// NewAnalyzer creates a new Analyzer instance. The window pair must
// already be validated against the configured order rule.
func NewAnalyzer(reader drepo.Reader, log *logger.Logger, x, y models.WindowSpec, policy models.MissingPolicy) *Analyzer {
	return &Analyzer{reader: reader, log: log, x: x, y: y, policy: policy}
}

// CoverageReport is one coverage decision over a trading-date range.
// Usable is true only when both windows pass their tolerance.
type CoverageReport struct {
	Symbol     string              `json:"symbol"`
	TdMin      int                 `json:"trading_date_min"`
	TdMax      int                 `json:"trading_date_max"`
	Days       int                 `json:"days"`
	Resolution coverage.Resolution `json:"resolution"`
	X          coverage.Result     `json:"x"`
	Y          coverage.Result     `json:"y"`
	Usable     bool                `json:"usable"`
}

// Coverage evaluates both windows over an inclusive trading-date range.
// Expected counts assume every calendar day in the range is a session;
// quiet days surface as missing bars, which is what the tolerance is for.
func (a *Analyzer) Coverage(ctx context.Context, symbol string, tdMin, tdMax int) (*CoverageReport, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	days, err := tradingDateSpan(tdMin, tdMax)
	if err != nil {
		return nil, err
	}

	resolution, err := coverage.ChooseResolution([]models.WindowSpec{a.x, a.y})
	if err != nil {
		return nil, err
	}

	report := &CoverageReport{
		Symbol:     symbol,
		TdMin:      tdMin,
		TdMax:      tdMax,
		Days:       days,
		Resolution: resolution,
	}

	report.X, err = a.evaluateWindow(ctx, symbol, tdMin, tdMax, days, a.x, models.RoleX, resolution)
	if err != nil {
		return nil, err
	}
	report.Y, err = a.evaluateWindow(ctx, symbol, tdMin, tdMax, days, a.y, models.RoleY, resolution)
	if err != nil {
		return nil, err
	}
	report.Usable = report.X.IsComplete && report.Y.IsComplete

	a.log.Debug("coverage evaluated",
		logger.String("symbol", symbol),
		logger.Int("td_min", tdMin),
		logger.Int("td_max", tdMax),
		logger.String("resolution", string(resolution)),
		logger.Bool("usable", report.Usable))

	return report, nil
}

func (a *Analyzer) evaluateWindow(ctx context.Context, symbol string, tdMin, tdMax, days int, w models.WindowSpec, role models.WindowRole, resolution coverage.Resolution) (coverage.Result, error) {
	perDay := w.DurationMinutes()
	if resolution == coverage.Resolution30m {
		perDay /= 30
	}
	expected := perDay * days

	observed, err := a.reader.CountBarsInWindow(ctx, symbol, tdMin, tdMax, w, string(resolution))
	if err != nil {
		return coverage.Result{}, fmt.Errorf("count %s window: %w", w.Name, err)
	}
	return coverage.Evaluate(observed, expected, role, a.policy)
}

// tradingDateSpan counts calendar days in an inclusive YYYYMMDD range.
func tradingDateSpan(tdMin, tdMax int) (int, error) {
	from, err := util.TradingDateTime(tdMin)
	if err != nil {
		return 0, fmt.Errorf("%w: trading_date_min: %v", ErrInvalidRange, err)
	}
	to, err := util.TradingDateTime(tdMax)
	if err != nil {
		return 0, fmt.Errorf("%w: trading_date_max: %v", ErrInvalidRange, err)
	}
	if to.Before(from) {
		return 0, fmt.Errorf("%w: inverted: %d > %d", ErrInvalidRange, tdMin, tdMax)
	}
	return int(to.Sub(from).Hours()/24) + 1, nil
}
