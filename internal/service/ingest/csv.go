package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"ESStats/internal/domain/models"
	"ESStats/pkg/util"
)

// Header synonyms, matched after normalization (lowercase, spaces to
// underscores). Vendors disagree on almost every column name.
var (
	tsKeys     = []string{"datetime", "date_time", "timestamp", "time", "date"}
	openKeys   = []string{"open", "o"}
	highKeys   = []string{"high", "h"}
	lowKeys    = []string{"low", "l"}
	closeKeys  = []string{"close", "last", "c"}
	volumeKeys = []string{"volume", "vol", "v"}
	tradesKeys = []string{"#_of_trades", "trades_count", "trade_count", "trades"}
)

// maxIssueSample bounds how many issues a validation error prints in full;
// the remainder is reported as a count so a bad million-row file stays
// readable.
const maxIssueSample = 10

// Issue is one rejected row (or fatal header problem) with its source line.
// Line 1 is the header; data rows start at 2.
type Issue struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ValidationError is the file-fatal case: required columns missing or zero
// rows parsed. It aborts the import before any persistence write.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CSV validation failed with %d issue(s).", len(e.Issues))
	for i, issue := range e.Issues {
		if i == maxIssueSample {
			fmt.Fprintf(&b, "\n  ... and %d more", len(e.Issues)-maxIssueSample)
			break
		}
		fmt.Fprintf(&b, "\n  line %d: %s", issue.Line, issue.Message)
	}
	return b.String()
}

// Result is a fully parsed file. Row-level rejections are recorded in
// Issues without aborting the import.
type Result struct {
	Bars             []models.RawBar
	RowCountRead     int
	RowCountRejected int
	Issues           []Issue
}

// ReadFile parses a delimited bar file from disk.
func ReadFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses and validates the bar stream.
//
// Missing required columns are file-fatal, as is a file where every row is
// rejected. Individual rows with blank cells, unparsable values, negative
// volume/trades or high < low are rejected with their line number and the
// rest of the file continues.
func Read(r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF || (err == nil && len(header) == 0) {
		return nil, &ValidationError{Issues: []Issue{{Line: 1, Message: "missing header row"}}}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols, missing := resolveColumns(header)
	if len(missing) > 0 {
		return nil, &ValidationError{Issues: []Issue{{
			Line:    1,
			Message: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")),
		}}}
	}

	res := &Result{}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.RowCountRead++
			res.reject(line, err.Error())
			continue
		}

		res.RowCountRead++
		bar, err := parseRow(record, cols)
		if err != nil {
			res.reject(line, err.Error())
			continue
		}
		bar.Line = line
		res.Bars = append(res.Bars, bar)
	}

	if len(res.Bars) == 0 {
		issues := res.Issues
		if len(issues) == 0 {
			issues = []Issue{{Line: 1, Message: "no valid data rows parsed (all rows rejected)"}}
		}
		return nil, &ValidationError{Issues: issues}
	}
	return res, nil
}

func (r *Result) reject(line int, msg string) {
	r.RowCountRejected++
	r.Issues = append(r.Issues, Issue{Line: line, Message: msg})
}

// columns holds the resolved index of each required field in a record.
type columns struct {
	ts, open, high, low, close, volume, trades int
}

func resolveColumns(header []string) (columns, []string) {
	byName := make(map[string]int, len(header))
	for i, name := range header {
		byName[normalize(name)] = i
	}

	find := func(keys []string) int {
		for _, k := range keys {
			if idx, ok := byName[k]; ok {
				return idx
			}
		}
		return -1
	}

	cols := columns{
		ts:     find(tsKeys),
		open:   find(openKeys),
		high:   find(highKeys),
		low:    find(lowKeys),
		close:  find(closeKeys),
		volume: find(volumeKeys),
		trades: find(tradesKeys),
	}

	var missing []string
	if cols.ts < 0 {
		missing = append(missing, "datetime/timestamp")
	}
	if cols.open < 0 {
		missing = append(missing, "open")
	}
	if cols.high < 0 {
		missing = append(missing, "high")
	}
	if cols.low < 0 {
		missing = append(missing, "low")
	}
	if cols.close < 0 {
		missing = append(missing, "close/last")
	}
	if cols.volume < 0 {
		missing = append(missing, "volume")
	}
	if cols.trades < 0 {
		missing = append(missing, "trades_count")
	}
	return cols, missing
}

func normalize(name string) string {
	// BOM shows up on the first header cell of Windows exports.
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

func parseRow(record []string, cols columns) (models.RawBar, error) {
	cell := func(idx int, label string) (string, error) {
		if idx >= len(record) {
			return "", fmt.Errorf("missing %s", label)
		}
		v := strings.TrimSpace(record[idx])
		if v == "" {
			return "", fmt.Errorf("missing %s", label)
		}
		return v, nil
	}

	tsRaw, err := cell(cols.ts, "timestamp")
	if err != nil {
		return models.RawBar{}, err
	}
	openRaw, err := cell(cols.open, "open")
	if err != nil {
		return models.RawBar{}, err
	}
	highRaw, err := cell(cols.high, "high")
	if err != nil {
		return models.RawBar{}, err
	}
	lowRaw, err := cell(cols.low, "low")
	if err != nil {
		return models.RawBar{}, err
	}
	closeRaw, err := cell(cols.close, "close/last")
	if err != nil {
		return models.RawBar{}, err
	}
	volumeRaw, err := cell(cols.volume, "volume")
	if err != nil {
		return models.RawBar{}, err
	}
	tradesRaw, err := cell(cols.trades, "trades_count")
	if err != nil {
		return models.RawBar{}, err
	}

	wall, absolute, err := util.ParseBarTimestamp(tsRaw)
	if err != nil {
		return models.RawBar{}, err
	}

	open, err := parseFloat(openRaw, "open")
	if err != nil {
		return models.RawBar{}, err
	}
	high, err := parseFloat(highRaw, "high")
	if err != nil {
		return models.RawBar{}, err
	}
	low, err := parseFloat(lowRaw, "low")
	if err != nil {
		return models.RawBar{}, err
	}
	closePx, err := parseFloat(closeRaw, "close/last")
	if err != nil {
		return models.RawBar{}, err
	}
	volume, err := parseCount(volumeRaw, "volume")
	if err != nil {
		return models.RawBar{}, err
	}
	trades, err := parseCount(tradesRaw, "trades_count")
	if err != nil {
		return models.RawBar{}, err
	}

	if volume < 0 {
		return models.RawBar{}, fmt.Errorf("volume must be >= 0")
	}
	if trades < 0 {
		return models.RawBar{}, fmt.Errorf("trades_count must be >= 0")
	}
	if high < low {
		return models.RawBar{}, fmt.Errorf("high must be >= low")
	}

	return models.RawBar{
		Wall:        wall,
		Absolute:    absolute,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePx,
		Volume:      volume,
		TradesCount: trades,
	}, nil
}

func parseFloat(v, label string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", label, v)
	}
	return f, nil
}

// parseCount accepts integers written as floats ("100.0") since some
// vendors export counts that way. A fractional value ("100.7") is a
// rejected row, not a silent truncation.
func parseCount(v, label string) (int64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", label, v)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%s must be an integer, got %q", label, v)
	}
	return int64(f), nil
}
