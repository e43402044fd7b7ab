package models

import (
	"fmt"
	"time"
)

// MergePolicy controls how an import treats 1-minute bars whose key
// (instrument_id, ts_start_utc) already exists in the store.
type MergePolicy string

const (
	MergeSkip      MergePolicy = "skip"
	MergeOverwrite MergePolicy = "overwrite"
)

func ParseMergePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(s) {
	case MergeSkip, MergeOverwrite:
		return MergePolicy(s), nil
	}
	return "", fmt.Errorf("merge policy must be 'skip' or 'overwrite', got %q", s)
}

// RawBar is a single 1-minute bar parsed from a CSV row, before timezone
// resolution. Wall holds the clock fields exactly as written in the file;
// Absolute is true when the source value carried an explicit instant
// (epoch seconds), in which case the input timezone is ignored.
type RawBar struct {
	Line        int // source line in the input file, header is line 1
	Wall        time.Time
	Absolute    bool
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      int64
	TradesCount int64
}

// TimeFields is the canonical temporal annotation derived from a RawBar
// timestamp plus an input timezone.
type TimeFields struct {
	TsStartUTC    int64 // epoch seconds, sub-second precision truncated
	TradingDateCT int   // YYYYMMDD label under the 17:00 CT rollover
	CTMinuteOfDay int   // 0..1439, minutes since CT midnight
}

// Bar1m is one canonical 1-minute bar row. Primary key is
// (InstrumentID, TsStartUTC).
type Bar1m struct {
	InstrumentID   int64   `json:"instrument_id"`
	TsStartUTC     int64   `json:"ts_start_utc"`
	TradingDateCT  int     `json:"trading_date_ct"`
	CTMinuteOfDay  int     `json:"ct_minute_of_day"`
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         int64   `json:"volume"`
	TradesCount    int64   `json:"trades_count"`
	SourceImportID int64   `json:"source_import_id"`
}

// Bar30m is a derived 30-minute bucket, always aligned to a half-hour
// boundary and fully rebuilt (never patched) from its 1-minute inputs.
type Bar30m struct {
	InstrumentID        int64   `json:"instrument_id"`
	BucketStartUTC      int64   `json:"bucket_start_utc"`
	TradingDateCT       int     `json:"trading_date_ct"`
	BucketMinuteOfDay   int     `json:"bucket_ct_minute_of_day"`
	Open                float64 `json:"open"`
	High                float64 `json:"high"`
	Low                 float64 `json:"low"`
	Close               float64 `json:"close"`
	Volume              int64   `json:"volume"`
	TradesCount         int64   `json:"trades_count"`
	BarCount1m          int     `json:"bar_count_1m"`
	IsComplete          bool    `json:"is_complete"`
	Session             string  `json:"session"`
	PeriodIndex         int     `json:"period_index"`
	DerivedFromImportID int64   `json:"derived_from_import_id"`
}

// ImportRun is the audit record for one import invocation. It is inserted
// with StatusFailed before any write and finalized in the same transaction.
type ImportRun struct {
	ImportID           int64   `json:"import_id"`
	InstrumentID       int64   `json:"instrument_id"`
	SourceName         string  `json:"source_name"`
	SourceHash         string  `json:"source_hash,omitempty"`
	InputTimezone      string  `json:"input_timezone"`
	BarIntervalSeconds int     `json:"bar_interval_seconds"`
	MergePolicy        string  `json:"merge_policy"`
	StartedAtUTC       int64   `json:"started_at_utc"`
	FinishedAtUTC      int64   `json:"finished_at_utc,omitempty"`
	TsMinUTC           int64   `json:"ts_min_utc,omitempty"`
	TsMaxUTC           int64   `json:"ts_max_utc,omitempty"`
	RowCountRead       int     `json:"row_count_read"`
	RowCountInserted   int     `json:"row_count_inserted"`
	RowCountUpdated    int     `json:"row_count_updated"`
	RowCountRejected   int     `json:"row_count_rejected"`
	Status             string  `json:"status"`
	ErrorSummary       string  `json:"error_summary,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// BucketMinute returns the 30-minute bucket start for a minute of day.
func BucketMinute(minuteOfDay int) int {
	return minuteOfDay - minuteOfDay%30
}
