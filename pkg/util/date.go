package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// barTimestampLayouts are the wall-clock formats accepted in import files,
// tried in order.
var barTimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"20060102 15:04:05",
	"20060102 15:04",
}

// ParseBarTimestamp parses a CSV timestamp cell. A string of digits is an
// absolute epoch-second instant; the wall-clock layouts are naive and left
// for timezone resolution. absolute reports which case applied.
func ParseBarTimestamp(value string) (t time.Time, absolute bool, err error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false, fmt.Errorf("empty timestamp")
	}

	if isDigits(v) {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("unrecognized datetime format: %q", value)
		}
		return time.Unix(secs, 0).UTC(), true, nil
	}

	for _, layout := range barTimestampLayouts {
		if parsed, err := time.Parse(layout, v); err == nil {
			return parsed, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized datetime format: %q", value)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// ParseTradingDate parses a YYYYMMDD integer label from its string form.
func ParseTradingDate(s string) (int, error) {
	v := strings.TrimSpace(s)
	if len(v) != 8 || !isDigits(v) {
		return 0, fmt.Errorf("trading date must be YYYYMMDD, got %q", s)
	}
	return strconv.Atoi(v)
}

// TradingDateTime converts a YYYYMMDD label to its UTC midnight, rejecting
// labels that are not real calendar dates.
func TradingDateTime(td int) (time.Time, error) {
	t, err := time.Parse("20060102", fmt.Sprintf("%08d", td))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid trading date %d: %w", td, err)
	}
	return t, nil
}
