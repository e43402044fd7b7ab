package timefield

import (
	"fmt"
	"time"

	"ESStats/internal/domain/models"
)

// TradingTimezone is the fixed CT calendar every trading-date label and
// minute-of-day is computed in, regardless of the input timezone.
const TradingTimezone = "America/Chicago"

// rolloverMinute: instants at or after 17:00 CT belong to the next
// calendar date's trading session.
const rolloverMinute = 17 * 60

// Resolver converts parsed CSV timestamps into canonical time fields.
// One resolver is built per import run since the input timezone is fixed
// for the whole file.
type Resolver struct {
	input   *time.Location
	trading *time.Location
}

func NewResolver(inputTimezone string) (*Resolver, error) {
	if inputTimezone == "" {
		inputTimezone = TradingTimezone
	}
	input, err := time.LoadLocation(inputTimezone)
	if err != nil {
		return nil, fmt.Errorf("load input timezone %q: %w", inputTimezone, err)
	}
	trading, err := time.LoadLocation(TradingTimezone)
	if err != nil {
		return nil, fmt.Errorf("load trading timezone: %w", err)
	}
	return &Resolver{input: input, trading: trading}, nil
}

// InputTimezone reports the effective input timezone name.
func (r *Resolver) InputTimezone() string {
	return r.input.String()
}

// Resolve computes ts_start_utc, the CT trading-date label and the CT
// minute of day for one raw bar.
//
// Naive timestamps are interpreted as wall-clock time in the input
// timezone; nonexistent local times (spring-forward gaps) are rejected.
// Absolute timestamps already carry their instant and ignore the input
// timezone entirely.
func (r *Resolver) Resolve(bar models.RawBar) (models.TimeFields, error) {
	var instant time.Time
	if bar.Absolute {
		instant = bar.Wall.UTC()
	} else {
		localized, err := localizeStrict(bar.Wall, r.input)
		if err != nil {
			return models.TimeFields{}, err
		}
		instant = localized.UTC()
	}

	ct := instant.In(r.trading)
	minuteOfDay := ct.Hour()*60 + ct.Minute()

	tradingDay := ct
	if minuteOfDay >= rolloverMinute {
		tradingDay = ct.AddDate(0, 0, 1)
	}
	y, m, d := tradingDay.Date()

	return models.TimeFields{
		TsStartUTC:    instant.Unix(),
		TradingDateCT: y*10000 + int(m)*100 + d,
		CTMinuteOfDay: minuteOfDay,
	}, nil
}

// localizeStrict attaches a location to wall-clock fields. time.Date
// normalizes times that fall in a DST gap, so a round-trip comparison of
// the clock fields detects nonexistent local times. Ambiguous (fall-back)
// times keep whichever offset the zone database resolves first, which for
// US zones is the earlier one.
func localizeStrict(wall time.Time, loc *time.Location) (time.Time, error) {
	t := time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), 0, loc)
	if t.Year() == wall.Year() && t.Month() == wall.Month() && t.Day() == wall.Day() &&
		t.Hour() == wall.Hour() && t.Minute() == wall.Minute() && t.Second() == wall.Second() {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("nonexistent local time in %s: %s (DST transition gap)",
		loc, wall.Format("2006-01-02 15:04:05"))
}
