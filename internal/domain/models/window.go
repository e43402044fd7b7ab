package models

import "fmt"

const MinutesPerDay = 24 * 60

// WindowAnchor names the calendar a window is pinned to. Only the CT
// trading-date calendar is supported.
type WindowAnchor string

const AnchorTradingDateCT WindowAnchor = "TRADING_DATE_CT"

// WindowOrderRule is the relative-ordering requirement between a pair of
// analysis windows.
type WindowOrderRule string

const (
	OrderAny              WindowOrderRule = "ANY"
	OrderYEndsBeforeXStart WindowOrderRule = "Y_ENDS_BEFORE_X_START"
)

// WindowSpec is a minute-granularity window on a trading date.
//
// Both bounds are inclusive and in [0, 1439]. A window with start > end
// wraps midnight: it covers [start, 1439] plus [0, end].
type WindowSpec struct {
	Anchor        WindowAnchor `json:"anchor"`
	StartMinuteCT int          `json:"start_minute_ct"`
	EndMinuteCT   int          `json:"end_minute_ct"`
	Name          string       `json:"name,omitempty"`
}

// NewWindowSpec validates bounds at construction; malformed windows are
// never representable.
func NewWindowSpec(anchor WindowAnchor, startMinute, endMinute int, name string) (WindowSpec, error) {
	w := WindowSpec{Anchor: anchor, StartMinuteCT: startMinute, EndMinuteCT: endMinute, Name: name}
	if err := w.Validate(); err != nil {
		return WindowSpec{}, err
	}
	return w, nil
}

func (w WindowSpec) Validate() error {
	if w.Anchor != AnchorTradingDateCT {
		return fmt.Errorf("unsupported window anchor: %q", w.Anchor)
	}
	if w.StartMinuteCT < 0 || w.StartMinuteCT >= MinutesPerDay {
		return fmt.Errorf("start_minute_ct must be in [0, 1439], got %d", w.StartMinuteCT)
	}
	if w.EndMinuteCT < 0 || w.EndMinuteCT >= MinutesPerDay {
		return fmt.Errorf("end_minute_ct must be in [0, 1439], got %d", w.EndMinuteCT)
	}
	return nil
}

func (w WindowSpec) SpansMidnight() bool {
	return w.StartMinuteCT > w.EndMinuteCT
}

func (w WindowSpec) DurationMinutes() int {
	if w.SpansMidnight() {
		return (MinutesPerDay - w.StartMinuteCT) + w.EndMinuteCT + 1
	}
	return w.EndMinuteCT - w.StartMinuteCT + 1
}

// CoveredMinutes returns the minute-of-day set the window spans, handling
// the wrap case as the union of [start, 1439] and [0, end].
func (w WindowSpec) CoveredMinutes() map[int]struct{} {
	out := make(map[int]struct{}, w.DurationMinutes())
	if !w.SpansMidnight() {
		for m := w.StartMinuteCT; m <= w.EndMinuteCT; m++ {
			out[m] = struct{}{}
		}
		return out
	}
	for m := w.StartMinuteCT; m < MinutesPerDay; m++ {
		out[m] = struct{}{}
	}
	for m := 0; m <= w.EndMinuteCT; m++ {
		out[m] = struct{}{}
	}
	return out
}

// Contains reports whether a minute of day falls inside the window.
func (w WindowSpec) Contains(minuteOfDay int) bool {
	if !w.SpansMidnight() {
		return minuteOfDay >= w.StartMinuteCT && minuteOfDay <= w.EndMinuteCT
	}
	return minuteOfDay >= w.StartMinuteCT || minuteOfDay <= w.EndMinuteCT
}

// OffsetMinutes returns the window-relative offset of a minute of day,
// wrap-aware. Callers must ensure Contains(minuteOfDay) first.
func (w WindowSpec) OffsetMinutes(minuteOfDay int) int {
	return (minuteOfDay - w.StartMinuteCT + MinutesPerDay) % MinutesPerDay
}

// orderingInterval converts a window to a trading-date-relative interval so
// ordering comparisons work across midnight. A wrapping window is represented
// as its prior-evening segment, e.g. 17:00-08:29 becomes [-420, 509].
func (w WindowSpec) orderingInterval() (start, end int) {
	if w.SpansMidnight() {
		return w.StartMinuteCT - MinutesPerDay, w.EndMinuteCT
	}
	return w.StartMinuteCT, w.EndMinuteCT
}

// ValidatePair checks the relative ordering of the X and Y analysis windows
// under the given rule. Overlap is always rejected before ordering under any
// rule other than ANY.
func ValidatePair(x, y WindowSpec, rule WindowOrderRule) error {
	if x.Anchor != y.Anchor {
		return fmt.Errorf("window anchors must match, got %s and %s", x.Anchor, y.Anchor)
	}

	switch rule {
	case OrderAny:
		return nil
	case OrderYEndsBeforeXStart:
		yMinutes := y.CoveredMinutes()
		for m := range x.CoveredMinutes() {
			if _, ok := yMinutes[m]; ok {
				return fmt.Errorf("X and Y windows overlap, but rule requires strict ordering")
			}
		}
		xStart, _ := x.orderingInterval()
		_, yEnd := y.orderingInterval()
		if yEnd >= xStart {
			return fmt.Errorf("window order invalid: Y must complete before X begins (y_end=%d, x_start=%d)", yEnd, xStart)
		}
		return nil
	}
	return fmt.Errorf("unsupported window order rule: %q", rule)
}
