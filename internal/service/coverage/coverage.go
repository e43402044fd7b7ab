package coverage

import (
	"fmt"

	"ESStats/internal/domain/models"
)

// ExclusionReason explains why a window's data was ruled unusable.
type ExclusionReason string

const ReasonMissingExceedsTolerance ExclusionReason = "MISSING_EXCEEDS_TOLERANCE"

// Result is one coverage decision for a window role under a policy.
type Result struct {
	Role             models.WindowRole `json:"role"`
	ObservedBarCount int               `json:"observed_bar_count"`
	ExpectedBarCount int               `json:"expected_bar_count"`
	MissingBarCount  int               `json:"missing_bar_count"`
	MissingRatio     float64           `json:"missing_ratio"`
	ToleranceUsed    float64           `json:"tolerance_used"`
	IsComplete       bool              `json:"is_complete"`
	ExclusionReason  ExclusionReason   `json:"exclusion_reason,omitempty"`
}

// Evaluate decides whether observed coverage is acceptable.
//
// missing_ratio = max(0, expected-observed)/expected, zero when nothing was
// expected. The tolerance boundary is inclusive: a ratio exactly at the
// configured tolerance passes.
func Evaluate(observed, expected int, role models.WindowRole, policy models.MissingPolicy) (Result, error) {
	if observed < 0 {
		return Result{}, fmt.Errorf("observed_bar_count must be >= 0, got %d", observed)
	}
	if expected < 0 {
		return Result{}, fmt.Errorf("expected_bar_count must be >= 0, got %d", expected)
	}

	tolerance, err := policy.ToleranceFor(role)
	if err != nil {
		return Result{}, err
	}

	missing := expected - observed
	if missing < 0 {
		missing = 0
	}
	ratio := 0.0
	if expected > 0 {
		ratio = float64(missing) / float64(expected)
	}

	res := Result{
		Role:             role,
		ObservedBarCount: observed,
		ExpectedBarCount: expected,
		MissingBarCount:  missing,
		MissingRatio:     ratio,
		ToleranceUsed:    tolerance,
		IsComplete:       ratio <= tolerance,
	}
	if !res.IsComplete {
		res.ExclusionReason = ReasonMissingExceedsTolerance
	}
	return res, nil
}

// Resolution is the bar granularity an analysis run reads.
type Resolution string

const (
	Resolution1m  Resolution = "1m"
	Resolution30m Resolution = "30m"
)

// ChooseResolution picks one granularity for a whole run: 30m only when
// every window maps exactly onto 30-minute buckets, otherwise 1m.
func ChooseResolution(windows []models.WindowSpec) (Resolution, error) {
	if len(windows) == 0 {
		return "", fmt.Errorf("choose resolution requires at least one window")
	}
	for _, w := range windows {
		if !fitsBuckets(w) {
			return Resolution1m, nil
		}
	}
	return Resolution30m, nil
}

// fitsBuckets: a window is exactly representable with 30m bars iff it
// starts on a half-hour boundary and ends on the last minute of a bucket.
func fitsBuckets(w models.WindowSpec) bool {
	return w.StartMinuteCT%30 == 0 && (w.EndMinuteCT+1)%30 == 0
}
