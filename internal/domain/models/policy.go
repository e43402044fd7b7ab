package models

import "fmt"

// MissingPolicyMode selects how missing-bar tolerance is applied.
type MissingPolicyMode string

const (
	PolicyStrict           MissingPolicyMode = "STRICT"
	PolicyAllowMissingUpTo MissingPolicyMode = "ALLOW_MISSING_UP_TO"
)

// WindowRole identifies which of the two analysis windows a coverage
// evaluation applies to.
type WindowRole string

const (
	RoleX WindowRole = "X"
	RoleY WindowRole = "Y"
)

// MissingPolicy is the missing-data policy with independent tolerances for
// the X and Y windows. Tolerances are fractions in [0, 1]; 0.10 allows up
// to 10% missing bars.
type MissingPolicy struct {
	Mode MissingPolicyMode `json:"mode"`
	XTol float64           `json:"x_tol"`
	YTol float64           `json:"y_tol"`
}

// NewMissingPolicy validates at construction. STRICT mode requires both
// tolerances to be exactly zero; it is never silently corrected.
func NewMissingPolicy(mode MissingPolicyMode, xTol, yTol float64) (MissingPolicy, error) {
	p := MissingPolicy{Mode: mode, XTol: xTol, YTol: yTol}
	if err := p.Validate(); err != nil {
		return MissingPolicy{}, err
	}
	return p, nil
}

func (p MissingPolicy) Validate() error {
	switch p.Mode {
	case PolicyStrict, PolicyAllowMissingUpTo:
	default:
		return fmt.Errorf("unsupported missing policy mode: %q", p.Mode)
	}
	for _, tol := range []struct {
		label string
		value float64
	}{{"x_tol", p.XTol}, {"y_tol", p.YTol}} {
		if tol.value < 0 || tol.value > 1 {
			return fmt.Errorf("%s must be in [0.0, 1.0], got %v", tol.label, tol.value)
		}
	}
	if p.Mode == PolicyStrict && (p.XTol != 0 || p.YTol != 0) {
		return fmt.Errorf("STRICT mode requires x_tol=0.0 and y_tol=0.0")
	}
	return nil
}

// ToleranceFor returns the tolerance configured for a window role.
func (p MissingPolicy) ToleranceFor(role WindowRole) (float64, error) {
	if p.Mode == PolicyStrict {
		return 0, nil
	}
	switch role {
	case RoleX:
		return p.XTol, nil
	case RoleY:
		return p.YTol, nil
	}
	return 0, fmt.Errorf("unsupported window role: %q", role)
}
