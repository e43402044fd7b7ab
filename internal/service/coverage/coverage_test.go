package coverage

import (
	"math"
	"testing"

	"ESStats/internal/domain/models"
)

func allowPolicy(t *testing.T, xTol, yTol float64) models.MissingPolicy {
	t.Helper()
	p, err := models.NewMissingPolicy(models.PolicyAllowMissingUpTo, xTol, yTol)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return p
}

func TestEvaluateAtToleranceBoundaryIsAccepted(t *testing.T) {
	// 10% missing at exactly 10% tolerance passes; one bar more fails.
	p := allowPolicy(t, 0.10, 0)

	res, err := Evaluate(90, 100, models.RoleX, p)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.IsComplete {
		t.Fatalf("ratio == tolerance should be complete, got %+v", res)
	}
	if res.ExclusionReason != "" {
		t.Fatalf("complete result should carry no reason, got %q", res.ExclusionReason)
	}

	res, err = Evaluate(89, 100, models.RoleX, p)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.IsComplete {
		t.Fatalf("ratio above tolerance should be rejected")
	}
	if res.ExclusionReason != ReasonMissingExceedsTolerance {
		t.Fatalf("reason = %q, want MISSING_EXCEEDS_TOLERANCE", res.ExclusionReason)
	}
	if res.MissingBarCount != 11 {
		t.Fatalf("missing = %d, want 11", res.MissingBarCount)
	}
}

func TestEvaluateStrictRequiresFullCoverage(t *testing.T) {
	p, _ := models.NewMissingPolicy(models.PolicyStrict, 0, 0)

	res, _ := Evaluate(450, 450, models.RoleY, p)
	if !res.IsComplete {
		t.Fatalf("full coverage should pass under STRICT")
	}
	res, _ = Evaluate(449, 450, models.RoleY, p)
	if res.IsComplete {
		t.Fatalf("any missing bar should fail under STRICT")
	}
}

func TestEvaluateZeroExpected(t *testing.T) {
	p, _ := models.NewMissingPolicy(models.PolicyStrict, 0, 0)
	res, err := Evaluate(0, 0, models.RoleX, p)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.MissingRatio != 0 || !res.IsComplete {
		t.Fatalf("zero expected should be ratio 0 and complete, got %+v", res)
	}
}

func TestEvaluateObservedAboveExpected(t *testing.T) {
	p, _ := models.NewMissingPolicy(models.PolicyStrict, 0, 0)
	res, _ := Evaluate(120, 100, models.RoleX, p)
	if res.MissingBarCount != 0 || math.Abs(res.MissingRatio) > 0 {
		t.Fatalf("overfull window should clamp missing to 0, got %+v", res)
	}
}

func TestEvaluateRejectsNegativeCounts(t *testing.T) {
	p, _ := models.NewMissingPolicy(models.PolicyStrict, 0, 0)
	if _, err := Evaluate(-1, 0, models.RoleX, p); err == nil {
		t.Fatalf("expected error for negative observed")
	}
	if _, err := Evaluate(0, -1, models.RoleX, p); err == nil {
		t.Fatalf("expected error for negative expected")
	}
}

func TestEvaluateUsesRoleTolerance(t *testing.T) {
	p := allowPolicy(t, 0.0, 0.5)
	res, _ := Evaluate(50, 100, models.RoleY, p)
	if !res.IsComplete || res.ToleranceUsed != 0.5 {
		t.Fatalf("Y tolerance should apply, got %+v", res)
	}
	res, _ = Evaluate(99, 100, models.RoleX, p)
	if res.IsComplete {
		t.Fatalf("X tolerance 0 should reject any missing bar")
	}
}

func TestChooseResolution(t *testing.T) {
	rth, _ := models.NewWindowSpec(models.AnchorTradingDateCT, 510, 959, "RTH")
	on, _ := models.NewWindowSpec(models.AnchorTradingDateCT, 1020, 509, "ON")
	ragged, _ := models.NewWindowSpec(models.AnchorTradingDateCT, 515, 959, "X")

	got, err := ChooseResolution([]models.WindowSpec{rth, on})
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if got != Resolution30m {
		t.Fatalf("aligned windows should use 30m, got %s", got)
	}

	got, _ = ChooseResolution([]models.WindowSpec{rth, ragged})
	if got != Resolution1m {
		t.Fatalf("any ragged window forces 1m, got %s", got)
	}

	if _, err := ChooseResolution(nil); err == nil {
		t.Fatalf("expected error for empty window list")
	}
}
