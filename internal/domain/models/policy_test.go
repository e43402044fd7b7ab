package models

import "testing"

func TestStrictPolicyRejectsNonzeroTolerance(t *testing.T) {
	if _, err := NewMissingPolicy(PolicyStrict, 0.1, 0); err == nil {
		t.Fatalf("expected error for STRICT with x_tol > 0")
	}
	if _, err := NewMissingPolicy(PolicyStrict, 0, 0.01); err == nil {
		t.Fatalf("expected error for STRICT with y_tol > 0")
	}
	if _, err := NewMissingPolicy(PolicyStrict, 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPolicyToleranceRange(t *testing.T) {
	if _, err := NewMissingPolicy(PolicyAllowMissingUpTo, -0.1, 0); err == nil {
		t.Fatalf("expected error for negative tolerance")
	}
	if _, err := NewMissingPolicy(PolicyAllowMissingUpTo, 0, 1.5); err == nil {
		t.Fatalf("expected error for tolerance above 1")
	}
}

func TestToleranceForRole(t *testing.T) {
	p, err := NewMissingPolicy(PolicyAllowMissingUpTo, 0.05, 0.10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tol, _ := p.ToleranceFor(RoleX); tol != 0.05 {
		t.Errorf("x tolerance = %v, want 0.05", tol)
	}
	if tol, _ := p.ToleranceFor(RoleY); tol != 0.10 {
		t.Errorf("y tolerance = %v, want 0.10", tol)
	}
	if _, err := p.ToleranceFor("Z"); err == nil {
		t.Errorf("expected error for unknown role")
	}

	strict, _ := NewMissingPolicy(PolicyStrict, 0, 0)
	if tol, _ := strict.ToleranceFor(RoleY); tol != 0 {
		t.Errorf("strict tolerance = %v, want 0", tol)
	}
}

func TestPolicyRejectsUnknownMode(t *testing.T) {
	if _, err := NewMissingPolicy("LENIENT", 0, 0); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
