package timefield

import (
	"testing"
	"time"

	"ESStats/internal/domain/models"
)

func naive(y int, mo time.Month, d, h, mi, s int) models.RawBar {
	return models.RawBar{Wall: time.Date(y, mo, d, h, mi, s, 0, time.UTC)}
}

func TestMinuteOfDayBasic(t *testing.T) {
	r, err := NewResolver("America/Chicago")
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	tf, err := r.Resolve(naive(2025, 1, 2, 8, 30, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tf.CTMinuteOfDay != 8*60+30 {
		t.Fatalf("minute of day = %d, want 510", tf.CTMinuteOfDay)
	}
}

func TestTradingDateRolloverBefore1700(t *testing.T) {
	r, _ := NewResolver("America/Chicago")
	tf, err := r.Resolve(naive(2025, 1, 2, 16, 59, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tf.TradingDateCT != 20250102 {
		t.Fatalf("trading date = %d, want 20250102", tf.TradingDateCT)
	}
}

func TestTradingDateRolloverAt1700(t *testing.T) {
	r, _ := NewResolver("America/Chicago")
	tf, err := r.Resolve(naive(2025, 1, 2, 17, 0, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tf.TradingDateCT != 20250103 {
		t.Fatalf("trading date = %d, want 20250103", tf.TradingDateCT)
	}
}

func TestAbsoluteTimestampIgnoresInputTimezone(t *testing.T) {
	r, _ := NewResolver("America/Chicago")
	instant := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tf, err := r.Resolve(models.RawBar{Wall: instant, Absolute: true})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tf.TsStartUTC != instant.Unix() {
		t.Fatalf("ts_start_utc = %d, want %d", tf.TsStartUTC, instant.Unix())
	}
	// 2025-01-01 00:00 UTC is 18:00 CT on 2024-12-31, past the rollover.
	if tf.TradingDateCT != 20250101 {
		t.Fatalf("trading date = %d, want 20250101", tf.TradingDateCT)
	}
	if tf.CTMinuteOfDay != 18*60 {
		t.Fatalf("minute of day = %d, want 1080", tf.CTMinuteOfDay)
	}
}

func TestDSTGapIsRejected(t *testing.T) {
	// 2025-03-09 02:30 does not exist in America/Chicago (spring forward).
	r, _ := NewResolver("America/Chicago")
	if _, err := r.Resolve(naive(2025, 3, 9, 2, 30, 0)); err == nil {
		t.Fatalf("expected DST gap error")
	}
}

func TestFallBackAmbiguousTimeAccepted(t *testing.T) {
	// 2025-11-02 01:30 occurs twice; either interpretation round-trips.
	r, _ := NewResolver("America/Chicago")
	tf, err := r.Resolve(naive(2025, 11, 2, 1, 30, 0))
	if err != nil {
		t.Fatalf("ambiguous time should resolve, got %v", err)
	}
	if tf.CTMinuteOfDay != 90 {
		t.Fatalf("minute of day = %d, want 90", tf.CTMinuteOfDay)
	}
}

func TestUnknownTimezoneFails(t *testing.T) {
	if _, err := NewResolver("Not/AZone"); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
}
