package ingest

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

const header = "datetime,open,high,low,last,volume,# of Trades\n"

func TestReadHappyPath(t *testing.T) {
	in := header +
		"2025-01-02 08:30,100,101,99,100.5,10,3\n" +
		"2025-01-02 08:31,100.5,102,100,101,12.0,4.0\n"

	res, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RowCountRead != 2 || res.RowCountRejected != 0 {
		t.Fatalf("read=%d rejected=%d", res.RowCountRead, res.RowCountRejected)
	}
	if len(res.Bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(res.Bars))
	}
	b := res.Bars[1]
	if b.Volume != 12 || b.TradesCount != 4 {
		t.Fatalf("float-ish counts should coerce, got volume=%d trades=%d", b.Volume, b.TradesCount)
	}
	if b.Absolute {
		t.Fatalf("wall-clock timestamps should be naive")
	}
}

func TestReadSynonymHeaders(t *testing.T) {
	in := "Timestamp, O ,H,L,C,Vol,Trade Count\n" +
		"1700000000,1,2,0.5,1.5,100,10\n"

	res, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Bars[0].Absolute {
		t.Fatalf("epoch timestamps should be absolute")
	}
	if res.Bars[0].Wall.Unix() != 1700000000 {
		t.Fatalf("unexpected instant %d", res.Bars[0].Wall.Unix())
	}
}

func TestMissingRequiredColumnIsFatal(t *testing.T) {
	in := "datetime,open,high,low,last,volume\n" + // no trades column
		"2025-01-02 08:30,100,101,99,100.5,10\n"

	_, err := Read(strings.NewReader(in))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 1 || verr.Issues[0].Line != 1 {
		t.Fatalf("unexpected issues: %+v", verr.Issues)
	}
	if !strings.Contains(verr.Issues[0].Message, "trades_count") {
		t.Fatalf("issue should name the missing column: %s", verr.Issues[0].Message)
	}
}

func TestEmptyFileIsFatal(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRowLevelRejectionsDoNotAbort(t *testing.T) {
	in := header +
		"2025-01-02 08:30,100,101,99,100.5,10,3\n" + // ok
		"2025-01-02 08:31,,101,99,100.5,10,3\n" + // blank open
		"2025-01-02 08:32,100,99,101,100.5,10,3\n" + // high < low
		"2025-01-02 08:33,100,101,99,100.5,-1,3\n" + // negative volume
		"2025-01-02 08:34,100,101,99,100.5,10,-3\n" + // negative trades
		"not-a-time,100,101,99,100.5,10,3\n" + // bad timestamp
		"2025-01-02 08:36,abc,101,99,100.5,10,3\n" // bad number

	res, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RowCountRead != 7 {
		t.Fatalf("read = %d, want 7", res.RowCountRead)
	}
	if res.RowCountRejected != 6 {
		t.Fatalf("rejected = %d, want 6", res.RowCountRejected)
	}
	if len(res.Bars) != 1 {
		t.Fatalf("bars = %d, want 1", len(res.Bars))
	}
	// Header is line 1; the first rejected row is line 3.
	if res.Issues[0].Line != 3 {
		t.Fatalf("first issue line = %d, want 3", res.Issues[0].Line)
	}
	if !strings.Contains(res.Issues[1].Message, "high must be >= low") {
		t.Fatalf("unexpected message: %s", res.Issues[1].Message)
	}
}

func TestFractionalCountsAreRejectedNotTruncated(t *testing.T) {
	in := header +
		"2025-01-02 08:30,100,101,99,100.5,10.0,3.0\n" + // integral floats ok
		"2025-01-02 08:31,100,101,99,100.5,100.7,3\n" + // fractional volume
		"2025-01-02 08:32,100,101,99,100.5,10,3.5\n" // fractional trades

	res, err := Read(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Bars) != 1 {
		t.Fatalf("bars = %d, want 1", len(res.Bars))
	}
	if res.Bars[0].Volume != 10 || res.Bars[0].TradesCount != 3 {
		t.Fatalf("integral floats should coerce, got volume=%d trades=%d",
			res.Bars[0].Volume, res.Bars[0].TradesCount)
	}
	if res.RowCountRejected != 2 {
		t.Fatalf("rejected = %d, want 2", res.RowCountRejected)
	}
	if !strings.Contains(res.Issues[0].Message, "volume must be an integer") {
		t.Fatalf("unexpected message: %s", res.Issues[0].Message)
	}
	if !strings.Contains(res.Issues[1].Message, "trades_count must be an integer") {
		t.Fatalf("unexpected message: %s", res.Issues[1].Message)
	}
}

func TestAllRowsRejectedIsFatal(t *testing.T) {
	in := header +
		"x,100,101,99,100.5,10,3\n" +
		"y,100,101,99,100.5,10,3\n"

	_, err := Read(strings.NewReader(in))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 2 {
		t.Fatalf("issues = %d, want 2", len(verr.Issues))
	}
}

func TestValidationErrorCapsIssueSample(t *testing.T) {
	var b strings.Builder
	b.WriteString(header)
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&b, "bad-%d,100,101,99,100.5,10,3\n", i)
	}
	_, err := Read(strings.NewReader(b.String()))
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "25 issue(s)") {
		t.Fatalf("expected total count in message: %s", msg)
	}
	if !strings.Contains(msg, "and 15 more") {
		t.Fatalf("expected capped sample with remainder: %s", msg)
	}
}
