package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	type report struct {
		Symbol string `json:"symbol"`
		Usable bool   `json:"usable"`
	}

	in := report{Symbol: "ES", Usable: true}
	if err := mc.Set(ctx, "coverage:ES:1:2", in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	var out report
	if err := mc.Get(ctx, "coverage:ES:1:2", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}

	if err := mc.Get(ctx, "coverage:NQ:1:2", &out); err != ErrCacheMiss {
		t.Fatalf("missing key error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	if err := mc.Set(ctx, "k", "v", time.Nanosecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	var s string
	if err := mc.Get(ctx, "k", &s); err != ErrCacheMiss {
		t.Fatalf("expired key error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	for _, key := range []string{"coverage:ES:1:2", "coverage:ES:3:4", "coverage:NQ:1:2"} {
		if err := mc.Set(ctx, key, "v", time.Minute); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	if err := mc.DeleteByPattern(ctx, "coverage:ES:*"); err != nil {
		t.Fatalf("delete by pattern: %v", err)
	}

	var s string
	if err := mc.Get(ctx, "coverage:ES:1:2", &s); err != ErrCacheMiss {
		t.Fatalf("glob should drop ES keys, got %v", err)
	}
	if err := mc.Get(ctx, "coverage:ES:3:4", &s); err != ErrCacheMiss {
		t.Fatalf("glob should drop ES keys, got %v", err)
	}
	if err := mc.Get(ctx, "coverage:NQ:1:2", &s); err != nil {
		t.Fatalf("other instrument must survive, got %v", err)
	}

	// No trailing star: exact key only.
	if err := mc.DeleteByPattern(ctx, "coverage:NQ:1:2"); err != nil {
		t.Fatalf("delete exact: %v", err)
	}
	if err := mc.Get(ctx, "coverage:NQ:1:2", &s); err != ErrCacheMiss {
		t.Fatalf("exact delete should drop the key, got %v", err)
	}
}

func TestGenerateKeyWithParams(t *testing.T) {
	got := GenerateKeyWithParams("coverage", "ES", 20250102, 20250103)
	want := "coverage:ES:20250102:20250103"
	if got != want {
		t.Fatalf("key = %q, want %q", got, want)
	}
	if got := GenerateKeyWithParams("coverage"); got != "coverage" {
		t.Fatalf("bare prefix key = %q", got)
	}
}
