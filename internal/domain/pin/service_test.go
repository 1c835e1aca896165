package pin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/kv"
)

func testCalendar(t *testing.T) *clock.Calendar {
	t.Helper()
	at := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	cal, err := clock.NewCalendar("Asia/Qatar", "05:00", clock.Fixed(at))
	if err != nil {
		t.Fatal(err)
	}
	return cal
}

func newTestService(t *testing.T, min, max int) *Service {
	t.Helper()
	svc := NewService(NewKVRepo(kv.NewMemory()), testCalendar(t), min, max, zerolog.Nop())
	// First candidate every time keeps the tests deterministic.
	svc.SetRand(func(int) int { return 0 })
	return svc
}

func TestGetOrCreateDailyIsStable(t *testing.T) {
	svc := newTestService(t, 1, 20)
	ctx := context.Background()

	first, err := svc.GetOrCreateDaily(ctx, "lab")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(first.Code) != 2 {
		t.Errorf("expected zero-padded two-digit code, got %q", first.Code)
	}
	second, err := svc.GetOrCreateDaily(ctx, "lab")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if second.Code != first.Code {
		t.Errorf("regenerated within the day: %q then %q", first.Code, second.Code)
	}
}

func TestNoTwoClinicsShareACode(t *testing.T) {
	svc := newTestService(t, 1, 20)
	ctx := context.Background()

	seen := map[string]string{}
	for _, clinic := range []string{"lab", "xray", "vitals", "dental", "eye"} {
		rec, err := svc.GetOrCreateDaily(ctx, clinic)
		if err != nil {
			t.Fatalf("%s: %v", clinic, err)
		}
		if holder, dup := seen[rec.Code]; dup {
			t.Fatalf("code %q issued to both %s and %s", rec.Code, holder, clinic)
		}
		seen[rec.Code] = clinic
	}
}

func TestSpaceExhausted(t *testing.T) {
	svc := newTestService(t, 1, 2)
	ctx := context.Background()

	for _, clinic := range []string{"lab", "xray"} {
		if _, err := svc.GetOrCreateDaily(ctx, clinic); err != nil {
			t.Fatalf("%s: %v", clinic, err)
		}
	}
	if _, err := svc.GetOrCreateDaily(ctx, "vitals"); !errors.Is(err, ErrSpaceExhausted) {
		t.Errorf("expected ErrSpaceExhausted, got %v", err)
	}
}

func TestVerifyExactStringMatch(t *testing.T) {
	svc := newTestService(t, 7, 7)
	ctx := context.Background()

	rec, err := svc.GetOrCreateDaily(ctx, "lab")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Code != "07" {
		t.Fatalf("expected code 07, got %q", rec.Code)
	}

	cases := []struct {
		code string
		want bool
	}{
		{"07", true},
		{"7", false},
		{"70", false},
		{"007", false},
		{"", false},
	}
	for _, tc := range cases {
		ok, err := svc.Verify(ctx, "lab", tc.code)
		if err != nil {
			t.Fatalf("verify %q: %v", tc.code, err)
		}
		if ok != tc.want {
			t.Errorf("verify %q = %v, want %v", tc.code, ok, tc.want)
		}
	}
}

func TestVerifyIsPerClinic(t *testing.T) {
	svc := newTestService(t, 1, 20)
	ctx := context.Background()

	labRec, err := svc.GetOrCreateDaily(ctx, "lab")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetOrCreateDaily(ctx, "xray"); err != nil {
		t.Fatal(err)
	}
	// Another clinic's valid code must not verify here.
	ok, err := svc.Verify(ctx, "xray", labRec.Code)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("xray accepted lab's code")
	}
}

func TestVerifyWithoutRecord(t *testing.T) {
	svc := newTestService(t, 1, 20)
	ok, err := svc.Verify(context.Background(), "lab", "01")
	if err != nil {
		t.Fatalf("expected soft failure, got error: %v", err)
	}
	if ok {
		t.Error("verified against a missing record")
	}
}

func TestResetOneBurnsOldCode(t *testing.T) {
	svc := newTestService(t, 1, 20)
	ctx := context.Background()

	old, err := svc.GetOrCreateDaily(ctx, "lab")
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := svc.ResetOne(ctx, "lab")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if fresh.Code == old.Code {
		t.Errorf("reset reissued the old code %q", old.Code)
	}
	ok, err := svc.Verify(ctx, "lab", old.Code)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("superseded code still verifies")
	}
	ok, _ = svc.Verify(ctx, "lab", fresh.Code)
	if !ok {
		t.Error("fresh code does not verify")
	}
}

func TestResetAll(t *testing.T) {
	svc := newTestService(t, 1, 20)
	ctx := context.Background()

	for _, clinic := range []string{"lab", "xray", "vitals"} {
		if _, err := svc.GetOrCreateDaily(ctx, clinic); err != nil {
			t.Fatal(err)
		}
	}
	n, err := svc.ResetAll(ctx)
	if err != nil {
		t.Fatalf("reset all: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 resets, got %d", n)
	}
	active, err := svc.ActivePins(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 3 {
		t.Errorf("expected 3 active pins after reset, got %d", len(active))
	}
}

func TestResetConsumesSpace(t *testing.T) {
	svc := newTestService(t, 1, 2)
	ctx := context.Background()

	if _, err := svc.GetOrCreateDaily(ctx, "lab"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ResetOne(ctx, "lab"); err != nil {
		t.Fatalf("first reset should fit in the space: %v", err)
	}
	// Both codes burned now; the next reset has nothing left to draw.
	if _, err := svc.ResetOne(ctx, "lab"); !errors.Is(err, ErrSpaceExhausted) {
		t.Errorf("expected ErrSpaceExhausted, got %v", err)
	}
}
