package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/qflow/qflow/internal/domain/clinic"
	"github.com/qflow/qflow/internal/domain/pathway"
	"github.com/qflow/qflow/internal/domain/pin"
	"github.com/qflow/qflow/internal/domain/queue"
	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/kv"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	clk     *stepClock
	sched   *Service
	queues  *queue.Service
	clinics *clinic.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &stepClock{t: time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)}
	cal, err := clock.NewCalendar("Asia/Qatar", "05:00", clk)
	if err != nil {
		t.Fatal(err)
	}
	store := kv.NewMemory()

	clinics := clinic.NewService(clinic.NewKVRepo(store))
	if err := clinics.Seed(context.Background()); err != nil {
		t.Fatal(err)
	}
	pins := pin.NewService(pin.NewKVRepo(store), cal, 1, 20, zerolog.Nop())
	paths := pathway.NewService(pathway.NewKVRepo(store), clk, zerolog.Nop())
	queues := queue.NewService(queue.NewKVRepo(store), cal, clinics, pins, paths,
		10*time.Minute, 1, zerolog.Nop())

	sched := NewService(clinics, queues, 10*time.Minute, zerolog.Nop())
	sched.SetNow(clk.Now)
	return &fixture{clk: clk, sched: sched, queues: queues, clinics: clinics}
}

func summaryFor(summaries []ClinicSummary, clinicID string) *ClinicSummary {
	for i := range summaries {
		if summaries[i].Clinic == clinicID {
			return &summaries[i]
		}
	}
	return nil
}

func TestTickCallsIdleClinics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, v := range []string{"P1", "P2"} {
		if _, err := f.queues.Enter(ctx, v, "dental"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.queues.Enter(ctx, "P3", "eye"); err != nil {
		t.Fatal(err)
	}

	summaries, err := f.sched.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if s := summaryFor(summaries, "dental"); s == nil || s.Called != 1 {
		t.Errorf("expected one call at dental, got %+v", s)
	}
	if s := summaryFor(summaries, "eye"); s == nil || s.Called != 1 {
		t.Errorf("expected one call at eye, got %+v", s)
	}
	// Empty clinics are visited but leave no calls.
	if s := summaryFor(summaries, "lab"); s == nil || s.Called != 0 || s.Err != "" {
		t.Errorf("unexpected lab summary: %+v", s)
	}

	info, err := f.queues.Position(ctx, "P1", "dental")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != queue.StatusCalled {
		t.Errorf("P1 not called: %s", info.Status)
	}
}

func TestTickLeavesBusyClinicsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, v := range []string{"P1", "P2"} {
		if _, err := f.queues.Enter(ctx, v, "dental"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.queues.CallNext(ctx, "dental"); err != nil {
		t.Fatal(err)
	}

	summaries, err := f.sched.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s := summaryFor(summaries, "dental"); s == nil || s.Called != 0 {
		t.Errorf("tick called into a busy clinic: %+v", s)
	}
}

func TestTickExpiresThenCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, v := range []string{"P1", "P2"} {
		if _, err := f.queues.Enter(ctx, v, "dental"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.queues.CallNext(ctx, "dental"); err != nil {
		t.Fatal(err)
	}

	f.clk.Advance(11 * time.Minute)
	summaries, err := f.sched.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	s := summaryFor(summaries, "dental")
	if s == nil || s.Expired != 1 || s.Called != 1 {
		t.Errorf("expected expire+call, got %+v", s)
	}
	info, _ := f.queues.Position(ctx, "P1", "dental")
	if info.Status != queue.StatusCancelled || !info.NoShow {
		t.Errorf("P1 should be a no-show, got %+v", info)
	}
	info, _ = f.queues.Position(ctx, "P2", "dental")
	if info.Status != queue.StatusCalled {
		t.Errorf("P2 should be called, got %+v", info)
	}
}

func TestTickReentryInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.queues.Enter(ctx, "P1", "dental"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sched.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	// Same instant: every clinic is inside the re-entry window.
	summaries, err := f.sched.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range summaries {
		if !s.Skipped {
			t.Errorf("clinic %s not skipped on immediate re-tick", s.Clinic)
		}
	}

	f.clk.Advance(2 * time.Second)
	summaries, err = f.sched.Tick(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s := summaryFor(summaries, "dental"); s == nil || s.Skipped {
		t.Errorf("clinic still skipped after the interval: %+v", s)
	}
}

// failingQueues wraps QueueOps and fails every operation for one clinic.
type failingQueues struct {
	QueueOps
	failClinic string
}

func (f *failingQueues) ExpireNoShow(ctx context.Context, clinicID string, maxWait time.Duration) (int, error) {
	if clinicID == f.failClinic {
		return 0, errors.New("store unavailable")
	}
	return f.QueueOps.ExpireNoShow(ctx, clinicID, maxWait)
}

func TestTickIsolatesClinicFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.queues.Enter(ctx, "P1", "eye"); err != nil {
		t.Fatal(err)
	}
	sched := NewService(f.clinics, &failingQueues{QueueOps: f.queues, failClinic: "lab"},
		10*time.Minute, zerolog.Nop())
	sched.SetNow(f.clk.Now)

	summaries, err := sched.Tick(ctx)
	if err != nil {
		t.Fatalf("tick aborted on clinic failure: %v", err)
	}
	if s := summaryFor(summaries, "lab"); s == nil || s.Err == "" {
		t.Errorf("expected lab error recorded, got %+v", s)
	}
	if s := summaryFor(summaries, "eye"); s == nil || s.Called != 1 {
		t.Errorf("failure leaked into eye: %+v", s)
	}
}
