package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/qflow/qflow/internal/domain/clinic"
	"github.com/qflow/qflow/internal/domain/pathway"
	"github.com/qflow/qflow/internal/domain/pin"
	"github.com/qflow/qflow/internal/platform/clock"
	"github.com/qflow/qflow/internal/platform/kv"
)

// stepClock lets tests move time forward between operations.
type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time          { return c.t }
func (c *stepClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	clk     *stepClock
	queues  *Service
	pins    *pin.Service
	paths   *pathway.Service
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
	pins.SetRand(func(int) int { return 0 })
	paths := pathway.NewService(pathway.NewKVRepo(store), clk, zerolog.Nop())

	queues := NewService(NewKVRepo(store), cal, clinics, pins, paths,
		10*time.Minute, 1, zerolog.Nop())
	return &fixture{clk: clk, queues: queues, pins: pins, paths: paths, clinics: clinics}
}

func (f *fixture) pinFor(t *testing.T, clinicID string) string {
	t.Helper()
	rec, err := f.pins.GetOrCreateDaily(context.Background(), clinicID)
	if err != nil {
		t.Fatal(err)
	}
	return rec.Code
}

func TestEnterAssignsMonotonicSequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, visitor := range []string{"P1", "P2", "P3"} {
		ticket, err := f.queues.Enter(ctx, visitor, "lab")
		if err != nil {
			t.Fatalf("enter %s: %v", visitor, err)
		}
		if ticket.Entry.Seq != i+1 {
			t.Errorf("%s: expected seq %d, got %d", visitor, i+1, ticket.Entry.Seq)
		}
		if ticket.Position != i {
			t.Errorf("%s: expected position %d, got %d", visitor, i, ticket.Position)
		}
	}
}

func TestEnterIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.queues.Enter(ctx, "P1", "lab")
	if err != nil {
		t.Fatal(err)
	}
	again, err := f.queues.Enter(ctx, "P1", "lab")
	if err != nil {
		t.Fatalf("repeat enter should not fail: %v", err)
	}
	if again.Reason != ReasonAlreadyInQueue {
		t.Errorf("expected reason %s, got %q", ReasonAlreadyInQueue, again.Reason)
	}
	if again.Entry.Seq != first.Entry.Seq {
		t.Errorf("repeat enter issued a new number: %d then %d", first.Entry.Seq, again.Entry.Seq)
	}
}

func TestSequenceNeverReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.queues.Enter(ctx, "P1", "lab")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.queues.Cancel(ctx, "P1", "lab"); err != nil {
		t.Fatal(err)
	}
	second, err := f.queues.Enter(ctx, "P1", "lab")
	if err != nil {
		t.Fatal(err)
	}
	if second.Entry.Seq <= first.Entry.Seq {
		t.Errorf("sequence reused after cancellation: %d then %d", first.Entry.Seq, second.Entry.Seq)
	}
}

func TestEnterRejectsUnknownAndClosedClinics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.queues.Enter(ctx, "P1", "pharmacy"); !errors.Is(err, ErrUnknownClinic) {
		t.Errorf("expected ErrUnknownClinic, got %v", err)
	}
	if _, err := f.clinics.SetOpen(ctx, "dental", false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queues.Enter(ctx, "P1", "dental"); !errors.Is(err, ErrClinicClosed) {
		t.Errorf("expected ErrClinicClosed, got %v", err)
	}
}

func TestEnterIsStepGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.paths.Assign(ctx, "P1", "transfer", pathway.GenderMale); err != nil {
		t.Fatal(err)
	}
	// Current step is lab; vitals is two steps ahead.
	if _, err := f.queues.Enter(ctx, "P1", "vitals"); !errors.Is(err, ErrLockedStep) {
		t.Errorf("expected ErrLockedStep, got %v", err)
	}
	if _, err := f.queues.Enter(ctx, "P1", "lab"); err != nil {
		t.Errorf("current step rejected: %v", err)
	}
}

func TestEnterEnforcesGenderRestriction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// gyn is restricted to female visitors.
	if _, err := f.paths.Assign(ctx, "P1", "transfer", pathway.GenderMale); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queues.Enter(ctx, "P1", "gyn"); !errors.Is(err, ErrGenderRestricted) {
		t.Errorf("expected ErrGenderRestricted, got %v", err)
	}

	// A female visitor passes the restriction; her route still gates on the
	// current step.
	if _, err := f.paths.Assign(ctx, "P2", "transfer", pathway.GenderFemale); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queues.Enter(ctx, "P2", "gyn"); !errors.Is(err, ErrLockedStep) {
		t.Errorf("expected ErrLockedStep, got %v", err)
	}
}

func TestEnterAdmitsUnroutedToRestrictedClinic(t *testing.T) {
	f := newFixture(t)

	// Walk-ins have no recorded gender; the restriction cannot apply.
	ticket, err := f.queues.Enter(context.Background(), "W1", "gyn")
	if err != nil {
		t.Fatalf("unrouted enter: %v", err)
	}
	if ticket.Entry.Seq != 1 {
		t.Errorf("expected seq 1, got %d", ticket.Entry.Seq)
	}
}

func TestCallNextServesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, visitor := range []string{"P1", "P2"} {
		if _, err := f.queues.Enter(ctx, visitor, "dental"); err != nil {
			t.Fatal(err)
		}
	}
	called, err := f.queues.CallNext(ctx, "dental")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if called.VisitorID != "P1" || called.Status != StatusCalled {
		t.Errorf("expected P1 called, got %+v", called)
	}
	if called.CalledAt == nil || called.NoShowDeadline == nil {
		t.Error("call did not stamp timestamps")
	}
}

func TestCallNextCapacityAndEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// dental has capacity 1.
	if _, err := f.queues.CallNext(ctx, "dental"); !errors.Is(err, ErrEmptyQueue) {
		t.Errorf("expected ErrEmptyQueue, got %v", err)
	}
	for _, visitor := range []string{"P1", "P2"} {
		if _, err := f.queues.Enter(ctx, visitor, "dental"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.queues.CallNext(ctx, "dental"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queues.CallNext(ctx, "dental"); !errors.Is(err, ErrAlreadyInService) {
		t.Errorf("expected ErrAlreadyInService, got %v", err)
	}
}

func TestCallNextHonorsClinicCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// lab has capacity 3.
	for _, visitor := range []string{"P1", "P2", "P3", "P4"} {
		if _, err := f.queues.Enter(ctx, visitor, "lab"); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 3; i++ {
		if _, err := f.queues.CallNext(ctx, "lab"); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	if _, err := f.queues.CallNext(ctx, "lab"); !errors.Is(err, ErrAlreadyInService) {
		t.Errorf("expected ErrAlreadyInService at capacity, got %v", err)
	}
}

func TestCompleteVerifiesPinAndAdvancesRoute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.paths.Assign(ctx, "P1", "transfer", pathway.GenderMale); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queues.Enter(ctx, "P1", "lab"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.queues.CallNext(ctx, "lab"); err != nil {
		t.Fatal(err)
	}

	// Wrong code leaves the entry untouched.
	if _, err := f.queues.Complete(ctx, "P1", "lab", "99"); !errors.Is(err, ErrInvalidPin) {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
	info, err := f.queues.Position(ctx, "P1", "lab")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != StatusCalled {
		t.Errorf("entry moved after failed pin: %s", info.Status)
	}

	f.clk.Advance(5 * time.Minute)
	done, err := f.queues.Complete(ctx, "P1", "lab", f.pinFor(t, "lab"))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusDone || done.ServiceSeconds != 300 {
		t.Errorf("unexpected completion: %+v", done)
	}

	rt, err := f.paths.Get(ctx, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if rt.CurrentStep() != "xray" {
		t.Errorf("route did not advance: current step %s", rt.CurrentStep())
	}
	// The visitor may now queue at the next station.
	if _, err := f.queues.Enter(ctx, "P1", "xray"); err != nil {
		t.Errorf("next step rejected after completion: %v", err)
	}
}

func TestCompleteFromWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.queues.Enter(ctx, "P1", "lab"); err != nil {
		t.Fatal(err)
	}
	done, err := f.queues.Complete(ctx, "P1", "lab", f.pinFor(t, "lab"))
	if err != nil {
		t.Fatalf("complete from waiting: %v", err)
	}
	if done.Status != StatusDone {
		t.Errorf("expected done, got %s", done.Status)
	}
}

func TestCompleteWithoutEntry(t *testing.T) {
	f := newFixture(t)
	code := f.pinFor(t, "lab")
	if _, err := f.queues.Complete(context.Background(), "ghost", "lab", code); !errors.Is(err, ErrNotInQueue) {
		t.Errorf("expected ErrNotInQueue, got %v", err)
	}
}

func TestExpireNoShow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, visitor := range []string{"P1", "P2"} {
		if _, err := f.queues.Enter(ctx, visitor, "dental"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.queues.CallNext(ctx, "dental"); err != nil {
		t.Fatal(err)
	}

	// Still inside the window: nothing expires.
	n, err := f.queues.ExpireNoShow(ctx, "dental", 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expired %d entries inside the window", n)
	}

	f.clk.Advance(11 * time.Minute)
	n, err = f.queues.ExpireNoShow(ctx, "dental", 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expiry, got %d", n)
	}
	info, err := f.queues.Position(ctx, "P1", "dental")
	if err != nil {
		t.Fatal(err)
	}
	if info.Status != StatusCancelled || !info.NoShow {
		t.Errorf("expected no-show cancellation, got %+v", info)
	}
	// The slot is free again for the next visitor.
	called, err := f.queues.CallNext(ctx, "dental")
	if err != nil {
		t.Fatal(err)
	}
	if called.VisitorID != "P2" {
		t.Errorf("expected P2 called, got %s", called.VisitorID)
	}
}

func TestPositionReporting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, visitor := range []string{"P1", "P2", "P3"} {
		if _, err := f.queues.Enter(ctx, visitor, "lab"); err != nil {
			t.Fatal(err)
		}
	}
	info, err := f.queues.Position(ctx, "P3", "lab")
	if err != nil {
		t.Fatal(err)
	}
	if info.Position != 2 || info.Status != StatusWaiting {
		t.Errorf("expected waiting at position 2, got %+v", info)
	}

	if _, err := f.queues.CallNext(ctx, "lab"); err != nil {
		t.Fatal(err)
	}
	// P1 called: P3 moves up.
	info, _ = f.queues.Position(ctx, "P3", "lab")
	if info.Position != 1 {
		t.Errorf("expected position 1 after call, got %d", info.Position)
	}

	if _, err := f.queues.Cancel(ctx, "P2", "lab"); err != nil {
		t.Fatal(err)
	}
	info, _ = f.queues.Position(ctx, "P2", "lab")
	if info.Status != StatusCancelled || info.Position != -1 {
		t.Errorf("terminal entry should report status only, got %+v", info)
	}

	if _, err := f.queues.Position(ctx, "nobody", "lab"); !errors.Is(err, ErrNotInQueue) {
		t.Errorf("expected ErrNotInQueue, got %v", err)
	}
}

func TestStatusCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, visitor := range []string{"P1", "P2", "P3"} {
		if _, err := f.queues.Enter(ctx, visitor, "lab"); err != nil {
			t.Fatal(err)
		}
	}
	called, err := f.queues.CallNext(ctx, "lab")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.queues.Cancel(ctx, "P3", "lab"); err != nil {
		t.Fatal(err)
	}

	st, err := f.queues.Status(ctx, "lab")
	if err != nil {
		t.Fatal(err)
	}
	if st.Waiting != 1 || st.InService != 1 || st.Cancelled != 1 || st.Completed != 0 {
		t.Errorf("unexpected counts: %+v", st)
	}
	if st.LastIssued != 3 {
		t.Errorf("expected last issued 3, got %d", st.LastIssued)
	}
	if len(st.NowServing) != 1 || st.NowServing[0] != called.Seq {
		t.Errorf("expected now serving [%d], got %v", called.Seq, st.NowServing)
	}
}

func TestEntriesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, visitor := range []string{"P1", "P2", "P3", "P4", "P5"} {
		if _, err := f.queues.Enter(ctx, visitor, "lab"); err != nil {
			t.Fatal(err)
		}
	}
	page, total, err := f.queues.Entries(ctx, "lab", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 {
		t.Fatalf("expected total 5 page 2, got total %d page %d", total, len(page))
	}
	if page[0].Seq != 3 || page[1].Seq != 4 {
		t.Errorf("unexpected page contents: %d, %d", page[0].Seq, page[1].Seq)
	}
}
