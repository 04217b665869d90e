package recurring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/jobs"
)

type pingJob struct {
	Target string `json:"target"`
}

func (pingJob) Kind() string { return "ping" }

type scheduled struct {
	job   jobs.Job
	runAt time.Time
}

type fakeScheduler struct {
	mu   sync.Mutex
	jobs []scheduled
	err  error
	next int64
}

func (f *fakeScheduler) Schedule(_ context.Context, job jobs.Job, runAt time.Time, _ ...jobs.ScheduleOption) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	f.jobs = append(f.jobs, scheduled{job: job, runAt: runAt})
	return f.next, nil
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeScheduler) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRegistry(t *testing.T) *jobs.Registry {
	t.Helper()
	reg := jobs.NewRegistry()
	jobs.MustRegister(reg, func(context.Context, pingJob) error { return nil })
	reg.Freeze()
	return reg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCalculateNextDue_CronTimezone(t *testing.T) {
	def := &domain.RecurringJob{Name: "morning", CronExpr: "0 9 * * *", Timezone: "Europe/Moscow"}
	from := time.Date(2026, 1, 10, 5, 0, 0, 0, time.UTC) // 08:00 MSK

	next, err := CalculateNextDue(def, from)
	if err != nil {
		t.Fatalf("CalculateNextDue: %v", err)
	}

	want := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
	if next.Location() != time.UTC {
		t.Errorf("next should be UTC, got %v", next.Location())
	}
}

func TestCalculateNextDue_Interval(t *testing.T) {
	def := &domain.RecurringJob{Name: "every-30s", IntervalSec: 30}
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(def, from)
	if err != nil {
		t.Fatalf("CalculateNextDue: %v", err)
	}
	if !next.Equal(from.Add(30 * time.Second)) {
		t.Errorf("next = %v", next)
	}
}

func TestCalculateNextDue_NoSchedule(t *testing.T) {
	def := &domain.RecurringJob{Name: "broken"}
	if _, err := CalculateNextDue(def, time.Now()); !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("got %v, want ErrInvalidDefinition", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		def     domain.RecurringJob
		wantErr bool
	}{
		{"cron", domain.RecurringJob{Name: "a", Kind: "ping", CronExpr: "*/5 * * * *"}, false},
		{"interval", domain.RecurringJob{Name: "a", Kind: "ping", IntervalSec: 10}, false},
		{"no name", domain.RecurringJob{Kind: "ping", IntervalSec: 10}, true},
		{"no kind", domain.RecurringJob{Name: "a", IntervalSec: 10}, true},
		{"bad cron", domain.RecurringJob{Name: "a", Kind: "ping", CronExpr: "not a cron"}, true},
		{"no schedule", domain.RecurringJob{Name: "a", Kind: "ping"}, true},
		{"bad timezone", domain.RecurringJob{Name: "a", Kind: "ping", IntervalSec: 10, Timezone: "Mars/Base"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("error should wrap ErrInvalidDefinition: %v", err)
			}
		})
	}
}

func TestNew_RejectsDuplicateNames(t *testing.T) {
	defs := []domain.RecurringJob{
		{Name: "dup", Kind: "ping", IntervalSec: 10},
		{Name: "dup", Kind: "ping", IntervalSec: 20},
	}
	_, err := New(Config{Definitions: defs}, &fakeScheduler{}, newRegistry(t))
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("got %v, want ErrInvalidDefinition", err)
	}
}

func newRunner(t *testing.T, defs []domain.RecurringJob, sched *fakeScheduler, clk *clock) *Runner {
	t.Helper()
	r, err := New(Config{
		Definitions:  defs,
		TickInterval: time.Hour,
		Logger:       discardLogger(),
		Now:          clk.Now,
	}, sched, newRegistry(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Stop)
	return r
}

func TestTick_SchedulesDueDefinitions(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	sched := &fakeScheduler{}
	defs := []domain.RecurringJob{{
		Name:        "ping",
		Kind:        "ping",
		IntervalSec: 10,
		Payload:     json.RawMessage(`{"target":"db"}`),
	}}
	r := newRunner(t, defs, sched, clk)

	r.Lead(context.Background())

	if n := r.Tick(context.Background()); n != 0 {
		t.Fatalf("nothing should be due right after Lead, got %d", n)
	}

	clk.Advance(10 * time.Second)
	if n := r.Tick(context.Background()); n != 1 {
		t.Fatalf("Tick scheduled %d, want 1", n)
	}

	job, ok := sched.jobs[0].job.(pingJob)
	if !ok || job.Target != "db" {
		t.Errorf("scheduled job = %#v", sched.jobs[0].job)
	}
	if !sched.jobs[0].runAt.Equal(clk.Now()) {
		t.Errorf("runAt = %v, want %v", sched.jobs[0].runAt, clk.Now())
	}

	got := r.Definitions()[0]
	if got.LastJobID != 1 {
		t.Errorf("LastJobID = %d", got.LastJobID)
	}
	if got.NextDueAt == nil || !got.NextDueAt.Equal(clk.Now().Add(10*time.Second)) {
		t.Errorf("NextDueAt = %v", got.NextDueAt)
	}

	if n := r.Tick(context.Background()); n != 0 {
		t.Errorf("second Tick at same time scheduled %d", n)
	}
}

func TestTick_ScheduleErrorRetriesNextTick(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	sched := &fakeScheduler{}
	r := newRunner(t, []domain.RecurringJob{{Name: "ping", Kind: "ping", IntervalSec: 5}}, sched, clk)

	r.Lead(context.Background())
	clk.Advance(5 * time.Second)

	sched.setErr(errors.New("bus down"))
	if n := r.Tick(context.Background()); n != 0 {
		t.Fatalf("Tick scheduled %d with failing scheduler", n)
	}

	sched.setErr(nil)
	clk.Advance(time.Second)
	if n := r.Tick(context.Background()); n != 1 {
		t.Fatalf("retry Tick scheduled %d, want 1", n)
	}
}

func TestTick_UnknownKindSkipsWindow(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	sched := &fakeScheduler{}
	r := newRunner(t, []domain.RecurringJob{{Name: "ghost", Kind: "missing", IntervalSec: 5}}, sched, clk)

	r.Lead(context.Background())
	clk.Advance(5 * time.Second)

	if n := r.Tick(context.Background()); n != 0 {
		t.Fatalf("unknown kind scheduled %d", n)
	}
	def := r.Definitions()[0]
	if def.NextDueAt == nil || !def.NextDueAt.Equal(clk.Now().Add(5*time.Second)) {
		t.Errorf("NextDueAt should advance, got %v", def.NextDueAt)
	}
}

func TestTick_NotLeading(t *testing.T) {
	clk := &clock{now: time.Now()}
	sched := &fakeScheduler{}
	r := newRunner(t, []domain.RecurringJob{{Name: "ping", Kind: "ping", IntervalSec: 1}}, sched, clk)

	clk.Advance(time.Hour)
	if n := r.Tick(context.Background()); n != 0 {
		t.Errorf("follower scheduled %d jobs", n)
	}
}

type fakeEvents struct {
	start func(ctx context.Context)
	stop  func(ctx context.Context)
}

func (f *fakeEvents) OnStartLeading(fn func(ctx context.Context))   { f.start = fn }
func (f *fakeEvents) OnStoppedLeading(fn func(ctx context.Context)) { f.stop = fn }

func TestAttach_TicksOnlyWhileLeading(t *testing.T) {
	sched := &fakeScheduler{}
	r, err := New(Config{
		Definitions:  []domain.RecurringJob{{Name: "ping", Kind: "ping", IntervalSec: 1}},
		TickInterval: 20 * time.Millisecond,
		Logger:       discardLogger(),
	}, sched, newRegistry(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Stop)

	events := &fakeEvents{}
	r.Attach(events)

	events.start(context.Background())
	if !r.Leading() {
		t.Fatal("runner should be leading")
	}

	deadline := time.Now().Add(3 * time.Second)
	for sched.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sched.count() == 0 {
		t.Fatal("leader never scheduled a recurring job")
	}

	events.stop(context.Background())
	if r.Leading() {
		t.Fatal("runner should stop leading")
	}

	n := sched.count()
	time.Sleep(1500 * time.Millisecond)
	if got := sched.count(); got != n {
		t.Errorf("scheduled %d jobs after losing leadership", got-n)
	}
}

func TestLead_StopsWhenContextCanceled(t *testing.T) {
	sched := &fakeScheduler{}
	r, err := New(Config{
		Definitions:  []domain.RecurringJob{{Name: "ping", Kind: "ping", IntervalSec: 1}},
		TickInterval: 20 * time.Millisecond,
		Logger:       discardLogger(),
	}, sched, newRegistry(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	r.Lead(ctx)
	cancel()

	time.Sleep(1500 * time.Millisecond)
	if got := sched.count(); got != 0 {
		t.Errorf("scheduled %d jobs after leader context was canceled", got)
	}
}
