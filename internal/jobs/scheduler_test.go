package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/bus"
	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/fakestore"
)

type testJob struct {
	Label string `json:"label"`
	Fail  bool   `json:"fail,omitempty"`
	Panic bool   `json:"panic,omitempty"`
}

func (testJob) Kind() string { return "test" }

type runs struct {
	mu    sync.Mutex
	at    map[int64][]time.Time
	execs []Execution
}

func newRuns() *runs {
	return &runs{at: make(map[int64][]time.Time)}
}

func (r *runs) handle(ctx context.Context, j testJob) error {
	exec, _ := ExecutionFromContext(ctx)

	r.mu.Lock()
	r.at[exec.JobID] = append(r.at[exec.JobID], time.Now())
	r.execs = append(r.execs, exec)
	r.mu.Unlock()

	if j.Panic {
		panic("boom")
	}
	if j.Fail {
		return errors.New("handler failed")
	}
	return nil
}

func (r *runs) count(id int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.at[id])
}

func (r *runs) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.execs)
}

func (r *runs) firstAt(id int64) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.at[id][0]
}

type node struct {
	s      *Scheduler
	client *fakestore.BusClient
	runs   *runs
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newNode(t *testing.T, store *fakestore.JobStore, broker *fakestore.Bus, listen bool) *node {
	t.Helper()

	r := newRuns()
	kinds := NewRegistry()
	MustRegister(kinds, r.handle)
	kinds.Freeze()

	messages := broadcast.NewRegistry(discardLogger())
	client := broker.Client()

	s, err := New(Config{
		NodeID:         "test-node",
		ClockTolerance: 20 * time.Millisecond,
		StoreRetry:     50 * time.Millisecond,
		Logger:         discardLogger(),
	}, store, client, kinds, messages)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	messages.Freeze()

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if listen {
		if err := s.Listen(ctx, domain.DefaultQueue); err != nil {
			t.Fatalf("Listen() error = %v", err)
		}
	}
	t.Cleanup(s.Close)

	return &node{s: s, client: client, runs: r}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func holds(s *Scheduler, id int64) func() bool {
	return func() bool {
		_, ok := s.State(id)
		return ok
	}
}

func TestSchedule_ExecutesOnceAndDeletesRow(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	runAt := time.Now().Add(50 * time.Millisecond)
	id, err := n.s.Schedule(ctx, testJob{Label: "a"}, runAt)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return n.runs.count(id) == 1 })
	waitFor(t, time.Second, func() bool { return store.Len() == 0 && broker.Acks() == 1 })

	if at := n.runs.firstAt(id); at.Before(runAt) {
		t.Errorf("executed %s before run_at", runAt.Sub(at))
	}

	time.Sleep(50 * time.Millisecond)
	if n.runs.count(id) != 1 {
		t.Errorf("executed %d times, want 1", n.runs.count(id))
	}
	if len(n.s.Waiting()) != 0 {
		t.Errorf("waiting = %v, want empty", n.s.Waiting())
	}
	if broker.DoubleAcks() != 0 {
		t.Errorf("double acks = %d", broker.DoubleAcks())
	}
}

func TestSchedule_UsesQueueOption(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, false)
	ctx := context.Background()

	id, err := n.s.Schedule(ctx, testJob{}, time.Now(), WithQueue("reports"))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	row, err := store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if row.Queue != "reports" || row.BackingType != "test" {
		t.Errorf("row = %+v", row)
	}
	if broker.Pending("reports") != 1 {
		t.Errorf("pending in reports = %d, want 1", broker.Pending("reports"))
	}

	if err := n.s.Listen(ctx, "reports"); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return n.runs.count(id) == 1 })

	if got := n.s.Queues(); len(got) != 1 || got[0] != "reports" {
		t.Errorf("Queues() = %v", got)
	}
}

func TestSchedule_PublishFailureRemovesRow(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)

	n.client.FailPublish(errors.New("broker down"))

	if _, err := n.s.Schedule(context.Background(), testJob{}, time.Now()); err == nil {
		t.Fatal("Schedule() should fail when the announcement cannot be published")
	}
	if store.Len() != 0 {
		t.Errorf("rows = %v, want none", store.IDs())
	}
}

func TestSchedule_UnregisteredJob(t *testing.T) {
	n := newNode(t, fakestore.NewJobStore(), fakestore.NewBus(), false)

	_, err := n.s.Schedule(context.Background(), greetJob{}, time.Now())
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("Schedule() error = %v, want ErrUnknownKind", err)
	}
}

func TestCancel_NeverRuns(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	id, err := n.s.Schedule(ctx, testJob{}, time.Now().Add(150*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(n.s, id))

	ok, err := n.s.Cancel(ctx, id, true)
	if err != nil || !ok {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}

	time.Sleep(250 * time.Millisecond)

	if n.runs.count(id) != 0 {
		t.Fatal("canceled job was executed")
	}
	if store.Len() != 0 {
		t.Errorf("row not deleted: %v", store.IDs())
	}
	if broker.Acks() != 1 || broker.DoubleAcks() != 0 {
		t.Errorf("acks = %d, double = %d", broker.Acks(), broker.DoubleAcks())
	}
}

func TestCancel_CrossNode(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	origin := newNode(t, store, broker, false)
	owner := newNode(t, store, broker, true)
	ctx := context.Background()

	id, err := origin.s.Schedule(ctx, testJob{}, time.Now().Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(owner.s, id))

	ok, err := origin.s.Cancel(ctx, id, true)
	if err != nil || !ok {
		t.Fatalf("Cancel() = %v, %v", ok, err)
	}

	waitFor(t, time.Second, func() bool { return len(owner.s.Waiting()) == 0 })
	time.Sleep(250 * time.Millisecond)

	if owner.runs.count(id) != 0 || origin.runs.count(id) != 0 {
		t.Fatal("canceled job was executed")
	}
	if broker.Acks() != 1 || broker.DoubleAcks() != 0 {
		t.Errorf("acks = %d, double = %d", broker.Acks(), broker.DoubleAcks())
	}
}

func TestCancel_BroadcastsWhenDeleteFails(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	origin := newNode(t, store, broker, false)
	owner := newNode(t, store, broker, true)
	ctx := context.Background()

	id, err := origin.s.Schedule(ctx, testJob{}, time.Now().Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(owner.s, id))

	dbErr := errors.New("connection reset")
	store.FailDelete(dbErr)

	if _, err := origin.s.Cancel(ctx, id, true); !errors.Is(err, dbErr) {
		t.Fatalf("Cancel() error = %v, want %v", err, dbErr)
	}

	// Строка осталась, но владелец всё равно снимает таймер
	waitFor(t, time.Second, func() bool { return len(owner.s.Waiting()) == 0 })
	time.Sleep(250 * time.Millisecond)

	if owner.runs.count(id) != 0 {
		t.Fatal("job ran although cancel was broadcast")
	}
	if store.Len() != 1 {
		t.Errorf("rows = %v, want the undeleted row", store.IDs())
	}
}

func TestCancel_BroadcastIsIdempotent(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	id, err := n.s.Schedule(ctx, testJob{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(n.s, id))

	// Повторная доставка CancelJob
	for i, want := range []bool{true, false, false} {
		ok, err := n.s.Cancel(ctx, id, false)
		if err != nil || ok != want {
			t.Fatalf("Cancel() #%d = %v, %v, want %v", i, ok, err, want)
		}
	}

	if broker.Acks() != 1 || broker.DoubleAcks() != 0 {
		t.Errorf("acks = %d, double = %d", broker.Acks(), broker.DoubleAcks())
	}
	if n.runs.total() != 0 {
		t.Error("canceled job was executed")
	}
}

func TestCancel_RacesWithFire(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	const jobsCount = 50
	runAt := time.Now().Add(30 * time.Millisecond)

	ids := make([]int64, 0, jobsCount)
	for range jobsCount {
		id, err := n.s.Schedule(ctx, testJob{}, runAt)
		if err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
		ids = append(ids, id)
	}
	waitFor(t, time.Second, func() bool { return len(n.s.Waiting()) == jobsCount })

	canceled := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	time.Sleep(time.Until(runAt))
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := n.s.Cancel(ctx, id, false)
			mu.Lock()
			canceled[id] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()

	waitFor(t, time.Second, func() bool { return broker.Acks() == jobsCount })

	for _, id := range ids {
		ran := n.runs.count(id)
		if canceled[id] && ran != 0 {
			t.Errorf("job %d canceled and executed", id)
		}
		if !canceled[id] && ran != 1 {
			t.Errorf("job %d not canceled but executed %d times", id, ran)
		}
	}
	if broker.DoubleAcks() != 0 {
		t.Errorf("double acks = %d", broker.DoubleAcks())
	}
}

func TestReschedule_CrossNodeRunsOnceAtNewTime(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	origin := newNode(t, store, broker, false)
	owner := newNode(t, store, broker, true)
	ctx := context.Background()

	id, err := origin.s.Schedule(ctx, testJob{}, time.Now().Add(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(owner.s, id))

	newTime := time.Now().Add(300 * time.Millisecond)
	if err := origin.s.Reschedule(ctx, id, newTime, true); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return owner.runs.count(id) == 1 })

	if at := owner.runs.firstAt(id); at.Before(newTime.Add(-5 * time.Millisecond)) {
		t.Errorf("executed %s before the new time", newTime.Sub(at))
	}

	time.Sleep(100 * time.Millisecond)
	if owner.runs.count(id) != 1 || origin.runs.count(id) != 0 {
		t.Errorf("executions: owner %d, origin %d; want exactly one", owner.runs.count(id), origin.runs.count(id))
	}
	if broker.DoubleAcks() != 0 {
		t.Errorf("double acks = %d", broker.DoubleAcks())
	}
}

func TestReschedule_UnclaimedJobUsesPersistedTime(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	origin := newNode(t, store, broker, false)
	ctx := context.Background()

	id, err := origin.s.Schedule(ctx, testJob{}, time.Now().Add(30*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	newTime := time.Now().Add(250 * time.Millisecond)
	if err := origin.s.Reschedule(ctx, id, newTime, true); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	owner := newNode(t, store, broker, true)

	waitFor(t, 2*time.Second, func() bool { return owner.runs.count(id) == 1 })
	if at := owner.runs.firstAt(id); at.Before(newTime.Add(-5 * time.Millisecond)) {
		t.Errorf("executed %s before the new time", newTime.Sub(at))
	}
}

func TestReschedule_InPast(t *testing.T) {
	store := fakestore.NewJobStore()
	n := newNode(t, store, fakestore.NewBus(), false)
	ctx := context.Background()

	id, err := n.s.Schedule(ctx, testJob{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	err = n.s.Reschedule(ctx, id, time.Now().Add(-time.Second), true)
	if !errors.Is(err, ErrRescheduleInPast) {
		t.Fatalf("Reschedule() error = %v, want ErrRescheduleInPast", err)
	}

	if err := n.s.Reschedule(ctx, 9999, time.Now().Add(time.Minute), true); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Reschedule() of missing job error = %v, want ErrJobNotFound", err)
	}
}

func TestReschedule_LocalPastTimeRunsNow(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	id, err := n.s.Schedule(ctx, testJob{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(n.s, id))

	if err := n.s.Reschedule(ctx, id, time.Now().Add(-time.Minute), false); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return n.runs.count(id) == 1 })
	waitFor(t, time.Second, func() bool { return store.Len() == 0 })
}

func TestCatchUp_OverdueJobRunsImmediately(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	runAt := time.Now().Add(-time.Hour)
	id, err := n.s.Schedule(ctx, testJob{}, runAt)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return n.runs.count(id) == 1 })

	n.runs.mu.Lock()
	exec := n.runs.execs[0]
	n.runs.mu.Unlock()

	if exec.JobID != id || !exec.RunAt.Equal(runAt) || exec.Queue != domain.DefaultQueue || exec.Redelivered {
		t.Errorf("execution = %+v", exec)
	}
}

func TestExecute_FailureAndPanicStillDeleteRow(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	failing, err := n.s.Schedule(ctx, testJob{Fail: true}, time.Now())
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	panicking, err := n.s.Schedule(ctx, testJob{Panic: true}, time.Now())
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return n.runs.count(failing) == 1 && n.runs.count(panicking) == 1
	})
	waitFor(t, time.Second, func() bool { return store.Len() == 0 && broker.Acks() == 2 })

	time.Sleep(50 * time.Millisecond)
	if n.runs.total() != 2 {
		t.Errorf("failed jobs were retried: %d executions", n.runs.total())
	}
}

func TestExecute_UndecodableJobDropped(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	rows := []*domain.ScheduledJob{
		{BackingType: "missing-kind", Queue: domain.DefaultQueue, RunAt: time.Now()},
		{BackingType: "test", Queue: domain.DefaultQueue, RunAt: time.Now(), Payload: []byte(`{"t":"other.Type","d":{}}`)},
	}
	publisher := broker.Client()
	for _, row := range rows {
		if err := store.Save(ctx, row); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := publisher.Announce(ctx, domain.DefaultQueue, bus.Announcement{JobID: row.ID, RunAt: row.RunAt}); err != nil {
			t.Fatalf("Announce() error = %v", err)
		}
	}

	waitFor(t, time.Second, func() bool { return store.Len() == 0 && broker.Acks() == 2 })
	if n.runs.total() != 0 {
		t.Errorf("undecodable job reached the handler")
	}
}

func TestClaim_MissingRowAcked(t *testing.T) {
	broker := fakestore.NewBus()
	newNode(t, fakestore.NewJobStore(), broker, true)

	err := broker.Client().Announce(context.Background(), domain.DefaultQueue, bus.Announcement{JobID: 404, RunAt: time.Now()})
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return broker.Acks() == 1 })
}

func TestClaim_DuplicateAnnouncementReplacesEntry(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	runAt := time.Now().Add(100 * time.Millisecond)
	id, err := n.s.Schedule(ctx, testJob{}, runAt)
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(n.s, id))

	if err := broker.Client().Announce(ctx, domain.DefaultQueue, bus.Announcement{JobID: id, RunAt: runAt}); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return broker.Acks() == 1 })

	waitFor(t, time.Second, func() bool { return n.runs.count(id) == 1 })
	waitFor(t, time.Second, func() bool { return broker.Acks() == 2 })

	time.Sleep(50 * time.Millisecond)
	if n.runs.count(id) != 1 {
		t.Errorf("executed %d times, want 1", n.runs.count(id))
	}
	if broker.DoubleAcks() != 0 {
		t.Errorf("double acks = %d", broker.DoubleAcks())
	}
}

func TestRedelivery_AfterNodeCrash(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	crashed := newNode(t, store, broker, true)
	ctx := context.Background()

	id, err := crashed.s.Schedule(ctx, testJob{}, time.Now().Add(150*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(crashed.s, id))

	crashed.client.Crash()
	crashed.s.Close()

	survivor := newNode(t, store, broker, true)

	waitFor(t, 2*time.Second, func() bool { return survivor.runs.count(id) == 1 })

	survivor.runs.mu.Lock()
	exec := survivor.runs.execs[0]
	survivor.runs.mu.Unlock()
	if !exec.Redelivered {
		t.Error("execution after crash should be marked redelivered")
	}
	if crashed.runs.count(id) != 0 {
		t.Error("crashed node executed the job")
	}
}

func TestUnlisten_KeepsArmedJobs(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, true)
	ctx := context.Background()

	armed, err := n.s.Schedule(ctx, testJob{}, time.Now().Add(100*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	waitFor(t, time.Second, holds(n.s, armed))

	if err := n.s.Unlisten(domain.DefaultQueue); err != nil {
		t.Fatalf("Unlisten() error = %v", err)
	}

	later, err := n.s.Schedule(ctx, testJob{}, time.Now())
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return n.runs.count(armed) == 1 })
	if n.runs.count(later) != 0 {
		t.Error("job announced after Unlisten was claimed")
	}
	if broker.Pending(domain.DefaultQueue) != 1 {
		t.Errorf("pending = %d, want 1", broker.Pending(domain.DefaultQueue))
	}
}

func TestOnClaimed(t *testing.T) {
	store := fakestore.NewJobStore()
	broker := fakestore.NewBus()
	n := newNode(t, store, broker, false)
	ctx := context.Background()

	var claimed atomic.Int64
	n.s.OnClaimed(func(_ context.Context, ev ClaimedEvent) {
		if ev.Queue == domain.DefaultQueue {
			claimed.Store(ev.JobID)
		}
	})
	n.s.OnClaimed(func(context.Context, ClaimedEvent) { panic("ignored") })

	id, err := n.s.Schedule(ctx, testJob{}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := n.s.Listen(ctx, domain.DefaultQueue); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return claimed.Load() == id })

	state, ok := n.s.State(id)
	if !ok || state != domain.JobStateArmed {
		t.Errorf("State() = %v, %v, want ARMED", state, ok)
	}
}

func TestLifecycleErrors(t *testing.T) {
	kinds := NewRegistry()
	messages := broadcast.NewRegistry(discardLogger())
	s, err := New(Config{Logger: discardLogger()}, fakestore.NewJobStore(), fakestore.NewBus().Client(), kinds, messages)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := s.Start(ctx); !errors.Is(err, ErrRegistryOpen) {
		t.Errorf("Start() with open registry error = %v", err)
	}
	if err := s.Listen(ctx, "default"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Listen() before Start error = %v", err)
	}

	kinds.Freeze()
	if err := s.Start(ctx); !errors.Is(err, broadcast.ErrRegistryOpen) {
		t.Errorf("Start() with open message registry error = %v", err)
	}

	messages.Freeze()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.Close()
	if err := s.Listen(ctx, "default"); !errors.Is(err, ErrClosed) {
		t.Errorf("Listen() after Close error = %v", err)
	}
	if _, err := s.Schedule(ctx, testJob{}, time.Now()); !errors.Is(err, ErrClosed) {
		t.Errorf("Schedule() after Close error = %v", err)
	}

	// Реестр уже содержит CancelJob: второй планировщик на нём не создать
	if _, err := New(Config{}, fakestore.NewJobStore(), fakestore.NewBus().Client(), NewRegistry(), messages); err == nil {
		t.Error("New() should fail on a frozen message registry")
	}
}
