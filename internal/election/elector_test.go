package election_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Quorum/internal/domain"
	"github.com/shaiso/Quorum/internal/election"
	"github.com/shaiso/Quorum/internal/fakestore"
)

const (
	testNamespace = "test"
	testResource  = "svc-leader"
)

func testConfig(identity string) election.Config {
	return election.Config{
		ResourceName:       testResource,
		Namespace:          testNamespace,
		Identity:           identity,
		LeaseDuration:      400 * time.Millisecond,
		RenewDeadline:      250 * time.Millisecond,
		RetryPeriod:        20 * time.Millisecond,
		JitterMin:          1.0,
		JitterMax:          1.2,
		ClockSkewTolerance: 50 * time.Millisecond,
	}
}

func newElector(t *testing.T, cfg election.Config, store election.LeaseStore) *election.Elector {
	t.Helper()
	e, err := election.New(cfg, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

// start запускает Run и возвращает функцию остановки,
// которая ждёт завершения Run.
func start(t *testing.T, e *election.Elector) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case runErr = <-errCh:
			case <-time.After(5 * time.Second):
				t.Errorf("Run did not return after cancel")
			}
		})
		return runErr
	}
	t.Cleanup(func() { stop() })
	return stop
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

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*election.Config)
		wantErr bool
	}{
		{"valid", func(*election.Config) {}, false},
		{"missing identity", func(c *election.Config) { c.Identity = "" }, true},
		{"renew deadline too long", func(c *election.Config) { c.RenewDeadline = c.LeaseDuration }, true},
		{"skew eats renew window", func(c *election.Config) { c.ClockSkewTolerance = 200 * time.Millisecond }, true},
		{"jitter below one", func(c *election.Config) { c.JitterMin = 0.5 }, true},
		{"jitter max below min", func(c *election.Config) { c.JitterMax = 0.9 }, true},
		{"zero retry", func(c *election.Config) { c.RetryPeriod = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("node-a")
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, election.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := election.DefaultConfig("node-a")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ResourceName != "quorum-leader" || cfg.Namespace != "default" {
		t.Errorf("unexpected lease name %s/%s", cfg.Namespace, cfg.ResourceName)
	}
	if cfg.LeaseDuration != 30*time.Second || cfg.RenewDeadline != 25*time.Second || cfg.RetryPeriod != 2*time.Second {
		t.Errorf("unexpected timings: %+v", cfg)
	}
}

func TestNew_RequiresIdentity(t *testing.T) {
	_, err := election.New(election.Config{}, fakestore.NewLeaseStore())
	if !errors.Is(err, election.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSingleNode_BecomesLeaderAndReleases(t *testing.T) {
	store := fakestore.NewLeaseStore()
	cfg := testConfig("node-a")
	cfg.ReleaseOnCancel = true
	e := newElector(t, cfg, store)

	rec := &recorder{}
	leaders := &recorder{}
	e.OnStartLeading(func(ctx context.Context) { rec.add("start") })
	e.OnStoppedLeading(func(ctx context.Context) { rec.add("stop") })
	e.OnNewLeader(func(ctx context.Context, id string) { leaders.add(id) })

	stop := start(t, e)

	waitFor(t, time.Second, e.IsLeader)
	if e.Leader() != "node-a" {
		t.Errorf("Leader() = %q, want node-a", e.Leader())
	}

	// Лидер должен пережить несколько продлений
	time.Sleep(cfg.LeaseDuration * 2)
	if !e.IsLeader() {
		t.Fatal("leader lost leadership without failures")
	}

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}

	assertEvents(t, rec.snapshot(), []string{"start", "stop"})
	assertEvents(t, leaders.snapshot(), []string{"node-a"})

	lease, err := store.Get(context.Background(), testNamespace, testResource)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if lease.HolderIdentity != "" {
		t.Errorf("lease not released, holder = %q", lease.HolderIdentity)
	}
}

func TestRun_Twice(t *testing.T) {
	e := newElector(t, testConfig("node-a"), fakestore.NewLeaseStore())
	start(t, e)

	waitFor(t, time.Second, e.IsLeader)

	if err := e.Run(context.Background()); !errors.Is(err, election.ErrAlreadyRunning) {
		t.Fatalf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestTwoNodes_ExactlyOneLeader(t *testing.T) {
	store := fakestore.NewLeaseStore()
	a := newElector(t, testConfig("node-a"), store.Client())
	b := newElector(t, testConfig("node-b"), store.Client())

	start(t, a)
	start(t, b)

	waitFor(t, time.Second, func() bool { return a.IsLeader() || b.IsLeader() })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if a.IsLeader() && b.IsLeader() {
			t.Fatal("both nodes report leadership")
		}
		if !a.IsLeader() && !b.IsLeader() {
			t.Fatal("leadership lost without failures")
		}
		time.Sleep(time.Millisecond)
	}

	leader, follower := a, b
	if b.IsLeader() {
		leader, follower = b, a
	}
	waitFor(t, time.Second, func() bool { return follower.Leader() == leader.Identity() })
}

func TestFailover_AfterRenewFailures(t *testing.T) {
	store := fakestore.NewLeaseStore()
	clientA, clientB := store.Client(), store.Client()
	cfgA, cfgB := testConfig("node-a"), testConfig("node-b")

	a := newElector(t, cfgA, clientA)
	start(t, a)
	waitFor(t, time.Second, a.IsLeader)

	b := newElector(t, cfgB, clientB)
	start(t, b)
	waitFor(t, time.Second, func() bool { return b.Leader() == "node-a" })

	var bBecameLeader atomic.Bool
	b.OnStartLeading(func(ctx context.Context) { bBecameLeader.Store(true) })

	clientA.Fail(errors.New("connection refused"))
	failedAt := time.Now()

	// Проверяем, что лидеров никогда не двое
	deadline := failedAt.Add(3 * cfgA.LeaseDuration)
	for time.Now().Before(deadline) && !b.IsLeader() {
		if a.IsLeader() && b.IsLeader() {
			t.Fatal("both nodes report leadership during failover")
		}
		time.Sleep(time.Millisecond)
	}

	if !b.IsLeader() {
		t.Fatal("follower did not take over the expired lease")
	}
	if a.IsLeader() {
		t.Fatal("failed leader did not step down")
	}

	// Перехват не раньше истечения lease и не позже одного retry после него
	elapsed := time.Since(failedAt)
	limit := cfgA.LeaseDuration + cfgA.RenewDeadline + 3*cfgB.RetryPeriod
	if elapsed > limit {
		t.Errorf("takeover took %s, want <= %s", elapsed, limit)
	}

	waitFor(t, time.Second, bBecameLeader.Load)

	lease, err := store.Get(context.Background(), testNamespace, testResource)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if lease.HolderIdentity != "node-b" {
		t.Errorf("holder = %q, want node-b", lease.HolderIdentity)
	}
	if lease.Transitions != 1 {
		t.Errorf("transitions = %d, want 1", lease.Transitions)
	}
}

func TestLeader_StepsDownBeforeLeaseExpires(t *testing.T) {
	store := fakestore.NewLeaseStore()
	client := store.Client()
	cfg := testConfig("node-a")
	cfg.ClockSkewTolerance = 250 * time.Millisecond

	e := newElector(t, cfg, client)
	start(t, e)
	waitFor(t, time.Second, e.IsLeader)

	client.Fail(errors.New("connection refused"))
	lease, err := store.Get(context.Background(), testNamespace, testResource)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	waitFor(t, time.Second, func() bool { return !e.IsLeader() })
	steppedDown := time.Now()

	// Лидер сдаётся за skew до истечения, которое видят followers
	if !steppedDown.Before(lease.ExpiresAt().Add(-cfg.ClockSkewTolerance / 5)) {
		t.Errorf("stepped down at %s, lease expires at %s", steppedDown.Format(time.StampMilli), lease.ExpiresAt().Format(time.StampMilli))
	}
	if steppedDown.Before(lease.RenewTime.Add(cfg.LeaseDuration - cfg.ClockSkewTolerance)) {
		t.Errorf("stepped down at %s, before renew + lease - skew", steppedDown.Format(time.StampMilli))
	}
}

func TestTakeover_ExpiredLeaseIncrementsTransitions(t *testing.T) {
	store := fakestore.NewLeaseStore()
	store.Put(&domain.Lease{
		Name:           testResource,
		Namespace:      testNamespace,
		HolderIdentity: "ghost",
		AcquireTime:    time.Now().Add(-2 * time.Hour),
		RenewTime:      time.Now().Add(-time.Hour),
		LeaseDuration:  time.Second,
		Transitions:    3,
	})

	e := newElector(t, testConfig("node-a"), store)
	start(t, e)
	waitFor(t, time.Second, e.IsLeader)

	lease, err := store.Get(context.Background(), testNamespace, testResource)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if lease.HolderIdentity != "node-a" || lease.Transitions != 4 {
		t.Errorf("lease = %+v, want holder node-a and 4 transitions", lease)
	}
}

func TestFollower_WaitsForValidLease(t *testing.T) {
	store := fakestore.NewLeaseStore()
	renewed := time.Now()
	store.Put(&domain.Lease{
		Name:           testResource,
		Namespace:      testNamespace,
		HolderIdentity: "other",
		AcquireTime:    renewed,
		RenewTime:      renewed,
		LeaseDuration:  300 * time.Millisecond,
	})

	e := newElector(t, testConfig("node-a"), store)

	var newLeaders []string
	var mu sync.Mutex
	e.OnNewLeader(func(ctx context.Context, id string) {
		mu.Lock()
		defer mu.Unlock()
		newLeaders = append(newLeaders, id)
	})

	start(t, e)

	waitFor(t, time.Second, func() bool { return e.Leader() == "other" })
	waitFor(t, 2*time.Second, e.IsLeader)

	if held := time.Since(renewed); held < 300*time.Millisecond {
		t.Errorf("took over a valid lease after %s", held)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(newLeaders) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if newLeaders[0] != "other" || newLeaders[1] != "node-a" {
		t.Errorf("new leader events = %v", newLeaders)
	}
}

func TestExternalTakeover_StopsLeadingInOrder(t *testing.T) {
	store := fakestore.NewLeaseStore()
	e := newElector(t, testConfig("node-a"), store)

	rec := &recorder{}
	leaders := &recorder{}
	e.OnStartLeading(func(ctx context.Context) {
		rec.add("start:begin")
		time.Sleep(100 * time.Millisecond)
		rec.add("start:end")
	})
	e.OnStoppedLeading(func(ctx context.Context) { rec.add("stop") })
	e.OnNewLeader(func(ctx context.Context, id string) { leaders.add(id) })

	start(t, e)
	waitFor(t, time.Second, e.IsLeader)

	current, err := store.Get(context.Background(), testNamespace, testResource)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	stolen := current.Clone()
	stolen.HolderIdentity = "intruder"
	stolen.RenewTime = time.Now()
	stolen.LeaseDuration = time.Hour
	store.Put(stolen)

	waitFor(t, time.Second, func() bool { return !e.IsLeader() })
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 3 && len(leaders.snapshot()) == 2 })

	assertEvents(t, rec.snapshot(), []string{"start:begin", "start:end", "stop"})
	assertEvents(t, leaders.snapshot(), []string{"node-a", "intruder"})
}

func TestNewLeader_NotHeldByRunningStartCallback(t *testing.T) {
	store := fakestore.NewLeaseStore()
	e := newElector(t, testConfig("node-a"), store)

	var newLeader atomic.Int32
	stopped := make(chan struct{})
	e.OnStartLeading(func(ctx context.Context) { <-ctx.Done() })
	e.OnStoppedLeading(func(ctx context.Context) { close(stopped) })
	e.OnNewLeader(func(ctx context.Context, id string) { newLeader.Add(1) })

	stop := start(t, e)
	waitFor(t, time.Second, e.IsLeader)

	waitFor(t, time.Second, func() bool { return newLeader.Load() == 1 })
	if !e.IsLeader() {
		t.Fatal("leadership lost before new leader was announced")
	}

	stop()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("OnStoppedLeading not called after start callback returned")
	}
}

func TestStartLeading_NotHeldByBlockedNewLeader(t *testing.T) {
	store := fakestore.NewLeaseStore()
	e := newElector(t, testConfig("node-a"), store)

	release := make(chan struct{})
	defer close(release)
	var started atomic.Bool
	e.OnNewLeader(func(ctx context.Context, id string) { <-release })
	e.OnStartLeading(func(ctx context.Context) { started.Store(true) })

	// Чужой лидер виден первым, его OnNewLeader висит
	store.Put(&domain.Lease{
		Name:           testResource,
		Namespace:      testNamespace,
		HolderIdentity: "other",
		LeaseDuration:  100 * time.Millisecond,
		AcquireTime:    time.Now(),
		RenewTime:      time.Now(),
	})

	start(t, e)
	waitFor(t, 2*time.Second, e.IsLeader)
	waitFor(t, time.Second, started.Load)
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestStartLeadingContext_CanceledOnLoss(t *testing.T) {
	store := fakestore.NewLeaseStore()
	e := newElector(t, testConfig("node-a"), store)

	canceled := make(chan struct{})
	e.OnStartLeading(func(ctx context.Context) {
		go func() {
			<-ctx.Done()
			close(canceled)
		}()
	})

	stop := start(t, e)
	waitFor(t, time.Second, e.IsLeader)
	stop()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("leader context was not canceled")
	}
}

func TestCallbackPanic_IsIsolated(t *testing.T) {
	e := newElector(t, testConfig("node-a"), fakestore.NewLeaseStore())

	var called atomic.Bool
	e.OnStartLeading(func(ctx context.Context) { panic("boom") })
	e.OnStartLeading(func(ctx context.Context) { called.Store(true) })

	start(t, e)

	waitFor(t, time.Second, called.Load)

	time.Sleep(100 * time.Millisecond)
	if !e.IsLeader() {
		t.Error("panicking callback affected the control loop")
	}
}

func TestStoreErrors_NoPhantomLeadership(t *testing.T) {
	store := fakestore.NewLeaseStore()
	client := store.Client()
	client.Fail(errors.New("timeout"))

	e := newElector(t, testConfig("node-a"), client)
	start(t, e)

	time.Sleep(200 * time.Millisecond)
	if e.IsLeader() {
		t.Fatal("became leader without persisting the lease")
	}

	client.Fail(nil)
	waitFor(t, time.Second, e.IsLeader)
}
