package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/election"
	"github.com/shaiso/Quorum/internal/fakestore"
)

type testNode struct {
	elector *election.Elector
	cancel  context.CancelFunc
	done    chan struct{}
}

func startNode(t *testing.T, identity string, leases *fakestore.LeaseStore, broker *fakestore.Bus) *testNode {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := election.Config{
		ResourceName:       "quorum-leader",
		Namespace:          "test",
		Identity:           identity,
		LeaseDuration:      5 * time.Second,
		RenewDeadline:      3 * time.Second,
		RetryPeriod:        20 * time.Millisecond,
		JitterMin:          1.0,
		JitterMax:          1.2,
		ClockSkewTolerance: 100 * time.Millisecond,
		ReleaseOnCancel:    true,
		Logger:             logger,
	}
	elector, err := election.New(cfg, leases.Client())
	if err != nil {
		t.Fatalf("election.New: %v", err)
	}

	client := broker.Client()
	messages := broadcast.NewRegistry(logger)
	a := &leaderAnnouncer{elector: elector, messages: messages, bus: client, logger: logger}
	if err := a.register(); err != nil {
		t.Fatalf("register: %v", err)
	}
	a.attach()
	messages.Freeze()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := client.SubscribeBroadcast(ctx, func(ctx context.Context, env broadcast.Envelope) {
		messages.Dispatch(ctx, env)
	})
	if err != nil {
		t.Fatalf("SubscribeBroadcast: %v", err)
	}

	n := &testNode{elector: elector, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(n.done)
		elector.Run(ctx)
	}()

	t.Cleanup(func() {
		n.stop()
		sub.Stop()
	})
	return n
}

func (n *testNode) stop() {
	n.cancel()
	<-n.done
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestLeaderRelease_WakesFollower(t *testing.T) {
	leases := fakestore.NewLeaseStore()
	broker := fakestore.NewBus()

	a := startNode(t, "node-a", leases, broker)
	waitFor(t, 2*time.Second, a.elector.IsLeader)

	b := startNode(t, "node-b", leases, broker)
	waitFor(t, 2*time.Second, func() bool { return b.elector.Leader() == "node-a" })

	released := time.Now()
	a.stop()

	// Без LeaderChanged follower ждал бы истечения lease (5s).
	waitFor(t, 2*time.Second, b.elector.IsLeader)
	if d := time.Since(released); d >= 5*time.Second {
		t.Errorf("takeover took %v, follower was not woken", d)
	}
}

func TestLeaderAnnouncer_IgnoresNamedLeader(t *testing.T) {
	leases := fakestore.NewLeaseStore()
	broker := fakestore.NewBus()

	a := startNode(t, "node-a", leases, broker)
	waitFor(t, 2*time.Second, a.elector.IsLeader)

	b := startNode(t, "node-b", leases, broker)
	waitFor(t, 2*time.Second, func() bool { return b.elector.Leader() == "node-a" })

	time.Sleep(200 * time.Millisecond)
	if b.elector.IsLeader() {
		t.Fatal("follower took over a valid lease")
	}
	if !a.elector.IsLeader() {
		t.Fatal("leader lost leadership")
	}
}
