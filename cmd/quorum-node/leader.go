package main

import (
	"context"
	"log/slog"

	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/bus"
	"github.com/shaiso/Quorum/internal/election"
)

// leaderAnnouncer рассылает LeaderChanged при смене лидерства этого узла.
//
// Follower спит до истечения чужого lease; LeaderChanged с пустым
// Identity будит его сразу после того, как лидер освободил lease.
type leaderAnnouncer struct {
	elector  *election.Elector
	messages *broadcast.Registry
	bus      bus.Bus
	logger   *slog.Logger
}

// register добавляет обработчик LeaderChanged. Вызывается до Freeze.
func (a *leaderAnnouncer) register() error {
	return broadcast.Register(a.messages, broadcast.MsgLeaderChanged, "LeaderChanged", a.handle)
}

// attach подписывается на события выборов.
func (a *leaderAnnouncer) attach() {
	a.elector.OnStartLeading(func(ctx context.Context) {
		a.announce(ctx, a.elector.Identity())
	})
	a.elector.OnStoppedLeading(func(ctx context.Context) {
		a.announce(ctx, "")
	})
}

func (a *leaderAnnouncer) announce(ctx context.Context, identity string) {
	env, err := a.messages.Encode(broadcast.LeaderChanged{Identity: identity})
	if err != nil {
		a.logger.Error("failed to encode leader change", "error", err)
		return
	}
	if err := a.bus.Broadcast(context.WithoutCancel(ctx), env); err != nil {
		a.logger.Warn("failed to broadcast leader change", "identity", identity, "error", err)
	}
}

func (a *leaderAnnouncer) handle(_ context.Context, msg broadcast.LeaderChanged) error {
	if msg.Identity != "" {
		a.logger.Debug("leader announced", "leader", msg.Identity)
		return nil
	}
	if a.elector.IsLeader() {
		return nil
	}
	a.logger.Info("leader released lease, retrying acquire")
	a.elector.Nudge()
	return nil
}
