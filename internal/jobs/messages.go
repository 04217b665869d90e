package jobs

import (
	"context"
	"fmt"

	"github.com/shaiso/Quorum/internal/broadcast"
	"github.com/shaiso/Quorum/internal/telemetry"
)

// Сообщения кластера, которые обрабатывает планировщик.
type (
	CancelJob     = broadcast.CancelJob
	RescheduleJob = broadcast.RescheduleJob
)

// registerMessages регистрирует обработчики CancelJob и RescheduleJob.
// Обработчики применяют изменения только локально (broadcast=false),
// поэтому повторная доставка сообщения ничего не меняет.
func (s *Scheduler) registerMessages() error {
	err := broadcast.Register(s.messages, broadcast.MsgCancelJob, "CancelJob",
		func(ctx context.Context, m CancelJob) error {
			_, err := s.Cancel(ctx, m.ID, false)
			return err
		})
	if err != nil {
		return fmt.Errorf("register CancelJob: %w", err)
	}

	err = broadcast.Register(s.messages, broadcast.MsgRescheduleJob, "RescheduleJob",
		func(ctx context.Context, m RescheduleJob) error {
			return s.Reschedule(ctx, m.ID, m.Time, false)
		})
	if err != nil {
		return fmt.Errorf("register RescheduleJob: %w", err)
	}

	return nil
}

// publish рассылает сообщение всем узлам.
func (s *Scheduler) publish(ctx context.Context, msg any) error {
	env, err := s.messages.Encode(msg)
	if err != nil {
		return err
	}
	return s.bus.Broadcast(ctx, env)
}

// handleBroadcast — обработчик broadcast-подписки узла.
// Через него проходят все сообщения реестра, не только сообщения задач.
func (s *Scheduler) handleBroadcast(ctx context.Context, env broadcast.Envelope) {
	name := s.messages.Name(env.ID)
	telemetry.BroadcastReceived.WithLabelValues(name).Inc()

	if err := s.messages.Dispatch(ctx, env); err != nil {
		s.logger.Warn("failed to handle broadcast", "message", name, "error", err)
	}
}
