package reward

import (
	"context"
	"encoding/json"
	"fmt"

	"referralhub/pkg/config"
	"referralhub/pkg/taskname"
	"referralhub/services/participant"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.reward",
	fx.Provide(NewTask),
	fx.Invoke(registerTaskHandlers),
)

type Task struct {
	svc *Service
	cfg *config.Config
}

type TaskParams struct {
	fx.In

	Service *Service
	Config  *config.Config
}

func NewTask(p TaskParams) *Task {
	return &Task{svc: p.Service, cfg: p.Config}
}

func registerTaskHandlers(mux *asynq.ServeMux, t *Task) {
	mux.HandleFunc(taskname.ParticipantDeactivated, t.HandleParticipantDeactivated)
	mux.HandleFunc(taskname.RewardCreated, t.HandleRewardCreated)
	mux.HandleFunc(taskname.RewardStatusChanged, t.HandleRewardStatusChanged)
}

func (t *Task) cancelOnDeactivation() bool {
	if cur := config.Current(); cur != nil {
		return cur.Reward.CancelPendingOnDeactivation
	}
	return t.cfg.Reward.CancelPendingOnDeactivation
}

// HandleParticipantDeactivated applies the deactivation policy: pending
// rewards are kept unless REWARD.CANCEL_PENDING_ON_DEACTIVATION is on.
func (t *Task) HandleParticipantDeactivated(ctx context.Context, task *asynq.Task) error {
	var payload participant.DeactivatedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", task.Type()),
		zap.String("client_id", payload.ClientID),
		zap.String("participant_id", payload.ParticipantID),
		zap.String("trace_id", payload.TraceID),
	)

	if !t.cancelOnDeactivation() {
		zapLog.Info("pending rewards kept for deactivated participant")
		return nil
	}

	n, err := t.svc.CancelPendingForIndicator(ctx, payload.ClientID, payload.ParticipantID,
		ActorSystemDeactivation, "participant deactivated")
	if err != nil {
		zapLog.Error("failed to cancel pending rewards", zap.Int("cancelled", n), zap.Error(err))
		return err
	}

	zapLog.Info("pending rewards cancelled", zap.Int("cancelled", n))
	return nil
}

func (t *Task) HandleRewardCreated(ctx context.Context, task *asynq.Task) error {
	var payload CreatedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	zap.L().Info("reward created",
		zap.String("task_type", task.Type()),
		zap.String("client_id", payload.ClientID),
		zap.String("reward_id", payload.RewardID),
		zap.String("indicator_id", payload.IndicatorID),
		zap.String("event_type", string(payload.EventType)),
		zap.Int64("value", payload.Value),
		zap.String("trace_id", payload.TraceID),
	)
	return nil
}

func (t *Task) HandleRewardStatusChanged(ctx context.Context, task *asynq.Task) error {
	var payload StatusChangedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	zap.L().Info("reward status changed",
		zap.String("task_type", task.Type()),
		zap.String("client_id", payload.ClientID),
		zap.String("reward_id", payload.RewardID),
		zap.String("from", string(payload.From)),
		zap.String("to", string(payload.To)),
		zap.String("actor", payload.Actor),
	)
	return nil
}
