package referral

import (
	"context"
	"encoding/json"
	"fmt"

	"referralhub/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.referral",
	fx.Invoke(registerTaskHandlers),
)

func registerTaskHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(taskname.ReferralCreated, HandleReferralEvent)
	mux.HandleFunc(taskname.ReferralConverted, HandleReferralEvent)
}

// HandleReferralEvent records referral:created and referral:converted.
func HandleReferralEvent(ctx context.Context, task *asynq.Task) error {
	var payload CreatedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w: %w", err, asynq.SkipRetry)
	}

	zap.L().Info("referral event",
		zap.String("task_type", task.Type()),
		zap.String("client_id", payload.ClientID),
		zap.String("referral_id", payload.ReferralID),
		zap.String("campaign_id", payload.CampaignID),
		zap.String("indicator_id", payload.IndicatorID),
		zap.String("reward_id", payload.RewardID),
		zap.String("trace_id", payload.TraceID),
	)
	return nil
}
