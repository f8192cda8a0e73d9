package referral

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"referralhub/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func TestReferralEventsHaveHandlers(t *testing.T) {
	mux := asynq.NewServeMux()
	registerTaskHandlers(mux)

	body, err := json.Marshal(CreatedPayload{ClientID: "client-a", ReferralID: "ref-1", CampaignID: "camp-1"})
	require.NoError(t, err)

	for _, name := range []string{taskname.ReferralCreated, taskname.ReferralConverted} {
		job := asynq.NewTask(name, body)
		_, pattern := mux.Handler(job)
		require.Equal(t, name, pattern)
		require.NoError(t, mux.ProcessTask(context.Background(), job))
	}
}

func TestReferralEventRejectsBadPayload(t *testing.T) {
	err := HandleReferralEvent(context.Background(), asynq.NewTask(taskname.ReferralCreated, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
