package wallet

import (
	"context"
	"testing"
	"time"

	"referralhub/pkg/config"
	"referralhub/services/campaign"
	"referralhub/services/participant"
	"referralhub/services/referral"
	"referralhub/services/reward"

	"github.com/stretchr/testify/require"
)

// referralFlow wires the submission path on top of the wallet fixture.
type referralFlow struct {
	*fixture
	referrals *referral.Service
	rewards   *reward.Service
	campaign  *campaign.Campaign
}

func newReferralFlow(t *testing.T) *referralFlow {
	t.Helper()
	ctx := context.Background()

	f := newFixture(t, &campaign.Campaign{}, &participant.Participant{}, &referral.Referral{})

	cfg := &config.Config{}
	cfg.Referral.DefaultRegion = "BR"
	cfg.Referral.DedupWindow = 10 * time.Minute
	cfg.Referral.SelfReferralPolicy = config.SelfReferralFlag

	rewards := reward.NewService(reward.ServiceParams{DB: f.db, Node: f.node})
	camps := campaign.NewService(campaign.ServiceParams{DB: f.db, Node: f.node, Config: cfg, Rewards: rewards})
	parts := participant.NewService(participant.ServiceParams{DB: f.db, Node: f.node, Config: cfg, Campaigns: camps})
	engine := reward.NewEngine(reward.EngineParams{DB: f.db, Node: f.node, Rules: camps})

	tpl, err := rewards.CreateTemplate(ctx, reward.CreateTemplateRequest{ClientID: "client-a", Type: reward.TypePix, Value: 10})
	require.NoError(t, err)
	c, err := camps.CreateCampaign(ctx, campaign.CreateCampaignRequest{ClientID: "client-a", Name: "Campanha C", RewardOnReferralID: &tpl.ID})
	require.NoError(t, err)
	c, err = camps.UpdateStatus(ctx, "client-a", c.ID, campaign.StatusActive)
	require.NoError(t, err)

	code := "ABC123"
	indicator := &participant.Participant{
		ID: "ind-i", ClientID: "client-a", Name: "Indicador I", Email: "i@example.com",
		Tipo: participant.TipoIndicador, Status: participant.StatusAtivo, ReferralCode: &code, CanIndicate: true,
		Lists: []string{},
	}
	require.NoError(t, f.db.Create(indicator).Error)

	return &referralFlow{
		fixture:   f,
		referrals: referral.NewService(referral.ServiceParams{DB: f.db, Node: f.node, Config: cfg, Campaigns: camps, Participants: parts, Rewards: engine}),
		rewards:   rewards,
		campaign:  c,
	}
}

func TestAttributedReferralCreditsWalletOnceConfirmed(t *testing.T) {
	ctx := context.Background()
	flow := newReferralFlow(t)
	scope := Scope{ClientID: "client-a", IndicatorID: "ind-i"}

	out, err := flow.referrals.Submit(ctx, referral.Submission{
		Name: "Lead L", Email: "l@example.com", CampaignID: flow.campaign.ID, IndicatorCode: "ABC123",
	})
	require.NoError(t, err)
	require.Equal(t, "ind-i", *out.Referral.IndicatorID)
	require.Equal(t, flow.campaign.ID, out.Referral.CampaignID)

	require.NotNil(t, out.Reward)
	require.Equal(t, reward.TypePix, out.Reward.Type)
	require.Equal(t, int64(10), out.Reward.Value)
	require.Equal(t, reward.StatusPendente, out.Reward.Status)
	require.Equal(t, "ind-i", *out.Reward.IndicatorID)
	require.Equal(t, flow.campaign.ID, *out.Reward.CampaignID)

	saldo, err := flow.svc.GetBalance(ctx, scope)
	require.NoError(t, err)
	require.Zero(t, saldo)

	lines := collect(t, flow.fixture, StatementQuery{Scope: scope})
	require.Equal(t, []string{out.Reward.ID}, lines)

	_, err = flow.rewards.UpdateStatus(ctx, "client-a", out.Reward.ID, reward.StatusChange{Status: reward.StatusAprovada, Actor: "admin"})
	require.NoError(t, err)

	saldo, err = flow.svc.GetBalance(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, int64(10), saldo)

	for tx, err := range flow.svc.Statement(ctx, StatementQuery{Scope: scope}) {
		require.NoError(t, err)
		require.Equal(t, StatusConfirmado, tx.Status)
		require.Equal(t, TipoEntrada, tx.Tipo)
	}
}

func TestOrganicReferralLeavesWalletsAlone(t *testing.T) {
	ctx := context.Background()
	flow := newReferralFlow(t)

	out, err := flow.referrals.Submit(ctx, referral.Submission{Name: "Lead L", Email: "l@example.com", CampaignID: flow.campaign.ID})
	require.NoError(t, err)
	require.Nil(t, out.Referral.IndicatorID)
	require.Nil(t, out.Reward)

	var instances int64
	require.NoError(t, flow.db.Model(&reward.Reward{}).Where("referral_id IS NOT NULL").Count(&instances).Error)
	require.Zero(t, instances)

	saldo, err := flow.svc.GetBalance(ctx, Scope{ClientID: "client-a"})
	require.NoError(t, err)
	require.Zero(t, saldo)
}
