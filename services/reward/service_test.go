package reward

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"referralhub/pkg/config"
	"referralhub/pkg/db/option"
	"referralhub/pkg/errutil"
	"referralhub/pkg/repository"
	"referralhub/pkg/taskname"
	"referralhub/services/campaign"
	"referralhub/services/participant"
	"referralhub/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	withTrxFn     func(tx *gorm.DB) repository.Repository[T]
	findFn        func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn     func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn      func(ctx context.Context, resource *T) error
	updateFn      func(ctx context.Context, resourceID string, resource any) error
	batchCreateFn func(ctx context.Context, resources []*T) error
	batchUpdateFn func(ctx context.Context, resources []*T) error
	countFn       func(ctx context.Context, query *T) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	if m.withTrxFn != nil {
		return m.withTrxFn(tx)
	}
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if m.batchCreateFn != nil {
		return m.batchCreateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	if m.batchUpdateFn != nil {
		return m.batchUpdateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query)
	}
	return 0, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

func (f *fakeEnqueuer) count(typeName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tasks {
		if t.Type() == typeName {
			n++
		}
	}
	return n
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	engine   *Engine
	dup      *Duplicator
	campaign *campaign.Service
	enq      *fakeEnqueuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &campaign.Campaign{}, &Reward{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	enq := &fakeEnqueuer{}
	svc := NewService(ServiceParams{DB: db, Node: node, Enqueuer: enq})
	camp := campaign.NewService(campaign.ServiceParams{DB: db, Node: node, Config: &config.Config{}, Rewards: svc})

	return &fixture{
		db:       db,
		svc:      svc,
		engine:   NewEngine(EngineParams{DB: db, Node: node, Rules: camp, Enqueuer: enq}),
		dup:      NewDuplicator(DuplicatorParams{DB: db, Node: node, Campaigns: camp}),
		campaign: camp,
		enq:      enq,
	}
}

func (f *fixture) template(t *testing.T, clientID string, value int64, condition string) *Reward {
	t.Helper()
	r, err := f.svc.CreateTemplate(context.Background(), CreateTemplateRequest{
		ClientID: clientID, Type: TypePix, Value: value, Description: "Pix por indicação", Condition: condition,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) campaignWith(t *testing.T, clientID string, onReferral, onConversion *Reward) *campaign.Campaign {
	t.Helper()
	req := campaign.CreateCampaignRequest{ClientID: clientID, Name: "Indique e Ganhe"}
	if onReferral != nil {
		req.RewardOnReferralID = &onReferral.ID
	}
	if onConversion != nil {
		req.RewardOnConversionID = &onConversion.ID
	}
	c, err := f.campaign.CreateCampaign(context.Background(), req)
	require.NoError(t, err)
	return c
}

func (f *fixture) instances(t *testing.T) []Reward {
	t.Helper()
	var out []Reward
	require.NoError(t, f.db.Where("referral_id IS NOT NULL").Find(&out).Error)
	return out
}

func TestProcessWithoutIndicatorOwesNothing(t *testing.T) {
	f := newFixture(t)
	c := f.campaignWith(t, "client-a", f.template(t, "client-a", 5000, ""), nil)

	r, err := f.engine.Process(context.Background(), Event{ReferralID: "ref-1", CampaignID: c.ID, EventType: campaign.EventOnReferral})
	require.NoError(t, err)
	require.Nil(t, r)
	require.Empty(t, f.instances(t))
}

func TestProcessUnknownCampaignIsFatal(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Process(context.Background(), Event{
		ReferralID: "ref-1", IndicatorID: "ind-1", CampaignID: "missing", EventType: campaign.EventOnReferral,
	})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestProcessWithoutRuleOwesNothing(t *testing.T) {
	f := newFixture(t)
	c := f.campaignWith(t, "client-a", f.template(t, "client-a", 5000, ""), nil)

	r, err := f.engine.Process(context.Background(), Event{
		ReferralID: "ref-1", IndicatorID: "ind-1", CampaignID: c.ID, EventType: campaign.EventOnConversion,
	})
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestProcessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tpl := f.template(t, "client-a", 5000, "")
	c := f.campaignWith(t, "client-a", tpl, nil)

	ev := Event{ReferralID: "ref-1", IndicatorID: "ind-1", CampaignID: c.ID, EventType: campaign.EventOnReferral}
	first, err := f.engine.Process(ctx, ev)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.engine.Process(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	rows := f.instances(t)
	require.Len(t, rows, 1)
	require.Equal(t, int64(5000), rows[0].Value)
	require.Equal(t, TypePix, rows[0].Type)
	require.Equal(t, StatusPendente, rows[0].Status)
	require.Equal(t, c.ID, *rows[0].CampaignID)
	require.Equal(t, "Indique e Ganhe", rows[0].CampaignName)
	require.Equal(t, tpl.ID, *rows[0].TemplateID)
	require.Len(t, rows[0].History, 1)
	require.Equal(t, ActorSystem, rows[0].History[0].Actor)
	require.Equal(t, 1, f.enq.count(taskname.RewardCreated))
}

func TestProcessResolvesInsertRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.campaignWith(t, "client-a", f.template(t, "client-a", 5000, ""), nil)

	ev := Event{ReferralID: "ref-1", IndicatorID: "ind-1", CampaignID: c.ID, EventType: campaign.EventOnReferral}
	winner, err := f.engine.Process(ctx, ev)
	require.NoError(t, err)

	// the losing call saw no instance before its insert
	store := f.engine.reward
	missedOnce := false
	f.engine.reward = &repoMock[Reward]{
		findOneFn: func(ctx context.Context, q *Reward, opts ...option.QueryOption) (*Reward, error) {
			if q.ReferralID != nil && !missedOnce {
				missedOnce = true
				return nil, nil
			}
			return store.FindOne(ctx, q, opts...)
		},
		createFn: store.Create,
	}

	loser, err := f.engine.Process(ctx, ev)
	require.NoError(t, err)
	require.True(t, missedOnce)
	require.Equal(t, winner.ID, loser.ID)
	require.Len(t, f.instances(t), 1)
}

func TestProcessHonoursTemplateCondition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tpl := f.template(t, "client-a", 1000, `referral.source == "landing-page"`)
	c := f.campaignWith(t, "client-a", tpl, nil)

	r, err := f.engine.Process(ctx, Event{
		ReferralID: "ref-1", IndicatorID: "ind-1", CampaignID: c.ID, EventType: campaign.EventOnReferral,
		Attributes: map[string]any{"source": "import"},
	})
	require.NoError(t, err)
	require.Nil(t, r)

	r, err = f.engine.Process(ctx, Event{
		ReferralID: "ref-2", IndicatorID: "ind-1", CampaignID: c.ID, EventType: campaign.EventOnReferral,
		Attributes: map[string]any{"source": "landing-page"},
	})
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestCreateTemplateRejectsBadCondition(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateTemplate(context.Background(), CreateTemplateRequest{
		ClientID: "client-a", Type: TypePoints, Value: 10, Condition: "referral.source ==",
	})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestUpdateStatusMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tpl := f.template(t, "client-a", 5000, "")
	c := f.campaignWith(t, "client-a", tpl, nil)

	r, err := f.engine.Process(ctx, Event{ReferralID: "ref-1", IndicatorID: "ind-1", CampaignID: c.ID, EventType: campaign.EventOnReferral})
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, "client-a", tpl.ID, StatusChange{Status: StatusAprovada})
	require.True(t, errutil.Is(err, errutil.StatusUnprocessableEntity))

	r, err = f.svc.UpdateStatus(ctx, "client-a", r.ID, StatusChange{Status: StatusAprovada, Actor: "user:ana", Note: "ok"})
	require.NoError(t, err)
	require.Equal(t, StatusAprovada, r.Status)

	_, err = f.svc.UpdateStatus(ctx, "client-a", r.ID, StatusChange{Status: StatusCancelada})
	require.True(t, errutil.Is(err, errutil.StatusInvalidTransition))

	gateway := "pix-123"
	r, err = f.svc.UpdateStatus(ctx, "client-a", r.ID, StatusChange{Status: StatusPaga, PaymentGatewayID: &gateway})
	require.NoError(t, err)
	require.Equal(t, StatusPaga, r.Status)
	require.NotNil(t, r.PaymentDate)
	require.Equal(t, gateway, *r.PaymentGatewayID)
	require.Len(t, r.History, 3)
	require.Equal(t, "user:ana", r.History[1].Actor)

	for _, next := range []Status{StatusPendente, StatusAprovada, StatusCancelada, StatusPaga} {
		_, err = f.svc.UpdateStatus(ctx, "client-a", r.ID, StatusChange{Status: next})
		require.True(t, errutil.Is(err, errutil.StatusInvalidTransition), "paga -> %s", next)
	}

	// type and value never move
	require.Equal(t, int64(5000), r.Value)
	require.Equal(t, TypePix, r.Type)

	_, err = f.svc.UpdateStatus(ctx, "client-b", r.ID, StatusChange{Status: StatusPaga})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
	require.Equal(t, 2, f.enq.count(taskname.RewardStatusChanged))
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusPendente, StatusPaga))
	require.True(t, CanTransition(StatusPendente, StatusCancelada))
	require.True(t, CanTransition(StatusAprovada, StatusPaga))
	require.False(t, CanTransition(StatusAprovada, StatusCancelada))
	require.False(t, CanTransition(StatusCancelada, StatusPendente))
	require.False(t, CanTransition(StatusPaga, StatusCancelada))
}

func TestDuplicateTemplatesFidelity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.template(t, "client-a", 5000, "")
	b := f.template(t, "client-a", 200, `event == "onConversion"`)

	copies, err := f.dup.DuplicateTemplates(ctx, []*Reward{a, b}, "camp-new", "Nova", "client-a")
	require.NoError(t, err)
	require.Len(t, copies, 2)

	for i, src := range []*Reward{a, b} {
		cp := copies[i]
		require.NotEqual(t, src.ID, cp.ID)
		require.Equal(t, src.Type, cp.Type)
		require.Equal(t, src.Value, cp.Value)
		require.Equal(t, src.Description, cp.Description)
		require.Equal(t, src.Condition, cp.Condition)
		require.Equal(t, "camp-new", *cp.CampaignID)
		require.Equal(t, "Nova", cp.CampaignName)
		require.Equal(t, StatusPendente, cp.Status)
		require.Empty(t, cp.History)
		require.Nil(t, cp.IndicatorID)
		require.Nil(t, cp.PaymentDate)
		require.Equal(t, src.ID, *cp.SourceTemplateID)

		stored, err := f.svc.GetReward(ctx, "client-a", src.ID)
		require.NoError(t, err)
		require.Nil(t, stored.CampaignID)
		require.Nil(t, stored.SourceTemplateID)
	}

	again, err := f.dup.DuplicateTemplates(ctx, []*Reward{a, b}, "camp-new", "Nova", "client-a")
	require.NoError(t, err)
	require.Equal(t, copies[0].ID, again[0].ID)
	require.Equal(t, copies[1].ID, again[1].ID)

	var total int64
	require.NoError(t, f.db.Model(&Reward{}).Count(&total).Error)
	require.Equal(t, int64(4), total)

	_, err = f.dup.DuplicateTemplates(ctx, []*Reward{a}, "camp-other", "Outra", "client-b")
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestCloneCampaign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	onRef := f.template(t, "client-a", 1000, "")
	onConv := f.template(t, "client-a", 5000, "")
	src := f.campaignWith(t, "client-a", onRef, onConv)

	clone, err := f.dup.CloneCampaign(ctx, "client-a", src.ID, "")
	require.NoError(t, err)
	require.Equal(t, campaign.StatusDraft, clone.Status)
	require.Equal(t, "Indique e Ganhe (cópia)", clone.Name)
	require.Equal(t, src.ID, *clone.SourceCampaignID)

	stored, err := f.campaign.GetCampaign(ctx, clone.ID)
	require.NoError(t, err)

	refCopy, err := f.svc.GetReward(ctx, "client-a", stored.RewardID(campaign.EventOnReferral))
	require.NoError(t, err)
	require.Equal(t, onRef.ID, *refCopy.SourceTemplateID)
	require.Equal(t, clone.ID, *refCopy.CampaignID)

	convCopy, err := f.svc.GetReward(ctx, "client-a", stored.RewardID(campaign.EventOnConversion))
	require.NoError(t, err)
	require.Equal(t, onConv.ID, *convCopy.SourceTemplateID)
	require.Equal(t, int64(5000), convCopy.Value)

	original, err := f.campaign.GetCampaign(ctx, src.ID)
	require.NoError(t, err)
	require.Equal(t, onRef.ID, original.RewardID(campaign.EventOnReferral))
	require.Equal(t, onConv.ID, original.RewardID(campaign.EventOnConversion))

	_, err = f.dup.CloneCampaign(ctx, "client-b", src.ID, "")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestDeactivationPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tpl := f.template(t, "client-a", 5000, "")
	c := f.campaignWith(t, "client-a", tpl, tpl)

	pending, err := f.engine.Process(ctx, Event{ReferralID: "ref-1", IndicatorID: "ind-1", CampaignID: c.ID, EventType: campaign.EventOnReferral})
	require.NoError(t, err)
	approved, err := f.engine.Process(ctx, Event{ReferralID: "ref-1", IndicatorID: "ind-1", CampaignID: c.ID, EventType: campaign.EventOnConversion})
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, "client-a", approved.ID, StatusChange{Status: StatusAprovada})
	require.NoError(t, err)

	body, err := json.Marshal(participant.DeactivatedPayload{ClientID: "client-a", ParticipantID: "ind-1"})
	require.NoError(t, err)
	job := asynq.NewTask(taskname.ParticipantDeactivated, body)

	cfg := &config.Config{}
	worker := NewTask(TaskParams{Service: f.svc, Config: cfg})

	require.NoError(t, worker.HandleParticipantDeactivated(ctx, job))
	kept, err := f.svc.GetReward(ctx, "client-a", pending.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendente, kept.Status)

	cfg.Reward.CancelPendingOnDeactivation = true
	require.NoError(t, worker.HandleParticipantDeactivated(ctx, job))

	cancelled, err := f.svc.GetReward(ctx, "client-a", pending.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelada, cancelled.Status)
	require.Equal(t, ActorSystemDeactivation, cancelled.History[len(cancelled.History)-1].Actor)

	still, err := f.svc.GetReward(ctx, "client-a", approved.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAprovada, still.Status)
}

func TestWorkerHandlesEveryRewardTask(t *testing.T) {
	f := newFixture(t)
	mux := asynq.NewServeMux()
	registerTaskHandlers(mux, NewTask(TaskParams{Service: f.svc, Config: &config.Config{}}))

	body, err := json.Marshal(StatusChangedPayload{ClientID: "client-a", RewardID: "rw-1", From: StatusPendente, To: StatusAprovada})
	require.NoError(t, err)

	for _, name := range []string{taskname.RewardCreated, taskname.RewardStatusChanged, taskname.ParticipantDeactivated} {
		_, pattern := mux.Handler(asynq.NewTask(name, body))
		require.Equal(t, name, pattern)
	}
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(taskname.RewardStatusChanged, body)))
}
