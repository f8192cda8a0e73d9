package reward

import (
	"context"
	"time"

	"referralhub/pkg/celengine"
	"referralhub/pkg/errutil"
	"referralhub/pkg/repository"
	"referralhub/pkg/task"
	"referralhub/pkg/taskname"
	"referralhub/services/campaign"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RuleSource resolves which reward template a campaign attaches to an event.
type RuleSource interface {
	GetRewardRule(ctx context.Context, campaignID string, event campaign.EventType) (*campaign.RewardRule, error)
}

// Event is one qualifying moment for a referral. Attributes feed template
// conditions as the "referral" variable.
type Event struct {
	ReferralID  string
	IndicatorID string
	CampaignID  string
	EventType   campaign.EventType
	Attributes  map[string]any
}

type Engine struct {
	node     *snowflake.Node
	reward   repository.Repository[Reward]
	rules    RuleSource
	enqueuer task.Enqueuer
	now      func() time.Time
}

type EngineParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Rules    RuleSource
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		node:     p.Node,
		reward:   repository.ProvideStore[Reward](p.DB),
		rules:    p.Rules,
		enqueuer: p.Enqueuer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process materialises the reward for ev at most once. It returns (nil, nil)
// when nothing is owed: no indicator, no rule for the event, or a template
// condition that does not hold. An unknown campaign is an error.
func (e *Engine) Process(ctx context.Context, ev Event) (*Reward, error) {
	fields := append(logFields(ctx),
		zap.String("referral_id", ev.ReferralID),
		zap.String("campaign_id", ev.CampaignID),
		zap.String("event_type", string(ev.EventType)),
	)

	if ev.IndicatorID == "" {
		return nil, nil
	}

	rule, err := e.rules.GetRewardRule(ctx, ev.CampaignID, ev.EventType)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, nil
	}

	existing, err := e.findInstance(ctx, ev)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	tpl, err := e.reward.FindOne(ctx, &Reward{ID: rule.RewardID})
	if err != nil {
		zap.L().With(fields...).Error("failed to load reward template", zap.Error(err))
		return nil, errutil.Internal("failed to load reward", err)
	}
	if tpl == nil {
		zap.L().With(fields...).Error("campaign points at a missing reward", zap.String("reward_id", rule.RewardID))
		return nil, errutil.NotFound("reward template not found", nil)
	}

	if tpl.Condition != "" {
		attrs := ev.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		ok, err := celengine.Evaluate(tpl.Condition, map[string]any{
			"referral": attrs,
			"event":    string(ev.EventType),
			"campaign": map[string]any{"id": rule.CampaignID, "name": rule.CampaignName},
		})
		if err != nil {
			zap.L().With(fields...).Error("reward condition failed to evaluate", zap.String("reward_id", tpl.ID), zap.Error(err))
			return nil, errutil.Internal("failed to evaluate reward condition", err)
		}
		if !ok {
			return nil, nil
		}
	}

	now := e.now()
	eventType := ev.EventType
	r := &Reward{
		ID:           e.node.Generate().String(),
		ClientID:     tpl.ClientID,
		Type:         tpl.Type,
		Value:        tpl.Value,
		Description:  tpl.Description,
		CampaignID:   &rule.CampaignID,
		CampaignName: rule.CampaignName,
		Status:       StatusPendente,
		History:      datatypes.JSONSlice[HistoryEntry]{{Status: StatusPendente, At: now, Actor: ActorSystem}},
		ReferralID:   &ev.ReferralID,
		IndicatorID:  &ev.IndicatorID,
		EventType:    &eventType,
		TemplateID:   &tpl.ID,
	}

	if err := e.reward.Create(ctx, r); err != nil {
		if isDuplicate(err) {
			// a concurrent call won the insert
			return e.findInstance(ctx, ev)
		}
		zap.L().With(fields...).Error("failed to create reward", zap.Error(err))
		return nil, errutil.Internal("failed to create reward", err)
	}

	span := trace.SpanFromContext(ctx).SpanContext()
	if err := task.Publish(ctx, e.enqueuer, taskname.RewardCreated, CreatedPayload{
		ClientID:    r.ClientID,
		RewardID:    r.ID,
		IndicatorID: ev.IndicatorID,
		ReferralID:  ev.ReferralID,
		EventType:   ev.EventType,
		Type:        r.Type,
		Value:       r.Value,
		TraceID:     span.TraceID().String(),
	}); err != nil {
		zap.L().With(fields...).Warn("failed to enqueue reward created", zap.String("reward_id", r.ID), zap.Error(err))
	}

	zap.L().With(fields...).Info("reward created", zap.String("reward_id", r.ID), zap.Int64("value", r.Value))
	return r, nil
}

func (e *Engine) findInstance(ctx context.Context, ev Event) (*Reward, error) {
	eventType := ev.EventType
	r, err := e.reward.FindOne(ctx, &Reward{
		ReferralID:  &ev.ReferralID,
		IndicatorID: &ev.IndicatorID,
		EventType:   &eventType,
	})
	if err != nil {
		return nil, errutil.Internal("failed to load reward", err)
	}
	return r, nil
}
