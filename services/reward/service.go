package reward

import (
	"context"
	"errors"
	"strings"
	"time"

	"referralhub/pkg/celengine"
	"referralhub/pkg/db/option"
	"referralhub/pkg/db/pagination"
	"referralhub/pkg/errutil"
	"referralhub/pkg/repository"
	"referralhub/pkg/task"
	"referralhub/pkg/taskname"
	"referralhub/pkg/validation"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	reward   repository.Repository[Reward]
	enqueuer task.Enqueuer
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		reward:   repository.ProvideStore[Reward](p.DB),
		enqueuer: p.Enqueuer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func logFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", span.TraceID().String()),
		zap.String("span_id", span.SpanID().String()),
	}
}

// RewardClientID reports the owning client, or "" for an unknown reward.
func (s *Service) RewardClientID(ctx context.Context, rewardID string) (string, error) {
	r, err := s.reward.FindOne(ctx, &Reward{ID: rewardID})
	if err != nil {
		return "", err
	}
	if r == nil {
		return "", nil
	}
	return r.ClientID, nil
}

func (s *Service) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*Reward, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	cond := strings.TrimSpace(req.Condition)
	if cond != "" {
		if err := celengine.ValidateExpression(cond); err != nil {
			return nil, errutil.ValidationFailed("the submitted data is invalid", err,
				errutil.WithDetails(errutil.Detail{Field: "condition", Message: "is not a valid expression"}))
		}
	}

	r := &Reward{
		ID:          s.node.Generate().String(),
		ClientID:    req.ClientID,
		Type:        req.Type,
		Value:       req.Value,
		Description: req.Description,
		Condition:   cond,
		Status:      StatusPendente,
		History:     datatypes.JSONSlice[HistoryEntry]{},
	}

	if err := s.reward.Create(ctx, r); err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to create reward template", zap.Error(err))
		return nil, errutil.Internal("failed to create reward", err)
	}
	return r, nil
}

func (s *Service) GetReward(ctx context.Context, clientID, id string) (*Reward, error) {
	r, err := s.reward.FindOne(ctx, &Reward{ID: id, ClientID: clientID})
	if err != nil {
		return nil, errutil.Internal("failed to load reward", err)
	}
	if r == nil {
		return nil, errutil.NotFound("reward not found", nil)
	}
	return r, nil
}

func (s *Service) ListRewards(ctx context.Context, req ListRewardsRequest) ([]*Reward, pagination.PageInfo, error) {
	page := pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}

	query := &Reward{ClientID: req.ClientID, Status: req.Status, Type: req.Type}
	if req.CampaignID != "" {
		query.CampaignID = &req.CampaignID
	}
	if req.IndicatorID != "" {
		query.IndicatorID = &req.IndicatorID
	}

	opts := []option.QueryOption{option.ApplyPagination(page)}
	switch req.Kind {
	case KindTemplate:
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "referral_id", Operator: option.ISNULL}))
	case KindInstance:
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "referral_id", Operator: option.NOTNULL}))
	}

	rows, err := s.reward.Find(ctx, query, opts...)
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to list rewards", zap.Error(err))
		return nil, pagination.PageInfo{}, errutil.Internal("failed to list rewards", err)
	}

	items, info := pagination.Paginate(rows, page.Normalized(), func(r *Reward) pagination.Cursor {
		return pagination.NewCursor(r.CreatedAt, r.ID)
	})
	return items, info, nil
}

// UpdateStatus moves an instance along pendente -> aprovada -> paga, or to
// cancelada while still pendente. The write is conditional on the status read,
// so a concurrent change surfaces as InvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, clientID, id string, change StatusChange) (*Reward, error) {
	fields := logFields(ctx)

	if err := validation.Struct(change); err != nil {
		return nil, err
	}

	r, err := s.GetReward(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	if r.IsTemplate() {
		return nil, errutil.UnprocessableEntity("reward templates have no status lifecycle", nil)
	}
	if !CanTransition(r.Status, change.Status) {
		return nil, errutil.InvalidTransition("reward cannot move from "+string(r.Status)+" to "+string(change.Status), nil)
	}

	actor := change.Actor
	if actor == "" {
		actor = ActorSystem
	}

	from := r.Status
	history := append(datatypes.JSONSlice[HistoryEntry]{}, r.History...)
	history = append(history, HistoryEntry{Status: change.Status, At: s.now(), Actor: actor, Note: change.Note})

	updates := map[string]any{
		"status":  change.Status,
		"history": history,
	}
	if change.PaymentDate != nil {
		updates["payment_date"] = change.PaymentDate.UTC()
	} else if change.Status == StatusPaga && r.PaymentDate == nil {
		updates["payment_date"] = s.now()
	}
	if change.PaymentGatewayID != nil {
		updates["payment_gateway_id"] = *change.PaymentGatewayID
	}

	res := s.db.WithContext(ctx).Model(&Reward{}).
		Where("id = ? AND client_id = ? AND status = ?", r.ID, clientID, from).
		Updates(updates)
	if res.Error != nil {
		zap.L().With(fields...).Error("failed to update reward status", zap.String("reward_id", r.ID), zap.Error(res.Error))
		return nil, errutil.Internal("failed to update reward", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.InvalidTransition("reward status changed concurrently", nil)
	}

	updated, err := s.GetReward(ctx, clientID, id)
	if err != nil {
		return nil, err
	}

	if err := task.Publish(ctx, s.enqueuer, taskname.RewardStatusChanged, StatusChangedPayload{
		ClientID: clientID,
		RewardID: r.ID,
		From:     from,
		To:       change.Status,
		Actor:    actor,
	}); err != nil {
		zap.L().With(fields...).Warn("failed to enqueue reward status change", zap.String("reward_id", r.ID), zap.Error(err))
	}

	zap.L().With(fields...).Info("reward status changed",
		zap.String("reward_id", r.ID), zap.String("from", string(from)), zap.String("to", string(change.Status)))
	return updated, nil
}

// CancelPendingForIndicator cancels every pendente instance of the indicator
// and returns how many moved. Rewards already approved or paid are kept.
func (s *Service) CancelPendingForIndicator(ctx context.Context, clientID, indicatorID, actor, note string) (int, error) {
	pending, err := s.reward.Find(ctx, &Reward{ClientID: clientID, IndicatorID: &indicatorID, Status: StatusPendente},
		option.ApplyOperator(option.Condition{Field: "referral_id", Operator: option.NOTNULL}))
	if err != nil {
		return 0, errutil.Internal("failed to load rewards", err)
	}

	cancelled := 0
	for _, r := range pending {
		_, err := s.UpdateStatus(ctx, clientID, r.ID, StatusChange{Status: StatusCancelada, Actor: actor, Note: note})
		if err != nil {
			// someone else moved it first
			if errutil.Is(err, errutil.StatusInvalidTransition) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
