package referral

import (
	"context"
	"errors"
	"strings"
	"time"

	"referralhub/pkg/celengine"
	"referralhub/pkg/config"
	"referralhub/pkg/db/option"
	"referralhub/pkg/db/pagination"
	"referralhub/pkg/errutil"
	"referralhub/pkg/featureflags"
	"referralhub/pkg/phone"
	"referralhub/pkg/repository"
	"referralhub/pkg/task"
	"referralhub/pkg/taskname"
	"referralhub/pkg/validation"
	"referralhub/services/campaign"
	"referralhub/services/participant"
	"referralhub/services/reward"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RewardProcessor materialises rewards for referral events.
type RewardProcessor interface {
	Process(ctx context.Context, ev reward.Event) (*reward.Reward, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  *config.Config

	referral     repository.Repository[Referral]
	resolver     *Resolver
	participants *participant.Service
	rewards      RewardProcessor
	flags    featureflags.FeatureFlag
	enqueuer task.Enqueuer
	now      func() time.Time
}

type ServiceParams struct {
	fx.In

	DB           *gorm.DB
	Node         *snowflake.Node
	Config       *config.Config
	Campaigns    *campaign.Service
	Participants *participant.Service
	Rewards      *reward.Engine
	Flags        featureflags.FeatureFlag `optional:"true"`
	Enqueuer     task.Enqueuer            `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:       p.DB,
		node:     p.Node,
		cfg:      p.Config,
		referral:     repository.ProvideStore[Referral](p.DB),
		resolver:     NewResolver(p.Campaigns, p.Participants, p.Config.Referral.DefaultRegion),
		participants: p.Participants,
		flags:        p.Flags,
		enqueuer:     p.Enqueuer,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if p.Rewards != nil {
		s.rewards = p.Rewards
	}
	return s
}

func logFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", span.TraceID().String()),
		zap.String("span_id", span.SpanID().String()),
	}
}

// Submit attributes and stores a lead, then runs the onReferral reward. A
// repeat of the same lead for the same campaign inside the dedup window
// returns the stored referral and runs the onReferral reward again, which
// the engine turns into a lookup when the reward already exists.
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmitResult, error) {
	fields := logFields(ctx)

	if err := validation.Struct(sub); err != nil {
		return nil, err
	}

	leadPhone, err := phone.Normalize(sub.Phone, s.cfg.Referral.DefaultRegion)
	if err != nil {
		return nil, errutil.ValidationFailed("the submitted data is invalid", nil,
			errutil.WithDetails(errutil.Detail{Field: "phone", Message: "must be a valid phone number"}))
	}
	sub.Phone = leadPhone
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	sub.Name = strings.TrimSpace(sub.Name)

	attr, err := s.resolver.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	c := attr.Campaign

	if !c.IsActive() {
		return nil, errutil.UnprocessableEntity("this campaign is not accepting referrals", nil)
	}

	if existing, err := s.findDuplicate(ctx, c, sub.Email); err != nil {
		return nil, err
	} else if existing != nil {
		zap.L().With(fields...).Info("duplicate submission resolved to existing referral", zap.String("referral_id", existing.ID))
		return s.resume(ctx, existing)
	}

	if attr.SelfReferral && s.unattributeSelfReferral(ctx, c.ClientID) {
		zap.L().With(fields...).Info("self-referral unattributed",
			zap.String("client_id", c.ClientID), zap.String("indicator_id", attr.Indicator.ID))
		attr.Indicator = nil
		attr.Source = AttributionNone
	}

	source := sub.Source
	if source == "" {
		source = SourceLandingPage
	}

	ref := &Referral{
		ID:                    s.node.Generate().String(),
		ClientID:              c.ClientID,
		CampaignID:            c.ID,
		CampaignName:          c.Name,
		LeadName:              sub.Name,
		LeadEmail:             sub.Email,
		LeadPhone:             sub.Phone,
		LeadCompany:           strings.TrimSpace(sub.Company),
		IndicatorReferralCode: attr.Code,
		AttributionSource:     attr.Source,
		Source:                source,
		Status:                StatusPendente,
		UTMSource:             sub.UTM.Source,
		UTMMedium:             sub.UTM.Medium,
		UTMCampaign:           sub.UTM.Campaign,
		UTMTerm:               sub.UTM.Term,
		UTMContent:            sub.UTM.Content,
		SelfReferral:          attr.SelfReferral,
		ReferrerURL:           sub.ReferrerURL,
		UserAgent:             sub.UserAgent,
		Language:              sub.Language,
	}
	if attr.Indicator != nil {
		ref.IndicatorID = &attr.Indicator.ID
	}

	if err := s.referral.Create(ctx, ref); err != nil {
		zap.L().With(fields...).Error("failed to create referral", zap.Error(err))
		return nil, errutil.Internal("failed to create referral", err)
	}

	out := &SubmitResult{Referral: ref, Indicator: attr.Indicator}
	out.Reward, err = s.processReward(ctx, ref, campaign.EventOnReferral)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, taskname.ReferralCreated, ref, out.Reward)

	zap.L().With(fields...).Info("referral created",
		zap.String("referral_id", ref.ID),
		zap.String("campaign_id", ref.CampaignID),
		zap.String("attribution_source", string(ref.AttributionSource)),
		zap.Bool("self_referral", ref.SelfReferral),
	)
	return out, nil
}

// resume completes a stored referral for a repeated submission.
func (s *Service) resume(ctx context.Context, ref *Referral) (*SubmitResult, error) {
	out := &SubmitResult{Referral: ref, Duplicate: true}

	if ref.IndicatorID != nil && s.participants != nil {
		ind, err := s.participants.GetParticipant(ctx, ref.ClientID, *ref.IndicatorID)
		switch {
		case err == nil:
			out.Indicator = ind
		case errutil.Is(err, errutil.StatusNotFound):
		default:
			return nil, err
		}
	}

	r, err := s.processReward(ctx, ref, campaign.EventOnReferral)
	if err != nil {
		return nil, err
	}
	out.Reward = r
	return out, nil
}

func (s *Service) findDuplicate(ctx context.Context, c *campaign.Campaign, email string) (*Referral, error) {
	window := s.cfg.Referral.DedupWindow
	if window <= 0 {
		return nil, nil
	}

	existing, err := s.referral.FindOne(ctx, &Referral{ClientID: c.ClientID, CampaignID: c.ID, LeadEmail: email},
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.GTE, Value: s.now().Add(-window)}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to check duplicate referral", zap.Error(err))
		return nil, errutil.Internal("failed to create referral", err)
	}
	return existing, nil
}

// unattributeSelfReferral reads the client's block_self_referral flag and
// falls back to REFERRAL.SELF_REFERRAL_POLICY when no flag is configured.
func (s *Service) unattributeSelfReferral(ctx context.Context, clientID string) bool {
	if s.flags != nil {
		enabled, configured, err := s.flags.IsEnabled(ctx, clientID, featureflags.BlockSelfReferral)
		if err != nil {
			zap.L().With(logFields(ctx)...).Warn("feature flag lookup failed, using configured policy", zap.Error(err))
		} else if configured {
			return enabled
		}
	}
	return s.cfg.Referral.SelfReferralPolicy == config.SelfReferralUnattribute
}

// processReward runs the engine for the event. The referral stays stored
// when it fails; repeating the submission or conversion runs it again.
func (s *Service) processReward(ctx context.Context, ref *Referral, event campaign.EventType) (*reward.Reward, error) {
	if ref.IndicatorID == nil || s.rewards == nil {
		return nil, nil
	}

	r, err := s.rewards.Process(ctx, reward.Event{
		ReferralID:  ref.ID,
		IndicatorID: *ref.IndicatorID,
		CampaignID:  ref.CampaignID,
		EventType:   event,
		Attributes:  celengine.StructToMap(ref.view()),
	})
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("reward processing failed",
			zap.String("referral_id", ref.ID), zap.String("event_type", string(event)), zap.Error(err))
		if errutil.Is(err, errutil.StatusNotFound) {
			return nil, err
		}
		return nil, errutil.Internal("failed to process reward", err)
	}
	return r, nil
}

func (s *Service) publish(ctx context.Context, typeName string, ref *Referral, r *reward.Reward) {
	payload := CreatedPayload{
		ClientID:   ref.ClientID,
		ReferralID: ref.ID,
		CampaignID: ref.CampaignID,
		TraceID:    trace.SpanFromContext(ctx).SpanContext().TraceID().String(),
	}
	if ref.IndicatorID != nil {
		payload.IndicatorID = *ref.IndicatorID
	}
	if r != nil {
		payload.RewardID = r.ID
	}

	if err := task.Publish(ctx, s.enqueuer, typeName, payload); err != nil {
		zap.L().With(logFields(ctx)...).Warn("failed to enqueue referral event",
			zap.String("task_type", typeName), zap.String("referral_id", ref.ID), zap.Error(err))
	}
}

func (s *Service) GetReferral(ctx context.Context, clientID, id string) (*Referral, error) {
	ref, err := s.referral.FindOne(ctx, &Referral{ID: id, ClientID: clientID})
	if err != nil {
		return nil, errutil.Internal("failed to load referral", err)
	}
	if ref == nil {
		return nil, errutil.NotFound("referral not found", nil)
	}
	return ref, nil
}

func (s *Service) ListReferrals(ctx context.Context, req ListReferralsRequest) ([]*Referral, pagination.PageInfo, error) {
	page := pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}

	query := &Referral{ClientID: req.ClientID, CampaignID: req.CampaignID, Status: req.Status}
	if req.IndicatorID != "" {
		query.IndicatorID = &req.IndicatorID
	}

	rows, err := s.referral.Find(ctx, query, option.ApplyPagination(page))
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to list referrals", zap.Error(err))
		return nil, pagination.PageInfo{}, errutil.Internal("failed to list referrals", err)
	}

	items, info := pagination.Paginate(rows, page.Normalized(), func(r *Referral) pagination.Cursor {
		return pagination.NewCursor(r.CreatedAt, r.ID)
	})
	return items, info, nil
}

// Convert marks the referral converted and runs the onConversion reward.
// Converting again returns the same referral and reward.
func (s *Service) Convert(ctx context.Context, clientID, id string) (*SubmitResult, error) {
	ref, err := s.GetReferral(ctx, clientID, id)
	if err != nil {
		return nil, err
	}

	if ref.Status != StatusConvertido {
		if err := s.transition(ctx, ref, StatusConvertido); err != nil {
			return nil, err
		}
	}

	out := &SubmitResult{Referral: ref}
	out.Reward, err = s.processReward(ctx, ref, campaign.EventOnConversion)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, taskname.ReferralConverted, ref, out.Reward)
	return out, nil
}

// UpdateStatus moves the referral along its lifecycle. Moving to convertido
// goes through Convert so the conversion reward is never skipped.
func (s *Service) UpdateStatus(ctx context.Context, clientID, id string, status Status) (*Referral, error) {
	if status == StatusConvertido {
		out, err := s.Convert(ctx, clientID, id)
		if err != nil {
			return nil, err
		}
		return out.Referral, nil
	}

	ref, err := s.GetReferral(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	if ref.Status == status {
		return ref, nil
	}
	if err := s.transition(ctx, ref, status); err != nil {
		return nil, err
	}
	return ref, nil
}

func (s *Service) transition(ctx context.Context, ref *Referral, to Status) error {
	if !CanTransition(ref.Status, to) {
		return errutil.InvalidTransition("referral cannot move from "+string(ref.Status)+" to "+string(to), nil)
	}

	updates := map[string]any{"status": to}
	var convertedAt time.Time
	if to == StatusConvertido {
		convertedAt = s.now()
		updates["converted_at"] = convertedAt
	}

	res := s.db.WithContext(ctx).Model(&Referral{}).
		Where("id = ? AND client_id = ? AND status = ?", ref.ID, ref.ClientID, ref.Status).
		Updates(updates)
	if res.Error != nil {
		zap.L().With(logFields(ctx)...).Error("failed to update referral status", zap.Error(res.Error))
		return errutil.Internal("failed to update referral", res.Error)
	}
	if res.RowsAffected == 0 {
		// a concurrent request may have made the same move
		cur, err := s.referral.FindOne(ctx, &Referral{ID: ref.ID, ClientID: ref.ClientID})
		if err != nil {
			return errutil.Internal("failed to load referral", err)
		}
		if cur == nil || cur.Status != to {
			return errutil.InvalidTransition("referral status changed concurrently", errors.New("stale status"))
		}
		*ref = *cur
		return nil
	}

	ref.Status = to
	if to == StatusConvertido {
		ref.ConvertedAt = &convertedAt
	}
	return nil
}
