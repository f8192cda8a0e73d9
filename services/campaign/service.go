package campaign

import (
	"context"
	"errors"
	"strings"

	"referralhub/pkg/cache"
	"referralhub/pkg/config"
	"referralhub/pkg/db/option"
	"referralhub/pkg/db/pagination"
	"referralhub/pkg/errutil"
	"referralhub/pkg/repository"
	"referralhub/pkg/sequence"
	"referralhub/pkg/validation"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cacheResource = "campaign"

// RewardLookup reports which client owns a reward record. It returns "" when
// the reward does not exist.
type RewardLookup interface {
	RewardClientID(ctx context.Context, rewardID string) (string, error)
}

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	seq  sequence.Generator

	campaign repository.Repository[Campaign]
	rewards  RewardLookup
	cache    *cache.ReadThrough[Campaign]
}

type ServiceParams struct {
	fx.In

	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Seq     sequence.Generator `optional:"true"`
	Rewards RewardLookup       `optional:"true"`
	Redis   *redis.Client      `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		seq:      p.Seq,
		campaign: repository.ProvideStore[Campaign](p.DB),
		rewards:  p.Rewards,
		cache:    cache.New[Campaign](p.Redis, p.Config.Cache.TTL),
	}
}

func logFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", span.TraceID().String()),
		zap.String("span_id", span.SpanID().String()),
	}
}

// cacheKey scopes a campaign by its client. Public lookups, which only
// know the id, use the empty scope.
func cacheKey(clientID, id string) cache.Key {
	return cache.Key{Scope: clientID, Resource: cacheResource, ID: id}
}

// GetCampaign returns NotFound when no campaign has this id.
func (s *Service) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	return s.load(ctx, "", id)
}

func (s *Service) load(ctx context.Context, clientID, id string) (*Campaign, error) {
	if id == "" {
		return nil, errutil.NotFound("campaign not found", nil)
	}

	c, err := s.cache.Get(ctx, cacheKey(clientID, id), func(ctx context.Context) (*Campaign, error) {
		return s.campaign.FindOne(ctx, &Campaign{ID: id, ClientID: clientID})
	})
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to load campaign", zap.String("campaign_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to load campaign", err)
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}

	return c, nil
}

// GetRewardRule returns (nil, nil) when the campaign exists but has no
// reward for the event, and NotFound when the campaign itself is unknown.
func (s *Service) GetRewardRule(ctx context.Context, campaignID string, event EventType) (*RewardRule, error) {
	c, err := s.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	rewardID := c.RewardID(event)
	if rewardID == "" {
		return nil, nil
	}

	return &RewardRule{
		CampaignID:   c.ID,
		CampaignName: c.Name,
		EventType:    event,
		RewardID:     rewardID,
	}, nil
}

// GetClientCampaign scopes GetCampaign to one client; another client's
// campaign is reported as not found.
func (s *Service) GetClientCampaign(ctx context.Context, clientID, id string) (*Campaign, error) {
	if clientID == "" {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return s.load(ctx, clientID, id)
}

func (s *Service) FindByLandingPage(ctx context.Context, landingPageID string) (*Campaign, error) {
	if landingPageID == "" {
		return nil, errutil.NotFound("campaign not found", nil)
	}

	campaigns, err := s.campaign.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "landing_page_id", Operator: option.EQ, Value: landingPageID}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to find campaign by landing page", zap.Error(err))
		return nil, errutil.Internal("failed to load campaign", err)
	}
	if len(campaigns) == 0 {
		return nil, errutil.NotFound("campaign not found", nil)
	}

	// a landing page may outlive several campaigns; the live one wins
	for _, c := range campaigns {
		if c.IsActive() {
			return c, nil
		}
	}
	return campaigns[0], nil
}

func (s *Service) FindBySlug(ctx context.Context, clientID, campaignSlug string) (*Campaign, error) {
	c, err := s.campaign.FindOne(ctx, &Campaign{ClientID: clientID, Slug: campaignSlug})
	if err != nil {
		return nil, errutil.Internal("failed to load campaign", err)
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return c, nil
}

func (s *Service) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*Campaign, error) {
	fields := logFields(ctx)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	if err := s.validateRewardRefs(ctx, req.ClientID, RewardRules{
		OnReferralID:   req.RewardOnReferralID,
		OnConversionID: req.RewardOnConversionID,
	}); err != nil {
		return nil, err
	}

	c := &Campaign{
		ClientID:             req.ClientID,
		Name:                 strings.TrimSpace(req.Name),
		Description:          req.Description,
		Status:               StatusDraft,
		LandingPageID:        nonEmpty(req.LandingPageID),
		ParticipantListID:    nonEmpty(req.ParticipantListID),
		RewardOnReferralID:   nonEmpty(req.RewardOnReferralID),
		RewardOnConversionID: nonEmpty(req.RewardOnConversionID),
	}

	if err := s.Insert(ctx, s.db, c); err != nil {
		zap.L().With(fields...).Error("failed to create campaign", zap.Error(err))
		return nil, err
	}

	zap.L().With(fields...).Info("campaign created", zap.String("campaign_id", c.ID), zap.String("client_id", c.ClientID))
	return c, nil
}

// Insert assigns id, code and slug and stores c through tx. A slug taken by
// another campaign of the same client gets a random suffix.
func (s *Service) Insert(ctx context.Context, tx *gorm.DB, c *Campaign) error {
	c.ID = s.node.Generate().String()
	if c.Status == "" {
		c.Status = StatusDraft
	}

	if s.seq != nil {
		code, err := s.seq.NextCampaignCode(ctx, c.ClientID)
		if err != nil {
			zap.L().With(logFields(ctx)...).Warn("campaign code unavailable", zap.Error(err))
		}
		c.Code = code
	}

	base := slug.Make(c.Name)
	if base == "" {
		base = strings.ToLower(c.ID)
	}
	c.Slug = base

	store := s.campaign.WithTrx(tx)
	taken, err := store.FindOne(ctx, &Campaign{ClientID: c.ClientID, Slug: c.Slug})
	if err != nil {
		return errutil.Internal("failed to create campaign", err)
	}
	if taken != nil {
		suffix, err := sequence.RandomCode(4)
		if err != nil {
			return errutil.Internal("failed to create campaign", err)
		}
		c.Slug = base + "-" + strings.ToLower(suffix)
	}

	if err := store.Create(ctx, c); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errutil.Conflict("a campaign with this name already exists", err)
		}
		return errutil.Internal("failed to create campaign", err)
	}

	return nil
}

func (s *Service) ListCampaigns(ctx context.Context, req ListCampaignsRequest) ([]*Campaign, pagination.PageInfo, error) {
	page := pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}

	opts := []option.QueryOption{option.ApplyPagination(page)}
	if req.Status != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "status", Operator: option.EQ, Value: req.Status}))
	}

	rows, err := s.campaign.Find(ctx, &Campaign{ClientID: req.ClientID}, opts...)
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to list campaigns", zap.Error(err))
		return nil, pagination.PageInfo{}, errutil.Internal("failed to list campaigns", err)
	}

	items, info := pagination.Paginate(rows, page.Normalized(), func(c *Campaign) pagination.Cursor {
		return pagination.NewCursor(c.CreatedAt, c.ID)
	})
	return items, info, nil
}

func (s *Service) UpdateStatus(ctx context.Context, clientID, id string, status Status) (*Campaign, error) {
	c, err := s.GetClientCampaign(ctx, clientID, id)
	if err != nil {
		return nil, err
	}

	if c.Status == status {
		return c, nil
	}
	if !CanTransition(c.Status, status) {
		return nil, errutil.InvalidTransition("campaign cannot move from "+string(c.Status)+" to "+string(status), nil)
	}

	if err := s.campaign.Update(ctx, c.ID, map[string]any{"status": status}); err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to update campaign status", zap.Error(err))
		return nil, errutil.Internal("failed to update campaign", err)
	}
	s.invalidate(ctx, c.ClientID, c.ID)

	c.Status = status
	return c, nil
}

// SetRewardRules points the campaign's reward slots at reward records owned
// by the same client.
func (s *Service) SetRewardRules(ctx context.Context, clientID, id string, rules RewardRules) (*Campaign, error) {
	c, err := s.GetClientCampaign(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusArchived {
		return nil, errutil.InvalidTransition("archived campaigns cannot change", nil)
	}

	if err := s.validateRewardRefs(ctx, clientID, rules); err != nil {
		return nil, err
	}

	if err := s.AssignRewards(ctx, s.db, clientID, c.ID, rules); err != nil {
		return nil, err
	}

	c.RewardOnReferralID = nonEmpty(rules.OnReferralID)
	c.RewardOnConversionID = nonEmpty(rules.OnConversionID)
	return c, nil
}

// AssignRewards writes both reward slots without ownership checks; callers
// that build the rewards themselves use it inside their transaction.
func (s *Service) AssignRewards(ctx context.Context, tx *gorm.DB, clientID, campaignID string, rules RewardRules) error {
	err := s.campaign.WithTrx(tx).Update(ctx, campaignID, map[string]any{
		"reward_on_referral_id":   nonEmpty(rules.OnReferralID),
		"reward_on_conversion_id": nonEmpty(rules.OnConversionID),
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errutil.NotFound("campaign not found", err)
		}
		zap.L().With(logFields(ctx)...).Error("failed to assign campaign rewards", zap.Error(err))
		return errutil.Internal("failed to update campaign", err)
	}

	s.invalidate(ctx, clientID, campaignID)
	return nil
}

func (s *Service) validateRewardRefs(ctx context.Context, clientID string, rules RewardRules) error {
	var details []errutil.Detail
	check := func(field string, id *string) error {
		if id == nil || *id == "" {
			return nil
		}
		if s.rewards == nil {
			return errutil.Internal("reward lookup unavailable", nil)
		}
		owner, err := s.rewards.RewardClientID(ctx, *id)
		if err != nil {
			return errutil.Internal("failed to validate rewards", err)
		}
		if owner != clientID {
			details = append(details, errutil.Detail{Field: field, Message: "reward not found for this client"})
		}
		return nil
	}

	if err := check("rewardOnReferralId", rules.OnReferralID); err != nil {
		return err
	}
	if err := check("rewardOnConversionId", rules.OnConversionID); err != nil {
		return err
	}

	if len(details) > 0 {
		return errutil.ValidationFailed("the submitted data is invalid", nil, errutil.WithDetails(details...))
	}
	return nil
}

// invalidate drops both the client-scoped and the public entry.
func (s *Service) invalidate(ctx context.Context, clientID string, ids ...string) {
	keys := make([]cache.Key, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKey(clientID, id), cacheKey("", id))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		zap.L().With(logFields(ctx)...).Warn("failed to invalidate campaign cache", zap.Strings("campaign_ids", ids), zap.Error(err))
	}
}

func nonEmpty(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	s := strings.TrimSpace(*v)
	return &s
}
