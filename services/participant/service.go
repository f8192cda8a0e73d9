package participant

import (
	"context"
	"errors"
	"strings"
	"time"

	"referralhub/pkg/config"
	"referralhub/pkg/db/option"
	"referralhub/pkg/db/pagination"
	"referralhub/pkg/errutil"
	"referralhub/pkg/phone"
	"referralhub/pkg/repository"
	"referralhub/pkg/sequence"
	"referralhub/pkg/task"
	"referralhub/pkg/taskname"
	"referralhub/pkg/validation"
	"referralhub/services/campaign"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrCodeSpaceExhausted = errors.New("participant: no free referral code after max attempts")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node
	cfg  *config.Config

	participant repository.Repository[Participant]
	campaigns   *campaign.Service
	enqueuer    task.Enqueuer

	// newCode is swapped in tests to force collisions
	newCode func(n int) (string, error)
}

type ServiceParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Campaigns *campaign.Service `optional:"true"`
	Enqueuer  task.Enqueuer     `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:          p.DB,
		node:        p.Node,
		cfg:         p.Config,
		participant: repository.ProvideStore[Participant](p.DB),
		campaigns:   p.Campaigns,
		enqueuer:    p.Enqueuer,
		newCode:     sequence.RandomCode,
	}
}

func logFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", span.TraceID().String()),
		zap.String("span_id", span.SpanID().String()),
	}
}

// NormalizeCode is the stored form of a referral code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FindByReferralCode looks the code up across all clients, ignoring case.
func (s *Service) FindByReferralCode(ctx context.Context, code string) (*Participant, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, errutil.NotFound("participant not found", nil)
	}

	p, err := s.participant.FindOne(ctx, &Participant{ReferralCode: &code})
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to find participant by referral code", zap.Error(err))
		return nil, errutil.Internal("failed to load participant", err)
	}
	if p == nil {
		return nil, errutil.NotFound("participant not found", nil)
	}
	return p, nil
}

func (s *Service) IsEligibleToIndicate(p *Participant) bool {
	return IsEligibleToIndicate(p)
}

// GenerateUniqueCode draws codes until one is unused by any client. The
// unique index still decides at insert time.
func (s *Service) GenerateUniqueCode(ctx context.Context, clientID string) (string, error) {
	length := s.cfg.Referral.CodeLength
	if length <= 0 {
		length = 8
	}

	for attempt := 0; attempt < s.maxAttempts(); attempt++ {
		code, err := s.newCode(length)
		if err != nil {
			return "", errutil.Internal("failed to generate referral code", err)
		}

		taken, err := s.participant.FindOne(ctx, &Participant{ReferralCode: &code})
		if err != nil {
			return "", errutil.Internal("failed to generate referral code", err)
		}
		if taken == nil {
			return code, nil
		}

		zap.L().With(logFields(ctx)...).Debug("referral code collision", zap.String("client_id", clientID), zap.Int("attempt", attempt+1))
	}

	return "", errutil.Internal("failed to generate referral code", ErrCodeSpaceExhausted)
}

func (s *Service) maxAttempts() int {
	if s.cfg.Referral.CodeMaxAttempts <= 0 {
		return 10
	}
	return s.cfg.Referral.CodeMaxAttempts
}

func (s *Service) CreateParticipant(ctx context.Context, req CreateParticipantRequest) (*Participant, error) {
	fields := logFields(ctx)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	normalized, err := phone.Normalize(req.Phone, s.cfg.Referral.DefaultRegion)
	if err != nil {
		return nil, errutil.ValidationFailed("the submitted data is invalid", nil,
			errutil.WithDetails(errutil.Detail{Field: "phone", Message: "must be a valid phone number"}))
	}

	p := &Participant{
		ClientID: req.ClientID,
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:    normalized,
		Tipo:     req.Tipo,
		Status:   StatusAtivo,
		Lists:    req.Lists,
	}
	if p.Lists == nil {
		p.Lists = []string{}
	}

	if req.CampaignID != nil && *req.CampaignID != "" {
		if s.campaigns == nil {
			return nil, errutil.Internal("campaign registry unavailable", nil)
		}
		c, err := s.campaigns.GetClientCampaign(ctx, req.ClientID, *req.CampaignID)
		if err != nil {
			if errutil.Is(err, errutil.StatusNotFound) {
				return nil, errutil.ValidationFailed("the submitted data is invalid", nil,
					errutil.WithDetails(errutil.Detail{Field: "campaignId", Message: "campaign not found for this client"}))
			}
			return nil, err
		}
		p.CampaignID = &c.ID
		p.CampaignName = c.Name
	}

	if !p.Tipo.CanCarryCode() {
		p.ID = s.node.Generate().String()
		if err := s.participant.Create(ctx, p); err != nil {
			zap.L().With(fields...).Error("failed to create participant", zap.Error(err))
			return nil, errutil.Internal("failed to create participant", err)
		}
		return p, nil
	}

	p.CanIndicate = true
	if req.CanIndicate != nil {
		p.CanIndicate = *req.CanIndicate
	}

	for attempt := 0; attempt < s.maxAttempts(); attempt++ {
		code, err := s.GenerateUniqueCode(ctx, req.ClientID)
		if err != nil {
			return nil, err
		}

		p.ID = s.node.Generate().String()
		p.ReferralCode = &code

		err = s.participant.Create(ctx, p)
		if err == nil {
			zap.L().With(fields...).Info("participant created",
				zap.String("participant_id", p.ID), zap.String("tipo", string(p.Tipo)))
			return p, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			zap.L().With(fields...).Error("failed to create participant", zap.Error(err))
			return nil, errutil.Internal("failed to create participant", err)
		}
		// lost the race for this code
	}

	return nil, errutil.Internal("failed to create participant", ErrCodeSpaceExhausted)
}

func (s *Service) GetParticipant(ctx context.Context, clientID, id string) (*Participant, error) {
	p, err := s.participant.FindOne(ctx, &Participant{ID: id, ClientID: clientID})
	if err != nil {
		return nil, errutil.Internal("failed to load participant", err)
	}
	if p == nil {
		return nil, errutil.NotFound("participant not found", nil)
	}
	return p, nil
}

func (s *Service) ListParticipants(ctx context.Context, req ListParticipantsRequest) ([]*Participant, pagination.PageInfo, error) {
	page := pagination.Pagination{Cursor: req.Cursor, Limit: req.Limit}

	rows, err := s.participant.Find(ctx, &Participant{ClientID: req.ClientID, Tipo: req.Tipo, Status: req.Status},
		option.ApplyPagination(page))
	if err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to list participants", zap.Error(err))
		return nil, pagination.PageInfo{}, errutil.Internal("failed to list participants", err)
	}

	items, info := pagination.Paginate(rows, page.Normalized(), func(p *Participant) pagination.Cursor {
		return pagination.NewCursor(p.CreatedAt, p.ID)
	})
	return items, info, nil
}

// Deactivate marks the participant inactive and announces it so the reward
// policy worker can react. Deactivating twice is a no-op.
func (s *Service) Deactivate(ctx context.Context, clientID, id string) (*Participant, error) {
	p, changed, err := s.setStatus(ctx, clientID, id, StatusInativo)
	if err != nil || !changed {
		return p, err
	}

	span := trace.SpanFromContext(ctx).SpanContext()
	if err := task.Publish(ctx, s.enqueuer, taskname.ParticipantDeactivated, DeactivatedPayload{
		ClientID:      p.ClientID,
		ParticipantID: p.ID,
		At:            time.Now().UTC(),
		TraceID:       span.TraceID().String(),
	}); err != nil {
		zap.L().With(logFields(ctx)...).Warn("failed to enqueue participant deactivation", zap.String("participant_id", p.ID), zap.Error(err))
	}

	return p, nil
}

func (s *Service) Activate(ctx context.Context, clientID, id string) (*Participant, error) {
	p, _, err := s.setStatus(ctx, clientID, id, StatusAtivo)
	return p, err
}

func (s *Service) setStatus(ctx context.Context, clientID, id string, status Status) (*Participant, bool, error) {
	p, err := s.GetParticipant(ctx, clientID, id)
	if err != nil {
		return nil, false, err
	}
	if p.Status == status {
		return p, false, nil
	}

	if err := s.participant.Update(ctx, p.ID, map[string]any{"status": status}); err != nil {
		zap.L().With(logFields(ctx)...).Error("failed to update participant status", zap.Error(err))
		return nil, false, errutil.Internal("failed to update participant", err)
	}

	p.Status = status
	return p, true, nil
}
