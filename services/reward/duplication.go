package reward

import (
	"context"
	"strings"

	"referralhub/pkg/errutil"
	"referralhub/pkg/repository"
	"referralhub/services/campaign"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Duplicator copies reward templates into a new campaign and clones
// campaigns together with their reward templates.
type Duplicator struct {
	db        *gorm.DB
	node      *snowflake.Node
	reward    repository.Repository[Reward]
	campaigns *campaign.Service
}

type DuplicatorParams struct {
	fx.In

	DB        *gorm.DB
	Node      *snowflake.Node
	Campaigns *campaign.Service
}

func NewDuplicator(p DuplicatorParams) *Duplicator {
	return &Duplicator{
		db:        p.DB,
		node:      p.Node,
		reward:    repository.ProvideStore[Reward](p.DB),
		campaigns: p.Campaigns,
	}
}

// DuplicateTemplates returns one copy per template, bound to the new
// campaign. Copies that already exist for (campaign, source template) are
// returned as they are; the source templates are never modified.
func (d *Duplicator) DuplicateTemplates(ctx context.Context, templates []*Reward, newCampaignID, newCampaignName, clientID string) ([]*Reward, error) {
	return d.duplicate(ctx, d.db, templates, newCampaignID, newCampaignName, clientID)
}

func (d *Duplicator) duplicate(ctx context.Context, tx *gorm.DB, templates []*Reward, newCampaignID, newCampaignName, clientID string) ([]*Reward, error) {
	store := d.reward.WithTrx(tx)
	out := make([]*Reward, 0, len(templates))

	for _, tpl := range templates {
		if tpl == nil {
			continue
		}
		if tpl.ClientID != clientID {
			return nil, errutil.ValidationFailed("the submitted data is invalid", nil,
				errutil.WithDetails(errutil.Detail{Field: "templates", Message: "reward not found for this client"}))
		}

		sourceID := tpl.ID
		existing, err := store.FindOne(ctx, &Reward{CampaignID: &newCampaignID, SourceTemplateID: &sourceID})
		if err != nil {
			return nil, errutil.Internal("failed to duplicate rewards", err)
		}
		if existing != nil {
			out = append(out, existing)
			continue
		}

		campaignID := newCampaignID
		cp := &Reward{
			ID:               d.node.Generate().String(),
			ClientID:         clientID,
			Type:             tpl.Type,
			Value:            tpl.Value,
			Description:      tpl.Description,
			Condition:        tpl.Condition,
			CampaignID:       &campaignID,
			CampaignName:     newCampaignName,
			Status:           StatusPendente,
			History:          datatypes.JSONSlice[HistoryEntry]{},
			SourceTemplateID: &sourceID,
		}

		if err := store.Create(ctx, cp); err != nil {
			if !isDuplicate(err) {
				zap.L().With(logFields(ctx)...).Error("failed to duplicate reward", zap.String("source_template_id", sourceID), zap.Error(err))
				return nil, errutil.Internal("failed to duplicate rewards", err)
			}
			existing, err := store.FindOne(ctx, &Reward{CampaignID: &newCampaignID, SourceTemplateID: &sourceID})
			if err != nil || existing == nil {
				return nil, errutil.Internal("failed to duplicate rewards", err)
			}
			cp = existing
		}
		out = append(out, cp)
	}

	return out, nil
}

// CloneCampaign creates a draft copy of the source campaign whose reward
// slots point at fresh copies of the source's reward templates. Everything
// happens in one transaction.
func (d *Duplicator) CloneCampaign(ctx context.Context, clientID, sourceCampaignID, name string) (*campaign.Campaign, error) {
	fields := logFields(ctx)

	src, err := d.campaigns.GetClientCampaign(ctx, clientID, sourceCampaignID)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = src.Name + " (cópia)"
	}

	sourceID := src.ID
	clone := &campaign.Campaign{
		ClientID:          clientID,
		Name:              name,
		Description:       src.Description,
		Status:            campaign.StatusDraft,
		ParticipantListID: src.ParticipantListID,
		SourceCampaignID:  &sourceID,
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.campaigns.Insert(ctx, tx, clone); err != nil {
			return err
		}

		slots := []campaign.EventType{campaign.EventOnReferral, campaign.EventOnConversion}
		var templates []*Reward
		seen := map[string]bool{}
		for _, ev := range slots {
			id := src.RewardID(ev)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true

			tpl, err := d.reward.WithTrx(tx).FindOne(ctx, &Reward{ID: id, ClientID: clientID})
			if err != nil {
				return errutil.Internal("failed to load reward", err)
			}
			if tpl == nil {
				zap.L().With(fields...).Warn("source campaign points at a missing reward", zap.String("reward_id", id))
				continue
			}
			templates = append(templates, tpl)
		}

		copies, err := d.duplicate(ctx, tx, templates, clone.ID, clone.Name, clientID)
		if err != nil {
			return err
		}

		copyOf := make(map[string]string, len(copies))
		for _, cp := range copies {
			copyOf[*cp.SourceTemplateID] = cp.ID
		}

		var rules campaign.RewardRules
		if id, ok := copyOf[src.RewardID(campaign.EventOnReferral)]; ok {
			rules.OnReferralID = &id
		}
		if id, ok := copyOf[src.RewardID(campaign.EventOnConversion)]; ok {
			rules.OnConversionID = &id
		}
		if rules.OnReferralID == nil && rules.OnConversionID == nil {
			return nil
		}

		clone.RewardOnReferralID = rules.OnReferralID
		clone.RewardOnConversionID = rules.OnConversionID
		return d.campaigns.AssignRewards(ctx, tx, clientID, clone.ID, rules)
	})
	if err != nil {
		zap.L().With(fields...).Error("failed to clone campaign", zap.String("source_campaign_id", sourceCampaignID), zap.Error(err))
		return nil, err
	}

	zap.L().With(fields...).Info("campaign cloned",
		zap.String("source_campaign_id", src.ID), zap.String("campaign_id", clone.ID))
	return clone, nil
}
