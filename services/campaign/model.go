package campaign

import (
	"time"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// EventType names the moment in a referral's life a reward is attached to.
type EventType string

const (
	EventOnReferral   EventType = "onReferral"
	EventOnConversion EventType = "onConversion"
)

func (e EventType) Valid() bool {
	return e == EventOnReferral || e == EventOnConversion
}

// Campaign belongs to exactly one client. Reward slots point at reward
// records of that same client.
type Campaign struct {
	ID                   string    `gorm:"column:id;primaryKey" json:"id"`
	ClientID             string    `gorm:"column:client_id;not null;uniqueIndex:idx_campaign_slug,priority:1" json:"clientId"`
	Name                 string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Slug                 string    `gorm:"column:slug;type:varchar(255);not null;uniqueIndex:idx_campaign_slug,priority:2" json:"slug"`
	Code                 string    `gorm:"column:code;type:varchar(32)" json:"code"`
	Description          string    `gorm:"column:description;type:text" json:"description,omitempty"`
	Status               Status    `gorm:"column:status;type:varchar(20);not null;default:'draft'" json:"status"`
	RewardOnReferralID   *string   `gorm:"column:reward_on_referral_id" json:"rewardOnReferralId,omitempty"`
	RewardOnConversionID *string   `gorm:"column:reward_on_conversion_id" json:"rewardOnConversionId,omitempty"`
	ParticipantListID    *string   `gorm:"column:participant_list_id" json:"participantListId,omitempty"`
	LandingPageID        *string   `gorm:"column:landing_page_id;index" json:"landingPageId,omitempty"`
	SourceCampaignID     *string   `gorm:"column:source_campaign_id" json:"sourceCampaignId,omitempty"`
	CreatedAt            time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt            time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (Campaign) TableName() string { return "campaigns" }

// RewardID returns the reward slot for the event, or "" when the slot is empty.
func (c *Campaign) RewardID(event EventType) string {
	var id *string
	switch event {
	case EventOnReferral:
		id = c.RewardOnReferralID
	case EventOnConversion:
		id = c.RewardOnConversionID
	}
	if id == nil {
		return ""
	}
	return *id
}

func (c *Campaign) IsActive() bool {
	return c.Status == StatusActive
}

// RewardRule is the reward template a campaign attaches to one event.
type RewardRule struct {
	CampaignID   string    `json:"campaignId"`
	CampaignName string    `json:"campaignName"`
	EventType    EventType `json:"eventType"`
	RewardID     string    `json:"rewardId"`
}

// RewardRules sets both slots. A nil pointer clears the slot.
type RewardRules struct {
	OnReferralID   *string `json:"onReferral"`
	OnConversionID *string `json:"onConversion"`
}

var transitions = map[Status][]Status{
	StatusDraft:  {StatusActive, StatusArchived},
	StatusActive: {StatusPaused, StatusArchived},
	StatusPaused: {StatusActive, StatusArchived},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type CreateCampaignRequest struct {
	ClientID             string  `json:"-" validate:"required"`
	Name                 string  `json:"name" validate:"required,max=255"`
	Description          string  `json:"description"`
	LandingPageID        *string `json:"landingPageId"`
	ParticipantListID    *string `json:"participantListId"`
	RewardOnReferralID   *string `json:"rewardOnReferralId"`
	RewardOnConversionID *string `json:"rewardOnConversionId"`
}

type ListCampaignsRequest struct {
	ClientID string `form:"-"`
	Status   Status `form:"status"`
	Cursor   string `form:"cursor"`
	Limit    int    `form:"limit"`
}
