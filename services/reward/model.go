package reward

import (
	"time"

	"referralhub/services/campaign"

	"gorm.io/datatypes"
)

type Type string

const (
	TypePix      Type = "pix"
	TypePoints   Type = "points"
	TypeDiscount Type = "discount"
	TypeGift     Type = "gift"
	TypeCustom   Type = "custom"
)

type Status string

const (
	StatusPendente  Status = "pendente"
	StatusAprovada  Status = "aprovada"
	StatusPaga      Status = "paga"
	StatusCancelada Status = "cancelada"
)

var transitions = map[Status][]Status{
	StatusPendente: {StatusAprovada, StatusPaga, StatusCancelada},
	StatusAprovada: {StatusPaga},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	ActorSystem             = "system"
	ActorSystemDeactivation = "system:deactivation"
)

type HistoryEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Note   string    `json:"note,omitempty"`
}

// Reward holds templates (no referral) and the instances materialised from
// them. An instance only ever changes status, history and payment fields.
type Reward struct {
	ID               string                            `gorm:"column:id;primaryKey" json:"id"`
	ClientID         string                            `gorm:"column:client_id;index;not null" json:"clientId"`
	Type             Type                              `gorm:"column:type;type:varchar(20);not null" json:"type"`
	Value            int64                             `gorm:"column:value;not null" json:"value"`
	Description      string                            `gorm:"column:description;type:text" json:"description,omitempty"`
	CampaignID       *string                           `gorm:"column:campaign_id;uniqueIndex:idx_reward_duplication,priority:1" json:"campaignId,omitempty"`
	CampaignName     string                            `gorm:"column:campaign_name" json:"campaignName,omitempty"`
	Status           Status                            `gorm:"column:status;type:varchar(20);not null;default:'pendente'" json:"status"`
	History          datatypes.JSONSlice[HistoryEntry] `gorm:"column:history" json:"history"`
	ReferralID       *string                           `gorm:"column:referral_id;uniqueIndex:idx_reward_event,priority:1" json:"referralId,omitempty"`
	IndicatorID      *string                           `gorm:"column:indicator_id;uniqueIndex:idx_reward_event,priority:2;index" json:"indicatorId,omitempty"`
	EventType        *campaign.EventType               `gorm:"column:event_type;uniqueIndex:idx_reward_event,priority:3" json:"eventType,omitempty"`
	TemplateID       *string                           `gorm:"column:template_id" json:"templateId,omitempty"`
	SourceTemplateID *string                           `gorm:"column:source_template_id;uniqueIndex:idx_reward_duplication,priority:2" json:"sourceTemplateId,omitempty"`
	Condition        string                            `gorm:"column:condition;type:text" json:"condition,omitempty"`
	PaymentDate      *time.Time                        `gorm:"column:payment_date" json:"paymentDate,omitempty"`
	PaymentGatewayID *string                           `gorm:"column:payment_gateway_id" json:"paymentGatewayId,omitempty"`
	CreatedAt        time.Time                         `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt        time.Time                         `gorm:"column:updated_at" json:"updatedAt"`
}

func (Reward) TableName() string { return "rewards" }

func (r *Reward) IsTemplate() bool {
	return r.ReferralID == nil
}

type CreateTemplateRequest struct {
	ClientID    string `json:"-" validate:"required"`
	Type        Type   `json:"type" validate:"required,oneof=pix points discount gift custom"`
	Value       int64  `json:"value" validate:"gte=0"`
	Description string `json:"description" validate:"max=1000"`
	Condition   string `json:"condition"`
}

type StatusChange struct {
	Status           Status     `json:"status" validate:"required,oneof=pendente aprovada paga cancelada"`
	Actor            string     `json:"actor"`
	Note             string     `json:"note"`
	PaymentDate      *time.Time `json:"paymentDate"`
	PaymentGatewayID *string    `json:"paymentGatewayId"`
}

type Kind string

const (
	KindTemplate Kind = "template"
	KindInstance Kind = "instance"
)

type ListRewardsRequest struct {
	ClientID    string `form:"-"`
	Kind        Kind   `form:"kind"`
	CampaignID  string `form:"campaignId"`
	IndicatorID string `form:"indicatorId"`
	Status      Status `form:"status"`
	Type        Type   `form:"type"`
	Cursor      string `form:"cursor"`
	Limit       int    `form:"limit"`
}

// ListItem is the management read model.
type ListItem struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Value        int64     `json:"value"`
	Status       Status    `json:"status"`
	CampaignName string    `json:"campaignName,omitempty"`
	IndicatorID  *string   `json:"indicatorId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (r *Reward) ListItem() ListItem {
	return ListItem{
		ID:           r.ID,
		Type:         r.Type,
		Value:        r.Value,
		Status:       r.Status,
		CampaignName: r.CampaignName,
		IndicatorID:  r.IndicatorID,
		CreatedAt:    r.CreatedAt,
	}
}

// CreatedPayload is the reward:created task body.
type CreatedPayload struct {
	ClientID    string             `json:"client_id"`
	RewardID    string             `json:"reward_id"`
	IndicatorID string             `json:"indicator_id"`
	ReferralID  string             `json:"referral_id"`
	EventType   campaign.EventType `json:"event_type"`
	Type        Type               `json:"type"`
	Value       int64              `json:"value"`
	TraceID     string             `json:"trace_id,omitempty"`
}

// StatusChangedPayload is the reward:status:changed task body.
type StatusChangedPayload struct {
	ClientID string `json:"client_id"`
	RewardID string `json:"reward_id"`
	From     Status `json:"from"`
	To       Status `json:"to"`
	Actor    string `json:"actor"`
}
