package participant

import (
	"time"

	"gorm.io/datatypes"
)

type Tipo string

const (
	TipoParticipante  Tipo = "participante"
	TipoIndicador     Tipo = "indicador"
	TipoInfluenciador Tipo = "influenciador"
)

// CanCarryCode reports whether participants of this type get a referral code.
func (t Tipo) CanCarryCode() bool {
	return t == TipoIndicador || t == TipoInfluenciador
}

type Status string

const (
	StatusAtivo   Status = "ativo"
	StatusInativo Status = "inativo"
)

// Participant is one row for every participant type. Use Variant to work
// with the type-specific view.
type Participant struct {
	ID           string                      `gorm:"column:id;primaryKey" json:"id"`
	ClientID     string                      `gorm:"column:client_id;index;not null" json:"clientId"`
	Name         string                      `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Email        string                      `gorm:"column:email;type:varchar(255);index" json:"email"`
	Phone        string                      `gorm:"column:phone;type:varchar(32)" json:"phone,omitempty"`
	Tipo         Tipo                        `gorm:"column:tipo;type:varchar(20);not null" json:"tipo"`
	Status       Status                      `gorm:"column:status;type:varchar(20);not null;default:'ativo'" json:"status"`
	ReferralCode *string                     `gorm:"column:referral_code;uniqueIndex" json:"referralCode,omitempty"`
	CanIndicate  bool                        `gorm:"column:can_indicate" json:"canIndicate"`
	CampaignID   *string                     `gorm:"column:campaign_id" json:"campaignId,omitempty"`
	CampaignName string                      `gorm:"column:campaign_name" json:"campaignName,omitempty"`
	Lists        datatypes.JSONSlice[string] `gorm:"column:lists" json:"lists"`
	CreatedAt    time.Time                   `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt    time.Time                   `gorm:"column:updated_at" json:"updatedAt"`
}

func (Participant) TableName() string { return "participants" }

// Role is the closed set of participant variants.
type Role interface {
	Kind() Tipo
}

type Lead struct {
	*Participant
}

func (Lead) Kind() Tipo { return TipoParticipante }

// Indicator is a participant that can bring leads in with a referral code.
type Indicator struct {
	*Participant
	Code        string
	CanIndicate bool
}

func (Indicator) Kind() Tipo { return TipoIndicador }

type Influencer struct {
	Indicator
}

func (Influencer) Kind() Tipo { return TipoInfluenciador }

func (p *Participant) Variant() Role {
	switch p.Tipo {
	case TipoIndicador, TipoInfluenciador:
		ind := Indicator{Participant: p, CanIndicate: p.CanIndicate}
		if p.ReferralCode != nil {
			ind.Code = *p.ReferralCode
		}
		if p.Tipo == TipoInfluenciador {
			return Influencer{Indicator: ind}
		}
		return ind
	default:
		return Lead{Participant: p}
	}
}

// IsEligibleToIndicate is true only for an active indicator or influencer
// whose indication permission is on.
func IsEligibleToIndicate(p *Participant) bool {
	if p == nil || p.Status != StatusAtivo {
		return false
	}

	switch v := p.Variant().(type) {
	case Indicator:
		return v.CanIndicate
	case Influencer:
		return v.CanIndicate
	default:
		return false
	}
}

type CreateParticipantRequest struct {
	ClientID    string   `json:"-" validate:"required"`
	Name        string   `json:"name" validate:"required,max=255"`
	Email       string   `json:"email" validate:"required,email"`
	Phone       string   `json:"phone"`
	Tipo        Tipo     `json:"tipo" validate:"required,oneof=participante indicador influenciador"`
	CanIndicate *bool    `json:"canIndicate"`
	CampaignID  *string  `json:"campaignId"`
	Lists       []string `json:"lists"`
}

type ListParticipantsRequest struct {
	ClientID string `form:"-"`
	Tipo     Tipo   `form:"tipo"`
	Status   Status `form:"status"`
	Cursor   string `form:"cursor"`
	Limit    int    `form:"limit"`
}

// DeactivatedPayload is the participant:deactivated task body.
type DeactivatedPayload struct {
	ClientID      string    `json:"client_id"`
	ParticipantID string    `json:"participant_id"`
	At            time.Time `json:"at"`
	TraceID       string    `json:"trace_id,omitempty"`
}
