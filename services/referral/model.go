package referral

import (
	"time"

	"referralhub/services/participant"
	"referralhub/services/reward"
)

type Status string

const (
	StatusPendente   Status = "pendente"
	StatusAprovado   Status = "aprovado"
	StatusConvertido Status = "convertido"
	StatusCancelado  Status = "cancelado"
)

var transitions = map[Status][]Status{
	StatusPendente: {StatusAprovado, StatusConvertido, StatusCancelado},
	StatusAprovado: {StatusConvertido, StatusCancelado},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceLandingPage Source = "landing-page"
	SourceDirectLink  Source = "direct-link"
	SourceManual      Source = "manual"
	SourceImport      Source = "import"
)

// AttributionSource records which input decided the indicator.
type AttributionSource string

const (
	AttributionExplicitCode AttributionSource = "explicit_code"
	AttributionQueryRef     AttributionSource = "query_ref"
	AttributionLinkSlug     AttributionSource = "link_slug"
	AttributionSession      AttributionSource = "session"
	AttributionUTM          AttributionSource = "utm"
	AttributionNone         AttributionSource = "none"
)

type UTM struct {
	Source   string `json:"utm_source"`
	Medium   string `json:"utm_medium"`
	Campaign string `json:"utm_campaign"`
	Term     string `json:"utm_term"`
	Content  string `json:"utm_content"`
}

// Referral is one lead submission. UTM fields never change after creation.
type Referral struct {
	ID                    string            `gorm:"column:id;primaryKey" json:"id"`
	ClientID              string            `gorm:"column:client_id;not null;index:idx_referral_dedup,priority:1" json:"clientId"`
	CampaignID            string            `gorm:"column:campaign_id;not null;index:idx_referral_dedup,priority:2" json:"campaignId"`
	CampaignName          string            `gorm:"column:campaign_name" json:"campaignName"`
	LeadName              string            `gorm:"column:lead_name;not null" json:"leadName"`
	LeadEmail             string            `gorm:"column:lead_email;not null;index:idx_referral_dedup,priority:3" json:"leadEmail"`
	LeadPhone             string            `gorm:"column:lead_phone" json:"leadPhone,omitempty"`
	LeadCompany           string            `gorm:"column:lead_company" json:"leadCompany,omitempty"`
	IndicatorID           *string           `gorm:"column:indicator_id;index" json:"indicatorId,omitempty"`
	IndicatorReferralCode string            `gorm:"column:indicator_referral_code" json:"indicatorReferralCode,omitempty"`
	AttributionSource     AttributionSource `gorm:"column:attribution_source;type:varchar(20)" json:"attributionSource"`
	Source                Source            `gorm:"column:source;type:varchar(20)" json:"source"`
	Status                Status            `gorm:"column:status;type:varchar(20);not null;default:'pendente'" json:"status"`
	UTMSource             string            `gorm:"column:utm_source" json:"utmSource,omitempty"`
	UTMMedium             string            `gorm:"column:utm_medium" json:"utmMedium,omitempty"`
	UTMCampaign           string            `gorm:"column:utm_campaign" json:"utmCampaign,omitempty"`
	UTMTerm               string            `gorm:"column:utm_term" json:"utmTerm,omitempty"`
	UTMContent            string            `gorm:"column:utm_content" json:"utmContent,omitempty"`
	SelfReferral          bool              `gorm:"column:self_referral" json:"selfReferral"`
	ReferrerURL           string            `gorm:"column:referrer_url" json:"referrerUrl,omitempty"`
	UserAgent             string            `gorm:"column:user_agent" json:"userAgent,omitempty"`
	Language              string            `gorm:"column:language" json:"language,omitempty"`
	ConvertedAt           *time.Time        `gorm:"column:converted_at" json:"convertedAt,omitempty"`
	CreatedAt             time.Time         `gorm:"column:created_at;index:idx_referral_dedup,priority:4" json:"createdAt"`
	UpdatedAt             time.Time         `gorm:"column:updated_at" json:"updatedAt"`
}

func (Referral) TableName() string { return "referrals" }

// conditionView is what reward conditions see as the "referral" variable.
type conditionView struct {
	ID                string `json:"id"`
	Source            string `json:"source"`
	AttributionSource string `json:"attribution_source"`
	LeadEmail         string `json:"lead_email"`
	LeadCompany       string `json:"lead_company"`
	SelfReferral      bool   `json:"self_referral"`
	Language          string `json:"language"`
	UTMSource         string `json:"utm_source"`
	UTMMedium         string `json:"utm_medium"`
	UTMCampaign       string `json:"utm_campaign"`
	UTMTerm           string `json:"utm_term"`
	UTMContent        string `json:"utm_content"`
}

func (r *Referral) view() conditionView {
	return conditionView{
		ID:                r.ID,
		Source:            string(r.Source),
		AttributionSource: string(r.AttributionSource),
		LeadEmail:         r.LeadEmail,
		LeadCompany:       r.LeadCompany,
		SelfReferral:      r.SelfReferral,
		Language:          r.Language,
		UTMSource:         r.UTMSource,
		UTMMedium:         r.UTMMedium,
		UTMCampaign:       r.UTMCampaign,
		UTMTerm:           r.UTMTerm,
		UTMContent:        r.UTMContent,
	}
}

// Submission is a lead as posted by a landing page or an import.
type Submission struct {
	Name          string `json:"name" validate:"required,max=255"`
	Email         string `json:"email" validate:"required,email,max=255"`
	Phone         string `json:"phone"`
	Company       string `json:"company" validate:"max=255"`
	LandingPageID string `json:"lpId"`
	CampaignID    string `json:"campaignId"`
	IndicatorCode string `json:"indicatorCode"`
	RefQuery      string `json:"ref"`
	LinkSlug      string `json:"linkSlug"`
	SessionCode   string `json:"sessionCode"`
	UTM           UTM    `json:"utm"`
	Source        Source `json:"source" validate:"omitempty,oneof=landing-page direct-link manual import"`
	ReferrerURL   string `json:"referrerUrl"`
	UserAgent     string `json:"userAgent"`
	Language      string `json:"language"`
}

type SubmitResult struct {
	Referral  *Referral
	Indicator *participant.Participant
	Reward    *reward.Reward
	// Duplicate is set when the submission repeated one inside the dedup window.
	Duplicate bool
}

type ListReferralsRequest struct {
	ClientID    string `form:"-"`
	CampaignID  string `form:"campaignId"`
	IndicatorID string `form:"indicatorId"`
	Status      Status `form:"status"`
	Cursor      string `form:"cursor"`
	Limit       int    `form:"limit"`
}

// CreatedPayload is the referral:created and referral:converted task body.
type CreatedPayload struct {
	ClientID    string `json:"client_id"`
	ReferralID  string `json:"referral_id"`
	CampaignID  string `json:"campaign_id"`
	IndicatorID string `json:"indicator_id,omitempty"`
	RewardID    string `json:"reward_id,omitempty"`
	TraceID     string `json:"trace_id,omitempty"`
}
