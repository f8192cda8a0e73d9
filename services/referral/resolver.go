package referral

import (
	"context"
	"strings"

	"referralhub/pkg/errutil"
	"referralhub/pkg/phone"
	"referralhub/services/campaign"
	"referralhub/services/participant"
)

type CampaignSource interface {
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	FindByLandingPage(ctx context.Context, landingPageID string) (*campaign.Campaign, error)
}

type Directory interface {
	FindByReferralCode(ctx context.Context, code string) (*participant.Participant, error)
}

// Attribution is the resolver's verdict. Indicator is nil for organic and
// for codes that resolved to someone not allowed to indicate.
type Attribution struct {
	Campaign     *campaign.Campaign
	Indicator    *participant.Participant
	Source       AttributionSource
	Code         string
	SelfReferral bool
}

type Resolver struct {
	campaigns CampaignSource
	directory Directory
	region    string
}

func NewResolver(campaigns CampaignSource, directory Directory, region string) *Resolver {
	return &Resolver{campaigns: campaigns, directory: directory, region: region}
}

type candidate struct {
	code   string
	source AttributionSource
}

// candidates lists codes in precedence order: explicit ones first, then the
// contextual ones the landing page carried along.
func candidates(sub Submission) []candidate {
	out := []candidate{
		{sub.IndicatorCode, AttributionExplicitCode},
		{sub.RefQuery, AttributionQueryRef},
		{sub.LinkSlug, AttributionLinkSlug},
		{sub.SessionCode, AttributionSession},
	}
	if strings.EqualFold(strings.TrimSpace(sub.UTM.Medium), "referral") {
		out = append(out, candidate{sub.UTM.Content, AttributionUTM})
	}

	filtered := out[:0]
	for _, c := range out {
		c.code = strings.TrimSpace(c.code)
		if c.code != "" {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// Resolve decides campaign and indicator for a submission. The first code
// that names a participant ends the search, whether or not that participant
// may indicate; unknown codes fall through to the next one.
func (r *Resolver) Resolve(ctx context.Context, sub Submission) (*Attribution, error) {
	c, err := r.resolveCampaign(ctx, sub)
	if err != nil {
		return nil, err
	}

	out := &Attribution{Campaign: c, Source: AttributionNone}

	for _, cand := range candidates(sub) {
		if out.Code == "" {
			out.Code = cand.code
		}

		p, err := r.directory.FindByReferralCode(ctx, cand.code)
		if err != nil {
			if errutil.Is(err, errutil.StatusNotFound) {
				continue
			}
			return nil, err
		}

		out.Code = cand.code
		if p.ClientID != c.ClientID || !participant.IsEligibleToIndicate(p) {
			return out, nil
		}

		out.Indicator = p
		out.Source = cand.source
		out.SelfReferral = r.isSelfReferral(sub, p)
		return out, nil
	}

	return out, nil
}

func (r *Resolver) resolveCampaign(ctx context.Context, sub Submission) (*campaign.Campaign, error) {
	if id := strings.TrimSpace(sub.CampaignID); id != "" {
		return r.campaigns.GetCampaign(ctx, id)
	}

	if lp := strings.TrimSpace(sub.LandingPageID); lp != "" {
		c, err := r.campaigns.FindByLandingPage(ctx, lp)
		if err != nil {
			if errutil.Is(err, errutil.StatusNotFound) {
				return nil, errutil.MissingContext("no campaign is linked to this landing page", err)
			}
			return nil, err
		}
		return c, nil
	}

	return nil, errutil.MissingContext("a campaign or landing page is required", nil)
}

func (r *Resolver) isSelfReferral(sub Submission, p *participant.Participant) bool {
	email := strings.TrimSpace(sub.Email)
	if email != "" && strings.EqualFold(email, strings.TrimSpace(p.Email)) {
		return true
	}
	return phone.Same(sub.Phone, p.Phone, r.region)
}
