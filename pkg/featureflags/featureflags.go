package featureflags

import (
	"context"

	"referralhub/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

const (
	// BlockSelfReferral drops the indicator from self-referrals for one client.
	BlockSelfReferral = "block_self_referral"
)

type FeatureFlag interface {
	// IsEnabled reports a flag for an identity (the client id). configured is
	// false when no flag backend is set up, letting callers fall back to config.
	IsEnabled(ctx context.Context, identifier, feature string) (enabled bool, configured bool, err error)
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func (s *featureflag) IsEnabled(ctx context.Context, identifier, feature string) (bool, bool, error) {
	if s.client == nil {
		return false, false, nil
	}

	flags, err := s.client.GetIdentityFlags(identifier, nil)
	if err != nil {
		return false, true, err
	}

	enabled, err := flags.IsFeatureEnabled(feature)
	if err != nil {
		return false, true, err
	}
	return enabled, true, nil
}
