package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"referralhub/pkg/config"
	"referralhub/pkg/db"
	"referralhub/pkg/gen"
	"referralhub/pkg/logger"
	"referralhub/services/campaign"
	"referralhub/services/participant"
	"referralhub/services/referral"
	"referralhub/services/reward"
)

var (
	clientID   = flag.String("client", "demo", "client the data belongs to")
	indicators = flag.Int("indicators", 10, "indicators per campaign")
	leads      = flag.Int("leads", 50, "lead submissions per campaign")
	seed       = flag.Int64("seed", 42, "faker seed")
)

func main() {
	flag.Parse()
	gofakeit.Seed(*seed)

	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		campaign.Module,
		participant.Module,
		reward.Module,
		referral.Module,
		fx.Invoke(run),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

type seedParams struct {
	fx.In

	Shutdowner   fx.Shutdowner
	Campaigns    *campaign.Service
	Participants *participant.Service
	Rewards      *reward.Service
	Referrals    *referral.Service
}

func run(p seedParams) {
	go func() {
		if err := seedClient(context.Background(), p); err != nil {
			zap.L().Error("seed failed", zap.Error(err))
			_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
			return
		}
		zap.L().Info("seed done", zap.String("client_id", *clientID))
		_ = p.Shutdowner.Shutdown()
	}()
}

func seedClient(ctx context.Context, p seedParams) error {
	onReferral, err := p.Rewards.CreateTemplate(ctx, reward.CreateTemplateRequest{
		ClientID:    *clientID,
		Type:        reward.TypePix,
		Value:       int64(gofakeit.Number(5, 50)),
		Description: "Pix por indicação",
	})
	if err != nil {
		return err
	}

	onConversion, err := p.Rewards.CreateTemplate(ctx, reward.CreateTemplateRequest{
		ClientID:    *clientID,
		Type:        reward.TypePoints,
		Value:       int64(gofakeit.Number(100, 1000)),
		Description: "Pontos por conversão",
		Condition:   `referral.utm_source != "test"`,
	})
	if err != nil {
		return err
	}

	lp := "lp-" + strings.ToLower(gofakeit.LetterN(6))
	c, err := p.Campaigns.CreateCampaign(ctx, campaign.CreateCampaignRequest{
		ClientID:             *clientID,
		Name:                 "Indique " + gofakeit.ProductName(),
		Description:          gofakeit.Sentence(12),
		LandingPageID:        &lp,
		RewardOnReferralID:   &onReferral.ID,
		RewardOnConversionID: &onConversion.ID,
	})
	if err != nil {
		return err
	}
	if c, err = p.Campaigns.UpdateStatus(ctx, *clientID, c.ID, campaign.StatusActive); err != nil {
		return err
	}

	codes := make([]string, 0, *indicators)
	for i := 0; i < *indicators; i++ {
		ind, err := p.Participants.CreateParticipant(ctx, participant.CreateParticipantRequest{
			ClientID:   *clientID,
			Name:       gofakeit.Name(),
			Email:      gofakeit.Email(),
			Phone:      gofakeit.Numerify("+55119########"),
			Tipo:       participant.TipoIndicador,
			CampaignID: &c.ID,
		})
		if err != nil {
			return err
		}
		if ind.ReferralCode != nil {
			codes = append(codes, *ind.ReferralCode)
		}
	}

	sources := []string{"instagram", "whatsapp", "email", "facebook"}
	for i := 0; i < *leads; i++ {
		sub := referral.Submission{
			Name:          gofakeit.Name(),
			Email:         gofakeit.Email(),
			Company:       gofakeit.Company(),
			LandingPageID: lp,
			UTM: referral.UTM{
				Source:   gofakeit.RandomString(sources),
				Medium:   "referral",
				Campaign: c.Slug,
			},
		}
		// a fifth of the leads stay organic
		if len(codes) > 0 && gofakeit.Number(1, 5) > 1 {
			sub.IndicatorCode = gofakeit.RandomString(codes)
		}

		out, err := p.Referrals.Submit(ctx, sub)
		if err != nil {
			return fmt.Errorf("lead %d: %w", i, err)
		}
		if gofakeit.Bool() {
			if _, err := p.Referrals.Convert(ctx, *clientID, out.Referral.ID); err != nil {
				return err
			}
		}
	}

	zap.L().Info("seeded campaign",
		zap.String("campaign_id", c.ID),
		zap.Int("indicators", len(codes)),
		zap.Int("leads", *leads),
	)
	return nil
}
