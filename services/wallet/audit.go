package wallet

import (
	"context"
	"time"

	"referralhub/pkg/errutil"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AuditModule re-verifies every wallet hash chain once a day at 01:00.
var AuditModule = fx.Module("wallet.audit",
	fx.Provide(NewAuditor),
	fx.Invoke(StartAuditor),
)

type Auditor struct {
	svc *Service
	now func() time.Time
}

func NewAuditor(svc *Service) *Auditor {
	return &Auditor{svc: svc, now: time.Now}
}

func StartAuditor(lc fx.Lifecycle, a *Auditor) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go a.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (a *Auditor) run(ctx context.Context) {
	zap.L().Info("[Audit] wallet chain audit scheduled")

	for {
		now := a.now()
		next := nextRunTime(now, 1, 0)
		zap.L().Info("[Audit] next run scheduled", zap.Time("next_run", next))

		select {
		case <-time.After(next.Sub(now)):
			if _, err := a.AuditChains(ctx); err != nil {
				zap.L().Error("[Audit] wallet chain audit failed", zap.Error(err))
			}
		case <-ctx.Done():
			zap.L().Info("[Audit] stopped")
			return
		}
	}
}

// AuditChains verifies every (client, indicator) chain and returns the
// scopes whose chain is broken.
func (a *Auditor) AuditChains(ctx context.Context) ([]Scope, error) {
	start := time.Now()

	scopes, err := a.svc.Chains(ctx)
	if err != nil {
		return nil, err
	}

	var broken []Scope
	for _, scope := range scopes {
		if _, err := a.svc.VerifyChain(ctx, scope); err != nil {
			if !errutil.Is(err, errutil.StatusConflict) {
				return broken, err
			}
			broken = append(broken, scope)
		}
	}

	zap.L().Info("[Audit] wallet chain audit finished",
		zap.Int("chains", len(scopes)),
		zap.Int("broken", len(broken)),
		zap.Duration("duration", time.Since(start)),
	)
	return broken, nil
}

func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
