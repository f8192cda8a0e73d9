package reward

import (
	"referralhub/pkg/db"
	"referralhub/services/campaign"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("reward.service",
	db.AsModel(&Reward{}),
	fx.Provide(
		NewService,
		NewEngine,
		NewDuplicator,
		func(s *Service) campaign.RewardLookup { return s },
		func(c *campaign.Service) RuleSource { return c },
	),
)

var Routes = fx.Module("reward.routes",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
)
