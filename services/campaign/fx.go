package campaign

import (
	"referralhub/pkg/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("campaign.service",
	db.AsModel(&Campaign{}),
	fx.Provide(NewService),
)

var Routes = fx.Module("campaign.routes",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
)
