package referral

import (
	"referralhub/pkg/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	db.AsModel(&Referral{}),
	fx.Provide(NewService),
)

var Routes = fx.Module("referral.routes",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
)
