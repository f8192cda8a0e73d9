package wallet

import (
	"referralhub/pkg/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	db.AsModel(&Entry{}),
	fx.Provide(NewService),
)

var Routes = fx.Module("wallet.routes",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
)
