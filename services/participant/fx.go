package participant

import (
	"referralhub/pkg/db"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("participant.service",
	db.AsModel(&Participant{}),
	fx.Provide(NewService),
)

var Routes = fx.Module("participant.routes",
	fx.Provide(NewHandler),
	fx.Invoke(func(r *gin.Engine, h *Handler) { h.RegisterRoutes(r) }),
)
