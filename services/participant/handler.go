package participant

import (
	"net/http"

	"referralhub/pkg/errutil"
	"referralhub/pkg/httpapi"
	"referralhub/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	g := httpapi.ClientGroup(r).Group("/participants")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/deactivate", h.Deactivate)
	g.POST("/:id/activate", h.Activate)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.ClientID = middleware.ClientID(c.Request.Context())

	out, err := h.svc.CreateParticipant(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) List(c *gin.Context) {
	var req ListParticipantsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	req.ClientID = middleware.ClientID(c.Request.Context())

	items, info, err := h.svc.ListParticipants(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "pageInfo": info})
}

func (h *Handler) Get(c *gin.Context) {
	out, err := h.svc.GetParticipant(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Deactivate(c *gin.Context) {
	out, err := h.svc.Deactivate(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Activate(c *gin.Context) {
	out, err := h.svc.Activate(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
