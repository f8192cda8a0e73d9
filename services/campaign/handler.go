package campaign

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
	g := httpapi.ClientGroup(r).Group("/campaigns")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/status", h.UpdateStatus)
	g.PUT("/:id/rewards", h.SetRewards)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.ClientID = middleware.ClientID(c.Request.Context())

	out, err := h.svc.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) List(c *gin.Context) {
	var req ListCampaignsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	req.ClientID = middleware.ClientID(c.Request.Context())

	items, info, err := h.svc.ListCampaigns(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "pageInfo": info})
}

func (h *Handler) Get(c *gin.Context) {
	out, err := h.svc.GetClientCampaign(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type statusBody struct {
	Status Status `json:"status" binding:"required"`
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	out, err := h.svc.UpdateStatus(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"), body.Status)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) SetRewards(c *gin.Context) {
	var body RewardRules
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	out, err := h.svc.SetRewardRules(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"), body)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}
