package reward

import (
	"net/http"

	"referralhub/pkg/errutil"
	"referralhub/pkg/httpapi"
	"referralhub/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
	dup *Duplicator
}

func NewHandler(svc *Service, dup *Duplicator) *Handler {
	return &Handler{svc: svc, dup: dup}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := httpapi.ClientGroup(r)

	g := v1.Group("/rewards")
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/status", h.UpdateStatus)

	v1.POST("/campaigns/:id/clone", h.CloneCampaign)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.ClientID = middleware.ClientID(c.Request.Context())

	out, err := h.svc.CreateTemplate(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) List(c *gin.Context) {
	var req ListRewardsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	req.ClientID = middleware.ClientID(c.Request.Context())

	rows, info, err := h.svc.ListRewards(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	items := make([]ListItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.ListItem())
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "pageInfo": info})
}

func (h *Handler) Get(c *gin.Context) {
	out, err := h.svc.GetReward(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var body StatusChange
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	out, err := h.svc.UpdateStatus(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"), body)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type cloneBody struct {
	Name string `json:"name"`
}

func (h *Handler) CloneCampaign(c *gin.Context) {
	var body cloneBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			_ = c.Error(errutil.BadRequest("invalid request body", err))
			return
		}
	}

	out, err := h.dup.CloneCampaign(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"), body.Name)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}
