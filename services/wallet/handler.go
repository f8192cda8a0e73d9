package wallet

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
	g := httpapi.ClientGroup(r).Group("/wallet")
	g.GET("/balance", h.Balance)
	g.GET("/statement", h.Statement)
	g.GET("/chain", h.VerifyChain)
	g.POST("/entries", h.AddEntry)
	g.PATCH("/entries/:id/status", h.UpdateEntryStatus)
}

func (h *Handler) Balance(c *gin.Context) {
	scope := Scope{
		ClientID:    middleware.ClientID(c.Request.Context()),
		IndicatorID: c.Query("indicatorId"),
	}

	saldo, err := h.svc.GetBalance(c.Request.Context(), scope)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saldo": saldo})
}

func (h *Handler) Statement(c *gin.Context) {
	var q StatementQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	q.ClientID = middleware.ClientID(c.Request.Context())

	items, info, err := h.svc.Page(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "pageInfo": info})
}

func (h *Handler) VerifyChain(c *gin.Context) {
	scope := Scope{
		ClientID:    middleware.ClientID(c.Request.Context()),
		IndicatorID: c.Query("indicatorId"),
	}

	n, err := h.svc.VerifyChain(c.Request.Context(), scope)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "entries": n})
}

func (h *Handler) AddEntry(c *gin.Context) {
	var req AddEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.ClientID = middleware.ClientID(c.Request.Context())

	e, created, err := h.svc.AddEntry(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, e)
}

func (h *Handler) UpdateEntryStatus(c *gin.Context) {
	var body StatusChange
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	e, err := h.svc.UpdateEntryStatus(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"), body)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}
