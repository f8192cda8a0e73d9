package referral

import (
	"net/http"

	"referralhub/pkg/errutil"
	"referralhub/pkg/httpapi"
	"referralhub/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// SessionCookie carries the referral code a landing page stored for the
// visitor's session.
const SessionCookie = "ref_code"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	httpapi.PublicGroup(r).POST("/referrals", h.Submit)

	g := httpapi.ClientGroup(r).Group("/referrals")
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/convert", h.Convert)
	g.PATCH("/:id/status", h.UpdateStatus)
}

type submitData struct {
	LeadName      string `json:"leadName"`
	LeadEmail     string `json:"leadEmail"`
	IndicatorName string `json:"indicatorName,omitempty"`
	CampaignName  string `json:"campaignName"`
}

type submitResponse struct {
	Success    bool       `json:"success"`
	ReferralID string     `json:"referralId"`
	Data       submitData `json:"data"`
}

func (h *Handler) Submit(c *gin.Context) {
	var sub Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	if sub.RefQuery == "" {
		sub.RefQuery = c.Query("ref")
	}
	if sub.SessionCode == "" {
		if v, err := c.Cookie(SessionCookie); err == nil {
			sub.SessionCode = v
		}
	}
	if sub.UserAgent == "" {
		sub.UserAgent = c.Request.UserAgent()
	}
	if sub.ReferrerURL == "" {
		sub.ReferrerURL = c.Request.Referer()
	}
	if sub.Language == "" {
		sub.Language = c.GetHeader("Accept-Language")
	}

	out, err := h.svc.Submit(c.Request.Context(), sub)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := submitResponse{
		Success:    true,
		ReferralID: out.Referral.ID,
		Data: submitData{
			LeadName:     out.Referral.LeadName,
			LeadEmail:    out.Referral.LeadEmail,
			CampaignName: out.Referral.CampaignName,
		},
	}
	if out.Indicator != nil {
		resp.Data.IndicatorName = out.Indicator.Name
	}

	code := http.StatusCreated
	if out.Duplicate {
		code = http.StatusOK
	}
	c.JSON(code, resp)
}

func (h *Handler) List(c *gin.Context) {
	var req ListReferralsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}
	req.ClientID = middleware.ClientID(c.Request.Context())

	items, info, err := h.svc.ListReferrals(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "pageInfo": info})
}

func (h *Handler) Get(c *gin.Context) {
	out, err := h.svc.GetReferral(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Convert(c *gin.Context) {
	out, err := h.svc.Convert(c.Request.Context(), middleware.ClientID(c.Request.Context()), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referral": out.Referral, "reward": out.Reward})
}

type statusBody struct {
	Status Status `json:"status" binding:"required,oneof=pendente aprovado convertido cancelado"`
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
