package referral

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"referralhub/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(f.svc).RegisterRoutes(r)
	return r
}

func TestSubmitHandlerUsesSessionCookie(t *testing.T) {
	f := newFixture(t)
	c := f.activeCampaign(t, "client-a", 10)
	f.indicator(t, "client-a", "AAA111", "a@example.com")
	r := newRouter(f)

	body := `{"name":"Lead","email":"lead@example.com","campaignId":"` + c.ID + `"}`
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/public/referrals", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept-Language", "pt-BR")
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "AAA111"})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send()
	require.Equal(t, http.StatusCreated, w.Code)

	var resp submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "Indicador AAA111", resp.Data.IndicatorName)
	require.Equal(t, "Indique e Ganhe", resp.Data.CampaignName)

	stored, err := f.svc.GetReferral(t.Context(), "client-a", resp.ReferralID)
	require.NoError(t, err)
	require.Equal(t, AttributionSession, stored.AttributionSource)
	require.Equal(t, "pt-BR", stored.Language)

	w = send()
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitHandlerRendersErrors(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/v1/public/referrals", strings.NewReader(`{"name":"Lead","email":"lead@example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "MISSING_CONTEXT", body["error"]["code"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/referrals", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
}
