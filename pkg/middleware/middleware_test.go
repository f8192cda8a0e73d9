package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"referralhub/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func newRouter(h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Error())
	v1 := r.Group("/v1", RequireClient())
	v1.GET("/thing", h)
	return r
}

func TestErrorRendersBaseError(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		_ = c.Error(errutil.NotFound("campaign not found", nil))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/thing", nil)
	req.Header.Set(HeaderClientID, "client-1")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "NOT_FOUND", body["error"]["code"])
}

func TestErrorHidesUnknownErrors(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		_ = c.Error(errors.New("dial tcp 10.0.0.3:5432: refused"))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/thing", nil)
	req.Header.Set(HeaderClientID, "client-1")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "10.0.0.3")
}

func TestRequireClient(t *testing.T) {
	var seen string
	r := newRouter(func(c *gin.Context) {
		seen = ClientID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/thing", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/thing", nil)
	req.Header.Set(HeaderClientID, "client-9")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "client-9", seen)
}
