package identity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/windchill/internal/identity"
)

func setupRouter(t *testing.T) (*gin.Engine, *identity.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ti := newTestTokenIssuer(t)
	r := gin.New()
	r.POST("/seal", identity.RequireScope(ti, identity.ScopeSeal), func(c *gin.Context) {
		c.String(http.StatusOK, identity.ClaimsFromCtx(c).Producer)
	})
	return r, ti
}

func TestRequireScope(t *testing.T) {
	router, ti := setupRouter(t)
	sealer, _ := ti.Issue("rig-a", []string{identity.ScopeSeal})
	reader, _ := ti.Issue("dashboard", []string{identity.ScopeRead})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"missing scope", "Bearer " + reader, http.StatusForbidden},
		{"valid", "Bearer " + sealer, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/seal", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK && w.Body.String() != "rig-a" {
				t.Errorf("producer in context = %q", w.Body.String())
			}
		})
	}
}
