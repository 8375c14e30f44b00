package v1

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmehra2102/prod-golang-projects/securehealth/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardMutations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GuardMutations(config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}))
	r.GET("/thing", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/thing", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name     string
		method   string
		origin   string
		header   bool
		wantCode int
		wantErr  string
	}{
		{"read from any origin", http.MethodGet, "https://evil.example", false, http.StatusOK, ""},
		{"write from foreign origin", http.MethodPost, "https://evil.example", true, http.StatusForbidden, "origin_not_allowed"},
		{"write without client header", http.MethodPost, "", false, http.StatusForbidden, "client_header_required"},
		{"write from allowed origin without header", http.MethodPost, "http://localhost:3000", false, http.StatusForbidden, "client_header_required"},
		{"write from allowed origin", http.MethodPost, "http://localhost:3000", true, http.StatusOK, ""},
		{"write from cli", http.MethodPost, "", true, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/thing", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.header {
				req.Header.Set(HeaderClient, "test")
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, errorBody(t, rec).Code)
			}
		})
	}
}
