package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

func brotliRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Brotli())
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, strings.Repeat("exstem ", 500)) })
	return r
}

func TestBrotli(t *testing.T) {
	r := brotliRouter()

	tests := []struct {
		name     string
		path     string
		accept   string
		wantBr   bool
		wantBody string
	}{
		{"large body compressed", "/large", "gzip, br", true, strings.Repeat("exstem ", 500)},
		{"small body plain", "/small", "br", false, "ok"},
		{"client without br", "/large", "gzip", false, strings.Repeat("exstem ", 500)},
		{"br refused by q-value", "/large", "br;q=0", false, strings.Repeat("exstem ", 500)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept-Encoding", tt.accept)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			gotBr := w.Header().Get("Content-Encoding") == "br"
			if gotBr != tt.wantBr {
				t.Fatalf("Content-Encoding br = %v, want %v", gotBr, tt.wantBr)
			}

			var body io.Reader = w.Body
			if gotBr {
				body = brotli.NewReader(w.Body)
			}
			raw, err := io.ReadAll(body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if string(raw) != tt.wantBody {
				t.Errorf("body = %.40q..., want %.40q...", raw, tt.wantBody)
			}
		})
	}
}
