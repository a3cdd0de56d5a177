package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-swap/pkg/response"
)

func newTestRouter(limits Limits) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(limits))

	ok := func(c *gin.Context) { response.Success(c, gin.H{"ok": true}) }
	r.GET("/health", ok)
	r.GET("/ws/orders/:order_id", ok)
	r.POST("/api/orders/execute", ok)
	r.GET("/api/orders", ok)
	r.GET("/api/orders/:order_id", ok)
	r.GET("/api/queue/metrics", ok)
	return r
}

func doRequest(r *gin.Engine, method, path, clientIP string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = clientIP + ":40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitAllowsBurstOfSubmissions(t *testing.T) {
	r := newTestRouter(DefaultLimits())

	for i := 0; i < 5; i++ {
		w := doRequest(r, http.MethodPost, "/api/orders/execute", "10.1.0.1")
		if w.Code != http.StatusCreated {
			t.Fatalf("submission %d: status = %d, want %d", i+1, w.Code, http.StatusCreated)
		}
	}
}

func TestRateLimitRouteClasses(t *testing.T) {
	limits := Limits{SubmitPerMinute: 2, ReadPerMinute: 3}

	tests := []struct {
		name     string
		method   string
		path     string
		clientIP string
		allowed  int // -1 for unlimited
	}{
		{"submit", http.MethodPost, "/api/orders/execute", "10.2.0.1", 2},
		{"list orders", http.MethodGet, "/api/orders", "10.2.0.2", 3},
		{"get order", http.MethodGet, "/api/orders/o-1", "10.2.0.3", 3},
		{"queue metrics", http.MethodGet, "/api/queue/metrics", "10.2.0.4", 3},
		{"health", http.MethodGet, "/health", "10.2.0.5", -1},
		{"status stream", http.MethodGet, "/ws/orders/o-1", "10.2.0.6", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(limits)

			attempts := tt.allowed + 1
			if tt.allowed < 0 {
				attempts = 20
			}
			for i := 0; i < attempts; i++ {
				w := doRequest(r, tt.method, tt.path, tt.clientIP)
				if tt.allowed >= 0 && i == tt.allowed {
					if w.Code != http.StatusTooManyRequests {
						t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, http.StatusTooManyRequests)
					}
					var body response.Response
					if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
						t.Fatalf("failed to decode body: %v", err)
					}
					if body.Success || body.Error == nil || body.Error.Code != response.ErrCodeRateLimited {
						t.Errorf("body = %s", w.Body.String())
					}
					continue
				}
				if w.Code >= http.StatusBadRequest {
					t.Fatalf("request %d: status = %d, want success", i+1, w.Code)
				}
			}
		})
	}
}

func TestRateLimitBucketsAreIndependent(t *testing.T) {
	r := newTestRouter(Limits{SubmitPerMinute: 1, ReadPerMinute: 1})
	client := "10.3.0.1"

	if w := doRequest(r, http.MethodPost, "/api/orders/execute", client); w.Code != http.StatusCreated {
		t.Fatalf("first submit: status = %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/orders/execute", client); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second submit: status = %d, want 429", w.Code)
	}

	// exhausted submissions leave reads untouched
	if w := doRequest(r, http.MethodGet, "/api/orders/o-1", client); w.Code != http.StatusOK {
		t.Errorf("read after submit limit: status = %d", w.Code)
	}

	// other clients have their own allowance
	if w := doRequest(r, http.MethodPost, "/api/orders/execute", "10.3.0.2"); w.Code != http.StatusCreated {
		t.Errorf("other client submit: status = %d", w.Code)
	}
}
