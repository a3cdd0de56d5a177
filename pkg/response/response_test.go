package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-swap/internal/types"
)

func TestHandle(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verr := &types.ValidationError{Fields: []types.FieldError{
		{Field: "amount", Message: "amount must be greater than 0"},
		{Field: "slippage", Message: "slippage must be at most 0.5"},
	}}

	tests := []struct {
		name       string
		method     string
		data       any
		err        error
		wantStatus int
		wantCode   string
		wantFields int
	}{
		{"validation", http.MethodPost, nil, verr, http.StatusBadRequest, ErrCodeValidationFailed, 2},
		{"wrapped validation", http.MethodPost, nil, fmt.Errorf("submit: %w", verr), http.StatusBadRequest, ErrCodeValidationFailed, 2},
		{"not found", http.MethodGet, nil, fmt.Errorf("failed to get order: %w", types.ErrNotFound), http.StatusNotFound, ErrCodeNotFound, 0},
		{"unavailable", http.MethodPost, nil, fmt.Errorf("enqueue: %w", types.ErrUnavailable), http.StatusServiceUnavailable, ErrCodeUnavailable, 0},
		{"duplicate", http.MethodPost, nil, types.ErrDuplicateOrder, http.StatusConflict, ErrCodeDuplicateResource, 0},
		{"unexpected", http.MethodGet, nil, errors.New("disk on fire"), http.StatusInternalServerError, ErrCodeInternalError, 0},
		{"created", http.MethodPost, gin.H{"order_id": "o-1"}, nil, http.StatusCreated, "", 0},
		{"ok", http.MethodGet, gin.H{"order_id": "o-1"}, nil, http.StatusOK, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Handle(tt.method, "/orders", func(c *gin.Context) {
				Handle(c, tt.data, tt.err)
			})

			req := httptest.NewRequest(tt.method, "/orders", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}

			if tt.err == nil {
				if !body.Success || body.Error != nil || body.Data == nil {
					t.Errorf("body = %s", w.Body.String())
				}
				return
			}

			if body.Success || body.Error == nil {
				t.Fatalf("body = %s", w.Body.String())
			}
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Error.Code, tt.wantCode)
			}
			if len(body.Error.Fields) != tt.wantFields {
				t.Errorf("fields = %v, want %d", body.Error.Fields, tt.wantFields)
			}
		})
	}
}

func TestHandleInternalErrorHidesDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/orders", func(c *gin.Context) {
		Handle(c, nil, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders", nil))

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	errBody, _ := body["error"].(map[string]any)
	if errBody["message"] != "An unexpected error occurred" {
		t.Errorf("message = %v", errBody["message"])
	}
	if _, ok := errBody["errors"]; ok {
		t.Error("internal error should not list fields")
	}
}
