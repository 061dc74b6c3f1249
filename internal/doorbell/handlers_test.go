package doorbell

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/doorbell-dispatch/internal/devices"
	"github.com/eternisai/doorbell-dispatch/internal/ledger"
	"github.com/eternisai/doorbell-dispatch/internal/notifications"
)

func newRouter(h *harness) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(h.service, log).RegisterRoutes(router)
	return router
}

func TestPostEvent(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantType    string
		wantContain string
	}{
		{
			name:        "delivered",
			body:        `{"deviceId":"dev1","eventId":"e1","timestamp":"2024-01-01T12:00:00Z"}`,
			wantStatus:  http.StatusOK,
			wantType:    "application/json",
			wantContain: `"notificationsSent":2`,
		},
		{
			name:        "unknown device",
			body:        `{"deviceId":"ghost","timestamp":"2024-01-01T12:00:00Z"}`,
			wantStatus:  http.StatusNotFound,
			wantType:    "text/plain",
			wantContain: "Device not found",
		},
		{
			name:        "invalid",
			body:        `{"eventId":"e1"}`,
			wantStatus:  http.StatusBadRequest,
			wantType:    "application/json",
			wantContain: `"error":"Invalid doorbell event"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(newHarness(t, nil))

			req := httptest.NewRequest(http.MethodPost, "/v1/doorbell/events", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.wantType) {
				t.Errorf("Expected content type %s, got %s", tt.wantType, ct)
			}
			if !strings.Contains(w.Body.String(), tt.wantContain) {
				t.Errorf("Expected body to contain %s, got %s", tt.wantContain, w.Body.String())
			}
		})
	}
}

func TestPostEventInternalError(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.panic = true
	router := newRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/v1/doorbell/events",
		strings.NewReader(`{"deviceId":"dev1","timestamp":"2024-01-01T12:00:00Z"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Expected JSON body: %v", err)
	}
	if body.Error != MessageFailed || !strings.Contains(body.Details, "provider client exploded") {
		t.Errorf("Unexpected body %+v", body)
	}
}

func TestPostEventCallerDisconnectDoesNotStopDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.service = NewService(Deps{
		Directory:  h.backend,
		Resolver:   devices.NewResolver(h.backend, h.backend, log),
		Composer:   notifications.NewComposer(),
		Dispatcher: notifications.NewDispatcher(h.sender, 1, log, nil),
		Revoker:    h.revoker,
		Ledger:     ledger.New(h.backend, log, nil),
	}, log)
	router := newRouter(h)

	reqCtx, hangUp := context.WithCancel(context.Background())
	defer hangUp()
	h.sender.onSend = hangUp

	req := httptest.NewRequest(http.MethodPost, "/v1/doorbell/events",
		strings.NewReader(`{"deviceId":"dev1","eventId":"e1","timestamp":"2024-01-01T12:00:00Z"}`)).WithContext(reqCtx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if h.sender.calls != 2 {
		t.Fatalf("Expected one call per batch, got %d", h.sender.calls)
	}
	for i, err := range h.sender.ctxErrs {
		if err != nil {
			t.Errorf("Batch %d ran under a cancelled context: %v", i, err)
		}
	}

	var body Response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Expected JSON body: %v", err)
	}
	if body.NotificationsSent != 2 || body.NotificationsFailed != 0 {
		t.Errorf("Expected 2 sent 0 failed, got %+v", body)
	}
	if len(h.backend.entries) != 1 {
		t.Errorf("Expected the ledger entry to be written, got %d", len(h.backend.entries))
	}
}
