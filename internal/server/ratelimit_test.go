package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestRateLimitByIPRejectsExcessRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := &httpHandler{logger: zap.NewNop()}
	router := gin.New()
	router.POST("/lookup",
		handler.rateLimitByIP(2, time.Minute, "members.lookup_credentials.rate_limited"),
		func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		request := httptest.NewRequest(http.MethodPost, "/lookup", nil)
		request.RemoteAddr = remoteAddr
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, request)
		return recorder
	}

	for i := 0; i < 2; i++ {
		if recorder := send("192.0.2.1:1234"); recorder.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected admission, got %d", i, recorder.Code)
		}
	}
	limited := send("192.0.2.1:5678")
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(limited.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "rate_limited" || body["code"] != "members.lookup_credentials.rate_limited" {
		t.Fatalf("unexpected body %v", body)
	}
	if recorder := send("198.51.100.7:4000"); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected another client to be admitted, got %d", recorder.Code)
	}
}
