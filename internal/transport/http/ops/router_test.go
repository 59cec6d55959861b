package opshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautgate/internal/coordinator"
	"nautgate/internal/fault"
	"nautgate/internal/gateway/sim"
	"nautgate/internal/ledger"
	"nautgate/internal/session"
)

func newTestRouter(t *testing.T) (*gin.Engine, *sim.Facade, *coordinator.Coordinator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := sim.New()
	sess := session.NewSession()
	venues := session.NewManager(sess, f, time.Second)
	core := coordinator.New(f, sess, venues, ledger.New(nil), coordinator.Options{})
	t.Cleanup(func() { _ = core.Shutdown(context.Background()) })

	router := gin.New()
	NewRouter(core).Register(router.Group("/api/ops"))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router, f, core
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return rec.Code, payload
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t)
	code, payload := doJSON(t, router, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", payload["status"])
}

func TestListOperations(t *testing.T) {
	router, _, _ := newTestRouter(t)
	code, payload := doJSON(t, router, http.MethodGet, "/api/ops", "")
	assert.Equal(t, http.StatusOK, code)
	ops, ok := payload["operations"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, ops)
}

func TestSessionGateReturnsConflict(t *testing.T) {
	router, _, _ := newTestRouter(t)
	code, payload := doJSON(t, router, http.MethodPost, "/api/ops/submitOrder",
		`{"venue_id":"SIM","instrument_id":"BTCUSDT","side":"BUY","quantity":"1"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "error", payload["status"])
	assert.Equal(t, "SessionError", payload["category"])
	assert.Equal(t, false, payload["retryable"])
	assert.Contains(t, payload["message"], "SessionNotReady")
}

func TestUnknownOperationIsBadRequest(t *testing.T) {
	router, _, _ := newTestRouter(t)
	code, payload := doJSON(t, router, http.MethodPost, "/api/ops/teleport", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ValidationError", payload["category"])
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	router, _, _ := newTestRouter(t)
	code, payload := doJSON(t, router, http.MethodPost, "/api/ops/initialize", `[1,2,3]`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ValidationError", payload["category"])
}

func TestFullFlowOverHTTP(t *testing.T) {
	router, _, _ := newTestRouter(t)

	code, payload := doJSON(t, router, http.MethodPost, "/api/ops/initialize",
		`{"trader_id":"T-1","environment":"sim"}`)
	require.Equal(t, http.StatusOK, code, payload)
	assert.Equal(t, "success", payload["status"])

	code, payload = doJSON(t, router, http.MethodPost, "/api/ops/connectVenue",
		`{"venue_id":"SIM","credentials_ref":"env:TEST"}`)
	require.Equal(t, http.StatusOK, code, payload)
	assert.Equal(t, "CONNECTED", payload["state"])

	code, payload = doJSON(t, router, http.MethodPost, "/api/ops/submitOrder",
		`{"client_order_id":"ord-1","venue_id":"SIM","instrument_id":"BTCUSDT",
		  "side":"BUY","quantity":"2","price":"50000"}`)
	require.Equal(t, http.StatusOK, code, payload)
	assert.Equal(t, "success", payload["status"])
	assert.Equal(t, "PENDING_SUBMIT", payload["state"])
	assert.NotEmpty(t, payload["venue_order_id"])

	code, payload = doJSON(t, router, http.MethodPost, "/api/ops/getOrder",
		`{"client_order_id":"ord-1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ord-1", payload["client_order_id"])

	code, payload = doJSON(t, router, http.MethodPost, "/api/ops/listOrders", "")
	require.Equal(t, http.StatusOK, code)
	orders, ok := payload["orders"].([]any)
	require.True(t, ok)
	assert.Len(t, orders, 1)
}

func TestAuthFailureMapsToUnauthorized(t *testing.T) {
	router, _, _ := newTestRouter(t)
	_, payload := doJSON(t, router, http.MethodPost, "/api/ops/initialize",
		`{"trader_id":"T-1","environment":"sim"}`)
	require.Equal(t, "success", payload["status"])

	code, payload := doJSON(t, router, http.MethodPost, "/api/ops/connectVenue",
		`{"venue_id":"SIM","credentials_ref":"env:invalid"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AuthError", payload["category"])
	// Credential material never appears in the response.
	assert.NotContains(t, payload["message"], "invalid")
}

func TestStatusForCoversTaxonomy(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fault.Validation))
	assert.Equal(t, http.StatusUnauthorized, statusFor(fault.Auth))
	assert.Equal(t, http.StatusConflict, statusFor(fault.Session))
	assert.Equal(t, http.StatusConflict, statusFor(fault.OrderBusy))
	assert.Equal(t, http.StatusBadGateway, statusFor(fault.Connection))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(fault.Timeout))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(fault.Trading))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fault.System))
}
