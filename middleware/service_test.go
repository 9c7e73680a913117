package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeonpay/x402evm/x402types"
)

type fakeFacilitator struct {
	verifyResult x402types.VerifyResult
	settleResult x402types.SettleResult
	settleCalled bool
}

func (f *fakeFacilitator) Verify(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.VerifyResult, error) {
	return f.verifyResult, nil
}

func (f *fakeFacilitator) Settle(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.SettleResult, error) {
	f.settleCalled = true
	return f.settleResult, nil
}

func newTestRouter(t *testing.T, facilitator Facilitator, routes RoutesConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc, err := NewService(routes, facilitator)
	require.NoError(t, err)

	router := gin.New()
	router.Use(svc.Handler())
	router.GET("/paid", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return router
}

func TestHandlerReturns402WhenPaymentHeaderMissing(t *testing.T) {
	facilitator := &fakeFacilitator{}
	routes := RoutesConfig{
		"GET /paid": {
			Accepts: []x402types.PaymentRequirement{{Scheme: x402types.SchemeExact, Network: "eip155:56", PayTo: "0xabc", Amount: "1000"}},
		},
	}
	router := newTestRouter(t, facilitator, routes)

	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("payment-required"))
}

func TestHandlerPassesThroughAndSettlesOnValidPayment(t *testing.T) {
	facilitator := &fakeFacilitator{
		verifyResult: x402types.VerifyResult{IsValid: true, Payer: "0xPayer"},
		settleResult: x402types.SettleResult{Success: true, Transaction: "0xtx"},
	}
	routes := RoutesConfig{
		"GET /paid": {
			Accepts: []x402types.PaymentRequirement{{Scheme: x402types.SchemeExact, Network: "eip155:56", PayTo: "0xabc", Amount: "1000"}},
		},
	}
	router := newTestRouter(t, facilitator, routes)

	payload := x402types.PaymentPayload{X402Version: x402types.X402VersionCurrent, Scheme: x402types.SchemeExact, Network: "eip155:56"}
	encoded, err := x402types.EncodeBase64(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("X-PAYMENT", encoded)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, facilitator.settleCalled)
	assert.NotEmpty(t, rec.Header().Get("X-PAYMENT-RESPONSE"))
}

func TestHandlerReturns402WhenVerifyRejects(t *testing.T) {
	reason := string(x402types.ReasonInsufficientFunds)
	facilitator := &fakeFacilitator{verifyResult: x402types.VerifyResult{IsValid: false, InvalidReason: &reason}}
	routes := RoutesConfig{
		"GET /paid": {
			Accepts: []x402types.PaymentRequirement{{Scheme: x402types.SchemeExact, Network: "eip155:56", PayTo: "0xabc", Amount: "1000"}},
		},
	}
	router := newTestRouter(t, facilitator, routes)

	payload := x402types.PaymentPayload{X402Version: x402types.X402VersionCurrent, Scheme: x402types.SchemeExact, Network: "eip155:56"}
	encoded, err := x402types.EncodeBase64(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("X-PAYMENT", encoded)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, facilitator.settleCalled)
}

func TestHandlerSkipsUnmatchedRoutes(t *testing.T) {
	facilitator := &fakeFacilitator{}
	gin.SetMode(gin.TestMode)
	svc, err := NewService(RoutesConfig{}, facilitator)
	require.NoError(t, err)

	router := gin.New()
	router.Use(svc.Handler())
	router.GET("/free", func(c *gin.Context) { c.String(http.StatusOK, "free") })

	req := httptest.NewRequest(http.MethodGet, "/free", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "free", rec.Body.String())
}

func TestDiscoverableRoutesListsOnlyDiscoverableRoutesAccepts(t *testing.T) {
	schema := json.RawMessage(`{"type":"object"}`)
	routes := RoutesConfig{
		"GET /paid": {
			Discoverable: true,
			InputSchema:  &schema,
			Accepts:      []x402types.PaymentRequirement{{Scheme: x402types.SchemeExact, Network: "eip155:56"}},
		},
		"GET /hidden": {
			Accepts: []x402types.PaymentRequirement{{Scheme: x402types.SchemeExact, Network: "eip155:56"}},
		},
	}
	svc, err := NewService(routes, &fakeFacilitator{})
	require.NoError(t, err)

	discoverable := svc.DiscoverableRoutes()
	require.Len(t, discoverable, 1)
	assert.Equal(t, x402types.Network("eip155:56"), discoverable[0].Requirement.Network)
	assert.Equal(t, &schema, discoverable[0].InputSchema)
}

func TestNewServiceRejectsMalformedDiscoverableSchema(t *testing.T) {
	bad := json.RawMessage(`{not valid json schema`)
	_, err := NewService(RoutesConfig{
		"GET /paid": {
			Discoverable: true,
			InputSchema:  &bad,
			Accepts:      []x402types.PaymentRequirement{{Scheme: x402types.SchemeExact, Network: "eip155:56"}},
		},
	}, &fakeFacilitator{})
	assert.Error(t, err)
}
