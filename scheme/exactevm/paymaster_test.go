package exactevm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPaymasterValidateParsesSponsorDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/validate", r.URL.Path)
		var body validateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "policy-123", body.PolicyUUID)
		assert.Equal(t, "0", body.GasPrice)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(validateResponse{Sponsorable: true, TentativeNonce: 42})
	}))
	defer server.Close()

	pm := NewHTTPPaymaster(server.URL, "policy-123")
	decision, err := pm.Validate(context.Background(), SponsorRequest{To: "0xfacilitator", Data: []byte{1, 2, 3}, From: "0xPayer"})
	require.NoError(t, err)
	assert.True(t, decision.Sponsorable)
	assert.Equal(t, uint64(42), decision.TentativeNonce)
}

func TestHTTPPaymasterSubmitReturnsTransactionHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submit", r.URL.Path)
		var body submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, uint64(7), body.Nonce)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(submitResponse{TransactionHash: "0xsubmitted"})
	}))
	defer server.Close()

	pm := NewHTTPPaymaster(server.URL, "policy-123")
	txHash, err := pm.Submit(context.Background(), SponsorRequest{To: "0xfacilitator", Data: []byte{1}, From: "0xPayer"}, 7)
	require.NoError(t, err)
	assert.Equal(t, "0xsubmitted", txHash)
}

func TestHTTPPaymasterTreatsNon2xxAsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	pm := NewHTTPPaymaster(server.URL, "policy-123")
	_, err := pm.Validate(context.Background(), SponsorRequest{From: "0xPayer"})
	assert.Error(t, err)
}
