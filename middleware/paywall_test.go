package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aeonpay/x402evm/x402types"
)

func TestRenderPaywallEmbedsResourceAndRequirementsJSON(t *testing.T) {
	resp := x402types.PaymentRequiredResponse{
		X402Version: x402types.X402VersionCurrent,
		Resource:    x402types.ResourceDescriptor{URL: "https://example.com/paid", Description: "premium article"},
		Accepts:     []x402types.PaymentRequirement{{Scheme: x402types.SchemeExact, Network: "eip155:56", Amount: "1000000"}},
	}

	html := renderPaywall(resp)
	assert.Contains(t, html, "premium article")
	assert.Contains(t, html, "data-requirements=")
	assert.Contains(t, html, "eip155:56")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(html), "<!DOCTYPE html>"))
}

func TestRenderPaywallEscapesErrorMessage(t *testing.T) {
	resp := x402types.PaymentRequiredResponse{
		Error:    "<script>alert(1)</script>",
		Resource: x402types.ResourceDescriptor{URL: "https://example.com/paid"},
	}

	html := renderPaywall(resp)
	assert.NotContains(t, html, "<script>alert(1)</script>")
}
