// Package x402types defines the wire-level data model shared by every
// component of the x402 payment protocol: requirements, authorizations,
// payloads and the verify/settle results exchanged between them.
package x402types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Network is a CAIP-2 chain identifier, e.g. "eip155:56".
type Network string

// Current and legacy protocol versions.
const (
	X402VersionLegacy  = 1
	X402VersionCurrent = 2
)

// Scheme identifiers. Only "exact" is implemented.
const (
	SchemeExact = "exact"
)

// PaymentRequirement describes what a resource demands before serving a
// request. One of Amount or (AmountRequired + TokenDecimals) must be
// derivable; Amount always wins when both are present.
type PaymentRequirement struct {
	Scheme            string           `json:"scheme"`
	Network           Network          `json:"network"`
	NetworkID         int64            `json:"networkId,omitempty"`
	Asset             string           `json:"asset"`
	PayTo             string           `json:"payTo"`
	Amount            string           `json:"maxAmountRequired,omitempty"`
	AmountRequired    float64          `json:"amountRequired,omitempty"`
	TokenDecimals     int              `json:"tokenDecimals,omitempty"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Extra             *EIP712Extra     `json:"extra,omitempty"`
	Resource          string           `json:"resource,omitempty"`
	Description       string           `json:"description,omitempty"`
	MimeType          string           `json:"mimeType,omitempty"`
	OutputSchema      *json.RawMessage `json:"outputSchema,omitempty"`
}

// EIP712Extra carries the EIP-712 domain name/version for EIP-3009 tokens.
type EIP712Extra struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Authorization is the signed transfer intent a client produces.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload is the scheme-specific payload body: an authorization
// plus its signature.
type ExactEvmPayload struct {
	Authorization Authorization `json:"authorization"`
	Signature     string        `json:"signature"`
}

// PaymentPayload is what a client attaches to a retried request, and what
// the facilitator verifies/settles.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     Network         `json:"network"`
	Payload     ExactEvmPayload `json:"payload"`
	Resource    string          `json:"resource,omitempty"`
}

// VerifyResult is the outcome of SchemeEngine.Verify.
type VerifyResult struct {
	IsValid       bool    `json:"isValid"`
	InvalidReason *string `json:"invalidReason,omitempty"`
	Payer         string  `json:"payer,omitempty"`
}

// SettleResult is the outcome of SchemeEngine.Settle.
type SettleResult struct {
	Success      bool    `json:"success"`
	Transaction  string  `json:"transaction,omitempty"`
	Network      Network `json:"network,omitempty"`
	Payer        string  `json:"payer,omitempty"`
	ErrorReason  *string `json:"errorReason,omitempty"`
}

// ScanRecord is the fire-and-forget telemetry record posted to the scan
// sink on a successful sponsored settlement (spec §4.2 Telemetry, §6 scan
// endpoint).
type ScanRecord struct {
	Authorization Authorization `json:"authorization"`
	Network       Network       `json:"network"`
	Resource      string        `json:"resource"`
	Transaction   string        `json:"transaction"`
	Timestamp     time.Time     `json:"timestamp"`
}

// PaymentRequiredResponse is the JSON body of a 402 response; the same
// value, base64(JSON)-encoded, is sent in the payment-required header.
type PaymentRequiredResponse struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error,omitempty"`
	Resource    ResourceDescriptor   `json:"resource"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// ResourceDescriptor mirrors the resource being paid for in a 402 body.
type ResourceDescriptor struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// EncodeBase64 marshals v to JSON then base64-encodes it, the wire format
// used for both request (payment-signature/X-PAYMENT) and response
// (X-PAYMENT-RESPONSE, payment-required) headers; 402 bodies are plain JSON.
func EncodeBase64(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("x402types: marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeBase64 reverses EncodeBase64 into v.
func DecodeBase64(encoded string, v interface{}) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("x402types: base64 decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("x402types: unmarshal: %w", err)
	}
	return nil
}

// DecodePaymentPayload decodes a base64(JSON) X-PAYMENT/payment-signature
// header value into a PaymentPayload.
func DecodePaymentPayload(encoded string) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := DecodeBase64(encoded, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
