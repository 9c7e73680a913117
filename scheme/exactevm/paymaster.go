package exactevm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HTTPPaymaster is the sponsored/gasless settlement collaborator for BSC
// (spec §4.2 Stage B, §6 "sponsorUrl, policyUUID"), grounded on the
// teacher's HTTP-client idiom in http/facilitator_client.go.
type HTTPPaymaster struct {
	sponsorURL string
	policyUUID string
	httpClient *http.Client
}

// NewHTTPPaymaster constructs a paymaster client against sponsorURL, scoped
// to policyUUID.
func NewHTTPPaymaster(sponsorURL, policyUUID string) *HTTPPaymaster {
	return &HTTPPaymaster{
		sponsorURL: sponsorURL,
		policyUUID: policyUUID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type validateRequest struct {
	PolicyUUID string `json:"policyUuid"`
	To         string `json:"to"`
	Data       string `json:"data"`
	From       string `json:"from"`
	GasPrice   string `json:"gasPrice"`
}

type validateResponse struct {
	Sponsorable    bool   `json:"sponsorable"`
	TentativeNonce uint64 `json:"tentativeNonce"`
}

// Validate asks the paymaster whether req is sponsorable at gasPrice=0
// (spec §4.2 Stage B step 1).
func (p *HTTPPaymaster) Validate(ctx context.Context, req SponsorRequest) (SponsorDecision, error) {
	body := validateRequest{
		PolicyUUID: p.policyUUID,
		To:         req.To,
		Data:       hexutil.Encode(req.Data),
		From:       req.From,
		GasPrice:   "0",
	}
	var resp validateResponse
	if err := p.post(ctx, "/validate", body, &resp); err != nil {
		return SponsorDecision{}, err
	}
	return SponsorDecision{Sponsorable: resp.Sponsorable, TentativeNonce: resp.TentativeNonce}, nil
}

type submitRequest struct {
	PolicyUUID string `json:"policyUuid"`
	To         string `json:"to"`
	Data       string `json:"data"`
	From       string `json:"from"`
	Nonce      uint64 `json:"nonce"`
}

type submitResponse struct {
	TransactionHash string `json:"transactionHash"`
}

// Submit posts the sponsored call with the given nonce to the paymaster's
// /submit endpoint and returns the transaction hash it reports.
func (p *HTTPPaymaster) Submit(ctx context.Context, req SponsorRequest, nonce uint64) (string, error) {
	body := submitRequest{
		PolicyUUID: p.policyUUID,
		To:         req.To,
		Data:       hexutil.Encode(req.Data),
		From:       req.From,
		Nonce:      nonce,
	}
	var resp submitResponse
	if err := p.post(ctx, "/submit", body, &resp); err != nil {
		return "", err
	}
	return resp.TransactionHash, nil
}

func (p *HTTPPaymaster) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("exactevm: marshal paymaster request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sponsorURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("exactevm: build paymaster request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exactevm: paymaster request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("exactevm: paymaster %s returned status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("exactevm: decode paymaster response: %w", err)
		}
	}
	return nil
}
