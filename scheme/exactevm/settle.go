package exactevm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/aeonpay/x402evm/chain"
	"github.com/aeonpay/x402evm/x402types"
)

// Settle runs the three-stage settlement pipeline of spec §4.2: optional
// smart-wallet deployment, a sponsored/gasless attempt on BSC, and a
// fallback direct facilitator call.
func (e *Engine) Settle(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.SettleResult, error) {
	verifyResult, err := e.Verify(ctx, payload, requirement)
	if err != nil {
		return x402types.SettleResult{}, err
	}
	if !verifyResult.IsValid {
		return x402types.SettleResult{
			Success:     false,
			Network:     requirement.Network,
			Payer:       verifyResult.Payer,
			ErrorReason: verifyResult.InvalidReason,
		}, nil
	}

	auth := payload.Payload.Authorization
	signature, err := hexToBytes(payload.Payload.Signature)
	if err != nil {
		return failSettle(x402types.ReasonInvalidSignature, requirement.Network, auth.From, ""), nil
	}

	// Stage A: optional smart-wallet deployment.
	if e.deployWithEIP6492 {
		if parsed, ok, _ := chain.ParseERC6492Signature(signature); ok && parsed.HasDeployment() {
			if code, err := e.gateway.GetCode(ctx, auth.From); err == nil && len(code) == 0 {
				txHash, err := e.gateway.SendTransaction(ctx, parsed.Factory.Hex(), parsed.FactoryCalldata)
				if err != nil {
					return failSettle(x402types.ReasonUnexpectedSettleError, requirement.Network, auth.From, ""), nil
				}
				receipt, err := e.gateway.WaitForReceipt(ctx, txHash)
				if err != nil || !receipt.Succeeded() {
					return failSettle(x402types.ReasonInvalidTransactionState, requirement.Network, auth.From, txHash), nil
				}
			}
		}
	}

	supportsEIP3009 := e.probeEIP3009(ctx, requirement.Asset)
	needApprove := !supportsEIP3009
	callData, err := encodeTokenTransferWithAuthorization(requirement.Asset, auth, needApprove, signature)
	if err != nil {
		return failSettle(x402types.ReasonInvalidPayload, requirement.Network, auth.From, ""), nil
	}

	// Stage B: sponsored/gasless path, BSC only.
	if e.paymaster != nil && chain.IsBSC(requirement.Network) && chain.ResolveChainID(requirement.Network) == e.paymasterChainID {
		if result, ok := e.trySponsored(ctx, requirement, auth, callData); ok {
			return result, nil
		}
		e.log.Info("sponsored settlement unavailable, falling through to direct call", "payer", auth.From)
	}

	// Stage C: fallback direct facilitator call.
	return e.settleDirect(ctx, requirement, auth, callData), nil
}

func encodeTokenTransferWithAuthorization(asset string, auth x402types.Authorization, needApprove bool, signature []byte) ([]byte, error) {
	parsedABI, err := abi.JSON(strings.NewReader(chain.FacilitatorContractABI))
	if err != nil {
		return nil, err
	}
	value, _ := parseBigInt(auth.Value)
	validAfter, _ := parseBigInt(auth.ValidAfter)
	validBefore, _ := parseBigInt(auth.ValidBefore)
	nonce, err := parseNonce(auth.Nonce)
	if err != nil {
		return nil, err
	}
	return parsedABI.Pack(
		"tokenTransferWithAuthorization",
		common.HexToAddress(asset),
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce,
		needApprove,
		signature,
	)
}

// trySponsored implements Stage B: validate sponsorability, then submit
// with the nonce-conflict retry loop (spec §4.2). ok=false means the
// caller should fall through to Stage C silently.
func (e *Engine) trySponsored(ctx context.Context, requirement x402types.PaymentRequirement, auth x402types.Authorization, callData []byte) (x402types.SettleResult, bool) {
	req := SponsorRequest{To: e.facilitatorContract, Data: callData, From: auth.From}

	decision, err := e.paymaster.Validate(ctx, req)
	if err != nil || !decision.Sponsorable {
		return x402types.SettleResult{}, false
	}

	// Submit with a fresh on-chain-latest nonce; the tentative nonce from
	// Validate is used only when that refetch fails.
	nonce := decision.TentativeNonce
	if n, err := e.gateway.LatestNonce(ctx); err == nil {
		nonce = n
	}
	txHash, err := e.submitWithNonceRetry(ctx, req, nonce)
	if err != nil {
		return x402types.SettleResult{}, false
	}

	receipt, err := e.gateway.WaitForReceipt(ctx, txHash)
	if err != nil {
		return x402types.SettleResult{}, false
	}
	if !receipt.Succeeded() {
		return x402types.SettleResult{}, false
	}

	if e.scanSink != nil {
		e.scanSink.Emit(x402types.ScanRecord{
			Authorization: auth,
			Network:       requirement.Network,
			Resource:      requirement.Resource,
			Transaction:   txHash,
			Timestamp:     time.Now().UTC(),
		})
	}

	return x402types.SettleResult{
		Success:     true,
		Transaction: txHash,
		Network:     requirement.Network,
		Payer:       auth.From,
	}, true
}

// submitWithNonceRetry implements the Stage-B nonce-conflict retry loop of
// spec §4.2: classify the error message, back off, refetch and retry — no
// in-process nonce counter is ever persisted across attempts (spec §9).
func (e *Engine) submitWithNonceRetry(ctx context.Context, req SponsorRequest, firstNonce uint64) (string, error) {
	nonce := firstNonce
	var lastErr error

	for attempt := 1; attempt <= e.nonceRetries; attempt++ {
		txHash, err := e.paymaster.Submit(ctx, req, nonce)
		if err == nil {
			return txHash, nil
		}
		lastErr = err

		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "nonce too low"):
			if err := sleepCtx(ctx, time.Duration(attempt)*2*time.Second); err != nil {
				return "", err
			}
			if n, err := e.gateway.PendingNonce(ctx); err == nil {
				nonce = n
			}
		case strings.Contains(msg, "nonce too high"):
			if err := sleepCtx(ctx, 500*time.Millisecond); err != nil {
				return "", err
			}
			if n, err := e.gateway.LatestNonce(ctx); err == nil {
				nonce = n
			}
		case strings.Contains(msg, "already used") || strings.Contains(msg, "already known"):
			if err := sleepCtx(ctx, time.Duration(attempt)*1500*time.Millisecond); err != nil {
				return "", err
			}
		case strings.Contains(msg, "nonce"):
			if err := sleepCtx(ctx, time.Duration(attempt)*time.Second); err != nil {
				return "", err
			}
		default:
			// Non-nonce error: abort the retry loop immediately.
			return "", err
		}
		e.log.Info("sponsored submit nonce conflict, retrying", "attempt", attempt, "error", err)
	}
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// settleDirect implements Stage C: a direct call to the facilitator contract
// from the facilitator's own signer.
func (e *Engine) settleDirect(ctx context.Context, requirement x402types.PaymentRequirement, auth x402types.Authorization, callData []byte) x402types.SettleResult {
	txHash, err := e.gateway.SendTransaction(ctx, e.facilitatorContract, callData)
	if err != nil {
		if reason, ok := classifySelectorError(err); ok {
			return failSettle(reason, requirement.Network, auth.From, "")
		}
		if isTimedOut(err) {
			// Preserve the best tx hash available even on a timeout, per
			// spec §4.2 Stage C / §7 propagation policy.
			return failSettle(x402types.ReasonUnexpectedSettleError, requirement.Network, auth.From, "")
		}
		return failSettle(x402types.ReasonUnexpectedSettleError, requirement.Network, auth.From, "")
	}

	receipt, err := e.gateway.WaitForReceipt(ctx, txHash)
	if err != nil {
		if isTimedOut(err) {
			return failSettle(x402types.ReasonUnexpectedSettleError, requirement.Network, auth.From, txHash)
		}
		return failSettle(x402types.ReasonUnexpectedSettleError, requirement.Network, auth.From, txHash)
	}
	if !receipt.Succeeded() {
		return failSettle(x402types.ReasonInvalidTransactionState, requirement.Network, auth.From, txHash)
	}

	return x402types.SettleResult{
		Success:     true,
		Transaction: txHash,
		Network:     requirement.Network,
		Payer:       auth.From,
	}
}

func isTimedOut(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timed out") || errors.Is(err, context.DeadlineExceeded)
}

func failSettle(reason x402types.Reason, network x402types.Network, payer, txHash string) x402types.SettleResult {
	r := string(reason)
	return x402types.SettleResult{
		Success:     false,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
		ErrorReason: &r,
	}
}
