package exactevm

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aeonpay/x402evm/chain"
	"github.com/aeonpay/x402evm/x402types"
)

// validBeforeBuffer is the block-time buffer spec §4.1 step 6 requires
// between "now" and an authorization's validBefore.
const validBeforeBuffer = 6 * time.Second

// Verify runs the seven ordered checks of spec §4.1 against payload and
// requirement, returning on the first failure.
func (e *Engine) Verify(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement) (x402types.VerifyResult, error) {
	auth := payload.Payload.Authorization

	// Step 1: scheme/version guards.
	if payload.Scheme != x402types.SchemeExact || requirement.Scheme != x402types.SchemeExact {
		return rejected(x402types.ReasonUnsupportedScheme, auth.From), nil
	}
	if payload.X402Version != x402types.X402VersionCurrent && payload.X402Version != x402types.X402VersionLegacy {
		return rejected(x402types.ReasonInvalidX402Version, auth.From), nil
	}

	// Step 2: network match.
	if payload.Network != requirement.Network {
		return rejected(x402types.ReasonNetworkMismatch, auth.From), nil
	}

	// Step 2b: EIP-712 domain presence, matching the teacher's
	// mechanisms/evm/v1/facilitator.go ordering (checked right after the
	// network match, before recipient/amount checks).
	if requirement.Extra == nil || requirement.Extra.Name == "" || requirement.Extra.Version == "" {
		return rejected(x402types.ReasonMissingEIP712Domain, auth.From), nil
	}

	required, err := requiredAmount(requirement)
	if err != nil {
		return rejected(x402types.ReasonInvalidPayload, auth.From), nil
	}

	signature, err := hexToBytes(payload.Payload.Signature)
	if err != nil {
		return rejected(x402types.ReasonInvalidSignature, auth.From), nil
	}

	// Step 3: EIP-3009 capability probe (cached per chain/asset).
	supportsEIP3009 := e.probeEIP3009(ctx, requirement.Asset)

	// Step 4: authorization gas simulation against the facilitator contract.
	gasErr := e.simulateAuthorization(ctx, payload, requirement, !supportsEIP3009, signature)
	if gasErr != nil {
		if reason, ok := classifySelectorError(gasErr); ok {
			return rejected(reason, auth.From), nil
		}

		// Step 5: smart-wallet / EIP-6492 analysis, only for long signatures.
		// An accepted smart-wallet signature still goes through step 6.
		smartWalletAccepted := false
		if len(signature) > 65 {
			result, handled, err := e.analyzeSmartWallet(ctx, payload, requirement, !supportsEIP3009, signature)
			if err != nil {
				return x402types.VerifyResult{}, err
			}
			if handled {
				if !result.IsValid {
					return result, nil
				}
				smartWalletAccepted = true
			}
		}
		// Any other gas-estimate failure that isn't in the taxonomy and
		// isn't resolved by smart-wallet analysis is rejected as an invalid
		// signature — the spec treats estimateGas as the sole enforcement
		// mechanism (Open Question 1), so a genuinely unclassified revert
		// means the payload can't be verified at all.
		if !smartWalletAccepted {
			return rejected(x402types.ReasonInvalidSignature, auth.From), nil
		}
	}

	// Step 6: field-level semantic checks.
	if !strings.EqualFold(auth.To, requirement.PayTo) {
		return rejected(x402types.ReasonRecipientMismatch, auth.From), nil
	}

	now := time.Now().Unix()
	validBefore, ok := parseBigInt(auth.ValidBefore)
	if !ok {
		return rejected(x402types.ReasonInvalidPayload, auth.From), nil
	}
	if validBefore.Int64() < now+int64(validBeforeBuffer.Seconds()) {
		return rejected(x402types.ReasonAuthorizationValidBefore, auth.From), nil
	}

	validAfter, ok := parseBigInt(auth.ValidAfter)
	if !ok {
		return rejected(x402types.ReasonInvalidPayload, auth.From), nil
	}
	if validAfter.Int64() > now {
		return rejected(x402types.ReasonAuthorizationValidAfter, auth.From), nil
	}

	if balance, err := e.gateway.GetBalance(ctx, requirement.Asset, auth.From); err != nil {
		e.log.Warn("balance read failed during verify, tolerating", "error", err, "payer", auth.From)
	} else if balance.Cmp(required) < 0 {
		return rejected(x402types.ReasonInsufficientFunds, auth.From), nil
	}

	value, ok := parseBigInt(auth.Value)
	if !ok || value.Cmp(required) < 0 {
		return rejected(x402types.ReasonAuthorizationValue, auth.From), nil
	}

	// Step 7: success.
	return x402types.VerifyResult{IsValid: true, Payer: auth.From}, nil
}

func rejected(reason x402types.Reason, payer string) x402types.VerifyResult {
	r := string(reason)
	return x402types.VerifyResult{IsValid: false, InvalidReason: &r, Payer: payer}
}

// simulateAuthorization encodes and gas-estimates the facilitator contract's
// tokenTransferWithAuthorization call (spec §4.1 step 4), regardless of
// which signature branch will ultimately be used to settle.
func (e *Engine) simulateAuthorization(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement, needApprove bool, signature []byte) error {
	auth := payload.Payload.Authorization
	value, _ := parseBigInt(auth.Value)
	validAfter, _ := parseBigInt(auth.ValidAfter)
	validBefore, _ := parseBigInt(auth.ValidBefore)
	nonce, err := parseNonce(auth.Nonce)
	if err != nil {
		return err
	}

	_, err = e.gateway.EstimateGas(
		ctx,
		e.facilitatorContract,
		chain.FacilitatorContractABI,
		"tokenTransferWithAuthorization",
		common.HexToAddress(requirement.Asset),
		common.HexToAddress(auth.From),
		common.HexToAddress(auth.To),
		value,
		validAfter,
		validBefore,
		nonce,
		needApprove,
		signature,
	)
	return err
}

// classifySelectorError maps a chain.CallError's 4-byte revert selector to
// the closed reason taxonomy (spec §4.1 step 4 table).
func classifySelectorError(err error) (x402types.Reason, bool) {
	callErr, ok := err.(*chain.CallError)
	if !ok {
		return "", false
	}
	selector, ok := callErr.Selector()
	if !ok {
		return "", false
	}
	switch selector {
	case chain.SelectorInsufficientAllowance:
		return x402types.ReasonInsufficientFunds, true
	case chain.SelectorInvalidOperator:
		return x402types.ReasonRecipientMismatch, true
	case chain.SelectorAuthNotYetValid:
		return x402types.ReasonAuthorizationValidAfter, true
	case chain.SelectorAuthExpired:
		return x402types.ReasonAuthorizationValidBefore, true
	case chain.SelectorNonceUsed:
		return x402types.ReasonPaymentExpired, true
	case chain.SelectorInvalidSignature:
		return x402types.ReasonInvalidSignature, true
	}
	return "", false
}

// analyzeSmartWallet implements spec §4.1 step 5: only reached when the gas
// estimate failed with a non-taxonomy error and the signature is longer
// than 65 bytes.
func (e *Engine) analyzeSmartWallet(ctx context.Context, payload x402types.PaymentPayload, requirement x402types.PaymentRequirement, needApprove bool, signature []byte) (x402types.VerifyResult, bool, error) {
	auth := payload.Payload.Authorization
	payer := auth.From

	code, err := e.gateway.GetCode(ctx, payer)
	if err != nil {
		return x402types.VerifyResult{}, false, err
	}

	parsed, wrapped, parseErr := chain.ParseERC6492Signature(signature)
	if parseErr != nil {
		return x402types.VerifyResult{}, false, parseErr
	}

	if len(code) == 0 {
		if wrapped && parsed.HasDeployment() {
			// Deployment is deferred to Settle Stage A.
			return x402types.VerifyResult{IsValid: true, Payer: payer}, true, nil
		}
		return rejected(x402types.ReasonUndeployedSmartWallet, payer), true, nil
	}

	// Code exists: the gas estimate alone can't tell a bad signature apart
	// from an unrelated revert, so fall back to an explicit EIP-1271 check
	// via the ERC-6492 UniversalSigValidator (it validates a plain EIP-1271
	// signature the same way it validates a counterfactual one).
	innerSig := signature
	if wrapped {
		innerSig = parsed.InnerSignature
	}

	hash, err := e.authorizationDigest(requirement, auth, needApprove)
	if err != nil {
		return x402types.VerifyResult{}, false, err
	}

	valid, err := chain.VerifyERC6492Signature(ctx, e.gateway, payer, hash, innerSig)
	if err != nil {
		e.log.Warn("erc6492 signature validation call failed", "error", err, "payer", payer)
		return rejected(x402types.ReasonInvalidSignature, payer), true, nil
	}
	if !valid {
		return rejected(x402types.ReasonInvalidSignature, payer), true, nil
	}
	return x402types.VerifyResult{IsValid: true, Payer: payer}, true, nil
}

// authorizationDigest computes the EIP-712 digest the payer would have
// signed over, selecting the token's own EIP-3009 domain or the
// facilitator's tokenTransferWithAuthorization domain depending on which
// capability probe succeeded (spec §4.1 step 3, §8 scenario S2).
func (e *Engine) authorizationDigest(requirement x402types.PaymentRequirement, auth x402types.Authorization, needApprove bool) ([32]byte, error) {
	if needApprove {
		return chain.HashTokenTransferWithAuthorization(e.gateway.ChainID(), requirement.Asset, auth, needApprove)
	}
	return chain.HashTransferWithAuthorization(e.gateway.ChainID(), requirement.Extra.Name, requirement.Extra.Version, requirement.Asset, auth)
}
