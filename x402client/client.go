// Package x402client implements the client side of the 402 retry protocol
// (spec §4.3 "Upstream capability negotiation"): picking an accepted
// requirement and constructing and EIP-712-signing an authorization into a
// PaymentPayload; encoding that payload onto the retry header is left to
// the caller. Grounded on the teacher's client.go +
// signers/evm/client.go ECDSA EIP-712 signing idiom.
package x402client

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/aeonpay/x402evm/chain"
	"github.com/aeonpay/x402evm/x402types"
)

// Client signs Exact-EVM authorizations with a single ECDSA private key, the
// client-side counterpart to the facilitator's chain.Gateway signer.
type Client struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewClient derives a signing client from a hex-encoded private key (with
// or without "0x" prefix).
func NewClient(privateKeyHex string) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("x402client: invalid private key: %w", err)
	}
	return &Client{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Address returns the client's EOA address.
func (c *Client) Address() string { return c.address }

// SelectRequirement picks the first requirement in accepts matching
// network, the simplest strategy a client can apply when several payment
// options are offered (spec §4.3 "the client picks one of the accepts
// entries").
func SelectRequirement(accepts []x402types.PaymentRequirement, network x402types.Network) (*x402types.PaymentRequirement, bool) {
	for i := range accepts {
		if accepts[i].Network == network {
			return &accepts[i], true
		}
	}
	if len(accepts) > 0 {
		return &accepts[0], true
	}
	return nil, false
}

// BuildAndSignPayload constructs an Authorization for requirement (validAfter
// = now-60s, validBefore = now + requirement.MaxTimeoutSeconds, a fresh
// random nonce), signs it by EIP-712, and returns the full PaymentPayload
// ready to be base64-encoded onto the retry header. needApprove selects
// which domain/type is signed: false signs the token's own EIP-3009
// TransferWithAuthorization (the common path), true signs the facilitator
// contract's own tokenTransferWithAuthorization struct for a token that
// doesn't implement EIP-3009 natively and must be pre-approved first (spec
// §8 scenario S2; see BuildApproveCalldata).
func (c *Client) BuildAndSignPayload(requirement x402types.PaymentRequirement, valueOverride string, needApprove bool) (x402types.PaymentPayload, error) {
	if requirement.Extra == nil {
		return x402types.PaymentPayload{}, fmt.Errorf("x402client: requirement missing extra.name/version EIP-712 domain")
	}

	amount, err := requirementAmount(requirement)
	if err != nil {
		return x402types.PaymentPayload{}, err
	}
	value := amount
	if valueOverride != "" {
		value = valueOverride
	}

	nonce, err := x402types.NewAuthorizationNonce()
	if err != nil {
		return x402types.PaymentPayload{}, err
	}

	now := time.Now().Unix()
	timeout := requirement.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = 600
	}

	auth := x402types.Authorization{
		From:        c.address,
		To:          requirement.PayTo,
		Value:       value,
		ValidAfter:  strconv.FormatInt(now-60, 10),
		ValidBefore: strconv.FormatInt(now+int64(timeout), 10),
		Nonce:       nonce,
	}

	var signature string
	if needApprove {
		signature, err = c.signFacilitatorAuthorization(auth, requirement)
	} else {
		signature, err = c.signTransferAuthorization(auth, requirement)
	}
	if err != nil {
		return x402types.PaymentPayload{}, err
	}

	return x402types.PaymentPayload{
		X402Version: x402types.X402VersionCurrent,
		Scheme:      requirement.Scheme,
		Network:     requirement.Network,
		Payload: x402types.ExactEvmPayload{
			Authorization: auth,
			Signature:     signature,
		},
		Resource: requirement.Resource,
	}, nil
}

// BuildApproveCalldata packs an ERC-20 approve(facilitator, amount) call for
// requirement.Asset, the on-chain prerequisite a client must submit and
// confirm before signing a needApprove=true authorization for a
// non-EIP-3009 token (spec §8 scenario S2: "Client first sends
// approve(facilitator, value) and waits receipt, then signs...").
func (c *Client) BuildApproveCalldata(requirement x402types.PaymentRequirement, amount string) (to string, data []byte, err error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return "", nil, fmt.Errorf("x402client: invalid approve amount %q", amount)
	}

	parsedABI, err := abi.JSON(strings.NewReader(chain.ERC20ABI))
	if err != nil {
		return "", nil, fmt.Errorf("x402client: parse erc20 abi: %w", err)
	}
	data, err = parsedABI.Pack("approve", common.HexToAddress(chain.FacilitatorContractAddress), value)
	if err != nil {
		return "", nil, fmt.Errorf("x402client: pack approve: %w", err)
	}
	return requirement.Asset, data, nil
}

func requirementAmount(req x402types.PaymentRequirement) (string, error) {
	if req.Amount != "" {
		return req.Amount, nil
	}
	if req.AmountRequired > 0 {
		scale := new(big.Float).SetFloat64(1)
		for i := 0; i < req.TokenDecimals; i++ {
			scale.Mul(scale, big.NewFloat(10))
		}
		v := new(big.Float).Mul(big.NewFloat(req.AmountRequired), scale)
		i, _ := v.Int(nil)
		return i.String(), nil
	}
	return "", fmt.Errorf("x402client: requirement carries neither amount nor amountRequired")
}

// signTransferAuthorization signs the TransferWithAuthorization EIP-712
// struct with the token's own domain (spec §6 EIP-3009 path): the common
// case, used whenever the asset implements EIP-3009 natively.
func (c *Client) signTransferAuthorization(auth x402types.Authorization, requirement x402types.PaymentRequirement) (string, error) {
	digest, err := chain.HashTransferWithAuthorization(
		chain.ResolveChainID(requirement.Network),
		requirement.Extra.Name,
		requirement.Extra.Version,
		requirement.Asset,
		auth,
	)
	if err != nil {
		return "", err
	}
	return c.sign(digest)
}

// signFacilitatorAuthorization signs the facilitator contract's own
// tokenTransferWithAuthorization EIP-712 struct (spec §8 scenario S2),
// used for a token that doesn't implement EIP-3009 and must instead be
// approved and routed through the facilitator contract directly.
func (c *Client) signFacilitatorAuthorization(auth x402types.Authorization, requirement x402types.PaymentRequirement) (string, error) {
	digest, err := chain.HashTokenTransferWithAuthorization(
		chain.ResolveChainID(requirement.Network),
		requirement.Asset,
		auth,
		true,
	)
	if err != nil {
		return "", err
	}
	return c.sign(digest)
}

func (c *Client) sign(digest [32]byte) (string, error) {
	sig, err := crypto.Sign(digest[:], c.privateKey)
	if err != nil {
		return "", fmt.Errorf("x402client: sign: %w", err)
	}
	sig[64] += 27 // recovery id 0/1 -> legacy v 27/28, matches signers/evm/client.go
	return "0x" + hex.EncodeToString(sig), nil
}
