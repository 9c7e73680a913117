// Package chain implements the ChainGateway: the sole point of contact
// between the scheme engine and an EVM chain. It wraps go-ethereum's
// ethclient for reads, gas estimation, transaction submission and receipt
// polling, grounded on the teacher's FacilitatorEvmSigner interface
// (mechanisms/evm/types.go) and its go-ethereum wiring in signers/evm/client.go.
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/aeonpay/x402evm/x402types"
)

// Receipt is the subset of a transaction receipt the scheme engine needs.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
}

// Succeeded reports whether the receipt's status is the EVM success code.
func (r *Receipt) Succeeded() bool { return r.Status == types.ReceiptStatusSuccessful }

// TypedDataDomain mirrors an EIP-712 domain separator.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// TypedDataField is one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string
	Type string
}

// Gateway is the ChainGateway: read/write access to one EVM chain plus the
// facilitator's own signing key for direct settlement transactions.
type Gateway struct {
	rpc     *ethclient.Client
	signer  *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	log     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// NewGateway dials rpcURL and derives the facilitator signer's address from
// privateKeyHex (hex-encoded, with or without "0x").
func NewGateway(ctx context.Context, rpcURL, privateKeyHex string, opts ...Option) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: invalid facilitator private key: %w", err)
	}

	g := &Gateway{
		rpc:     client,
		signer:  key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: fetch chain id: %w", err)
	}
	g.chainID = chainID

	return g, nil
}

// Address returns the facilitator signer's address.
func (g *Gateway) Address() common.Address { return g.address }

// ChainID returns the connected chain's numeric id.
func (g *Gateway) ChainID() int64 { return g.chainID.Int64() }

// GetCode returns the deployed bytecode at address, empty for an EOA or an
// undeployed contract.
func (g *Gateway) GetCode(ctx context.Context, address string) ([]byte, error) {
	code, err := g.rpc.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("chain: get code: %w", err)
	}
	return code, nil
}

// GetBalance reads the ERC-20 balanceOf(owner) for asset.
func (g *Gateway) GetBalance(ctx context.Context, asset, owner string) (*big.Int, error) {
	result, err := g.ReadContract(ctx, asset, ERC20ABI, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	bal, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unexpected balanceOf return type %T", result)
	}
	return bal, nil
}

// ReadContract performs an eth_call against contractAddr and unpacks the
// single return value of method.
func (g *Gateway) ReadContract(ctx context.Context, contractAddr, abiJSON, method string, args ...interface{}) (interface{}, error) {
	parsedABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	to := common.HexToAddress(contractAddr)
	raw, err := g.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, &CallError{Method: method, RevertData: extractRevertData(err), Err: err}
	}

	outs, err := parsedABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s result: %w", method, err)
	}
	if len(outs) == 0 {
		return nil, nil
	}
	if len(outs) == 1 {
		return outs[0], nil
	}
	return outs, nil
}

// EstimateGas estimates the gas cost of calling method on contractAddr from
// the facilitator's own address, without broadcasting. On failure, the
// returned *CallError carries any revert data for 4-byte selector
// classification (spec §4.1 step 4).
func (g *Gateway) EstimateGas(ctx context.Context, contractAddr, abiJSON, method string, args ...interface{}) (uint64, error) {
	parsedABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return 0, fmt.Errorf("chain: parse abi: %w", err)
	}
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return 0, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	to := common.HexToAddress(contractAddr)
	gas, err := g.rpc.EstimateGas(ctx, ethereum.CallMsg{From: g.address, To: &to, Data: data})
	if err != nil {
		return 0, &CallError{Method: method, RevertData: extractRevertData(err), Err: err}
	}
	return gas, nil
}

// SendTransaction builds, signs and broadcasts an EIP-1559 transaction from
// the facilitator's own signer to `to` carrying `data`, refetching the
// pending nonce and current fee parameters at call time — per spec §9, no
// in-memory nonce counter is authoritative.
func (g *Gateway) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	nonce, err := g.rpc.PendingNonceAt(ctx, g.address)
	if err != nil {
		return "", fmt.Errorf("chain: pending nonce: %w", err)
	}

	maxFee, tip, err := g.estimateFees(ctx)
	if err != nil {
		g.log.Warn("fee estimation fell back to defaults", "error", err)
	}

	toAddr := common.HexToAddress(to)
	gasLimit, err := g.rpc.EstimateGas(ctx, ethereum.CallMsg{From: g.address, To: &toAddr, Data: data})
	if err != nil {
		return "", &CallError{Method: "sendTransaction", RevertData: extractRevertData(err), Err: err}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gasLimit + gasLimit/5, // 20% headroom
		To:        &toAddr,
		Data:      data,
	})

	signer := types.LatestSignerForChainID(g.chainID)
	signedTx, err := types.SignTx(tx, signer, g.signer)
	if err != nil {
		return "", fmt.Errorf("chain: sign transaction: %w", err)
	}

	if err := g.rpc.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("chain: broadcast transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

func (g *Gateway) estimateFees(ctx context.Context) (maxFee, tip *big.Int, err error) {
	gwei := big.NewInt(1_000_000_000)
	fallbackMax := new(big.Int).Mul(big.NewInt(2), gwei)
	fallbackTip := new(big.Int).Div(gwei, big.NewInt(10))

	tip, err = g.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return fallbackMax, fallbackTip, err
	}
	header, err := g.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return new(big.Int).Add(tip, gwei), tip, err
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = gwei
	}
	maxFee = new(big.Int).Add(new(big.Int).Mul(big.NewInt(2), baseFee), tip)
	return maxFee, tip, nil
}

// WaitForReceipt polls for tx's receipt until ctx is canceled, honoring
// cancellation per spec §5.
func (g *Gateway) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := g.rpc.TransactionReceipt(ctx, hash)
		if err == nil {
			return &Receipt{
				TxHash:      receipt.TxHash.Hex(),
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: wait for receipt %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// PendingNonce returns the next usable nonce for the facilitator's address.
func (g *Gateway) PendingNonce(ctx context.Context) (uint64, error) {
	return g.rpc.PendingNonceAt(ctx, g.address)
}

// LatestNonce returns the confirmed (non-pending) nonce for the
// facilitator's address, used to recover from a "nonce too high" error by
// refetching the authoritative on-chain state (spec §4.2).
func (g *Gateway) LatestNonce(ctx context.Context) (uint64, error) {
	return g.rpc.NonceAt(ctx, g.address, nil)
}

// HashTypedData computes the EIP-712 digest (0x19 0x01 || domainSeparator
// || structHash) for a domain/types/message triple, used to build the
// `hash` argument passed into EIP-1271/ERC-6492 on-chain validation.
func HashTypedData(domain TypedDataDomain, fieldTypes map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([32]byte, error) {
	var out [32]byte

	td := apitypes.TypedData{
		Types:       apitypes.Types{},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}
	for name, fields := range fieldTypes {
		converted := make([]apitypes.Type, len(fields))
		for i, f := range fields {
			converted[i] = apitypes.Type{Name: f.Name, Type: f.Type}
		}
		td.Types[name] = converted
	}
	if _, ok := td.Types["EIP712Domain"]; !ok {
		td.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return out, fmt.Errorf("chain: hash struct: %w", err)
	}
	domainHash, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return out, fmt.Errorf("chain: hash domain: %w", err)
	}

	raw := append([]byte{0x19, 0x01}, domainHash...)
	raw = append(raw, structHash...)
	digest := crypto.Keccak256(raw)
	copy(out[:], digest)
	return out, nil
}

// FacilitatorDomainName and FacilitatorDomainVersion identify the
// facilitator contract's own EIP-712 domain, signed over by a client when
// authorizing a non-EIP-3009 token's tokenTransferWithAuthorization call
// (spec §8 scenario S2), as opposed to the token's own domain used for a
// native EIP-3009 TransferWithAuthorization.
const (
	FacilitatorDomainName    = "Facilitator"
	FacilitatorDomainVersion = "1"
)

// parseAuthorizationFields converts an Authorization's string-encoded
// fields into the big.Int/[32]byte shapes EIP-712 hashing and contract
// calls need.
func parseAuthorizationFields(auth x402types.Authorization) (value, validAfter, validBefore *big.Int, nonce [32]byte, err error) {
	var ok bool
	value, ok = new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, nil, nil, nonce, fmt.Errorf("chain: invalid authorization value %q", auth.Value)
	}
	validAfter, ok = new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return nil, nil, nil, nonce, fmt.Errorf("chain: invalid authorization validAfter %q", auth.ValidAfter)
	}
	validBefore, ok = new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return nil, nil, nil, nonce, fmt.Errorf("chain: invalid authorization validBefore %q", auth.ValidBefore)
	}
	nonceBytes, decErr := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if decErr != nil {
		return nil, nil, nil, nonce, fmt.Errorf("chain: invalid authorization nonce: %w", decErr)
	}
	copy(nonce[:], nonceBytes)
	return value, validAfter, validBefore, nonce, nil
}

// HashTransferWithAuthorization computes the EIP-712 digest for the token's
// own EIP-3009 TransferWithAuthorization struct (spec §6 EIP-3009 path).
// Shared by the client (signing) and the facilitator (smart-wallet
// verification) so both sides derive the identical digest from one place.
func HashTransferWithAuthorization(chainID int64, domainName, domainVersion, verifyingContract string, auth x402types.Authorization) ([32]byte, error) {
	value, validAfter, validBefore, nonce, err := parseAuthorizationFields(auth)
	if err != nil {
		return [32]byte{}, err
	}

	domain := TypedDataDomain{
		Name:              domainName,
		Version:           domainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: verifyingContract,
	}
	fields := map[string][]TypedDataField{
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
	message := map[string]interface{}{
		"from":        auth.From,
		"to":          auth.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonce,
	}
	return HashTypedData(domain, fields, "TransferWithAuthorization", message)
}

// HashTokenTransferWithAuthorization computes the EIP-712 digest for the
// facilitator contract's own tokenTransferWithAuthorization struct (spec §8
// scenario S2): signed under the facilitator's own domain rather than the
// token's, and covering the token address and needApprove flag in addition
// to the transfer fields, for tokens that don't implement EIP-3009 natively.
func HashTokenTransferWithAuthorization(chainID int64, token string, auth x402types.Authorization, needApprove bool) ([32]byte, error) {
	value, validAfter, validBefore, nonce, err := parseAuthorizationFields(auth)
	if err != nil {
		return [32]byte{}, err
	}

	domain := TypedDataDomain{
		Name:              FacilitatorDomainName,
		Version:           FacilitatorDomainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: FacilitatorContractAddress,
	}
	fields := map[string][]TypedDataField{
		"tokenTransferWithAuthorization": {
			{Name: "token", Type: "address"},
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
			{Name: "needApprove", Type: "bool"},
		},
	}
	message := map[string]interface{}{
		"token":       token,
		"from":        auth.From,
		"to":          auth.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonce,
		"needApprove": needApprove,
	}
	return HashTypedData(domain, fields, "tokenTransferWithAuthorization", message)
}

// CallError wraps a failed contract call/estimate with any revert data the
// node returned, so callers can classify it by 4-byte selector.
type CallError struct {
	Method     string
	RevertData []byte
	Err        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("chain: %s reverted: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Selector returns the leading 4 bytes of the revert data as a
// GasEstimateErrorSelector, if any was captured.
func (e *CallError) Selector() (GasEstimateErrorSelector, bool) {
	if len(e.RevertData) < 4 {
		return "", false
	}
	return GasEstimateErrorSelector(hexutil.Encode(e.RevertData[:4])), true
}

// Message returns the lowercased revert/underlying error message, used for
// the capability-probe and nonce-conflict string classification (spec §4.1
// step 3, §4.2 retry loop).
func (e *CallError) Message() string {
	return strings.ToLower(e.Err.Error())
}

func extractRevertData(err error) []byte {
	if err == nil {
		return nil
	}
	de, ok := err.(rpc.DataError)
	if !ok {
		return nil
	}
	s, ok := de.ErrorData().(string)
	if !ok {
		return nil
	}
	b, decErr := hexutil.Decode(s)
	if decErr != nil {
		return nil
	}
	return b
}
