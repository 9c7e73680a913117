// Package exactevm implements the Exact-EVM SchemeEngine: verification and
// settlement of a signed EIP-3009/EIP-712 transfer authorization against an
// EVM chain, grounded on the teacher's mechanisms/evm/v1/facilitator.go
// error taxonomy and generalized with the capability-probe, gas-estimation
// classification, ERC-6492 smart-wallet and paymaster branches the spec
// adds on top of that base shape.
package exactevm

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aeonpay/x402evm/chain"
	"github.com/aeonpay/x402evm/x402types"
)

// ChainGateway is the subset of *chain.Gateway the engine depends on. Kept
// as an interface so tests can supply a fake instead of dialing a real
// chain, per the teacher's FacilitatorEvmSigner abstraction.
type ChainGateway interface {
	Address() common.Address
	ChainID() int64
	GetCode(ctx context.Context, address string) ([]byte, error)
	GetBalance(ctx context.Context, asset, owner string) (*big.Int, error)
	ReadContract(ctx context.Context, contractAddr, abiJSON, method string, args ...interface{}) (interface{}, error)
	EstimateGas(ctx context.Context, contractAddr, abiJSON, method string, args ...interface{}) (uint64, error)
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) (*chain.Receipt, error)
	PendingNonce(ctx context.Context) (uint64, error)
	LatestNonce(ctx context.Context) (uint64, error)
}

// TelemetrySink receives fire-and-forget settlement scan records (spec §6,
// §9 "Telemetry coupling").
type TelemetrySink interface {
	Emit(record x402types.ScanRecord)
}

// PaymasterClient is the sponsored/gasless settlement collaborator used on
// BSC (spec §4.2 Stage B).
type PaymasterClient interface {
	// Validate asks the paymaster whether a call is sponsorable, returning
	// a tentative nonce that Settle falls back to if the on-chain-latest
	// nonce cannot be read.
	Validate(ctx context.Context, req SponsorRequest) (SponsorDecision, error)
	// Submit broadcasts the sponsored transaction and returns its hash.
	Submit(ctx context.Context, req SponsorRequest, nonce uint64) (string, error)
}

// SponsorRequest is the fully-formed call the paymaster is asked to sponsor.
type SponsorRequest struct {
	To   string
	Data []byte
	From string
}

// SponsorDecision is the paymaster's answer to Validate.
type SponsorDecision struct {
	Sponsorable   bool
	TentativeNonce uint64
}

// Engine implements Verify and Settle for the exact EVM scheme on top of a
// ChainGateway and its optional collaborators.
type Engine struct {
	gateway ChainGateway

	facilitatorContract string
	deployWithEIP6492   bool
	paymaster           PaymasterClient
	paymasterChainID    int64
	scanSink            TelemetrySink
	nonceRetries        int

	log *slog.Logger

	probeCache sync.Map // key: probeKey -> bool
}

type probeKey struct {
	chainID int64
	asset   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSmartWalletDeployment enables Stage-A ERC-4337/ERC-6492 deployment
// during Settle (spec §4.2 Stage A, config `deployERC4337WithEIP6492`).
func WithSmartWalletDeployment(enabled bool) Option {
	return func(e *Engine) { e.deployWithEIP6492 = enabled }
}

// WithPaymaster registers a sponsored-settlement collaborator, restricted to
// chainID (spec §4.2 Stage B is BSC-only, chainID 56).
func WithPaymaster(client PaymasterClient, chainID int64) Option {
	return func(e *Engine) {
		e.paymaster = client
		e.paymasterChainID = chainID
	}
}

// WithScanSink registers the fire-and-forget telemetry sink (spec §6 scan
// endpoint, §9 "make them configuration values").
func WithScanSink(sink TelemetrySink) Option {
	return func(e *Engine) { e.scanSink = sink }
}

// WithNonceRetries overrides the default nonce-conflict retry budget
// (spec §4.2 "up to N attempts (default 5)").
func WithNonceRetries(n int) Option {
	return func(e *Engine) { e.nonceRetries = n }
}

// WithFacilitatorContract overrides the well-known facilitator contract
// address (spec §9 "Global mutable state... make them configuration
// values seeded at startup").
func WithFacilitatorContract(address string) Option {
	return func(e *Engine) { e.facilitatorContract = address }
}

// NewEngine constructs an Exact-EVM scheme engine bound to one ChainGateway,
// per the data-model invariant that the engine exclusively owns the
// signer/gateway handle for the lifetime of a verify/settle pair.
func NewEngine(gateway ChainGateway, opts ...Option) *Engine {
	e := &Engine{
		gateway:              gateway,
		facilitatorContract:  chain.FacilitatorContractAddress,
		nonceRetries:          5,
		log:                   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}
