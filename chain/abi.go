package chain

// ABI fragments used by the SchemeEngine and ChainGateway. Kept minimal
// (single-function JSON fragments) in the teacher's own style of inlining
// just the functions actually called, rather than vendoring full contract
// ABIs.

// ERC20ABI covers the three ERC-20 calls the scheme engine needs.
const ERC20ABI = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// EIP3009ABI covers the transferWithAuthorization capability probe and the
// authorizationState view; no caller in this module reads authorizationState.
const EIP3009ABI = `[
	{"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"transferWithAuthorization","outputs":[],"type":"function"},
	{"constant":true,"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// FacilitatorContractABI is the Exact-EVM facilitator contract's single
// entrypoint (spec §6).
const FacilitatorContractABI = `[
	{"inputs":[
		{"name":"token","type":"address"},
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"validAfter","type":"uint256"},
		{"name":"validBefore","type":"uint256"},
		{"name":"nonce","type":"bytes32"},
		{"name":"needApprove","type":"bool"},
		{"name":"signature","type":"bytes"}
	],"name":"tokenTransferWithAuthorization","outputs":[],"type":"function"}
]`

// EIP1271ABI describes the EIP-1271 isValidSignature call. Smart-wallet
// signatures are checked through UniversalSigValidatorABI, not this ABI.
const EIP1271ABI = `[
	{"constant":true,"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"","type":"bytes4"}],"type":"function"}
]`

// UniversalSigValidatorABI covers the ERC-6492 universal signature
// validator's isValidSig, used to check a counterfactual smart-wallet
// signature without the wallet being deployed yet.
const UniversalSigValidatorABI = `[
	{"inputs":[{"name":"signer","type":"address"},{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSig","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

// UniversalSigValidatorAddress is the well-known, identically deployed
// ERC-6492 validator address across EVM chains.
const UniversalSigValidatorAddress = "0x164af34fAF9879394370C7f09064127C043A35E"

// FacilitatorContractAddress is the Exact-EVM facilitator contract (spec §6).
const FacilitatorContractAddress = "0x555e3311a9893c9B17444C1Ff0d88192a57Ef13e"

// EIP1271MagicValue is returned by isValidSignature on a successful
// contract-signature check.
const EIP1271MagicValue = "0x1626ba7e"

// GasEstimateErrorSelector classifies the deterministic 4-byte error
// selectors the facilitator contract reverts with (spec §4.1 step 4).
type GasEstimateErrorSelector string

const (
	SelectorInsufficientAllowance GasEstimateErrorSelector = "0x13be252b"
	SelectorInvalidOperator       GasEstimateErrorSelector = "0xccea9e6f"
	SelectorAuthNotYetValid       GasEstimateErrorSelector = "0xdf8e4372"
	SelectorAuthExpired           GasEstimateErrorSelector = "0x0f05f5bf"
	SelectorNonceUsed             GasEstimateErrorSelector = "0x1f6d5aef"
	SelectorInvalidSignature      GasEstimateErrorSelector = "0x8baa579f"
)

// KnownGasEstimateSelectors maps the facilitator contract's custom error
// selectors to a human description; nothing in this module reads it. The
// protocol-facing reason mapping lives in scheme/exactevm.
var KnownGasEstimateSelectors = map[GasEstimateErrorSelector]string{
	SelectorInsufficientAllowance: "insufficient allowance",
	SelectorInvalidOperator:       "invalid operator",
	SelectorAuthNotYetValid:       "authorization not yet valid",
	SelectorAuthExpired:           "authorization expired",
	SelectorNonceUsed:             "nonce already used",
	SelectorInvalidSignature:      "invalid signature",
}
