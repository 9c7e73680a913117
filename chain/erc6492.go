package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc6492Suffix is the magic 32-byte marker appended to an ERC-6492
// counterfactual signature, identifying the wrapper format.
var erc6492Suffix = mustDecodeHex("6492649264926492649264926492649264926492649264926492649264926492")

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// ERC6492Signature is a parsed counterfactual-wallet signature: the
// factory to deploy the wallet through, the calldata for that deployment,
// and the inner signature to verify once deployed.
type ERC6492Signature struct {
	Factory         common.Address
	FactoryCalldata []byte
	InnerSignature  []byte
}

// HasDeployment reports whether the parsed signature carries a non-zero
// factory address, i.e. whether settlement should deploy the wallet before
// submitting the transfer (spec §4.1 step 5, §4.2 Stage A).
func (s *ERC6492Signature) HasDeployment() bool {
	return s != nil && s.Factory != (common.Address{})
}

var erc6492ArgsABI = mustParseERC6492ABI()

func mustParseERC6492ABI() abi.Arguments {
	args, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "factory", Type: "address"},
		{Name: "factoryCalldata", Type: "bytes"},
		{Name: "innerSignature", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: args}}
}

// ParseERC6492Signature attempts to unwrap sig as an ERC-6492 signature. It
// returns ok=false (not an error) when sig does not end with the ERC-6492
// magic suffix, i.e. it is a plain EOA/EIP-1271 signature.
func ParseERC6492Signature(sig []byte) (parsed *ERC6492Signature, ok bool, err error) {
	if len(sig) < len(erc6492Suffix) || !bytes.Equal(sig[len(sig)-len(erc6492Suffix):], erc6492Suffix) {
		return nil, false, nil
	}

	body := sig[:len(sig)-len(erc6492Suffix)]
	values, err := erc6492ArgsABI.UnpackValues(body)
	if err != nil {
		return nil, true, fmt.Errorf("chain: unpack erc6492 signature: %w", err)
	}
	if len(values) != 1 {
		return nil, true, fmt.Errorf("chain: unexpected erc6492 decode shape")
	}

	type decoded struct {
		Factory         common.Address
		FactoryCalldata []byte
		InnerSignature  []byte
	}
	d, ok := values[0].(struct {
		Factory         common.Address `json:"factory"`
		FactoryCalldata []byte         `json:"factoryCalldata"`
		InnerSignature  []byte         `json:"innerSignature"`
	})
	if !ok {
		// go-ethereum's abi decoder returns an anonymous struct matching
		// field order/names; any other decoded type is reported as an
		// error.
		return nil, true, fmt.Errorf("chain: unexpected erc6492 tuple decode type %T", values[0])
	}

	_ = decoded{} // documents the intended shape above
	return &ERC6492Signature{
		Factory:         d.Factory,
		FactoryCalldata: d.FactoryCalldata,
		InnerSignature:  d.InnerSignature,
	}, true, nil
}

// ContractReader is the subset of Gateway a signature verifier needs: a
// read-only contract call. Declared as an interface, rather than requiring
// a concrete *Gateway, so a caller holding any gateway-shaped interface
// value (e.g. the scheme engine's own ChainGateway) can pass it straight
// through without an adapter.
type ContractReader interface {
	ReadContract(ctx context.Context, contractAddr, abiJSON, method string, args ...interface{}) (interface{}, error)
}

// VerifyERC6492Signature verifies a (possibly counterfactual) smart-wallet
// signature by calling the ERC-6492 UniversalSigValidator contract, which
// atomically simulates any needed factory deployment before checking
// EIP-1271 isValidSignature on the result. Grounded directly on the
// teacher's mechanisms/evm/verify_erc6492.go.
func VerifyERC6492Signature(ctx context.Context, gw ContractReader, signerAddress string, hash [32]byte, signature []byte) (bool, error) {
	result, err := gw.ReadContract(
		ctx,
		UniversalSigValidatorAddress,
		UniversalSigValidatorABI,
		"isValidSig",
		common.HexToAddress(signerAddress),
		hash,
		signature,
	)
	if err != nil {
		return false, err
	}
	valid, ok := result.(bool)
	if !ok {
		return false, nil
	}
	return valid, nil
}
