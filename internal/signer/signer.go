package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is the capability the execution engine and limit order service
// depend on. Key custody stays behind this boundary.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	// SignTypedData signs an EIP-712 payload and returns the 65-byte
	// signature with the recovery id normalized to 27/28.
	SignTypedData(data apitypes.TypedData) ([]byte, error)
}
