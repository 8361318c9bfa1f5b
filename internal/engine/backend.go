package engine

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/registry"
)

// Backend is the minimal chain surface the engine needs. It is satisfied by
// an ethclient wrapper in production and by fakes in tests.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	BaseFee(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Close()
}

// BackendDialer opens a Backend for a chain; injected so tests never dial.
type BackendDialer func(ctx context.Context, chainID int64) (Backend, error)

type rpcBackend struct {
	client *ethclient.Client
	erc20  abi.ABI
}

// DialBackend connects to the configured RPC endpoint for the chain.
func DialBackend(rpcOverrides map[int64]string) BackendDialer {
	return func(ctx context.Context, chainID int64) (Backend, error) {
		rpcURL, err := registry.ResolveRPCURL(rpcOverrides[chainID], chainID)
		if err != nil {
			return nil, domerr.Wrap(domerr.CodeValidation, "resolve rpc endpoint", err)
		}
		client, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, domerr.Wrap(domerr.CodeNetwork, "connect rpc", err)
		}
		parsed, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
		if err != nil {
			client.Close()
			return nil, domerr.Wrap(domerr.CodeInternal, "parse erc20 abi", err)
		}
		return &rpcBackend{client: client, erc20: parsed}, nil
	}
}

func (b *rpcBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.client.ChainID(ctx)
}

func (b *rpcBackend) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	input, err := b.erc20.Pack("allowance", owner, spender)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "pack allowance call", err)
	}
	out, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeNetwork, "read allowance", err)
	}
	values, err := b.erc20.Unpack("allowance", out)
	if err != nil || len(values) != 1 {
		return nil, domerr.Wrap(domerr.CodeProvider, "decode allowance result", err)
	}
	allowance, ok := values[0].(*big.Int)
	if !ok {
		return nil, domerr.New(domerr.CodeProvider, "unexpected allowance type")
	}
	return allowance, nil
}

func (b *rpcBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.client.PendingNonceAt(ctx, account)
}

func (b *rpcBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return b.client.EstimateGas(ctx, msg)
}

func (b *rpcBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return b.client.SuggestGasTipCap(ctx)
}

func (b *rpcBackend) BaseFee(ctx context.Context) (*big.Int, error) {
	header, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if header.BaseFee == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return header.BaseFee, nil
}

func (b *rpcBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return b.client.SendTransaction(ctx, tx)
}

func (b *rpcBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return b.client.TransactionReceipt(ctx, hash)
}

func (b *rpcBackend) Close() {
	b.client.Close()
}

// PackApprove builds the approve calldata for the session's approval step.
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(registry.ERC20MinimalABI))
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "parse erc20 abi", err)
	}
	input, err := parsed.Pack("approve", spender, amount)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "pack approve call", err)
	}
	return input, nil
}
