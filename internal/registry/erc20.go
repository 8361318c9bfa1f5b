package registry

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Selector for decimals().
var decimalsCalldata = []byte{0x31, 0x3c, 0xe5, 0x67}

// OnChainDecimals reads an ERC-20 token's decimals() over JSON-RPC. It is the
// fallback for tokens the seed registry does not know; Solana chains have no
// default RPC here and fail the URL resolution instead.
func OnChainDecimals(ctx context.Context, rpcOverride string, chainID int64, token string) (int, error) {
	url, err := ResolveRPCURL(rpcOverride, chainID)
	if err != nil {
		return 0, err
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("dial rpc for chain %d: %w", chainID, err)
	}
	defer client.Close()

	to := common.HexToAddress(token)
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: decimalsCalldata}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals() on %s: %w", token, err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("token %s returned no decimals", token)
	}
	v := new(big.Int).SetBytes(out)
	if !v.IsInt64() || v.Int64() > 255 {
		return 0, fmt.Errorf("token %s returned implausible decimals %s", token, v)
	}
	return int(v.Int64()), nil
}
