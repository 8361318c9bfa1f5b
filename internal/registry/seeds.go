package registry

import "github.com/ggonzalez94/route-engine/internal/model"

// Seed registry for deterministic resolution on Tier-1 chains. Everything
// else arrives through RegisterDynamic.
var seedChains = []model.CanonicalChain{
	{
		ID: 1, Name: "Ethereum", VM: model.VMTypeEVM, NativeSymbol: "ETH", NativeDecimals: 18,
		ProviderIDs: map[string]string{"lifi": "1", "bungee": "1", "1inch": "1"},
	},
	{
		ID: 10, Name: "Optimism", VM: model.VMTypeEVM, NativeSymbol: "ETH", NativeDecimals: 18,
		ProviderIDs: map[string]string{"lifi": "10", "bungee": "10", "1inch": "10"},
	},
	{
		ID: 56, Name: "BSC", VM: model.VMTypeEVM, NativeSymbol: "BNB", NativeDecimals: 18,
		ProviderIDs: map[string]string{"lifi": "56", "bungee": "56", "1inch": "56"},
	},
	{
		ID: 137, Name: "Polygon", VM: model.VMTypeEVM, NativeSymbol: "POL", NativeDecimals: 18,
		ProviderIDs: map[string]string{"lifi": "137", "bungee": "137", "1inch": "137"},
	},
	{
		ID: 8453, Name: "Base", VM: model.VMTypeEVM, NativeSymbol: "ETH", NativeDecimals: 18,
		ProviderIDs: map[string]string{"lifi": "8453", "bungee": "8453", "1inch": "8453"},
	},
	{
		ID: 42161, Name: "Arbitrum", VM: model.VMTypeEVM, NativeSymbol: "ETH", NativeDecimals: 18,
		ProviderIDs: map[string]string{"lifi": "42161", "bungee": "42161", "1inch": "42161"},
	},
	{
		ID: 43114, Name: "Avalanche", VM: model.VMTypeEVM, NativeSymbol: "AVAX", NativeDecimals: 18,
		ProviderIDs: map[string]string{"lifi": "43114", "bungee": "43114", "1inch": "43114"},
	},
	{
		ID: SolanaChainID, Name: "Solana", VM: model.VMTypeSolana, NativeSymbol: "SOL", NativeDecimals: 9,
		ProviderIDs: map[string]string{"lifi": "1151111081099710", "jupiter": "solana"},
	},
}

func seedToken(chainID int64, symbol, address string, decimals int) model.NormalizedToken {
	return model.NormalizedToken{
		ChainID:  chainID,
		Address:  NormalizeAddress(chainID, address),
		Symbol:   symbol,
		Decimals: model.KnownDecimals(decimals),
		Verified: true,
	}
}

var seedTokens = map[int64][]model.NormalizedToken{
	1: {
		seedToken(1, "USDC", "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", 6),
		seedToken(1, "USDT", "0xdac17f958d2ee523a2206206994597c13d831ec7", 6),
		seedToken(1, "DAI", "0x6b175474e89094c44da98b954eedeac495271d0f", 18),
		seedToken(1, "WETH", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", 18),
	},
	10: {
		seedToken(10, "USDC", "0x7F5c764cBc14f9669B88837ca1490cCa17c31607", 6),
		seedToken(10, "USDT", "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58", 6),
		seedToken(10, "DAI", "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", 18),
		seedToken(10, "WETH", "0x4200000000000000000000000000000000000006", 18),
	},
	56: {
		seedToken(56, "USDC", "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d", 18),
		seedToken(56, "USDT", "0x55d398326f99059fF775485246999027B3197955", 18),
		seedToken(56, "DAI", "0x1AF3F329e8BE154074D8769D1FFa4eE058B1DBc3", 18),
		seedToken(56, "WETH", "0x2170Ed0880ac9A755fd29B2688956BD959F933F8", 18),
	},
	137: {
		seedToken(137, "USDC", "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", 6),
		seedToken(137, "USDT", "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", 6),
		seedToken(137, "DAI", "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", 18),
		seedToken(137, "WETH", "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619", 18),
	},
	8453: {
		seedToken(8453, "USDC", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", 6),
		seedToken(8453, "DAI", "0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", 18),
		seedToken(8453, "WETH", "0x4200000000000000000000000000000000000006", 18),
	},
	42161: {
		seedToken(42161, "USDC", "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", 6),
		seedToken(42161, "USDT", "0xFd086bC7CD5C481DCC9C85ebe478A1C0b69FCbb9", 6),
		seedToken(42161, "DAI", "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1", 18),
		seedToken(42161, "WETH", "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", 18),
	},
	43114: {
		seedToken(43114, "USDC", "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", 6),
		seedToken(43114, "USDT", "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7", 6),
		seedToken(43114, "DAI", "0xd586E7F844cEa2F87f50152665BCbc2C279D8d70", 18),
		seedToken(43114, "WETH", "0x49D5c2BdFfac6CE2BFdB6640F4F80f226bc10bAB", 18),
	},
	SolanaChainID: {
		seedToken(SolanaChainID, "USDC", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 6),
		seedToken(SolanaChainID, "USDT", "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", 6),
		seedToken(SolanaChainID, "SOL", "So11111111111111111111111111111111111111112", 9),
		seedToken(SolanaChainID, "JUP", "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", 6),
	},
}
