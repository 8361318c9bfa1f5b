package registry

import "strings"

// Provider and order-book endpoints.
const (
	LiFiBaseURL    = "https://li.quest/v1"
	BungeeBaseURL  = "https://public-backend.bungee.exchange/api/v1"
	OneInchBaseURL = "https://api.1inch.dev"
	JupiterBaseURL = "https://lite-api.jup.ag/swap/v1"

	// Bridge settlement status endpoints, polled after the source-chain
	// transaction confirms to track the destination leg.
	LiFiSettlementURL   = "https://li.quest/v1/status"
	BungeeSettlementURL = "https://public-backend.bungee.exchange/api/v1/bungee/status"

	// Default 1inch limit-order-book endpoint; overridable through config.
	OrderBookBaseURL = "https://api.1inch.dev/orderbook/v4.0"
)

// SettlementURL returns the status endpoint for tracking a provider's bridge
// transfers. Providers without one cannot have their destination leg verified.
func SettlementURL(provider string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "lifi":
		return LiFiSettlementURL, true
	case "bungee":
		return BungeeSettlementURL, true
	default:
		return "", false
	}
}

// ABI fragments used by the execution engine.
const ERC20MinimalABI = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`
