package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type VMType string

const (
	VMTypeEVM    VMType = "evm"
	VMTypeSolana VMType = "solana"
)

// CanonicalChain is the stable internal representation of a chain, decoupled
// from any single provider's numbering scheme. The ID never changes once
// assigned.
type CanonicalChain struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	VM             VMType            `json:"vm"`
	NativeSymbol   string            `json:"nativeSymbol"`
	NativeDecimals int               `json:"nativeDecimals"`
	ProviderIDs    map[string]string `json:"providerIds,omitempty"`
}

// ProviderChain is a chain as reported by one provider, before canonical
// resolution.
type ProviderChain struct {
	Provider        string `json:"provider"`
	ProviderChainID string `json:"providerChainId"`
	Name            string `json:"name"`
	VM              VMType `json:"vm"`
	NativeSymbol    string `json:"nativeSymbol,omitempty"`
	NativeDecimals  int    `json:"nativeDecimals,omitempty"`
}

type NormalizedToken struct {
	ChainID      int64    `json:"chainId"`
	Address      string   `json:"address"`
	Symbol       string   `json:"symbol"`
	Decimals     Decimals `json:"decimals"`
	PriceUSD     float64  `json:"priceUsd,omitempty"`
	LiquidityUSD float64  `json:"liquidityUsd,omitempty"`
	Volume24hUSD float64  `json:"volume24hUsd,omitempty"`
	Providers    []string `json:"providers,omitempty"`
	Verified     bool     `json:"verified"`
}

// TokenRef identifies one side of a requested swap. Decimals may be Unknown
// on input; validation resolves it before aggregation runs.
type TokenRef struct {
	ChainID  int64    `json:"chainId"`
	Address  string   `json:"address"`
	Decimals Decimals `json:"decimals"`
}

type SlippageMode string

const (
	SlippageModeFixed SlippageMode = "fixed"
	SlippageModeAuto  SlippageMode = "auto"
)

type OrderPreference string

const (
	OrderRecommended OrderPreference = "RECOMMENDED"
	OrderFastest     OrderPreference = "FASTEST"
	OrderCheapest    OrderPreference = "CHEAPEST"
)

type RouteRequest struct {
	FromToken TokenRef `json:"fromToken"`
	ToToken   TokenRef `json:"toToken"`
	// Exactly one of FromAmount/ToAmount must be set (base units).
	FromAmount    string          `json:"fromAmount,omitempty"`
	ToAmount      string          `json:"toAmount,omitempty"`
	SlippageBps   int64           `json:"slippageBps"`
	SlippageMode  SlippageMode    `json:"slippageMode"`
	Sender        string          `json:"sender,omitempty"`
	Recipient     string          `json:"recipient,omitempty"`
	Order         OrderPreference `json:"order"`
	LiquidityHint string          `json:"liquidityHint,omitempty"`
}

type StepKind string

const (
	StepKindSwap   StepKind = "swap"
	StepKindBridge StepKind = "bridge"
)

type PathStep struct {
	Kind        StepKind `json:"kind"`
	Protocol    string   `json:"protocol,omitempty"`
	FromChainID int64    `json:"fromChainId"`
	ToChainID   int64    `json:"toChainId"`
	FromToken   string   `json:"fromToken"`
	ToToken     string   `json:"toToken"`
}

// TxPayload is the executable transaction a provider returned alongside its
// quote. ApprovalSpender is the address that must be allowed to spend the
// input token, when an allowance is required at all.
type TxPayload struct {
	ChainID         int64  `json:"chainId"`
	Target          string `json:"target"`
	Data            string `json:"data"`
	Value           string `json:"value"`
	ApprovalSpender string `json:"approvalSpender,omitempty"`
}

type RouteCandidate struct {
	Provider          string     `json:"provider"`
	Steps             []PathStep `json:"steps"`
	AmountOut         string     `json:"amountOut"`
	AmountOutDecimals int        `json:"amountOutDecimals"`
	FeeUSD            float64    `json:"feeUsd"`
	DurationSec       int64      `json:"durationSec"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	Tx                *TxPayload `json:"tx,omitempty"`
}

// AmountOutDecimal converts the base-unit output amount into a decimal
// amount. Returns zero when the amount does not parse.
func (c RouteCandidate) AmountOutDecimal() decimal.Decimal {
	v, err := decimal.NewFromString(c.AmountOut)
	if err != nil {
		return decimal.Zero
	}
	return v.Shift(int32(-c.AmountOutDecimals))
}

// RouteResponse is the aggregation result. Route is an explicit null on
// failure paths so callers can never mistake an error for an empty route.
type RouteResponse struct {
	Route        *RouteCandidate  `json:"route"`
	Alternatives []RouteCandidate `json:"alternatives,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
	ExpiresAt    time.Time        `json:"expiresAt"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	RequiresKey   bool     `json:"requiresKey"`
	KeyEnvVarName string   `json:"keyEnvVar,omitempty"`
	Capabilities  []string `json:"capabilities"`
}

type LimitOrder struct {
	MakerAsset   string `json:"makerAsset"`
	TakerAsset   string `json:"takerAsset"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	Maker        string `json:"maker"`
	Receiver     string `json:"receiver,omitempty"`
	// Expiration is a unix timestamp in seconds; zero means never.
	Expiration         int64  `json:"expiration"`
	AllowPartialFill   bool   `json:"allowPartialFill"`
	AllowMultipleFills bool   `json:"allowMultipleFills"`
	Salt               string `json:"salt"`
	Signature          string `json:"signature,omitempty"`
	OrderHash          string `json:"orderHash,omitempty"`
}
