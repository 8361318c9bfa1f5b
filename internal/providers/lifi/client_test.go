package lifi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggonzalez94/route-engine/internal/httpx"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/providers"
	"github.com/ggonzalez94/route-engine/internal/registry"
)

func crossChainRequest(reg *registry.Registry) providers.QuoteRequest {
	from, _ := reg.Chain(1)
	to, _ := reg.Chain(56)
	return providers.QuoteRequest{
		Req: model.RouteRequest{
			FromToken:    model.TokenRef{ChainID: 1, Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
			ToToken:      model.TokenRef{ChainID: 56, Address: "0x55d398326f99059ff775485246999027b3197955"},
			FromAmount:   "100000000",
			SlippageBps:  50,
			SlippageMode: model.SlippageModeFixed,
			Order:        model.OrderRecommended,
		},
		FromChain:    from,
		ToChain:      to,
		FromDecimals: 6,
		ToDecimals:   18,
	}
}

func TestFetchQuoteCrossChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("fromChain") != "1" || q.Get("toChain") != "56" {
			t.Fatalf("unexpected chains: %s -> %s", q.Get("fromChain"), q.Get("toChain"))
		}
		if q.Get("fromAmount") != "100000000" {
			t.Fatalf("unexpected amount: %s", q.Get("fromAmount"))
		}
		if q.Get("slippage") != "0.005000" {
			t.Fatalf("unexpected slippage: %s", q.Get("slippage"))
		}
		_, _ = w.Write([]byte(`{
			"id": "q-1",
			"tool": "stargate",
			"toolDetails": {"key": "stargate", "name": "Stargate"},
			"estimate": {
				"toAmount": "99500000000000000000",
				"toAmountMin": "99000000000000000000",
				"approvalAddress": "0x1231deb6f5749ef6ce6943a275a1d3e7486f4eae",
				"feeCosts": [{"amountUSD": "0.30"}],
				"gasCosts": [{"amountUSD": "0.12"}],
				"executionDuration": 180
			},
			"includedSteps": [{
				"type": "cross",
				"tool": "stargate",
				"action": {
					"fromChainId": 1,
					"toChainId": 56,
					"fromToken": {"address": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
					"toToken": {"address": "0x55d398326f99059ff775485246999027b3197955"}
				}
			}],
			"transactionRequest": {
				"to": "0x1231DEB6f5749EF6cE6943a275A1D3E7486F4EaE",
				"data": "0xabcdef",
				"value": "0x0",
				"chainId": 1
			}
		}`))
	}))
	defer srv.Close()

	reg := registry.New()
	c := New(httpx.New(time.Second, 0), reg)
	c.baseURL = srv.URL
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	got, err := c.FetchQuote(context.Background(), crossChainRequest(reg))
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if got == nil {
		t.Fatalf("expected a candidate")
	}
	if got.Provider != "lifi" {
		t.Fatalf("unexpected provider: %s", got.Provider)
	}
	if got.AmountOut != "99500000000000000000" {
		t.Fatalf("unexpected amount out: %s", got.AmountOut)
	}
	if got.FeeUSD != 0.42 {
		t.Fatalf("unexpected fee: %v", got.FeeUSD)
	}
	if got.DurationSec != 180 {
		t.Fatalf("unexpected duration: %d", got.DurationSec)
	}
	if !got.ExpiresAt.Equal(fixed.Add(quoteValidity)) {
		t.Fatalf("unexpected expiry: %s", got.ExpiresAt)
	}
	if len(got.Steps) != 1 || got.Steps[0].Kind != model.StepKindBridge {
		t.Fatalf("unexpected steps: %+v", got.Steps)
	}
	if got.Tx == nil || got.Tx.ApprovalSpender == "" || got.Tx.Value != "0" {
		t.Fatalf("unexpected tx payload: %+v", got.Tx)
	}
}

func TestFetchQuoteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"estimate": {}}`))
	}))
	defer srv.Close()

	reg := registry.New()
	c := New(httpx.New(time.Second, 0), reg)
	c.baseURL = srv.URL

	got, err := c.FetchQuote(context.Background(), crossChainRequest(reg))
	if err != nil {
		t.Fatalf("expected silent no-candidate, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil candidate, got %+v", got)
	}
}

func TestSupports(t *testing.T) {
	reg := registry.New()
	c := New(httpx.New(time.Second, 0), reg)

	req := crossChainRequest(reg)
	if !c.Supports(req) {
		t.Fatalf("EVM pair with fromAmount must be supported")
	}

	solana, _ := reg.Chain(registry.SolanaChainID)
	req.ToChain = solana
	if c.Supports(req) {
		t.Fatalf("solana leg must not be supported")
	}

	req = crossChainRequest(reg)
	req.Req.FromAmount = ""
	req.Req.ToAmount = "100"
	if c.Supports(req) {
		t.Fatalf("exact-output must not be supported")
	}
}

func TestNormalizeChainAndToken(t *testing.T) {
	reg := registry.New()
	c := New(httpx.New(time.Second, 0), reg)

	chain, ok := c.NormalizeChain(map[string]any{
		"id":        float64(10),
		"chainType": "EVM",
		"name":      "Optimism",
		"nativeToken": map[string]any{
			"symbol":   "eth",
			"decimals": float64(18),
		},
	})
	if !ok {
		t.Fatalf("NormalizeChain rejected valid payload")
	}
	if chain.ProviderChainID != "10" || chain.NativeSymbol != "ETH" {
		t.Fatalf("unexpected chain: %+v", chain)
	}

	if _, ok := c.NormalizeChain(map[string]any{"id": float64(7), "chainType": "SVM"}); ok {
		t.Fatalf("non-EVM chain type must be dropped")
	}

	token, ok := c.NormalizeToken(map[string]any{
		"address":  "0xA0b86991C6218B36C1D19D4A2E9EB0CE3606EB48",
		"chainId":  float64(1),
		"symbol":   "usdc",
		"decimals": float64(6),
		"priceUSD": "0.9998",
	})
	if !ok {
		t.Fatalf("NormalizeToken rejected valid payload")
	}
	if token.ChainID != 1 || token.Symbol != "USDC" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if token.Address != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Fatalf("address not normalized: %s", token.Address)
	}
	if v, known := token.Decimals.Value(); !known || v != 6 {
		t.Fatalf("unexpected decimals: %s", token.Decimals)
	}

	if _, ok := c.NormalizeToken(map[string]any{"symbol": "X"}); ok {
		t.Fatalf("token without address must be dropped")
	}
}
