package oneinch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/httpx"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/providers"
	"github.com/ggonzalez94/route-engine/internal/registry"
)

func sameChainRequest(reg *registry.Registry, sender string) providers.QuoteRequest {
	chain, _ := reg.Chain(1)
	return providers.QuoteRequest{
		Req: model.RouteRequest{
			FromToken:   model.TokenRef{ChainID: 1, Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
			ToToken:     model.TokenRef{ChainID: 1, Address: "0x6b175474e89094c44da98b954eedeac495271d0f"},
			FromAmount:  "1000000",
			SlippageBps: 50,
			Sender:      sender,
			Order:       model.OrderRecommended,
		},
		FromChain:    chain,
		ToChain:      chain,
		FromDecimals: 6,
		ToDecimals:   18,
	}
}

func TestFetchQuoteWithoutSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swap/v6.0/1/quote" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("missing bearer key")
		}
		q := r.URL.Query()
		if q.Get("src") == "" || q.Get("dst") == "" || q.Get("amount") != "1000000" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"dstAmount": "998877665544332211", "gas": 180000}`))
	}))
	defer srv.Close()

	reg := registry.New()
	c := New(httpx.New(time.Second, 0), "test-key", reg)
	c.baseURL = srv.URL

	got, err := c.FetchQuote(context.Background(), sameChainRequest(reg, ""))
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if got == nil {
		t.Fatalf("expected candidate")
	}
	if got.AmountOut != "998877665544332211" {
		t.Fatalf("unexpected amount out: %s", got.AmountOut)
	}
	if got.Tx != nil {
		t.Fatalf("quote-only path should not carry calldata")
	}
	if len(got.Steps) != 1 || got.Steps[0].Kind != model.StepKindSwap {
		t.Fatalf("unexpected steps: %+v", got.Steps)
	}
}

func TestFetchQuoteWithSenderBuildsTx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swap/v6.0/1/swap" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("from") != "0x1111111111111111111111111111111111111111" {
			t.Fatalf("unexpected sender: %s", q.Get("from"))
		}
		if q.Get("slippage") != "0.5" {
			t.Fatalf("unexpected slippage: %s", q.Get("slippage"))
		}
		_, _ = w.Write([]byte(`{
			"dstAmount": "998000000000000000",
			"tx": {
				"to": "0x111111125421ca6dc452d289314280a0f8842a65",
				"data": "0xdeadbeef",
				"value": "0"
			}
		}`))
	}))
	defer srv.Close()

	reg := registry.New()
	c := New(httpx.New(time.Second, 0), "test-key", reg)
	c.baseURL = srv.URL

	got, err := c.FetchQuote(context.Background(), sameChainRequest(reg, "0x1111111111111111111111111111111111111111"))
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if got == nil || got.Tx == nil {
		t.Fatalf("expected candidate with calldata, got %+v", got)
	}
	if got.Tx.Target != "0x111111125421ca6dc452d289314280a0f8842a65" {
		t.Fatalf("unexpected target: %s", got.Tx.Target)
	}
	if got.Tx.ApprovalSpender != got.Tx.Target {
		t.Fatalf("router must be the approval spender")
	}
}

func TestFetchQuoteRequiresKey(t *testing.T) {
	reg := registry.New()
	c := New(httpx.New(time.Second, 0), "", reg)

	_, err := c.FetchQuote(context.Background(), sameChainRequest(reg, ""))
	if domerr.CodeOf(err) != domerr.CodeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestSupportsSameChainOnly(t *testing.T) {
	reg := registry.New()
	c := New(httpx.New(time.Second, 0), "test-key", reg)

	req := sameChainRequest(reg, "")
	if !c.Supports(req) {
		t.Fatalf("same-chain EVM pair should be supported")
	}

	cross := req
	cross.ToChain, _ = reg.Chain(8453)
	if c.Supports(cross) {
		t.Fatalf("cross-chain pair should be rejected")
	}

	sol := req
	sol.FromChain, _ = reg.Chain(registry.SolanaChainID)
	sol.ToChain = sol.FromChain
	if c.Supports(sol) {
		t.Fatalf("solana pair should be rejected")
	}
}
