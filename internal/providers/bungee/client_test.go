package bungee

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

func quoteRequest(reg *registry.Registry) providers.QuoteRequest {
	from, _ := reg.Chain(1)
	to, _ := reg.Chain(8453)
	return providers.QuoteRequest{
		Req: model.RouteRequest{
			FromToken:   model.TokenRef{ChainID: 1, Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"},
			ToToken:     model.TokenRef{ChainID: 8453, Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"},
			FromAmount:  "1000000",
			SlippageBps: 50,
			Order:       model.OrderRecommended,
		},
		FromChain:    from,
		ToChain:      to,
		FromDecimals: 6,
		ToDecimals:   6,
	}
}

func TestFetchQuoteAutoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bungee/quote" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("originChainId") != "1" || q.Get("destinationChainId") != "8453" {
			t.Fatalf("unexpected chain ids: %s -> %s", q.Get("originChainId"), q.Get("destinationChainId"))
		}
		if q.Get("inputAmount") != "1000000" {
			t.Fatalf("unexpected input amount: %s", q.Get("inputAmount"))
		}
		if q.Get("userAddress") == "" || q.Get("receiverAddress") == "" {
			t.Fatalf("missing placeholder addresses")
		}
		_, _ = w.Write([]byte(`{
			"success": true,
			"result": {
				"originChainId": 1,
				"destinationChainId": 8453,
				"autoRoute": {
					"estimatedTime": 10,
					"gasFee": {"feeInUsd": 0.0056},
					"routeDetails": {"name": "Bungee Protocol"},
					"output": {"amount": "995000", "token": {"decimals": 6}},
					"outputAmount": "999735"
				}
			}
		}`))
	}))
	defer srv.Close()

	reg := registry.New()
	c := New(httpx.New(time.Second, 0), "", reg)
	c.baseURL = srv.URL

	got, err := c.FetchQuote(context.Background(), quoteRequest(reg))
	if err != nil {
		t.Fatalf("FetchQuote failed: %v", err)
	}
	if got == nil {
		t.Fatalf("expected candidate")
	}
	if got.AmountOut != "999735" {
		t.Fatalf("unexpected amount out: %s", got.AmountOut)
	}
	if got.FeeUSD != 0.0056 {
		t.Fatalf("unexpected fee: %v", got.FeeUSD)
	}
	if got.DurationSec != 10 {
		t.Fatalf("unexpected duration: %d", got.DurationSec)
	}
	if len(got.Steps) != 1 || got.Steps[0].Protocol != "bungee protocol" {
		t.Fatalf("unexpected steps: %+v", got.Steps)
	}
}

func TestFetchQuoteNoRouteVariants(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"unsuccessful", http.StatusOK, `{"success": false}`},
		{"missing auto route", http.StatusOK, `{"success": true, "result": {}}`},
		{"missing output", http.StatusOK, `{"success": true, "result": {"autoRoute": {"estimatedTime": 3}}}`},
		{"not found", http.StatusNotFound, `{"error": "no route"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			reg := registry.New()
			c := New(httpx.New(time.Second, 0), "", reg)
			c.baseURL = srv.URL

			got, err := c.FetchQuote(context.Background(), quoteRequest(reg))
			if err != nil {
				t.Fatalf("expected contained failure, got %v", err)
			}
			if got != nil {
				t.Fatalf("expected no candidate, got %+v", got)
			}
		})
	}
}

func TestFetchChainsNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"result": [
				{"chainId": 1, "name": "Ethereum", "currency": "eth"},
				{"chainId": 0, "name": "bogus"}
			]
		}`))
	}))
	defer srv.Close()

	reg := registry.New()
	c := New(httpx.New(time.Second, 0), "", reg)
	c.baseURL = srv.URL

	chains, err := c.FetchChains(context.Background())
	if err != nil {
		t.Fatalf("FetchChains failed: %v", err)
	}
	if len(chains) != 1 {
		t.Fatalf("malformed chain not dropped: %+v", chains)
	}
	if chains[0].ProviderChainID != "1" || chains[0].NativeSymbol != "ETH" {
		t.Fatalf("unexpected chain: %+v", chains[0])
	}
}
