package registry

import (
	"testing"

	"github.com/ggonzalez94/route-engine/internal/model"
)

func TestResolveSeedChain(t *testing.T) {
	r := New()

	chain, ok := r.Resolve("lifi", "1")
	if !ok {
		t.Fatalf("expected lifi chain 1 to resolve")
	}
	if chain.ID != 1 || chain.Name != "Ethereum" {
		t.Fatalf("unexpected chain: %+v", chain)
	}

	chain, ok = r.Resolve("jupiter", "solana")
	if !ok {
		t.Fatalf("expected jupiter solana to resolve")
	}
	if chain.ID != SolanaChainID || chain.VM != model.VMTypeSolana {
		t.Fatalf("unexpected solana chain: %+v", chain)
	}

	if _, ok := r.Resolve("lifi", "999999"); ok {
		t.Fatalf("unknown provider chain must not resolve")
	}
}

func TestRegisterDynamicIdempotent(t *testing.T) {
	r := New()
	pc := model.ProviderChain{
		Provider:        "lifi",
		ProviderChainID: "59144",
		Name:            "Linea",
		VM:              model.VMTypeEVM,
		NativeSymbol:    "eth",
	}

	first := r.RegisterDynamic(pc)
	if first == nil {
		t.Fatalf("RegisterDynamic returned nil for valid chain")
	}
	if first.ID != 59144 {
		t.Fatalf("EVM dynamic chain should keep its EIP-155 id, got %d", first.ID)
	}
	if first.NativeSymbol != "ETH" {
		t.Fatalf("native symbol not normalized: %s", first.NativeSymbol)
	}

	second := r.RegisterDynamic(pc)
	if second == nil || second.ID != first.ID {
		t.Fatalf("re-registration must return the existing id, got %+v", second)
	}

	resolved, ok := r.Resolve("lifi", "59144")
	if !ok || resolved.ID != first.ID {
		t.Fatalf("dynamic chain not resolvable after registration")
	}
}

func TestRegisterDynamicMalformed(t *testing.T) {
	cases := []model.ProviderChain{
		{},
		{Provider: "lifi"},
		{Provider: "lifi", ProviderChainID: "abc", VM: model.VMTypeEVM},
		{Provider: "lifi", ProviderChainID: "-5", VM: model.VMTypeEVM},
		{Provider: "lifi", ProviderChainID: "10", VM: "wasm"},
	}
	r := New()
	for i, pc := range cases {
		if got := r.RegisterDynamic(pc); got != nil {
			t.Fatalf("case %d: expected nil for malformed chain, got %+v", i, got)
		}
	}
}

func TestRegisterDynamicMergesProviderIDs(t *testing.T) {
	r := New()
	got := r.RegisterDynamic(model.ProviderChain{
		Provider:        "bungee",
		ProviderChainID: "59144",
		Name:            "Linea",
		VM:              model.VMTypeEVM,
	})
	if got == nil {
		t.Fatalf("registration failed")
	}
	other := r.RegisterDynamic(model.ProviderChain{
		Provider:        "lifi",
		ProviderChainID: "59144",
		VM:              model.VMTypeEVM,
	})
	if other == nil || other.ID != got.ID {
		t.Fatalf("second provider must map onto the same canonical id")
	}
	chain, _ := r.Chain(59144)
	if chain.ProviderIDs["bungee"] != "59144" || chain.ProviderIDs["lifi"] != "59144" {
		t.Fatalf("provider ids not merged: %+v", chain.ProviderIDs)
	}
}

func TestTokenLookup(t *testing.T) {
	r := New()
	token, ok := r.TokenByAddress(1, "0xA0b86991C6218B36C1D19D4A2E9EB0CE3606EB48")
	if !ok {
		t.Fatalf("USDC lookup by mixed-case address failed")
	}
	if token.Symbol != "USDC" {
		t.Fatalf("unexpected token: %+v", token)
	}
	if v, ok := token.Decimals.Value(); !ok || v != 6 {
		t.Fatalf("unexpected decimals: %s", token.Decimals)
	}

	if _, ok := r.TokenBySymbol(56, "usdt"); !ok {
		t.Fatalf("case-insensitive symbol lookup failed")
	}
	if _, ok := r.TokenBySymbol(1, "NOPE"); ok {
		t.Fatalf("unknown symbol must not resolve")
	}
}

func TestValidAddress(t *testing.T) {
	r := New()
	if !r.ValidAddress(1, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2") {
		t.Fatalf("valid EVM address rejected")
	}
	if r.ValidAddress(1, "not-an-address") {
		t.Fatalf("garbage EVM address accepted")
	}
	if !r.ValidAddress(SolanaChainID, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v") {
		t.Fatalf("valid solana mint rejected")
	}
	if r.ValidAddress(SolanaChainID, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2") {
		t.Fatalf("EVM address accepted as solana mint")
	}
}
