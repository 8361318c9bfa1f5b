package jupiter

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/httpx"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/providers"
	"github.com/ggonzalez94/route-engine/internal/registry"
)

const quoteValidity = 30 * time.Second

const proBase = "https://api.jup.ag/swap/v1"

// Client quotes Solana swaps through Jupiter. The lite tier needs no key;
// supplying one switches to the pro host for higher limits.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	reg     *registry.Registry
	now     func() time.Time
}

func New(httpClient *httpx.Client, apiKey string, reg *registry.Registry) *Client {
	apiKey = strings.TrimSpace(apiKey)
	baseURL := registry.JupiterBaseURL
	if apiKey != "" {
		baseURL = proBase
	}
	return &Client{http: httpClient, baseURL: baseURL, apiKey: apiKey, reg: reg, now: time.Now}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "jupiter",
		Type:          "swap",
		RequiresKey:   false,
		KeyEnvVarName: "ROUTER_JUPITER_API_KEY",
		Capabilities: []string{
			"route.quote",
			"tokens.list",
		},
	}
}

func (c *Client) Supports(req providers.QuoteRequest) bool {
	if req.FromChain.VM != model.VMTypeSolana || req.ToChain.VM != model.VMTypeSolana {
		return false
	}
	if req.FromChain.ID != req.ToChain.ID {
		return false
	}
	return strings.TrimSpace(req.Req.FromAmount) != ""
}

type quoteResponse struct {
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		SwapInfo struct {
			Label      string `json:"label"`
			InputMint  string `json:"inputMint"`
			OutputMint string `json:"outputMint"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

func (c *Client) FetchQuote(ctx context.Context, req providers.QuoteRequest) (*model.RouteCandidate, error) {
	if !c.Supports(req) {
		return nil, nil
	}

	vals := url.Values{}
	vals.Set("inputMint", req.Req.FromToken.Address)
	vals.Set("outputMint", req.Req.ToToken.Address)
	vals.Set("amount", req.Req.FromAmount)
	vals.Set("slippageBps", strconv.FormatInt(normalizeSlippageBps(req.Req.SlippageBps), 10))

	endpoint := strings.TrimRight(c.baseURL, "/") + "/quote?" + vals.Encode()
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "build jupiter quote request", err)
	}
	if c.apiKey != "" {
		hReq.Header.Set("x-api-key", c.apiKey)
	}

	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.OutAmount) == "" {
		return nil, nil
	}

	steps := make([]model.PathStep, 0, len(resp.RoutePlan))
	for _, hop := range resp.RoutePlan {
		steps = append(steps, model.PathStep{
			Kind:        model.StepKindSwap,
			Protocol:    strings.ToLower(strings.TrimSpace(hop.SwapInfo.Label)),
			FromChainID: req.FromChain.ID,
			ToChainID:   req.ToChain.ID,
			FromToken:   hop.SwapInfo.InputMint,
			ToToken:     hop.SwapInfo.OutputMint,
		})
	}
	if len(steps) == 0 {
		steps = []model.PathStep{{
			Kind:        model.StepKindSwap,
			Protocol:    "jupiter",
			FromChainID: req.FromChain.ID,
			ToChainID:   req.ToChain.ID,
			FromToken:   req.Req.FromToken.Address,
			ToToken:     req.Req.ToToken.Address,
		}}
	}

	return &model.RouteCandidate{
		Provider:          "jupiter",
		Steps:             steps,
		AmountOut:         resp.OutAmount,
		AmountOutDecimals: req.ToDecimals,
		DurationSec:       5,
		ExpiresAt:         c.now().Add(quoteValidity),
	}, nil
}

// FetchChains reports Solana mainnet only.
func (c *Client) FetchChains(ctx context.Context) ([]model.ProviderChain, error) {
	return []model.ProviderChain{{
		Provider:        "jupiter",
		ProviderChainID: "solana",
		Name:            "Solana",
		VM:              model.VMTypeSolana,
		NativeSymbol:    "SOL",
		NativeDecimals:  9,
	}}, nil
}

func (c *Client) FetchTokens(ctx context.Context, params providers.TokenParams) ([]model.NormalizedToken, error) {
	if params.ChainID != 0 && params.ChainID != registry.SolanaChainID {
		return nil, domerr.Newf(domerr.CodeUnsupported, "jupiter serves only Solana tokens")
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, domerr.New(domerr.CodeValidation, "jupiter token search requires a query")
	}

	endpoint := "https://lite-api.jup.ag/tokens/v2/search?query=" + url.QueryEscape(query)
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "build jupiter token request", err)
	}
	if c.apiKey != "" {
		hReq.Header.Set("x-api-key", c.apiKey)
	}
	var raw []map[string]any
	if _, err := c.http.DoJSON(ctx, hReq, &raw); err != nil {
		return nil, err
	}
	out := make([]model.NormalizedToken, 0, len(raw))
	for _, item := range raw {
		if token, ok := c.NormalizeToken(item); ok {
			out = append(out, token)
			if params.Limit > 0 && len(out) >= params.Limit {
				break
			}
		}
	}
	return out, nil
}

func (c *Client) NormalizeToken(raw map[string]any) (model.NormalizedToken, bool) {
	mint := strings.TrimSpace(cast.ToString(raw["id"]))
	if mint == "" {
		mint = strings.TrimSpace(cast.ToString(raw["address"]))
	}
	if mint == "" || !c.reg.ValidAddress(registry.SolanaChainID, mint) {
		return model.NormalizedToken{}, false
	}
	decimals := model.UnknownDecimals()
	if raw["decimals"] != nil {
		decimals = model.KnownDecimals(cast.ToInt(raw["decimals"]))
	}
	return model.NormalizedToken{
		ChainID:   registry.SolanaChainID,
		Address:   mint,
		Symbol:    strings.ToUpper(strings.TrimSpace(cast.ToString(raw["symbol"]))),
		Decimals:  decimals,
		PriceUSD:  cast.ToFloat64(raw["usdPrice"]),
		Providers: []string{"jupiter"},
		Verified:  cast.ToBool(raw["isVerified"]),
	}, true
}

func (c *Client) NormalizeChain(raw map[string]any) (model.ProviderChain, bool) {
	name := strings.TrimSpace(cast.ToString(raw["name"]))
	if !strings.EqualFold(name, "solana") {
		return model.ProviderChain{}, false
	}
	return model.ProviderChain{
		Provider:        "jupiter",
		ProviderChainID: "solana",
		Name:            "Solana",
		VM:              model.VMTypeSolana,
		NativeSymbol:    "SOL",
		NativeDecimals:  9,
	}, true
}

func normalizeSlippageBps(bps int64) int64 {
	if bps <= 0 {
		return 50
	}
	return bps
}
