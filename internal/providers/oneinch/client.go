package oneinch

import (
	"context"
	"fmt"
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

// Same-chain swaps settle within a block or two.
const swapDurationSec = 30

// Client serves same-chain EVM swaps through the 1inch aggregation API.
// All endpoints require a bearer key.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	reg     *registry.Registry
	now     func() time.Time
}

func New(httpClient *httpx.Client, apiKey string, reg *registry.Registry) *Client {
	return &Client{http: httpClient, baseURL: registry.OneInchBaseURL, apiKey: apiKey, reg: reg, now: time.Now}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "1inch",
		Type:          "swap",
		RequiresKey:   true,
		KeyEnvVarName: "ROUTER_1INCH_API_KEY",
		Capabilities: []string{
			"route.quote",
			"tokens.list",
		},
	}
}

func (c *Client) Supports(req providers.QuoteRequest) bool {
	if req.FromChain.VM != model.VMTypeEVM || req.ToChain.VM != model.VMTypeEVM {
		return false
	}
	if req.FromChain.ID != req.ToChain.ID {
		return false
	}
	if _, ok := req.FromChain.ProviderIDs["1inch"]; !ok {
		return false
	}
	return strings.TrimSpace(req.Req.FromAmount) != ""
}

type quoteResponse struct {
	DstAmount string  `json:"dstAmount"`
	Gas       float64 `json:"gas"`
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

func (c *Client) FetchQuote(ctx context.Context, req providers.QuoteRequest) (*model.RouteCandidate, error) {
	if !c.Supports(req) {
		return nil, nil
	}
	if c.apiKey == "" {
		return nil, domerr.New(domerr.CodeAuth, "missing required API key for 1inch (ROUTER_1INCH_API_KEY)")
	}
	chainID := strconv.FormatInt(req.FromChain.ID, 10)

	candidate := &model.RouteCandidate{
		Provider: "1inch",
		Steps: []model.PathStep{{
			Kind:        model.StepKindSwap,
			Protocol:    "1inch",
			FromChainID: req.FromChain.ID,
			ToChainID:   req.ToChain.ID,
			FromToken:   registry.NormalizeAddress(req.FromChain.ID, req.Req.FromToken.Address),
			ToToken:     registry.NormalizeAddress(req.ToChain.ID, req.Req.ToToken.Address),
		}},
		AmountOutDecimals: req.ToDecimals,
		DurationSec:       swapDurationSec,
		ExpiresAt:         c.now().Add(quoteValidity),
	}

	// With a sender we can ask for the executable calldata in a single call.
	// Without one 1inch refuses to build a transaction, so fall back to the
	// quote-only endpoint.
	if sender := strings.TrimSpace(req.Req.Sender); sender != "" {
		vals := url.Values{}
		vals.Set("src", req.Req.FromToken.Address)
		vals.Set("dst", req.Req.ToToken.Address)
		vals.Set("amount", req.Req.FromAmount)
		vals.Set("from", sender)
		vals.Set("origin", sender)
		vals.Set("slippage", formatSlippagePct(req.Req.SlippageBps))
		if recipient := strings.TrimSpace(req.Req.Recipient); recipient != "" && !strings.EqualFold(recipient, sender) {
			vals.Set("receiver", recipient)
		}
		var resp swapResponse
		if err := c.getJSON(ctx, fmt.Sprintf("/swap/v6.0/%s/swap?%s", chainID, vals.Encode()), &resp); err != nil {
			return nil, err
		}
		if resp.DstAmount == "" || resp.Tx.To == "" {
			return nil, nil
		}
		candidate.AmountOut = resp.DstAmount
		candidate.Tx = &model.TxPayload{
			ChainID: req.FromChain.ID,
			Target:  resp.Tx.To,
			Data:    resp.Tx.Data,
			Value:   resp.Tx.Value,
			// The router contract pulls the input token itself.
			ApprovalSpender: resp.Tx.To,
		}
		return candidate, nil
	}

	vals := url.Values{}
	vals.Set("src", req.Req.FromToken.Address)
	vals.Set("dst", req.Req.ToToken.Address)
	vals.Set("amount", req.Req.FromAmount)
	vals.Set("includeGas", "true")
	var resp quoteResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/swap/v6.0/%s/quote?%s", chainID, vals.Encode()), &resp); err != nil {
		return nil, err
	}
	if resp.DstAmount == "" {
		return nil, nil
	}
	candidate.AmountOut = resp.DstAmount
	return candidate, nil
}

// FetchChains reports the chains this deployment routes through 1inch. The
// API has no discovery endpoint, so the set mirrors the registry seeds.
func (c *Client) FetchChains(ctx context.Context) ([]model.ProviderChain, error) {
	out := make([]model.ProviderChain, 0, 8)
	for _, chain := range c.reg.Chains() {
		id, ok := chain.ProviderIDs["1inch"]
		if !ok {
			continue
		}
		out = append(out, model.ProviderChain{
			Provider:        "1inch",
			ProviderChainID: id,
			Name:            chain.Name,
			VM:              chain.VM,
			NativeSymbol:    chain.NativeSymbol,
			NativeDecimals:  chain.NativeDecimals,
		})
	}
	return out, nil
}

func (c *Client) FetchTokens(ctx context.Context, params providers.TokenParams) ([]model.NormalizedToken, error) {
	if c.apiKey == "" {
		return nil, domerr.New(domerr.CodeAuth, "missing required API key for 1inch (ROUTER_1INCH_API_KEY)")
	}
	chain, ok := c.reg.Chain(params.ChainID)
	if !ok {
		return nil, domerr.Newf(domerr.CodeNotFound, "unknown chain id %d", params.ChainID)
	}
	providerID, ok := chain.ProviderIDs["1inch"]
	if !ok {
		return nil, domerr.Newf(domerr.CodeUnsupported, "1inch does not serve chain %s", chain.Name)
	}

	var resp struct {
		Tokens map[string]map[string]any `json:"tokens"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/swap/v6.0/%s/tokens", providerID), &resp); err != nil {
		return nil, err
	}

	query := strings.ToUpper(strings.TrimSpace(params.Query))
	out := make([]model.NormalizedToken, 0, len(resp.Tokens))
	for address, raw := range resp.Tokens {
		if raw["address"] == nil {
			raw["address"] = address
		}
		raw["chainId"] = providerID
		token, ok := c.NormalizeToken(raw)
		if !ok {
			continue
		}
		if query != "" && !strings.Contains(token.Symbol, query) && !strings.EqualFold(token.Address, params.Query) {
			continue
		}
		out = append(out, token)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

func (c *Client) NormalizeToken(raw map[string]any) (model.NormalizedToken, bool) {
	address := strings.TrimSpace(cast.ToString(raw["address"]))
	chainID := strings.TrimSpace(cast.ToString(raw["chainId"]))
	if address == "" || chainID == "" {
		return model.NormalizedToken{}, false
	}
	canonical, ok := c.reg.Resolve("1inch", chainID)
	if !ok {
		return model.NormalizedToken{}, false
	}
	decimals := model.UnknownDecimals()
	if raw["decimals"] != nil {
		decimals = model.KnownDecimals(cast.ToInt(raw["decimals"]))
	}
	return model.NormalizedToken{
		ChainID:   canonical.ID,
		Address:   registry.NormalizeAddress(canonical.ID, address),
		Symbol:    strings.ToUpper(strings.TrimSpace(cast.ToString(raw["symbol"]))),
		Decimals:  decimals,
		Providers: []string{"1inch"},
	}, true
}

func (c *Client) NormalizeChain(raw map[string]any) (model.ProviderChain, bool) {
	id := cast.ToInt64(raw["chainId"])
	if id <= 0 {
		return model.ProviderChain{}, false
	}
	return model.ProviderChain{
		Provider:        "1inch",
		ProviderChainID: strconv.FormatInt(id, 10),
		Name:            strings.TrimSpace(cast.ToString(raw["name"])),
		VM:              model.VMTypeEVM,
		NativeSymbol:    strings.ToUpper(strings.TrimSpace(cast.ToString(raw["currency"]))),
	}, true
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domerr.Wrap(domerr.CodeInternal, "build 1inch request", err)
	}
	hReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	_, err = c.http.DoJSON(ctx, hReq, out)
	return err
}

// formatSlippagePct renders basis points as the percent string 1inch expects.
func formatSlippagePct(bps int64) string {
	if bps <= 0 {
		bps = 50
	}
	return strconv.FormatFloat(float64(bps)/100, 'f', -1, 64)
}
