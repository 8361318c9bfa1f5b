package bungee

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/httpx"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/providers"
	"github.com/ggonzalez94/route-engine/internal/registry"
)

const quoteValidity = 45 * time.Second

const defaultUserAddress = "0x000000000000000000000000000000000000dEaD"

// Client quotes cross-chain transfers through the Bungee auto-route API.
// The response shape varies by route type, so parsing goes through gjson
// instead of a fixed struct.
type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	reg     *registry.Registry
	now     func() time.Time
}

func New(httpClient *httpx.Client, apiKey string, reg *registry.Registry) *Client {
	return &Client{http: httpClient, baseURL: registry.BungeeBaseURL, apiKey: apiKey, reg: reg, now: time.Now}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "bungee",
		Type:          "bridge",
		RequiresKey:   false,
		KeyEnvVarName: "ROUTER_BUNGEE_API_KEY",
		Capabilities: []string{
			"route.quote",
			"chains.list",
		},
	}
}

func (c *Client) Supports(req providers.QuoteRequest) bool {
	if req.FromChain.VM != model.VMTypeEVM || req.ToChain.VM != model.VMTypeEVM {
		return false
	}
	return strings.TrimSpace(req.Req.FromAmount) != ""
}

func (c *Client) FetchQuote(ctx context.Context, req providers.QuoteRequest) (*model.RouteCandidate, error) {
	if !c.Supports(req) {
		return nil, nil
	}

	sender := strings.TrimSpace(req.Req.Sender)
	if sender == "" {
		sender = defaultUserAddress
	}
	recipient := strings.TrimSpace(req.Req.Recipient)
	if recipient == "" {
		recipient = sender
	}

	vals := url.Values{}
	vals.Set("originChainId", strconv.FormatInt(req.FromChain.ID, 10))
	vals.Set("destinationChainId", strconv.FormatInt(req.ToChain.ID, 10))
	vals.Set("inputToken", req.Req.FromToken.Address)
	vals.Set("outputToken", req.Req.ToToken.Address)
	vals.Set("inputAmount", req.Req.FromAmount)
	vals.Set("userAddress", sender)
	vals.Set("receiverAddress", recipient)
	if req.Req.SlippageBps > 0 {
		vals.Set("slippage", strconv.FormatFloat(float64(req.Req.SlippageBps)/100, 'f', 2, 64))
	}

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/bungee/quote?"+vals.Encode(), nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "build bungee quote request", err)
	}
	if c.apiKey != "" {
		hReq.Header.Set("x-api-key", c.apiKey)
	}

	status, body, err := c.http.DoRaw(ctx, hReq)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, domerr.Newf(domerr.CodeProvider, "bungee returned status %d", status)
	}

	doc := gjson.ParseBytes(body)
	if !doc.Get("success").Bool() {
		return nil, nil
	}
	route := doc.Get("result.autoRoute")
	if !route.Exists() {
		return nil, nil
	}
	amountOut := strings.TrimSpace(route.Get("outputAmount").String())
	if amountOut == "" {
		amountOut = strings.TrimSpace(route.Get("output.amount").String())
	}
	if amountOut == "" {
		return nil, nil
	}

	routeName := route.Get("routeDetails.name").String()
	if routeName == "" {
		routeName = "bungee"
	}

	return &model.RouteCandidate{
		Provider: "bungee",
		Steps: []model.PathStep{{
			Kind:        model.StepKindBridge,
			Protocol:    strings.ToLower(routeName),
			FromChainID: req.FromChain.ID,
			ToChainID:   req.ToChain.ID,
			FromToken:   registry.NormalizeAddress(req.FromChain.ID, req.Req.FromToken.Address),
			ToToken:     registry.NormalizeAddress(req.ToChain.ID, req.Req.ToToken.Address),
		}},
		AmountOut:         amountOut,
		AmountOutDecimals: req.ToDecimals,
		FeeUSD:            route.Get("gasFee.feeInUsd").Float(),
		DurationSec:       route.Get("estimatedTime").Int(),
		ExpiresAt:         c.now().Add(quoteValidity),
	}, nil
}

func (c *Client) FetchChains(ctx context.Context) ([]model.ProviderChain, error) {
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported-chains", nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "build bungee chains request", err)
	}
	var resp struct {
		Result []map[string]any `json:"result"`
	}
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	out := make([]model.ProviderChain, 0, len(resp.Result))
	for _, raw := range resp.Result {
		if chain, ok := c.NormalizeChain(raw); ok {
			out = append(out, chain)
		}
	}
	return out, nil
}

// FetchTokens is not offered by the public quote API.
func (c *Client) FetchTokens(ctx context.Context, params providers.TokenParams) ([]model.NormalizedToken, error) {
	return nil, domerr.New(domerr.CodeUnsupported, "bungee does not expose a token listing")
}

func (c *Client) NormalizeToken(raw map[string]any) (model.NormalizedToken, bool) {
	address := strings.TrimSpace(cast.ToString(raw["address"]))
	chainID := cast.ToInt64(raw["chainId"])
	if address == "" || chainID == 0 {
		return model.NormalizedToken{}, false
	}
	canonical, ok := c.reg.Resolve("bungee", strconv.FormatInt(chainID, 10))
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
		Providers: []string{"bungee"},
	}, true
}

func (c *Client) NormalizeChain(raw map[string]any) (model.ProviderChain, bool) {
	id := cast.ToInt64(raw["chainId"])
	if id <= 0 {
		return model.ProviderChain{}, false
	}
	return model.ProviderChain{
		Provider:        "bungee",
		ProviderChainID: strconv.FormatInt(id, 10),
		Name:            strings.TrimSpace(cast.ToString(raw["name"])),
		VM:              model.VMTypeEVM,
		NativeSymbol:    strings.ToUpper(strings.TrimSpace(cast.ToString(raw["currency"]))),
	}, true
}
