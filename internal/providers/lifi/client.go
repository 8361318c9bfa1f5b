package lifi

import (
	"context"
	"fmt"
	"math/big"
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

// LiFi quotes are honored for roughly a minute; candidates expire after
// this window.
const quoteValidity = 60 * time.Second

const placeholderSender = "0x0000000000000000000000000000000000000001"

type Client struct {
	http    *httpx.Client
	baseURL string
	reg     *registry.Registry
	now     func() time.Time
}

func New(httpClient *httpx.Client, reg *registry.Registry) *Client {
	return &Client{http: httpClient, baseURL: registry.LiFiBaseURL, reg: reg, now: time.Now}
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:        "lifi",
		Type:        "bridge",
		RequiresKey: false,
		Capabilities: []string{
			"route.quote",
			"tokens.list",
			"chains.list",
		},
	}
}

func (c *Client) Supports(req providers.QuoteRequest) bool {
	if req.FromChain.VM != model.VMTypeEVM || req.ToChain.VM != model.VMTypeEVM {
		return false
	}
	return strings.TrimSpace(req.Req.FromAmount) != "" || strings.TrimSpace(req.Req.ToAmount) != ""
}

type quoteResponse struct {
	ID       string `json:"id"`
	Estimate struct {
		ToAmount        string `json:"toAmount"`
		ToAmountMin     string `json:"toAmountMin"`
		ApprovalAddress string `json:"approvalAddress"`
		FeeCosts        []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"feeCosts"`
		GasCosts []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"gasCosts"`
		ExecutionDuration int64 `json:"executionDuration"`
	} `json:"estimate"`
	ToolDetails struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"toolDetails"`
	Tool          string `json:"tool"`
	IncludedSteps []struct {
		Type   string `json:"type"`
		Tool   string `json:"tool"`
		Action struct {
			FromChainID int64 `json:"fromChainId"`
			ToChainID   int64 `json:"toChainId"`
			FromToken   struct {
				Address string `json:"address"`
			} `json:"fromToken"`
			ToToken struct {
				Address string `json:"address"`
			} `json:"toToken"`
		} `json:"action"`
	} `json:"includedSteps"`
	TransactionRequest struct {
		To      string `json:"to"`
		Data    string `json:"data"`
		Value   string `json:"value"`
		ChainID int64  `json:"chainId"`
	} `json:"transactionRequest"`
}

func (c *Client) FetchQuote(ctx context.Context, req providers.QuoteRequest) (*model.RouteCandidate, error) {
	if !c.Supports(req) {
		return nil, nil
	}

	sender := strings.TrimSpace(req.Req.Sender)
	if sender == "" {
		sender = placeholderSender
	}
	vals := url.Values{}
	vals.Set("fromChain", strconv.FormatInt(req.FromChain.ID, 10))
	vals.Set("toChain", strconv.FormatInt(req.ToChain.ID, 10))
	vals.Set("fromToken", req.Req.FromToken.Address)
	vals.Set("toToken", req.Req.ToToken.Address)
	vals.Set("slippage", formatSlippage(req.Req.SlippageBps))
	vals.Set("fromAddress", sender)
	if recipient := strings.TrimSpace(req.Req.Recipient); recipient != "" {
		vals.Set("toAddress", recipient)
	}

	// Exact-output requests go through the dedicated endpoint.
	path := "/quote"
	if strings.TrimSpace(req.Req.FromAmount) != "" {
		vals.Set("fromAmount", req.Req.FromAmount)
	} else {
		path = "/quote/toAmount"
		vals.Set("toAmount", req.Req.ToAmount)
	}

	reqURL := c.baseURL + path + "?" + vals.Encode()
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "build lifi quote request", err)
	}
	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	if resp.Estimate.ToAmount == "" {
		// No route for this pair.
		return nil, nil
	}

	feeUSD := 0.0
	for _, item := range resp.Estimate.FeeCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		feeUSD += v
	}
	for _, item := range resp.Estimate.GasCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		feeUSD += v
	}

	steps := make([]model.PathStep, 0, len(resp.IncludedSteps))
	for _, s := range resp.IncludedSteps {
		kind := model.StepKindSwap
		if strings.EqualFold(s.Type, "cross") || s.Action.FromChainID != s.Action.ToChainID {
			kind = model.StepKindBridge
		}
		steps = append(steps, model.PathStep{
			Kind:        kind,
			Protocol:    s.Tool,
			FromChainID: s.Action.FromChainID,
			ToChainID:   s.Action.ToChainID,
			FromToken:   registry.NormalizeAddress(s.Action.FromChainID, s.Action.FromToken.Address),
			ToToken:     registry.NormalizeAddress(s.Action.ToChainID, s.Action.ToToken.Address),
		})
	}
	if len(steps) == 0 {
		steps = append(steps, model.PathStep{
			Kind:        model.StepKindBridge,
			Protocol:    firstNonEmpty(resp.ToolDetails.Key, resp.Tool),
			FromChainID: req.FromChain.ID,
			ToChainID:   req.ToChain.ID,
			FromToken:   registry.NormalizeAddress(req.FromChain.ID, req.Req.FromToken.Address),
			ToToken:     registry.NormalizeAddress(req.ToChain.ID, req.Req.ToToken.Address),
		})
	}

	candidate := &model.RouteCandidate{
		Provider:          "lifi",
		Steps:             steps,
		AmountOut:         resp.Estimate.ToAmount,
		AmountOutDecimals: req.ToDecimals,
		FeeUSD:            feeUSD,
		DurationSec:       resp.Estimate.ExecutionDuration,
		ExpiresAt:         c.now().Add(quoteValidity),
	}

	if strings.TrimSpace(resp.TransactionRequest.To) != "" && strings.TrimSpace(resp.TransactionRequest.Data) != "" {
		if resp.TransactionRequest.ChainID != 0 && resp.TransactionRequest.ChainID != req.FromChain.ID {
			return nil, domerr.New(domerr.CodeProvider, "lifi transaction chain does not match source chain")
		}
		value, err := hexToDecimal(resp.TransactionRequest.Value)
		if err != nil {
			return nil, domerr.Wrap(domerr.CodeProvider, "parse lifi transaction value", err)
		}
		candidate.Tx = &model.TxPayload{
			ChainID:         req.FromChain.ID,
			Target:          resp.TransactionRequest.To,
			Data:            ensureHexPrefix(resp.TransactionRequest.Data),
			Value:           value,
			ApprovalSpender: resp.Estimate.ApprovalAddress,
		}
	}
	return candidate, nil
}

func (c *Client) FetchChains(ctx context.Context) ([]model.ProviderChain, error) {
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/chains", nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "build lifi chains request", err)
	}
	var resp struct {
		Chains []map[string]any `json:"chains"`
	}
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	out := make([]model.ProviderChain, 0, len(resp.Chains))
	for _, raw := range resp.Chains {
		if chain, ok := c.NormalizeChain(raw); ok {
			out = append(out, chain)
		}
	}
	return out, nil
}

func (c *Client) FetchTokens(ctx context.Context, params providers.TokenParams) ([]model.NormalizedToken, error) {
	chain, ok := c.reg.Chain(params.ChainID)
	if !ok || chain.VM != model.VMTypeEVM {
		return nil, domerr.Newf(domerr.CodeUnsupported, "lifi tokens unsupported for chain %d", params.ChainID)
	}
	vals := url.Values{}
	vals.Set("chains", strconv.FormatInt(params.ChainID, 10))
	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tokens?"+vals.Encode(), nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "build lifi tokens request", err)
	}
	var resp struct {
		Tokens map[string][]map[string]any `json:"tokens"`
	}
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return nil, err
	}
	out := make([]model.NormalizedToken, 0)
	for _, raws := range resp.Tokens {
		for _, raw := range raws {
			token, ok := c.NormalizeToken(raw)
			if !ok {
				continue
			}
			if params.Query != "" && !strings.EqualFold(token.Symbol, params.Query) {
				continue
			}
			out = append(out, token)
			if params.Limit > 0 && len(out) >= params.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (c *Client) NormalizeToken(raw map[string]any) (model.NormalizedToken, bool) {
	address := strings.TrimSpace(cast.ToString(raw["address"]))
	chainID := cast.ToInt64(raw["chainId"])
	if address == "" || chainID == 0 {
		return model.NormalizedToken{}, false
	}
	canonical, ok := c.reg.Resolve("lifi", strconv.FormatInt(chainID, 10))
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
		PriceUSD:  cast.ToFloat64(raw["priceUSD"]),
		Providers: []string{"lifi"},
	}, true
}

func (c *Client) NormalizeChain(raw map[string]any) (model.ProviderChain, bool) {
	id := cast.ToInt64(raw["id"])
	if id <= 0 {
		return model.ProviderChain{}, false
	}
	chainType := strings.ToUpper(strings.TrimSpace(cast.ToString(raw["chainType"])))
	if chainType != "EVM" {
		return model.ProviderChain{}, false
	}
	chain := model.ProviderChain{
		Provider:        "lifi",
		ProviderChainID: strconv.FormatInt(id, 10),
		Name:            strings.TrimSpace(cast.ToString(raw["name"])),
		VM:              model.VMTypeEVM,
	}
	if native, ok := raw["nativeToken"].(map[string]any); ok {
		chain.NativeSymbol = strings.ToUpper(strings.TrimSpace(cast.ToString(native["symbol"])))
		chain.NativeDecimals = cast.ToInt(native["decimals"])
	}
	return chain, true
}

func formatSlippage(bps int64) string {
	if bps <= 0 {
		bps = 50
	}
	return strconv.FormatFloat(float64(bps)/10000, 'f', 6, 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func ensureHexPrefix(v string) string {
	clean := strings.TrimSpace(v)
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		return clean
	}
	return "0x" + clean
}

func hexToDecimal(v string) (string, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return "0", nil
	}
	clean = strings.TrimPrefix(clean, "0x")
	clean = strings.TrimPrefix(clean, "0X")
	n := new(big.Int)
	if _, ok := n.SetString(clean, 16); !ok {
		return "", fmt.Errorf("invalid hex value %q", v)
	}
	return n.String(), nil
}
