package engine

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/httpx"
	"github.com/ggonzalez94/route-engine/internal/registry"
)

// Settlement states reported for the destination leg of a bridge transfer.
const (
	SettlementPending = "PENDING"
	SettlementDone    = "DONE"
	SettlementFailed  = "FAILED"
)

// SettlementState is one observation of a bridge transfer's destination leg.
// DestinationTxHash is set once the provider reports the receiving
// transaction.
type SettlementState struct {
	Status            string
	Substatus         string
	Message           string
	DestinationTxHash string
}

// SettlementChecker reports whether a bridge transfer identified by its
// source-chain transaction hash has settled on the destination chain.
type SettlementChecker interface {
	Check(ctx context.Context, provider string, fromChainID, toChainID int64, txHash string) (SettlementState, error)
}

type httpSettlementChecker struct {
	http *httpx.Client
	// urls overrides the per-provider status endpoint; empty falls back to
	// the registry defaults.
	urls map[string]string
}

// NewSettlementChecker builds the HTTP-backed checker. urls may override the
// status endpoint per provider; nil uses the registry defaults.
func NewSettlementChecker(httpClient *httpx.Client, urls map[string]string) SettlementChecker {
	return &httpSettlementChecker{http: httpClient, urls: urls}
}

func (c *httpSettlementChecker) endpoint(provider string) (string, bool) {
	if endpoint, ok := c.urls[provider]; ok {
		return endpoint, true
	}
	return registry.SettlementURL(provider)
}

func (c *httpSettlementChecker) Check(ctx context.Context, provider string, fromChainID, toChainID int64, txHash string) (SettlementState, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	endpoint, ok := c.endpoint(provider)
	if !ok {
		return SettlementState{}, domerr.Newf(domerr.CodeUnsupported, "no settlement tracking for provider %q", provider)
	}
	switch provider {
	case "lifi":
		return c.checkLiFi(ctx, endpoint, fromChainID, toChainID, txHash)
	case "bungee":
		return c.checkBungee(ctx, endpoint, txHash)
	default:
		return SettlementState{}, domerr.Newf(domerr.CodeUnsupported, "no settlement tracking for provider %q", provider)
	}
}

func (c *httpSettlementChecker) checkLiFi(ctx context.Context, endpoint string, fromChainID, toChainID int64, txHash string) (SettlementState, error) {
	vals := url.Values{}
	// The status endpoint expects the hash without its 0x prefix.
	vals.Set("txHash", strings.TrimPrefix(strings.TrimPrefix(txHash, "0x"), "0X"))
	vals.Set("fromChain", strconv.FormatInt(fromChainID, 10))
	vals.Set("toChain", strconv.FormatInt(toChainID, 10))

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+vals.Encode(), nil)
	if err != nil {
		return SettlementState{}, domerr.Wrap(domerr.CodeInternal, "build lifi status request", err)
	}
	var resp struct {
		Status           string `json:"status"`
		Substatus        string `json:"substatus"`
		SubstatusMessage string `json:"substatusMessage"`
		Receiving        struct {
			TxHash string `json:"txHash"`
		} `json:"receiving"`
	}
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return SettlementState{}, err
	}

	state := SettlementState{Substatus: resp.Substatus, Message: resp.SubstatusMessage}
	switch strings.ToUpper(strings.TrimSpace(resp.Status)) {
	case "DONE":
		state.Status = SettlementDone
		state.DestinationTxHash = resp.Receiving.TxHash
	case "FAILED", "INVALID":
		state.Status = SettlementFailed
	default:
		// NOT_FOUND means the hash is not indexed yet; keep polling.
		state.Status = SettlementPending
	}
	return state, nil
}

func (c *httpSettlementChecker) checkBungee(ctx context.Context, endpoint string, txHash string) (SettlementState, error) {
	vals := url.Values{}
	vals.Set("txHash", txHash)

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+vals.Encode(), nil)
	if err != nil {
		return SettlementState{}, domerr.Wrap(domerr.CodeInternal, "build bungee status request", err)
	}
	status, body, err := c.http.DoRaw(ctx, hReq)
	if err != nil {
		return SettlementState{}, err
	}
	if status == http.StatusNotFound {
		// Not indexed yet.
		return SettlementState{Status: SettlementPending}, nil
	}
	if status != http.StatusOK {
		return SettlementState{}, domerr.Newf(domerr.CodeProvider, "bungee status endpoint returned %d", status)
	}

	doc := gjson.ParseBytes(body)
	result := doc.Get("result.0")
	state := SettlementState{
		Substatus:         strings.ToUpper(strings.TrimSpace(result.Get("status").String())),
		DestinationTxHash: result.Get("destinationData.txHash").String(),
	}
	code := result.Get("bungeeStatusCode").Int()
	switch {
	case state.Substatus == "COMPLETED" || code == 3:
		state.Status = SettlementDone
	case state.Substatus == "FAILED" || state.Substatus == "REFUNDED" || code == 4:
		state.Status = SettlementFailed
		state.Message = result.Get("statusMessage").String()
	default:
		state.Status = SettlementPending
	}
	return state, nil
}
