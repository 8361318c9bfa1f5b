package providers

import (
	"context"

	"github.com/ggonzalez94/route-engine/internal/model"
)

// QuoteRequest is a validated route request with both chains resolved and
// token decimals known. Adapters never see unresolved decimals.
type QuoteRequest struct {
	Req          model.RouteRequest
	FromChain    model.CanonicalChain
	ToChain      model.CanonicalChain
	FromDecimals int
	ToDecimals   int
}

// TokenParams narrows a token listing request.
type TokenParams struct {
	ChainID int64
	Query   string
	Limit   int
}

// Adapter is the fixed capability set every quote/bridge source implements.
//
// Contract: expected failure modes (timeout, unsupported pair, malformed
// payload) must not escape the adapter as anything other than a typed error;
// the aggregator logs them and treats the adapter as having contributed no
// candidate. FetchQuote may return (nil, nil) when the provider legitimately
// has no route for the pair. Adapters may keep provider-level caches but must
// not share mutable state with other adapters.
type Adapter interface {
	Info() model.ProviderInfo

	// Supports reports whether this adapter can serve the chain/token pair
	// at all. It must be cheap and must not perform I/O.
	Supports(req QuoteRequest) bool

	FetchTokens(ctx context.Context, params TokenParams) ([]model.NormalizedToken, error)
	FetchChains(ctx context.Context) ([]model.ProviderChain, error)
	FetchQuote(ctx context.Context, req QuoteRequest) (*model.RouteCandidate, error)

	// NormalizeToken and NormalizeChain map a raw provider payload into the
	// canonical model; ok=false drops the record instead of failing the call.
	NormalizeToken(raw map[string]any) (model.NormalizedToken, bool)
	NormalizeChain(raw map[string]any) (model.ProviderChain, bool)
}
