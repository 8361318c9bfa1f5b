package aggregator

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/providers"
	"github.com/ggonzalez94/route-engine/internal/quotecache"
	"github.com/ggonzalez94/route-engine/internal/registry"
)

const (
	defaultAdapterTimeout = 15 * time.Second
	defaultOverallTimeout = 60 * time.Second
)

// Aggregator fans a validated route request out to every capable provider
// adapter, ranks the surviving candidates, and caches the serialized result
// so identical requests inside the TTL are byte-identical and hit each
// provider at most once.
type Aggregator struct {
	adapters []providers.Adapter
	reg      *registry.Registry
	cache    *quotecache.Cache
	group    singleflight.Group
	log      zerolog.Logger

	adapterTimeout  time.Duration
	overallTimeout  time.Duration
	onChainDecimals DecimalsFunc
	now             func() time.Time
}

// DecimalsFunc resolves a token's decimals from an external source, typically
// an on-chain decimals() call.
type DecimalsFunc func(ctx context.Context, chainID int64, address string) (int, error)

type Options struct {
	AdapterTimeout time.Duration
	OverallTimeout time.Duration
	// OnChainDecimals, when set, is consulted for tokens the registry does
	// not know before the request is rejected.
	OnChainDecimals DecimalsFunc
}

func New(adapters []providers.Adapter, reg *registry.Registry, cache *quotecache.Cache, log zerolog.Logger, opts Options) *Aggregator {
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = defaultAdapterTimeout
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = defaultOverallTimeout
	}
	return &Aggregator{
		adapters:        adapters,
		reg:             reg,
		cache:           cache,
		log:             log,
		adapterTimeout:  opts.AdapterTimeout,
		overallTimeout:  opts.OverallTimeout,
		onChainDecimals: opts.OnChainDecimals,
		now:             time.Now,
	}
}

// Route validates the request, serves from cache when possible, and otherwise
// aggregates quotes across providers. The returned bytes are the canonical
// serialized RouteResponse; Route also decodes them for callers that want the
// struct.
func (a *Aggregator) Route(ctx context.Context, req model.RouteRequest) (model.RouteResponse, []byte, error) {
	quoteReq, err := a.validate(ctx, req)
	if err != nil {
		return model.RouteResponse{}, nil, err
	}

	key := quotecache.Fingerprint(req)
	if payload, ok := a.cache.Get(key); ok {
		return decodeResponse(payload)
	}

	// Concurrent identical requests share one aggregation pass.
	v, err, _ := a.group.Do(key, func() (any, error) {
		if payload, ok := a.cache.Get(key); ok {
			return payload, nil
		}
		payload, err := a.aggregate(ctx, quoteReq)
		if err != nil {
			return nil, err
		}
		return payload, nil
	})
	if err != nil {
		return model.RouteResponse{}, nil, err
	}
	return decodeResponse(v.([]byte))
}

// SyncChains asks every adapter for its supported chains and registers the
// ones the registry does not know yet, so requests for freshly listed chains
// resolve without a restart. A failing adapter is skipped. Returns the number
// of newly registered chains.
func (a *Aggregator) SyncChains(ctx context.Context) int {
	registered := 0
	for _, adapter := range a.adapters {
		name := adapter.Info().Name
		chains, err := adapter.FetchChains(ctx)
		if err != nil {
			a.log.Warn().Str("provider", name).Err(err).Msg("chain sync failed")
			continue
		}
		for _, pc := range chains {
			if _, ok := a.reg.Resolve(pc.Provider, pc.ProviderChainID); ok {
				continue
			}
			chain := a.reg.RegisterDynamic(pc)
			if chain == nil {
				continue
			}
			registered++
			a.log.Debug().
				Str("provider", name).
				Int64("chain", chain.ID).
				Str("name", chain.Name).
				Msg("registered provider chain")
		}
	}
	return registered
}

func (a *Aggregator) validate(ctx context.Context, req model.RouteRequest) (providers.QuoteRequest, error) {
	fromAmount := strings.TrimSpace(req.FromAmount)
	toAmount := strings.TrimSpace(req.ToAmount)
	if (fromAmount == "") == (toAmount == "") {
		return providers.QuoteRequest{}, domerr.New(domerr.CodeValidation, "exactly one of fromAmount and toAmount must be set")
	}
	amount := fromAmount
	if amount == "" {
		amount = toAmount
	}
	if !validBaseUnits(amount) {
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "amount %q is not a positive base-unit integer", amount)
	}
	if req.SlippageBps < 0 || req.SlippageBps > 5000 {
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "slippage %d bps out of range", req.SlippageBps)
	}
	switch req.Order {
	case "", model.OrderRecommended, model.OrderFastest, model.OrderCheapest:
	default:
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "unknown order preference %q", req.Order)
	}

	fromChain, ok := a.reg.Chain(req.FromToken.ChainID)
	if !ok {
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "unknown source chain %d", req.FromToken.ChainID)
	}
	toChain, ok := a.reg.Chain(req.ToToken.ChainID)
	if !ok {
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "unknown destination chain %d", req.ToToken.ChainID)
	}
	if !a.reg.ValidAddress(fromChain.ID, req.FromToken.Address) {
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "malformed source token address %q", req.FromToken.Address)
	}
	if !a.reg.ValidAddress(toChain.ID, req.ToToken.Address) {
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "malformed destination token address %q", req.ToToken.Address)
	}
	if sender := strings.TrimSpace(req.Sender); sender != "" && !a.reg.ValidAddress(fromChain.ID, sender) {
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "malformed sender address %q", sender)
	}
	if recipient := strings.TrimSpace(req.Recipient); recipient != "" && !a.reg.ValidAddress(toChain.ID, recipient) {
		return providers.QuoteRequest{}, domerr.Newf(domerr.CodeValidation, "malformed recipient address %q", recipient)
	}

	fromDecimals, err := a.resolveDecimals(ctx, fromChain.ID, req.FromToken)
	if err != nil {
		return providers.QuoteRequest{}, err
	}
	toDecimals, err := a.resolveDecimals(ctx, toChain.ID, req.ToToken)
	if err != nil {
		return providers.QuoteRequest{}, err
	}

	return providers.QuoteRequest{
		Req:          req,
		FromChain:    fromChain,
		ToChain:      toChain,
		FromDecimals: fromDecimals,
		ToDecimals:   toDecimals,
	}, nil
}

// resolveDecimals uses the caller-supplied value when present, then the
// registry's token list, then the on-chain fallback when one is configured.
func (a *Aggregator) resolveDecimals(ctx context.Context, chainID int64, ref model.TokenRef) (int, error) {
	if v, ok := ref.Decimals.Value(); ok {
		return v, nil
	}
	if token, ok := a.reg.TokenByAddress(chainID, ref.Address); ok {
		if v, ok := token.Decimals.Value(); ok {
			return v, nil
		}
	}
	if a.onChainDecimals != nil {
		if v, err := a.onChainDecimals(ctx, chainID, ref.Address); err == nil {
			return v, nil
		} else {
			a.log.Warn().Int64("chain", chainID).Str("token", ref.Address).Err(err).Msg("on-chain decimals lookup failed")
		}
	}
	return 0, domerr.Newf(domerr.CodeValidation, "decimals unknown for token %s on chain %d", ref.Address, chainID)
}

func (a *Aggregator) aggregate(ctx context.Context, quoteReq providers.QuoteRequest) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.overallTimeout)
	defer cancel()

	results := make([]*model.RouteCandidate, len(a.adapters))
	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range a.adapters {
		if !adapter.Supports(quoteReq) {
			continue
		}
		g.Go(func() error {
			name := adapter.Info().Name
			actx, acancel := context.WithTimeout(gctx, a.adapterTimeout)
			defer acancel()

			started := a.now()
			candidate, err := adapter.FetchQuote(actx, quoteReq)
			elapsed := a.now().Sub(started)
			if err != nil {
				// A failing provider never fails the aggregation.
				a.log.Warn().Str("provider", name).Dur("elapsed", elapsed).Err(err).Msg("provider quote failed")
				return nil
			}
			if candidate == nil {
				a.log.Debug().Str("provider", name).Dur("elapsed", elapsed).Msg("provider returned no route")
				return nil
			}
			a.log.Debug().
				Str("provider", name).
				Str("amount_out", candidate.AmountOut).
				Dur("elapsed", elapsed).
				Msg("provider quote received")
			results[i] = candidate
			return nil
		})
	}
	_ = g.Wait()

	now := a.now()
	candidates := make([]model.RouteCandidate, 0, len(results))
	for _, c := range results {
		if c == nil {
			continue
		}
		if !c.ExpiresAt.After(now) {
			continue
		}
		candidates = append(candidates, *c)
	}
	if len(candidates) == 0 {
		return nil, domerr.New(domerr.CodeNotFound, "no route found for the requested pair")
	}

	Rank(candidates, quoteReq.Req.Order)

	expiresAt := candidates[0].ExpiresAt
	for _, c := range candidates[1:] {
		if c.ExpiresAt.Before(expiresAt) {
			expiresAt = c.ExpiresAt
		}
	}

	resp := model.RouteResponse{
		Route:        &candidates[0],
		Alternatives: candidates[1:],
		Timestamp:    now.UTC(),
		ExpiresAt:    expiresAt.UTC(),
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "encode route response", err)
	}

	// Never serve cached routes past the earliest quote expiry.
	ttl := a.cache.TTL()
	if remaining := expiresAt.Sub(now); remaining < ttl {
		ttl = remaining
	}
	a.cache.SetWithTTL(quotecache.Fingerprint(quoteReq.Req), payload, ttl)
	return payload, nil
}

func decodeResponse(payload []byte) (model.RouteResponse, []byte, error) {
	var resp model.RouteResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return model.RouteResponse{}, nil, domerr.Wrap(domerr.CodeInternal, "decode cached route response", err)
	}
	return resp, payload, nil
}

func validBaseUnits(amount string) bool {
	n, ok := new(big.Int).SetString(amount, 10)
	return ok && n.Sign() > 0
}
