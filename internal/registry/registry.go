package registry

import (
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/ggonzalez94/route-engine/internal/model"
)

// SolanaChainID is the internal numeric id assigned to Solana mainnet. EVM
// chains use their EIP-155 chain id directly, so this constant follows the
// LiFi convention to stay out of the EVM id space.
const SolanaChainID int64 = 1151111081099710

// Dynamic registrations are assigned ids from this base upward so they can
// never collide with an EIP-155 chain id.
const dynamicIDBase int64 = 1_000_000_000_000

// Registry maps provider-specific chain and token identifiers onto stable
// canonical ids. It is read-mostly; writers only append, and a canonical id
// never changes once assigned.
type Registry struct {
	mu         sync.RWMutex
	chains     map[int64]model.CanonicalChain
	byProvider map[string]int64
	tokens     map[int64][]model.NormalizedToken
	nextID     int64
}

func New() *Registry {
	r := &Registry{
		chains:     make(map[int64]model.CanonicalChain),
		byProvider: make(map[string]int64),
		tokens:     make(map[int64][]model.NormalizedToken),
		nextID:     dynamicIDBase,
	}
	for _, chain := range seedChains {
		r.chains[chain.ID] = chain
		for provider, providerID := range chain.ProviderIDs {
			r.byProvider[providerKey(provider, providerID)] = chain.ID
		}
	}
	for chainID, tokens := range seedTokens {
		r.tokens[chainID] = tokens
	}
	return r
}

func providerKey(provider, providerChainID string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "|" + strings.TrimSpace(providerChainID)
}

// Resolve maps a provider's chain identifier to the canonical chain. The
// lookup is idempotent; unknown identifiers report ok=false rather than
// creating anything.
func (r *Registry) Resolve(provider, providerChainID string) (model.CanonicalChain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byProvider[providerKey(provider, providerChainID)]; ok {
		return r.chains[id], true
	}
	// EVM providers commonly report the bare EIP-155 id, which is already
	// canonical.
	if id, err := strconv.ParseInt(strings.TrimSpace(providerChainID), 10, 64); err == nil {
		if chain, ok := r.chains[id]; ok {
			return chain, true
		}
	}
	return model.CanonicalChain{}, false
}

// RegisterDynamic creates a canonical chain for a provider chain that has no
// existing mapping, assigning a fresh stable id. Re-registering the same
// provider identifier returns the existing chain instead of a new id.
// Malformed input yields nil, never a panic that aborts the caller.
func (r *Registry) RegisterDynamic(pc model.ProviderChain) *model.CanonicalChain {
	if strings.TrimSpace(pc.Provider) == "" || strings.TrimSpace(pc.ProviderChainID) == "" {
		return nil
	}
	if pc.VM != model.VMTypeEVM && pc.VM != model.VMTypeSolana {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := providerKey(pc.Provider, pc.ProviderChainID)
	if id, ok := r.byProvider[key]; ok {
		chain := r.chains[id]
		return &chain
	}

	var id int64
	if pc.VM == model.VMTypeEVM {
		parsed, err := strconv.ParseInt(strings.TrimSpace(pc.ProviderChainID), 10, 64)
		if err != nil || parsed <= 0 {
			return nil
		}
		id = parsed
	} else {
		id = r.nextID
		r.nextID++
	}

	if existing, ok := r.chains[id]; ok {
		existing.ProviderIDs[pc.Provider] = pc.ProviderChainID
		r.chains[id] = existing
		r.byProvider[key] = id
		return &existing
	}

	name := strings.TrimSpace(pc.Name)
	if name == "" {
		name = "chain-" + strconv.FormatInt(id, 10)
	}
	nativeDecimals := pc.NativeDecimals
	if nativeDecimals <= 0 {
		if pc.VM == model.VMTypeSolana {
			nativeDecimals = 9
		} else {
			nativeDecimals = 18
		}
	}
	chain := model.CanonicalChain{
		ID:             id,
		Name:           name,
		VM:             pc.VM,
		NativeSymbol:   strings.ToUpper(strings.TrimSpace(pc.NativeSymbol)),
		NativeDecimals: nativeDecimals,
		ProviderIDs:    map[string]string{pc.Provider: pc.ProviderChainID},
	}
	r.chains[id] = chain
	r.byProvider[key] = id
	return &chain
}

func (r *Registry) Chain(id int64) (model.CanonicalChain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, ok := r.chains[id]
	return chain, ok
}

func (r *Registry) Chains() []model.CanonicalChain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.CanonicalChain, 0, len(r.chains))
	for _, chain := range r.chains {
		out = append(out, chain)
	}
	return out
}

func (r *Registry) TokenByAddress(chainID int64, address string) (model.NormalizedToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, token := range r.tokens[chainID] {
		if tokenAddressEqual(chainID, token.Address, address) {
			return token, true
		}
	}
	return model.NormalizedToken{}, false
}

func (r *Registry) TokenBySymbol(chainID int64, symbol string) (model.NormalizedToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, token := range r.tokens[chainID] {
		if strings.EqualFold(token.Symbol, symbol) {
			return token, true
		}
	}
	return model.NormalizedToken{}, false
}

// ValidAddress reports whether address is well-formed for the chain's VM.
func (r *Registry) ValidAddress(chainID int64, address string) bool {
	chain, ok := r.Chain(chainID)
	if !ok {
		return false
	}
	switch chain.VM {
	case model.VMTypeEVM:
		return common.IsHexAddress(address)
	case model.VMTypeSolana:
		_, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
		return err == nil
	default:
		return false
	}
}

func tokenAddressEqual(chainID int64, a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if chainID == SolanaChainID {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// NormalizeAddress lowercases EVM addresses; Solana addresses are case
// sensitive and pass through unchanged.
func NormalizeAddress(chainID int64, address string) string {
	address = strings.TrimSpace(address)
	if chainID == SolanaChainID {
		return address
	}
	return strings.ToLower(address)
}
