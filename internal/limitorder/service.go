package limitorder

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/httpx"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/registry"
	"github.com/ggonzalez94/route-engine/internal/signer"
)

// Limit order protocol v4 settlement contract, identical on every supported
// EVM chain.
const routerAddress = "0x111111125421cA6dc452d289314280a0f8842A65"

const (
	domainName    = "1inch Aggregation Router"
	domainVersion = "6"
)

// makerTraits bit layout (protocol v4): expiration occupies bits 80-119,
// bit 255 disables partial fills, bit 254 allows multiple fills.
const (
	expirationShift       = 80
	noPartialFillsBit     = 255
	allowMultipleFillsBit = 254
)

// Service builds, signs and submits off-chain limit orders. Matching and
// settlement stay with the external order book; this service maps its
// responses into domain errors and keeps a local cache of open orders,
// dropped again on cancellation or fill notification. Orders with an
// expiration age out of the cache on their own.
type Service struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	open    *gocache.Cache
	log     zerolog.Logger
	now     func() time.Time
}

func New(httpClient *httpx.Client, baseURL, apiKey string, log zerolog.Logger) *Service {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = registry.OrderBookBaseURL
	}
	return &Service{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		open:    gocache.New(gocache.NoExpiration, 10*time.Minute),
		log:     log,
		now:     time.Now,
	}
}

type CreateParams struct {
	ChainID            int64
	MakerAsset         string
	TakerAsset         string
	MakingAmount       string
	TakingAmount       string
	Receiver           string
	Expiration         int64
	AllowPartialFill   bool
	AllowMultipleFills bool
}

// Create builds the order, computes its canonical EIP-712 hash, requests a
// typed-data signature and submits the signed order to the order book.
func (s *Service) Create(ctx context.Context, params CreateParams, orderSigner signer.Signer) (model.LimitOrder, error) {
	if orderSigner == nil {
		return model.LimitOrder{}, domerr.New(domerr.CodeInternal, "missing signer")
	}
	if err := validateParams(params); err != nil {
		return model.LimitOrder{}, err
	}
	maker := orderSigner.Address()
	receiver := strings.TrimSpace(params.Receiver)
	if receiver == "" {
		receiver = maker.Hex()
	}

	salt, err := newSalt()
	if err != nil {
		return model.LimitOrder{}, err
	}
	traits := makerTraits(params)

	order := model.LimitOrder{
		MakerAsset:         strings.ToLower(params.MakerAsset),
		TakerAsset:         strings.ToLower(params.TakerAsset),
		MakingAmount:       params.MakingAmount,
		TakingAmount:       params.TakingAmount,
		Maker:              maker.Hex(),
		Receiver:           receiver,
		Expiration:         params.Expiration,
		AllowPartialFill:   params.AllowPartialFill,
		AllowMultipleFills: params.AllowMultipleFills,
		Salt:               salt.String(),
	}

	typed := typedData(params.ChainID, order, traits)
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return model.LimitOrder{}, domerr.Wrap(domerr.CodeInternal, "hash limit order", err)
	}
	order.OrderHash = hexutil.Encode(hash)

	sig, err := orderSigner.SignTypedData(typed)
	if err != nil {
		return model.LimitOrder{}, domerr.Wrap(domerr.CodeUserRejected, "signer declined limit order", err)
	}
	order.Signature = hexutil.Encode(sig)

	if err := s.submit(ctx, params.ChainID, order, traits); err != nil {
		return model.LimitOrder{}, err
	}
	s.track(order)
	s.log.Info().
		Str("order_hash", order.OrderHash).
		Str("maker", order.Maker).
		Int64("chain", params.ChainID).
		Msg("limit order submitted")
	return order, nil
}

func (s *Service) submit(ctx context.Context, chainID int64, order model.LimitOrder, traits *big.Int) error {
	body, err := json.Marshal(map[string]any{
		"orderHash": order.OrderHash,
		"signature": order.Signature,
		"data": map[string]any{
			"salt":         order.Salt,
			"maker":        order.Maker,
			"receiver":     order.Receiver,
			"makerAsset":   order.MakerAsset,
			"takerAsset":   order.TakerAsset,
			"makingAmount": order.MakingAmount,
			"takingAmount": order.TakingAmount,
			"makerTraits":  hexutil.EncodeBig(traits),
		},
	})
	if err != nil {
		return domerr.Wrap(domerr.CodeInternal, "encode limit order", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%d", s.baseURL, chainID), strings.NewReader(string(body)))
	if err != nil {
		return domerr.Wrap(domerr.CodeInternal, "build order submission", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	status, respBody, err := s.http.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	return classifyOrderBookStatus(status, respBody)
}

// Cancel withdraws an order from the external book by hash.
func (s *Service) Cancel(ctx context.Context, chainID int64, orderHash string) error {
	orderHash = strings.TrimSpace(orderHash)
	if !strings.HasPrefix(orderHash, "0x") || len(orderHash) != 66 {
		return domerr.Newf(domerr.CodeValidation, "malformed order hash %q", orderHash)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/%d/order/%s", s.baseURL, chainID, orderHash), nil)
	if err != nil {
		return domerr.Wrap(domerr.CodeInternal, "build order cancellation", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	status, respBody, err := s.http.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if err := classifyOrderBookStatus(status, respBody); err != nil {
		return err
	}
	s.open.Delete(orderKey(orderHash))
	return nil
}

// NotifyFill drops an order from the open set once the book reports it as
// filled. Returns false for hashes the service is not tracking.
func (s *Service) NotifyFill(orderHash string) bool {
	key := orderKey(orderHash)
	_, known := s.open.Get(key)
	s.open.Delete(key)
	return known
}

// Open returns a tracked order by hash.
func (s *Service) Open(orderHash string) (model.LimitOrder, bool) {
	v, ok := s.open.Get(orderKey(orderHash))
	if !ok {
		return model.LimitOrder{}, false
	}
	order, ok := v.(model.LimitOrder)
	return order, ok
}

// OpenOrders lists every order still tracked as open.
func (s *Service) OpenOrders() []model.LimitOrder {
	items := s.open.Items()
	out := make([]model.LimitOrder, 0, len(items))
	for _, item := range items {
		if order, ok := item.Object.(model.LimitOrder); ok {
			out = append(out, order)
		}
	}
	return out
}

func (s *Service) track(order model.LimitOrder) {
	ttl := gocache.NoExpiration
	if order.Expiration > 0 {
		remaining := time.Unix(order.Expiration, 0).Sub(s.now())
		if remaining <= 0 {
			return
		}
		ttl = remaining
	}
	s.open.Set(orderKey(order.OrderHash), order, ttl)
}

func orderKey(orderHash string) string {
	return strings.ToLower(strings.TrimSpace(orderHash))
}

// classifyOrderBookStatus maps upstream statuses into domain errors; bodies
// of unclassifiable failures pass through verbatim so the caller sees what
// the book said.
func classifyOrderBookStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest:
		return domerr.Newf(domerr.CodeValidation, "order book rejected request: %s", strings.TrimSpace(string(body)))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domerr.New(domerr.CodeAuth, "order book authentication failed")
	case status == http.StatusNotFound:
		return domerr.New(domerr.CodeNotFound, "order not found")
	case status == http.StatusTooManyRequests:
		return domerr.New(domerr.CodeRateLimited, "order book rate limited request")
	default:
		return domerr.Newf(domerr.CodeProvider, "order book returned status %d: %s", status, strings.TrimSpace(string(body)))
	}
}

func validateParams(params CreateParams) error {
	if !common.IsHexAddress(params.MakerAsset) {
		return domerr.Newf(domerr.CodeValidation, "malformed maker asset %q", params.MakerAsset)
	}
	if !common.IsHexAddress(params.TakerAsset) {
		return domerr.Newf(domerr.CodeValidation, "malformed taker asset %q", params.TakerAsset)
	}
	if receiver := strings.TrimSpace(params.Receiver); receiver != "" && !common.IsHexAddress(receiver) {
		return domerr.Newf(domerr.CodeValidation, "malformed receiver %q", receiver)
	}
	if !validAmount(params.MakingAmount) || !validAmount(params.TakingAmount) {
		return domerr.New(domerr.CodeValidation, "making and taking amounts must be positive base-unit integers")
	}
	if params.Expiration < 0 {
		return domerr.New(domerr.CodeValidation, "expiration must be zero or a future unix timestamp")
	}
	return nil
}

func validAmount(v string) bool {
	n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	return ok && n.Sign() > 0
}

func newSalt() (*big.Int, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 96)
	salt, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeInternal, "generate order salt", err)
	}
	return salt, nil
}

func makerTraits(params CreateParams) *big.Int {
	traits := new(big.Int)
	if params.Expiration > 0 {
		traits.Or(traits, new(big.Int).Lsh(big.NewInt(params.Expiration), expirationShift))
	}
	if !params.AllowPartialFill {
		traits.SetBit(traits, noPartialFillsBit, 1)
	}
	if params.AllowMultipleFills {
		traits.SetBit(traits, allowMultipleFillsBit, 1)
	}
	return traits
}

func typedData(chainID int64, order model.LimitOrder, traits *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": []apitypes.Type{
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "receiver", Type: "address"},
				{Name: "makerAsset", Type: "address"},
				{Name: "takerAsset", Type: "address"},
				{Name: "makingAmount", Type: "uint256"},
				{Name: "takingAmount", Type: "uint256"},
				{Name: "makerTraits", Type: "uint256"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: routerAddress,
		},
		Message: apitypes.TypedDataMessage{
			"salt":         order.Salt,
			"maker":        order.Maker,
			"receiver":     order.Receiver,
			"makerAsset":   order.MakerAsset,
			"takerAsset":   order.TakerAsset,
			"makingAmount": order.MakingAmount,
			"takingAmount": order.TakingAmount,
			"makerTraits":  traits.String(),
		},
	}
}
