package engine

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/model"
)

const testKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

type testSigner struct {
	address common.Address
	key     string
	signs   int
	reject  bool
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	pk, err := crypto.HexToECDSA(testKey)
	if err != nil {
		t.Fatalf("parse test key: %v", err)
	}
	return &testSigner{address: crypto.PubkeyToAddress(pk.PublicKey), key: testKey}
}

func (s *testSigner) Address() common.Address { return s.address }

func (s *testSigner) SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	s.signs++
	if s.reject {
		return nil, domerr.New(domerr.CodeUserRejected, "declined")
	}
	pk, _ := crypto.HexToECDSA(s.key)
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), pk)
}

func (s *testSigner) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	return nil, nil
}

type fakeBackend struct {
	mu        sync.Mutex
	chainID   int64
	allowance *big.Int
	sent      []*types.Transaction
	gate      chan struct{}
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return big.NewInt(b.chainID), nil
}

func (b *fakeBackend) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return new(big.Int).Set(b.allowance), nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (b *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) BaseFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}, nil
}

func (b *fakeBackend) Close() {}

func (b *fakeBackend) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

func dialFake(b *fakeBackend) BackendDialer {
	return func(ctx context.Context, chainID int64) (Backend, error) {
		return b, nil
	}
}

func testRoute(expiresIn time.Duration) model.RouteCandidate {
	return model.RouteCandidate{
		Provider:          "lifi",
		AmountOut:         "995000",
		AmountOutDecimals: 6,
		ExpiresAt:         time.Now().Add(expiresIn),
		Tx: &model.TxPayload{
			ChainID:         1,
			Target:          "0x1231deb6f5749ef6ce6943a275a1d3e7486f4eae",
			Data:            "0xdeadbeef",
			Value:           "0",
			ApprovalSpender: "0x1231deb6f5749ef6ce6943a275a1d3e7486f4eae",
		},
	}
}

func testEngine(b *fakeBackend) *Engine {
	return New(dialFake(b), nil, zerolog.Nop(), Options{
		PollInterval:   time.Millisecond,
		ConfirmTimeout: time.Second,
		GasMultiplier:  1.2,
	})
}

func drain(t *testing.T, x *Execution) []StatusUpdate {
	t.Helper()
	updates := make([]StatusUpdate, 0)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-x.Updates():
			if !ok {
				return updates
			}
			updates = append(updates, u)
		case <-deadline:
			t.Fatalf("timed out draining updates, got %+v", updates)
		}
	}
}

func TestExecuteRefusesExpiredQuote(t *testing.T) {
	s := newTestSigner(t)
	e := testEngine(&fakeBackend{chainID: 1, allowance: big.NewInt(0)})

	_, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      testRoute(-time.Second),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if domerr.CodeOf(err) != domerr.CodeExpiredQuote {
		t.Fatalf("expected expired_quote, got %v", err)
	}
	if s.signs != 0 {
		t.Fatalf("signer must not be contacted for an expired route")
	}
}

func TestExecuteRefusesRouteWithoutTx(t *testing.T) {
	s := newTestSigner(t)
	e := testEngine(&fakeBackend{chainID: 1, allowance: big.NewInt(0)})
	route := testRoute(time.Minute)
	route.Tx = nil

	_, err := e.Execute(context.Background(), ExecuteRequest{Route: route, FromAmount: "1"}, s)
	if domerr.CodeOf(err) != domerr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteHappyPathStagesForwardOnly(t *testing.T) {
	s := newTestSigner(t)
	backend := &fakeBackend{chainID: 1, allowance: big.NewInt(10_000_000)}
	e := testEngine(backend)

	x, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      testRoute(time.Minute),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	updates := drain(t, x)

	last := updates[len(updates)-1]
	if last.Stage != StageCompleted {
		t.Fatalf("expected completed, got %s (%s)", last.Stage, last.Message)
	}
	if last.TxHash == "" {
		t.Fatalf("completed update must carry the transaction hash")
	}
	prev := -1
	for _, u := range updates {
		rank, ok := stageRank[u.Stage]
		if !ok {
			t.Fatalf("unexpected stage %s", u.Stage)
		}
		if rank < prev {
			t.Fatalf("stage regression in %+v", updates)
		}
		prev = rank
	}
	// Allowance was sufficient, so only the route transaction went out.
	if backend.sentCount() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", backend.sentCount())
	}
}

func TestExecuteSubmitsApprovalWhenAllowanceLow(t *testing.T) {
	s := newTestSigner(t)
	backend := &fakeBackend{chainID: 1, allowance: big.NewInt(0)}
	e := testEngine(backend)

	x, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      testRoute(time.Minute),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	updates := drain(t, x)

	if updates[len(updates)-1].Stage != StageCompleted {
		t.Fatalf("expected completed, got %+v", updates[len(updates)-1])
	}
	if backend.sentCount() != 2 {
		t.Fatalf("expected approval plus route broadcast, got %d", backend.sentCount())
	}
	if s.signs != 2 {
		t.Fatalf("expected two signatures, got %d", s.signs)
	}
}

func TestExecuteSignerRejection(t *testing.T) {
	s := newTestSigner(t)
	s.reject = true
	backend := &fakeBackend{chainID: 1, allowance: big.NewInt(10_000_000)}
	e := testEngine(backend)

	x, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      testRoute(time.Minute),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	updates := drain(t, x)

	last := updates[len(updates)-1]
	if last.Stage != StageFailed {
		t.Fatalf("expected failed, got %s", last.Stage)
	}
	if last.Err != string(domerr.CodeUserRejected) {
		t.Fatalf("expected user_rejected, got %s", last.Err)
	}
	if backend.sentCount() != 0 {
		t.Fatalf("rejected signature must not broadcast")
	}
}

func TestCancelBeforeSigning(t *testing.T) {
	s := newTestSigner(t)
	backend := &fakeBackend{chainID: 1, allowance: big.NewInt(10_000_000), gate: make(chan struct{})}
	e := testEngine(backend)

	x, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      testRoute(time.Minute),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := x.Cancel(); err != nil {
		t.Fatalf("cancel before signing must be accepted: %v", err)
	}
	close(backend.gate)
	updates := drain(t, x)

	last := updates[len(updates)-1]
	if last.Stage != StageFailed {
		t.Fatalf("expected failed after cancellation, got %s", last.Stage)
	}
	if last.Err != string(domerr.CodeUserRejected) {
		t.Fatalf("expected user_rejected, got %s", last.Err)
	}
	if backend.sentCount() != 0 || s.signs != 0 {
		t.Fatalf("cancelled swap must not sign or broadcast")
	}
}

func TestCancelAfterSigningRejected(t *testing.T) {
	s := newTestSigner(t)
	backend := &fakeBackend{chainID: 1, allowance: big.NewInt(10_000_000)}
	e := testEngine(backend)

	x, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      testRoute(time.Minute),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	drain(t, x)

	if err := x.Cancel(); err == nil {
		t.Fatalf("cancel after signing must be rejected")
	}
}

type fakeSettlement struct {
	mu       sync.Mutex
	states   []SettlementState
	calls    int
	provider string
	from, to int64
}

func (f *fakeSettlement) Check(ctx context.Context, provider string, fromChainID, toChainID int64, txHash string) (SettlementState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provider, f.from, f.to = provider, fromChainID, toChainID
	i := f.calls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.calls++
	return f.states[i], nil
}

func bridgeRoute(expiresIn time.Duration) model.RouteCandidate {
	route := testRoute(expiresIn)
	route.Steps = []model.PathStep{{
		Kind:        model.StepKindBridge,
		Protocol:    "across",
		FromChainID: 1,
		ToChainID:   56,
		FromToken:   "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		ToToken:     "0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d",
	}}
	return route
}

func bridgeEngine(b *fakeBackend, checker SettlementChecker) *Engine {
	return New(dialFake(b), nil, zerolog.Nop(), Options{
		PollInterval:   time.Millisecond,
		ConfirmTimeout: time.Second,
		GasMultiplier:  1.2,
		Settlement:     checker,
	})
}

func TestExecuteBridgeWaitsForDestinationLeg(t *testing.T) {
	s := newTestSigner(t)
	backend := &fakeBackend{chainID: 1, allowance: big.NewInt(10_000_000)}
	checker := &fakeSettlement{states: []SettlementState{
		{Status: SettlementPending, Substatus: "WAIT_DESTINATION_TRANSACTION"},
		{Status: SettlementDone, Substatus: "COMPLETED", DestinationTxHash: "0xdest"},
	}}
	e := bridgeEngine(backend, checker)

	x, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      bridgeRoute(time.Minute),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	updates := drain(t, x)

	last := updates[len(updates)-1]
	if last.Stage != StageCompleted {
		t.Fatalf("expected completed, got %s (%s)", last.Stage, last.Message)
	}
	if checker.provider != "lifi" || checker.from != 1 || checker.to != 56 {
		t.Fatalf("settlement checked with wrong identity: %s %d->%d", checker.provider, checker.from, checker.to)
	}

	var sawInFlight, sawSettled bool
	settledIdx, completedIdx := -1, -1
	for i, u := range updates {
		if u.Leg == LegDestination && u.Substatus == "WAIT_DESTINATION_TRANSACTION" {
			sawInFlight = true
		}
		if u.Leg == LegDestination && u.Substatus == "COMPLETED" {
			sawSettled = true
			settledIdx = i
			if u.TxHash != "0xdest" {
				t.Fatalf("settled update must carry the destination hash, got %q", u.TxHash)
			}
		}
		if u.Stage == StageCompleted {
			completedIdx = i
		}
	}
	if !sawInFlight || !sawSettled {
		t.Fatalf("missing destination leg updates: %+v", updates)
	}
	if completedIdx < settledIdx {
		t.Fatalf("swap completed before the destination leg settled: %+v", updates)
	}
	if x.session.DestTxHash != "0xdest" {
		t.Fatalf("session must record the destination hash, got %q", x.session.DestTxHash)
	}
}

func TestExecuteBridgeSettlementFailureFailsSwap(t *testing.T) {
	s := newTestSigner(t)
	backend := &fakeBackend{chainID: 1, allowance: big.NewInt(10_000_000)}
	checker := &fakeSettlement{states: []SettlementState{
		{Status: SettlementFailed, Message: "insufficient liquidity on destination"},
	}}
	e := bridgeEngine(backend, checker)

	x, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      bridgeRoute(time.Minute),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	updates := drain(t, x)

	last := updates[len(updates)-1]
	if last.Stage != StageFailed {
		t.Fatalf("expected failed, got %s (%s)", last.Stage, last.Message)
	}
	if last.Err != string(domerr.CodeProvider) {
		t.Fatalf("expected provider code, got %s", last.Err)
	}
	if !strings.Contains(last.Message, "insufficient liquidity") {
		t.Fatalf("failure must surface the bridge's reason, got %q", last.Message)
	}
}

func TestExecuteBridgeSettlementTimeout(t *testing.T) {
	s := newTestSigner(t)
	backend := &fakeBackend{chainID: 1, allowance: big.NewInt(10_000_000)}
	checker := &fakeSettlement{states: []SettlementState{{Status: SettlementPending}}}
	e := New(dialFake(backend), nil, zerolog.Nop(), Options{
		PollInterval:   time.Millisecond,
		ConfirmTimeout: 50 * time.Millisecond,
		GasMultiplier:  1.2,
		Settlement:     checker,
	})

	x, err := e.Execute(context.Background(), ExecuteRequest{
		Route:      bridgeRoute(time.Minute),
		FromToken:  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		FromAmount: "1000000",
	}, s)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	updates := drain(t, x)

	last := updates[len(updates)-1]
	if last.Stage != StageFailed {
		t.Fatalf("non-arriving transfer must fail, got %s", last.Stage)
	}
	if last.Err != string(domerr.CodeNetwork) {
		t.Fatalf("expected network code for a stuck transfer, got %s", last.Err)
	}
}
