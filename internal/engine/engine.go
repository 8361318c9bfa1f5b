package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	domerr "github.com/ggonzalez94/route-engine/internal/errors"
	"github.com/ggonzalez94/route-engine/internal/httpx"
	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/signer"
)

const nativeTokenSentinel = "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee"

type Options struct {
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	GasMultiplier  float64
	// Settlement tracks the destination leg of bridge routes; nil installs
	// the HTTP checker against the providers' public status endpoints.
	Settlement SettlementChecker
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   2 * time.Second,
		ConfirmTimeout: 3 * time.Minute,
		GasMultiplier:  1.2,
	}
}

// Engine drives one selected route through approval, signing, submission and
// confirmation. Each Execute call owns its session exclusively; sessions for
// different calls share nothing but the store.
type Engine struct {
	dial       BackendDialer
	store      *Store
	settlement SettlementChecker
	log        zerolog.Logger
	opts       Options
	now        func() time.Time
}

func New(dial BackendDialer, store *Store, log zerolog.Logger, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 3 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if opts.Settlement == nil {
		opts.Settlement = NewSettlementChecker(httpx.New(10*time.Second, 2), nil)
	}
	return &Engine{dial: dial, store: store, settlement: opts.Settlement, log: log, opts: opts, now: time.Now}
}

// ExecuteRequest names the route to run plus the input-side facts the route
// itself does not carry.
type ExecuteRequest struct {
	Route      model.RouteCandidate
	FromToken  string
	FromAmount string
}

// Execution is a handle on one running swap. Updates yields ordered state
// snapshots and is closed when a terminal stage is reached.
type Execution struct {
	session *Session
	updates chan StatusUpdate

	mu              sync.Mutex
	cancelRequested bool
	signingStarted  bool
}

func (x *Execution) Updates() <-chan StatusUpdate { return x.updates }

func (x *Execution) SessionID() string { return x.session.ID }

// Cancel requests a stop. It is honored only while the swap is still in
// preparing or approving; once the route's signature has been requested the
// action may already be irrevocable and cancellation is rejected.
func (x *Execution) Cancel() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.signingStarted {
		return domerr.New(domerr.CodeValidation, "cancellation rejected: signing has already been requested")
	}
	x.cancelRequested = true
	return nil
}

func (x *Execution) cancelled() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cancelRequested
}

func (x *Execution) markSigning() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.cancelRequested {
		return domerr.New(domerr.CodeUserRejected, "swap cancelled by caller")
	}
	x.signingStarted = true
	return nil
}

// Execute refuses expired or malformed routes synchronously, without ever
// contacting the signer, then runs the state machine in the background.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest, txSigner signer.Signer) (*Execution, error) {
	if txSigner == nil {
		return nil, domerr.New(domerr.CodeInternal, "missing signer")
	}
	if req.Route.Tx == nil {
		return nil, domerr.New(domerr.CodeValidation, "route has no executable transaction payload")
	}
	if !e.now().Before(req.Route.ExpiresAt) {
		return nil, domerr.Newf(domerr.CodeExpiredQuote, "route expired at %s; request a fresh quote", req.Route.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if _, ok := new(big.Int).SetString(strings.TrimSpace(req.FromAmount), 10); !ok {
		return nil, domerr.Newf(domerr.CodeValidation, "invalid input amount %q", req.FromAmount)
	}

	now := e.now().UTC()
	session := &Session{
		ID:         NewSessionID(),
		Route:      req.Route,
		Sender:     txSigner.Address().Hex(),
		FromToken:  req.FromToken,
		FromAmount: req.FromAmount,
		Stage:      StagePreparing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	x := &Execution{session: session, updates: make(chan StatusUpdate, 16)}

	go e.run(ctx, x, txSigner)
	return x, nil
}

func (e *Engine) run(ctx context.Context, x *Execution, txSigner signer.Signer) {
	defer close(x.updates)

	session := x.session
	e.emit(x, StagePreparing, "checking route preconditions", "")

	backend, err := e.dial(ctx, session.Route.Tx.ChainID)
	if err != nil {
		e.fail(x, err)
		return
	}
	defer backend.Close()

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		e.fail(x, domerr.Wrap(domerr.CodeNetwork, "read chain id", err))
		return
	}
	if chainID.Int64() != session.Route.Tx.ChainID {
		e.fail(x, domerr.Newf(domerr.CodeValidation, "rpc chain id %d does not match route chain %d", chainID.Int64(), session.Route.Tx.ChainID))
		return
	}
	if x.cancelled() {
		e.fail(x, domerr.New(domerr.CodeUserRejected, "swap cancelled by caller"))
		return
	}

	// Allowance is only a concern for ERC-20 inputs with a designated
	// spender; native-coin inputs move as transaction value.
	e.emit(x, StageApproving, "verifying token allowance", "")
	if err := e.ensureAllowance(ctx, x, backend, txSigner, chainID); err != nil {
		e.fail(x, err)
		return
	}

	if err := x.markSigning(); err != nil {
		e.fail(x, err)
		return
	}
	e.emit(x, StageSigning, "requesting route transaction signature", "")
	signed, err := e.buildAndSign(ctx, backend, txSigner, chainID, session)
	if err != nil {
		e.fail(x, err)
		return
	}
	session.TxHash = signed.Hash().Hex()

	e.emit(x, StageSubmitting, "broadcasting transaction", session.TxHash)
	if err := backend.SendTransaction(ctx, signed); err != nil {
		e.fail(x, domerr.Wrap(domerr.CodeNetwork, "broadcast transaction", err))
		return
	}

	bridge := bridgeLeg(session.Route)
	confirmLeg := ""
	if bridge != nil {
		confirmLeg = LegSource
	}
	e.emitLeg(x, StageConfirming, confirmLeg, "", "waiting for confirmation", session.TxHash)
	if err := e.awaitReceipt(ctx, x, backend, signed.Hash()); err != nil {
		e.fail(x, err)
		return
	}

	// A source receipt completes a same-chain swap. A bridge route is done
	// only once the provider reports funds on the destination chain.
	if bridge != nil {
		e.emitLeg(x, StageConfirming, LegSource, "", "source transaction confirmed", session.TxHash)
		if err := e.awaitSettlement(ctx, x, *bridge); err != nil {
			e.fail(x, err)
			return
		}
	}

	e.emit(x, StageCompleted, "swap confirmed on-chain", session.TxHash)
	e.log.Info().
		Str("session", session.ID).
		Str("provider", session.Route.Provider).
		Str("tx", session.TxHash).
		Str("destination_tx", session.DestTxHash).
		Msg("swap completed")
}

// bridgeLeg returns the route's first cross-chain step, if any.
func bridgeLeg(route model.RouteCandidate) *model.PathStep {
	for i := range route.Steps {
		step := route.Steps[i]
		if step.Kind == model.StepKindBridge || step.FromChainID != step.ToChainID {
			return &route.Steps[i]
		}
	}
	return nil
}

// awaitSettlement polls the provider's status endpoint for the destination
// leg of a bridge transfer, emitting a substatus update on every change. A
// reported failure or a transfer that never arrives inside the confirmation
// bound fails the swap instead of declaring it complete.
func (e *Engine) awaitSettlement(ctx context.Context, x *Execution, leg model.PathStep) error {
	session := x.session
	e.emitLeg(x, StageConfirming, LegDestination, SettlementPending,
		fmt.Sprintf("waiting for funds on chain %d", leg.ToChainID), "")

	lastSub := ""
	var permErr error
	operation := func() (SettlementState, error) {
		state, err := e.settlement.Check(ctx, session.Route.Provider, leg.FromChainID, leg.ToChainID, session.TxHash)
		if err != nil {
			if domerr.CodeOf(err) == domerr.CodeUnsupported {
				permErr = err
				return SettlementState{}, backoff.Permanent(err)
			}
			// Transient status failures keep polling until the bound.
			return SettlementState{}, err
		}
		switch state.Status {
		case SettlementDone:
			return state, nil
		case SettlementFailed:
			msg := state.Message
			if msg == "" {
				msg = "bridge reported the transfer as failed"
			}
			permErr = domerr.Newf(domerr.CodeProvider, "bridge settlement failed: %s", msg)
			return SettlementState{}, backoff.Permanent(permErr)
		default:
			if state.Substatus != "" && state.Substatus != lastSub {
				lastSub = state.Substatus
				e.emitLeg(x, StageConfirming, LegDestination, state.Substatus, "bridge transfer in flight", "")
			}
			return SettlementState{}, domerr.New(domerr.CodeNetwork, "bridge settlement pending")
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.PollInterval
	b.MaxInterval = 15 * time.Second

	state, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(e.opts.ConfirmTimeout),
	)
	if err != nil {
		if permErr != nil {
			return permErr
		}
		e.emitLeg(x, StageConfirming, LegDestination, SettlementPending,
			"bridge transfer stuck: no settlement within bound", "")
		return domerr.Wrap(domerr.CodeNetwork, "bridge settlement not confirmed within bound", err)
	}

	session.DestTxHash = state.DestinationTxHash
	sub := state.Substatus
	if sub == "" {
		sub = SettlementDone
	}
	e.emitLeg(x, StageConfirming, LegDestination, sub, "destination transfer confirmed", state.DestinationTxHash)
	return nil
}

func (e *Engine) ensureAllowance(ctx context.Context, x *Execution, backend Backend, txSigner signer.Signer, chainID *big.Int) error {
	session := x.session
	spender := strings.TrimSpace(session.Route.Tx.ApprovalSpender)
	token := strings.ToLower(strings.TrimSpace(session.FromToken))
	if spender == "" || token == "" || token == nativeTokenSentinel || token == nativeZeroAddress {
		return nil
	}

	required, _ := new(big.Int).SetString(session.FromAmount, 10)
	tokenAddr := common.HexToAddress(token)
	spenderAddr := common.HexToAddress(spender)
	owner := txSigner.Address()

	allowance, err := backend.Allowance(ctx, tokenAddr, owner, spenderAddr)
	if err != nil {
		return err
	}
	if allowance.Cmp(required) >= 0 {
		return nil
	}
	if x.cancelled() {
		return domerr.New(domerr.CodeUserRejected, "swap cancelled by caller")
	}

	e.emit(x, StageApproving, fmt.Sprintf("approving %s for spender %s", session.FromAmount, spender), "")
	data, err := PackApprove(spenderAddr, required)
	if err != nil {
		return err
	}
	signed, err := e.signTx(ctx, backend, txSigner, chainID, tokenAddr, big.NewInt(0), data)
	if err != nil {
		return err
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return domerr.Wrap(domerr.CodeNetwork, "broadcast approval", err)
	}
	session.ApprovalHash = signed.Hash().Hex()
	e.emit(x, StageApproving, "waiting for approval confirmation", session.ApprovalHash)
	return e.awaitReceipt(ctx, x, backend, signed.Hash())
}

func (e *Engine) buildAndSign(ctx context.Context, backend Backend, txSigner signer.Signer, chainID *big.Int, session *Session) (*types.Transaction, error) {
	target := common.HexToAddress(session.Route.Tx.Target)
	data, err := decodeHex(session.Route.Tx.Data)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeValidation, "decode route calldata", err)
	}
	value, ok := new(big.Int).SetString(session.Route.Tx.Value, 10)
	if !ok {
		return nil, domerr.New(domerr.CodeValidation, "invalid route transaction value")
	}
	return e.signTx(ctx, backend, txSigner, chainID, target, value, data)
}

func (e *Engine) signTx(ctx context.Context, backend Backend, txSigner signer.Signer, chainID *big.Int, to common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	msg := ethereum.CallMsg{From: txSigner.Address(), To: &to, Value: value, Data: data}
	gasLimit, err := backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeProvider, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * e.opts.GasMultiplier)

	tipCap, err := backend.SuggestGasTipCap(ctx)
	if err != nil {
		tipCap = big.NewInt(2_000_000_000)
	}
	baseFee, err := backend.BaseFee(ctx)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeNetwork, "fetch base fee", err)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)

	nonce, err := backend.PendingNonceAt(ctx, txSigner.Address())
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeNetwork, "fetch nonce", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		return nil, domerr.Wrap(domerr.CodeUserRejected, "signer declined transaction", err)
	}
	return signed, nil
}

// awaitReceipt polls for inclusion with exponential backoff. When no receipt
// lands inside the confirmation bound the swap is surfaced as stuck instead
// of being retried forever.
func (e *Engine) awaitReceipt(ctx context.Context, x *Execution, backend Backend, hash common.Hash) error {
	operation := func() (*types.Receipt, error) {
		// ethereum.NotFound and transient RPC failures both keep polling
		// until the bound.
		return backend.TransactionReceipt(ctx, hash)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.PollInterval
	b.MaxInterval = 15 * time.Second

	receipt, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(e.opts.ConfirmTimeout),
	)
	if err != nil {
		e.emit(x, StageConfirming, "transaction stuck: no confirmation within bound", hash.Hex())
		return domerr.Wrap(domerr.CodeNetwork, "transaction not confirmed within bound", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domerr.New(domerr.CodeProvider, "transaction reverted on-chain")
	}
	return nil
}

func (e *Engine) emit(x *Execution, stage Stage, message, txHash string) {
	e.emitLeg(x, stage, "", "", message, txHash)
}

func (e *Engine) emitLeg(x *Execution, stage Stage, leg, substatus, message, txHash string) {
	session := x.session
	if rank, ok := stageRank[stage]; ok {
		if current, ok := stageRank[session.Stage]; ok && rank < current {
			// Transitions never regress.
			return
		}
	}
	session.Stage = stage
	session.Message = message
	// The session's TxHash is always the source-chain transaction; a hash
	// reported for the destination leg rides only on the update.
	if txHash != "" && leg != LegDestination {
		session.TxHash = txHash
	}
	if substatus != "" {
		session.Settlement = substatus
	}
	session.UpdatedAt = e.now().UTC()
	e.persist(session)

	update := StatusUpdate{Stage: stage, Leg: leg, Substatus: substatus, Message: message, TxHash: txHash, At: session.UpdatedAt}
	select {
	case x.updates <- update:
	default:
		// A slow consumer drops intermediate snapshots, never blocks the swap.
	}
}

func (e *Engine) fail(x *Execution, err error) {
	session := x.session
	session.Stage = StageFailed
	session.Message = err.Error()
	session.Error = string(domerr.CodeOf(err))
	session.UpdatedAt = e.now().UTC()
	e.persist(session)
	e.log.Warn().Str("session", session.ID).Err(err).Msg("swap failed")

	update := StatusUpdate{Stage: StageFailed, Message: err.Error(), Err: string(domerr.CodeOf(err)), At: session.UpdatedAt, TxHash: session.TxHash}
	select {
	case x.updates <- update:
	default:
	}
}

func (e *Engine) persist(session *Session) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(*session); err != nil {
		e.log.Warn().Str("session", session.ID).Err(err).Msg("persist session failed")
	}
}

const nativeZeroAddress = "0x0000000000000000000000000000000000000000"

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	clean = strings.TrimPrefix(clean, "0X")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
