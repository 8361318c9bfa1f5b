package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ggonzalez94/route-engine/internal/model"
)

type Stage string

const (
	StagePreparing  Stage = "preparing"
	StageApproving  Stage = "approving"
	StageSigning    Stage = "signing"
	StageSubmitting Stage = "submitting"
	StageConfirming Stage = "confirming"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// stageRank orders stages so transitions can be checked as forward-only.
// StageFailed is terminal and reachable from anywhere.
var stageRank = map[Stage]int{
	StagePreparing:  0,
	StageApproving:  1,
	StageSigning:    2,
	StageSubmitting: 3,
	StageConfirming: 4,
	StageCompleted:  5,
}

// Legs of a cross-chain route. Same-chain swaps have no leg labels; bridge
// routes confirm the source leg first and then track the destination leg
// through the provider's settlement status.
const (
	LegSource      = "source"
	LegDestination = "destination"
)

// StatusUpdate is one emitted state snapshot. Err carries the failure code
// and message when Stage is failed. Leg and Substatus are set while a bridge
// route waits for its destination leg.
type StatusUpdate struct {
	Stage     Stage     `json:"stage"`
	Leg       string    `json:"leg,omitempty"`
	Substatus string    `json:"substatus,omitempty"`
	Message   string    `json:"message"`
	TxHash    string    `json:"txHash,omitempty"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Session is the persisted record of one swap execution. The engine mutates
// a session strictly sequentially; there is no concurrent access to a single
// session.
type Session struct {
	ID           string               `json:"id"`
	Route        model.RouteCandidate `json:"route"`
	Sender       string               `json:"sender"`
	FromToken    string               `json:"fromToken"`
	FromAmount   string               `json:"fromAmount"`
	Stage        Stage                `json:"stage"`
	Message      string               `json:"message,omitempty"`
	ApprovalHash string               `json:"approvalHash,omitempty"`
	TxHash       string               `json:"txHash,omitempty"`
	Settlement   string               `json:"settlement,omitempty"`
	DestTxHash   string               `json:"destinationTxHash,omitempty"`
	Error        string               `json:"error,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func NewSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "swap-unknown"
	}
	return fmt.Sprintf("swap_%s", hex.EncodeToString(b))
}
