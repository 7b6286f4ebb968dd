package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubmissionKind identifies which record a journaled on-chain transaction will produce
type SubmissionKind string

const (
	SubmissionKindInstant     SubmissionKind = "instant"
	SubmissionKindStreamStart SubmissionKind = "stream_start"
	SubmissionKindStreamStop  SubmissionKind = "stream_stop"
)

// SubmissionStatus represents the reconciliation state of a submission
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "pending"
	SubmissionStatusRecorded SubmissionStatus = "recorded"
	SubmissionStatusFailed   SubmissionStatus = "failed"
)

// Submission journals an on-chain transaction the client submitted, together with the
// request body it intends to post once the transaction confirms.
type Submission struct {
	ID        uuid.UUID        `json:"id" db:"id"`
	Kind      SubmissionKind   `json:"kind" db:"kind"`
	ChainID   string           `json:"chainId" db:"chain_id"`
	TxHash    string           `json:"txHash" db:"tx_hash"`
	PrivyID   string           `json:"privyId" db:"privy_id"`
	Payload   json.RawMessage  `json:"payload" db:"payload"`
	Status    SubmissionStatus `json:"status" db:"status"`
	Attempts  int              `json:"attempts" db:"attempts"`
	LastError *string          `json:"lastError,omitempty" db:"last_error"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time        `json:"updatedAt" db:"updated_at"`
}
