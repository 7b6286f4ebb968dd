package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamStatus represents the lifecycle state of a stream record
type StreamStatus string

const (
	StreamStatusInactive  StreamStatus = "inactive"
	StreamStatusActive    StreamStatus = "active"
	StreamStatusCompleted StreamStatus = "completed"
	StreamStatusCancelled StreamStatus = "cancelled"
)

// FlowRateUnit is the time unit a flow rate is quoted in
type FlowRateUnit string

const (
	FlowRateUnitHour  FlowRateUnit = "hour"
	FlowRateUnitDay   FlowRateUnit = "day"
	FlowRateUnitWeek  FlowRateUnit = "week"
	FlowRateUnitMonth FlowRateUnit = "month"
)

// Seconds returns the length of the unit in seconds. A month is 30 days.
func (u FlowRateUnit) Seconds() int64 {
	switch u {
	case FlowRateUnitHour:
		return 3600
	case FlowRateUnitDay:
		return 86400
	case FlowRateUnitWeek:
		return 7 * 86400
	case FlowRateUnitMonth:
		return 30 * 86400
	}
	return 0
}

// Stream represents a continuous token flow opened (and possibly closed) on-chain
type Stream struct {
	ID                    uuid.UUID    `json:"id" db:"id"`
	TokenSymbol           TokenSymbol  `json:"tokenSymbol" db:"token_symbol"`
	PayrollName           string       `json:"payrollName" db:"payroll_name"`
	SenderWalletAddress   string       `json:"senderWalletAddress" db:"sender_wallet_address"`
	ReceiverWalletAddress string       `json:"receiverWalletAddress" db:"receiver_wallet_address"`
	ReceiverName          string       `json:"receiverName" db:"receiver_name"`
	StreamStatus          StreamStatus `json:"streamStatus" db:"stream_status"`
	StreamStartTime       time.Time    `json:"streamStartTime" db:"stream_start_time"`
	StreamEndTime         *time.Time   `json:"streamEndTime,omitempty" db:"stream_end_time"`
	Amount                string       `json:"amount" db:"amount"`
	FlowRate              string       `json:"flowRate" db:"flow_rate"`
	FlowRateUnit          FlowRateUnit `json:"flowRateUnit" db:"flow_rate_unit"`
	DocumentURL           *string      `json:"documentUrl,omitempty" db:"document_url"`
	StreamStartTxHash     string       `json:"streamStartTxHash" db:"stream_start_tx_hash"`
	StreamStoppedTxHash   *string      `json:"streamStoppedTxHash,omitempty" db:"stream_stopped_tx_hash"`
	InvoiceID             *uuid.UUID   `json:"invoiceId,omitempty" db:"invoice_id"`
	ChainID               string       `json:"chainId" db:"chain_id"`
	CreatedAt             time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time    `json:"updatedAt" db:"updated_at"`
}

// StreamWithInvoice is a Stream left-joined with its invoice
type StreamWithInvoice struct {
	Stream
	Invoice *Invoice `json:"invoice"`
}
