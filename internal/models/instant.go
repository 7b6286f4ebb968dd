package models

import (
	"time"

	"github.com/google/uuid"
)

// Instant represents a completed one-time transfer already executed on-chain
type Instant struct {
	ID                    uuid.UUID   `json:"id" db:"id"`
	TokenSymbol           TokenSymbol `json:"tokenSymbol" db:"token_symbol"`
	PayrollName           string      `json:"payrollName" db:"payroll_name"`
	SenderWalletAddress   string      `json:"senderWalletAddress" db:"sender_wallet_address"`
	ReceiverWalletAddress string      `json:"receiverWalletAddress" db:"receiver_wallet_address"`
	ReceiverName          string      `json:"receiverName" db:"receiver_name"`
	Amount                string      `json:"amount" db:"amount"`
	ChainID               string      `json:"chainId" db:"chain_id"`
	TxHash                string      `json:"txHash" db:"tx_hash"`
	InvoiceID             *uuid.UUID  `json:"invoiceId" db:"invoice_id"`
	CreatedAt             time.Time   `json:"createdAt" db:"created_at"`
}

// InstantWithInvoice is an Instant left-joined with its invoice
type InstantWithInvoice struct {
	Instant
	Invoice *Invoice `json:"invoice"`
}
