package models

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceType represents what kind of payment an invoice bills
type InvoiceType string

const (
	InvoiceTypeStream  InvoiceType = "stream"
	InvoiceTypeInstant InvoiceType = "instant"
)

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaying  InvoiceStatus = "paying"
	InvoiceStatusPaid    InvoiceStatus = "paid"
	InvoiceStatusFailed  InvoiceStatus = "failed"
)

// Invoice represents a billing record linked to an instant transfer or a closed stream
type Invoice struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	InvoiceNumber string        `json:"invoiceNumber" db:"invoice_number"`
	DocumentURL   string        `json:"documentUrl" db:"document_url"`
	InvoiceType   InvoiceType   `json:"invoiceType" db:"invoice_type"`
	InvoiceStatus InvoiceStatus `json:"invoiceStatus" db:"invoice_status"`
	CreatedAt     time.Time     `json:"createdAt" db:"created_at"`
}
