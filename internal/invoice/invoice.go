// Package invoice writes invoices inside the transaction of the record that references them.
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/drippay/backend/internal/models"
	"github.com/drippay/backend/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Columns is the select list used when an invoice is LEFT JOINed under alias "inv"
const Columns = "inv.id, inv.invoice_number, inv.document_url, inv.invoice_type, inv.invoice_status, inv.created_at"

// Insert creates a paid invoice of the given type. It must run inside the caller's
// transaction so the invoice and the record referencing it commit together.
func Insert(ctx context.Context, tx pgx.Tx, number, documentURL string, invoiceType models.InvoiceType) (*models.Invoice, error) {
	inv := &models.Invoice{
		InvoiceNumber: number,
		DocumentURL:   documentURL,
		InvoiceType:   invoiceType,
		InvoiceStatus: models.InvoiceStatusPaid,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO invoices (invoice_number, document_url, invoice_type, invoice_status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, number, documentURL, string(invoiceType), string(inv.InvoiceStatus)).Scan(&inv.ID, &inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	monitoring.RecordInvoiceCreated(string(invoiceType))
	return inv, nil
}

// Joined receives the nullable columns of a LEFT JOINed invoice
type Joined struct {
	id        *uuid.UUID
	number    *string
	docURL    *string
	invType   *string
	status    *string
	createdAt *time.Time
}

// Dest returns scan destinations matching Columns
func (j *Joined) Dest() []any {
	return []any{&j.id, &j.number, &j.docURL, &j.invType, &j.status, &j.createdAt}
}

// Invoice returns the joined invoice, or nil when the join found no row
func (j *Joined) Invoice() *models.Invoice {
	if j.id == nil {
		return nil
	}
	inv := &models.Invoice{ID: *j.id}
	if j.number != nil {
		inv.InvoiceNumber = *j.number
	}
	if j.docURL != nil {
		inv.DocumentURL = *j.docURL
	}
	if j.invType != nil {
		inv.InvoiceType = models.InvoiceType(*j.invType)
	}
	if j.status != nil {
		inv.InvoiceStatus = models.InvoiceStatus(*j.status)
	}
	if j.createdAt != nil {
		inv.CreatedAt = *j.createdAt
	}
	return inv
}
