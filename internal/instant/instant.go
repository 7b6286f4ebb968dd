package instant

import (
	"context"
	"errors"
	"fmt"

	"github.com/drippay/backend/internal/database"
	"github.com/drippay/backend/internal/invoice"
	"github.com/drippay/backend/internal/models"
	"github.com/drippay/backend/internal/monitoring"
	"github.com/drippay/backend/internal/submission"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service errors
var (
	ErrInstantNotFound = errors.New("instant transfer not found")
	ErrInvalidRequest  = errors.New("invalid instant request")
)

const instantColumns = "i.id, i.token_symbol, i.payroll_name, i.sender_wallet_address, i.receiver_wallet_address, " +
	"i.receiver_name, i.amount, i.chain_id, i.tx_hash, i.invoice_id, i.created_at"

// Service handles instant transfer records
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new instant service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// CreateRequest records a transfer that already executed on-chain
type CreateRequest struct {
	TokenSymbol           string `json:"tokenSymbol" binding:"required,token"`
	InvoiceNumber         string `json:"invoiceNumber" binding:"required"`
	TxHash                string `json:"txHash" binding:"required,txhash"`
	PayrollName           string `json:"payrollName" binding:"required"`
	SenderWalletAddress   string `json:"senderWalletAddress" binding:"required,evmaddr"`
	ReceiverWalletAddress string `json:"receiverWalletAddress" binding:"required,evmaddr"`
	ReceiverName          string `json:"receiverName" binding:"required"`
	Amount                string `json:"amount" binding:"required,uintstr"`
	ChainID               string `json:"chainId" binding:"required,chainid"`
	DocumentURL           string `json:"documentUrl" binding:"required"`
}

func scanInstant(row pgx.Row, extra ...any) (*models.Instant, error) {
	var i models.Instant
	var token string
	dest := append([]any{&i.ID, &token, &i.PayrollName, &i.SenderWalletAddress, &i.ReceiverWalletAddress,
		&i.ReceiverName, &i.Amount, &i.ChainID, &i.TxHash, &i.InvoiceID, &i.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	i.TokenSymbol = models.TokenSymbol(token)
	return &i, nil
}

// Create writes an instant invoice and the instant row in one transaction. Retrying with an
// already recorded (chainId, txHash) returns the existing row; the bool reports whether a row
// was created.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.Instant, bool, error) {
	if !models.TokenSymbol(req.TokenSymbol).Valid() {
		return nil, false, fmt.Errorf("%w: unsupported token %q", ErrInvalidRequest, req.TokenSymbol)
	}

	existing, err := s.GetByTxHash(ctx, req.ChainID, req.TxHash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrInstantNotFound) {
		return nil, false, err
	}

	created, err := s.insert(ctx, req)
	if err != nil {
		// A concurrent retry committed first
		if constraint, ok := database.UniqueViolation(err); ok && constraint == "instants_chain_tx_key" {
			existing, getErr := s.GetByTxHash(ctx, req.ChainID, req.TxHash)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	monitoring.RecordRecordCreated("instant", req.TokenSymbol)
	return created, true, nil
}

func (s *Service) insert(ctx context.Context, req *CreateRequest) (*models.Instant, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inv, err := invoice.Insert(ctx, tx, req.InvoiceNumber, req.DocumentURL, models.InvoiceTypeInstant)
	if err != nil {
		return nil, err
	}

	created, err := scanInstant(tx.QueryRow(ctx, `
		INSERT INTO instants AS i (token_symbol, payroll_name, sender_wallet_address, receiver_wallet_address,
			receiver_name, amount, chain_id, tx_hash, invoice_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+instantColumns,
		req.TokenSymbol, req.PayrollName, req.SenderWalletAddress, req.ReceiverWalletAddress,
		req.ReceiverName, req.Amount, req.ChainID, req.TxHash, inv.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert instant: %w", err)
	}

	if err := submission.MarkRecordedTx(ctx, tx, req.ChainID, req.TxHash); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

// GetByTxHash returns the instant recorded for (chainId, txHash)
func (s *Service) GetByTxHash(ctx context.Context, chainID, txHash string) (*models.Instant, error) {
	i, err := scanInstant(s.db.QueryRow(ctx,
		`SELECT `+instantColumns+` FROM instants i WHERE i.chain_id = $1 AND LOWER(i.tx_hash) = LOWER($2)`,
		chainID, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstantNotFound
		}
		return nil, fmt.Errorf("failed to get instant: %w", err)
	}
	return i, nil
}

// List returns the instants where address is the sender or receiver on chainID, newest first,
// each with its invoice (nil when absent)
func (s *Service) List(ctx context.Context, address string, dir models.Direction, chainID string) ([]models.InstantWithInvoice, error) {
	column := "i.sender_wallet_address"
	if dir == models.DirectionReceiver {
		column = "i.receiver_wallet_address"
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+instantColumns+`, `+invoice.Columns+`
		FROM instants i
		LEFT JOIN invoices inv ON inv.id = i.invoice_id
		WHERE LOWER(`+column+`) = LOWER($1) AND i.chain_id = $2
		ORDER BY i.created_at DESC
	`, address, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instants: %w", err)
	}
	defer rows.Close()

	out := []models.InstantWithInvoice{}
	for rows.Next() {
		var joined invoice.Joined
		i, err := scanInstant(rows, joined.Dest()...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instant: %w", err)
		}
		out = append(out, models.InstantWithInvoice{Instant: *i, Invoice: joined.Invoice()})
	}
	return out, rows.Err()
}
