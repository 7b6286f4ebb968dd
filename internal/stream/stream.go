package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drippay/backend/internal/database"
	"github.com/drippay/backend/internal/invoice"
	"github.com/drippay/backend/internal/models"
	"github.com/drippay/backend/internal/monitoring"
	"github.com/drippay/backend/internal/submission"
	"github.com/drippay/backend/internal/user"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service errors
var (
	ErrStreamNotFound  = errors.New("stream not found")
	ErrSenderNotFound  = errors.New("no user registered for sender wallet")
	ErrNotOwner        = errors.New("identity does not own the sender wallet")
	ErrAlreadyStopped  = errors.New("stream already stopped with a different transaction")
	ErrStreamCancelled = errors.New("stream was cancelled")
	ErrInvalidRequest  = errors.New("invalid stream request")
	ErrChainMismatch   = errors.New("stream was started on a different chain")
)

const streamColumns = "s.id, s.token_symbol, s.payroll_name, s.sender_wallet_address, s.receiver_wallet_address, " +
	"s.receiver_name, s.stream_status, s.stream_start_time, s.stream_end_time, s.amount, s.flow_rate, " +
	"s.flow_rate_unit, s.document_url, s.stream_start_tx_hash, s.stream_stopped_tx_hash, s.invoice_id, " +
	"s.chain_id, s.created_at, s.updated_at"

// UserLookup resolves the user registered for a wallet address
type UserLookup interface {
	GetByWalletAddress(ctx context.Context, address string) (*models.User, error)
}

// Service handles stream records
type Service struct {
	db    *pgxpool.Pool
	users UserLookup
}

// NewService creates a new stream service
func NewService(db *pgxpool.Pool, users UserLookup) *Service {
	return &Service{db: db, users: users}
}

// CreateRequest records a flow opened on-chain
type CreateRequest struct {
	TokenSymbol           string     `json:"tokenSymbol" binding:"required,token"`
	PayrollName           string     `json:"payrollName" binding:"required"`
	SenderWalletAddress   string     `json:"senderWalletAddress" binding:"required,evmaddr"`
	ReceiverWalletAddress string     `json:"receiverWalletAddress" binding:"required,evmaddr"`
	ReceiverName          string     `json:"receiverName" binding:"required"`
	StreamStartTime       *time.Time `json:"streamStartTime" binding:"required"`
	Amount                string     `json:"amount" binding:"required,uintstr"`
	FlowRate              string     `json:"flowRate" binding:"required,uintstr"`
	FlowRateUnit          string     `json:"flowRateUnit" binding:"required,oneof=hour day week month"`
	DocumentURL           *string    `json:"documentUrl,omitempty"`
	StreamStartTxHash     string     `json:"streamStartTxHash" binding:"required,txhash"`
	ChainID               string     `json:"chainId" binding:"required,chainid"`
}

// StopRequest records a flow closed on-chain
type StopRequest struct {
	ID                  uuid.UUID  `json:"id" binding:"required"`
	StreamEndTime       *time.Time `json:"streamEndTime" binding:"required"`
	StreamStoppedTxHash string     `json:"streamStoppedTxHash" binding:"required,txhash"`
	DocumentURL         string     `json:"documentUrl" binding:"required"`
	InvoiceNumber       string     `json:"invoiceNumber" binding:"required"`
	// ChainID, when set, must match the chain the stream was started on
	ChainID string `json:"chainId,omitempty" binding:"omitempty,chainid"`
}

func scanStream(row pgx.Row, extra ...any) (*models.Stream, error) {
	var st models.Stream
	var token, status, unit string
	dest := append([]any{&st.ID, &token, &st.PayrollName, &st.SenderWalletAddress, &st.ReceiverWalletAddress,
		&st.ReceiverName, &status, &st.StreamStartTime, &st.StreamEndTime, &st.Amount, &st.FlowRate,
		&unit, &st.DocumentURL, &st.StreamStartTxHash, &st.StreamStoppedTxHash, &st.InvoiceID,
		&st.ChainID, &st.CreatedAt, &st.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	st.TokenSymbol = models.TokenSymbol(token)
	st.StreamStatus = models.StreamStatus(status)
	st.FlowRateUnit = models.FlowRateUnit(unit)
	return &st, nil
}

// authorize checks that identity is the registered owner of the sender wallet
func (s *Service) authorize(ctx context.Context, identity, sender string) error {
	owner, err := s.users.GetByWalletAddress(ctx, sender)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return ErrSenderNotFound
		}
		return err
	}
	if owner.PrivyID != identity {
		return ErrNotOwner
	}
	return nil
}

// Create persists an active stream for a sender wallet owned by identity. Retrying with an
// already recorded (chainId, streamStartTxHash) returns the existing row; the bool reports
// whether a row was created.
func (s *Service) Create(ctx context.Context, identity string, req *CreateRequest) (*models.Stream, bool, error) {
	if !models.TokenSymbol(req.TokenSymbol).Valid() {
		return nil, false, fmt.Errorf("%w: unsupported token %q", ErrInvalidRequest, req.TokenSymbol)
	}
	if req.StreamStartTime == nil {
		return nil, false, fmt.Errorf("%w: streamStartTime is required", ErrInvalidRequest)
	}

	if err := s.authorize(ctx, identity, req.SenderWalletAddress); err != nil {
		return nil, false, err
	}

	existing, err := s.GetByStartTxHash(ctx, req.ChainID, req.StreamStartTxHash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrStreamNotFound) {
		return nil, false, err
	}

	created, err := s.insert(ctx, req)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok && constraint == "streams_chain_start_tx_key" {
			existing, getErr := s.GetByStartTxHash(ctx, req.ChainID, req.StreamStartTxHash)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	monitoring.RecordRecordCreated("stream", req.TokenSymbol)
	return created, true, nil
}

func (s *Service) insert(ctx context.Context, req *CreateRequest) (*models.Stream, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := scanStream(tx.QueryRow(ctx, `
		INSERT INTO streams AS s (token_symbol, payroll_name, sender_wallet_address, receiver_wallet_address,
			receiver_name, stream_status, stream_start_time, amount, flow_rate, flow_rate_unit, document_url,
			stream_start_tx_hash, chain_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+streamColumns,
		req.TokenSymbol, req.PayrollName, req.SenderWalletAddress, req.ReceiverWalletAddress,
		req.ReceiverName, string(models.StreamStatusActive), *req.StreamStartTime, req.Amount, req.FlowRate,
		req.FlowRateUnit, req.DocumentURL, req.StreamStartTxHash, req.ChainID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert stream: %w", err)
	}

	if err := submission.MarkRecordedTx(ctx, tx, req.ChainID, req.StreamStartTxHash); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

// GetByStartTxHash returns the stream opened by (chainId, startTxHash)
func (s *Service) GetByStartTxHash(ctx context.Context, chainID, txHash string) (*models.Stream, error) {
	st, err := scanStream(s.db.QueryRow(ctx,
		`SELECT `+streamColumns+` FROM streams s WHERE s.chain_id = $1 AND LOWER(s.stream_start_tx_hash) = LOWER($2)`,
		chainID, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStreamNotFound
		}
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	return st, nil
}

// Stop closes a stream owned by identity: a stream invoice is inserted and the stream is
// marked completed in one transaction. Repeating a stop with the same transaction hash
// returns the stream unchanged.
func (s *Service) Stop(ctx context.Context, identity string, req *StopRequest) (*models.Stream, error) {
	if req.StreamEndTime == nil {
		return nil, fmt.Errorf("%w: streamEndTime is required", ErrInvalidRequest)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanStream(tx.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams s WHERE s.id = $1 FOR UPDATE`, req.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStreamNotFound
		}
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	if err := s.authorize(ctx, identity, current.SenderWalletAddress); err != nil {
		if errors.Is(err, ErrSenderNotFound) {
			return nil, ErrNotOwner
		}
		return nil, err
	}

	if req.ChainID != "" && req.ChainID != current.ChainID {
		return nil, ErrChainMismatch
	}

	switch current.StreamStatus {
	case models.StreamStatusCompleted:
		if current.StreamStoppedTxHash != nil && strings.EqualFold(*current.StreamStoppedTxHash, req.StreamStoppedTxHash) {
			return current, nil
		}
		return nil, ErrAlreadyStopped
	case models.StreamStatusCancelled:
		return nil, ErrStreamCancelled
	}

	inv, err := invoice.Insert(ctx, tx, req.InvoiceNumber, req.DocumentURL, models.InvoiceTypeStream)
	if err != nil {
		return nil, err
	}

	updated, err := scanStream(tx.QueryRow(ctx, `
		UPDATE streams AS s SET
			stream_status = $2,
			stream_end_time = $3,
			stream_stopped_tx_hash = $4,
			document_url = $5,
			invoice_id = $6,
			updated_at = NOW()
		WHERE s.id = $1
		RETURNING `+streamColumns,
		req.ID, string(models.StreamStatusCompleted), *req.StreamEndTime, req.StreamStoppedTxHash, req.DocumentURL, inv.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to stop stream: %w", err)
	}

	if err := submission.MarkRecordedTx(ctx, tx, current.ChainID, req.StreamStoppedTxHash); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	monitoring.RecordStreamStopped()
	return updated, nil
}

// Cancel marks a stream whose start transaction reverted as cancelled. It reports whether a
// stream was changed.
func (s *Service) Cancel(ctx context.Context, chainID, startTxHash string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE streams SET stream_status = $3, updated_at = NOW()
		WHERE chain_id = $1 AND LOWER(stream_start_tx_hash) = LOWER($2) AND stream_status IN ('inactive', 'active')
	`, chainID, startTxHash, string(models.StreamStatusCancelled))
	if err != nil {
		return false, fmt.Errorf("failed to cancel stream: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns the streams where address is the sender or receiver on chainID, newest first,
// each with its invoice (nil when absent)
func (s *Service) List(ctx context.Context, address string, dir models.Direction, chainID string) ([]models.StreamWithInvoice, error) {
	column := "s.sender_wallet_address"
	if dir == models.DirectionReceiver {
		column = "s.receiver_wallet_address"
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+streamColumns+`, `+invoice.Columns+`
		FROM streams s
		LEFT JOIN invoices inv ON inv.id = s.invoice_id
		WHERE LOWER(`+column+`) = LOWER($1) AND s.chain_id = $2
		ORDER BY s.created_at DESC
	`, address, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	out := []models.StreamWithInvoice{}
	for rows.Next() {
		var joined invoice.Joined
		st, err := scanStream(rows, joined.Dest()...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream: %w", err)
		}
		out = append(out, models.StreamWithInvoice{Stream: *st, Invoice: joined.Invoice()})
	}
	return out, rows.Err()
}
