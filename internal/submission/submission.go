// Package submission journals on-chain transactions between the moment the wallet returns a
// hash and the moment the matching record is written.
package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/drippay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service errors
var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrForbidden          = errors.New("submission belongs to another identity")
	ErrAlreadyClaimed     = errors.New("transaction already journaled by another identity")
	ErrInvalidPayload     = errors.New("payload is not valid JSON")
	ErrUnsupportedChain   = errors.New("no receipt source configured for chain")
)

const submissionColumns = "id, kind, chain_id, tx_hash, privy_id, payload, status, attempts, last_error, created_at, updated_at"

// Service handles the submission journal
type Service struct {
	db       *pgxpool.Pool
	supports func(chainID string) bool
}

// NewService creates a new submission service. supports limits journaling to chains that
// reconciliation can read receipts from; nil accepts every chain.
func NewService(db *pgxpool.Pool, supports func(chainID string) bool) *Service {
	return &Service{db: db, supports: supports}
}

// RecordRequest journals a transaction hash with the body that will be posted once it confirms
type RecordRequest struct {
	Kind    models.SubmissionKind `json:"kind" binding:"required,oneof=instant stream_start stream_stop"`
	ChainID string                `json:"chainId" binding:"required,chainid"`
	TxHash  string                `json:"txHash" binding:"required,txhash"`
	Payload json.RawMessage       `json:"payload" binding:"required"`
}

func scanSubmission(row pgx.Row) (*models.Submission, error) {
	var s models.Submission
	var kind, status string
	err := row.Scan(&s.ID, &kind, &s.ChainID, &s.TxHash, &s.PrivyID, &s.Payload, &status, &s.Attempts, &s.LastError, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Kind = models.SubmissionKind(kind)
	s.Status = models.SubmissionStatus(status)
	return &s, nil
}

// Record upserts a submission on (chainId, txHash). The bool reports whether a row was created.
func (s *Service) Record(ctx context.Context, identity string, req *RecordRequest) (*models.Submission, bool, error) {
	if !json.Valid(req.Payload) {
		return nil, false, ErrInvalidPayload
	}
	if s.supports != nil && !s.supports(req.ChainID) {
		return nil, false, ErrUnsupportedChain
	}

	sub, err := scanSubmission(s.db.QueryRow(ctx, `
		INSERT INTO submissions (kind, chain_id, tx_hash, privy_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain_id, LOWER(tx_hash)) DO NOTHING
		RETURNING `+submissionColumns,
		string(req.Kind), req.ChainID, req.TxHash, identity, []byte(req.Payload)))
	if err == nil {
		return sub, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to record submission: %w", err)
	}

	existing, err := s.find(ctx, req.ChainID, req.TxHash)
	if err != nil {
		return nil, false, err
	}
	if existing.PrivyID != identity {
		return nil, false, ErrAlreadyClaimed
	}
	return existing, false, nil
}

// Get returns the submission for (chainId, txHash) if it belongs to identity
func (s *Service) Get(ctx context.Context, identity, chainID, txHash string) (*models.Submission, error) {
	sub, err := s.find(ctx, chainID, txHash)
	if err != nil {
		return nil, err
	}
	if sub.PrivyID != identity {
		return nil, ErrForbidden
	}
	return sub, nil
}

func (s *Service) find(ctx context.Context, chainID, txHash string) (*models.Submission, error) {
	sub, err := scanSubmission(s.db.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE chain_id = $1 AND LOWER(tx_hash) = LOWER($2)`,
		chainID, txHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

// ListPending returns up to limit pending submissions on chainID created before now-minAge,
// oldest first
func (s *Service) ListPending(ctx context.Context, chainID string, minAge time.Duration, limit int) ([]models.Submission, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE status = 'pending' AND chain_id = $1 AND created_at <= $2
		ORDER BY created_at ASC
		LIMIT $3
	`, chainID, time.Now().Add(-minAge), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending submissions: %w", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// MarkRecorded marks a submission recorded
func (s *Service) MarkRecorded(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, models.SubmissionStatusRecorded, nil)
}

// MarkFailed marks a submission failed with a reason
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.setStatus(ctx, id, models.SubmissionStatusFailed, &reason)
}

// MarkAttempt records an unsuccessful check and returns the new attempt count
func (s *Service) MarkAttempt(ctx context.Context, id uuid.UUID, lastErr string) (int, error) {
	var attempts int
	var errText *string
	if lastErr != "" {
		errText = &lastErr
	}
	err := s.db.QueryRow(ctx, `
		UPDATE submissions SET attempts = attempts + 1, last_error = COALESCE($2, last_error), updated_at = NOW()
		WHERE id = $1
		RETURNING attempts
	`, id, errText).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	return attempts, nil
}

func (s *Service) setStatus(ctx context.Context, id uuid.UUID, status models.SubmissionStatus, lastErr *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE submissions SET status = $2, last_error = COALESCE($3, last_error), updated_at = NOW()
		WHERE id = $1
	`, id, string(status), lastErr)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	return nil
}

// MarkRecordedTx marks the pending submission for (chainId, txHash) recorded inside the
// transaction that writes its record. It is a no-op when nothing was journaled.
func MarkRecordedTx(ctx context.Context, tx pgx.Tx, chainID, txHash string) error {
	_, err := tx.Exec(ctx, `
		UPDATE submissions SET status = 'recorded', updated_at = NOW()
		WHERE chain_id = $1 AND LOWER(tx_hash) = LOWER($2) AND status = 'pending'
	`, chainID, txHash)
	if err != nil {
		return fmt.Errorf("failed to mark submission recorded: %w", err)
	}
	return nil
}
