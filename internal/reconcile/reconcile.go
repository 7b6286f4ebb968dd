// Package reconcile backfills records for journaled transactions that confirmed on-chain but
// were never posted back, and retires those that reverted.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drippay/backend/internal/chain"
	"github.com/drippay/backend/internal/config"
	"github.com/drippay/backend/internal/instant"
	"github.com/drippay/backend/internal/logging"
	"github.com/drippay/backend/internal/models"
	"github.com/drippay/backend/internal/monitoring"
	"github.com/drippay/backend/internal/stream"
	"github.com/drippay/backend/internal/validation"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidPayload is returned when a journaled payload cannot be replayed
var ErrInvalidPayload = errors.New("invalid submission payload")

// Journal is the submission store driven by reconciliation
type Journal interface {
	ListPending(ctx context.Context, chainID string, minAge time.Duration, limit int) ([]models.Submission, error)
	MarkRecorded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkAttempt(ctx context.Context, id uuid.UUID, lastErr string) (int, error)
}

// Receipts reads transaction outcomes from a chain
type Receipts interface {
	Chains() []string
	TransactionReceipt(ctx context.Context, chainID, txHash string) (chain.ReceiptStatus, error)
}

// Instants creates instant records
type Instants interface {
	Create(ctx context.Context, req *instant.CreateRequest) (*models.Instant, bool, error)
}

// Streams creates, stops and cancels stream records
type Streams interface {
	Create(ctx context.Context, identity string, req *stream.CreateRequest) (*models.Stream, bool, error)
	Stop(ctx context.Context, identity string, req *stream.StopRequest) (*models.Stream, error)
	Cancel(ctx context.Context, chainID, startTxHash string) (bool, error)
}

// Result summarizes one reconciliation run
type Result struct {
	Checked  int           `json:"checked"`
	Recorded int           `json:"recorded"`
	Failed   int           `json:"failed"`
	Pending  int           `json:"pending"`
	Skipped  int           `json:"skipped"`
	Took     time.Duration `json:"took"`
}

// Service reconciles pending submissions against chain receipts
type Service struct {
	journal  Journal
	receipts Receipts
	instants Instants
	streams  Streams
	config   *config.ReconcileConfig
	logger   zerolog.Logger
}

// NewService creates a new reconciliation service
func NewService(journal Journal, receipts Receipts, instants Instants, streams Streams, cfg *config.ReconcileConfig) (*Service, error) {
	// Replayed payloads are validated with the same binding rules as HTTP requests
	if err := validation.RegisterBindings(); err != nil {
		return nil, err
	}
	return &Service{
		journal:  journal,
		receipts: receipts,
		instants: instants,
		streams:  streams,
		config:   cfg,
		logger:   logging.NewLogger("reconcile"),
	}, nil
}

// Run processes one batch of pending submissions per configured chain. Submissions on chains
// without a receipt source are never listed, so they cannot crowd out the rest.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	for _, chainID := range s.receipts.Chains() {
		if ctx.Err() != nil {
			break
		}
		pending, err := s.journal.ListPending(ctx, chainID, s.config.MinAge, s.config.BatchSize)
		if err != nil {
			return nil, err
		}
		for i := range pending {
			if ctx.Err() != nil {
				break
			}
			outcome := s.process(ctx, &pending[i])
			monitoring.RecordReconcileOutcome(outcome)
			result.Checked++
			switch outcome {
			case "recorded":
				result.Recorded++
			case "failed":
				result.Failed++
			case "skipped":
				result.Skipped++
			default:
				result.Pending++
			}
			if outcome == "skipped" {
				// Breaker open: leave the rest of this chain for the next run
				result.Skipped += len(pending) - i - 1
				break
			}
		}
	}

	result.Took = time.Since(start)
	monitoring.RecordReconcileRun(result.Took)
	logging.LogReconcile(result.Checked, result.Recorded, result.Failed, result.Pending, result.Took)
	return result, nil
}

func (s *Service) process(ctx context.Context, sub *models.Submission) string {
	log := s.logger.With().Str("submission_id", sub.ID.String()).Str("chain_id", sub.ChainID).Str("tx_hash", sub.TxHash).Logger()

	status, err := s.receipts.TransactionReceipt(ctx, sub.ChainID, sub.TxHash)
	if err != nil {
		if errors.Is(err, chain.ErrCircuitOpen) {
			log.Debug().Msg("Circuit open for chain, skipping")
			return "skipped"
		}
		log.Warn().Err(err).Msg("Receipt lookup failed")
		return s.retry(ctx, sub, err.Error())
	}

	switch status {
	case chain.ReceiptReverted:
		if sub.Kind == models.SubmissionKindStreamStart {
			if _, err := s.streams.Cancel(ctx, sub.ChainID, sub.TxHash); err != nil {
				log.Error().Err(err).Msg("Failed to cancel stream")
				return "pending"
			}
		}
		return s.fail(ctx, sub, "transaction reverted")

	case chain.ReceiptSuccess:
		if err := s.replay(ctx, sub); err != nil {
			if permanent(err) {
				return s.fail(ctx, sub, err.Error())
			}
			log.Warn().Err(err).Msg("Replay failed")
			return s.retry(ctx, sub, err.Error())
		}
		if err := s.journal.MarkRecorded(ctx, sub.ID); err != nil {
			log.Error().Err(err).Msg("Failed to mark submission recorded")
			return "pending"
		}
		log.Info().Str("kind", string(sub.Kind)).Msg("Backfilled record from confirmed transaction")
		return "recorded"

	default:
		return s.retry(ctx, sub, "")
	}
}

// retry counts an attempt and fails the submission once the limit is reached
func (s *Service) retry(ctx context.Context, sub *models.Submission, reason string) string {
	attempts, err := s.journal.MarkAttempt(ctx, sub.ID, reason)
	if err != nil {
		s.logger.Error().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to record attempt")
		return "pending"
	}
	if s.config.MaxAttempts > 0 && attempts >= s.config.MaxAttempts {
		if reason == "" {
			reason = "no receipt"
		}
		return s.fail(ctx, sub, fmt.Sprintf("gave up after %d attempts: %s", attempts, reason))
	}
	return "pending"
}

func (s *Service) fail(ctx context.Context, sub *models.Submission, reason string) string {
	if err := s.journal.MarkFailed(ctx, sub.ID, reason); err != nil {
		s.logger.Error().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to mark submission failed")
		return "pending"
	}
	return "failed"
}

// replay posts the journaled payload through the service the client would have called,
// acting as the identity that journaled it
func (s *Service) replay(ctx context.Context, sub *models.Submission) error {
	switch sub.Kind {
	case models.SubmissionKindInstant:
		var req instant.CreateRequest
		if err := decode(sub.Payload, &req); err != nil {
			return err
		}
		if req.ChainID != sub.ChainID || !strings.EqualFold(req.TxHash, sub.TxHash) {
			return fmt.Errorf("%w: payload does not match journaled transaction", ErrInvalidPayload)
		}
		_, _, err := s.instants.Create(ctx, &req)
		return err

	case models.SubmissionKindStreamStart:
		var req stream.CreateRequest
		if err := decode(sub.Payload, &req); err != nil {
			return err
		}
		if req.ChainID != sub.ChainID || !strings.EqualFold(req.StreamStartTxHash, sub.TxHash) {
			return fmt.Errorf("%w: payload does not match journaled transaction", ErrInvalidPayload)
		}
		_, _, err := s.streams.Create(ctx, sub.PrivyID, &req)
		return err

	case models.SubmissionKindStreamStop:
		var req stream.StopRequest
		if err := decode(sub.Payload, &req); err != nil {
			return err
		}
		if !strings.EqualFold(req.StreamStoppedTxHash, sub.TxHash) || (req.ChainID != "" && req.ChainID != sub.ChainID) {
			return fmt.Errorf("%w: payload does not match journaled transaction", ErrInvalidPayload)
		}
		// The stop must land on the chain the receipt was read from
		req.ChainID = sub.ChainID
		_, err := s.streams.Stop(ctx, sub.PrivyID, &req)
		return err
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, sub.Kind)
}

func decode(payload json.RawMessage, dst any) error {
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// permanent reports whether replaying again can never succeed
func permanent(err error) bool {
	for _, target := range []error{
		ErrInvalidPayload,
		instant.ErrInvalidRequest,
		stream.ErrInvalidRequest,
		stream.ErrSenderNotFound,
		stream.ErrNotOwner,
		stream.ErrStreamNotFound,
		stream.ErrAlreadyStopped,
		stream.ErrStreamCancelled,
		stream.ErrChainMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
