package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/drippay/backend/internal/instant"
	"github.com/drippay/backend/internal/models"
	"github.com/drippay/backend/internal/stream"
	"github.com/drippay/backend/internal/submission"
	"github.com/drippay/backend/internal/user"
	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for the database-backed services
type memStore struct {
	mu          sync.Mutex
	users       []*models.User
	invoices    map[uuid.UUID]*models.Invoice
	instants    []*models.Instant
	streams     []*models.Stream
	submissions []*models.Submission
	// chains limits journaling when set
	chains map[string]bool
}

func newMemStore() *memStore {
	return &memStore{invoices: make(map[uuid.UUID]*models.Invoice)}
}

func (m *memStore) services() Services {
	return Services{
		Users:       memUsers{m},
		Instants:    memInstants{m},
		Streams:     memStreams{m},
		Submissions: memSubmissions{m},
	}
}

func (m *memStore) addInvoice(number, doc string, t models.InvoiceType) *models.Invoice {
	inv := &models.Invoice{ID: uuid.New(), InvoiceNumber: number, DocumentURL: doc, InvoiceType: t,
		InvoiceStatus: models.InvoiceStatusPaid, CreatedAt: time.Now()}
	m.invoices[inv.ID] = inv
	return inv
}

func (m *memStore) invoiceFor(id *uuid.UUID) *models.Invoice {
	if id == nil {
		return nil
	}
	return m.invoices[*id]
}

type memUsers struct{ m *memStore }

func (u memUsers) Create(ctx context.Context, req *user.CreateRequest) (*models.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	for _, existing := range u.m.users {
		if existing.Email == req.Email || existing.PrivyID == req.PrivyID {
			return nil, user.ErrDuplicateUser
		}
	}
	role := req.Role
	if role == "" {
		role = models.UserRoleBrand
	}
	created := &models.User{ID: uuid.New(), Username: req.Username, Email: req.Email, PrivyID: req.PrivyID,
		WalletAddress: req.WalletAddress, Role: role, Recipients: []models.Recipient{}, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	u.m.users = append(u.m.users, created)
	return created, nil
}

func (u memUsers) find(privyID string) *models.User {
	for _, existing := range u.m.users {
		if existing.PrivyID == privyID {
			return existing
		}
	}
	return nil
}

func (u memUsers) GetByPrivyID(ctx context.Context, privyID string) (*models.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	if found := u.find(privyID); found != nil {
		return found, nil
	}
	return nil, user.ErrUserNotFound
}

func (u memUsers) Login(ctx context.Context, privyID string) (*models.User, error) {
	return u.GetByPrivyID(ctx, privyID)
}

func (u memUsers) Update(ctx context.Context, identity string, id uuid.UUID, req *user.UpdateRequest) (*models.User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	for _, existing := range u.m.users {
		if existing.ID != id {
			continue
		}
		if existing.PrivyID != identity {
			return nil, user.ErrForbidden
		}
		if req.Username != nil {
			existing.Username = *req.Username
		}
		if req.Email != nil {
			existing.Email = *req.Email
		}
		if req.WalletAddress != nil {
			existing.WalletAddress = req.WalletAddress
		}
		if req.Role != nil {
			existing.Role = *req.Role
		}
		return existing, nil
	}
	return nil, user.ErrUserNotFound
}

func (u memUsers) Delete(ctx context.Context, identity string, id uuid.UUID) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	for i, existing := range u.m.users {
		if existing.ID != id {
			continue
		}
		if existing.PrivyID != identity {
			return user.ErrForbidden
		}
		u.m.users = append(u.m.users[:i], u.m.users[i+1:]...)
		return nil
	}
	return user.ErrUserNotFound
}

func (u memUsers) SaveRecipient(ctx context.Context, privyID string, r models.Recipient) ([]models.Recipient, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	found := u.find(privyID)
	if found == nil {
		return nil, user.ErrUserNotFound
	}
	found.Recipients = append(found.Recipients, r)
	return append([]models.Recipient(nil), found.Recipients...), nil
}

func (u memUsers) GetRecipients(ctx context.Context, privyID string) ([]models.Recipient, error) {
	found, err := u.GetByPrivyID(ctx, privyID)
	if err != nil {
		return nil, err
	}
	return found.Recipients, nil
}

type memInstants struct{ m *memStore }

func (i memInstants) Create(ctx context.Context, req *instant.CreateRequest) (*models.Instant, bool, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	for _, existing := range i.m.instants {
		if existing.ChainID == req.ChainID && strings.EqualFold(existing.TxHash, req.TxHash) {
			return existing, false, nil
		}
	}
	inv := i.m.addInvoice(req.InvoiceNumber, req.DocumentURL, models.InvoiceTypeInstant)
	created := &models.Instant{ID: uuid.New(), TokenSymbol: models.TokenSymbol(req.TokenSymbol), PayrollName: req.PayrollName,
		SenderWalletAddress: req.SenderWalletAddress, ReceiverWalletAddress: req.ReceiverWalletAddress,
		ReceiverName: req.ReceiverName, Amount: req.Amount, ChainID: req.ChainID, TxHash: req.TxHash,
		InvoiceID: &inv.ID, CreatedAt: time.Now()}
	i.m.instants = append(i.m.instants, created)
	return created, true, nil
}

func (i memInstants) List(ctx context.Context, address string, dir models.Direction, chainID string) ([]models.InstantWithInvoice, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	out := []models.InstantWithInvoice{}
	for idx := len(i.m.instants) - 1; idx >= 0; idx-- {
		row := i.m.instants[idx]
		field := row.SenderWalletAddress
		if dir == models.DirectionReceiver {
			field = row.ReceiverWalletAddress
		}
		if strings.EqualFold(field, address) && row.ChainID == chainID {
			out = append(out, models.InstantWithInvoice{Instant: *row, Invoice: i.m.invoiceFor(row.InvoiceID)})
		}
	}
	return out, nil
}

type memStreams struct{ m *memStore }

func (s memStreams) Create(ctx context.Context, identity string, req *stream.CreateRequest) (*models.Stream, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var owner *models.User
	for _, u := range s.m.users {
		if u.WalletAddress != nil && strings.EqualFold(*u.WalletAddress, req.SenderWalletAddress) {
			owner = u
		}
	}
	if owner == nil {
		return nil, false, stream.ErrSenderNotFound
	}
	if owner.PrivyID != identity {
		return nil, false, stream.ErrNotOwner
	}
	for _, existing := range s.m.streams {
		if existing.ChainID == req.ChainID && strings.EqualFold(existing.StreamStartTxHash, req.StreamStartTxHash) {
			return existing, false, nil
		}
	}
	created := &models.Stream{ID: uuid.New(), TokenSymbol: models.TokenSymbol(req.TokenSymbol), PayrollName: req.PayrollName,
		SenderWalletAddress: req.SenderWalletAddress, ReceiverWalletAddress: req.ReceiverWalletAddress,
		ReceiverName: req.ReceiverName, StreamStatus: models.StreamStatusActive, StreamStartTime: *req.StreamStartTime,
		Amount: req.Amount, FlowRate: req.FlowRate, FlowRateUnit: models.FlowRateUnit(req.FlowRateUnit),
		DocumentURL: req.DocumentURL, StreamStartTxHash: req.StreamStartTxHash, ChainID: req.ChainID,
		CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.m.streams = append(s.m.streams, created)
	return created, true, nil
}

func (s memStreams) List(ctx context.Context, address string, dir models.Direction, chainID string) ([]models.StreamWithInvoice, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []models.StreamWithInvoice{}
	for idx := len(s.m.streams) - 1; idx >= 0; idx-- {
		row := s.m.streams[idx]
		field := row.SenderWalletAddress
		if dir == models.DirectionReceiver {
			field = row.ReceiverWalletAddress
		}
		if strings.EqualFold(field, address) && row.ChainID == chainID {
			out = append(out, models.StreamWithInvoice{Stream: *row, Invoice: s.m.invoiceFor(row.InvoiceID)})
		}
	}
	return out, nil
}

func (s memStreams) Stop(ctx context.Context, identity string, req *stream.StopRequest) (*models.Stream, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, row := range s.m.streams {
		if row.ID != req.ID {
			continue
		}
		owned := false
		for _, u := range s.m.users {
			if u.WalletAddress != nil && strings.EqualFold(*u.WalletAddress, row.SenderWalletAddress) && u.PrivyID == identity {
				owned = true
			}
		}
		if !owned {
			return nil, stream.ErrNotOwner
		}
		if req.ChainID != "" && req.ChainID != row.ChainID {
			return nil, stream.ErrChainMismatch
		}
		if row.StreamStatus == models.StreamStatusCompleted {
			if row.StreamStoppedTxHash != nil && strings.EqualFold(*row.StreamStoppedTxHash, req.StreamStoppedTxHash) {
				return row, nil
			}
			return nil, stream.ErrAlreadyStopped
		}
		inv := s.m.addInvoice(req.InvoiceNumber, req.DocumentURL, models.InvoiceTypeStream)
		end, hash, doc := *req.StreamEndTime, req.StreamStoppedTxHash, req.DocumentURL
		row.StreamStatus = models.StreamStatusCompleted
		row.StreamEndTime = &end
		row.StreamStoppedTxHash = &hash
		row.DocumentURL = &doc
		row.InvoiceID = &inv.ID
		return row, nil
	}
	return nil, stream.ErrStreamNotFound
}

type memSubmissions struct{ m *memStore }

func (s memSubmissions) Record(ctx context.Context, identity string, req *submission.RecordRequest) (*models.Submission, bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.chains != nil && !s.m.chains[req.ChainID] {
		return nil, false, submission.ErrUnsupportedChain
	}
	for _, existing := range s.m.submissions {
		if existing.ChainID == req.ChainID && strings.EqualFold(existing.TxHash, req.TxHash) {
			if existing.PrivyID != identity {
				return nil, false, submission.ErrAlreadyClaimed
			}
			return existing, false, nil
		}
	}
	created := &models.Submission{ID: uuid.New(), Kind: req.Kind, ChainID: req.ChainID, TxHash: req.TxHash,
		PrivyID: identity, Payload: req.Payload, Status: models.SubmissionStatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.m.submissions = append(s.m.submissions, created)
	return created, true, nil
}

func (s memSubmissions) Get(ctx context.Context, identity, chainID, txHash string) (*models.Submission, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.submissions {
		if existing.ChainID == chainID && strings.EqualFold(existing.TxHash, txHash) {
			if existing.PrivyID != identity {
				return nil, submission.ErrForbidden
			}
			return existing, nil
		}
	}
	return nil, submission.ErrSubmissionNotFound
}

type failingDB struct{ err error }

func (f failingDB) Health(ctx context.Context) error { return f.err }
