package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/drippay/backend/internal/cache"
	"github.com/drippay/backend/internal/database"
	"github.com/drippay/backend/internal/models"
	"github.com/drippay/backend/internal/monitoring"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service errors
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
	ErrForbidden     = errors.New("user belongs to another identity")
)

const userColumns = "id, username, email, privy_id, wallet_address, role, recipients, created_at, updated_at"

// Service handles user profiles and recipient lists
type Service struct {
	db       *pgxpool.Pool
	profiles *cache.JSONCache
}

// NewService creates a new user service. profiles may be nil.
func NewService(db *pgxpool.Pool, profiles *cache.JSONCache) *Service {
	return &Service{db: db, profiles: profiles}
}

// CreateRequest represents a sign-up request
type CreateRequest struct {
	Username      string          `json:"username" binding:"required"`
	Email         string          `json:"email" binding:"required,email"`
	PrivyID       string          `json:"privyId" binding:"required"`
	WalletAddress *string         `json:"walletAddress,omitempty" binding:"omitempty,evmaddr"`
	// admin is granted out of band, never self-assigned
	Role models.UserRole `json:"role,omitempty" binding:"omitempty,oneof=influencer brand"`
}

// UpdateRequest represents a partial profile update
type UpdateRequest struct {
	Username      *string          `json:"username,omitempty" binding:"omitempty,min=1"`
	Email         *string          `json:"email,omitempty" binding:"omitempty,email"`
	WalletAddress *string          `json:"walletAddress,omitempty" binding:"omitempty,evmaddr"`
	Role          *models.UserRole `json:"role,omitempty" binding:"omitempty,oneof=influencer brand"`
}

// RecipientRequest represents a recipient to append
type RecipientRequest struct {
	Name          string `json:"name" binding:"required"`
	WalletAddress string `json:"walletAddress" binding:"required,evmaddr"`
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PrivyID, &u.WalletAddress, &role, &u.Recipients, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = models.UserRole(role)
	if u.Recipients == nil {
		u.Recipients = []models.Recipient{}
	}
	return &u, nil
}

// duplicate translates a unique violation into ErrDuplicateUser naming the field
func duplicate(err error) error {
	constraint, ok := database.UniqueViolation(err)
	if !ok {
		return nil
	}
	field := "user"
	switch constraint {
	case "users_email_key":
		field = "email"
	case "users_privy_id_key":
		field = "privyId"
	case "users_wallet_address_key":
		field = "walletAddress"
	}
	return fmt.Errorf("%w: %s already registered", ErrDuplicateUser, field)
}

// Create registers a new user. The role defaults to brand.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.User, error) {
	role := req.Role
	if role == "" {
		role = models.UserRoleBrand
	}

	u, err := scanUser(s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, privy_id, wallet_address, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		req.Username, req.Email, req.PrivyID, req.WalletAddress, string(role)))
	if err != nil {
		if dup := duplicate(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	monitoring.RecordUserCreated()
	return u, nil
}

// GetByPrivyID returns the profile for an identity subject, through the profile cache
func (s *Service) GetByPrivyID(ctx context.Context, privyID string) (*models.User, error) {
	var cached models.User
	if s.profiles.Get(ctx, privyID, &cached) {
		return &cached, nil
	}

	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE privy_id = $1`, privyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	s.profiles.Set(ctx, privyID, u)
	return u, nil
}

// Login looks up the profile for an identity subject
func (s *Service) Login(ctx context.Context, privyID string) (*models.User, error) {
	return s.GetByPrivyID(ctx, privyID)
}

// GetByWalletAddress resolves the user registered for a wallet, ignoring checksum casing
func (s *Service) GetByWalletAddress(ctx context.Context, address string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(wallet_address) = LOWER($1)`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by wallet: %w", err)
	}
	return u, nil
}

// Update applies a partial update to a user owned by identity
func (s *Service) Update(ctx context.Context, identity string, id uuid.UUID, req *UpdateRequest) (*models.User, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOwned(ctx, tx, identity, id); err != nil {
		return nil, err
	}

	var role *string
	if req.Role != nil {
		r := string(*req.Role)
		role = &r
	}

	u, err := scanUser(tx.QueryRow(ctx, `
		UPDATE users SET
			username = COALESCE($2, username),
			email = COALESCE($3, email),
			wallet_address = COALESCE($4, wallet_address),
			role = COALESCE($5, role),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		id, req.Username, req.Email, req.WalletAddress, role))
	if err != nil {
		if dup := duplicate(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.profiles.Delete(ctx, u.PrivyID)
	return u, nil
}

// Delete removes a user owned by identity
func (s *Service) Delete(ctx context.Context, identity string, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockOwned(ctx, tx, identity, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.profiles.Delete(ctx, identity)
	return nil
}

// lockOwned locks the user row and checks it belongs to identity
func lockOwned(ctx context.Context, tx pgx.Tx, identity string, id uuid.UUID) error {
	var owner string
	err := tx.QueryRow(ctx, `SELECT privy_id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to get user: %w", err)
	}
	if owner != identity {
		return ErrForbidden
	}
	return nil
}

// SaveRecipient appends one recipient to the user's list and returns the full list
func (s *Service) SaveRecipient(ctx context.Context, privyID string, r models.Recipient) ([]models.Recipient, error) {
	entry, err := json.Marshal([]models.Recipient{r})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recipient: %w", err)
	}

	var recipients []models.Recipient
	err = s.db.QueryRow(ctx, `
		UPDATE users SET recipients = recipients || $2::jsonb, updated_at = NOW()
		WHERE privy_id = $1
		RETURNING recipients
	`, privyID, string(entry)).Scan(&recipients)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to save recipient: %w", err)
	}

	s.profiles.Delete(ctx, privyID)
	return recipients, nil
}

// GetRecipients returns the user's recipients in insertion order
func (s *Service) GetRecipients(ctx context.Context, privyID string) ([]models.Recipient, error) {
	u, err := s.GetByPrivyID(ctx, privyID)
	if err != nil {
		return nil, err
	}
	return u.Recipients, nil
}
