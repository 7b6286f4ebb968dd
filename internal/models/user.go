package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole represents the role of a user
type UserRole string

const (
	UserRoleInfluencer UserRole = "influencer"
	UserRoleBrand      UserRole = "brand"
	UserRoleAdmin      UserRole = "admin"
)

// Valid reports whether r is a declared role
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleInfluencer, UserRoleBrand, UserRoleAdmin:
		return true
	}
	return false
}

// User represents a dashboard user. PrivyID is the identity provider subject.
type User struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	Username      string      `json:"username" db:"username"`
	Email         string      `json:"email" db:"email"`
	PrivyID       string      `json:"privyId" db:"privy_id"`
	WalletAddress *string     `json:"walletAddress,omitempty" db:"wallet_address"`
	Role          UserRole    `json:"role" db:"role"`
	Recipients    []Recipient `json:"recipients" db:"recipients"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time   `json:"updatedAt" db:"updated_at"`
}

// Recipient is a saved payee on a user's recipient list
type Recipient struct {
	Name          string `json:"name"`
	WalletAddress string `json:"walletAddress"`
}
