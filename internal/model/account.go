package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountRole represents the RBAC role assigned to a dashboard account.
type AccountRole string

const (
	RoleAdmin    AccountRole = "admin"
	RoleEngineer AccountRole = "engineer"
	RoleViewer   AccountRole = "viewer"
)

// Account represents an identity that can authenticate against the API.
// Engineers drive investigations; viewers only read snapshots and reports.
type Account struct {
	ID         uuid.UUID   `json:"id"`
	AccountID  string      `json:"account_id"`
	Name       string      `json:"name"`
	Role       AccountRole `json:"role"`
	APIKeyHash *string     `json:"-"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters; RoleAtLeast uses >= comparison.
func RoleRank(r AccountRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleEngineer:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole AccountRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidateAccountID checks that an account ID conforms to the allowed format.
// Account IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAccountID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("account_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("account_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("account_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
