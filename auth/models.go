package auth

import "time"

type Role string

const (
	RoleTrader   Role = "trader"
	RoleIssuer   Role = "issuer"
	RoleTreasury Role = "treasury"
)

// Participant is the domain representation of a signer identity. It mirrors
// the participants table and carries no JSON annotations so it can be reused
// by different presentation layers.
type Participant struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
