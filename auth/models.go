package auth

import "time"

type Role string

const (
	// RoleMember is a regular party: it owns a ledger account and may buy or sell.
	RoleMember Role = "member"
	// RoleOperator may additionally fund accounts.
	RoleOperator Role = "operator"
)

// User is the domain representation of an authenticated user. Its ID doubles
// as the user's ledger account id.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
