package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Account is the stored identity record. PasswordHash never leaves the server;
// use Public to build anything that is serialized to clients.
type Account struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	EmailNormalized string    `json:"-"`
	DisplayName     string    `json:"displayName"`
	PasswordHash    string    `json:"-"`
	Role            Role      `json:"role"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type PublicAccount struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		CreatedAt:   a.CreatedAt,
	}
}

func (a PublicAccount) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// NormalizeEmail returns the uniqueness key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type LoginResult struct {
	AccessToken string        `json:"accessToken"`
	TokenType   string        `json:"tokenType"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	User        PublicAccount `json:"user"`
}

type UserPayload struct {
	User PublicAccount `json:"user"`
}
