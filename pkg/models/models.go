// Package models contains the plain data records shared across the
// application: user accounts, stored chat exchanges, and the JSON payloads
// of the HTTP API.
package models

import "time"

// DefaultTokenBalance is the number of tokens a freshly registered
// account starts with.
const DefaultTokenBalance = 4000

// User represents a registered account with its token balance.
type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Tokens       int64     `gorm:"not null;default:4000" json:"tokens"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChatRecord is one stored message/response exchange. Records are written
// once when a chat transaction commits and are never updated afterwards.
type ChatRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index;not null" json:"user_id"`
	Message   string    `gorm:"not null" json:"message"`
	Response  string    `gorm:"not null" json:"response"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
}

// ChatResult is what a successful chat transaction returns to the caller.
type ChatResult struct {
	Message         string `json:"message"`
	Response        string `json:"response"`
	RemainingTokens int64  `json:"remaining_tokens"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenPair carries the signed access and refresh tokens returned by login.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// TopUpRequest is the body of POST /top-up.
type TopUpRequest struct {
	Tokens int64 `json:"tokens"`
}

// TopUpResponse is returned after a successful top-up.
type TopUpResponse struct {
	Message     string `json:"message"`
	TotalTokens int64  `json:"total_tokens"`
}

// BalanceResponse is returned by GET /tokens.
type BalanceResponse struct {
	Tokens int64 `json:"tokens"`
}
