package models

import "time"

// ExchangeCredential is the stored, encrypted form of an API key pair.
// Plain key material never leaves the credentials package.
type ExchangeCredential struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Service         string     `json:"service"`
	Label           string     `json:"label"`
	EncryptedKey    string     `json:"encrypted_key"`
	EncryptedSecret string     `json:"encrypted_secret"`
	IsActive        bool       `json:"is_active"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ExchangeCredentialRequest struct {
	Service   string `json:"service" binding:"required"`
	Label     string `json:"label" binding:"required"`
	APIKey    string `json:"api_key" binding:"required"`
	APISecret string `json:"api_secret"`
}
