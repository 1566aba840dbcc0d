// Package models defines the domain entities shared by the resolution
// engine, ingestion pipeline and webhook dispatcher.
package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Link maps a short slug to a destination URL, optionally carrying
// routing rules, an expiration, a password and a custom domain.
type Link struct {
	ID            int64      `json:"id" db:"id"`
	Key           string     `json:"key" db:"key"`
	OwnerID       string     `json:"owner_id" db:"owner_id"`
	DefaultTarget string     `json:"default_target" db:"default_target"`
	CustomDomain  string     `json:"custom_domain,omitempty" db:"custom_domain"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	Timezone      string     `json:"timezone,omitempty" db:"timezone"`
	Active        bool       `json:"active" db:"active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	DeletedAt     *time.Time `json:"-" db:"deleted_at"`
}

// IsExpired reports whether the link has passed its expiration at the
// given instant. Links without an expiration never expire.
func (l *Link) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// IsResolvable reports whether the link may serve a destination: it must
// be active, not soft-deleted and not expired.
func (l *Link) IsResolvable(now time.Time) bool {
	return l.Active && l.DeletedAt == nil && !l.IsExpired(now)
}

// RequiresPassword reports whether a password must be verified before
// the destination is served.
func (l *Link) RequiresPassword() bool {
	return l.PasswordHash != ""
}

// CheckPassword verifies a plaintext password against the stored hash.
func (l *Link) CheckPassword(password string) bool {
	if l.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(l.PasswordHash), []byte(password)) == nil
}

// HashPassword produces a bcrypt hash suitable for Link.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
