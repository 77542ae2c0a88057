package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pavelanni/checkin/internal/model"
)

// IdentityTTL matches the lifetime of the upstream access token.
const IdentityTTL = 48 * time.Hour

// SaveIdentity stores a signed-in identity under a fresh local session id,
// which it returns. ID, CreatedAt and ExpiresAt are filled in when empty.
func (s *Store) SaveIdentity(id *model.Identity) (string, error) {
	if id.ID == "" {
		token, err := generateToken()
		if err != nil {
			return "", fmt.Errorf("generate session id: %w", err)
		}
		id.ID = token
	}
	now := time.Now()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	if id.ExpiresAt.IsZero() {
		id.ExpiresAt = id.CreatedAt.Add(IdentityTTL)
	}
	_, err := s.db.Exec(
		`INSERT INTO identities (id, token, device_token, user_id, role, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET token = excluded.token, device_token = excluded.device_token,
		   user_id = excluded.user_id, role = excluded.role, expires_at = excluded.expires_at`,
		id.ID, id.Token, id.DeviceToken, id.UserID, string(id.Role), id.CreatedAt, id.ExpiresAt,
	)
	if err != nil {
		return "", err
	}
	return id.ID, nil
}

// LoadIdentity returns the identity for a local session id, or nil if not
// found or expired.
func (s *Store) LoadIdentity(sessionID string) (*model.Identity, error) {
	var id model.Identity
	var role string
	err := s.db.QueryRow(
		`SELECT id, token, device_token, user_id, role, created_at, expires_at
		 FROM identities WHERE id = ?`, sessionID,
	).Scan(&id.ID, &id.Token, &id.DeviceToken, &id.UserID, &role, &id.CreatedAt, &id.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id.Role = model.Role(role)
	if id.Expired(time.Now()) {
		_ = s.ClearIdentity(sessionID)
		return nil, nil
	}
	return &id, nil
}

// ClearIdentity removes one local session.
func (s *Store) ClearIdentity(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM identities WHERE id = ?`, sessionID)
	return err
}

// ClearIdentitiesForUser removes every local session of a user, as after
// a logout from all devices.
func (s *Store) ClearIdentitiesForUser(userID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM identities WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupExpired removes all expired identities.
func (s *Store) CleanupExpired() error {
	_, err := s.db.Exec(`DELETE FROM identities WHERE expires_at < ?`, time.Now())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
