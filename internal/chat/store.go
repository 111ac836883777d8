// Package chat persists profiling conversation turns.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/profilerbackend/internal/encryption"
	"github.com/profilerbackend/internal/models"
)

// ErrPersistFailed marks a save failure after a successful generation, so
// callers can tell "retry the prompt" apart from "retry only the save".
var ErrPersistFailed = errors.New("chat: persist failed")

// historyWindow bounds how far back loaded history reaches.
const historyWindow = 12 * time.Hour

var sanitizer = strings.NewReplacer("#", "", "*", "")

// Sanitize strips markdown emphasis characters from generated text and trims
// surrounding whitespace.
func Sanitize(s string) string {
	return strings.TrimSpace(sanitizer.Replace(s))
}

// Store writes and reads chat turns. When kms is enabled, content is
// encrypted at rest.
type Store struct {
	db  *sql.DB
	kms *encryption.KMSClient
}

func NewStore(db *sql.DB, kms *encryption.KMSClient) *Store {
	return &Store{db: db, kms: kms}
}

// SaveTurn appends one turn. Turns are immutable once written.
func (s *Store) SaveTurn(ctx context.Context, turn *models.ChatTurn) error {
	content := turn.Content
	encrypted := false

	if s.kms.Enabled() {
		enc, err := s.kms.EncryptContent(ctx, content)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}
		content = enc
		encrypted = true
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO chat_turns (user_id, profile_id, role, content, encrypted)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		turn.UserID, turn.ProfileID, turn.Role, content, encrypted,
	).Scan(&turn.ID, &turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	turn.Encrypted = encrypted
	return nil
}

// RecentHistory loads the profile's turns from the last 12 hours, oldest
// first, decrypting content where needed.
func (s *Store) RecentHistory(ctx context.Context, userID, profileID string) ([]models.ChatTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, profile_id, role, content, encrypted, created_at
		 FROM chat_turns
		 WHERE user_id = $1 AND profile_id = $2 AND created_at > $3
		 ORDER BY created_at ASC`,
		userID, profileID, time.Now().UTC().Add(-historyWindow))
	if err != nil {
		return nil, fmt.Errorf("chat: load history: %v", err)
	}
	defer rows.Close()

	var turns []models.ChatTurn
	for rows.Next() {
		var t models.ChatTurn
		if err := rows.Scan(&t.ID, &t.UserID, &t.ProfileID, &t.Role, &t.Content, &t.Encrypted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: load history: %v", err)
		}
		if t.Encrypted {
			plain, err := s.kms.DecryptContent(ctx, t.Content)
			if err != nil {
				return nil, fmt.Errorf("chat: decrypt turn %s: %v", t.ID, err)
			}
			t.Content = plain
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
