package models

import (
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // Password is never exposed in JSON
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile groups chat turns into one profiling session. ReferenceMaterial
// holds the extracted text of an uploaded reference document, if any.
type Profile struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	ReferenceMaterial string    `json:"reference_material,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

type ChatTurn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProfileID string    `json:"profile_id"`
	Role      string    `json:"role"` // "user", "assistant" or "system"
	Content   string    `json:"content"`
	Encrypted bool      `json:"encrypted"` // Track encryption status
	CreatedAt time.Time `json:"created_at"`
}

// BillingLog is one externally delivered billing event. Payload is the raw
// provider payload stored as JSONB.
type BillingLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
