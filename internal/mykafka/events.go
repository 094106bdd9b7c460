package mykafka

import "time"

const (
	EventRegistered      = "registered"
	EventLoggedIn        = "logged_in"
	EventLoggedOut       = "logged_out"
	EventPasswordChanged = "password_changed"
	EventUserUpdated     = "user_updated"
	EventUserDisabled    = "user_disabled"
)

type UserEvent struct {
	Type   string    `json:"type"`
	UserID uint      `json:"userId"`
	Email  string    `json:"email"`
	At     time.Time `json:"at"`
}

// PasswordResetRequested is consumed by the mail worker, which delivers Token to Email.
type PasswordResetRequested struct {
	UserID    uint      `json:"userId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
