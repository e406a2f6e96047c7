package model

import (
	"time"
)

type PairingStatus string

const (
	PairingStatusWaiting             PairingStatus = "waiting"
	PairingStatusConnected           PairingStatus = "connected"
	PairingStatusCredentialsReceived PairingStatus = "credentials_received"
)

func (s PairingStatus) rank() int {
	switch s {
	case PairingStatusConnected:
		return 1
	case PairingStatusCredentialsReceived:
		return 2
	default:
		return 0
	}
}

// Advance returns the later of s and next. Status never moves backwards.
func (s PairingStatus) Advance(next PairingStatus) PairingStatus {
	if next.rank() < s.rank() {
		return s
	}
	return next
}

// Credentials is the payload a sender hands to a receiver.
type Credentials struct {
	Raw      string `json:"raw"`
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// IsComplete reports whether host, username and password are all present.
func (c Credentials) IsComplete() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

// IsEmpty reports whether nothing usable was provided.
func (c Credentials) IsEmpty() bool {
	return c.Raw == "" && c.Host == "" && c.Username == "" && c.Password == ""
}

type PairingSession struct {
	Code        string        `json:"code"`
	Status      PairingStatus `json:"status"`
	Credentials *Credentials  `json:"credentials"`
	CreatedAt   time.Time     `json:"createdAt"`
}

func (s *PairingSession) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// IsExpired reports whether the session is older than ttl at now.
func (s *PairingSession) IsExpired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

type CreatePairingSessionParams struct {
	Code      string
	CreatedAt time.Time
}
