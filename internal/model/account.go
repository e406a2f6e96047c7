package model

import (
	"time"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusExpired  AccountStatus = "expired"
	AccountStatusOffline  AccountStatus = "offline"
	AccountStatusDisabled AccountStatus = "disabled"
	AccountStatusChecking AccountStatus = "checking"
)

// IptvAccount is a set of Xtream credentials known to this device.
type IptvAccount struct {
	ID          string        `json:"id"`
	Host        string        `json:"host"`
	Username    string        `json:"username"`
	Password    string        `json:"password"`
	Name        string        `json:"name,omitempty"`
	AddedAt     time.Time     `json:"addedAt"`
	LastChecked *time.Time    `json:"lastChecked,omitempty"`
	Status      AccountStatus `json:"status,omitempty"`
	ExpiresAt   string        `json:"expiresAt,omitempty"`
	LatencyMs   *int64        `json:"latency,omitempty"`
}

// DisplayName falls back to the username when no name was given.
func (a *IptvAccount) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Username
}

// SameIdentity reports whether other points at the same host and username.
func (a *IptvAccount) SameIdentity(host, username string) bool {
	return a.Host == host && a.Username == username
}

type AddAccountParams struct {
	Host     string
	Username string
	Password string
	Name     string
}

type UpdateAccountParams struct {
	Name        *string
	Password    *string
	Status      *AccountStatus
	LastChecked *time.Time
	ExpiresAt   *string
	LatencyMs   *int64
}

// AccountCredentials is the last-used credential set kept next to the
// account list.
type AccountCredentials struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
}
