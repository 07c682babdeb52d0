// Package accounts manages connected platform accounts: their encrypted
// credentials, polling schedule identity, and ingestion cursor.
package accounts

import (
	"time"

	"github.com/urizennnn/omni-backend-sub001/internal/platform"
)

// Status is the lifecycle state of a connected account.
type Status string

const (
	// StatusActive means the account is scheduled and pollable.
	StatusActive Status = "active"
	// StatusError flags repeated transient failures for operator
	// visibility; polling continues.
	StatusError Status = "error"
	// StatusNeedsReauth means credentials are invalid and scheduling is
	// suspended until the user reconnects.
	StatusNeedsReauth Status = "needs_reauth"
)

// ConnectedAccount is one user's connection to a platform.
type ConnectedAccount struct {
	ID                     string            `json:"id"`
	UserID                 string            `json:"user_id"`
	Platform               platform.Platform `json:"platform"`
	Status                 Status            `json:"status"`
	Credentials            string            `json:"-"`
	PollingIntervalSeconds int               `json:"polling_interval_seconds"`
	JobKey                 string            `json:"job_key"`
	LastPolledAt           *time.Time        `json:"last_polled_at,omitempty"`
	Cursor                 []byte            `json:"-"`
	ExternalAccountID      string            `json:"external_account_id,omitempty"`
	ConsecutiveFailures    int               `json:"consecutive_failures"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// CreateParams is the input for persisting a freshly connected account.
type CreateParams struct {
	UserID                 string
	Platform               platform.Platform
	Credentials            string
	PollingIntervalSeconds int
	JobKey                 string
	ExternalAccountID      string
}
