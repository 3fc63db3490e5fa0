// internal/model/delivery_record.go
package model

import (
	"strings"
	"time"
)

const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// GroupRecipientSuffix marks a recipient identifier as a group.
const GroupRecipientSuffix = "@g.us"

// DeliveryRecord is one gateway call for one recipient. Rows are never updated.
type DeliveryRecord struct {
	ID          int64     `db:"id" json:"id"`
	MessageID   int       `db:"message_id" json:"message_id"`
	Recipient   string    `db:"recipient" json:"recipient"`
	PlatformID  int       `db:"platform_id" json:"platform_id"`
	Outcome     string    `db:"outcome" json:"outcome"`
	Error       *string   `db:"error" json:"error,omitempty"`
	ExternalID  *string   `db:"external_id" json:"external_id,omitempty"`
	AttemptedAt time.Time `db:"attempted_at" json:"attempted_at"`
}

func IsGroupRecipient(recipient string) bool {
	return strings.HasSuffix(recipient, GroupRecipientSuffix)
}

// RecipientOutcome is the per-recipient view derived from the delivery log.
type RecipientOutcome struct {
	Recipient     string     `json:"recipient"`
	Attempts      int        `json:"attempts"`
	Succeeded     bool       `json:"succeeded"`
	LastError     *string    `json:"last_error,omitempty"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	FirstSentAt   *time.Time `json:"first_sent_at,omitempty"`
}
