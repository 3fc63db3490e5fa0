// internal/model/message.go
package model

import "time"

const (
	MessageStatusPending = "pending"
	MessageStatusSent    = "sent"
	MessageStatusFailed  = "failed"
)

// Message is one composed campaign unit. Status is a rolling "at least one
// recipient succeeded" flag; per-recipient outcomes live in DeliveryRecord.
type Message struct {
	ID          int        `db:"id" json:"id"`
	UserID      int        `db:"user_id" json:"user_id"`
	PlatformID  int        `db:"platform_id" json:"platform_id"`
	Title       string     `db:"title" json:"title"`
	Body        string     `db:"body" json:"body"`
	Targets     []string   `db:"targets" json:"targets"`
	Attachments []string   `db:"attachments" json:"attachments"`
	Status      string     `db:"status" json:"status"` // pending, sent, failed
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}
