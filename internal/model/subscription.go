// internal/model/subscription.go
package model

import "time"

const PaymentStatusPaid = "paid"

// Subscription grants an add-group allowance while active, paid and date-valid.
type Subscription struct {
	ID             int       `db:"id" json:"id"`
	UserID         int       `db:"user_id" json:"user_id"`
	AddGroupsLimit int       `db:"add_groups_limit" json:"add_groups_limit"`
	StartDate      time.Time `db:"start_date" json:"start_date"`
	EndDate        time.Time `db:"end_date" json:"end_date"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	PaymentStatus  string    `db:"payment_status" json:"payment_status"`
}
