// internal/model/group.go
package model

import "time"

// JoinedGroup is unique per (user, invite code) and only ever toggled.
type JoinedGroup struct {
	ID              int       `db:"id" json:"id"`
	UserID          int       `db:"user_id" json:"user_id"`
	InviteCode      string    `db:"invite_code" json:"invite_code"`
	ExternalGroupID string    `db:"external_group_id" json:"external_group_id"`
	Name            string    `db:"name" json:"name"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	JoinedAt        time.Time `db:"joined_at" json:"joined_at"`
}

// LeftGroup is the history of leave events.
type LeftGroup struct {
	ID              int       `db:"id" json:"id"`
	UserID          int       `db:"user_id" json:"user_id"`
	ExternalGroupID string    `db:"external_group_id" json:"external_group_id"`
	InviteCode      string    `db:"invite_code" json:"invite_code"`
	Name            string    `db:"name" json:"name"`
	LeftAt          time.Time `db:"left_at" json:"left_at"`
}
