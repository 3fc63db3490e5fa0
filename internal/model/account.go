// internal/model/account.go
package model

// ConnectedAccount is the gateway session a user dispatches through.
type ConnectedAccount struct {
	UserID            int    `db:"user_id" json:"user_id"`
	PlatformID        int    `db:"platform_id" json:"platform_id"`
	AccessToken       string `db:"access_token" json:"-"`
	ExternalSessionID string `db:"external_session_id" json:"external_session_id"`
}
