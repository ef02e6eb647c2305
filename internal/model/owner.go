package model

import "time"

// Owner is a registered account. Every other entity hangs off an owner id.
//
// GitHub is the identity provider, so GitHubID is the stable external key;
// ID is our own xid so primary keys never depend on a third party's numbering.
type Owner struct {
	ID        string    `json:"id"`
	GitHubID  int64     `json:"github_id"`
	Login     string    `json:"login"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
