package model

import "time"

// PortfolioProfile is the single per-owner profile row.
//
// TotalProjects and TotalXP are derived stats: they are recomputed from the
// owner's projects and written back, never edited directly. ShareSlug is
// empty until the first share request and immutable afterwards.
type PortfolioProfile struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name,omitempty"`
	Bio           string    `json:"bio,omitempty"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	TotalProjects int       `json:"total_projects"`
	TotalXP       int       `json:"total_xp"`
	ShareSlug     string    `json:"share_slug,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p PortfolioProfile) EntityID() string    { return p.ID }
func (p PortfolioProfile) EntityOwner() string { return p.UserID }

// PublicPortfolio is the read-only bundle served for a share slug.
type PublicPortfolio struct {
	Profile  PortfolioProfile `json:"profile"`
	Projects []Project        `json:"projects"`
}
