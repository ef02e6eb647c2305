package model

import (
	"slices"
	"time"
)

// ProjectStatus is the lifecycle state of a portfolio project.
type ProjectStatus string

const (
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectUpcoming   ProjectStatus = "upcoming"
)

// Valid reports whether s is one of the three known statuses.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectInProgress, ProjectCompleted, ProjectUpcoming:
		return true
	}
	return false
}

// ProjectLinks holds the optional named external links of a project.
// An empty string means the link is absent.
type ProjectLinks struct {
	GitHub string `json:"github,omitempty"`
	Site   string `json:"site,omitempty"`
	Doc    string `json:"doc,omitempty"`
}

// Project is a portfolio entry owned by exactly one user.
//
// Technologies and Achievements are ordered: the UI renders them in the
// order the owner entered them, so they are slices rather than sets.
type Project struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Category     string        `json:"category"`
	Role         string        `json:"role"`
	Technologies []string      `json:"technologies"`
	ImageURL     string        `json:"image_url,omitempty"`
	Status       ProjectStatus `json:"status"`
	Achievements []string      `json:"achievements"`
	Links        ProjectLinks  `json:"links"`
	XPValue      int           `json:"xp_value"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (p Project) EntityID() string    { return p.ID }
func (p Project) EntityOwner() string { return p.OwnerID }

// Clone returns a deep copy. Store reads hand out clones so a caller
// mutating a slice in place can never reach into the store's slot.
func (p Project) Clone() Project {
	p.Technologies = slices.Clone(p.Technologies)
	p.Achievements = slices.Clone(p.Achievements)
	return p
}

// ProjectPatch is a partial update. Nil fields are left unchanged.
type ProjectPatch struct {
	Title        *string        `json:"title,omitempty"`
	Description  *string        `json:"description,omitempty"`
	Category     *string        `json:"category,omitempty"`
	Role         *string        `json:"role,omitempty"`
	Technologies *[]string      `json:"technologies,omitempty"`
	ImageURL     *string        `json:"image_url,omitempty"`
	Status       *ProjectStatus `json:"status,omitempty"`
	Achievements *[]string      `json:"achievements,omitempty"`
	Links        *ProjectLinks  `json:"links,omitempty"`
	XPValue      *int           `json:"xp_value,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (pp ProjectPatch) IsEmpty() bool {
	return pp == ProjectPatch{}
}

// Merge returns a copy of p with every non-nil patch field applied.
// The store only ever sees whole entities, so partial updates are merged
// here by the caller before the upsert.
func (p Project) Merge(pp ProjectPatch) Project {
	out := p.Clone()
	if pp.Title != nil {
		out.Title = *pp.Title
	}
	if pp.Description != nil {
		out.Description = *pp.Description
	}
	if pp.Category != nil {
		out.Category = *pp.Category
	}
	if pp.Role != nil {
		out.Role = *pp.Role
	}
	if pp.Technologies != nil {
		out.Technologies = slices.Clone(*pp.Technologies)
	}
	if pp.ImageURL != nil {
		out.ImageURL = *pp.ImageURL
	}
	if pp.Status != nil {
		out.Status = *pp.Status
	}
	if pp.Achievements != nil {
		out.Achievements = slices.Clone(*pp.Achievements)
	}
	if pp.Links != nil {
		out.Links = *pp.Links
	}
	if pp.XPValue != nil {
		out.XPValue = *pp.XPValue
	}
	return out
}
