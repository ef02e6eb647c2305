// Package repository defines the persistence/query service contracts.
//
// The core never talks to a database or a network directly. It depends on
// these interfaces, and two implementations satisfy them:
//
//	repository/sqlite   the authoritative store, embedded in the server
//	client              the same contracts over HTTP, used by remote cores
//
// ERRORS:
// Implementations decode their native failures (SQLite constraint codes,
// HTTP error bodies) into apperror kinds before returning. Nothing above this
// layer inspects driver or transport errors.
//
// OWNERSHIP:
// Every owner-scoped method takes the owner id explicitly. Writes against a
// row owned by someone else fail with apperror.ErrPermissionDenied.
package repository

import (
	"context"
	"time"

	"github.com/sakif/progress-tracker/internal/model"
)

// ProjectRepository persists portfolio projects.
type ProjectRepository interface {
	ListProjects(ctx context.Context, ownerID string) ([]model.Project, error)
	// CreateProject inserts p. A non-empty p.ID is kept as the primary key so
	// a provisional client-side id stays the upsert key after confirmation.
	// Timestamps are filled in on p.
	CreateProject(ctx context.Context, p *model.Project) error
	UpdateProject(ctx context.Context, p *model.Project) error
	DeleteProject(ctx context.Context, ownerID, id string) error
}

// ProfileRepository persists the per-owner portfolio profile.
type ProfileRepository interface {
	GetProfile(ctx context.Context, ownerID string) (*model.PortfolioProfile, error)
	UpdateProfileStats(ctx context.Context, ownerID string, totalProjects, totalXP int) (*model.PortfolioProfile, error)
	// SetShareSlug stores slug only if the profile has none yet and returns
	// the stored profile either way, so a lost race reports the winner's slug.
	SetShareSlug(ctx context.Context, ownerID, slug string) (*model.PortfolioProfile, error)
}

// PublicRepository serves the unauthenticated share view.
type PublicRepository interface {
	GetPublicPortfolio(ctx context.Context, slug string) (*model.PublicPortfolio, error)
}

// GamificationRepository persists stats, goals, badges and challenges.
type GamificationRepository interface {
	GetStats(ctx context.Context, ownerID string) (*model.GamificationStats, error)
	ListGoals(ctx context.Context, ownerID string) ([]model.DailyGoal, error)
	// CompleteGoal moves a pending goal to completed and adds rewardXP to the
	// owner's stats in a single write. Completing an already completed goal
	// returns the current state with awarded == false.
	CompleteGoal(ctx context.Context, ownerID, goalID string, rewardXP int, at time.Time) (result *model.GoalCompletion, awarded bool, err error)
	ListBadges(ctx context.Context, ownerID string) ([]model.Badge, error)
	// UnlockBadge commits false -> true only if the badge is still locked.
	// unlocked reports whether this call performed the transition.
	UnlockBadge(ctx context.Context, ownerID, id string, at time.Time) (badge *model.Badge, unlocked bool, err error)
	ListChallenges(ctx context.Context, ownerID string) ([]model.WeeklyChallenge, error)
	UpdateChallenge(ctx context.Context, c *model.WeeklyChallenge) error
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

// Remote is the whole persistence/query service as seen by the core.
type Remote interface {
	ProjectRepository
	ProfileRepository
	PublicRepository
	GamificationRepository
}

// OwnerRepository manages owner accounts and their seeded rows.
type OwnerRepository interface {
	// UpsertOwner inserts or refreshes an owner keyed by GitHub id.
	UpsertOwner(ctx context.Context, o *model.Owner) error
	GetOwner(ctx context.Context, id string) (*model.Owner, error)
	// EnsureOwnerRows seeds the profile, stats and locked badge catalog for
	// ownerID. Safe to call on every sign-in.
	EnsureOwnerRows(ctx context.Context, ownerID, displayName string) error
	// EnsureDailyGoals creates the given goals for date unless goals for that
	// date already exist.
	EnsureDailyGoals(ctx context.Context, ownerID string, date time.Time, goals []model.DailyGoal) error
	// EnsureWeeklyChallenge creates c unless the owner has an active challenge.
	EnsureWeeklyChallenge(ctx context.Context, c *model.WeeklyChallenge) error
}

// DefaultLeaderboardLimit caps leaderboard reads when the caller passes 0.
const DefaultLeaderboardLimit = 10

// MaxLeaderboardLimit is the largest page the service returns.
const MaxLeaderboardLimit = 100
