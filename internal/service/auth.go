// Package service holds the server-side business logic that sits between the
// HTTP handlers and the repositories.
//
//	AuthHandler (HTTP) -> AuthService (rules) -> OwnerRepository (DB)
//	                                          -> TokenService (JWT)
//
// The service accepts plain values, never *http.Request, so the same rules
// apply whether the caller is a handler, a test or a background job.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/progress-tracker/internal/auth"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/repository"
)

// AuthService signs owners in and bootstraps their rows.
type AuthService struct {
	owners repository.OwnerRepository
	tokens *auth.TokenService
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(owners repository.OwnerRepository, tokens *auth.TokenService, logger *slog.Logger) *AuthService {
	return &AuthService{
		owners: owners,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// AuthResult bundles the owner and the issued token so the handler can set
// the cookie and answer in one step.
type AuthResult struct {
	Owner *model.Owner `json:"owner"`
	Token string       `json:"token"`
}

// LoginOrRegisterGitHub handles a completed GitHub OAuth exchange:
//
//  1. upsert the owner on github_id (first login inserts, later ones refresh)
//  2. seed profile, stats and the locked badge catalog if missing
//  3. seed today's daily goals and a weekly challenge if missing
//  4. issue a token for the owner id
//
// Seeding stands in for the external scheduler that normally creates goals
// and challenges. Seeding failures are logged and do not block sign-in: the
// owner can still use the tracker, the rows just appear on the next login.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	owner := ghUser.Owner()
	if err := s.owners.UpsertOwner(ctx, owner); err != nil {
		return nil, fmt.Errorf("service/auth: upserting owner (githubID=%d): %w", ghUser.ID, err)
	}

	s.logger.Info("owner authenticated via GitHub",
		slog.String("owner_id", owner.ID),
		slog.String("login", owner.Login),
	)

	s.Bootstrap(ctx, owner.ID, ghUser.DisplayName())

	token, err := s.tokens.Generate(owner.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for owner %s: %w", owner.ID, err)
	}
	return &AuthResult{Owner: owner, Token: token}, nil
}

// Bootstrap seeds every per-owner row that is missing. It is idempotent.
func (s *AuthService) Bootstrap(ctx context.Context, ownerID, displayName string) {
	now := s.now()

	if err := s.owners.EnsureOwnerRows(ctx, ownerID, displayName); err != nil {
		s.logger.Error("failed to seed owner rows",
			slog.String("owner_id", ownerID), slog.String("error", err.Error()))
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := s.owners.EnsureDailyGoals(ctx, ownerID, day, repository.DefaultDailyGoals(ownerID, day)); err != nil {
		s.logger.Error("failed to seed daily goals",
			slog.String("owner_id", ownerID), slog.String("error", err.Error()))
	}

	c := repository.DefaultWeeklyChallenge(ownerID, now)
	if err := s.owners.EnsureWeeklyChallenge(ctx, &c); err != nil {
		s.logger.Error("failed to seed weekly challenge",
			slog.String("owner_id", ownerID), slog.String("error", err.Error()))
	}
}

// GetOwner returns the owner for the given internal id.
func (s *AuthService) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	if id == "" {
		return nil, fmt.Errorf("service/auth: owner ID must not be empty")
	}
	o, err := s.owners.GetOwner(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching owner %s: %w", id, err)
	}
	return o, nil
}

// IssueToken mints a fresh token for an already authenticated owner, e.g.
// for copying into the CLI.
func (s *AuthService) IssueToken(ownerID string) (string, error) {
	token, err := s.tokens.Generate(ownerID)
	if err != nil {
		return "", fmt.Errorf("service/auth: generating token for owner %s: %w", ownerID, err)
	}
	return token, nil
}
