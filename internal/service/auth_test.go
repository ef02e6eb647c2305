package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/auth"
	"github.com/sakif/progress-tracker/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeOwnerRepo is an in-memory repository.OwnerRepository. Each Ensure*
// call is counted so tests can check what bootstrap touched.
type fakeOwnerRepo struct {
	owners map[string]*model.Owner
	byGHID map[int64]*model.Owner
	nextID int

	seededRows       int
	seededGoalDays   []time.Time
	seededChallenges int

	upsertErr error
	seedErr   error
}

func newFakeOwnerRepo() *fakeOwnerRepo {
	return &fakeOwnerRepo{
		owners: make(map[string]*model.Owner),
		byGHID: make(map[int64]*model.Owner),
		nextID: 1,
	}
}

func (f *fakeOwnerRepo) UpsertOwner(ctx context.Context, o *model.Owner) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	if existing, ok := f.byGHID[o.GitHubID]; ok {
		existing.Login = o.Login
		existing.Email = o.Email
		existing.AvatarURL = o.AvatarURL
		*o = *existing
		return nil
	}
	o.ID = fmt.Sprintf("owner-%d", f.nextID)
	f.nextID++
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	copied := *o
	f.owners[o.ID] = &copied
	f.byGHID[o.GitHubID] = &copied
	return nil
}

func (f *fakeOwnerRepo) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	o, ok := f.owners[id]
	if !ok {
		return nil, apperror.NotFound("owner", id)
	}
	return o, nil
}

func (f *fakeOwnerRepo) EnsureOwnerRows(ctx context.Context, ownerID, displayName string) error {
	if f.seedErr != nil {
		return f.seedErr
	}
	f.seededRows++
	return nil
}

func (f *fakeOwnerRepo) EnsureDailyGoals(ctx context.Context, ownerID string, date time.Time, goals []model.DailyGoal) error {
	if f.seedErr != nil {
		return f.seedErr
	}
	f.seededGoalDays = append(f.seededGoalDays, date)
	return nil
}

func (f *fakeOwnerRepo) EnsureWeeklyChallenge(ctx context.Context, c *model.WeeklyChallenge) error {
	if f.seedErr != nil {
		return f.seedErr
	}
	f.seededChallenges++
	return nil
}

func newTestAuthService(t *testing.T, repo *fakeOwnerRepo) (*AuthService, *auth.TokenService) {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
	return NewAuthService(repo, ts, logger), ts
}

// =========================================================================
// LoginOrRegisterGitHub TESTS
// =========================================================================

func TestLoginOrRegisterGitHub_NewOwnerIsSeeded(t *testing.T) {
	repo := newFakeOwnerRepo()
	svc, ts := newTestAuthService(t, repo)
	svc.now = func() time.Time { return time.Date(2026, 5, 6, 15, 30, 0, 0, time.UTC) }

	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{
		ID: 42, Login: "octocat", Name: "The Octocat",
	})
	if err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}
	if result.Owner.ID == "" {
		t.Fatal("Owner.ID should be set after upsert")
	}

	subject, err := ts.Validate(result.Token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if subject != result.Owner.ID {
		t.Errorf("token subject = %q, want %q", subject, result.Owner.ID)
	}

	if repo.seededRows != 1 || repo.seededChallenges != 1 {
		t.Errorf("seeded rows=%d challenges=%d, want 1 and 1", repo.seededRows, repo.seededChallenges)
	}
	want := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	if len(repo.seededGoalDays) != 1 || !repo.seededGoalDays[0].Equal(want) {
		t.Errorf("seeded goal days = %v, want [%v]", repo.seededGoalDays, want)
	}
}

func TestLoginOrRegisterGitHub_ExistingOwnerKeepsID(t *testing.T) {
	repo := newFakeOwnerRepo()
	svc, _ := newTestAuthService(t, repo)

	first, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 99, Login: "old"})
	if err != nil {
		t.Fatalf("first login error: %v", err)
	}
	second, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 99, Login: "new"})
	if err != nil {
		t.Fatalf("second login error: %v", err)
	}
	if second.Owner.ID != first.Owner.ID {
		t.Errorf("owner id changed: %q -> %q", first.Owner.ID, second.Owner.ID)
	}
	if second.Owner.Login != "new" {
		t.Errorf("Login = %q, want %q", second.Owner.Login, "new")
	}
}

func TestLoginOrRegisterGitHub_SeedFailureDoesNotBlock(t *testing.T) {
	repo := newFakeOwnerRepo()
	repo.seedErr = errors.New("disk full")
	svc, _ := newTestAuthService(t, repo)

	result, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1, Login: "u"})
	if err != nil {
		t.Fatalf("LoginOrRegisterGitHub() error = %v", err)
	}
	if result.Token == "" {
		t.Error("expected a token even when seeding fails")
	}
}

func TestLoginOrRegisterGitHub_Errors(t *testing.T) {
	repo := newFakeOwnerRepo()
	svc, _ := newTestAuthService(t, repo)
	if _, err := svc.LoginOrRegisterGitHub(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil GitHub user")
	}

	repo.upsertErr = errors.New("database is on fire")
	if _, err := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 1}); err == nil {
		t.Fatal("expected repository error to propagate")
	}
}

// =========================================================================
// GetOwner / IssueToken TESTS
// =========================================================================

func TestGetOwner(t *testing.T) {
	repo := newFakeOwnerRepo()
	svc, _ := newTestAuthService(t, repo)
	result, _ := svc.LoginOrRegisterGitHub(context.Background(), &auth.GitHubUser{ID: 7, Login: "findme"})

	o, err := svc.GetOwner(context.Background(), result.Owner.ID)
	if err != nil {
		t.Fatalf("GetOwner() error = %v", err)
	}
	if o.Login != "findme" {
		t.Errorf("Login = %q, want %q", o.Login, "findme")
	}

	if _, err := svc.GetOwner(context.Background(), ""); err == nil {
		t.Error("GetOwner(\"\") should fail")
	}
	if _, err := svc.GetOwner(context.Background(), "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetOwner(missing) error = %v, want ErrNotFound", err)
	}
}

func TestIssueToken(t *testing.T) {
	svc, ts := newTestAuthService(t, newFakeOwnerRepo())

	token, err := svc.IssueToken("owner-9")
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if got, _ := ts.Validate(token); got != "owner-9" {
		t.Errorf("subject = %q, want owner-9", got)
	}
}
