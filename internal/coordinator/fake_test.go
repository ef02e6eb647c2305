package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/repository"
	"github.com/sakif/progress-tracker/internal/stats"
)

// fakeRemote is an in-memory repository.Remote for one owner. Setting an
// *Err field makes the matching method fail; before, when set, runs at the
// start of every call so tests can block or race a call.
type fakeRemote struct {
	mu sync.Mutex

	projects   map[string]model.Project
	profile    model.PortfolioProfile
	stats      model.GamificationStats
	goals      map[string]model.DailyGoal
	badges     map[string]model.Badge
	challenges map[string]model.WeeklyChallenge

	createErr, updateErr, deleteErr error
	profileErr, slugErr             error
	completeErr, unlockErr          error
	challengeErr                    error

	before func(method string)

	calls map[string]int
}

var _ repository.Remote = (*fakeRemote)(nil)

func newFakeRemote(owner string) *fakeRemote {
	f := &fakeRemote{
		projects:   make(map[string]model.Project),
		profile:    model.PortfolioProfile{ID: "profile-1", UserID: owner, DisplayName: "Ada Lovelace"},
		stats:      model.GamificationStats{ID: "stats-1", UserID: owner, Level: 1},
		goals:      make(map[string]model.DailyGoal),
		badges:     make(map[string]model.Badge),
		challenges: make(map[string]model.WeeklyChallenge),
		calls:      make(map[string]int),
	}
	for i, b := range stats.CatalogBadges(owner) {
		b.ID = "badge-" + string(rune('a'+i))
		f.badges[b.ID] = b
	}
	return f
}

func (f *fakeRemote) enter(method string) {
	f.mu.Lock()
	f.calls[method]++
	hook := f.before
	f.mu.Unlock()
	if hook != nil {
		hook(method)
	}
}

func (f *fakeRemote) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeRemote) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	f.enter("ListProjects")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Project{}
	for _, p := range f.projects {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (f *fakeRemote) CreateProject(ctx context.Context, p *model.Project) error {
	f.enter("CreateProject")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.projects[p.ID]; ok {
		return apperror.Conflict("project", p.ID)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.CreatedAt = now
	p.UpdatedAt = now
	f.projects[p.ID] = p.Clone()
	return nil
}

func (f *fakeRemote) UpdateProject(ctx context.Context, p *model.Project) error {
	f.enter("UpdateProject")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	if _, ok := f.projects[p.ID]; !ok {
		return apperror.NotFound("project", p.ID)
	}
	f.projects[p.ID] = p.Clone()
	return nil
}

func (f *fakeRemote) DeleteProject(ctx context.Context, ownerID, id string) error {
	f.enter("DeleteProject")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.projects[id]; !ok {
		return apperror.NotFound("project", id)
	}
	delete(f.projects, id)
	return nil
}

func (f *fakeRemote) GetProfile(ctx context.Context, ownerID string) (*model.PortfolioProfile, error) {
	f.enter("GetProfile")
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile
	return &p, nil
}

func (f *fakeRemote) UpdateProfileStats(ctx context.Context, ownerID string, totalProjects, totalXP int) (*model.PortfolioProfile, error) {
	f.enter("UpdateProfileStats")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	f.profile.TotalProjects = totalProjects
	f.profile.TotalXP = totalXP
	p := f.profile
	return &p, nil
}

func (f *fakeRemote) SetShareSlug(ctx context.Context, ownerID, slug string) (*model.PortfolioProfile, error) {
	f.enter("SetShareSlug")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.slugErr != nil {
		return nil, f.slugErr
	}
	if f.profile.ShareSlug == "" {
		f.profile.ShareSlug = slug
	}
	p := f.profile
	return &p, nil
}

func (f *fakeRemote) GetPublicPortfolio(ctx context.Context, slug string) (*model.PublicPortfolio, error) {
	f.enter("GetPublicPortfolio")
	f.mu.Lock()
	defer f.mu.Unlock()
	if slug == "" || slug != f.profile.ShareSlug {
		return nil, apperror.NotFound("portfolio", slug)
	}
	out := &model.PublicPortfolio{Profile: f.profile}
	for _, p := range f.projects {
		out.Projects = append(out.Projects, p.Clone())
	}
	return out, nil
}

func (f *fakeRemote) GetStats(ctx context.Context, ownerID string) (*model.GamificationStats, error) {
	f.enter("GetStats")
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	return &s, nil
}

func (f *fakeRemote) ListGoals(ctx context.Context, ownerID string) ([]model.DailyGoal, error) {
	f.enter("ListGoals")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.DailyGoal{}
	for _, g := range f.goals {
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeRemote) CompleteGoal(ctx context.Context, ownerID, goalID string, rewardXP int, at time.Time) (*model.GoalCompletion, bool, error) {
	f.enter("CompleteGoal")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return nil, false, f.completeErr
	}
	g, ok := f.goals[goalID]
	if !ok {
		return nil, false, apperror.NotFound("daily goal", goalID)
	}
	if g.Status == model.GoalCompleted {
		return &model.GoalCompletion{Goal: g, Stats: f.stats}, false, nil
	}
	g.Status = model.GoalCompleted
	g.CompletedAt = &at
	f.goals[goalID] = g
	f.stats.TotalXP += rewardXP
	f.stats.Level = stats.ComputeLevel(f.stats.TotalXP)
	f.stats.LastActivityDate = at
	return &model.GoalCompletion{Goal: g, Stats: f.stats}, true, nil
}

func (f *fakeRemote) ListBadges(ctx context.Context, ownerID string) ([]model.Badge, error) {
	f.enter("ListBadges")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Badge{}
	for _, b := range f.badges {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeRemote) UnlockBadge(ctx context.Context, ownerID, id string, at time.Time) (*model.Badge, bool, error) {
	f.enter("UnlockBadge")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlockErr != nil {
		return nil, false, f.unlockErr
	}
	b, ok := f.badges[id]
	if !ok {
		return nil, false, apperror.NotFound("badge", id)
	}
	if b.Unlocked {
		return &b, false, nil
	}
	b.Unlocked = true
	b.UnlockedAt = &at
	f.badges[id] = b
	return &b, true, nil
}

func (f *fakeRemote) ListChallenges(ctx context.Context, ownerID string) ([]model.WeeklyChallenge, error) {
	f.enter("ListChallenges")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.WeeklyChallenge{}
	for _, c := range f.challenges {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRemote) UpdateChallenge(ctx context.Context, c *model.WeeklyChallenge) error {
	f.enter("UpdateChallenge")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.challengeErr != nil {
		return f.challengeErr
	}
	stored, ok := f.challenges[c.ID]
	if !ok {
		return apperror.NotFound("weekly challenge", c.ID)
	}
	if stored.Status != model.ChallengeActive {
		return apperror.Conflict("weekly challenge", c.ID)
	}
	f.challenges[c.ID] = *c
	return nil
}

func (f *fakeRemote) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	f.enter("Leaderboard")
	f.mu.Lock()
	defer f.mu.Unlock()
	return []model.LeaderboardEntry{{Rank: 1, UserID: f.profile.UserID, TotalXP: f.stats.TotalXP, Level: f.stats.Level}}, nil
}
