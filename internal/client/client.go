// Package client talks to the tracker server over HTTP.
//
// Client implements repository.Remote, so a core running outside the server
// process (the CLI) drives the same coordinator code the tests run against
// SQLite. It also implements feed.Source by reading the server's
// Server-Sent Events stream.
//
// Every owner-scoped call is authorised by the bearer token; the ownerID
// arguments of the repository contracts are not sent, the server derives
// the owner from the token.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/repository"
)

var _ repository.Remote = (*Client)(nil)

// Client is the tracker API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// stream has no overall timeout: feed connections stay open until the
	// subscriber cancels.
	stream *http.Client
	logger *slog.Logger
}

// New creates a new API client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		stream: &http.Client{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger routes the client's stream diagnostics to logger.
func (c *Client) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// BaseURL returns the server address the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Me returns the owner the token belongs to.
func (c *Client) Me(ctx context.Context) (*model.Owner, error) {
	var o model.Owner
	if err := c.get(ctx, "/api/me", &o); err != nil {
		return nil, fmt.Errorf("client.Me: %w", err)
	}
	return &o, nil
}

// ---- projects ----

func (c *Client) ListProjects(ctx context.Context, _ string) ([]model.Project, error) {
	var ps []model.Project
	if err := c.get(ctx, "/api/projects", &ps); err != nil {
		return nil, fmt.Errorf("client.ListProjects: %w", err)
	}
	return ps, nil
}

// CreateProject sends p, provisional id included, and copies the stored
// row back into p.
func (c *Client) CreateProject(ctx context.Context, p *model.Project) error {
	if err := c.doRequest(ctx, http.MethodPost, "/api/projects", p, p); err != nil {
		return fmt.Errorf("client.CreateProject: %w", err)
	}
	return nil
}

func (c *Client) UpdateProject(ctx context.Context, p *model.Project) error {
	if err := c.doRequest(ctx, http.MethodPut, "/api/projects/"+url.PathEscape(p.ID), p, p); err != nil {
		return fmt.Errorf("client.UpdateProject: %w", err)
	}
	return nil
}

func (c *Client) DeleteProject(ctx context.Context, _ string, id string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/projects/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("client.DeleteProject: %w", err)
	}
	return nil
}

// ---- profile ----

func (c *Client) GetProfile(ctx context.Context, _ string) (*model.PortfolioProfile, error) {
	var p model.PortfolioProfile
	if err := c.get(ctx, "/api/profile", &p); err != nil {
		return nil, fmt.Errorf("client.GetProfile: %w", err)
	}
	return &p, nil
}

// ProfileStatsRequest is the body of PUT /api/profile/stats.
type ProfileStatsRequest struct {
	TotalProjects int `json:"total_projects"`
	TotalXP       int `json:"total_xp"`
}

func (c *Client) UpdateProfileStats(ctx context.Context, _ string, totalProjects, totalXP int) (*model.PortfolioProfile, error) {
	var p model.PortfolioProfile
	body := ProfileStatsRequest{TotalProjects: totalProjects, TotalXP: totalXP}
	if err := c.doRequest(ctx, http.MethodPut, "/api/profile/stats", body, &p); err != nil {
		return nil, fmt.Errorf("client.UpdateProfileStats: %w", err)
	}
	return &p, nil
}

// ShareSlugRequest is the body of POST /api/profile/share-slug.
type ShareSlugRequest struct {
	Slug string `json:"slug"`
}

func (c *Client) SetShareSlug(ctx context.Context, _ string, slug string) (*model.PortfolioProfile, error) {
	var p model.PortfolioProfile
	if err := c.doRequest(ctx, http.MethodPost, "/api/profile/share-slug", ShareSlugRequest{Slug: slug}, &p); err != nil {
		return nil, fmt.Errorf("client.SetShareSlug: %w", err)
	}
	return &p, nil
}

// GetPublicPortfolio needs no token.
func (c *Client) GetPublicPortfolio(ctx context.Context, slug string) (*model.PublicPortfolio, error) {
	var pp model.PublicPortfolio
	if err := c.get(ctx, "/api/public/"+url.PathEscape(slug), &pp); err != nil {
		return nil, fmt.Errorf("client.GetPublicPortfolio: %w", err)
	}
	return &pp, nil
}

// ---- gamification ----

func (c *Client) GetStats(ctx context.Context, _ string) (*model.GamificationStats, error) {
	var s model.GamificationStats
	if err := c.get(ctx, "/api/stats", &s); err != nil {
		return nil, fmt.Errorf("client.GetStats: %w", err)
	}
	return &s, nil
}

func (c *Client) ListGoals(ctx context.Context, _ string) ([]model.DailyGoal, error) {
	var gs []model.DailyGoal
	if err := c.get(ctx, "/api/goals", &gs); err != nil {
		return nil, fmt.Errorf("client.ListGoals: %w", err)
	}
	return gs, nil
}

// CompleteGoalRequest is the body of POST /api/goals/{id}/complete.
type CompleteGoalRequest struct {
	RewardXP    int       `json:"reward_xp"`
	CompletedAt time.Time `json:"completed_at"`
}

// CompleteGoalResponse is its answer.
type CompleteGoalResponse struct {
	Completion model.GoalCompletion `json:"completion"`
	Awarded    bool                 `json:"awarded"`
}

func (c *Client) CompleteGoal(ctx context.Context, _ string, goalID string, rewardXP int, at time.Time) (*model.GoalCompletion, bool, error) {
	var out CompleteGoalResponse
	body := CompleteGoalRequest{RewardXP: rewardXP, CompletedAt: at}
	if err := c.doRequest(ctx, http.MethodPost, "/api/goals/"+url.PathEscape(goalID)+"/complete", body, &out); err != nil {
		return nil, false, fmt.Errorf("client.CompleteGoal: %w", err)
	}
	return &out.Completion, out.Awarded, nil
}

func (c *Client) ListBadges(ctx context.Context, _ string) ([]model.Badge, error) {
	var bs []model.Badge
	if err := c.get(ctx, "/api/badges", &bs); err != nil {
		return nil, fmt.Errorf("client.ListBadges: %w", err)
	}
	return bs, nil
}

// UnlockBadgeRequest is the body of POST /api/badges/{id}/unlock.
type UnlockBadgeRequest struct {
	UnlockedAt time.Time `json:"unlocked_at"`
}

// UnlockBadgeResponse is its answer.
type UnlockBadgeResponse struct {
	Badge    model.Badge `json:"badge"`
	Unlocked bool        `json:"unlocked"`
}

func (c *Client) UnlockBadge(ctx context.Context, _ string, id string, at time.Time) (*model.Badge, bool, error) {
	var out UnlockBadgeResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/badges/"+url.PathEscape(id)+"/unlock", UnlockBadgeRequest{UnlockedAt: at}, &out); err != nil {
		return nil, false, fmt.Errorf("client.UnlockBadge: %w", err)
	}
	return &out.Badge, out.Unlocked, nil
}

func (c *Client) ListChallenges(ctx context.Context, _ string) ([]model.WeeklyChallenge, error) {
	var cs []model.WeeklyChallenge
	if err := c.get(ctx, "/api/challenges", &cs); err != nil {
		return nil, fmt.Errorf("client.ListChallenges: %w", err)
	}
	return cs, nil
}

func (c *Client) UpdateChallenge(ctx context.Context, ch *model.WeeklyChallenge) error {
	if err := c.doRequest(ctx, http.MethodPut, "/api/challenges/"+url.PathEscape(ch.ID), ch, ch); err != nil {
		return fmt.Errorf("client.UpdateChallenge: %w", err)
	}
	return nil
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/leaderboard"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var entries []model.LeaderboardEntry
	if err := c.get(ctx, path, &entries); err != nil {
		return nil, fmt.Errorf("client.Leaderboard: %w", err)
	}
	return entries, nil
}

// ---- transport ----

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode >= 400 {
		return readError(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doRequest(ctx, http.MethodGet, path, nil, out)
}

// readError turns an error response into an *HTTPError. The server answers
// {"error": code, "message": text}.
func readError(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max error body
	if readErr != nil {
		return newHTTPError(resp.StatusCode, "", fmt.Sprintf("failed to read body: %v", readErr))
	}
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
		return newHTTPError(resp.StatusCode, apiErr.Error, apiErr.Message)
	}
	return newHTTPError(resp.StatusCode, "", string(bytes.TrimSpace(respBody)))
}
