// Package handler contains the HTTP handlers of the tracker server.
//
// Handlers are the glue between HTTP and the repositories: they parse the
// request, call one repository or service method and write the response
// through writeJSON / writeError. They hold no business rules; ownership and
// state transitions are enforced below them.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/auth"
	"github.com/sakif/progress-tracker/internal/client"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/repository"
)

// APIHandler exposes the persistence/query service over REST.
//
// Every route here sits behind auth.RequireAuth, so the owner always comes
// from the token and never from the request body: a body naming another
// owner is rewritten to the caller, and the repository's ownership checks
// answer 403/404 for rows that belong to someone else.
//
// The request/response shapes live in package client, so both ends of the
// wire share one definition.
type APIHandler struct {
	repo   repository.Remote
	logger *slog.Logger
}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler(repo repository.Remote, logger *slog.Logger) *APIHandler {
	return &APIHandler{repo: repo, logger: logger}
}

// Routes registers the handler on r.
//
//	GET    /projects                 list
//	POST   /projects                 create (client-chosen id kept)
//	PUT    /projects/{id}            replace
//	DELETE /projects/{id}            delete
//	GET    /profile                  profile
//	PUT    /profile/stats            write derived totals
//	POST   /profile/share-slug       set-once share slug
//	GET    /stats                    gamification stats
//	GET    /goals                    daily goals
//	POST   /goals/{id}/complete      pending -> completed, awards XP
//	GET    /badges                   badge catalog
//	POST   /badges/{id}/unlock       locked -> unlocked
//	GET    /challenges               weekly challenges
//	PUT    /challenges/{id}          progress / status
//	GET    /leaderboard?limit=n      top owners by XP
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/projects", h.HandleListProjects)
	r.Post("/projects", h.HandleCreateProject)
	r.Put("/projects/{id}", h.HandleUpdateProject)
	r.Delete("/projects/{id}", h.HandleDeleteProject)

	r.Get("/profile", h.HandleGetProfile)
	r.Put("/profile/stats", h.HandleUpdateProfileStats)
	r.Post("/profile/share-slug", h.HandleSetShareSlug)

	r.Get("/stats", h.HandleGetStats)
	r.Get("/goals", h.HandleListGoals)
	r.Post("/goals/{id}/complete", h.HandleCompleteGoal)
	r.Get("/badges", h.HandleListBadges)
	r.Post("/badges/{id}/unlock", h.HandleUnlockBadge)
	r.Get("/challenges", h.HandleListChallenges)
	r.Put("/challenges/{id}", h.HandleUpdateChallenge)
	r.Get("/leaderboard", h.HandleLeaderboard)
}

// owner returns the authenticated owner id. On routes behind RequireAuth it
// is always present; the check keeps a mis-wired route from running
// unscoped queries.
func (h *APIHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.NotAuthenticated())
		return "", false
	}
	return ownerID, true
}

// ---- projects ----

func (h *APIHandler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	projects, err := h.repo.ListProjects(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// HandleCreateProject stores a project.
//
// HTTP: POST /api/projects
//
// The id in the body is kept when present. Cores generate a provisional id
// before the request so the optimistic copy, the confirmed row and the
// change-feed echo all share one store slot.
func (h *APIHandler) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var p model.Project
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, h.logger, err)
		return
	}
	p.OwnerID = ownerID
	if err := h.repo.CreateProject(r.Context(), &p); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("project created", slog.String("id", p.ID), slog.String("owner_id", ownerID))
	writeJSON(w, http.StatusCreated, p)
}

func (h *APIHandler) HandleUpdateProject(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var p model.Project
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, h.logger, err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	p.OwnerID = ownerID
	if err := h.repo.UpdateProject(r.Context(), &p); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *APIHandler) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteProject(r.Context(), ownerID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.logger.Info("project deleted", slog.String("id", id), slog.String("owner_id", ownerID))
	w.WriteHeader(http.StatusNoContent) // 204: deleted, no body
}

// ---- profile ----

func (h *APIHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	p, err := h.repo.GetProfile(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *APIHandler) HandleUpdateProfileStats(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req client.ProfileStatsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.TotalProjects < 0 || req.TotalXP < 0 {
		writeError(w, h.logger, apperror.ValidationFailed("total_xp", "totals must not be negative"))
		return
	}
	p, err := h.repo.UpdateProfileStats(r.Context(), ownerID, req.TotalProjects, req.TotalXP)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleSetShareSlug stores the share slug if the profile has none.
//
// HTTP: POST /api/profile/share-slug
//
// The answer is always the stored profile, so a caller that lost a race
// learns the winning slug instead of getting an error.
func (h *APIHandler) HandleSetShareSlug(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req client.ShareSlugRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	p, err := h.repo.SetShareSlug(r.Context(), ownerID, req.Slug)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ---- gamification ----

func (h *APIHandler) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	s, err := h.repo.GetStats(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *APIHandler) HandleListGoals(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	goals, err := h.repo.ListGoals(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if goals == nil {
		goals = []model.DailyGoal{}
	}
	writeJSON(w, http.StatusOK, goals)
}

func (h *APIHandler) HandleCompleteGoal(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req client.CompleteGoalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.CompletedAt.IsZero() {
		req.CompletedAt = time.Now()
	}
	res, awarded, err := h.repo.CompleteGoal(r.Context(), ownerID, chi.URLParam(r, "id"), req.RewardXP, req.CompletedAt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, client.CompleteGoalResponse{Completion: *res, Awarded: awarded})
}

func (h *APIHandler) HandleListBadges(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	badges, err := h.repo.ListBadges(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if badges == nil {
		badges = []model.Badge{}
	}
	writeJSON(w, http.StatusOK, badges)
}

func (h *APIHandler) HandleUnlockBadge(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req client.UnlockBadgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.UnlockedAt.IsZero() {
		req.UnlockedAt = time.Now()
	}
	b, unlocked, err := h.repo.UnlockBadge(r.Context(), ownerID, chi.URLParam(r, "id"), req.UnlockedAt)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, client.UnlockBadgeResponse{Badge: *b, Unlocked: unlocked})
}

func (h *APIHandler) HandleListChallenges(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	cs, err := h.repo.ListChallenges(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if cs == nil {
		cs = []model.WeeklyChallenge{}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *APIHandler) HandleUpdateChallenge(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var c model.WeeklyChallenge
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c.ID = chi.URLParam(r, "id")
	c.UserID = ownerID
	if err := h.repo.UpdateChallenge(r.Context(), &c); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleLeaderboard returns the top owners by XP.
//
// HTTP: GET /api/leaderboard?limit=10
//
// A missing limit selects the repository default; a malformed one is a 400.
func (h *APIHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, h.logger, apperror.ValidationFailed("limit", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := h.repo.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
