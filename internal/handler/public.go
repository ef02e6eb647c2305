package handler

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/repository"
)

//go:embed templates/*.html
var templateFS embed.FS

// PublicHandler serves the read-only share view of a portfolio. It needs no
// authentication and never writes.
//
// Templates are parsed once at startup and embedded in the binary, so the
// server does not depend on its working directory.
type PublicHandler struct {
	repo      repository.PublicRepository
	templates *template.Template
	logger    *slog.Logger
}

// NewPublicHandler creates a PublicHandler and parses its templates.
func NewPublicHandler(repo repository.PublicRepository, logger *slog.Logger) (*PublicHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/public.html")
	if err != nil {
		return nil, err
	}
	return &PublicHandler{repo: repo, templates: tmpl, logger: logger}, nil
}

// HandlePublicJSON returns the profile and projects behind a share slug.
//
// HTTP: GET /api/public/{slug}
func (h *PublicHandler) HandlePublicJSON(w http.ResponseWriter, r *http.Request) {
	pp, err := h.repo.GetPublicPortfolio(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if pp.Projects == nil {
		pp.Projects = []model.Project{}
	}
	writeJSON(w, http.StatusOK, pp)
}

// HandlePublicPage renders the share view as HTML.
//
// HTTP: GET /p/{slug}
//
// An unknown slug renders the same page with a "not found" body and a 404
// status, so a mistyped link still shows something readable.
func (h *PublicHandler) HandlePublicPage(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	pp, err := h.repo.GetPublicPortfolio(r.Context(), slug)

	status := http.StatusOK
	data := map[string]any{"Title": "Portfolio"}
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
		data["Title"] = "Portfolio not found"
	case err != nil:
		h.logger.Error("public page: loading portfolio",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	default:
		data["Portfolio"] = pp
		if pp.Profile.DisplayName != "" {
			data["Title"] = pp.Profile.DisplayName + " · Portfolio"
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, "public", data); err != nil {
		// The status line is already out; all we can do is log.
		h.logger.Error("failed to render template", slog.String("error", err.Error()))
	}
}
