package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/auth"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/realtime"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"validation", apperror.ValidationFailed("title", "title is required"), http.StatusBadRequest, "validation_error", "title is required"},
		{"unauthenticated", apperror.NotAuthenticated(), http.StatusUnauthorized, "unauthenticated", "no authenticated owner"},
		{"forbidden", apperror.PermissionDenied("not yours"), http.StatusForbidden, "permission_denied", "not yours"},
		{"not found", apperror.NotFound("project", "p1"), http.StatusNotFound, "not_found", "project not found with id p1"},
		{"conflict", apperror.Conflict("project", "p1"), http.StatusConflict, "unique_violation", "project conflict with id p1"},
		{"wrapped", fmt.Errorf("sqlite: inserting: %w", apperror.Conflict("project", "p2")), http.StatusConflict, "unique_violation", "project conflict with id p2"},
		{"unknown kind", apperror.Unknown("disk full"), http.StatusInternalServerError, "unknown", "disk full"},
		{"unclassified", errors.New("near \"SELEC\": syntax error"), http.StatusInternalServerError, "unknown", "an internal error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, discardLogger(), tt.err)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

func TestWriteError_KeepsField(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, discardLogger(), apperror.ValidationFailed("xp_value", "xp_value must not be negative"))
	assert.Contains(t, rr.Body.String(), `"field":"xp_value"`)
}

func TestDecodeJSON(t *testing.T) {
	var p model.Project
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"ok","xp_value":5}`))
	require.NoError(t, decodeJSON(r, &p))
	assert.Equal(t, "ok", p.Title)
	assert.Equal(t, 5, p.XPValue)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"ok","owner":"someone"}`))
	err := decodeJSON(r, &p)
	assert.True(t, errors.Is(err, apperror.ErrValidation), "unknown fields are rejected")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":`))
	err = decodeJSON(r, &p)
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func newFeedServer(t *testing.T, hub *realtime.Hub, heartbeat time.Duration) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if owner := r.Header.Get("X-Test-Owner"); owner != "" {
				r = r.WithContext(auth.WithOwnerID(r.Context(), owner))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Get("/api/feed/{collection}", NewFeedHandler(hub, heartbeat, discardLogger()).HandleFeed)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleFeed_StreamsChangesAndPings(t *testing.T) {
	hub := realtime.NewHub(discardLogger(), 8)
	srv := newFeedServer(t, hub, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/feed/projects", nil)
	require.NoError(t, err)
	req.Header.Set("X-Test-Owner", "ada")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, ": connected", lines.Text())

	hub.Publish("ada", model.Change{
		Kind: model.ChangeInsert, Collection: model.CollectionProjects, ID: "p1",
		Entity: model.Project{ID: "p1", OwnerID: "ada", Title: "engine"},
	})
	// Another collection and another owner are not on this stream.
	hub.Publish("ada", model.Change{Kind: model.ChangeDelete, Collection: model.CollectionGoals, ID: "g1"})
	hub.Publish("bob", model.Change{Kind: model.ChangeDelete, Collection: model.CollectionProjects, ID: "p9"})

	var data []string
	pinged := false
	deadline := time.Now().Add(2 * time.Second)
	for (len(data) == 0 || !pinged) && time.Now().Before(deadline) && lines.Scan() {
		switch line := lines.Text(); {
		case line == ": ping":
			pinged = true
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	assert.True(t, pinged)
	require.Len(t, data, 1)

	var ev realtime.Event
	require.NoError(t, json.Unmarshal([]byte(data[0]), &ev))
	assert.Equal(t, model.ChangeInsert, ev.Kind)
	assert.Equal(t, "p1", ev.ID)
	assert.Equal(t, "ada", ev.OwnerID)

	cancel()
	assert.Eventually(t, func() bool {
		return hub.Subscribers("ada", model.CollectionProjects) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestHandleFeed_Rejects(t *testing.T) {
	hub := realtime.NewHub(discardLogger(), 8)
	srv := newFeedServer(t, hub, 0)

	resp, err := http.Get(srv.URL + "/api/feed/projects")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/feed/tasks", nil)
	req.Header.Set("X-Test-Owner", "ada")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
