package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/realtime"
)

func TestListProjects_SendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthenticated"}) //nolint:errcheck
			return
		}
		json.NewEncoder(w).Encode([]model.Project{{ID: "p1", Title: "tracker"}}) //nolint:errcheck
	}))
	defer srv.Close()

	ps, err := New(srv.URL, "test-token").ListProjects(context.Background(), "ignored")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "tracker", ps[0].Title)

	_, err = New(srv.URL, "bad").ListProjects(context.Background(), "ignored")
	assert.True(t, IsStatus(err, http.StatusUnauthorized))
	assert.True(t, errors.Is(err, apperror.ErrNotAuthenticated))
}

func TestCreateProject_CopiesStoredRowBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p model.Project
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		p.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p) //nolint:errcheck
	}))
	defer srv.Close()

	p := &model.Project{ID: "provisional", Title: "tracker"}
	require.NoError(t, New(srv.URL, "t").CreateProject(context.Background(), p))
	assert.Equal(t, "provisional", p.ID)
	assert.Equal(t, 2026, p.CreatedAt.Year())
}

func TestErrorDecoding(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
	}{
		{"coded conflict", http.StatusConflict, `{"error":"unique_violation","message":"project p1 already exists"}`, apperror.ErrConflict, "project p1 already exists"},
		{"coded permission", http.StatusForbidden, `{"error":"permission_denied","message":"not yours"}`, apperror.ErrPermissionDenied, "not yours"},
		{"coded not found", http.StatusNotFound, `{"error":"not_found","message":"no such slug"}`, apperror.ErrNotFound, "no such slug"},
		{"relation missing is unknown", http.StatusInternalServerError, `{"error":"relation_missing","message":"no table"}`, apperror.ErrUnknown, "no table"},
		{"plain text by status", http.StatusConflict, "duplicate", apperror.ErrConflict, "duplicate"},
		{"bad gateway", http.StatusBadGateway, "upstream down", apperror.ErrUnknown, "upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			err := New(srv.URL, "t").DeleteProject(context.Background(), "o", "p1")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			assert.True(t, IsStatus(err, tt.status))

			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.message, appErr.Message)
		})
	}
}

func TestCompleteGoal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/goals/g1/complete", r.URL.Path)
		var req CompleteGoalRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(CompleteGoalResponse{ //nolint:errcheck
			Completion: model.GoalCompletion{
				Goal:  model.DailyGoal{ID: "g1", Status: model.GoalCompleted},
				Stats: model.GamificationStats{TotalXP: req.RewardXP},
			},
			Awarded: true,
		})
	}))
	defer srv.Close()

	res, awarded, err := New(srv.URL, "t").CompleteGoal(context.Background(), "o", "g1", 25, time.Now())
	require.NoError(t, err)
	assert.True(t, awarded)
	assert.Equal(t, 25, res.Stats.TotalXP)
	assert.Equal(t, model.GoalCompleted, res.Goal.Status)
}

func TestLeaderboard_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode([]model.LeaderboardEntry{{Rank: 1, UserID: "ada"}}) //nolint:errcheck
	}))
	defer srv.Close()

	entries, err := New(srv.URL, "").Leaderboard(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ada", entries[0].UserID)
}

func TestOpen_ReadsServerSentEvents(t *testing.T) {
	p := model.Project{ID: "p1", OwnerID: "ada", Title: "tracker"}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	insert, err := json.Marshal(realtime.Event{Kind: model.ChangeInsert, Collection: model.CollectionProjects, OwnerID: "ada", ID: "p1", Entity: raw})
	require.NoError(t, err)
	stray, err := json.Marshal(realtime.Event{Kind: model.ChangeDelete, Collection: model.CollectionProjects, OwnerID: "bob", ID: "p9"})
	require.NoError(t, err)
	del, err := json.Marshal(realtime.Event{Kind: model.ChangeDelete, Collection: model.CollectionProjects, OwnerID: "ada", ID: "p1"})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/feed/projects", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprintf(w, "event: change\ndata: %s\n\n", insert)
		fmt.Fprintf(w, "event: change\ndata: %s\n\n", stray)
		fmt.Fprintf(w, "data: %s\n\n", del)
	}))
	defer srv.Close()

	events, err := New(srv.URL, "t").Open(context.Background(), model.CollectionProjects, "ada")
	require.NoError(t, err)

	var got []realtime.Event
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, model.ChangeInsert, got[0].Kind)
	assert.JSONEq(t, string(raw), string(got[0].Entity))
	assert.Equal(t, model.ChangeDelete, got[1].Kind)
	assert.Equal(t, "p1", got[1].ID)
}

func TestOpen_RejectedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthenticated","message":"valid authentication required"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Open(context.Background(), model.CollectionGoals, "ada")
	assert.True(t, errors.Is(err, apperror.ErrNotAuthenticated))
}

func TestOpen_CancelClosesChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := New(srv.URL, "t").Open(ctx, model.CollectionGoals, "ada")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestReadEvents_ReportsBrokenStream(t *testing.T) {
	body := "data: " + strings.Repeat("x", maxEventSize+1) + "\n\n"
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(body))}

	out := make(chan realtime.Event, 1)
	err := readEvents(context.Background(), resp, "ada", out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, bufio.ErrTooLong))
	assert.Len(t, out, 0)
}

func TestReadEvents_CleanEndIsNotAnError(t *testing.T) {
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(": connected\n\n"))}
	assert.NoError(t, readEvents(context.Background(), resp, "ada", make(chan realtime.Event)))
}
