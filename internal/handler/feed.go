package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/auth"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/realtime"
)

// DefaultHeartbeat is how often an idle feed stream sends a keep-alive
// comment, so proxies do not close it.
const DefaultHeartbeat = 25 * time.Second

// FeedHandler streams committed changes to subscribers over Server-Sent
// Events.
//
// HTTP: GET /api/feed/{collection}
//
// WIRE FORMAT:
//
//	: connected
//
//	event: change
//	data: {"kind":"insert","collection":"projects","owner_id":"...","id":"...","entity":{...}}
//
// One stream carries one collection of the authenticated owner. The stream
// ends when the client disconnects.
type FeedHandler struct {
	hub       *realtime.Hub
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewFeedHandler creates a FeedHandler. heartbeat <= 0 selects
// DefaultHeartbeat.
func NewFeedHandler(hub *realtime.Hub, heartbeat time.Duration, logger *slog.Logger) *FeedHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &FeedHandler{hub: hub, heartbeat: heartbeat, logger: logger}
}

func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.OwnerIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.NotAuthenticated())
		return
	}
	collection, err := model.ParseCollection(chi.URLParam(r, "collection"))
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("collection", err.Error()))
		return
	}

	// ResponseController reaches Flush through wrappers that implement
	// Unwrap, such as the logging middleware.
	rc := http.NewResponseController(w)

	sub := h.hub.Subscribe(ownerID, collection)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Error("feed: response does not support flushing", slog.String("error", err.Error()))
		return
	}

	h.logger.Debug("feed stream opened",
		slog.String("owner_id", ownerID),
		slog.String("collection", string(collection)))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("feed stream closed",
				slog.String("owner_id", ownerID),
				slog.String("collection", string(collection)),
				slog.Int("dropped", sub.Dropped()))
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("feed: encoding event", slog.String("id", ev.ID), slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
