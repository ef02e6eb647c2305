package feed

import (
	"context"

	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/realtime"
)

// HubSource reads push events straight from an in-process realtime.Hub.
// The server uses it to run a core next to the hub without going through
// HTTP.
type HubSource struct {
	Hub *realtime.Hub
}

// Open subscribes to the hub and detaches when ctx is cancelled.
func (s HubSource) Open(ctx context.Context, collection model.Collection, ownerID string) (<-chan realtime.Event, error) {
	sub := s.Hub.Subscribe(ownerID, collection)
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub.Events(), nil
}
