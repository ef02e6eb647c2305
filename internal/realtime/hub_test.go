package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/progress-tracker/internal/model"
)

func newTestHub(buffer int) *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), buffer)
}

func TestPublish_FiltersByOwnerAndCollection(t *testing.T) {
	hub := newTestHub(4)
	mine := hub.Subscribe("ada", model.CollectionProjects)
	other := hub.Subscribe("bob", model.CollectionProjects)
	goals := hub.Subscribe("ada", model.CollectionGoals)
	defer mine.Close()
	defer other.Close()
	defer goals.Close()

	p := model.Project{ID: "p1", OwnerID: "ada", Title: "tracker"}
	hub.Publish("ada", model.Change{Kind: model.ChangeInsert, Collection: model.CollectionProjects, ID: "p1", Entity: p})

	require.Len(t, mine.Events(), 1)
	assert.Len(t, other.Events(), 0)
	assert.Len(t, goals.Events(), 0)

	ev := <-mine.Events()
	assert.Equal(t, model.ChangeInsert, ev.Kind)
	assert.Equal(t, "ada", ev.OwnerID)

	var got model.Project
	require.NoError(t, json.Unmarshal(ev.Entity, &got))
	assert.Equal(t, "tracker", got.Title)
}

func TestPublish_DeleteCarriesOnlyID(t *testing.T) {
	hub := newTestHub(4)
	sub := hub.Subscribe("ada", model.CollectionProjects)
	defer sub.Close()

	hub.Publish("ada", model.Change{Kind: model.ChangeDelete, Collection: model.CollectionProjects, ID: "p1"})

	ev := <-sub.Events()
	assert.Equal(t, model.ChangeDelete, ev.Kind)
	assert.Equal(t, "p1", ev.ID)
	assert.Nil(t, ev.Entity)
}

func TestPublish_FullBufferClosesSubscription(t *testing.T) {
	hub := newTestHub(1)
	sub := hub.Subscribe("ada", model.CollectionGoals)
	other := hub.Subscribe("ada", model.CollectionGoals)
	defer sub.Close()
	defer other.Close()

	publish := func() {
		hub.Publish("ada", model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionGoals, ID: "g1", Entity: model.DailyGoal{ID: "g1"}})
	}
	publish()
	<-other.Events()
	publish()

	// sub overflowed on the second publish: its buffered event is still
	// readable, then the channel is closed.
	assert.Equal(t, 1, sub.Dropped())
	_, ok := <-sub.Events()
	assert.True(t, ok)
	_, ok = <-sub.Events()
	assert.False(t, ok)

	// other kept up and stays attached.
	assert.Equal(t, 0, other.Dropped())
	assert.Equal(t, 1, hub.Subscribers("ada", model.CollectionGoals))
	<-other.Events()
	publish()
	assert.Len(t, other.Events(), 1)
}

func TestClose_DetachesAndIsIdempotent(t *testing.T) {
	hub := newTestHub(1)
	sub := hub.Subscribe("ada", model.CollectionBadges)
	assert.Equal(t, 1, hub.Subscribers("ada", model.CollectionBadges))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers("ada", model.CollectionBadges))

	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing after close must not panic on the closed channel.
	hub.Publish("ada", model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionBadges, ID: "b1"})
}
