package coordinator

import (
	"context"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/store"
)

// AddProject validates in, inserts a provisional project under a fresh id
// and creates it remotely. The provisional id is the upsert key for the
// authoritative row, so confirmation replaces the provisional entity in
// place.
func (c *Coordinator) AddProject(ctx context.Context, in model.Project) (model.Project, *Operation, error) {
	op, s, err := c.begin(KindAddProject, "")
	if err != nil {
		return model.Project{}, op, err
	}

	p, err := validateNewProject(in)
	if err != nil {
		return model.Project{}, op, op.fail(err)
	}
	now := c.now().UTC()
	p.ID = xid.New().String()
	p.OwnerID = s.OwnerID
	p.CreatedAt = now
	p.UpdatedAt = now
	op.EntityID = p.ID

	if !c.optimistic(op, func(st *store.Store) { st.Projects.Upsert(p) }) {
		return model.Project{}, op, op.Err()
	}

	created := p.Clone()
	if err := c.remote.CreateProject(ctx, &created); err != nil {
		return model.Project{}, op, c.rollback(op, err, func(st *store.Store) {
			st.Projects.Remove(p.ID)
		})
	}

	c.confirm(op, func(st *store.Store) { st.Projects.Upsert(created) })
	c.aggregates.Kick()
	return created, op, nil
}

// UpdateProject merges patch onto the stored project, writes it remotely and
// reconciles with the response. Stats are recomputed whatever fields the
// patch touched.
func (c *Coordinator) UpdateProject(ctx context.Context, id string, patch model.ProjectPatch) (model.Project, *Operation, error) {
	op, _, err := c.begin(KindUpdateProject, id)
	if err != nil {
		return model.Project{}, op, err
	}
	if err := validatePatch(patch); err != nil {
		return model.Project{}, op, op.fail(err)
	}

	var before model.Project
	found := false
	c.Apply(op.Epoch, func(st *store.Store) {
		before, found = st.Projects.Get(id)
	})
	if !found {
		return model.Project{}, op, op.fail(apperror.NotFound("project", id))
	}

	merged := before.Merge(patch)
	merged.UpdatedAt = c.now().UTC()
	if !c.optimistic(op, func(st *store.Store) { st.Projects.Upsert(merged) }) {
		return model.Project{}, op, op.Err()
	}

	updated := merged.Clone()
	if err := c.remote.UpdateProject(ctx, &updated); err != nil {
		return model.Project{}, op, c.rollback(op, err, func(st *store.Store) {
			st.Projects.Upsert(before)
		})
	}

	c.confirm(op, func(st *store.Store) { st.Projects.Upsert(updated) })
	c.aggregates.Kick()
	return updated, op, nil
}

// DeleteProject removes the project optimistically and deletes it remotely.
// The removed value is kept until the remote answers so a failure restores
// it with identical fields.
func (c *Coordinator) DeleteProject(ctx context.Context, id string) (*Operation, error) {
	op, s, err := c.begin(KindDeleteProject, id)
	if err != nil {
		return op, err
	}

	found := false
	c.Apply(op.Epoch, func(st *store.Store) {
		_, found = st.Projects.Get(id)
	})
	if !found {
		return op, op.fail(apperror.NotFound("project", id))
	}

	var removed model.Project
	at := -1
	if !c.optimistic(op, func(st *store.Store) {
		at = st.Projects.Index(id)
		removed, _ = st.Projects.Remove(id)
	}) {
		return op, op.Err()
	}

	if err := c.remote.DeleteProject(ctx, s.OwnerID, id); err != nil {
		return op, c.rollback(op, err, func(st *store.Store) {
			if removed.ID != "" {
				st.Projects.Restore(at, removed)
			}
		})
	}

	c.confirm(op, func(st *store.Store) {})
	c.aggregates.Kick()
	return op, nil
}

func validateNewProject(in model.Project) (model.Project, error) {
	p := in.Clone()
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return p, apperror.ValidationFailed("title", "project title is required")
	}
	if p.Status == "" {
		p.Status = model.ProjectInProgress
	}
	if !p.Status.Valid() {
		return p, apperror.ValidationFailed("status", "status must be in_progress, completed or upcoming")
	}
	if p.XPValue < 0 {
		return p, apperror.ValidationFailed("xp_value", "xp_value must not be negative")
	}
	if p.Technologies == nil {
		p.Technologies = []string{}
	}
	if p.Achievements == nil {
		p.Achievements = []string{}
	}
	return p, nil
}

func validatePatch(pp model.ProjectPatch) error {
	if pp.IsEmpty() {
		return apperror.ValidationFailed("", "update changes no fields")
	}
	if pp.Title != nil && strings.TrimSpace(*pp.Title) == "" {
		return apperror.ValidationFailed("title", "project title must not be empty")
	}
	if pp.Status != nil && !pp.Status.Valid() {
		return apperror.ValidationFailed("status", "status must be in_progress, completed or upcoming")
	}
	if pp.XPValue != nil && *pp.XPValue < 0 {
		return apperror.ValidationFailed("xp_value", "xp_value must not be negative")
	}
	return nil
}
