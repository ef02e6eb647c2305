package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/progress-tracker/internal/model"
)

const selectProject = `SELECT id, owner_id, title, description, category, role, technologies,
	image_url, status, achievements, links, xp_value, created_at, updated_at FROM projects`

// ListProjects returns the owner's projects, oldest first.
func (db *DB) ListProjects(ctx context.Context, ownerID string) ([]model.Project, error) {
	rows, err := db.conn.QueryContext(ctx,
		selectProject+` WHERE owner_id = ? ORDER BY created_at ASC, id ASC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing projects for %s: %w", ownerID, decodeErr(err))
	}
	defer rows.Close()

	projects := []model.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating projects: %w", decodeErr(err))
	}
	return projects, nil
}

// CreateProject inserts p. A caller-supplied id is kept so the provisional
// id used by an optimistic insert stays the key after confirmation.
func (db *DB) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = xid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	tech, ach, links, err := encodeProjectLists(p)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO projects (id, owner_id, title, description, category, role, technologies,
			image_url, status, achievements, links, xp_value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Title, p.Description, p.Category, p.Role, tech,
		p.ImageURL, p.Status, ach, links, p.XPValue, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting project %s: %w", p.ID, decodeErr(err))
	}

	db.publisher.Publish(p.OwnerID, model.Change{Kind: model.ChangeInsert, Collection: model.CollectionProjects, ID: p.ID, Entity: p.Clone()})
	return nil
}

// UpdateProject overwrites every editable column of p. The row must exist
// and belong to p.OwnerID.
func (db *DB) UpdateProject(ctx context.Context, p *model.Project) error {
	tech, ach, links, err := encodeProjectLists(p)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	err = db.withinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE projects SET title = ?, description = ?, category = ?, role = ?, technologies = ?,
				image_url = ?, status = ?, achievements = ?, links = ?, xp_value = ?, updated_at = ?
			 WHERE id = ? AND owner_id = ?`,
			p.Title, p.Description, p.Category, p.Role, tech,
			p.ImageURL, p.Status, ach, links, p.XPValue, p.UpdatedAt,
			p.ID, p.OwnerID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating project %s: %w", p.ID, decodeErr(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ownership(ctx, tx, "projects", "owner_id", "project", p.ID, p.OwnerID)
		}

		stored, err := scanProject(tx.QueryRowContext(ctx, selectProject+` WHERE id = ?`, p.ID))
		if err != nil {
			return err
		}
		*p = *stored
		return nil
	})
	if err != nil {
		return err
	}

	db.publisher.Publish(p.OwnerID, model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionProjects, ID: p.ID, Entity: p.Clone()})
	return nil
}

// DeleteProject removes the project. Deleting another owner's project is
// PermissionDenied; deleting a missing one is NotFound.
func (db *DB) DeleteProject(ctx context.Context, ownerID, id string) error {
	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ? AND owner_id = ?`, id, ownerID)
		if err != nil {
			return fmt.Errorf("sqlite: deleting project %s: %w", id, decodeErr(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ownership(ctx, tx, "projects", "owner_id", "project", id, ownerID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.publisher.Publish(ownerID, model.Change{Kind: model.ChangeDelete, Collection: model.CollectionProjects, ID: id})
	return nil
}

func encodeProjectLists(p *model.Project) (tech, ach, links string, err error) {
	if p.Technologies == nil {
		p.Technologies = []string{}
	}
	if p.Achievements == nil {
		p.Achievements = []string{}
	}
	b, err := json.Marshal(p.Technologies)
	if err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding technologies: %w", err)
	}
	tech = string(b)
	if b, err = json.Marshal(p.Achievements); err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding achievements: %w", err)
	}
	ach = string(b)
	if b, err = json.Marshal(p.Links); err != nil {
		return "", "", "", fmt.Errorf("sqlite: encoding links: %w", err)
	}
	links = string(b)
	return tech, ach, links, nil
}

func scanProject(s rowScanner) (*model.Project, error) {
	var p model.Project
	var tech, ach, links string
	err := s.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.Category, &p.Role, &tech,
		&p.ImageURL, &p.Status, &ach, &links, &p.XPValue, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning project: %w", decodeErr(err))
	}
	if err := json.Unmarshal([]byte(tech), &p.Technologies); err != nil {
		return nil, fmt.Errorf("sqlite: decoding technologies of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(ach), &p.Achievements); err != nil {
		return nil, fmt.Errorf("sqlite: decoding achievements of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(links), &p.Links); err != nil {
		return nil, fmt.Errorf("sqlite: decoding links of %s: %w", p.ID, err)
	}
	return &p, nil
}
