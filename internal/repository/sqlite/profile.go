package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/progress-tracker/internal/apperror"
	"github.com/sakif/progress-tracker/internal/model"
)

const selectProfile = `SELECT id, user_id, display_name, bio, avatar_url, total_projects, total_xp,
	COALESCE(share_slug, ''), created_at, updated_at FROM portfolios`

// GetProfile returns the owner's profile row.
func (db *DB) GetProfile(ctx context.Context, ownerID string) (*model.PortfolioProfile, error) {
	p, err := scanProfile(db.conn.QueryRowContext(ctx, selectProfile+` WHERE user_id = ?`, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("profile", ownerID)
	}
	return p, err
}

// UpdateProfileStats writes the derived project totals onto the profile.
func (db *DB) UpdateProfileStats(ctx context.Context, ownerID string, totalProjects, totalXP int) (*model.PortfolioProfile, error) {
	var p *model.PortfolioProfile
	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE portfolios SET total_projects = ?, total_xp = ?, updated_at = ? WHERE user_id = ?`,
			totalProjects, totalXP, time.Now().UTC(), ownerID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating profile stats for %s: %w", ownerID, decodeErr(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperror.NotFound("profile", ownerID)
		}
		p, err = scanProfile(tx.QueryRowContext(ctx, selectProfile+` WHERE user_id = ?`, ownerID))
		return err
	})
	if err != nil {
		return nil, err
	}

	db.publisher.Publish(ownerID, model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionProfiles, ID: p.ID, Entity: *p})
	return p, nil
}

// SetShareSlug stores slug if the profile has none yet. The conditional
// UPDATE makes the first writer win; later callers get the stored profile
// back with the winning slug.
func (db *DB) SetShareSlug(ctx context.Context, ownerID, slug string) (*model.PortfolioProfile, error) {
	if slug == "" {
		return nil, apperror.ValidationFailed("share_slug", "share slug must not be empty")
	}

	var p *model.PortfolioProfile
	written := false
	err := db.withinTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE portfolios SET share_slug = ?, updated_at = ? WHERE user_id = ? AND share_slug IS NULL`,
			slug, time.Now().UTC(), ownerID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: setting share slug for %s: %w", ownerID, decodeErr(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		written = n > 0

		p, err = scanProfile(tx.QueryRowContext(ctx, selectProfile+` WHERE user_id = ?`, ownerID))
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("profile", ownerID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if written {
		db.publisher.Publish(ownerID, model.Change{Kind: model.ChangeUpdate, Collection: model.CollectionProfiles, ID: p.ID, Entity: *p})
	}
	return p, nil
}

// GetPublicPortfolio returns the profile holding slug and its projects.
func (db *DB) GetPublicPortfolio(ctx context.Context, slug string) (*model.PublicPortfolio, error) {
	if slug == "" {
		return nil, apperror.NotFound("portfolio", slug)
	}
	p, err := scanProfile(db.conn.QueryRowContext(ctx, selectProfile+` WHERE share_slug = ?`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("portfolio", slug)
	}
	if err != nil {
		return nil, err
	}

	projects, err := db.ListProjects(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return &model.PublicPortfolio{Profile: *p, Projects: projects}, nil
}

// scanProfile keeps sql.ErrNoRows visible to callers so they can turn it into
// NotFound with the right resource name.
func scanProfile(s rowScanner) (*model.PortfolioProfile, error) {
	var p model.PortfolioProfile
	err := s.Scan(&p.ID, &p.UserID, &p.DisplayName, &p.Bio, &p.AvatarURL,
		&p.TotalProjects, &p.TotalXP, &p.ShareSlug, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scanning profile: %w", decodeErr(err))
	}
	return &p, nil
}
