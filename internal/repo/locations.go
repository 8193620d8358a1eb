package repo

import (
	"context"
	"database/sql"
	"fmt"

	"recordline/internal/domain"
)

// UpsertLocation writes one node of the office/jurisdiction hierarchy.
func (r Repo) UpsertLocation(ctx context.Context, loc domain.Location) error {
	if loc.ID == "" {
		return fmt.Errorf("location id required")
	}
	if loc.ParentID != "" {
		if _, err := r.GetLocation(ctx, loc.ParentID); err != nil {
			return fmt.Errorf("parent location %s: %w", loc.ParentID, err)
		}
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO locations(id,parent_id,name) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET parent_id=excluded.parent_id, name=excluded.name`,
		loc.ID, nullable(loc.ParentID), loc.Name)
	return err
}

func (r Repo) GetLocation(ctx context.Context, id string) (domain.Location, error) {
	var loc domain.Location
	var parent sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,parent_id,name FROM locations WHERE id=?`, id).
		Scan(&loc.ID, &parent, &loc.Name)
	if err == sql.ErrNoRows {
		return loc, ErrNotFound
	}
	loc.ParentID = parent.String
	return loc, err
}

func (r Repo) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,parent_id,name FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Location
	for rows.Next() {
		var loc domain.Location
		var parent sql.NullString
		if err := rows.Scan(&loc.ID, &parent, &loc.Name); err != nil {
			return nil, err
		}
		loc.ParentID = parent.String
		out = append(out, loc)
	}
	return out, rows.Err()
}

// LocationWithin reports whether loc equals ancestor or lies anywhere in its
// subtree, so searching by a parent location matches all child-location
// events. Unknown locations only match themselves.
func (r Repo) LocationWithin(ctx context.Context, ancestor, loc string) (bool, error) {
	if ancestor == "" || loc == "" {
		return false, nil
	}
	cur := loc
	for depth := 0; depth < 64; depth++ {
		if cur == ancestor {
			return true, nil
		}
		parent, err := r.parentOf(ctx, cur)
		if err != nil {
			if err == ErrNotFound {
				return false, nil
			}
			return false, err
		}
		if parent == "" {
			return false, nil
		}
		cur = parent
	}
	return false, fmt.Errorf("location hierarchy too deep at %s", loc)
}

func (r Repo) parentOf(ctx context.Context, id string) (string, error) {
	var parent sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT parent_id FROM locations WHERE id=?`, id).Scan(&parent)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return parent.String, err
}
