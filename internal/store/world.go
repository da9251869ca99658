package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const worldItemColumns = `id, project_id, kind, name, description, properties, keywords, created_at`

func scanWorldItem(row interface{ Scan(...any) error }) (*WorldItem, error) {
	var w WorldItem
	err := row.Scan(&w.ID, &w.ProjectID, &w.Kind, &w.Name, &w.Description,
		&w.Properties, &w.Keywords, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: world item", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan world item: %w", err)
	}
	return &w, nil
}

// CreateWorldItem inserts one setting entry.
func (q *Queries) CreateWorldItem(ctx context.Context, w *WorldItem) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO world_items (project_id, kind, name, description, properties, keywords)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.ProjectID, w.Kind, w.Name, w.Description,
		jsonOr(w.Properties, "{}"), jsonOr(w.Keywords, "[]"))
	if err != nil {
		return 0, fmt.Errorf("store: create world item: %w", err)
	}
	return res.LastInsertId()
}

// WorldItems lists a project's world entries in insertion order.
func (q *Queries) WorldItems(ctx context.Context, projectID int64) ([]*WorldItem, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+worldItemColumns+` FROM world_items WHERE project_id = ? ORDER BY id`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list world items: %w", err)
	}
	defer rows.Close()

	var out []*WorldItem
	for rows.Next() {
		w, err := scanWorldItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteWorldItems clears a project's world entries for regeneration.
func (q *Queries) DeleteWorldItems(ctx context.Context, projectID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM world_items WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: delete world items: %w", err)
	}
	return nil
}
