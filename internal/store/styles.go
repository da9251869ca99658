package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const styleProfileColumns = `id, project_id, name, source_sample, features,
	style_guide, is_active, created_at`

func scanStyleProfile(row interface{ Scan(...any) error }) (*StyleProfile, error) {
	var p StyleProfile
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.SourceSample,
		&p.Features, &p.StyleGuide, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: style profile", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan style profile: %w", err)
	}
	return &p, nil
}

// CreateStyleProfile inserts an inactive profile.
func (q *Queries) CreateStyleProfile(ctx context.Context, p *StyleProfile) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO style_profiles (project_id, name, source_sample, features, style_guide)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ProjectID, p.Name, p.SourceSample, jsonOr(p.Features, "{}"), p.StyleGuide)
	if err != nil {
		return 0, fmt.Errorf("store: create style profile: %w", err)
	}
	return res.LastInsertId()
}

// StyleProfile fetches one profile by id.
func (q *Queries) StyleProfile(ctx context.Context, id int64) (*StyleProfile, error) {
	return scanStyleProfile(q.db.QueryRowContext(ctx,
		`SELECT `+styleProfileColumns+` FROM style_profiles WHERE id = ?`, id))
}

// StyleProfiles lists a project's profiles, newest first.
func (q *Queries) StyleProfiles(ctx context.Context, projectID int64) ([]*StyleProfile, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+styleProfileColumns+` FROM style_profiles
		 WHERE project_id = ? ORDER BY id DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list style profiles: %w", err)
	}
	defer rows.Close()

	var out []*StyleProfile
	for rows.Next() {
		p, err := scanStyleProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActiveStyleProfile returns the single active profile, or ErrNotFound.
func (q *Queries) ActiveStyleProfile(ctx context.Context, projectID int64) (*StyleProfile, error) {
	return scanStyleProfile(q.db.QueryRowContext(ctx,
		`SELECT `+styleProfileColumns+` FROM style_profiles
		 WHERE project_id = ? AND is_active = 1`, projectID))
}

// ActivateStyleProfile flips id active and everything else in the project
// inactive, preserving the at-most-one-active invariant in one statement
// pair.
func (q *Queries) ActivateStyleProfile(ctx context.Context, projectID, id int64) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE style_profiles SET is_active = 0 WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("store: deactivate style profiles: %w", err)
	}
	return q.execOne(ctx,
		`UPDATE style_profiles SET is_active = 1 WHERE id = ? AND project_id = ?`,
		id, projectID)
}

// DeactivateStyleProfiles turns styling off for the project.
func (q *Queries) DeactivateStyleProfiles(ctx context.Context, projectID int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE style_profiles SET is_active = 0 WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: deactivate style profiles: %w", err)
	}
	return nil
}

// DeleteStyleProfile removes one profile.
func (q *Queries) DeleteStyleProfile(ctx context.Context, id int64) error {
	return q.execOne(ctx, `DELETE FROM style_profiles WHERE id = ?`, id)
}
