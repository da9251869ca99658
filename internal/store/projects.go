package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks a lookup for a row that does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateName marks an attempt to reuse a project name.
var ErrDuplicateName = errors.New("store: project name already exists")

// CreateProject inserts a project in the created stage and returns its id.
// Project names are unique across the database.
func (q *Queries) CreateProject(ctx context.Context, name, genre, tags, description string) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO projects (name, genre, tags, description) VALUES (?, ?, ?, ?)`,
		name, genre, tags, description)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return 0, fmt.Errorf("store: create project: %w", err)
	}
	return res.LastInsertId()
}

const projectColumns = `id, name, genre, tags, description, planning_text,
	world_building_raw, outline_raw, spoiler_config, stage, current_step,
	created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Genre, &p.Tags, &p.Description,
		&p.PlanningText, &p.WorldBuildingRaw, &p.OutlineRaw, &p.SpoilerConfig,
		&p.Stage, &p.CurrentStep, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan project: %w", err)
	}
	return &p, nil
}

// Project fetches one project by id.
func (q *Queries) Project(ctx context.Context, id int64) (*Project, error) {
	return scanProject(q.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

// Projects lists every project, newest first.
func (q *Queries) Projects(ctx context.Context) ([]*Project, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProjectPlanning stores the stage-1 planning text.
func (q *Queries) UpdateProjectPlanning(ctx context.Context, id int64, text string) error {
	return q.execOne(ctx,
		`UPDATE projects SET planning_text = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		text, id)
}

// UpdateProjectWorldRaw stores the raw stage-2 output. It is kept even when
// structured extraction succeeded, for operator inspection.
func (q *Queries) UpdateProjectWorldRaw(ctx context.Context, id int64, raw string) error {
	return q.execOne(ctx,
		`UPDATE projects SET world_building_raw = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		raw, id)
}

// UpdateProjectOutlineRaw stores the raw stage-3 output.
func (q *Queries) UpdateProjectOutlineRaw(ctx context.Context, id int64, raw string) error {
	return q.execOne(ctx,
		`UPDATE projects SET outline_raw = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		raw, id)
}

// SetSpoilerConfig stores author-only notes. Nothing downstream renders
// this into a prompt.
func (q *Queries) SetSpoilerConfig(ctx context.Context, id int64, cfg string) error {
	return q.execOne(ctx,
		`UPDATE projects SET spoiler_config = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		cfg, id)
}

// AdvanceStage sets the stage tag and raises current_step to at least step.
// The cursor never moves backward, so re-running an earlier stage keeps the
// high-water mark.
func (q *Queries) AdvanceStage(ctx context.Context, id int64, stage string, step int) error {
	if StageRank(stage) < 0 {
		return fmt.Errorf("store: unknown stage %q", stage)
	}
	return q.execOne(ctx,
		`UPDATE projects SET stage = ?, current_step = MAX(current_step, ?),
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		stage, step, id)
}

// DeleteProject removes the project and, through foreign keys, everything
// under it.
func (q *Queries) DeleteProject(ctx context.Context, id int64) error {
	return q.execOne(ctx, `DELETE FROM projects WHERE id = ?`, id)
}

// CreateVolume inserts one outline volume.
func (q *Queries) CreateVolume(ctx context.Context, v *Volume) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO volumes (project_id, ordinal, title, summary, volume_config)
		 VALUES (?, ?, ?, ?, ?)`,
		v.ProjectID, v.Ordinal, v.Title, v.Summary, v.VolumeConfig)
	if err != nil {
		return 0, fmt.Errorf("store: create volume: %w", err)
	}
	return res.LastInsertId()
}

// Volume fetches one volume by id.
func (q *Queries) Volume(ctx context.Context, id int64) (*Volume, error) {
	var v Volume
	err := q.db.QueryRowContext(ctx,
		`SELECT id, project_id, ordinal, title, summary, volume_config, created_at
		 FROM volumes WHERE id = ?`, id).
		Scan(&v.ID, &v.ProjectID, &v.Ordinal, &v.Title, &v.Summary, &v.VolumeConfig, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: volume", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan volume: %w", err)
	}
	return &v, nil
}

// Volumes lists a project's volumes in reading order.
func (q *Queries) Volumes(ctx context.Context, projectID int64) ([]*Volume, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, project_id, ordinal, title, summary, volume_config, created_at
		 FROM volumes WHERE project_id = ? ORDER BY ordinal`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list volumes: %w", err)
	}
	defer rows.Close()

	var out []*Volume
	for rows.Next() {
		var v Volume
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Ordinal, &v.Title,
			&v.Summary, &v.VolumeConfig, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan volume: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// DeleteVolumes clears a project's volumes, used when the outline stage is
// regenerated from scratch.
func (q *Queries) DeleteVolumes(ctx context.Context, projectID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM volumes WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: delete volumes: %w", err)
	}
	return nil
}

// execOne runs a statement that must touch exactly one row.
func (q *Queries) execOne(ctx context.Context, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
