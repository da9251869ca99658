package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const plotArcColumns = `id, project_id, title, description, status, importance,
	planted_chapter, resolved_chapter, keywords, related_characters, notes,
	embedding, created_at, updated_at`

func scanPlotArc(row interface{ Scan(...any) error }) (*PlotArc, error) {
	var a PlotArc
	err := row.Scan(&a.ID, &a.ProjectID, &a.Title, &a.Description, &a.Status,
		&a.Importance, &a.PlantedChapter, &a.ResolvedChapter, &a.Keywords,
		&a.RelatedCharacters, &a.Notes, &a.Embedding, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: plot arc", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan plot arc: %w", err)
	}
	return &a, nil
}

// CreatePlotArc inserts an arc in the planted state.
func (q *Queries) CreatePlotArc(ctx context.Context, a *PlotArc) (int64, error) {
	if a.Status == "" {
		a.Status = ArcPlanted
	}
	if a.Importance == "" {
		a.Importance = ImportanceMedium
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO plot_arcs (project_id, title, description, status,
			importance, planted_chapter, keywords, related_characters, notes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ProjectID, a.Title, a.Description, a.Status, a.Importance,
		a.PlantedChapter, jsonOr(a.Keywords, "[]"),
		jsonOr(a.RelatedCharacters, "[]"), a.Notes)
	if err != nil {
		return 0, fmt.Errorf("store: create plot arc: %w", err)
	}
	return res.LastInsertId()
}

// PlotArc fetches one arc by id.
func (q *Queries) PlotArc(ctx context.Context, id int64) (*PlotArc, error) {
	return scanPlotArc(q.db.QueryRowContext(ctx,
		`SELECT `+plotArcColumns+` FROM plot_arcs WHERE id = ?`, id))
}

// PlotArcs lists every arc of a project in insertion order.
func (q *Queries) PlotArcs(ctx context.Context, projectID int64) ([]*PlotArc, error) {
	return q.collectArcs(ctx,
		`SELECT `+plotArcColumns+` FROM plot_arcs WHERE project_id = ? ORDER BY id`,
		projectID)
}

// ActivePlotArcs lists planted and developing arcs sorted high > medium >
// low, then by insertion order within a level.
func (q *Queries) ActivePlotArcs(ctx context.Context, projectID int64) ([]*PlotArc, error) {
	return q.collectArcs(ctx,
		`SELECT `+plotArcColumns+` FROM plot_arcs
		 WHERE project_id = ? AND status IN (?, ?)
		 ORDER BY CASE importance
			WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, id`,
		projectID, ArcPlanted, ArcDeveloping)
}

// PlotArcsWithoutEmbedding lists arcs the retriever has not indexed yet.
func (q *Queries) PlotArcsWithoutEmbedding(ctx context.Context, projectID int64) ([]*PlotArc, error) {
	return q.collectArcs(ctx,
		`SELECT `+plotArcColumns+` FROM plot_arcs
		 WHERE project_id = ? AND embedding IS NULL ORDER BY id`,
		projectID)
}

func (q *Queries) collectArcs(ctx context.Context, query string, args ...any) ([]*PlotArc, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list plot arcs: %w", err)
	}
	defer rows.Close()

	var out []*PlotArc
	for rows.Next() {
		a, err := scanPlotArc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetPlotArcStatus moves an arc to status, recording the resolution chapter
// when one is given. Lifecycle legality is enforced by the tracker service,
// not here.
func (q *Queries) SetPlotArcStatus(ctx context.Context, id int64, status string, resolvedChapter *int) error {
	return q.execOne(ctx,
		`UPDATE plot_arcs SET status = ?, resolved_chapter = ?,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, resolvedChapter, id)
}

// AppendPlotArcDevelopment appends a development note to the arc's notes
// and moves planted arcs to developing. The description stays as authored.
func (q *Queries) AppendPlotArcDevelopment(ctx context.Context, id int64, note string) error {
	return q.execOne(ctx,
		`UPDATE plot_arcs SET
			notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END,
			status = CASE WHEN status = ? THEN ? ELSE status END,
			embedding = NULL,
			updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		note, note, ArcPlanted, ArcDeveloping, id)
}

// SetPlotArcEmbedding persists the retrieval vector as JSON.
func (q *Queries) SetPlotArcEmbedding(ctx context.Context, id int64, embedding string) error {
	return q.execOne(ctx,
		`UPDATE plot_arcs SET embedding = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		embedding, id)
}

// ClearPlotArcEmbeddings drops every vector for a forced reindex.
func (q *Queries) ClearPlotArcEmbeddings(ctx context.Context, projectID int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE plot_arcs SET embedding = NULL WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: clear embeddings: %w", err)
	}
	return nil
}
