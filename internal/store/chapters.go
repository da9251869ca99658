package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode"
)

// CountWords counts non-whitespace runes, the convention for CJK prose
// where a word boundary is not marked by spaces.
func CountWords(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

const chapterColumns = `id, project_id, volume_id, ordinal, title, outline,
	detail_outline, content, summary, word_count, key_events,
	characters_involved, quality_report, created_at, updated_at`

func scanChapter(row interface{ Scan(...any) error }) (*Chapter, error) {
	var c Chapter
	err := row.Scan(&c.ID, &c.ProjectID, &c.VolumeID, &c.Ordinal, &c.Title,
		&c.Outline, &c.DetailOutline, &c.Content, &c.Summary, &c.WordCount,
		&c.KeyEvents, &c.CharactersInvolved, &c.QualityReport,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chapter", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan chapter: %w", err)
	}
	return &c, nil
}

// CreateChapter inserts a chapter skeleton from the outline stage.
func (q *Queries) CreateChapter(ctx context.Context, c *Chapter) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO chapters (project_id, volume_id, ordinal, title, outline,
			key_events, characters_involved)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.VolumeID, c.Ordinal, c.Title, c.Outline,
		jsonOr(c.KeyEvents, "[]"), jsonOr(c.CharactersInvolved, "[]"))
	if err != nil {
		return 0, fmt.Errorf("store: create chapter: %w", err)
	}
	return res.LastInsertId()
}

// Chapter fetches one chapter by id.
func (q *Queries) Chapter(ctx context.Context, id int64) (*Chapter, error) {
	return scanChapter(q.db.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE id = ?`, id))
}

// ChapterByOrder fetches the chapter at a reading-order position.
func (q *Queries) ChapterByOrder(ctx context.Context, projectID int64, ordinal int) (*Chapter, error) {
	return scanChapter(q.db.QueryRowContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE project_id = ? AND ordinal = ?`,
		projectID, ordinal))
}

// Chapters lists a project's chapters in reading order.
func (q *Queries) Chapters(ctx context.Context, projectID int64) ([]*Chapter, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters WHERE project_id = ? ORDER BY ordinal`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list chapters: %w", err)
	}
	defer rows.Close()
	return collectChapters(rows)
}

// ChaptersBefore lists the chapters strictly before ordinal, ascending.
// The recap builder walks this window.
func (q *Queries) ChaptersBefore(ctx context.Context, projectID int64, ordinal int) ([]*Chapter, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters
		 WHERE project_id = ? AND ordinal < ? ORDER BY ordinal`,
		projectID, ordinal)
	if err != nil {
		return nil, fmt.Errorf("store: list prior chapters: %w", err)
	}
	defer rows.Close()
	return collectChapters(rows)
}

// SearchChaptersBySubstring finds chapters whose body contains needle.
func (q *Queries) SearchChaptersBySubstring(ctx context.Context, projectID int64, needle string) ([]*Chapter, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+chapterColumns+` FROM chapters
		 WHERE project_id = ? AND instr(content, ?) > 0 ORDER BY ordinal`,
		projectID, needle)
	if err != nil {
		return nil, fmt.Errorf("store: search chapters: %w", err)
	}
	defer rows.Close()
	return collectChapters(rows)
}

func collectChapters(rows *sql.Rows) ([]*Chapter, error) {
	var out []*Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetDetailOutline stores the step-4 result. Non-null detail_outline is the
// step-4 completion marker the pipeline skips on.
func (q *Queries) SetDetailOutline(ctx context.Context, id int64, detail string) error {
	return q.execOne(ctx,
		`UPDATE chapters SET detail_outline = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		detail, id)
}

// SetChapterContent writes the body, recomputes word_count, and invalidates
// the cached summary. Every body write goes through here so the count and
// the cache can never drift from the text.
func (q *Queries) SetChapterContent(ctx context.Context, id int64, content string) error {
	return q.execOne(ctx,
		`UPDATE chapters SET content = ?, word_count = ?, summary = NULL,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		content, CountWords(content), id)
}

// SetChapterContentKeepSummary writes the body without dropping the cached
// summary, for rollbacks that restore a body the summary already matches.
func (q *Queries) SetChapterContentKeepSummary(ctx context.Context, id int64, content string) error {
	return q.execOne(ctx,
		`UPDATE chapters SET content = ?, word_count = ?,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		content, CountWords(content), id)
}

// SetChapterSummary stores the compression cache for a chapter.
func (q *Queries) SetChapterSummary(ctx context.Context, id int64, summary string) error {
	return q.execOne(ctx,
		`UPDATE chapters SET summary = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		summary, id)
}

// SetChapterMeta stores the structured extraction of a written chapter.
func (q *Queries) SetChapterMeta(ctx context.Context, id int64, keyEvents, charactersInvolved string) error {
	return q.execOne(ctx,
		`UPDATE chapters SET key_events = ?, characters_involved = ?,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		keyEvents, charactersInvolved, id)
}

// SetQualityReport stores the step-6 report.
func (q *Queries) SetQualityReport(ctx context.Context, id int64, report string) error {
	return q.execOne(ctx,
		`UPDATE chapters SET quality_report = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		report, id)
}

// DeleteChapters removes every chapter of a project. The outline stage
// clears old structure before writing a regenerated tree.
func (q *Queries) DeleteChapters(ctx context.Context, projectID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM chapters WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: delete chapters: %w", err)
	}
	return nil
}

// ChapterCount returns the number of chapters in a project.
func (q *Queries) ChapterCount(ctx context.Context, projectID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chapters WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count chapters: %w", err)
	}
	return n, nil
}
