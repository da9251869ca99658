package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const characterColumns = `id, project_id, name, archetype, description,
	traits, goals, catchphrases, status, mood, relationships, memories,
	keywords, created_at, updated_at`

func scanCharacter(row interface{ Scan(...any) error }) (*Character, error) {
	var c Character
	err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Archetype, &c.Description,
		&c.Traits, &c.Goals, &c.Catchphrases, &c.Status, &c.Mood,
		&c.Relationships, &c.Memories, &c.Keywords, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: character", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan character: %w", err)
	}
	return &c, nil
}

// CreateCharacter inserts one character sheet.
func (q *Queries) CreateCharacter(ctx context.Context, c *Character) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO characters (project_id, name, archetype, description,
			traits, goals, catchphrases, status, mood, relationships, memories, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.Name, c.Archetype, c.Description, jsonOr(c.Traits, "{}"),
		c.Goals, c.Catchphrases, c.Status, c.Mood, jsonOr(c.Relationships, "{}"),
		jsonOr(c.Memories, "[]"), jsonOr(c.Keywords, "[]"))
	if err != nil {
		return 0, fmt.Errorf("store: create character: %w", err)
	}
	return res.LastInsertId()
}

// Character fetches one character by id.
func (q *Queries) Character(ctx context.Context, id int64) (*Character, error) {
	return scanCharacter(q.db.QueryRowContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = ?`, id))
}

// Characters lists a project's characters in insertion order. The lorebook
// relies on this order for tie-breaking.
func (q *Queries) Characters(ctx context.Context, projectID int64) ([]*Character, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE project_id = ? ORDER BY id`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list characters: %w", err)
	}
	defer rows.Close()

	var out []*Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CharacterCount returns the number of characters in a project.
func (q *Queries) CharacterCount(ctx context.Context, projectID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM characters WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count characters: %w", err)
	}
	return n, nil
}

// UpdateCharacterState writes the volatile fields chapter generation moves.
func (q *Queries) UpdateCharacterState(ctx context.Context, id int64, status, mood string) error {
	return q.execOne(ctx,
		`UPDATE characters SET status = ?, mood = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, mood, id)
}

// UpdateCharacterSheet rewrites the stable fields of a character.
func (q *Queries) UpdateCharacterSheet(ctx context.Context, c *Character) error {
	return q.execOne(ctx,
		`UPDATE characters SET name = ?, archetype = ?, description = ?,
			traits = ?, goals = ?, catchphrases = ?, relationships = ?, keywords = ?,
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		c.Name, c.Archetype, c.Description, jsonOr(c.Traits, "{}"), c.Goals,
		c.Catchphrases, jsonOr(c.Relationships, "{}"), jsonOr(c.Keywords, "[]"), c.ID)
}

// AppendCharacterMemories replaces the memories blob. Callers merge and
// trim the list before writing.
func (q *Queries) AppendCharacterMemories(ctx context.Context, id int64, memories string) error {
	return q.execOne(ctx,
		`UPDATE characters SET memories = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		jsonOr(memories, "[]"), id)
}

// DeleteCharacters clears a project's cast, used when world building is
// regenerated.
func (q *Queries) DeleteCharacters(ctx context.Context, projectID int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM characters WHERE project_id = ?`, projectID)
	if err != nil {
		return fmt.Errorf("store: delete characters: %w", err)
	}
	return nil
}

func jsonOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
