package store

import (
	"database/sql"
	"fmt"

	"github.com/leew666/aiNovel/internal/logging"
)

// migration adds one column to an existing table. The list is append-only;
// databases created before a column existed pick it up at startup.
type migration struct {
	table  string
	column string
	def    string
}

var pendingMigrations = []migration{
	// Genre/plot tags, added after the first schema shipped.
	{"projects", "tags", "TEXT NOT NULL DEFAULT ''"},
	// Global spoiler configuration, never rendered into prompts.
	{"projects", "spoiler_config", "TEXT NOT NULL DEFAULT ''"},
	// Per-volume generation config.
	{"volumes", "volume_config", "TEXT NOT NULL DEFAULT ''"},
	// Quality-check report blob.
	{"chapters", "quality_report", "TEXT NOT NULL DEFAULT ''"},
	// Character volatile state.
	{"characters", "status", "TEXT NOT NULL DEFAULT ''"},
	{"characters", "mood", "TEXT NOT NULL DEFAULT ''"},
	{"characters", "catchphrases", "TEXT NOT NULL DEFAULT ''"},
	// Plot-arc retrieval vector, stored as a JSON float array.
	{"plot_arcs", "embedding", "TEXT"},
	// Plot-arc cast list and author notes.
	{"plot_arcs", "related_characters", "TEXT NOT NULL DEFAULT '[]'"},
	{"plot_arcs", "notes", "TEXT NOT NULL DEFAULT ''"},
}

// runMigrations applies every pending column addition. A failed ALTER TABLE
// is fatal: continuing with a partial schema corrupts later writes.
func runMigrations(db *sql.DB) error {
	log := logging.Named("store")
	applied := 0
	for _, m := range pendingMigrations {
		if columnExists(db, m.table, m.column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration %s.%s: %w", m.table, m.column, err)
		}
		log.Infow("migration applied", "table", m.table, "column", m.column)
		applied++
	}
	if applied > 0 {
		log.Infow("schema migrations complete", "applied", applied)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, notnull, pk int
			name, ctype      string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
