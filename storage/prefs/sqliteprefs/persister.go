// Package sqliteprefs persists user preferences in a local SQLite file.
package sqliteprefs

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/prefs"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	user_id       TEXT PRIMARY KEY,
	role          TEXT NOT NULL,
	font_scale    REAL NOT NULL,
	high_contrast INTEGER NOT NULL DEFAULT 0,
	reduce_motion INTEGER NOT NULL DEFAULT 0,
	dyslexic_font INTEGER NOT NULL DEFAULT 0,
	updated_at    TEXT NOT NULL
);`

type row struct {
	UserID       string  `db:"user_id"`
	Role         string  `db:"role"`
	FontScale    float64 `db:"font_scale"`
	HighContrast bool    `db:"high_contrast"`
	ReduceMotion bool    `db:"reduce_motion"`
	DyslexicFont bool    `db:"dyslexic_font"`
	UpdatedAt    string  `db:"updated_at"`
}

type Persister struct {
	db *sqlx.DB
}

var _ prefs.Persister = (*Persister)(nil)

// Open opens (creating if needed) the SQLite file at path. ":memory:" gives a private in-memory database.
func Open(path string) (*Persister, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "os.MkdirAll()")
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "sqlx.Open()")
	}
	db.SetMaxOpenConns(1) // sqlite serialises writers; one conn also keeps ":memory:" alive

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return &Persister{db: db}, nil
}

func (p *Persister) Load(ctx context.Context, userID string) (prefs.Preferences, error) {
	var r row
	err := p.db.GetContext(ctx, &r, `SELECT * FROM preferences WHERE user_id = ?`, userID)
	if errors.Cause(err) == sql.ErrNoRows {
		return prefs.Preferences{}, core.ErrNotFound
	}
	if err != nil {
		return prefs.Preferences{}, errors.Wrap(err, "selecting preferences")
	}
	return prefs.Preferences{
		Role:         core.Role(r.Role),
		FontScale:    r.FontScale,
		HighContrast: r.HighContrast,
		ReduceMotion: r.ReduceMotion,
		DyslexicFont: r.DyslexicFont,
	}, nil
}

func (p *Persister) Save(ctx context.Context, userID string, pr prefs.Preferences) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO preferences (user_id, role, font_scale, high_contrast, reduce_motion, dyslexic_font, updated_at)
		VALUES (:user_id, :role, :font_scale, :high_contrast, :reduce_motion, :dyslexic_font, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			role = excluded.role,
			font_scale = excluded.font_scale,
			high_contrast = excluded.high_contrast,
			reduce_motion = excluded.reduce_motion,
			dyslexic_font = excluded.dyslexic_font,
			updated_at = excluded.updated_at`,
		row{
			UserID:       userID,
			Role:         string(pr.Role),
			FontScale:    pr.FontScale,
			HighContrast: pr.HighContrast,
			ReduceMotion: pr.ReduceMotion,
			DyslexicFont: pr.DyslexicFont,
			UpdatedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		},
	)
	return errors.Wrap(err, "saving preferences")
}

func (p *Persister) Close() error {
	return p.db.Close()
}
