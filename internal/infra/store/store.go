// Package store persists the directory of guilds the bot has joined.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/osa030/guildbox/internal/domain/guild"
)

const schema = `
CREATE TABLE IF NOT EXISTS guilds (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	joined_at INTEGER NOT NULL
);
`

// Store is a SQLite-backed guild directory.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// One connection keeps in-memory databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialise schema")
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddGuild records a guild. Returns false if it was already known,
// in which case only its name is refreshed.
func (s *Store) AddGuild(ctx context.Context, g guild.Guild) (bool, error) {
	added := false
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM guilds WHERE id = ?`, g.ID).Scan(&exists)
		if err != nil {
			return err
		}

		if exists > 0 {
			_, err = tx.ExecContext(ctx, `UPDATE guilds SET name = ? WHERE id = ?`, g.Name, g.ID)
			return err
		}

		joinedAt := g.JoinedAt
		if joinedAt.IsZero() {
			joinedAt = time.Now()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO guilds (id, name, joined_at) VALUES (?, ?, ?)`,
			g.ID, g.Name, joinedAt.UnixMilli(),
		)
		added = err == nil
		return err
	})
	if err != nil {
		return false, errors.Wrapf(err, "failed to add guild %s", g.ID)
	}

	if added {
		zlog.Info().Msgf("store: added guild: %s", g.Label())
	}
	return added, nil
}

// RemoveGuild forgets a guild. Returns false if it was not known.
func (s *Store) RemoveGuild(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guilds WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to remove guild %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	if n > 0 {
		zlog.Info().Msgf("store: removed guild: guild_id=%s", id)
	}
	return n > 0, nil
}

// GetGuild returns a known guild.
func (s *Store) GetGuild(ctx context.Context, id string) (guild.Guild, bool, error) {
	var g guild.Guild
	var joinedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT id, name, joined_at FROM guilds WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return guild.Guild{}, false, nil
	}
	if err != nil {
		return guild.Guild{}, false, errors.Wrapf(err, "failed to get guild %s", id)
	}
	g.JoinedAt = time.UnixMilli(joinedAt)
	return g, true, nil
}

// ListGuilds returns every known guild, oldest first.
func (s *Store) ListGuilds(ctx context.Context) ([]guild.Guild, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, joined_at FROM guilds ORDER BY joined_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list guilds")
	}
	defer rows.Close()

	guilds := make([]guild.Guild, 0)
	for rows.Next() {
		var g guild.Guild
		var joinedAt int64
		if err := rows.Scan(&g.ID, &g.Name, &joinedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan guild")
		}
		g.JoinedAt = time.UnixMilli(joinedAt)
		guilds = append(guilds, g)
	}
	return guilds, errors.Wrap(rows.Err(), "failed to iterate guilds")
}

// withTx executes fn within a transaction.
// It handles Begin, Rollback on error, and Commit on success.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
