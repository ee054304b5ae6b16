// Package sqlitestore persists credentials in a SQLite database using the
// pure-Go modernc.org/sqlite driver. Each field is one row keyed by
// (namespace, slot); Save and Clear run inside a single transaction.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var _ credentials.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	namespace  TEXT    NOT NULL,
	slot       TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, slot)
)`

const (
	upsertSQL = `INSERT INTO credentials (namespace, slot, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(namespace, slot) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteSlotSQL = `DELETE FROM credentials WHERE namespace = ? AND slot = ?`
	deleteAllSQL  = `DELETE FROM credentials WHERE namespace = ?`
	selectSQL     = `SELECT slot, value FROM credentials WHERE namespace = ?`
)

type Store struct {
	db     *sql.DB
	ns     string
	logger zerolog.Logger
}

type Option func(*Store)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path, namespace string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("[sqlitestore.Open] path is required")
	}
	if namespace == "" {
		namespace = credentials.DefaultNamespace
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("[sqlitestore.Open] open: %w", err)
	}
	// Single writer; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[sqlitestore.Open] create schema: %w", err)
	}

	s := &Store{
		db:     db,
		ns:     namespace,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Load(ctx context.Context) credentials.Session {
	rows, err := s.db.QueryContext(ctx, selectSQL, s.ns)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential query failed, treating as signed out")
		return credentials.Session{}
	}
	defer rows.Close()

	var session credentials.Session
	for rows.Next() {
		var slot, value string
		if err := rows.Scan(&slot, &value); err != nil {
			s.logger.Warn().Err(err).Msg("credential row unreadable, treating as signed out")
			return credentials.Session{}
		}
		switch slot {
		case credentials.SlotAccessToken:
			session.AccessToken = value
		case credentials.SlotRefreshToken:
			session.RefreshToken = value
		case credentials.SlotIdentity:
			var id credentials.Identity
			if err := json.Unmarshal([]byte(value), &id); err != nil {
				s.logger.Warn().Err(err).Msg("stored identity unreadable, ignoring")
				continue
			}
			session.Identity = &id
		}
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("credential query failed, treating as signed out")
		return credentials.Session{}
	}
	return session
}

func (s *Store) Save(ctx context.Context, update credentials.Update) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		if update.AccessToken != nil {
			if err := s.writeSlot(ctx, tx, credentials.SlotAccessToken, *update.AccessToken, now); err != nil {
				return err
			}
		}
		if update.RefreshToken != nil {
			if err := s.writeSlot(ctx, tx, credentials.SlotRefreshToken, *update.RefreshToken, now); err != nil {
				return err
			}
		}
		if update.Identity != nil {
			value := ""
			if !update.Identity.IsZero() {
				b, err := json.Marshal(update.Identity)
				if err != nil {
					return fmt.Errorf("marshal identity: %w", err)
				}
				value = string(b)
			}
			if err := s.writeSlot(ctx, tx, credentials.SlotIdentity, value, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, deleteAllSQL, s.ns)
		return err
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// writeSlot upserts value, or deletes the slot when value is empty.
func (s *Store) writeSlot(ctx context.Context, tx *sql.Tx, slot, value string, now int64) error {
	if value == "" {
		if _, err := tx.ExecContext(ctx, deleteSlotSQL, s.ns, slot); err != nil {
			return fmt.Errorf("clear %s: %w", slot, err)
		}
		return nil
	}
	if _, err := tx.ExecContext(ctx, upsertSQL, s.ns, slot, value, now); err != nil {
		return fmt.Errorf("write %s: %w", slot, err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("[sqlitestore] begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("[sqlitestore] %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("[sqlitestore] commit: %w", err)
	}
	return nil
}
