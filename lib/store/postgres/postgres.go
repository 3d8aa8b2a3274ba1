// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/tarancss/dappbridge/lib/store"
)

// Table holding the flags. New creates it when missing.
const Table = "dapp_flags"

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS ` + Table + ` (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create table %s: %w", Table, err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// SetItem saves value under key, replacing any previous value.
func (p *Postgres) SetItem(key, value string) error {
	_, err := p.db.Exec(`INSERT INTO `+Table+` (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("could not save %s in db: %w", key, err)
	}

	return nil
}

// GetItem returns the value saved under key.
func (p *Postgres) GetItem(key string) (value string, err error) {
	err = p.db.QueryRow(`SELECT value FROM `+Table+` WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		err = store.ErrDataNotFound
	}

	return
}

// RemoveItem deletes key from the database.
func (p *Postgres) RemoveItem(key string) error {
	res, err := p.db.Exec(`DELETE FROM `+Table+` WHERE key = $1`, key)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return store.ErrDataNotFound
	}

	return nil
}
