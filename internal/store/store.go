package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps the embedded SQLite database that backs the surrogate key
// registry, the file version tracker and the activity fact tables.
type Store struct {
	DB *sqlx.DB
}

func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=500&", path))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// DropTable removes a table if it exists. Used when a fact table is rebuilt
// from scratch for a new dump version.
func (s *Store) DropTable(name string) error {
	_, err := s.DB.Exec("DROP TABLE IF EXISTS " + name)
	return err
}

func (s *Store) TableExists(name string) (bool, error) {
	var n int
	err := s.DB.Get(&n, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
