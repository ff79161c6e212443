package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// KVStore is a durable key-value table inside the embedded store. One table
// per namespace: external id strings map to integer values (surrogate keys,
// file version proxies). Keys are externally inspectable with any SQLite
// client, which is the supported audit path.
type KVStore struct {
	db       *sqlx.DB
	table    string
	keyCol   string
	valueCol string
}

func NewKVStore(db *sqlx.DB, table, keyCol, valueCol string) (*KVStore, error) {
	_, err := db.Exec(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s INTEGER)",
		table, keyCol, valueCol,
	))
	if err != nil {
		return nil, fmt.Errorf("kvstore: create %s: %w", table, err)
	}
	return &KVStore{db: db, table: table, keyCol: keyCol, valueCol: valueCol}, nil
}

func (kv *KVStore) Set(key string, value int64) error {
	_, err := kv.db.Exec(
		fmt.Sprintf("REPLACE INTO %s (%s, %s) VALUES (?, ?)", kv.table, kv.keyCol, kv.valueCol),
		key, value,
	)
	return err
}

// Get returns the stored value, or def when the key is absent. A missing key
// is a miss, not an error.
func (kv *KVStore) Get(key string, def int64) (int64, error) {
	var v int64
	err := kv.db.Get(&v,
		fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", kv.valueCol, kv.table, kv.keyCol),
		key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

// All loads the full table. The registry uses this once at open to rebuild
// its in-memory map.
func (kv *KVStore) All() (map[string]int64, error) {
	rows, err := kv.db.Query(fmt.Sprintf("SELECT %s, %s FROM %s", kv.keyCol, kv.valueCol, kv.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var k string
		var v int64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
