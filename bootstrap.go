package metastore

import (
	"context"
	"sync"
)

// Physical table names.
const (
	tablesTable        = "ms_tables"
	namesTable         = "ms_names"
	stringValuesTable  = "ms_values_string"
	numericValuesTable = "ms_values_numeric"
	itemsTable         = "ms_items"
	assocTable         = "ms_itemnamevalues"
	longStringsTable   = "ms_longstrings"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS ms_tables (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		isnumeric INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ms_names (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tableid INTEGER NOT NULL,
		name TEXT NOT NULL,
		isnumeric INTEGER NOT NULL,
		UNIQUE (tableid, name)
	)`,
	`CREATE TABLE IF NOT EXISTS ms_values_string (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS ms_values_numeric (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value REAL NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS ms_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tableid INTEGER NOT NULL,
		valueid INTEGER NOT NULL,
		created TEXT NOT NULL,
		lastmodified TEXT NOT NULL,
		UNIQUE (tableid, valueid)
	)`,
	`CREATE TABLE IF NOT EXISTS ms_itemnamevalues (
		itemid INTEGER NOT NULL,
		nameid INTEGER NOT NULL,
		valueid INTEGER NOT NULL,
		UNIQUE (itemid, nameid)
	)`,
	`CREATE INDEX IF NOT EXISTS ms_itemnamevalues_name_value ON ms_itemnamevalues (nameid, valueid)`,
	`CREATE TABLE IF NOT EXISTS ms_longstrings (
		itemid INTEGER NOT NULL,
		name TEXT NOT NULL,
		longstring TEXT NOT NULL,
		PRIMARY KEY (itemid, name)
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS ms_tables (
		id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		isnumeric TINYINT NOT NULL,
		UNIQUE KEY ms_tables_name (name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS ms_names (
		id INT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		tableid INT NOT NULL,
		name VARCHAR(128) NOT NULL,
		isnumeric TINYINT NOT NULL,
		UNIQUE KEY ms_names_table_name (tableid, name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS ms_values_string (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		value VARCHAR(512) NOT NULL,
		UNIQUE KEY ms_values_string_value (value)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS ms_values_numeric (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		value DOUBLE NOT NULL,
		UNIQUE KEY ms_values_numeric_value (value)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS ms_items (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		tableid INT NOT NULL,
		valueid BIGINT NOT NULL,
		created DATETIME NOT NULL,
		lastmodified DATETIME NOT NULL,
		UNIQUE KEY ms_items_table_value (tableid, valueid)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS ms_itemnamevalues (
		itemid BIGINT NOT NULL,
		nameid INT NOT NULL,
		valueid BIGINT NOT NULL,
		UNIQUE KEY ms_itemnamevalues_item_name (itemid, nameid),
		KEY ms_itemnamevalues_name_value (nameid, valueid)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS ms_longstrings (
		itemid BIGINT NOT NULL,
		name VARCHAR(128) NOT NULL,
		longstring TEXT NOT NULL,
		PRIMARY KEY (itemid, name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
}

// bootstrapLock serializes first-time schema creation across the process. It
// is only taken by Open, never by steady-state operations.
var (
	bootstrapLock sync.Mutex
	bootstrapped  sync.Map // dialect+dsn -> struct{}
)

func schemaFor(b Backend) []string {
	switch b.Dialect() {
	case DriverMySQL:
		return mysqlSchema
	default:
		return sqliteSchema
	}
}

// bootstrap creates the physical schema once per key per process. An empty key
// always runs the (idempotent) DDL.
func bootstrap(ctx context.Context, b Backend, key string) error {
	if key != "" {
		if _, ok := bootstrapped.Load(key); ok {
			return nil
		}
	}

	bootstrapLock.Lock()
	defer bootstrapLock.Unlock()

	if key != "" {
		if _, ok := bootstrapped.Load(key); ok {
			return nil
		}
	}

	for _, ddl := range schemaFor(b) {
		if _, err := b.Exec(ctx, ddl, nil); err != nil {
			return backendErr("bootstrap", ddl, err)
		}
	}

	if key != "" {
		bootstrapped.Store(key, struct{}{})
	}
	return nil
}

// forgetBootstrap lets a later Open re-run the DDL, e.g. after the file was deleted.
func forgetBootstrap(key string) {
	if key != "" {
		bootstrapped.Delete(key)
	}
}
