package telemetry

import (
	"database/sql"

	"github.com/perovskite-lab/mpptctl/internal/errors"
)

// initSchema initializes the database schema for tracking telemetry
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS tracking (
            session_start INTEGER,
            elapsed REAL,
            voltage REAL,
            current REAL,
            power REAL,
            target_voltage REAL,
            step REAL,
            direction INTEGER,
            PRIMARY KEY (session_start, elapsed)
        )
    `)
	if err != nil {
		return errors.New().Wrap(ErrStorageInit, err)
	}

	return nil
}
