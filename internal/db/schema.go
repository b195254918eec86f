package db

import "database/sql"

// schema is shared by Postgres and SQLite; status is intentionally not a
// column, it is derived from the two sign-off booleans.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
  id            TEXT PRIMARY KEY,
  description   TEXT NOT NULL,
  creator_id    TEXT NOT NULL,
  assignee_id   TEXT NOT NULL,
  approver_id   TEXT NOT NULL,
  assignee_done BOOLEAN NOT NULL DEFAULT FALSE,
  approver_done BOOLEAN NOT NULL DEFAULT FALSE,
  created_at    TIMESTAMP NOT NULL,
  completed_at  TIMESTAMP,
  channel_id    TEXT,
  message_ts    TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);
`

func EnsureSchema(dbConn *sql.DB) error {
	_, err := dbConn.Exec(schema)
	return err
}

func Connect(driver, dsn string) (*sql.DB, error) {
	dbConn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := dbConn.Ping(); err != nil {
		dbConn.Close()
		return nil, err
	}
	return dbConn, nil
}
