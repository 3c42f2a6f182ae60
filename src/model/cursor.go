package model

import (
	"database/sql"
	"errors"
)

// GetCursor returns the named watermark for the account, or 0 when it has
// never been set. 0 means "process from genesis".
func GetCursor(db DBTX, accountID int64, name string) (int64, error) {
	var value int64
	err := db.QueryRow(`SELECT value FROM cursors WHERE account_id = ? AND name = ?`, accountID, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// SetCursor advances the named watermark. Only successful computation moves
// a cursor forward.
func SetCursor(db DBTX, accountID int64, name string, value int64) error {
	_, err := db.Exec(`
		INSERT INTO cursors (account_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, name) DO UPDATE SET value = excluded.value`,
		accountID, name, value)
	return err
}

// InvalidateCursor moves the named watermark backward to value when earlier
// data has arrived. It never moves a cursor forward: an existing smaller
// value wins.
func InvalidateCursor(db DBTX, accountID int64, name string, value int64) error {
	_, err := db.Exec(`
		INSERT INTO cursors (account_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, name) DO UPDATE SET value = MIN(cursors.value, excluded.value)`,
		accountID, name, value)
	return err
}
