package model

import (
	"database/sql"
	"errors"

	"github.com/username/cryptofolio/backend/src/models"
)

// UpsertNetworthPoint writes one day of the net-worth series.
func UpsertNetworthPoint(db DBTX, p models.NetworthPoint) error {
	_, err := db.Exec(`
		INSERT INTO networth (account_id, timestamp, value, change, change_percentage)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, timestamp) DO UPDATE SET
			value = excluded.value,
			change = excluded.change,
			change_percentage = excluded.change_percentage`,
		p.AccountID, p.Timestamp, p.Value, p.Change, p.ChangePercentage)
	return err
}

// DeleteNetworthAfter removes net-worth rows strictly after the given
// timestamp. Used when no balance snapshots exist past that point.
func DeleteNetworthAfter(db DBTX, accountID, after int64) error {
	_, err := db.Exec(`DELETE FROM networth WHERE account_id = ? AND timestamp > ?`, accountID, after)
	return err
}

// GetNetworthValueBefore returns the value of the latest computed day
// strictly before the given timestamp, or false when none exists.
func GetNetworthValueBefore(db DBTX, accountID, before int64) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM networth WHERE account_id = ? AND timestamp < ? ORDER BY timestamp DESC LIMIT 1`, accountID, before).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// GetNetworthSeries returns the full series ascending by day.
func GetNetworthSeries(db DBTX, accountID int64) ([]models.NetworthPoint, error) {
	rows, err := db.Query(`SELECT account_id, timestamp, value, change, change_percentage FROM networth WHERE account_id = ? ORDER BY timestamp ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var points []models.NetworthPoint
	for rows.Next() {
		var p models.NetworthPoint
		if err := rows.Scan(&p.AccountID, &p.Timestamp, &p.Value, &p.Change, &p.ChangePercentage); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
