package model

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/username/cryptofolio/backend/src/models"
)

// GetBalanceSnapshot loads the snapshot for one exact day timestamp.
// The second return value is false when no snapshot exists for that day.
func GetBalanceSnapshot(db DBTX, accountID, timestamp int64) (map[string]string, bool, error) {
	var raw string
	err := db.QueryRow(`SELECT balances FROM balance_snapshots WHERE account_id = ? AND timestamp = ?`, accountID, timestamp).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	balances := make(map[string]string)
	if err := json.Unmarshal([]byte(raw), &balances); err != nil {
		return nil, false, err
	}
	return balances, true, nil
}

// GetBalanceSnapshotsSince returns all snapshots at or after the given day,
// ascending by day.
func GetBalanceSnapshotsSince(db DBTX, accountID, sinceTs int64) ([]models.BalanceSnapshot, error) {
	rows, err := db.Query(`SELECT timestamp, balances FROM balance_snapshots WHERE account_id = ? AND timestamp >= ? ORDER BY timestamp ASC`, accountID, sinceTs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var snapshots []models.BalanceSnapshot
	for rows.Next() {
		var (
			ts  int64
			raw string
		)
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, err
		}
		balances := make(map[string]string)
		if err := json.Unmarshal([]byte(raw), &balances); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, models.BalanceSnapshot{AccountID: accountID, Timestamp: ts, Balances: balances})
	}
	return snapshots, rows.Err()
}

// UpsertBalanceSnapshot writes one day's snapshot, overwriting any prior
// snapshot for the same day.
func UpsertBalanceSnapshot(db DBTX, accountID, timestamp int64, balances map[string]string) error {
	raw, err := json.Marshal(balances)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO balance_snapshots (account_id, timestamp, balances)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, timestamp) DO UPDATE SET balances = excluded.balances`,
		accountID, timestamp, string(raw))
	return err
}

// DeleteAllBalanceSnapshots drops every snapshot for the account, used when
// a full rebuild starts or when a full run finds zero events.
func DeleteAllBalanceSnapshots(db DBTX, accountID int64) error {
	_, err := db.Exec(`DELETE FROM balance_snapshots WHERE account_id = ?`, accountID)
	return err
}
