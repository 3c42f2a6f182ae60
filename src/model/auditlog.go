package model

import (
	"database/sql"
	"strings"

	"github.com/username/cryptofolio/backend/src/models"
)

const auditLogColumns = `id, account_id, asset_id, wallet, platform, operation, change, balance, balance_wallet, timestamp, tx_id, file_import_id, connection_id, import_index`

func scanAuditLogRows(rows *sql.Rows) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(
			&e.ID,
			&e.AccountID,
			&e.AssetID,
			&e.Wallet,
			&e.Platform,
			&e.Operation,
			&e.Change,
			&e.Balance,
			&e.BalanceWallet,
			&e.Timestamp,
			&e.TxID,
			&e.FileImportID,
			&e.ConnectionID,
			&e.ImportIndex,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetAuditLogPage streams one page of audit-log entries at or after sinceTs,
// strictly ordered by (timestamp, id) so the replay order is reproducible.
func GetAuditLogPage(db DBTX, accountID int64, sinceTs int64, limit, offset int) ([]models.AuditLogEntry, error) {
	query := `SELECT ` + auditLogColumns + ` FROM audit_log
		WHERE account_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ? OFFSET ?`
	rows, err := db.Query(query, accountID, sinceTs, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditLogRows(rows)
}

// GetAllAuditLogsOrdered returns every entry for the account ordered by
// (timestamp, import_index, id). The trade computation replays the full
// history and needs the complete tie-break ordering.
func GetAllAuditLogsOrdered(db DBTX, accountID int64) ([]models.AuditLogEntry, error) {
	query := `SELECT ` + auditLogColumns + ` FROM audit_log
		WHERE account_id = ?
		ORDER BY timestamp ASC, import_index ASC, id ASC`
	rows, err := db.Query(query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditLogRows(rows)
}

// CountAuditLogsSince counts entries at or after sinceTs, used for progress
// reporting during a replay.
func CountAuditLogsSince(db DBTX, accountID int64, sinceTs int64) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE account_id = ? AND timestamp >= ?`, accountID, sinceTs).Scan(&count)
	return count, err
}

// InsertAuditLogEntries bulk-inserts entries. Duplicate ids (same stable
// hash) are ignored so re-importing the same file is idempotent.
func InsertAuditLogEntries(db DBTX, entries []models.AuditLogEntry) error {
	query := `INSERT OR IGNORE INTO audit_log (` + auditLogColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, e := range entries {
		if _, err := db.Exec(query,
			e.ID, e.AccountID, e.AssetID, e.Wallet, e.Platform, e.Operation,
			e.Change, e.Balance, e.BalanceWallet, e.Timestamp,
			e.TxID, e.FileImportID, e.ConnectionID, e.ImportIndex,
		); err != nil {
			return err
		}
	}
	return nil
}

// UpdateAuditLogBalances writes the derived cumulative and per-wallet
// balances back onto an entry. Concurrent readers of these two columns
// during a recompute may observe stale or half-updated values; callers
// needing consistency wait for job completion.
func UpdateAuditLogBalances(db DBTX, id, balance, balanceWallet string) error {
	_, err := db.Exec(`UPDATE audit_log SET balance = ?, balance_wallet = ? WHERE id = ?`, balance, balanceWallet, id)
	return err
}

// GetWalletBalancesBefore reconstructs the most recent per-wallet balance
// at-or-before the given timestamp for each of the listed assets. Wallet
// state is not snapshotted; it is rebuilt at the recompute boundary from
// the derived balance_wallet column.
func GetWalletBalancesBefore(db DBTX, accountID int64, assetIDs []string, before int64) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	if len(assetIDs) == 0 {
		return out, nil
	}
	query := `SELECT asset_id, wallet, balance_wallet FROM audit_log
		WHERE account_id = ? AND timestamp < ? AND balance_wallet IS NOT NULL
		AND asset_id IN (?` + strings.Repeat(",?", len(assetIDs)-1) + `)
		ORDER BY timestamp ASC, id ASC`
	args := make([]any, 0, len(assetIDs)+2)
	args = append(args, accountID, before)
	for _, id := range assetIDs {
		args = append(args, id)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var asset, wallet, balance string
		if err := rows.Scan(&asset, &wallet, &balance); err != nil {
			return nil, err
		}
		// Ascending order means the last row seen per (asset, wallet) wins.
		if out[asset] == nil {
			out[asset] = make(map[string]string)
		}
		out[asset][wallet] = balance
	}
	return out, rows.Err()
}

// GetEarliestAuditLogTimestamp returns the oldest entry timestamp, or false
// when the account has no entries.
func GetEarliestAuditLogTimestamp(db DBTX, accountID int64) (int64, bool, error) {
	var ts *int64
	err := db.QueryRow(`SELECT MIN(timestamp) FROM audit_log WHERE account_id = ?`, accountID).Scan(&ts)
	if err != nil {
		return 0, false, err
	}
	if ts == nil {
		return 0, false, nil
	}
	return *ts, true, nil
}
