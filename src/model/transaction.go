package model

import (
	"strings"

	"github.com/username/cryptofolio/backend/src/models"
)

const transactionColumns = `id, account_id, type, timestamp, platform, incoming_asset, incoming, outgoing_asset, outgoing, fee_asset, fee, notes`

// InsertTransaction persists one transaction. Duplicate ids are ignored so
// re-imports stay idempotent, same as the audit log.
func InsertTransaction(db DBTX, tx models.Transaction) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Type, tx.Timestamp, tx.Platform,
		tx.IncomingAsset, tx.Incoming, tx.OutgoingAsset, tx.Outgoing,
		tx.FeeAsset, tx.Fee, tx.Notes)
	return err
}

// GetTransactionsByIDs batch-loads transactions by id. The trade
// computation prefetches every linked transaction before it opens its
// rebuild transaction, since the single-connection pool cannot serve reads
// mid-transaction.
func GetTransactionsByIDs(db DBTX, accountID int64, ids []string) (map[string]models.Transaction, error) {
	out := make(map[string]models.Transaction)
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = ? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, accountID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.Type, &tx.Timestamp, &tx.Platform,
			&tx.IncomingAsset, &tx.Incoming, &tx.OutgoingAsset, &tx.Outgoing,
			&tx.FeeAsset, &tx.Fee, &tx.Notes,
		); err != nil {
			return nil, err
		}
		out[tx.ID] = tx
	}
	return out, rows.Err()
}

// GetTransactionsByAccount lists transactions for the account, newest first.
func GetTransactionsByAccount(db DBTX, accountID int64, limit int) ([]models.Transaction, error) {
	rows, err := db.Query(`SELECT `+transactionColumns+` FROM transactions WHERE account_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txs []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.Type, &tx.Timestamp, &tx.Platform,
			&tx.IncomingAsset, &tx.Incoming, &tx.OutgoingAsset, &tx.Outgoing,
			&tx.FeeAsset, &tx.Fee, &tx.Notes,
		); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
