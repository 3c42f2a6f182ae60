package model

import (
	"encoding/json"

	"github.com/username/cryptofolio/backend/src/models"
)

func marshalStringList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DeleteAllTrades clears every derived trade and its join rows for the
// account. The trade computation always rebuilds from scratch.
func DeleteAllTrades(db DBTX, accountID int64) error {
	if _, err := db.Exec(`DELETE FROM trade_audit_logs WHERE trade_id IN (SELECT id FROM trades WHERE account_id = ?)`, accountID); err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM trade_transactions WHERE trade_id IN (SELECT id FROM trades WHERE account_id = ?)`, accountID); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM trades WHERE account_id = ?`, accountID)
	return err
}

// InsertTrades bulk-inserts trades with their audit-log and transaction
// join rows. Transaction joins are insert-or-ignore since several entries
// of one trade may reference the same transaction.
func InsertTrades(db DBTX, trades []models.Trade) error {
	tradeQuery := `INSERT INTO trades (id, account_id, asset_id, amount, balance, created_at, closed_at, duration, is_open, sold_assets, sold_amounts, fee_assets, fee_amounts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, t := range trades {
		soldAssets, err := marshalStringList(t.SoldAssets)
		if err != nil {
			return err
		}
		soldAmounts, err := marshalStringList(t.SoldAmounts)
		if err != nil {
			return err
		}
		feeAssets, err := marshalStringList(t.FeeAssets)
		if err != nil {
			return err
		}
		feeAmounts, err := marshalStringList(t.FeeAmounts)
		if err != nil {
			return err
		}
		if _, err := db.Exec(tradeQuery,
			t.ID, t.AccountID, t.AssetID, t.Amount, t.Balance,
			t.CreatedAt, t.ClosedAt, t.Duration, t.IsOpen,
			soldAssets, soldAmounts, feeAssets, feeAmounts,
		); err != nil {
			return err
		}
		for _, logID := range t.AuditLogIDs {
			if _, err := db.Exec(`INSERT OR IGNORE INTO trade_audit_logs (trade_id, audit_log_id) VALUES (?, ?)`, t.ID, logID); err != nil {
				return err
			}
		}
		for _, txID := range t.TransactionIDs {
			if _, err := db.Exec(`INSERT OR IGNORE INTO trade_transactions (trade_id, transaction_id) VALUES (?, ?)`, t.ID, txID); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetTrades returns all trades for the account ordered by open time.
func GetTrades(db DBTX, accountID int64) ([]models.Trade, error) {
	rows, err := db.Query(`SELECT id, account_id, asset_id, amount, balance, created_at, closed_at, duration, is_open, sold_assets, sold_amounts, fee_assets, fee_amounts
		FROM trades WHERE account_id = ? ORDER BY created_at ASC, id ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trades []models.Trade
	for rows.Next() {
		var (
			t                                              models.Trade
			soldAssets, soldAmounts, feeAssets, feeAmounts string
		)
		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.AssetID, &t.Amount, &t.Balance,
			&t.CreatedAt, &t.ClosedAt, &t.Duration, &t.IsOpen,
			&soldAssets, &soldAmounts, &feeAssets, &feeAmounts,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(soldAssets), &t.SoldAssets); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(soldAmounts), &t.SoldAmounts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(feeAssets), &t.FeeAssets); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(feeAmounts), &t.FeeAmounts); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTradeAuditLogIDs returns the audit-log ids linked to one trade.
func GetTradeAuditLogIDs(db DBTX, tradeID string) ([]string, error) {
	rows, err := db.Query(`SELECT audit_log_id FROM trade_audit_logs WHERE trade_id = ?`, tradeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
