package model

import (
	"database/sql"
	"errors"

	"github.com/username/cryptofolio/backend/src/models"
)

var ErrAccountNotFound = errors.New("account not found")

// CreateAccount inserts a new account and returns it with its id.
func CreateAccount(db DBTX, name string, createdAt int64) (models.Account, error) {
	res, err := db.Exec(`INSERT INTO accounts (name, created_at) VALUES (?, ?)`, name, createdAt)
	if err != nil {
		return models.Account{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Account{}, err
	}
	return models.Account{ID: id, Name: name, CreatedAt: createdAt}, nil
}

// GetAccount loads one account by id.
func GetAccount(db DBTX, accountID int64) (models.Account, error) {
	var a models.Account
	err := db.QueryRow(`SELECT id, name, created_at FROM accounts WHERE id = ?`, accountID).Scan(&a.ID, &a.Name, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	return a, err
}

// ListAccounts returns all accounts ordered by creation.
func ListAccounts(db DBTX) ([]models.Account, error) {
	rows, err := db.Query(`SELECT id, name, created_at FROM accounts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes the account row. Ledger rows hang off accounts via
// ON DELETE CASCADE.
func DeleteAccount(db DBTX, accountID int64) error {
	res, err := db.Exec(`DELETE FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}
