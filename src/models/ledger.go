package models

// Operation classifies a single signed balance change in the audit log.
type Operation string

const (
	OperationBuy        Operation = "Buy"
	OperationSell       Operation = "Sell"
	OperationFee        Operation = "Fee"
	OperationDeposit    Operation = "Deposit"
	OperationWithdrawal Operation = "Withdrawal"
	OperationTransfer   Operation = "Transfer"
	OperationReward     Operation = "Reward"
	OperationAirdrop    Operation = "Airdrop"
)

// AuditLogEntry is one signed balance change, the atomic unit of the ledger.
// Entries are immutable once written; only the derived Balance/BalanceWallet
// fields are filled in later by the balance computation.
//
// For a fixed asset the sequence ordered by (Timestamp, ImportIndex, ID) is
// total and reproducible; replay correctness depends on that ordering.
type AuditLogEntry struct {
	ID            string    `json:"id"`
	AccountID     int64     `json:"accountId"`
	AssetID       string    `json:"assetId"`
	Wallet        string    `json:"wallet"`
	Platform      string    `json:"platform"`
	Operation     Operation `json:"operation"`
	Change        string    `json:"change"` // signed arbitrary-precision decimal string
	Balance       *string   `json:"balance"`
	BalanceWallet *string   `json:"balanceWallet"`
	Timestamp     int64     `json:"timestamp"` // ms epoch
	TxID          *string   `json:"txId"`
	FileImportID  *string   `json:"fileImportId"`
	ConnectionID  *string   `json:"connectionId"`
	ImportIndex   int64     `json:"importIndex"`
}

// BalanceSnapshot is the cumulative per-asset balance as of a given day.
// Timestamp is floored to UTC midnight; assets with a zero balance are
// absent from the map rather than stored as "0".
type BalanceSnapshot struct {
	AccountID int64             `json:"accountId"`
	Timestamp int64             `json:"timestamp"`
	Balances  map[string]string `json:"balances"`
}

// NetworthPoint is one day of the valued net-worth series.
type NetworthPoint struct {
	AccountID        int64  `json:"accountId"`
	Timestamp        int64  `json:"timestamp"`
	Value            string `json:"value"`
	Change           string `json:"change"`
	ChangePercentage string `json:"changePercentage"`
}

// Account is one ledger namespace (a portfolio) within the single-tenant
// deployment.
type Account struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

// Cursor names used by the incremental reducers.
const (
	BalancesCursor = "balancesCursor"
	NetworthCursor = "networthCursor"
)
