package models

// Trade is a derived continuous non-zero-balance interval for one asset.
// Trades are owned exclusively by the trade computation and are fully
// rebuilt on every run; there is no incremental trade recompute.
type Trade struct {
	ID        string `json:"id"`
	AccountID int64  `json:"accountId"`
	AssetID   string `json:"assetId"`
	Amount    string `json:"amount"`  // peak absolute balance observed
	Balance   string `json:"balance"` // running balance at the last processed entry
	CreatedAt int64  `json:"createdAt"`
	ClosedAt  *int64 `json:"closedAt"`
	Duration  *int64 `json:"duration"`
	IsOpen    bool   `json:"isOpen"`

	// What was exchanged to acquire the position, and what was paid in
	// fees, merged per asset. Parallel slices keep insertion order.
	SoldAssets  []string `json:"soldAssets"`
	SoldAmounts []string `json:"soldAmounts"`
	FeeAssets   []string `json:"feeAssets"`
	FeeAmounts  []string `json:"feeAmounts"`

	// Join rows rebuilt together with the trade.
	AuditLogIDs    []string `json:"-"`
	TransactionIDs []string `json:"-"`
}
