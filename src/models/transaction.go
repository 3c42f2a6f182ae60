package models

// Transaction groups up to three audit-log legs (incoming, outgoing, fee)
// of one user-visible operation, e.g. a swap of BTC for ETH with a BNB fee.
type Transaction struct {
	ID            string  `json:"id"`
	AccountID     int64   `json:"accountId"`
	Type          string  `json:"type"`
	Timestamp     int64   `json:"timestamp"`
	Platform      string  `json:"platform"`
	IncomingAsset *string `json:"incomingAsset"`
	Incoming      *string `json:"incoming"`
	OutgoingAsset *string `json:"outgoingAsset"`
	Outgoing      *string `json:"outgoing"`
	FeeAsset      *string `json:"feeAsset"`
	Fee           *string `json:"fee"`
	Notes         string  `json:"notes"`
}
