package services

import (
	"errors"
	"time"

	"github.com/username/cryptofolio/backend/src/models"
)

// Cache settings shared by the service layer.
const (
	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

// Common service errors.
var (
	ErrNoEntries      = errors.New("no audit log entries provided")
	ErrInvalidEntry   = errors.New("audit log entry validation failed")
	ErrInvalidAccount = errors.New("unknown account")
)

// LedgerService is the write path of the ledger: appending raw events,
// invalidating cursors, and enqueueing the computation jobs that follow.
type LedgerService interface {
	// AppendEntries persists new audit-log entries (assigning stable hash
	// ids where missing), moves the reducer cursors back to the earliest
	// new day, and schedules recomputation.
	AppendEntries(accountID int64, entries []models.AuditLogEntry, trigger string) ([]models.AuditLogEntry, error)

	// AddTransaction persists one grouped transaction together with its
	// audit-log legs, then schedules recomputation.
	AddTransaction(accountID int64, tx models.Transaction, trigger string) (models.Transaction, error)

	// ScheduleComputation enqueues the balance, trade and net-worth jobs
	// for the account and returns their job ids.
	ScheduleComputation(accountID int64, since *int64, trigger string) ([]string, error)

	// DeleteAccountData tears down the account's scheduler queue and
	// removes the account with all dependent rows.
	DeleteAccountData(accountID int64) error
}

// PriceService exposes the priced-asset map for a given day. The daily
// price rows are mostly produced by the external price-fetching subsystem;
// UpsertDailyPrice covers manual corrections and backfills.
type PriceService interface {
	GetPricedAssetMap(accountID int64, day int64) (map[string]float64, error)
	UpsertDailyPrice(assetID string, day int64, price float64) error
}
