package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/scheduler"
	"github.com/username/cryptofolio/backend/src/utils"
)

// Job names and priorities of the computation pipeline. The queue orders
// by priority, so one ScheduleComputation call runs balances first, then
// trades, then net worth.
const (
	jobComputeBalances = "computeBalances"
	jobComputeTrades   = "computeTrades"
	jobComputeNetworth = "computeNetworth"

	priorityBalances = 10
	priorityTrades   = 8
	priorityNetworth = 6
)

type ledgerServiceImpl struct {
	db       *sql.DB
	registry *scheduler.Registry
	balances *processors.BalanceProcessor
	trades   *processors.TradeProcessor
	networth *processors.NetworthProcessor
}

func NewLedgerService(
	db *sql.DB,
	registry *scheduler.Registry,
	balances *processors.BalanceProcessor,
	trades *processors.TradeProcessor,
	networth *processors.NetworthProcessor,
) LedgerService {
	return &ledgerServiceImpl{
		db:       db,
		registry: registry,
		balances: balances,
		trades:   trades,
		networth: networth,
	}
}

// entryHash derives the stable id of an audit-log entry from its source
// fields, so re-importing the same data never duplicates rows.
func entryHash(e models.AuditLogEntry) string {
	provenance := ""
	if e.FileImportID != nil {
		provenance = "file:" + *e.FileImportID
	} else if e.ConnectionID != nil {
		provenance = "conn:" + *e.ConnectionID
	}
	input := fmt.Sprintf("%d|%s|%s|%s|%s|%d|%d|%s",
		e.AccountID, e.AssetID, e.Wallet, e.Operation, e.Change, e.Timestamp, e.ImportIndex, provenance)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

func (s *ledgerServiceImpl) AppendEntries(accountID int64, entries []models.AuditLogEntry, trigger string) ([]models.AuditLogEntry, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	if _, err := model.GetAccount(s.db, accountID); err != nil {
		return nil, ErrInvalidAccount
	}

	earliest := entries[0].Timestamp
	for i := range entries {
		entries[i].AccountID = accountID
		if entries[i].AssetID == "" || entries[i].Change == "" {
			return nil, ErrInvalidEntry
		}
		if entries[i].ID == "" {
			entries[i].ID = entryHash(entries[i])
		}
		if entries[i].Timestamp < earliest {
			earliest = entries[i].Timestamp
		}
	}

	if err := model.InsertAuditLogEntries(s.db, entries); err != nil {
		return nil, fmt.Errorf("inserting audit log entries: %w", err)
	}

	// New data may predate the watermarks; pull them back so the next
	// computation replays from the earliest affected day.
	earliestDay := utils.FloorDay(earliest)
	if err := model.InvalidateCursor(s.db, accountID, models.BalancesCursor, earliestDay); err != nil {
		return nil, fmt.Errorf("invalidating balances cursor: %w", err)
	}
	if err := model.InvalidateCursor(s.db, accountID, models.NetworthCursor, earliestDay); err != nil {
		return nil, fmt.Errorf("invalidating networth cursor: %w", err)
	}

	if _, err := s.ScheduleComputation(accountID, nil, trigger); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *ledgerServiceImpl) AddTransaction(accountID int64, tx models.Transaction, trigger string) (models.Transaction, error) {
	if _, err := model.GetAccount(s.db, accountID); err != nil {
		return models.Transaction{}, ErrInvalidAccount
	}
	tx.AccountID = accountID
	if tx.ID == "" {
		// The legs are part of the identity: two same-millisecond swaps on
		// one platform are distinct transactions.
		legKey := func(asset, amount *string) string {
			if asset == nil || amount == nil {
				return ""
			}
			return *asset + ":" + *amount
		}
		input := fmt.Sprintf("%d|%s|%d|%s|%s|%s|%s",
			accountID, tx.Type, tx.Timestamp, tx.Platform,
			legKey(tx.IncomingAsset, tx.Incoming),
			legKey(tx.OutgoingAsset, tx.Outgoing),
			legKey(tx.FeeAsset, tx.Fee))
		hash := sha256.Sum256([]byte(input))
		tx.ID = hex.EncodeToString(hash[:])
	}
	if err := model.InsertTransaction(s.db, tx); err != nil {
		return models.Transaction{}, fmt.Errorf("inserting transaction: %w", err)
	}

	// Materialize the transaction's legs as audit-log entries linked back
	// to it, so the replay and the trade derivation both see them.
	var entries []models.AuditLogEntry
	txID := tx.ID
	leg := func(asset, amount *string, operation models.Operation, negate bool, index int64) {
		if asset == nil || amount == nil {
			return
		}
		change := *amount
		if negate {
			change = "-" + change
		}
		entries = append(entries, models.AuditLogEntry{
			AccountID:   accountID,
			AssetID:     *asset,
			Platform:    tx.Platform,
			Operation:   operation,
			Change:      change,
			Timestamp:   tx.Timestamp,
			TxID:        &txID,
			ImportIndex: index,
		})
	}
	leg(tx.IncomingAsset, tx.Incoming, models.OperationBuy, false, 0)
	leg(tx.OutgoingAsset, tx.Outgoing, models.OperationSell, true, 1)
	leg(tx.FeeAsset, tx.Fee, models.OperationFee, true, 2)

	if len(entries) > 0 {
		if _, err := s.AppendEntries(accountID, entries, trigger); err != nil {
			return models.Transaction{}, err
		}
	}
	return tx, nil
}

func (s *ledgerServiceImpl) ScheduleComputation(accountID int64, since *int64, trigger string) ([]string, error) {
	specs := []scheduler.Spec{
		{
			Name:        jobComputeBalances,
			Description: "Replay audit log changes into daily balance snapshots",
			Priority:    priorityBalances,
			Trigger:     trigger,
			Run: func(ctx context.Context, progress scheduler.ProgressFunc) error {
				return s.balances.ComputeBalances(ctx, accountID, since, progress)
			},
		},
		{
			Name:        jobComputeTrades,
			Description: "Rebuild open/closed trade positions from the full history",
			Priority:    priorityTrades,
			Trigger:     trigger,
			Run: func(ctx context.Context, progress scheduler.ProgressFunc) error {
				return s.trades.ComputeTrades(ctx, accountID, progress)
			},
		},
		{
			Name:        jobComputeNetworth,
			Description: "Value daily balance snapshots into the net-worth series",
			Priority:    priorityNetworth,
			Trigger:     trigger,
			Run: func(ctx context.Context, progress scheduler.ProgressFunc) error {
				return s.networth.ComputeNetworth(ctx, accountID, since, progress)
			},
		},
	}

	jobIDs := make([]string, 0, len(specs))
	for _, spec := range specs {
		jobID, err := s.registry.Enqueue(accountID, spec)
		if err != nil {
			return jobIDs, fmt.Errorf("enqueueing %s: %w", spec.Name, err)
		}
		jobIDs = append(jobIDs, jobID)
	}
	logger.L.Info("Computation jobs scheduled", "accountID", accountID, "trigger", trigger, "jobs", len(jobIDs))
	return jobIDs, nil
}

func (s *ledgerServiceImpl) DeleteAccountData(accountID int64) error {
	// Tear the queue down first; the running job is cancelled with reason
	// "reset" and skips persisting terminal state for rows deleted below.
	s.registry.Remove(accountID)
	if err := model.DeleteAccount(s.db, accountID); err != nil {
		return err
	}
	logger.L.Info("Account data deleted", "accountID", accountID)
	return nil
}
