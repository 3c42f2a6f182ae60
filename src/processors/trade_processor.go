package processors

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/scheduler"
)

// TradeProcessor re-derives discrete position lifecycles (open -> close)
// per asset from the full change history. Always a full recompute: the
// shape of open/closed intervals can retroactively change when older data
// is back-filled, so partial replay is unsound.
type TradeProcessor struct {
	db *sql.DB
}

func NewTradeProcessor(db *sql.DB) *TradeProcessor {
	return &TradeProcessor{db: db}
}

// tradeID derives a stable id from the asset, the open timestamp and the
// opening audit-log entry.
func tradeID(assetID string, openedAt int64, entryID string) string {
	hash := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s", assetID, openedAt, entryID))
	return hex.EncodeToString(hash[:])
}

// legAccumulator merges amounts per asset while keeping first-seen order.
type legAccumulator struct {
	order   []string
	amounts map[string]decimal.Decimal
}

func newLegAccumulator() *legAccumulator {
	return &legAccumulator{amounts: make(map[string]decimal.Decimal)}
}

func (l *legAccumulator) add(asset string, amount decimal.Decimal) {
	if _, ok := l.amounts[asset]; !ok {
		l.order = append(l.order, asset)
	}
	l.amounts[asset] = l.amounts[asset].Add(amount)
}

func (l *legAccumulator) lists() ([]string, []string) {
	assets := make([]string, 0, len(l.order))
	amounts := make([]string, 0, len(l.order))
	for _, asset := range l.order {
		assets = append(assets, asset)
		amounts = append(amounts, l.amounts[asset].String())
	}
	return assets, amounts
}

// ComputeTrades rebuilds every trade and its join rows from scratch. The
// clear and the bulk insert run inside one SQL transaction, so a cancel or
// crash mid-compute never exposes an empty trade table.
func (p *TradeProcessor) ComputeTrades(ctx context.Context, accountID int64, progress scheduler.ProgressFunc) error {
	if progress == nil {
		progress = noProgress
	}

	entries, err := model.GetAllAuditLogsOrdered(p.db, accountID)
	if err != nil {
		return fmt.Errorf("loading audit log: %w", err)
	}

	// Prefetch every linked transaction so the rebuild transaction below
	// never has to read through the single-connection pool.
	txIDSet := make(map[string]struct{})
	for _, e := range entries {
		if e.TxID != nil && *e.TxID != "" {
			txIDSet[*e.TxID] = struct{}{}
		}
	}
	txIDs := make([]string, 0, len(txIDSet))
	for id := range txIDSet {
		txIDs = append(txIDs, id)
	}
	linkedTxs, err := model.GetTransactionsByIDs(p.db, accountID, txIDs)
	if err != nil {
		return fmt.Errorf("loading linked transactions: %w", err)
	}

	byAsset := make(map[string][]models.AuditLogEntry)
	for _, e := range entries {
		byAsset[e.AssetID] = append(byAsset[e.AssetID], e)
	}
	assets := make([]string, 0, len(byAsset))
	for asset := range byAsset {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	var trades []models.Trade
	for i, asset := range assets {
		if err := scheduler.CheckCancelled(ctx); err != nil {
			return err
		}
		trades = append(trades, p.deriveAssetTrades(accountID, asset, byAsset[asset], linkedTxs)...)
		pct := float64(i+1) / float64(len(assets)) * 100
		progress(&pct, fmt.Sprintf("derived trades for %s", asset))
	}

	if err := scheduler.CheckCancelled(ctx); err != nil {
		return err
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("starting trade rebuild: %w", err)
	}
	defer tx.Rollback()
	if err := model.DeleteAllTrades(tx, accountID); err != nil {
		return fmt.Errorf("clearing derived trades: %w", err)
	}
	if err := model.InsertTrades(tx, trades); err != nil {
		return fmt.Errorf("inserting trades: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing trades: %w", err)
	}

	done := 100.0
	progress(&done, fmt.Sprintf("%d trades rebuilt", len(trades)))
	return nil
}

// deriveAssetTrades runs the position state machine over one asset's
// entries, ordered by timestamp. A trade opens when the running balance
// crosses from <= 0 to > 0 and closes when it returns to <= 0; its amount
// is the peak balance observed, not the latest.
func (p *TradeProcessor) deriveAssetTrades(accountID int64, assetID string, entries []models.AuditLogEntry, linkedTxs map[string]models.Transaction) []models.Trade {
	var (
		trades  []models.Trade
		current *models.Trade
		balance = decimal.Zero
		peak    decimal.Decimal
		sold    *legAccumulator
		fees    *legAccumulator
	)

	flush := func() {
		soldAssets, soldAmounts := sold.lists()
		feeAssets, feeAmounts := fees.lists()
		current.Amount = peak.String()
		current.Balance = balance.String()
		current.SoldAssets = soldAssets
		current.SoldAmounts = soldAmounts
		current.FeeAssets = feeAssets
		current.FeeAmounts = feeAmounts
		trades = append(trades, *current)
		current = nil
	}

	accumulateLegs := func(txID string) {
		linked, ok := linkedTxs[txID]
		if !ok {
			return
		}
		if linked.OutgoingAsset != nil && linked.Outgoing != nil && *linked.OutgoingAsset != assetID {
			if amount, err := decimal.NewFromString(*linked.Outgoing); err == nil {
				sold.add(*linked.OutgoingAsset, amount)
			}
		}
		if linked.FeeAsset != nil && linked.Fee != nil {
			if amount, err := decimal.NewFromString(*linked.Fee); err == nil {
				fees.add(*linked.FeeAsset, amount)
			}
		}
	}

	for i := range entries {
		e := &entries[i]
		change, err := decimal.NewFromString(e.Change)
		if err != nil {
			logger.L.Warn("Skipping audit log entry with unparsable change", "entryID", e.ID, "change", e.Change)
			continue
		}
		balance = balance.Add(change)

		if current == nil {
			if !balance.GreaterThan(decimal.Zero) {
				continue
			}
			// Closed -> Open: anchor a new trade at this entry.
			current = &models.Trade{
				ID:        tradeID(assetID, e.Timestamp, e.ID),
				AccountID: accountID,
				AssetID:   assetID,
				CreatedAt: e.Timestamp,
				IsOpen:    true,
			}
			peak = balance
			sold = newLegAccumulator()
			fees = newLegAccumulator()
			if change.GreaterThan(decimal.Zero) && e.TxID != nil {
				accumulateLegs(*e.TxID)
			}
			current.AuditLogIDs = append(current.AuditLogIDs, e.ID)
			if e.TxID != nil && *e.TxID != "" {
				current.TransactionIDs = append(current.TransactionIDs, *e.TxID)
			}
			continue
		}

		// Open -> Open: the trade continues through this entry.
		current.AuditLogIDs = append(current.AuditLogIDs, e.ID)
		if e.TxID != nil && *e.TxID != "" {
			current.TransactionIDs = append(current.TransactionIDs, *e.TxID)
			accumulateLegs(*e.TxID)
		}
		if balance.GreaterThan(peak) {
			peak = balance
		}

		if !balance.GreaterThan(decimal.Zero) {
			// Open -> Closed.
			closedAt := e.Timestamp
			duration := closedAt - current.CreatedAt
			current.ClosedAt = &closedAt
			current.Duration = &duration
			current.IsOpen = false
			flush()
		}
	}

	// Any still-open trade is flushed as open; no forced close at the
	// data horizon.
	if current != nil {
		flush()
	}
	return trades
}
