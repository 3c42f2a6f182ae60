package processors

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/scheduler"
	"github.com/username/cryptofolio/backend/src/utils"
)

// BalanceProcessor replays signed audit-log changes into daily balance
// snapshots, per-wallet and aggregate. Replay is incremental from the
// balancesCursor; since=0 forces a full rebuild.
type BalanceProcessor struct {
	db       *sql.DB
	pageSize int
}

func NewBalanceProcessor(db *sql.DB, pageSize int) *BalanceProcessor {
	return &BalanceProcessor{db: db, pageSize: pageSize}
}

func noProgress(*float64, string) {}

func balancesToStrings(balances map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(balances))
	for asset, d := range balances {
		out[asset] = d.String()
	}
	return out
}

// ComputeBalances replays all audit-log entries with timestamp >= since in
// strict (timestamp, id) order and writes one cumulative snapshot per day,
// gap-filled so every day between genesis and today has a snapshot. The
// cursor only advances after all writes succeed; a cancelled run leaves it
// untouched and is safe to retry.
func (p *BalanceProcessor) ComputeBalances(ctx context.Context, accountID int64, since *int64, progress scheduler.ProgressFunc) error {
	if progress == nil {
		progress = noProgress
	}

	var from int64
	if since != nil {
		from = *since
	} else {
		cursor, err := model.GetCursor(p.db, accountID, models.BalancesCursor)
		if err != nil {
			return fmt.Errorf("reading balances cursor: %w", err)
		}
		from = cursor
	}
	// Snapshots are keyed by exact day; a mid-day resume point would miss
	// the boundary snapshot and replay from empty state.
	from = utils.FloorDay(from)
	full := from == 0

	if err := scheduler.CheckCancelled(ctx); err != nil {
		return err
	}

	if full {
		if err := model.DeleteAllBalanceSnapshots(p.db, accountID); err != nil {
			return fmt.Errorf("dropping balance snapshots: %w", err)
		}
	}

	// Starting cumulative state: the prior day's snapshot, plus the most
	// recent per-wallet balances at-or-before the boundary for every asset
	// in that snapshot. Wallet state is reconstructed, not snapshotted.
	cumulative := make(map[string]decimal.Decimal)
	wallets := make(map[string]map[string]decimal.Decimal)
	hadPriorState := false
	if !full {
		prior, ok, err := model.GetBalanceSnapshot(p.db, accountID, from-utils.DayMs)
		if err != nil {
			return fmt.Errorf("loading boundary snapshot: %w", err)
		}
		if ok {
			hadPriorState = true
			assetIDs := make([]string, 0, len(prior))
			for asset, raw := range prior {
				d, err := decimal.NewFromString(raw)
				if err != nil {
					logger.L.Warn("Skipping unparsable snapshot balance", "accountID", accountID, "asset", asset, "value", raw)
					continue
				}
				cumulative[asset] = d
				assetIDs = append(assetIDs, asset)
			}
			walletState, err := model.GetWalletBalancesBefore(p.db, accountID, assetIDs, from)
			if err != nil {
				return fmt.Errorf("reconstructing wallet balances: %w", err)
			}
			for asset, perWallet := range walletState {
				wallets[asset] = make(map[string]decimal.Decimal, len(perWallet))
				for wallet, raw := range perWallet {
					d, err := decimal.NewFromString(raw)
					if err != nil {
						continue
					}
					wallets[asset][wallet] = d
				}
			}
		}
	}

	total, err := model.CountAuditLogsSince(p.db, accountID, from)
	if err != nil {
		return fmt.Errorf("counting audit log entries: %w", err)
	}
	if total == 0 && full {
		// A full run over an empty log deletes everything rather than
		// writing empty snapshots; the delete above already did that.
		progress(nil, "no audit log entries, balance snapshots cleared")
		return nil
	}

	snapshots := make(map[int64]map[string]string)
	var (
		haveDay    bool
		lastDay    int64
		genesisDay int64
		processed  int
	)

	offset := 0
	for {
		if err := scheduler.CheckCancelled(ctx); err != nil {
			return err
		}
		page, err := model.GetAuditLogPage(p.db, accountID, from, p.pageSize, offset)
		if err != nil {
			return fmt.Errorf("reading audit log page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		type balanceUpdate struct {
			id, balance, balanceWallet string
		}
		updates := make([]balanceUpdate, 0, len(page))

		for i := range page {
			entry := &page[i]
			day := utils.FloorDay(entry.Timestamp)

			if !haveDay {
				genesisDay = day
			} else if day > lastDay+utils.DayMs {
				// Fill every skipped day with a copy of the last known
				// cumulative snapshot.
				for d := lastDay + utils.DayMs; d < day; d += utils.DayMs {
					snapshots[d] = balancesToStrings(cumulative)
				}
			}

			change, err := decimal.NewFromString(entry.Change)
			if err != nil {
				logger.L.Warn("Skipping audit log entry with unparsable change", "entryID", entry.ID, "change", entry.Change)
				continue
			}

			if wallets[entry.AssetID] == nil {
				wallets[entry.AssetID] = make(map[string]decimal.Decimal)
			}
			newWallet := wallets[entry.AssetID][entry.Wallet].Add(change)
			if newWallet.IsZero() {
				delete(wallets[entry.AssetID], entry.Wallet)
			} else {
				wallets[entry.AssetID][entry.Wallet] = newWallet
			}

			newCumulative := cumulative[entry.AssetID].Add(change)
			if newCumulative.IsZero() {
				// A removed key is semantically "no balance", distinct
				// from a present "0" entry.
				delete(cumulative, entry.AssetID)
			} else {
				cumulative[entry.AssetID] = newCumulative
			}

			updates = append(updates, balanceUpdate{
				id:            entry.ID,
				balance:       newCumulative.String(),
				balanceWallet: newWallet.String(),
			})

			snapshots[day] = balancesToStrings(cumulative)
			haveDay = true
			lastDay = day
		}

		// Cache the replay result on the entries themselves, batched per
		// page so a crash never costs more than one page of write-backs.
		tx, err := p.db.Begin()
		if err != nil {
			return fmt.Errorf("starting balance write-back: %w", err)
		}
		for _, u := range updates {
			if err := model.UpdateAuditLogBalances(tx, u.id, u.balance, u.balanceWallet); err != nil {
				tx.Rollback()
				return fmt.Errorf("writing entry balances: %w", err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing balance write-back: %w", err)
		}

		processed += len(page)
		if total > 0 {
			pct := float64(processed) / float64(total) * 100
			progress(&pct, fmt.Sprintf("replayed %d/%d audit log entries", processed, total))
		}
		if len(page) < p.pageSize {
			break
		}
		offset += len(page)
	}

	if err := scheduler.CheckCancelled(ctx); err != nil {
		return err
	}

	// Fill forward to today so balances stay defined with no activity.
	today := utils.FloorDay(utils.NowMs())
	if haveDay {
		for d := lastDay + utils.DayMs; d <= today; d += utils.DayMs {
			snapshots[d] = balancesToStrings(cumulative)
		}
	} else if hadPriorState {
		// No new entries: extend the boundary state through today to keep
		// the gapless invariant.
		for d := utils.FloorDay(from); d <= today; d += utils.DayMs {
			snapshots[d] = balancesToStrings(cumulative)
		}
	}

	// Explicit all-empty state one day before genesis, so charts can
	// render a pre-genesis zero point.
	if full && haveDay {
		snapshots[genesisDay-utils.DayMs] = map[string]string{}
	}

	if len(snapshots) == 0 {
		return nil
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("starting snapshot write: %w", err)
	}
	defer tx.Rollback()
	for _, day := range sortedDays(snapshots) {
		if err := model.UpsertBalanceSnapshot(tx, accountID, day, snapshots[day]); err != nil {
			return fmt.Errorf("writing snapshot for day %d: %w", day, err)
		}
	}
	if haveDay {
		if err := model.SetCursor(tx, accountID, models.BalancesCursor, lastDay); err != nil {
			return fmt.Errorf("advancing balances cursor: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshots: %w", err)
	}

	done := 100.0
	progress(&done, fmt.Sprintf("balances up to date, %d snapshot days written", len(snapshots)))
	return nil
}

func sortedDays(snapshots map[int64]map[string]string) []int64 {
	days := make([]int64, 0, len(snapshots))
	for day := range snapshots {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}
