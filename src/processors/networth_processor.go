package processors

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/scheduler"
)

// PriceSource supplies the priced-asset map for one exact day. Implemented
// by the price service; the pricing subsystem itself is an external
// collaborator.
type PriceSource interface {
	GetPricedAssetMap(accountID int64, day int64) (map[string]float64, error)
}

// NetworthProcessor combines daily balance snapshots with priced-asset
// maps into a valued time series.
type NetworthProcessor struct {
	db     *sql.DB
	prices PriceSource
}

func NewNetworthProcessor(db *sql.DB, prices PriceSource) *NetworthProcessor {
	return &NetworthProcessor{db: db, prices: prices}
}

// ComputeNetworth values every balance snapshot from the networthCursor
// (or since) onward. Assets with a balance but no price for a day
// contribute zero, silently. The cursor advances to the last snapshot's
// day only on success.
func (p *NetworthProcessor) ComputeNetworth(ctx context.Context, accountID int64, since *int64, progress scheduler.ProgressFunc) error {
	if progress == nil {
		progress = noProgress
	}

	var from int64
	if since != nil {
		from = *since
	} else {
		cursor, err := model.GetCursor(p.db, accountID, models.NetworthCursor)
		if err != nil {
			return fmt.Errorf("reading networth cursor: %w", err)
		}
		from = cursor
	}

	if err := scheduler.CheckCancelled(ctx); err != nil {
		return err
	}

	snapshots, err := model.GetBalanceSnapshotsSince(p.db, accountID, from)
	if err != nil {
		return fmt.Errorf("loading balance snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		// No balances past this point means no net worth should exist
		// past it either.
		if err := model.DeleteNetworthAfter(p.db, accountID, from); err != nil {
			return fmt.Errorf("pruning networth series: %w", err)
		}
		progress(nil, "no balance snapshots in range, networth pruned")
		return nil
	}

	var prev *decimal.Decimal
	if raw, ok, err := model.GetNetworthValueBefore(p.db, accountID, snapshots[0].Timestamp); err != nil {
		return fmt.Errorf("loading previous networth value: %w", err)
	} else if ok {
		if d, err := decimal.NewFromString(raw); err == nil {
			prev = &d
		}
	}

	points := make([]models.NetworthPoint, 0, len(snapshots))
	for i, snapshot := range snapshots {
		if err := scheduler.CheckCancelled(ctx); err != nil {
			return err
		}
		priced, err := p.prices.GetPricedAssetMap(accountID, snapshot.Timestamp)
		if err != nil {
			return fmt.Errorf("loading priced assets for day %d: %w", snapshot.Timestamp, err)
		}

		value := decimal.Zero
		for asset, raw := range snapshot.Balances {
			price, ok := priced[asset]
			if !ok {
				continue
			}
			balance, err := decimal.NewFromString(raw)
			if err != nil {
				logger.L.Warn("Skipping unparsable snapshot balance", "accountID", accountID, "asset", asset, "value", raw)
				continue
			}
			value = value.Add(decimal.NewFromFloat(price).Mul(balance).Round(2))
		}

		change := decimal.Zero
		changePct := decimal.Zero
		if prev != nil {
			change = value.Sub(*prev)
			// Guard the division: a zero change or a zero prior value
			// yields 0%, not an artifact.
			if !change.IsZero() && !prev.IsZero() {
				changePct = change.Div(*prev).Mul(decimal.NewFromInt(100)).Round(2)
			}
		}

		points = append(points, models.NetworthPoint{
			AccountID:        accountID,
			Timestamp:        snapshot.Timestamp,
			Value:            value.String(),
			Change:           change.String(),
			ChangePercentage: changePct.String(),
		})
		v := value
		prev = &v

		pct := float64(i+1) / float64(len(snapshots)) * 100
		progress(&pct, fmt.Sprintf("valued %d/%d days", i+1, len(snapshots)))
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("starting networth write: %w", err)
	}
	defer tx.Rollback()
	for _, point := range points {
		if err := model.UpsertNetworthPoint(tx, point); err != nil {
			return fmt.Errorf("writing networth point: %w", err)
		}
	}
	if err := model.SetCursor(tx, accountID, models.NetworthCursor, snapshots[len(snapshots)-1].Timestamp); err != nil {
		return fmt.Errorf("advancing networth cursor: %w", err)
	}
	return tx.Commit()
}
