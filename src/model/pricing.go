package model

import "time"

// GetPricedAssetMap returns the asset price map for one exact day
// timestamp. The daily_prices table is owned by the external price-fetching
// subsystem; the core only reads it.
func GetPricedAssetMap(db DBTX, day int64) (map[string]float64, error) {
	prices := make(map[string]float64)
	rows, err := db.Query(`SELECT asset_id, price FROM daily_prices WHERE date = ?`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			asset string
			price float64
		)
		if err := rows.Scan(&asset, &price); err != nil {
			return nil, err
		}
		prices[asset] = price
	}
	return prices, rows.Err()
}

// InsertOrUpdateDailyPrice saves one asset price for one day, updating if
// it already exists. Exposed for the price subsystem and for tests.
func InsertOrUpdateDailyPrice(db DBTX, assetID string, day int64, price float64) error {
	_, err := db.Exec(`
		INSERT INTO daily_prices (asset_id, date, price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(asset_id, date) DO UPDATE SET
			price = excluded.price,
			updated_at = excluded.updated_at`,
		assetID, day, price, time.Now().UnixMilli())
	return err
}
