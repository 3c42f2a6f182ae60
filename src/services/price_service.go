package services

import (
	"database/sql"
	"fmt"

	"github.com/patrickmn/go-cache"
	"github.com/username/cryptofolio/backend/src/model"
)

type priceServiceImpl struct {
	db    *sql.DB
	cache *cache.Cache
}

// NewPriceService builds the DB-backed price service. Day maps are
// memoized: the net-worth computation asks for the same day repeatedly
// when several accounts recompute in sequence.
func NewPriceService(db *sql.DB, c *cache.Cache) PriceService {
	return &priceServiceImpl{db: db, cache: c}
}

func (s *priceServiceImpl) GetPricedAssetMap(accountID int64, day int64) (map[string]float64, error) {
	key := fmt.Sprintf("pricedAssets:%d", day)
	if cached, ok := s.cache.Get(key); ok {
		if prices, ok := cached.(map[string]float64); ok {
			return prices, nil
		}
	}
	prices, err := model.GetPricedAssetMap(s.db, day)
	if err != nil {
		return nil, fmt.Errorf("loading priced assets: %w", err)
	}
	s.cache.Set(key, prices, cache.DefaultExpiration)
	return prices, nil
}

func (s *priceServiceImpl) UpsertDailyPrice(assetID string, day int64, price float64) error {
	if err := model.InsertOrUpdateDailyPrice(s.db, assetID, day, price); err != nil {
		return fmt.Errorf("saving daily price: %w", err)
	}
	// The memoized day map is now stale.
	s.cache.Delete(fmt.Sprintf("pricedAssets:%d", day))
	return nil
}
