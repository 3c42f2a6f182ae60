package processors

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/utils"
)

// stubPrices serves fixed per-day price maps without touching the database.
type stubPrices map[int64]map[string]float64

func (s stubPrices) GetPricedAssetMap(accountID int64, day int64) (map[string]float64, error) {
	return s[day], nil
}

func assertDecimalEqual(t *testing.T, want, got string, msgAndArgs ...any) {
	t.Helper()
	w := decimal.RequireFromString(want)
	g := decimal.RequireFromString(got)
	assert.Truef(t, w.Equal(g), "expected %s, got %s: %v", want, got, msgAndArgs)
}

func networthByDay(t *testing.T, db *sql.DB, accountID int64) map[int64]models.NetworthPoint {
	t.Helper()
	series, err := model.GetNetworthSeries(db, accountID)
	require.NoError(t, err)
	byDay := make(map[int64]models.NetworthPoint, len(series))
	for _, p := range series {
		byDay[p.Timestamp] = p
	}
	return byDay
}

func TestComputeNetworthValuesSnapshots(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)

	today := utils.FloorDay(utils.NowMs())
	day0 := today - utils.DayMs
	require.NoError(t, model.UpsertBalanceSnapshot(db, accountID, day0, map[string]string{"BTC": "2"}))
	require.NoError(t, model.UpsertBalanceSnapshot(db, accountID, today, map[string]string{"BTC": "3"}))

	prices := stubPrices{
		day0:  {"BTC": 10},
		today: {"BTC": 10},
	}
	p := NewNetworthProcessor(db, prices)
	require.NoError(t, p.ComputeNetworth(context.Background(), accountID, nil, nil))

	byDay := networthByDay(t, db, accountID)
	require.Len(t, byDay, 2)
	assertDecimalEqual(t, "20", byDay[day0].Value)
	assertDecimalEqual(t, "30", byDay[today].Value)
	assertDecimalEqual(t, "10", byDay[today].Change)
	assertDecimalEqual(t, "50", byDay[today].ChangePercentage)

	cursor, err := model.GetCursor(db, accountID, models.NetworthCursor)
	require.NoError(t, err)
	assert.Equal(t, today, cursor)
}

func TestComputeNetworthUnpricedAssetContributesZero(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)

	today := utils.FloorDay(utils.NowMs())
	require.NoError(t, model.UpsertBalanceSnapshot(db, accountID, today, map[string]string{
		"BTC":     "1",
		"UNKNOWN": "999",
	}))

	p := NewNetworthProcessor(db, stubPrices{today: {"BTC": 50000}})
	require.NoError(t, p.ComputeNetworth(context.Background(), accountID, nil, nil))

	byDay := networthByDay(t, db, accountID)
	require.Len(t, byDay, 1)
	assertDecimalEqual(t, "50000", byDay[today].Value)
}

func TestComputeNetworthChangeGuards(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)

	today := utils.FloorDay(utils.NowMs())
	day0 := today - 2*utils.DayMs
	day1 := today - utils.DayMs
	// day0 values to zero, so the day1 percentage has a zero denominator.
	require.NoError(t, model.UpsertBalanceSnapshot(db, accountID, day0, map[string]string{"DUST": "5"}))
	require.NoError(t, model.UpsertBalanceSnapshot(db, accountID, day1, map[string]string{"BTC": "1"}))
	require.NoError(t, model.UpsertBalanceSnapshot(db, accountID, today, map[string]string{"BTC": "1"}))

	prices := stubPrices{
		day1:  {"BTC": 100},
		today: {"BTC": 100},
	}
	p := NewNetworthProcessor(db, prices)
	require.NoError(t, p.ComputeNetworth(context.Background(), accountID, nil, nil))

	byDay := networthByDay(t, db, accountID)
	require.Len(t, byDay, 3)
	assertDecimalEqual(t, "0", byDay[day0].Value)
	assertDecimalEqual(t, "100", byDay[day1].Change)
	assertDecimalEqual(t, "0", byDay[day1].ChangePercentage, "zero prior value must not divide")
	assertDecimalEqual(t, "0", byDay[today].Change)
	assertDecimalEqual(t, "0", byDay[today].ChangePercentage)
}

func TestComputeNetworthPrunesBeyondSnapshots(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)

	today := utils.FloorDay(utils.NowMs())
	require.NoError(t, model.UpsertNetworthPoint(db, models.NetworthPoint{
		AccountID: accountID, Timestamp: today, Value: "100", Change: "0", ChangePercentage: "0",
	}))

	// No snapshots at or after the resume point: stale points past it go away.
	since := today - utils.DayMs
	p := NewNetworthProcessor(db, stubPrices{})
	require.NoError(t, p.ComputeNetworth(context.Background(), accountID, &since, nil))

	series, err := model.GetNetworthSeries(db, accountID)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestComputeNetworthResumesFromPreviousValue(t *testing.T) {
	db := newTestDB(t)
	accountID := newTestAccount(t, db)

	today := utils.FloorDay(utils.NowMs())
	day0 := today - utils.DayMs
	require.NoError(t, model.UpsertNetworthPoint(db, models.NetworthPoint{
		AccountID: accountID, Timestamp: day0, Value: "200", Change: "0", ChangePercentage: "0",
	}))
	require.NoError(t, model.UpsertBalanceSnapshot(db, accountID, today, map[string]string{"BTC": "3"}))

	since := today
	p := NewNetworthProcessor(db, stubPrices{today: {"BTC": 100}})
	require.NoError(t, p.ComputeNetworth(context.Background(), accountID, &since, nil))

	byDay := networthByDay(t, db, accountID)
	assertDecimalEqual(t, "300", byDay[today].Value)
	assertDecimalEqual(t, "100", byDay[today].Change, "change is computed against the stored prior point")
	assertDecimalEqual(t, "50", byDay[today].ChangePercentage)
}
