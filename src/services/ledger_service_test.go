package services

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/processors"
	"github.com/username/cryptofolio/backend/src/scheduler"
	"github.com/username/cryptofolio/backend/src/utils"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// noPrices satisfies the price source without any priced assets.
type noPrices struct{}

func (noPrices) GetPricedAssetMap(accountID int64, day int64) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func newTestLedgerService(t *testing.T) (*sql.DB, LedgerService, int64) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	registry, err := scheduler.NewRegistry(db, scheduler.NewBroker(), time.Second)
	require.NoError(t, err)

	svc := NewLedgerService(db, registry,
		processors.NewBalanceProcessor(db, 1000),
		processors.NewTradeProcessor(db),
		processors.NewNetworthProcessor(db, noPrices{}),
	)

	account, err := model.CreateAccount(db, t.Name(), utils.NowMs())
	require.NoError(t, err)
	return db, svc, account.ID
}

func waitForPipeline(t *testing.T, db *sql.DB, accountID int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		jobs, err := model.GetJobsByAccount(db, accountID, 50)
		if err != nil || len(jobs) == 0 {
			return false
		}
		for _, job := range jobs {
			switch job.Status {
			case models.JobStatusQueued, models.JobStatusRunning:
				return false
			}
		}
		return true
	}, 10*time.Second, 20*time.Millisecond, "computation pipeline never finished")
}

func TestAppendEntriesRunsFullPipeline(t *testing.T) {
	db, svc, accountID := newTestLedgerService(t)

	today := utils.FloorDay(utils.NowMs())
	day0 := today - 2*utils.DayMs
	inserted, err := svc.AppendEntries(accountID, []models.AuditLogEntry{
		{AssetID: "BTC", Wallet: "main", Operation: models.OperationDeposit, Change: "10", Timestamp: day0 + 1000},
		{AssetID: "BTC", Wallet: "main", Operation: models.OperationWithdrawal, Change: "-10", Timestamp: today + 2000},
	}, "test")
	require.NoError(t, err)
	require.Len(t, inserted, 2)
	assert.NotEmpty(t, inserted[0].ID, "entries get stable hash ids assigned")

	waitForPipeline(t, db, accountID)

	jobs, err := model.GetJobsByAccount(db, accountID, 50)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	names := make(map[string]models.JobStatus, 3)
	for _, job := range jobs {
		names[job.Name] = job.Status
	}
	assert.Equal(t, models.JobStatusCompleted, names["computeBalances"])
	assert.Equal(t, models.JobStatusCompleted, names["computeTrades"])
	assert.Equal(t, models.JobStatusCompleted, names["computeNetworth"])

	snapshots, err := model.GetBalanceSnapshotsSince(db, accountID, 0)
	require.NoError(t, err)
	require.Len(t, snapshots, 4)
	assert.Equal(t, map[string]string{"BTC": "10"}, snapshots[1].Balances)
	assert.Empty(t, snapshots[3].Balances)

	trades, err := model.GetTrades(db, accountID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "10", trades[0].Amount)
	assert.False(t, trades[0].IsOpen)
}

func TestAppendEntriesValidation(t *testing.T) {
	_, svc, accountID := newTestLedgerService(t)

	_, err := svc.AppendEntries(accountID, nil, "test")
	require.ErrorIs(t, err, ErrNoEntries)

	_, err = svc.AppendEntries(accountID, []models.AuditLogEntry{
		{AssetID: "", Change: "1", Timestamp: utils.NowMs()},
	}, "test")
	require.ErrorIs(t, err, ErrInvalidEntry)

	_, err = svc.AppendEntries(99999, []models.AuditLogEntry{
		{AssetID: "BTC", Change: "1", Timestamp: utils.NowMs()},
	}, "test")
	require.ErrorIs(t, err, ErrInvalidAccount)
}

func TestAppendEntriesIsIdempotent(t *testing.T) {
	db, svc, accountID := newTestLedgerService(t)

	entries := []models.AuditLogEntry{
		{AssetID: "BTC", Wallet: "main", Operation: models.OperationDeposit, Change: "1", Timestamp: utils.NowMs()},
	}
	first, err := svc.AppendEntries(accountID, entries, "test")
	require.NoError(t, err)

	again := []models.AuditLogEntry{
		{AssetID: "BTC", Wallet: "main", Operation: models.OperationDeposit, Change: "1", Timestamp: first[0].Timestamp},
	}
	second, err := svc.AppendEntries(accountID, again, "test")
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID, "identical source data hashes to the same id")

	waitForPipeline(t, db, accountID)
	count, err := model.CountAuditLogsSince(db, accountID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-importing the same entry must not duplicate it")
}

func TestAddTransactionMaterializesLegs(t *testing.T) {
	db, svc, accountID := newTestLedgerService(t)

	incoming, incomingAmount := "BTC", "1"
	outgoing, outgoingAmount := "USD", "100"
	feeAsset, feeAmount := "USD", "1"
	ts := utils.FloorDay(utils.NowMs()) - utils.DayMs
	tx, err := svc.AddTransaction(accountID, models.Transaction{
		Type:          "swap",
		Timestamp:     ts,
		Platform:      "exchange",
		IncomingAsset: &incoming,
		Incoming:      &incomingAmount,
		OutgoingAsset: &outgoing,
		Outgoing:      &outgoingAmount,
		FeeAsset:      &feeAsset,
		Fee:           &feeAmount,
	}, "test")
	require.NoError(t, err)
	require.NotEmpty(t, tx.ID)

	waitForPipeline(t, db, accountID)

	entries, err := model.GetAuditLogPage(db, accountID, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byAsset := make(map[string][]models.AuditLogEntry)
	for _, e := range entries {
		require.NotNil(t, e.TxID)
		assert.Equal(t, tx.ID, *e.TxID)
		byAsset[e.AssetID] = append(byAsset[e.AssetID], e)
	}
	require.Len(t, byAsset["BTC"], 1)
	assert.Equal(t, "1", byAsset["BTC"][0].Change)
	assert.Equal(t, models.OperationBuy, byAsset["BTC"][0].Operation)

	require.Len(t, byAsset["USD"], 2)
	changes := []string{byAsset["USD"][0].Change, byAsset["USD"][1].Change}
	assert.ElementsMatch(t, []string{"-100", "-1"}, changes, "outgoing and fee legs are negated")

	// The derived BTC trade picks up the sold and fee legs.
	trades, err := model.GetTrades(db, accountID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "BTC", trades[0].AssetID)
	assert.Equal(t, []string{"USD"}, trades[0].SoldAssets)
	assert.Equal(t, []string{"100"}, trades[0].SoldAmounts)
	assert.Equal(t, []string{"1"}, trades[0].FeeAmounts)
}

func TestAddTransactionSameMillisecondDistinctIDs(t *testing.T) {
	db, svc, accountID := newTestLedgerService(t)

	ts := utils.FloorDay(utils.NowMs()) - utils.DayMs
	base := models.Transaction{Type: "swap", Timestamp: ts, Platform: "exchange"}

	first := base
	incomingA, amountA := "BTC", "1"
	first.IncomingAsset, first.Incoming = &incomingA, &amountA
	created1, err := svc.AddTransaction(accountID, first, "test")
	require.NoError(t, err)

	second := base
	incomingB, amountB := "ETH", "5"
	second.IncomingAsset, second.Incoming = &incomingB, &amountB
	created2, err := svc.AddTransaction(accountID, second, "test")
	require.NoError(t, err)

	assert.NotEqual(t, created1.ID, created2.ID, "transactions with different legs must not share an id")

	waitForPipeline(t, db, accountID)
	txs, err := model.GetTransactionsByAccount(db, accountID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	entries, err := model.GetAuditLogPage(db, accountID, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.NotNil(t, e.TxID)
		if e.AssetID == "BTC" {
			assert.Equal(t, created1.ID, *e.TxID)
		} else {
			assert.Equal(t, created2.ID, *e.TxID)
		}
	}
}

func TestDeleteAccountDataRemovesEverything(t *testing.T) {
	db, svc, accountID := newTestLedgerService(t)

	_, err := svc.AppendEntries(accountID, []models.AuditLogEntry{
		{AssetID: "BTC", Wallet: "main", Operation: models.OperationDeposit, Change: "5", Timestamp: utils.NowMs()},
	}, "test")
	require.NoError(t, err)
	waitForPipeline(t, db, accountID)

	require.NoError(t, svc.DeleteAccountData(accountID))

	_, err = model.GetAccount(db, accountID)
	require.ErrorIs(t, err, model.ErrAccountNotFound)

	count, err := model.CountAuditLogsSince(db, accountID, 0)
	require.NoError(t, err)
	assert.Zero(t, count, "audit log rows cascade with the account")

	snapshots, err := model.GetBalanceSnapshotsSince(db, accountID, 0)
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}
