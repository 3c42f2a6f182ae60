package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/security/validation"
	"github.com/username/cryptofolio/backend/src/services"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type LedgerHandler struct {
	db            *sql.DB
	ledgerService services.LedgerService
}

func NewLedgerHandler(db *sql.DB, ledgerService services.LedgerService) *LedgerHandler {
	return &LedgerHandler{db: db, ledgerService: ledgerService}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func queryInt64(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (h *LedgerHandler) HandleAppendEntries(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	var entries []models.AuditLogEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		sendJSONError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	for i := range entries {
		entries[i].Wallet = validation.CleanUserText(entries[i].Wallet)
		entries[i].Platform = validation.CleanUserText(entries[i].Platform)
	}
	inserted, err := h.ledgerService.AppendEntries(accountID, entries, "user")
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoEntries), errors.Is(err, services.ErrInvalidEntry):
			sendJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, services.ErrInvalidAccount):
			sendJSONError(w, "account not found", http.StatusNotFound)
		default:
			logger.FromContext(r.Context()).Error("Failed to append entries", "accountID", accountID, "error", err)
			sendJSONError(w, "failed to append entries", http.StatusInternalServerError)
		}
		return
	}
	sendJSON(w, inserted, http.StatusCreated)
}

func (h *LedgerHandler) HandleGetEntries(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	since := queryInt64(r, "since", 0)
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset := queryInt(r, "offset", 0)

	entries, err := model.GetAuditLogPage(h.db, accountID, since, limit, offset)
	if err != nil {
		logger.L.Error("Failed to load audit log page", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to load entries", http.StatusInternalServerError)
		return
	}
	sendJSON(w, entries, http.StatusOK)
}

func (h *LedgerHandler) HandleAddTransaction(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	var tx models.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		sendJSONError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if tx.Timestamp <= 0 || tx.Type == "" {
		sendJSONError(w, "transaction type and timestamp are required", http.StatusBadRequest)
		return
	}
	tx.Platform = validation.CleanUserText(tx.Platform)
	tx.Notes = validation.CleanUserText(tx.Notes)

	created, err := h.ledgerService.AddTransaction(accountID, tx, "user")
	if err != nil {
		if errors.Is(err, services.ErrInvalidAccount) {
			sendJSONError(w, "account not found", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Failed to add transaction", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to add transaction", http.StatusInternalServerError)
		return
	}
	sendJSON(w, created, http.StatusCreated)
}

func (h *LedgerHandler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	txs, err := model.GetTransactionsByAccount(h.db, accountID, limit)
	if err != nil {
		logger.L.Error("Failed to load transactions", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to load transactions", http.StatusInternalServerError)
		return
	}
	sendJSON(w, txs, http.StatusOK)
}

func (h *LedgerHandler) HandleGetBalances(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	since := queryInt64(r, "since", 0)
	snapshots, err := model.GetBalanceSnapshotsSince(h.db, accountID, since)
	if err != nil {
		logger.L.Error("Failed to load balance snapshots", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to load balances", http.StatusInternalServerError)
		return
	}
	sendJSON(w, snapshots, http.StatusOK)
}

func (h *LedgerHandler) HandleGetTrades(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	trades, err := model.GetTrades(h.db, accountID)
	if err != nil {
		logger.L.Error("Failed to load trades", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	sendJSON(w, trades, http.StatusOK)
}

func (h *LedgerHandler) HandleGetNetworth(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	series, err := model.GetNetworthSeries(h.db, accountID)
	if err != nil {
		logger.L.Error("Failed to load networth series", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to load networth", http.StatusInternalServerError)
		return
	}
	sendJSON(w, series, http.StatusOK)
}
