package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/models"
	"github.com/username/cryptofolio/backend/src/security/validation"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type AccountHandler struct {
	db            *sql.DB
	ledgerService services.LedgerService
}

func NewAccountHandler(db *sql.DB, ledgerService services.LedgerService) *AccountHandler {
	return &AccountHandler{db: db, ledgerService: ledgerService}
}

func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := model.ListAccounts(h.db)
	if err != nil {
		logger.L.Error("Failed to list accounts", "error", err)
		sendJSONError(w, "failed to list accounts", http.StatusInternalServerError)
		return
	}
	sendJSON(w, accounts, http.StatusOK)
}

func (h *AccountHandler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendJSONError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	name := validation.CleanUserText(payload.Name)
	if name == "" {
		sendJSONError(w, "account name is required", http.StatusBadRequest)
		return
	}
	account, err := model.CreateAccount(h.db, name, utils.NowMs())
	if err != nil {
		logger.L.Error("Failed to create account", "name", name, "error", err)
		sendJSONError(w, "failed to create account", http.StatusInternalServerError)
		return
	}
	logger.L.Info("Account created", "accountID", account.ID, "name", account.Name)
	sendJSON(w, account, http.StatusCreated)
}

// HandleGetAccountSummary returns the account together with quick ledger
// stats for the overview screen.
func (h *AccountHandler) HandleGetAccountSummary(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	account, err := model.GetAccount(h.db, accountID)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			sendJSONError(w, "account not found", http.StatusNotFound)
			return
		}
		logger.L.Error("Failed to load account", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	entryCount, err := model.CountAuditLogsSince(h.db, accountID, 0)
	if err != nil {
		logger.L.Error("Failed to count audit log entries", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to load account summary", http.StatusInternalServerError)
		return
	}
	summary := struct {
		Account      models.Account `json:"account"`
		EntryCount   int            `json:"entryCount"`
		FirstEntryAt *int64         `json:"firstEntryAt"`
	}{Account: account, EntryCount: entryCount}
	if earliest, ok, err := model.GetEarliestAuditLogTimestamp(h.db, accountID); err != nil {
		logger.L.Error("Failed to load earliest entry timestamp", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to load account summary", http.StatusInternalServerError)
		return
	} else if ok {
		summary.FirstEntryAt = &earliest
	}
	sendJSON(w, summary, http.StatusOK)
}

func (h *AccountHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	if err := h.ledgerService.DeleteAccountData(accountID); err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			sendJSONError(w, "account not found", http.StatusNotFound)
			return
		}
		logger.L.Error("Failed to delete account", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to delete account", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
