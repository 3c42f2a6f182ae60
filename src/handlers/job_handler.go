package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/model"
	"github.com/username/cryptofolio/backend/src/scheduler"
	"github.com/username/cryptofolio/backend/src/services"
)

const (
	jobListLimit      = 50
	heartbeatInterval = 25 * time.Second
)

type JobHandler struct {
	db            *sql.DB
	registry      *scheduler.Registry
	ledgerService services.LedgerService
}

func NewJobHandler(db *sql.DB, registry *scheduler.Registry, ledgerService services.LedgerService) *JobHandler {
	return &JobHandler{db: db, registry: registry, ledgerService: ledgerService}
}

func (h *JobHandler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	jobs, err := model.GetJobsByAccount(h.db, accountID, jobListLimit)
	if err != nil {
		logger.L.Error("Failed to list jobs", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	sendJSON(w, jobs, http.StatusOK)
}

// HandleCompute enqueues the full computation pipeline for the account.
func (h *JobHandler) HandleCompute(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	var payload struct {
		Since *int64 `json:"since"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			sendJSONError(w, "invalid request payload", http.StatusBadRequest)
			return
		}
	}
	jobIDs, err := h.ledgerService.ScheduleComputation(accountID, payload.Since, "user")
	if err != nil {
		logger.L.Error("Failed to schedule computation", "accountID", accountID, "error", err)
		sendJSONError(w, "failed to schedule computation", http.StatusInternalServerError)
		return
	}
	sendJSON(w, map[string]any{"jobIds": jobIDs}, http.StatusAccepted)
}

func (h *JobHandler) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")
	if err := h.registry.Cancel(accountID, jobID); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			sendJSONError(w, "job not found or already finished", http.StatusNotFound)
			return
		}
		logger.L.Error("Failed to cancel job", "accountID", accountID, "jobID", jobID, "error", err)
		sendJSONError(w, "failed to cancel job", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandler) HandleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := accountIDParam(w, r); !ok {
		return
	}
	jobID := chi.URLParam(r, "jobID")
	lines, err := model.GetJobLogs(h.db, jobID)
	if err != nil {
		logger.L.Error("Failed to load job logs", "jobID", jobID, "error", err)
		sendJSONError(w, "failed to load job logs", http.StatusInternalServerError)
		return
	}
	sendJSON(w, lines, http.StatusOK)
}

// HandleEvents streams the account's scheduler events over SSE until the
// client disconnects.
func (h *JobHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsubscribe := h.registry.Broker().Subscribe(accountID)
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.L.Error("Failed to marshal scheduler event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
