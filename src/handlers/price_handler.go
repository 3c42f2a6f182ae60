package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/services"
	"github.com/username/cryptofolio/backend/src/utils"
)

type PriceHandler struct {
	priceService services.PriceService
}

func NewPriceHandler(priceService services.PriceService) *PriceHandler {
	return &PriceHandler{priceService: priceService}
}

// HandleUpsertDailyPrice records or corrects one asset's price for a day.
// The timestamp is floored to the day the valuation uses.
func (h *PriceHandler) HandleUpsertDailyPrice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AssetID   string  `json:"assetId"`
		Timestamp int64   `json:"timestamp"`
		Price     float64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendJSONError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.AssetID == "" || payload.Timestamp <= 0 || payload.Price < 0 {
		sendJSONError(w, "assetId, timestamp and a non-negative price are required", http.StatusBadRequest)
		return
	}
	day := utils.FloorDay(payload.Timestamp)
	if err := h.priceService.UpsertDailyPrice(payload.AssetID, day, payload.Price); err != nil {
		logger.FromContext(r.Context()).Error("Failed to save daily price", "assetID", payload.AssetID, "day", day, "error", err)
		sendJSONError(w, "failed to save price", http.StatusInternalServerError)
		return
	}
	sendJSON(w, map[string]any{"assetId": payload.AssetID, "timestamp": day, "price": payload.Price}, http.StatusOK)
}
