package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/security"
)

type AuthHandler struct {
	authService *security.AuthService
}

func NewAuthHandler(authService *security.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		sendJSONError(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	token, err := h.authService.Login(payload.Password)
	if err != nil {
		if errors.Is(err, security.ErrInvalidCredentials) {
			sendJSONError(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		logger.L.Error("Login failed", "error", err)
		sendJSONError(w, "login failed", http.StatusInternalServerError)
		return
	}
	sendJSON(w, map[string]string{"token": token}, http.StatusOK)
}
