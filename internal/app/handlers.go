package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"chatmeter/internal/auth"
	"chatmeter/internal/chat"
	"chatmeter/internal/idempotency"
	"chatmeter/internal/ledger"
	"chatmeter/internal/store"
	"chatmeter/pkg/models"
)

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := a.auth.Register(r.Context(), req.Username, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingFields):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUsernameTaken):
			writeError(w, http.StatusBadRequest, "username already taken")
		default:
			a.logger.Error("registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully!"})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		a.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, pair)
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	if !a.limiter.Allow(a.chatLimit, userID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := a.chat.Execute(r.Context(), userID, req.Message)
	if err != nil {
		a.writeChatError(w, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeChatError maps transaction errors to status codes. Client mistakes
// get 4xx; infrastructure failures get 5xx. Either way the caller's balance
// is already consistent by the time the error reaches this point.
func (a *App) writeChatError(w http.ResponseWriter, userID int64, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "Message is required")
	case errors.Is(err, chat.ErrInsufficientTokens):
		writeError(w, http.StatusForbidden, "Insufficient tokens")
	case errors.Is(err, chat.ErrGenerationFailed):
		a.logger.Error("response generation failed", "user_id", userID, "error", err)
		writeError(w, http.StatusBadGateway, "response generation failed")
	case errors.Is(err, chat.ErrPersistence), errors.Is(err, chat.ErrStoreUnavailable):
		a.logger.Error("chat persistence failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store chat")
	default:
		a.logger.Error("chat transaction failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat failed")
	}
}

func (a *App) handleTokens(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	balance, err := a.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		a.logger.Error("balance lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}

	writeJSON(w, http.StatusOK, models.BalanceResponse{Tokens: balance})
}

func (a *App) handleTopUp(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	// Keys are scoped per user; the same header value from two accounts
	// names two distinct records.
	key := r.Header.Get("Idempotency-Key")
	if key != "" {
		key = fmt.Sprintf("%d:%s", userID, key)
	}
	if key != "" && a.idem != nil {
		if prior, err := a.idem.Lookup(key); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(prior.Status)
			w.Write(prior.Body) //nolint:errcheck
			return
		}
	}

	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Tokens <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid token amount.")
		return
	}

	balance, err := a.ledger.Credit(r.Context(), userID, req.Tokens)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			writeError(w, http.StatusBadRequest, "Invalid token amount.")
			return
		}
		a.logger.Error("top-up failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "top-up failed")
		return
	}

	if a.billing != nil {
		if err := a.billing.RecordTopUp(userID, req.Tokens); err != nil {
			// The credit already landed; billing is reconciled later.
			a.logger.Error("stripe top-up report failed", "user_id", userID, "error", err)
		}
	}

	resp := models.TopUpResponse{
		Message:     fmt.Sprintf("Successfully added %d tokens.", req.Tokens),
		TotalTokens: balance,
	}

	if key != "" && a.idem != nil {
		var body bytes.Buffer
		json.NewEncoder(&body).Encode(resp) //nolint:errcheck
		if err := a.idem.Record(key, &idempotency.Response{Status: http.StatusOK, Body: body.Bytes()}); err != nil {
			a.logger.Error("failed to record idempotency key", "key", key, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	records, err := a.chat.History(r.Context(), userID)
	if err != nil {
		a.logger.Error("history lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	// Empty history encodes as [] instead of null.
	if records == nil {
		records = []models.ChatRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
