package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lox/wingo/internal/engine"
	"github.com/lox/wingo/internal/protocol"
	"github.com/lox/wingo/internal/round"
)

const userHeader = "User-Id"

func userFromRequest(r *http.Request) string {
	if u := r.Header.Get(userHeader); u != "" {
		return u
	}
	return r.URL.Query().Get("user")
}

func (s *Server) modeFromRequest(r *http.Request) round.Mode {
	if m := r.URL.Query().Get("mode"); m != "" {
		return round.Mode(m)
	}
	return s.defaultMode
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto an HTTP status and a wire error body.
func writeError(w http.ResponseWriter, err error) {
	code := engine.ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errUnauthenticated):
		code, status = "unauthenticated", http.StatusUnauthorized
	case errors.Is(err, errInvalidMessage):
		code, status = "invalid_message", http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownMode):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrRoundClosed), errors.Is(err, engine.ErrDuplicateBet):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidSelection),
		errors.Is(err, engine.ErrInvalidMultiplier),
		errors.Is(err, engine.ErrStakeOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInsufficientBalance):
		status = http.StatusPaymentRequired
	case errors.Is(err, engine.ErrLedgerUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, protocol.ErrorData{Code: code, Message: err.Error()})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modesData(s.engine.Config()))
}

func (s *Server) handleCurrentRound(w http.ResponseWriter, r *http.Request) {
	mode := s.modeFromRequest(r)
	snap, err := s.engine.CurrentRound(mode, userFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, currentRoundData(mode, snap))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	mode := s.modeFromRequest(r)
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, errInvalidMessage)
			return
		}
		limit = n
	}

	summaries, err := s.engine.History(r.Context(), mode, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyData(mode, summaries))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	if user == "" {
		writeError(w, errUnauthenticated)
		return
	}
	balance, err := s.engine.Balance(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.BalanceData{UserID: user, Balance: balance})
}

func (s *Server) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	user := userFromRequest(r)
	if user == "" {
		writeError(w, errUnauthenticated)
		return
	}

	var data protocol.PlaceBetData
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageSize)
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, errInvalidMessage)
		return
	}
	if data.Mode == "" {
		data.Mode = s.defaultMode
	}

	bet, err := s.engine.PlaceBet(r.Context(), betRequest(user, data))
	if err != nil {
		s.logger.Debug("Bet rejected", "user", user, "round", data.RoundID, "error", err)
		writeError(w, err)
		return
	}
	balance, err := s.engine.Balance(r.Context(), user)
	if err != nil {
		s.logger.Warn("Failed to read balance after bet", "user", user, "error", err)
	}
	writeJSON(w, http.StatusCreated, protocol.BetPlacedData{Bet: bet, Balance: balance})
}
