// Package transport implements the HTTP/WebSocket layer (A4): the REST
// control surface for sessions and orders, plus a per-session WebSocket
// stream of broadcast events. Grounded on the teacher's internal/api
// (stdlib http.ServeMux with method+path patterns, writeJSON/writeError/
// parseIntParam helpers) for the REST half, and on internal/session
// (Client/Manager/Handler) for the WebSocket half, generalized from ITCH
// ticker subscriptions to session/topic subscriptions plus an
// order-control surface, per
// original_source/src/api/v1/ws.rs and src/api/v3/ws.rs.
package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/broadcast"
	"github.com/uri157/exchange-simulator/internal/core"
	"github.com/uri157/exchange-simulator/internal/orders"
	"github.com/uri157/exchange-simulator/internal/sessions"
)

// Server wires the sessions and orders services onto an http.ServeMux.
type Server struct {
	sessions *sessions.Service
	orders   *orders.Service
	bus      *broadcast.Bus
}

func NewServer(sessionsSvc *sessions.Service, ordersSvc *orders.Service, bus *broadcast.Bus) *Server {
	return &Server{sessions: sessionsSvc, orders: ordersSvc, bus: bus}
}

// Register attaches every route to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/start", s.handleStartSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/pause", s.handlePauseSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/resume", s.handleResumeSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/seek", s.handleSeekSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/enable", s.handleEnableSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/disable", s.handleDisableSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)

	mux.HandleFunc("POST /api/v1/sessions/{id}/orders", s.handlePlaceOrder)
	mux.HandleFunc("GET /api/v1/sessions/{id}/orders/{orderId}", s.handleGetOrder)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/orders/{orderId}", s.handleCancelOrder)
	mux.HandleFunc("GET /api/v1/sessions/{id}/orders", s.handleListOpenOrders)
	mux.HandleFunc("GET /api/v1/sessions/{id}/trades", s.handleMyTrades)

	mux.HandleFunc("GET /ws/sessions/{id}", s.handleWebSocket)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.Is(err, apperr.NotFound):
		status = http.StatusNotFound
	case apperr.Is(err, apperr.Validation):
		status = http.StatusBadRequest
	case apperr.Is(err, apperr.Conflict):
		status = http.StatusConflict
	case apperr.Is(err, apperr.External):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, apperr.Validationf("invalid %s", name))
		return uuid.UUID{}, false
	}
	return id, true
}

func parseInt64Param(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

type createSessionRequest struct {
	Symbols    []string `json:"symbols"`
	Interval   string   `json:"interval"`
	StartTime  int64    `json:"startTime"`
	EndTime    int64    `json:"endTime"`
	Speed      float64  `json:"speed"`
	Seed       int64    `json:"seed"`
	MarketMode string   `json:"marketMode"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validationf("invalid request body: %v", err))
		return
	}
	cfg, err := s.sessions.CreateSession(r.Context(), sessions.CreateSessionParams{
		Symbols:    req.Symbols,
		Interval:   req.Interval,
		StartTime:  core.TimestampMs(req.StartTime),
		EndTime:    core.TimestampMs(req.EndTime),
		Speed:      req.Speed,
		Seed:       req.Seed,
		MarketMode: core.MarketMode(req.MarketMode),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	cfg, err := s.sessions.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	cfg, err := s.sessions.StartSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	cfg, err := s.sessions.PauseSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	cfg, err := s.sessions.ResumeSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type seekRequest struct {
	To int64 `json:"to"`
}

func (s *Server) handleSeekSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validationf("invalid request body: %v", err))
		return
	}
	cfg, err := s.sessions.SeekSession(r.Context(), id, core.TimestampMs(req.To))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleEnableSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	cfg, err := s.sessions.EnableSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDisableSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	cfg, err := s.sessions.DisableSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := s.sessions.DeleteSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type placeOrderRequest struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	ClientOrderID string  `json:"clientOrderId"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validationf("invalid request body: %v", err))
		return
	}
	order, err := s.orders.PlaceOrder(r.Context(), orders.PlaceOrderParams{
		SessionID:     id,
		Symbol:        req.Symbol,
		Side:          core.OrderSide(req.Side),
		Type:          core.OrderType(req.Type),
		Quantity:      req.Quantity,
		Price:         req.Price,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	sid, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	oid, ok := parseUUIDParam(w, r, "orderId")
	if !ok {
		return
	}
	order, err := s.orders.GetOrder(r.Context(), sid, oid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	sid, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	oid, ok := parseUUIDParam(w, r, "orderId")
	if !ok {
		return
	}
	order, err := s.orders.CancelOrder(r.Context(), sid, oid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleListOpenOrders(w http.ResponseWriter, r *http.Request) {
	sid, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	symbol := r.URL.Query().Get("symbol")
	list, err := s.orders.ListOpen(r.Context(), sid, symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleMyTrades(w http.ResponseWriter, r *http.Request) {
	sid, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	symbol := r.URL.Query().Get("symbol")
	list, err := s.orders.MyTrades(r.Context(), sid, symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
