// Package orders implements the per-session orders index (C6) and the
// Orders Service (C7), grounded on the teacher's internal/orderbook.Book
// (mutex-guarded map of order id to struct, enumeration helpers) for the
// repository shape, and on
// original_source/src/services/orders_service.rs for the
// validate->ensure-account->classify->persist placement flow (the
// original's fill-on-placement logic is superseded here: placement only
// classifies and persists, fills happen in internal/matcher).
package orders

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/core"
)

type orderEntry struct {
	order core.Order
	fills []core.Fill
}

type sessionIndex struct {
	mu            sync.Mutex
	byID          map[uuid.UUID]*orderEntry
	byClientID    map[string]uuid.UUID
	fillKeys      map[uuid.UUID]map[int64]bool // orderID -> tradeID -> seen
}

func newSessionIndex() *sessionIndex {
	return &sessionIndex{
		byID:       make(map[uuid.UUID]*orderEntry),
		byClientID: make(map[string]uuid.UUID),
		fillKeys:   make(map[uuid.UUID]map[int64]bool),
	}
}

// Repo is an in-memory, per-session OrdersRepo, grounded on the teacher's
// internal/orderbook.Book map-of-structs-under-a-mutex idiom.
type Repo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionIndex
}

func NewRepo() *Repo {
	return &Repo{sessions: make(map[uuid.UUID]*sessionIndex)}
}

func (r *Repo) index(sessionID uuid.UUID) *sessionIndex {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.sessions[sessionID]
	if !ok {
		idx = newSessionIndex()
		r.sessions[sessionID] = idx
	}
	return idx
}

func (r *Repo) Create(_ context.Context, o core.Order) error {
	idx := r.index(o.SessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if o.ClientOrderID != "" {
		if _, exists := idx.byClientID[o.ClientOrderID]; exists {
			return apperr.Conflictf("client_order_id %q already used in session %s", o.ClientOrderID, o.SessionID)
		}
	}
	idx.byID[o.ID] = &orderEntry{order: o}
	if o.ClientOrderID != "" {
		idx.byClientID[o.ClientOrderID] = o.ID
	}
	return nil
}

func (r *Repo) Update(_ context.Context, o core.Order) error {
	idx := r.index(o.SessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.byID[o.ID]
	if !ok {
		return apperr.NotFoundf("order %s not found", o.ID)
	}
	entry.order = o
	return nil
}

func (r *Repo) Get(_ context.Context, sessionID, orderID uuid.UUID) (core.Order, error) {
	idx := r.index(sessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.byID[orderID]
	if !ok {
		return core.Order{}, apperr.NotFoundf("order %s not found", orderID)
	}
	return entry.order, nil
}

func (r *Repo) GetByClientID(_ context.Context, sessionID uuid.UUID, clientOrderID string) (core.Order, error) {
	idx := r.index(sessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	orderID, ok := idx.byClientID[clientOrderID]
	if !ok {
		return core.Order{}, apperr.NotFoundf("order with client_order_id %q not found", clientOrderID)
	}
	return idx.byID[orderID].order, nil
}

func isOpenStatus(s core.OrderStatus) bool {
	return s == core.OrderNew || s == core.OrderPartiallyFilled
}

// ListOpen returns open orders sorted by (created_at, order_id) so that
// matcher fan-out against a single trade is deterministic and
// reproducible in tests, instead of following Go's randomized map
// iteration order.
func (r *Repo) ListOpen(_ context.Context, sessionID uuid.UUID, symbol string) ([]core.Order, error) {
	idx := r.index(sessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var out []core.Order
	for _, e := range idx.byID {
		if isOpenStatus(e.order.Status) && (symbol == "" || e.order.Symbol == symbol) {
			out = append(out, e.order)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *Repo) ListActive(ctx context.Context, sessionID uuid.UUID) ([]core.Order, error) {
	return r.ListOpen(ctx, sessionID, "")
}

func (r *Repo) Cancel(_ context.Context, sessionID, orderID uuid.UUID, at core.TimestampMs) (core.Order, error) {
	idx := r.index(sessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.byID[orderID]
	if !ok {
		return core.Order{}, apperr.NotFoundf("order %s not found", orderID)
	}
	if entry.order.Status.IsTerminal() {
		return core.Order{}, apperr.Validationf("order %s cannot be canceled from status %s", orderID, entry.order.Status)
	}
	entry.order.Status = core.OrderCanceled
	entry.order.UpdatedAt = at
	return entry.order, nil
}

func (r *Repo) MarkExpiredForSession(_ context.Context, sessionID uuid.UUID, at core.TimestampMs) ([]core.Order, error) {
	idx := r.index(sessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var affected []core.Order
	for _, e := range idx.byID {
		if isOpenStatus(e.order.Status) {
			e.order.Status = core.OrderExpired
			e.order.UpdatedAt = at
			affected = append(affected, e.order)
		}
	}
	return affected, nil
}

func (r *Repo) AppendFill(_ context.Context, f core.Fill) (bool, error) {
	idx := r.index(f.SessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()

	seen, ok := idx.fillKeys[f.OrderID]
	if !ok {
		seen = make(map[int64]bool)
		idx.fillKeys[f.OrderID] = seen
	}
	if seen[f.TradeID] {
		return false, nil
	}
	seen[f.TradeID] = true

	entry, ok := idx.byID[f.OrderID]
	if !ok {
		return false, apperr.NotFoundf("order %s not found", f.OrderID)
	}
	entry.fills = append(entry.fills, f)
	return true, nil
}

func (r *Repo) HasFill(_ context.Context, orderID uuid.UUID, tradeID int64) (bool, error) {
	r.mu.Lock()
	sessions := make([]*sessionIndex, 0, len(r.sessions))
	for _, idx := range r.sessions {
		sessions = append(sessions, idx)
	}
	r.mu.Unlock()

	for _, idx := range sessions {
		idx.mu.Lock()
		seen, ok := idx.fillKeys[orderID]
		has := ok && seen[tradeID]
		idx.mu.Unlock()
		if ok {
			return has, nil
		}
	}
	return false, nil
}

func (r *Repo) ListFills(_ context.Context, sessionID uuid.UUID, symbol string) ([]core.Fill, error) {
	idx := r.index(sessionID)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var out []core.Fill
	for _, e := range idx.byID {
		for _, f := range e.fills {
			if symbol == "" || f.Symbol == symbol {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (r *Repo) ListOrderFills(_ context.Context, orderID uuid.UUID) ([]core.Fill, error) {
	r.mu.Lock()
	sessions := make([]*sessionIndex, 0, len(r.sessions))
	for _, idx := range r.sessions {
		sessions = append(sessions, idx)
	}
	r.mu.Unlock()

	for _, idx := range sessions {
		idx.mu.Lock()
		entry, ok := idx.byID[orderID]
		if ok {
			fills := append([]core.Fill{}, entry.fills...)
			idx.mu.Unlock()
			return fills, nil
		}
		idx.mu.Unlock()
	}
	return nil, apperr.NotFoundf("order %s not found", orderID)
}

var _ core.OrdersRepo = (*Repo)(nil)
