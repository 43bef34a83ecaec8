// Package orderid maps internal UUID order identifiers onto compact,
// per-session incrementing numeric ids for the external-facing API,
// grounded on original_source/src/infra/repos/orders_repo.rs's
// OrderIdMapping (same two-way map, same per-session counter).
package orderid

import (
	"sync"

	"github.com/google/uuid"
)

type key struct {
	sessionID uuid.UUID
	orderID   uuid.UUID
}

type numericKey struct {
	sessionID uuid.UUID
	numeric   uint64
}

// Mapping is an in-memory, per-session bidirectional map between order
// UUIDs and compact numeric ids.
type Mapping struct {
	mu         sync.Mutex
	counters   map[uuid.UUID]uint64
	byUUID     map[key]uint64
	byNumeric  map[numericKey]uuid.UUID
}

func New() *Mapping {
	return &Mapping{
		counters:  make(map[uuid.UUID]uint64),
		byUUID:    make(map[key]uint64),
		byNumeric: make(map[numericKey]uuid.UUID),
	}
}

// EnsureMapping returns the numeric id assigned to orderID, creating one
// if this is the first time it's been seen for sessionID.
func (m *Mapping) EnsureMapping(sessionID, orderID uuid.UUID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{sessionID, orderID}
	if existing, ok := m.byUUID[k]; ok {
		return existing
	}

	m.counters[sessionID]++
	numeric := m.counters[sessionID]
	m.byUUID[k] = numeric
	m.byNumeric[numericKey{sessionID, numeric}] = orderID
	return numeric
}

// GetNumeric returns the numeric id for an order already mapped.
func (m *Mapping) GetNumeric(sessionID, orderID uuid.UUID) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byUUID[key{sessionID, orderID}]
	return n, ok
}

// ResolveUUID resolves a numeric id exposed over the API back to the
// internal order UUID.
func (m *Mapping) ResolveUUID(sessionID uuid.UUID, numeric uint64) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byNumeric[numericKey{sessionID, numeric}]
	return id, ok
}
