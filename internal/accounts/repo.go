// Package accounts implements the per-session balance ledger (C5),
// grounded on original_source/src/services/account_service.rs for the
// ensure_session_account/balance-map shape, generalized per spec.md
// §4.5/§4.8 to deduct fees from the correct side and route them by
// fee_asset (the Rust version predates fee accounting).
package accounts

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/core"
)

// Repo is an in-memory, per-session AccountsRepo, mirroring the teacher's
// mutex-guarded map idiom (internal/session.Manager, internal/engine.MarketEngine)
// rather than the Mongo-backed repos in internal/store: balances churn on
// every fill and live only in process memory; they do not survive a
// process restart.
type Repo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]core.AccountSnapshot
}

func NewRepo() *Repo {
	return &Repo{accounts: make(map[uuid.UUID]core.AccountSnapshot)}
}

func (r *Repo) GetAccount(_ context.Context, sessionID uuid.UUID) (core.AccountSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.accounts[sessionID]
	if !ok {
		return core.AccountSnapshot{}, apperr.NotFoundf("account for session %s not found", sessionID)
	}
	return cloneSnapshot(snap), nil
}

func (r *Repo) SaveAccount(_ context.Context, snapshot core.AccountSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[snapshot.SessionID] = cloneSnapshot(snapshot)
	return nil
}

func cloneSnapshot(snap core.AccountSnapshot) core.AccountSnapshot {
	balances := make(map[string]core.Balance, len(snap.Balances))
	for k, v := range snap.Balances {
		balances[k] = v
	}
	return core.AccountSnapshot{SessionID: snap.SessionID, Balances: balances}
}

var _ core.AccountsRepo = (*Repo)(nil)
