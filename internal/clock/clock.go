// Package clock implements the per-session simulated clock (C1).
//
// The clock is logical, not wall-clock: advancement is driven by the
// replay engine as it emits events, not by real time passing. State is
// guarded by a single mutex, the same pattern the teacher uses for its
// per-client and per-symbol maps (internal/session.Manager,
// internal/engine.MarketEngine).
package clock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/core"
)

type state struct {
	currentTime core.TimestampMs
	speed       float64
	paused      bool
}

// Simulated is the in-process implementation of core.Clock.
type Simulated struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*state
	defaultSpeed float64
}

// New creates a clock whose sessions start at the given default speed.
func New(defaultSpeed float64) *Simulated {
	if defaultSpeed <= 0 {
		defaultSpeed = 1.0
	}
	return &Simulated{
		sessions:     make(map[uuid.UUID]*state),
		defaultSpeed: defaultSpeed,
	}
}

// InitSession creates clock state if absent. Idempotent: a second call for
// the same session is a no-op.
func (c *Simulated) InitSession(_ context.Context, sessionID uuid.UUID, start core.TimestampMs) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[sessionID]; ok {
		return nil
	}
	c.sessions[sessionID] = &state{
		currentTime: start,
		speed:       c.defaultSpeed,
		paused:      true,
	}
	return nil
}

func (c *Simulated) get(sessionID uuid.UUID) (*state, error) {
	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, apperr.NotFoundf("clock for session %s not found", sessionID)
	}
	return s, nil
}

func (c *Simulated) Now(_ context.Context, sessionID uuid.UUID) (core.TimestampMs, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.get(sessionID)
	if err != nil {
		return 0, err
	}
	return s.currentTime, nil
}

func (c *Simulated) SetSpeed(_ context.Context, sessionID uuid.UUID, speed float64) error {
	if speed <= 0 {
		return apperr.Validationf("speed must be > 0")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}
	s.speed = speed
	return nil
}

// AdvanceTo moves the clock forward, or backward while paused (a seek).
func (c *Simulated) AdvanceTo(_ context.Context, sessionID uuid.UUID, to core.TimestampMs) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}
	if to < s.currentTime {
		if s.paused {
			s.currentTime = to
			return nil
		}
		return apperr.Validationf("cannot move clock backwards")
	}
	s.currentTime = to
	return nil
}

func (c *Simulated) Pause(_ context.Context, sessionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}
	s.paused = true
	return nil
}

func (c *Simulated) Resume(_ context.Context, sessionID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.get(sessionID)
	if err != nil {
		return err
	}
	s.paused = false
	return nil
}

func (c *Simulated) IsPaused(_ context.Context, sessionID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.get(sessionID)
	if err != nil {
		return false, err
	}
	return s.paused, nil
}

func (c *Simulated) CurrentSpeed(_ context.Context, sessionID uuid.UUID) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.get(sessionID)
	if err != nil {
		return 0, err
	}
	return s.speed, nil
}

var _ core.Clock = (*Simulated)(nil)
