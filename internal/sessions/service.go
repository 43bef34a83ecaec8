// Package sessions implements the Sessions Service (C10): the lifecycle
// state machine that owns create/start/pause/resume/seek/disable/delete
// for a simulation instance, coordinating the clock, replay engine, and
// broadcast bus behind each transition.
//
// Grounded line-for-line on
// original_source/src/services/sessions_service.rs: same guard order
// (ensure_enabled before any mutation), same revert-on-failure behavior
// in start_session, same "stop + park to Paused + disable + close bus"
// shape shared by disable_session and delete_session.
package sessions

import (
	"context"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/apperr"
	"github.com/uri157/exchange-simulator/internal/broadcast"
	"github.com/uri157/exchange-simulator/internal/core"
)

type Service struct {
	repo   core.SessionsRepo
	clock  core.Clock
	replay core.ReplayEngine
	bus    *broadcast.Bus
}

func NewService(repo core.SessionsRepo, clock core.Clock, replay core.ReplayEngine, bus *broadcast.Bus) *Service {
	return &Service{repo: repo, clock: clock, replay: replay, bus: bus}
}

// CreateSessionParams mirrors create_session's argument list.
type CreateSessionParams struct {
	Symbols   []string
	Interval  string
	StartTime core.TimestampMs
	EndTime   core.TimestampMs
	Speed     float64
	Seed      int64
	MarketMode core.MarketMode
}

func (s *Service) CreateSession(ctx context.Context, p CreateSessionParams) (core.SessionConfig, error) {
	if p.Speed <= 0 {
		return core.SessionConfig{}, apperr.Validationf("speed must be > 0")
	}
	if len(p.Symbols) == 0 {
		return core.SessionConfig{}, apperr.Validationf("at least one symbol is required")
	}
	if p.EndTime <= p.StartTime {
		return core.SessionConfig{}, apperr.Validationf("end_time must be greater than start_time")
	}

	now := core.NowMs()
	cfg := core.SessionConfig{
		SessionID:  uuid.New(),
		Symbols:    p.Symbols,
		Interval:   p.Interval,
		StartTime:  p.StartTime,
		EndTime:    p.EndTime,
		Speed:      p.Speed,
		MarketMode: p.MarketMode,
		Enabled:    true,
		Status:     core.SessionCreated,
		Seed:       p.Seed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	inserted, err := s.repo.Insert(ctx, cfg)
	if err != nil {
		return core.SessionConfig{}, err
	}

	_ = s.clock.InitSession(ctx, inserted.SessionID, p.StartTime)
	if err := s.clock.AdvanceTo(ctx, inserted.SessionID, p.StartTime); err != nil {
		return core.SessionConfig{}, err
	}

	return inserted, nil
}

func (s *Service) StartSession(ctx context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return core.SessionConfig{}, err
	}
	if err := ensureEnabled(session); err != nil {
		return core.SessionConfig{}, err
	}
	if session.Status == core.SessionRunning {
		return core.SessionConfig{}, apperr.Conflictf("session is already running")
	}

	if err := s.clock.InitSession(ctx, sessionID, session.StartTime); err != nil {
		return core.SessionConfig{}, err
	}
	if err := s.clock.SetSpeed(ctx, sessionID, session.Speed); err != nil {
		return core.SessionConfig{}, err
	}

	previousStatus := session.Status
	running, err := s.repo.UpdateStatus(ctx, sessionID, core.SessionRunning)
	if err != nil {
		return core.SessionConfig{}, err
	}

	if err := s.replay.Start(ctx, running); err != nil {
		_, _ = s.repo.UpdateStatus(ctx, sessionID, previousStatus)
		return core.SessionConfig{}, err
	}

	if err := s.clock.Resume(ctx, sessionID); err != nil {
		return core.SessionConfig{}, err
	}

	return running, nil
}

func (s *Service) PauseSession(ctx context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return core.SessionConfig{}, err
	}
	if err := ensureEnabled(session); err != nil {
		return core.SessionConfig{}, err
	}

	if err := s.clock.Pause(ctx, sessionID); err != nil {
		return core.SessionConfig{}, err
	}
	if err := s.replay.Pause(ctx, sessionID); err != nil {
		return core.SessionConfig{}, err
	}
	return s.repo.UpdateStatus(ctx, sessionID, core.SessionPaused)
}

func (s *Service) ResumeSession(ctx context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return core.SessionConfig{}, err
	}
	if err := ensureEnabled(session); err != nil {
		return core.SessionConfig{}, err
	}

	if err := s.clock.Resume(ctx, sessionID); err != nil {
		return core.SessionConfig{}, err
	}
	if err := s.replay.Resume(ctx, sessionID); err != nil {
		return core.SessionConfig{}, err
	}
	return s.repo.UpdateStatus(ctx, sessionID, core.SessionRunning)
}

func (s *Service) SeekSession(ctx context.Context, sessionID uuid.UUID, to core.TimestampMs) (core.SessionConfig, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return core.SessionConfig{}, err
	}
	if err := ensureEnabled(session); err != nil {
		return core.SessionConfig{}, err
	}
	if to < session.StartTime || to > session.EndTime {
		return core.SessionConfig{}, apperr.Validationf("seek target outside session range")
	}

	current, err := s.clock.Now(ctx, sessionID)
	if err != nil {
		return core.SessionConfig{}, err
	}
	if session.Status == core.SessionRunning && to < current {
		return core.SessionConfig{}, apperr.Validationf("cannot seek backwards while session is running")
	}

	if err := s.clock.AdvanceTo(ctx, sessionID, to); err != nil {
		return core.SessionConfig{}, err
	}
	if err := s.replay.Seek(ctx, sessionID, to); err != nil {
		return core.SessionConfig{}, err
	}
	return s.repo.Get(ctx, sessionID)
}

func (s *Service) ListSessions(ctx context.Context) ([]core.SessionConfig, error) {
	return s.repo.List(ctx)
}

func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	return s.repo.Get(ctx, sessionID)
}

func (s *Service) EnableSession(ctx context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return core.SessionConfig{}, err
	}
	if session.Enabled {
		return session, nil
	}
	if err := s.repo.SetEnabled(ctx, sessionID, true); err != nil {
		return core.SessionConfig{}, err
	}
	return s.repo.Get(ctx, sessionID)
}

func (s *Service) DisableSession(ctx context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return core.SessionConfig{}, err
	}

	if err := s.replay.Stop(ctx, sessionID); err != nil {
		return core.SessionConfig{}, err
	}

	if session.Status == core.SessionRunning {
		if _, err := s.repo.UpdateStatus(ctx, sessionID, core.SessionPaused); err != nil {
			return core.SessionConfig{}, err
		}
	}

	if err := s.repo.SetEnabled(ctx, sessionID, false); err != nil {
		return core.SessionConfig{}, err
	}
	s.bus.Close(sessionID)

	return s.repo.Get(ctx, sessionID)
}

func (s *Service) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := s.replay.Stop(ctx, sessionID); err != nil {
		return err
	}

	if session.Status == core.SessionRunning {
		if _, err := s.repo.UpdateStatus(ctx, sessionID, core.SessionPaused); err != nil {
			return err
		}
	}

	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.bus.Close(sessionID)
	return nil
}

func ensureEnabled(session core.SessionConfig) error {
	if !session.Enabled {
		return apperr.Conflictf("session is disabled")
	}
	return nil
}
