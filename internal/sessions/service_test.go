package sessions

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/broadcast"
	"github.com/uri157/exchange-simulator/internal/core"
)

type fakeRepo struct {
	sessions map[uuid.UUID]core.SessionConfig
}

func newFakeRepo() *fakeRepo { return &fakeRepo{sessions: make(map[uuid.UUID]core.SessionConfig)} }

func (f *fakeRepo) Insert(_ context.Context, cfg core.SessionConfig) (core.SessionConfig, error) {
	f.sessions[cfg.SessionID] = cfg
	return cfg, nil
}
func (f *fakeRepo) Get(_ context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	return f.sessions[sessionID], nil
}
func (f *fakeRepo) List(_ context.Context) ([]core.SessionConfig, error) {
	var out []core.SessionConfig
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeRepo) UpdateStatus(_ context.Context, sessionID uuid.UUID, status core.SessionStatus) (core.SessionConfig, error) {
	cfg := f.sessions[sessionID]
	cfg.Status = status
	f.sessions[sessionID] = cfg
	return cfg, nil
}
func (f *fakeRepo) SetEnabled(_ context.Context, sessionID uuid.UUID, enabled bool) error {
	cfg := f.sessions[sessionID]
	cfg.Enabled = enabled
	f.sessions[sessionID] = cfg
	return nil
}
func (f *fakeRepo) Delete(_ context.Context, sessionID uuid.UUID) error {
	delete(f.sessions, sessionID)
	return nil
}

type fakeClock struct {
	now    map[uuid.UUID]core.TimestampMs
	speed  map[uuid.UUID]float64
	paused map[uuid.UUID]bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:    make(map[uuid.UUID]core.TimestampMs),
		speed:  make(map[uuid.UUID]float64),
		paused: make(map[uuid.UUID]bool),
	}
}
func (f *fakeClock) InitSession(_ context.Context, sessionID uuid.UUID, start core.TimestampMs) error {
	if _, ok := f.now[sessionID]; ok {
		return nil
	}
	f.now[sessionID] = start
	f.paused[sessionID] = true
	return nil
}
func (f *fakeClock) Now(_ context.Context, sessionID uuid.UUID) (core.TimestampMs, error) {
	return f.now[sessionID], nil
}
func (f *fakeClock) SetSpeed(_ context.Context, sessionID uuid.UUID, speed float64) error {
	f.speed[sessionID] = speed
	return nil
}
func (f *fakeClock) AdvanceTo(_ context.Context, sessionID uuid.UUID, to core.TimestampMs) error {
	f.now[sessionID] = to
	return nil
}
func (f *fakeClock) Pause(_ context.Context, sessionID uuid.UUID) error {
	f.paused[sessionID] = true
	return nil
}
func (f *fakeClock) Resume(_ context.Context, sessionID uuid.UUID) error {
	f.paused[sessionID] = false
	return nil
}
func (f *fakeClock) IsPaused(_ context.Context, sessionID uuid.UUID) (bool, error) {
	return f.paused[sessionID], nil
}
func (f *fakeClock) CurrentSpeed(_ context.Context, sessionID uuid.UUID) (float64, error) {
	return f.speed[sessionID], nil
}

type fakeReplay struct {
	started map[uuid.UUID]bool
	failStart bool
}

func newFakeReplay() *fakeReplay { return &fakeReplay{started: make(map[uuid.UUID]bool)} }

func (f *fakeReplay) Start(_ context.Context, session core.SessionConfig) error {
	if f.failStart {
		return assertErr
	}
	f.started[session.SessionID] = true
	return nil
}
func (f *fakeReplay) Pause(_ context.Context, sessionID uuid.UUID) error  { return nil }
func (f *fakeReplay) Resume(_ context.Context, sessionID uuid.UUID) error { return nil }
func (f *fakeReplay) Seek(_ context.Context, sessionID uuid.UUID, to core.TimestampMs) error {
	return nil
}
func (f *fakeReplay) Stop(_ context.Context, sessionID uuid.UUID) error { return nil }
func (f *fakeReplay) LatestKline(uuid.UUID, string) (core.Kline, bool) { return core.Kline{}, false }
func (f *fakeReplay) LatestTrade(uuid.UUID, string) (core.AggTrade, bool) {
	return core.AggTrade{}, false
}

var assertErr = &testErr{"replay start failed"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func setup(t *testing.T) (*Service, *fakeRepo, *fakeClock, *fakeReplay) {
	t.Helper()
	repo := newFakeRepo()
	clk := newFakeClock()
	replay := newFakeReplay()
	bus := broadcast.New(16)
	return NewService(repo, clk, replay, bus), repo, clk, replay
}

func TestCreateSessionValidates(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()

	if _, err := svc.CreateSession(ctx, CreateSessionParams{Symbols: nil, StartTime: 0, EndTime: 10, Speed: 1}); err == nil {
		t.Fatal("expected error for empty symbols")
	}
	if _, err := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 10, EndTime: 10, Speed: 1}); err == nil {
		t.Fatal("expected error for end_time <= start_time")
	}
	if _, err := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 0, EndTime: 10, Speed: 0}); err == nil {
		t.Fatal("expected error for non-positive speed")
	}
}

func TestCreateSessionInitializesClockAtStart(t *testing.T) {
	svc, _, clk, _ := setup(t)
	ctx := context.Background()

	cfg, err := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 100, EndTime: 200, Speed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Status != core.SessionCreated {
		t.Errorf("status = %v, want Created", cfg.Status)
	}
	now, _ := clk.Now(ctx, cfg.SessionID)
	if now != 100 {
		t.Errorf("clock = %d, want 100", now)
	}
}

func TestStartSessionRejectsAlreadyRunning(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	cfg, _ := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 0, EndTime: 10, Speed: 1})

	if _, err := svc.StartSession(ctx, cfg.SessionID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.StartSession(ctx, cfg.SessionID); err == nil {
		t.Fatal("expected conflict starting an already-running session")
	}
}

func TestStartSessionRevertsStatusOnReplayFailure(t *testing.T) {
	svc, repo, _, replay := setup(t)
	ctx := context.Background()
	cfg, _ := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 0, EndTime: 10, Speed: 1})

	replay.failStart = true
	if _, err := svc.StartSession(ctx, cfg.SessionID); err == nil {
		t.Fatal("expected replay.Start failure to propagate")
	}
	got, _ := repo.Get(ctx, cfg.SessionID)
	if got.Status != core.SessionCreated {
		t.Errorf("status after failed start = %v, want reverted to Created", got.Status)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	cfg, _ := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 0, EndTime: 10, Speed: 1})
	svc.StartSession(ctx, cfg.SessionID)

	paused, err := svc.PauseSession(ctx, cfg.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if paused.Status != core.SessionPaused {
		t.Errorf("status = %v, want Paused", paused.Status)
	}

	running, err := svc.ResumeSession(ctx, cfg.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if running.Status != core.SessionRunning {
		t.Errorf("status = %v, want Running", running.Status)
	}
}

func TestSeekRejectsOutOfRangeAndBackwardsWhileRunning(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	cfg, _ := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 0, EndTime: 100, Speed: 1})
	svc.StartSession(ctx, cfg.SessionID)

	if _, err := svc.SeekSession(ctx, cfg.SessionID, 1000); err == nil {
		t.Fatal("expected validation error for out-of-range seek")
	}

	svc.clock.AdvanceTo(ctx, cfg.SessionID, 50)
	if _, err := svc.SeekSession(ctx, cfg.SessionID, 10); err == nil {
		t.Fatal("expected validation error seeking backwards while running")
	}
}

func TestDisableSessionParksRunningToPausedAndClosesBus(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	cfg, _ := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 0, EndTime: 10, Speed: 1})
	svc.StartSession(ctx, cfg.SessionID)
	rx := svc.bus.Subscribe(cfg.SessionID)

	disabled, err := svc.DisableSession(ctx, cfg.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if disabled.Enabled {
		t.Error("expected enabled=false")
	}
	if disabled.Status != core.SessionPaused {
		t.Errorf("status = %v, want Paused", disabled.Status)
	}
	if ev, err := rx.Recv(ctx); err != nil || !ev.Closed {
		t.Errorf("expected the session's bus topic closed, got %+v err %v", ev, err)
	}
}

func TestDeleteSessionRemovesFromRepo(t *testing.T) {
	svc, repo, _, _ := setup(t)
	ctx := context.Background()
	cfg, _ := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 0, EndTime: 10, Speed: 1})

	if err := svc.DeleteSession(ctx, cfg.SessionID); err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.sessions[cfg.SessionID]; ok {
		t.Error("expected session removed from repo")
	}
}

func TestEnableSessionIsIdempotent(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	cfg, _ := svc.CreateSession(ctx, CreateSessionParams{Symbols: []string{"BTCUSDT"}, StartTime: 0, EndTime: 10, Speed: 1})

	got, err := svc.EnableSession(ctx, cfg.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Enabled {
		t.Error("expected already-enabled session to stay enabled")
	}
}
