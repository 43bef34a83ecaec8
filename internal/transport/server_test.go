package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/uri157/exchange-simulator/internal/accounts"
	"github.com/uri157/exchange-simulator/internal/broadcast"
	"github.com/uri157/exchange-simulator/internal/clock"
	"github.com/uri157/exchange-simulator/internal/core"
	"github.com/uri157/exchange-simulator/internal/orders"
	"github.com/uri157/exchange-simulator/internal/sessions"
)

type fakeSessionsRepo struct {
	sessions map[uuid.UUID]core.SessionConfig
}

func newFakeSessionsRepo() *fakeSessionsRepo {
	return &fakeSessionsRepo{sessions: make(map[uuid.UUID]core.SessionConfig)}
}

func (f *fakeSessionsRepo) Insert(_ context.Context, cfg core.SessionConfig) (core.SessionConfig, error) {
	f.sessions[cfg.SessionID] = cfg
	return cfg, nil
}
func (f *fakeSessionsRepo) Get(_ context.Context, sessionID uuid.UUID) (core.SessionConfig, error) {
	return f.sessions[sessionID], nil
}
func (f *fakeSessionsRepo) List(_ context.Context) ([]core.SessionConfig, error) {
	var out []core.SessionConfig
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}
func (f *fakeSessionsRepo) UpdateStatus(_ context.Context, sessionID uuid.UUID, status core.SessionStatus) (core.SessionConfig, error) {
	cfg := f.sessions[sessionID]
	cfg.Status = status
	f.sessions[sessionID] = cfg
	return cfg, nil
}
func (f *fakeSessionsRepo) SetEnabled(_ context.Context, sessionID uuid.UUID, enabled bool) error {
	cfg := f.sessions[sessionID]
	cfg.Enabled = enabled
	f.sessions[sessionID] = cfg
	return nil
}
func (f *fakeSessionsRepo) Delete(_ context.Context, sessionID uuid.UUID) error {
	delete(f.sessions, sessionID)
	return nil
}

type fakeReplay struct{}

func (f *fakeReplay) Start(context.Context, core.SessionConfig) error        { return nil }
func (f *fakeReplay) Pause(context.Context, uuid.UUID) error                 { return nil }
func (f *fakeReplay) Resume(context.Context, uuid.UUID) error                { return nil }
func (f *fakeReplay) Seek(context.Context, uuid.UUID, core.TimestampMs) error { return nil }
func (f *fakeReplay) Stop(context.Context, uuid.UUID) error                  { return nil }
func (f *fakeReplay) LatestKline(uuid.UUID, string) (core.Kline, bool)       { return core.Kline{}, false }
func (f *fakeReplay) LatestTrade(uuid.UUID, string) (core.AggTrade, bool)    { return core.AggTrade{}, false }

func newTestServer(t *testing.T) (*httptest.Server, *fakeSessionsRepo) {
	t.Helper()
	repo := newFakeSessionsRepo()
	clk := clock.New(1.0)
	replay := &fakeReplay{}
	bus := broadcast.New(16)
	sessSvc := sessions.NewService(repo, clk, replay, bus)

	acct := accounts.NewService(accounts.NewRepo(), "USDT", 10000)
	ordersSvc := orders.NewService(orders.NewRepo(), repo, acct, replay, clk)

	srv := NewServer(sessSvc, ordersSvc, bus)
	mux := http.NewServeMux()
	srv.Register(mux)
	return httptest.NewServer(mux), repo
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestCreateAndGetSession(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", createSessionRequest{
		Symbols: []string{"BTCUSDT"}, Interval: "1m", StartTime: 0, EndTime: 1000, Speed: 1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var cfg core.SessionConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Status != core.SessionCreated {
		t.Fatalf("status = %v, want Created", cfg.Status)
	}

	getResp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/"+cfg.SessionID.String(), nil)
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", getResp.StatusCode)
	}
}

func TestCreateSessionValidationError(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions", createSessionRequest{
		Symbols: nil, Interval: "1m", StartTime: 0, EndTime: 1000, Speed: 1,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetSessionNotFoundReturnsEmptyConfig(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/"+uuid.New().String(), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestPlaceOrderThroughREST(t *testing.T) {
	ts, repo := newTestServer(t)
	defer ts.Close()

	sid := uuid.New()
	repo.Insert(context.Background(), core.SessionConfig{
		SessionID: sid, Symbols: []string{"BTCUSDT"}, Status: core.SessionRunning, Enabled: true,
	})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/sessions/"+sid.String()+"/orders", placeOrderRequest{
		Symbol: "BTCUSDT", Side: string(core.SideBuy), Type: string(core.OrderLimit),
		Quantity: 1, Price: 100,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("place order status = %d", resp.StatusCode)
	}
	var order core.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatal(err)
	}
	if order.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q", order.Symbol)
	}
}

func TestInvalidUUIDParamReturnsBadRequest(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sessions/not-a-uuid", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
