package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/hedgefund/internal/contracts"
	"github.com/wonny/hedgefund/internal/graph"
	"github.com/wonny/hedgefund/internal/hedgefund"
	"github.com/wonny/hedgefund/internal/router"
	"github.com/wonny/hedgefund/internal/snapshot"
	"github.com/wonny/hedgefund/pkg/logger"
)

type fakeRunner struct {
	got hedgefund.Request
	err error
}

func (f *fakeRunner) Run(_ context.Context, req hedgefund.Request, sink graph.ProgressSink) (*hedgefund.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	if sink != nil {
		sink.Emit(graph.Event{RunID: "run-1", Node: graph.StartNode, Kind: graph.NodeStarted})
	}
	return &hedgefund.Result{
		RunID: "run-1",
		Decisions: map[string]contracts.Decision{
			"AAPL": contracts.HoldDecision("AAPL", 50, "mixed"),
		},
	}, nil
}

type fakeProviders struct{ refreshed bool }

func (f *fakeProviders) ProviderStatus(_ context.Context, refresh bool) []router.ProviderStatus {
	f.refreshed = refresh
	return []router.ProviderStatus{{Name: "mock", Healthy: true}}
}

type fakeIndex []snapshot.IndexEntry

func (f fakeIndex) Index(context.Context) ([]snapshot.IndexEntry, error) {
	return append([]snapshot.IndexEntry(nil), f...), nil
}

func newTestServer(t *testing.T, runner *fakeRunner, deps Deps) *httptest.Server {
	t.Helper()
	deps.Runner = runner
	if deps.Providers == nil {
		deps.Providers = &fakeProviders{}
	}
	srv := httptest.NewServer(NewRouter(deps, logger.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func postRun(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url+"/api/v1/runs", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, Deps{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateRun(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(t, runner, Deps{})

	resp, out := postRun(t, srv.URL, `{"tickers":["AAPL"],"start_date":"2024-01-01","end_date":"2024-03-01","initial_cash":1000,"margin_requirement":0.5}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "run-1", out["run_id"])
	assert.Equal(t, []string{"AAPL"}, runner.got.Tickers)
	assert.Equal(t, "2024-01-01", runner.got.StartDate)
	assert.InDelta(t, 1000, runner.got.Portfolio.Cash, 1e-9)
	assert.InDelta(t, 0.5, runner.got.Portfolio.MarginRequirement, 1e-9)
}

func TestCreateRun_DefaultDates(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(t, runner, Deps{})

	resp, _ := postRun(t, srv.URL, `{"tickers":["AAPL"]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, runner.got.StartDate)
	assert.NotEmpty(t, runner.got.EndDate)
}

func TestCreateRun_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"precondition", fmt.Errorf("%w: no tickers", contracts.ErrPrecondition), http.StatusBadRequest},
		{"validation", contracts.ErrValidation, http.StatusBadRequest},
		{"risk gate", contracts.ErrRiskGateFailure, http.StatusInternalServerError},
		{"manager", contracts.ErrPortfolioManagerFailure, http.StatusInternalServerError},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeRunner{err: tt.err}, Deps{})
			resp, out := postRun(t, srv.URL, `{"tickers":["AAPL"]}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestCreateRun_BadJSON(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, Deps{})
	resp, out := postRun(t, srv.URL, `{"tickers":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "invalid JSON")
}

func TestProviders(t *testing.T) {
	providers := &fakeProviders{}
	srv := newTestServer(t, &fakeRunner{}, Deps{Providers: providers})

	resp, err := http.Get(srv.URL + "/api/v1/providers?refresh=true")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Providers []router.ProviderStatus `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, providers.refreshed)
	require.Len(t, out.Providers, 1)
	assert.Equal(t, "mock", out.Providers[0].Name)
}

func TestSnapshots(t *testing.T) {
	index := fakeIndex{
		{Ticker: "AAPL", Date: "2024-01-02", DataSource: "mock"},
		{Ticker: "MSFT", Date: "2024-01-02", DataSource: "mock"},
	}

	tests := []struct {
		name    string
		deps    Deps
		query   string
		enabled bool
		count   int
	}{
		{"disabled", Deps{}, "", false, 0},
		{"all", Deps{Snapshots: index}, "", true, 2},
		{"filtered", Deps{Snapshots: index}, "?ticker=MSFT", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeRunner{}, tt.deps)
			resp, err := http.Get(srv.URL + "/api/v1/snapshots" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()

			var out struct {
				Enabled bool                  `json:"enabled"`
				Entries []snapshot.IndexEntry `json:"entries"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, tt.enabled, out.Enabled)
			assert.Len(t, out.Entries, tt.count)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "hedgefund_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := newTestServer(t, &fakeRunner{}, Deps{Gatherer: reg, Analysts: []string{"technical_analyst"}})
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "hedgefund_test_total 1")

	resp, err = http.Get(srv.URL + "/api/v1/analysts")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string][]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, []string{"technical_analyst"}, out["analysts"])
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHub_StreamsRunProgress(t *testing.T) {
	hub := NewHub(logger.Nop())
	t.Cleanup(hub.Close)
	srv := newTestServer(t, &fakeRunner{}, Deps{Hub: hub})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	resp, _ := postRun(t, srv.URL, `{"tickers":["AAPL"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev graph.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, graph.NodeStarted, ev.Kind)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
}

func TestHub_FullBufferDropsEvents(t *testing.T) {
	hub := NewHub(logger.Nop())
	c := &client{send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}

	hub.Emit(graph.Event{Node: "a"})
	hub.Emit(graph.Event{Node: "b"})
	assert.Len(t, c.send, 1)

	hub.remove(c)
	_, open := <-c.send
	assert.True(t, open)
	_, open = <-c.send
	assert.False(t, open)
}

func TestServer_ServeUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hub := NewHub(logger.Nop())
	srv := NewServer(NewRouter(Deps{Runner: &fakeRunner{}, Hub: hub}, logger.Nop()), hub, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err = http.Get("http://" + ln.Addr().String() + "/health")
	assert.Error(t, err)
}
