package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kquant/internal/backtest"
	"kquant/internal/market"
	"kquant/internal/strategy"
)

const testStrategies = `
strategies:
  - name: rsi_reversal
    entry: "RSI < 30"
    exit: "RSI > 70"
`

func writePriceFile(t *testing.T, dir, symbol string, bars int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Date,Open,High,Low,Close,Volume\n")
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < bars; i++ {
		price := 1000 + float64(i%7)
		fmt.Fprintf(&b, "%s,%.0f,%.0f,%.0f,%.0f,1000\n",
			day.Format("2006-01-02"), price, price+5, price-5, price)
		day = day.AddDate(0, 0, 1)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0o644))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	writePriceFile(t, dir, "005930", 120)

	stratPath := filepath.Join(dir, "strategies.yaml")
	require.NoError(t, os.WriteFile(stratPath, []byte(testStrategies), 0o644))
	registry, err := strategy.NewRegistry(stratPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	svc := backtest.NewService(market.NewCSVProvider(dir), nil)
	srv, err := NewServer(Config{
		Service:        svc,
		Registry:       registry,
		DefaultRisk:    backtest.DefaultRiskParams(),
		InitialCapital: 1_000_000,
	})
	require.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestNewServer_RequiresService(t *testing.T) {
	_, err := NewServer(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service")
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestServer_RunStart(t *testing.T) {
	srv := newTestServer(t)

	t.Run("missing fields", func(t *testing.T) {
		w := doRequest(srv, http.MethodPost, "/api/backtest/runs", `{"symbol":"005930"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		w := doRequest(srv, http.MethodPost, "/api/backtest/runs",
			`{"symbol":"005930","strategy":"no_such"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "no_such")
	})

	t.Run("bad date", func(t *testing.T) {
		w := doRequest(srv, http.MethodPost, "/api/backtest/runs",
			`{"symbol":"005930","strategy":"rsi_reversal","start":"01/02/2024"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		w := doRequest(srv, http.MethodPost, "/api/backtest/runs",
			`{"symbol":"999999","strategy":"rsi_reversal"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("valid run", func(t *testing.T) {
		w := doRequest(srv, http.MethodPost, "/api/backtest/runs",
			`{"symbol":"005930","strategy":"rsi_reversal"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), `"run_id"`)
		assert.Contains(t, w.Body.String(), `"metrics"`)
	})
}

func TestServer_RunsNeedStore(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{
		"/api/backtest/runs",
		"/api/backtest/runs/abc",
		"/api/backtest/runs/abc/report",
	} {
		w := doRequest(srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestServer_TradingNeedsEngine(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/api/trading/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	for _, path := range []string{
		"/api/trading/start",
		"/api/trading/stop",
		"/api/trading/emergency-stop",
	} {
		w := doRequest(srv, http.MethodPost, path, "{}")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}
