package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-signal-pipeline/internal/config"
)

const instrumentsBody = `{"code":"0","msg":"","data":[
	{"instId":"HYPE-USDT","instType":"SPOT","tickSz":"0.001","lotSz":"0.01","state":"live"},
	{"instId":"BTC-USDT","instType":"SPOT","tickSz":"0.1","lotSz":"0.00000001","state":"live"},
	{"instId":"OLD-USDT","instType":"SPOT","tickSz":"0.1","lotSz":"1","state":"suspend"}
]}`

func newInstrumentsServer(t *testing.T, body string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var gotType atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType.Store(r.URL.Query().Get("instType"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &gotType
}

func TestCheckInstruments_AllLive(t *testing.T) {
	srv, gotType := newInstrumentsServer(t, instrumentsBody)
	cfg := &config.MetadataConfig{URL: srv.URL + "/api/v5/public/instruments", InstType: "SPOT", TimeoutMs: 1000}

	res, err := CheckInstruments(context.Background(), cfg, []string{"HYPE-USDT", "BTC-USDT"}, NewHTTPFetcher(cfg.TimeoutMs))
	require.NoError(t, err)
	assert.Equal(t, "SPOT", gotType.Load())
	assert.Len(t, res, 2)
	assert.Equal(t, "0.001", res["HYPE-USDT"].TickSz)
}

func TestCheckInstruments_ReportsEveryProblem(t *testing.T) {
	srv, _ := newInstrumentsServer(t, instrumentsBody)
	cfg := &config.MetadataConfig{URL: srv.URL, InstType: "SPOT", TimeoutMs: 1000}

	res, err := CheckInstruments(context.Background(), cfg, []string{"HYPE-USDT", "OLD-USDT", "NOPE-USDT"}, NewHTTPFetcher(cfg.TimeoutMs))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OLD-USDT: 状态为 suspend")
	assert.Contains(t, err.Error(), "NOPE-USDT")
	assert.Len(t, res, 1)
}

func TestHTTPFetcher_APIError(t *testing.T) {
	srv, _ := newInstrumentsServer(t, `{"code":"51001","msg":"Instrument ID does not exist","data":[]}`)
	_, err := NewHTTPFetcher(1000).FetchOKX(context.Background(), srv.URL, "SPOT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "51001")
}

func TestHTTPFetcher_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(1000).FetchOKX(context.Background(), srv.URL, "SPOT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
