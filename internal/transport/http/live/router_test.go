package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracer/internal/chart"
	"tracer/internal/feed"
	"tracer/internal/market"
	"tracer/internal/session"
	"tracer/internal/timeaxis"
	"tracer/internal/types"
)

type fakeBackfiller struct{}

func (fakeBackfiller) Fetch(ctx context.Context, instance string, start, end time.Time) ([]types.StrategyUpdate, error) {
	return nil, nil
}

type fakeLister struct{ names []string }

func (f fakeLister) FetchInstances(ctx context.Context) ([]string, error) {
	return f.names, nil
}

func newTestEngine(t *testing.T) (*gin.Engine, *session.Session) {
	t.Helper()
	norm := timeaxis.New(timeaxis.ModeUTC, "", timeaxis.WithBucketAlignment(60))
	surface := chart.NewEChartsSurface("BTCUSDT", "1m", market.NewCandleStore(100), norm)
	coord := chart.NewCoordinator(surface, timeaxis.New(timeaxis.ModeUTC, "", timeaxis.WithBucketAlignment(60)))
	sess := session.New(session.Options{
		StalenessThreshold: time.Hour,
		BucketWidth:        time.Minute,
		BackfillWindow:     time.Hour,
		Display:            session.Display{Mode: "utc"},
	}, coord, surface, fakeBackfiller{}, fakeLister{names: []string{"alpha"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	decoder, err := feed.NewDecoder()
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	router := NewRouter(sess, surface, decoder, false)
	router.Register(engine.Group("/api"))
	router.RegisterPages(engine)
	return engine, sess
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	var parsed map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func TestIngestHeartbeat(t *testing.T) {
	engine, sess := newTestEngine(t)
	sess.SelectInstance("alpha")
	require.Eventually(t, func() bool {
		st := sess.Status()
		return st.Selected == "alpha" && !st.Switching
	}, time.Second, time.Millisecond)

	rec, _ := doJSON(t, engine, http.MethodPost, "/api/ingest", `{
		"type": "strategy_heartbeat",
		"data": {
			"instance_name": "alpha",
			"instance_id": "host-1-1000",
			"heartbeat_at": "2025-06-01T12:00:00Z",
			"strategy_state": {"SL": 95000, "ENTRY": 100000, "TRAILING_STOP_ACTIVE": false, "seq": 1}
		}
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		return sess.Status().State.HasLines()
	}, time.Second, time.Millisecond)
}

func TestIngestMalformed(t *testing.T) {
	engine, _ := newTestEngine(t)
	rec, body := doJSON(t, engine, http.MethodPost, "/api/ingest",
		`{"type":"strategy_heartbeat","data":{"heartbeat_at":"2025-06-01T12:00:00Z"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "malformed")
}

func TestIngestForeignEnvelopeIgnored(t *testing.T) {
	engine, _ := newTestEngine(t)
	rec, body := doJSON(t, engine, http.MethodPost, "/api/ingest", `{"type":"trade","data":{}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", body["status"])
}

func TestModeRoundTrip(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec, body := doJSON(t, engine, http.MethodGet, "/api/mode", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "utc", body["mode"])

	rec, _ = doJSON(t, engine, http.MethodPost, "/api/mode", `{"mode":"named","timezone":"Europe/Berlin"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		_, body := doJSON(t, engine, http.MethodGet, "/api/mode", "")
		return body["mode"] == "named" && body["timezone"] == "Europe/Berlin"
	}, time.Second, 5*time.Millisecond)

	rec, body = doJSON(t, engine, http.MethodPost, "/api/mode", `{"mode":"sidereal"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["error"])
}

func TestInstancesAndSelect(t *testing.T) {
	engine, sess := newTestEngine(t)

	rec, body := doJSON(t, engine, http.MethodGet, "/api/strategy_instances", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"alpha"}, body["instances"])
	assert.Equal(t, "", body["selected"])

	rec, _ = doJSON(t, engine, http.MethodPost, "/api/strategy_instances/select", `{"name":"alpha"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		return sess.Status().Selected == "alpha"
	}, time.Second, time.Millisecond)
}

func TestStateEndpoint(t *testing.T) {
	engine, sess := newTestEngine(t)
	sess.SelectInstance("alpha")
	require.Eventually(t, func() bool {
		st := sess.Status()
		return st.Selected == "alpha" && !st.Switching
	}, time.Second, time.Millisecond)

	doJSON(t, engine, http.MethodPost, "/api/ingest", `{
		"type": "strategy_event",
		"data": {
			"event_id": "e1",
			"event_time": "2025-06-01T12:00:30Z",
			"instance_name": "alpha",
			"position": "OPEN",
			"strategy_state": {"SL": 95000, "ENTRY": 100000},
			"event_data": {"entry_price": 100000}
		}
	}`)

	require.Eventually(t, func() bool {
		_, body := doJSON(t, engine, http.MethodGet, "/api/state", "")
		markers, _ := body["markers"].([]any)
		return len(markers) == 1
	}, time.Second, 5*time.Millisecond)

	_, body := doJSON(t, engine, http.MethodGet, "/api/state", "")
	assert.Equal(t, "alpha", body["selected"])
	lines, _ := body["lines"].([]any)
	assert.Len(t, lines, 2)
}

func TestStrategyEventsEndpoint(t *testing.T) {
	engine, sess := newTestEngine(t)
	sess.SelectInstance("alpha")
	require.Eventually(t, func() bool {
		st := sess.Status()
		return st.Selected == "alpha" && !st.Switching
	}, time.Second, time.Millisecond)

	doJSON(t, engine, http.MethodPost, "/api/ingest", `{
		"type": "strategy_event",
		"data": {
			"event_id": "e1",
			"event_time": "2025-06-01T12:00:30Z",
			"instance_name": "alpha",
			"position": "CLOSE",
			"reason": "stoploss hit",
			"event_data": {"current_price": 99000}
		}
	}`)

	require.Eventually(t, func() bool {
		return len(sess.Events()) == 1
	}, time.Second, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/strategy-events", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var events []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0]["event_id"])
	assert.Equal(t, "CLOSE", events[0]["position"])
	assert.Equal(t, "2025-06-01T12:00:30Z", events[0]["event_time"])
	assert.Equal(t, float64(99000), events[0]["price"])
}

func TestChartPageWithoutCandles(t *testing.T) {
	engine, _ := newTestEngine(t)
	rec, _ := doJSON(t, engine, http.MethodGet, "/chart", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
