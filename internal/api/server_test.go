package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lottery-engine/internal/lottery"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestServer(t *testing.T, env *testEnv) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(env.state, env.registry).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t, newTestEnv(t))

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"healthy"`)

	req, _ := http.NewRequest("GET", ts.URL+"/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get(requestIDHeader))
}

func TestTrainPredictOverHTTP(t *testing.T) {
	env := seeded(t)
	ts := newTestServer(t, env)

	code, body := doJSON(t, "POST", ts.URL+"/api/v1/train", map[string]any{
		"lottery_type": "SSQ",
		"algorithms":   []string{"statistical"},
	})
	require.Equal(t, http.StatusOK, code, body.Message)
	var accuracies map[string]float64
	require.NoError(t, json.Unmarshal(body.Data, &accuracies))
	assert.Greater(t, accuracies["statistical"], 0.0)

	code, body = doJSON(t, "POST", ts.URL+"/api/v1/predict", PredictionRequest{Variant: lottery.SSQ, Algorithm: "statistical"})
	require.Equal(t, http.StatusOK, code, body.Message)
	var out struct {
		Numbers []int `json:"predicted_numbers"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &out))
	assert.Len(t, out.Numbers, 6)

	code, body = doJSON(t, "GET", ts.URL+"/api/v1/ssq/trained", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["statistical"]`, string(body.Data))

	code, body = doJSON(t, "GET", ts.URL+"/api/v1/ssq/compare", nil)
	require.Equal(t, http.StatusOK, code, body.Message)
	var rows []AlgorithmComparison
	require.NoError(t, json.Unmarshal(body.Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "statistical", rows[0].AlgorithmName)

	code, body = doJSON(t, "GET", ts.URL+"/api/v1/ssq/predictions?count=5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"statistical"`)
}

func TestErrorStatusCodes(t *testing.T) {
	env := seeded(t)
	ts := newTestServer(t, env)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown variant", "GET", "/api/v1/keno/algorithms", nil, http.StatusBadRequest},
		{"unserved variant", "GET", "/api/v1/dlt/trained", nil, http.StatusBadRequest},
		{"bad count", "GET", "/api/v1/ssq/drawings?count=abc", nil, http.StatusBadRequest},
		{"unknown algorithm metadata", "GET", "/api/v1/ssq/algorithms/xgboost", nil, http.StatusNotFound},
		{"untrained model", "POST", "/api/v1/predict", PredictionRequest{Variant: lottery.SSQ, Algorithm: "lstm"}, http.StatusUnprocessableEntity},
		{"no rollback target", "POST", "/api/v1/ssq/models/statistical/rollback", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doJSON(t, tt.method, ts.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, code)
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Message)
		})
	}

	resp, err := http.Post(ts.URL+"/api/v1/train", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCatalogRoutes(t *testing.T) {
	env := seeded(t)
	ts := newTestServer(t, env)

	code, body := doJSON(t, "GET", ts.URL+"/api/v1/pl3/algorithms", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"hybrid"`)

	code, body = doJSON(t, "GET", ts.URL+"/api/v1/pl3/algorithms/statistical", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"supported_lottery_types"`)

	code, body = doJSON(t, "GET", ts.URL+"/api/v1/ssq/recommend?data_size=1000&target_accuracy=0.5", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body.Data), `"random_forest"`)

	code, body = doJSON(t, "GET", ts.URL+"/api/v1/pl3/drawings?count=3", nil)
	require.Equal(t, http.StatusOK, code)
	var draws []lottery.Drawing
	require.NoError(t, json.Unmarshal(body.Data, &draws))
	assert.Len(t, draws, 3)

	code, _ = doJSON(t, "GET", ts.URL+"/api/v1/ssq/rankings", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = doJSON(t, "GET", ts.URL+"/api/v1/ssq/drift", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = doJSON(t, "GET", ts.URL+"/api/v1/ssq/runs", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = doJSON(t, "GET", ts.URL+"/api/v1/ssq/models/statistical/versions", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestCollectOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestServer(t, env)

	code, body := doJSON(t, "POST", ts.URL+"/api/v1/collect", map[string]any{
		"lottery_types": []string{"PL3"},
		"days":          12,
	})
	require.Equal(t, http.StatusOK, code, body.Message)
	assert.JSONEq(t, `{"pl3": 12}`, string(body.Data))

	code, _ = doJSON(t, "POST", ts.URL+"/api/v1/collect", map[string]any{"lottery_types": []string{"keno"}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ts := newTestServer(t, env)

	doJSON(t, "GET", ts.URL+"/api/v1/ssq/algorithms", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `route="/api/v1/{variant}/algorithms"`)
}

func TestEventStream(t *testing.T) {
	env := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.state.hub.Run(ctx)
	ts := newTestServer(t, env)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, EventConnected, hello.Type)
	require.Eventually(t, func() bool { return env.state.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = env.state.Train(context.Background(), TrainingRequest{Variant: lottery.PL3, Algorithms: []string{"statistical"}})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	// Collection events from seeding may arrive first.
	var ev Event
	for ev.Type != EventTraining {
		require.NoError(t, conn.ReadJSON(&ev))
	}
	assert.Equal(t, "pl3", ev.Variant)
	assert.Equal(t, "statistical", ev.Algorithm)
	assert.Greater(t, ev.Accuracy, 0.0)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{lottery.InvalidParameter("x"), http.StatusBadRequest},
		{lottery.AlgorithmError("x"), http.StatusUnprocessableEntity},
		{fmt.Errorf("wrapped: %w", lottery.NotFound("x")), http.StatusNotFound},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
