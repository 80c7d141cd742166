package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lottery-engine/internal/api"
	"lottery-engine/internal/lottery"
	"lottery-engine/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(w http.ResponseWriter, code int, data any, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"success":   code == http.StatusOK,
		"data":      data,
		"message":   msg,
		"timestamp": time.Now().UTC(),
	})
}

func TestPredictRoundTrip(t *testing.T) {
	var got api.PredictionRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/predict", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		respond(w, http.StatusOK, ml.PredictionOutput{
			Numbers:        []int{1, 5, 9, 14, 22, 31},
			SpecialNumbers: []int{7},
			Confidence:     []float64{.9, .8, .7, .6, .5, .4},
		}, "")
	}))
	defer ts.Close()

	c := New(ts.URL+"/", time.Second)
	out, err := c.Predict(context.Background(), api.PredictionRequest{Variant: lottery.SSQ, UseEnsemble: true})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 5, 9, 14, 22, 31}, out.Numbers)
	assert.Equal(t, []int{7}, out.SpecialNumbers)
	assert.True(t, got.UseEnsemble)
	assert.Equal(t, lottery.SSQ, got.Variant)
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusBadRequest, lottery.ErrInvalidParameter},
		{http.StatusNotFound, lottery.ErrNotFound},
		{http.StatusUnprocessableEntity, lottery.ErrAlgorithm},
	}
	for _, tt := range tests {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond(w, tt.code, nil, "boom")
		}))
		_, err := New(ts.URL, time.Second).Trained(context.Background(), lottery.SSQ)
		assert.ErrorIs(t, err, tt.want)
		assert.Contains(t, err.Error(), "boom")
		ts.Close()
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusInternalServerError, nil, "disk full")
	}))
	defer ts.Close()
	_, err := New(ts.URL, time.Second).Compare(context.Background(), lottery.SSQ)
	require.Error(t, err)
	assert.Zero(t, lottery.KindOf(err))
}

func TestVariantRoutes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/pl3/trained":
			respond(w, http.StatusOK, []string{"statistical"}, "")
		case "/api/v1/pl3/drawings":
			assert.Equal(t, "4", r.URL.Query().Get("count"))
			respond(w, http.StatusOK, []lottery.Drawing{{DrawNumber: "2024001"}}, "")
		case "/api/v1/pl3/rankings":
			respond(w, http.StatusOK, []ml.Ranking{{Algorithm: ml.StatisticalType, Accuracy: 0.58}}, "")
		default:
			respond(w, http.StatusNotFound, nil, "no route "+r.URL.Path)
		}
	}))
	defer ts.Close()
	c := New(ts.URL, time.Second)
	ctx := context.Background()

	trained, err := c.Trained(ctx, lottery.PL3)
	require.NoError(t, err)
	assert.Equal(t, []ml.AlgorithmType{ml.StatisticalType}, trained)

	draws, err := c.Drawings(ctx, lottery.PL3, 4)
	require.NoError(t, err)
	require.Len(t, draws, 1)
	assert.Equal(t, "2024001", draws[0].DrawNumber)

	rankings, err := c.Rankings(ctx, lottery.PL3)
	require.NoError(t, err)
	assert.InDelta(t, 0.58, rankings[0].Accuracy, 1e-9)

	_, err = c.Available(ctx, lottery.PL3)
	assert.ErrorIs(t, err, lottery.ErrNotFound)
}

func TestEventsURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws/events", New("http://localhost:8080", 0).EventsURL())
	assert.Equal(t, "wss://engine.example/ws/events", New("https://engine.example/", 0).EventsURL())
}

func TestSubscribe(t *testing.T) {
	hub := api.NewEventHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()

	events := make(chan api.Event, 8)
	errCh := make(chan error, 1)
	go func() { errCh <- New(ts.URL, time.Second).Subscribe(ctx, events) }()

	select {
	case ev := <-events:
		assert.Equal(t, api.EventConnected, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no hello event")
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(api.Event{Type: api.EventPrediction, Variant: "ssq", Algorithm: "statistical"})
	select {
	case ev := <-events:
		assert.Equal(t, api.EventPrediction, ev.Type)
		assert.Equal(t, "statistical", ev.Algorithm)
	case <-time.After(5 * time.Second):
		t.Fatal("no prediction event")
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}
