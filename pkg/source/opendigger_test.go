package source

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRankLatestMonth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/github/octocat/openrank.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"2023-11": 7.5, "2023-12": 8.0, "2024-01": 8.25,
			"2023": 90.0, "2023Q4": 23.0, "2021-10-raw": 1.0,
		})
	})
	c := newTestClient(t, mux)

	v, err := c.OpenRank(context.Background(), "octocat")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 8.25, *v, 1e-9)
}

func TestOpenRankMissing(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	v, err := c.OpenRank(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOpenRankRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"2024-01": 8.0})
	}))

	v, err := c.OpenRank(context.Background(), "octocat")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 8.0, *v, 1e-9)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenRankGivesUpAsTransient(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	v, err := c.OpenRank(context.Background(), "octocat")
	assert.Nil(t, v)
	var te *TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, "/github/octocat/openrank.json", te.Endpoint)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenRankBadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := c.OpenRank(context.Background(), "octocat")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLatestMonthIgnoresAggregates(t *testing.T) {
	assert.Nil(t, latestMonth(map[string]float64{"2023": 1, "2023Q1": 2}))
	assert.Nil(t, latestMonth(nil))
}
