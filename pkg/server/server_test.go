package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/openchain/pkg/explain"
	"github.com/elonfeng/openchain/pkg/rank"
	"github.com/elonfeng/openchain/pkg/recommend"
	"github.com/elonfeng/openchain/pkg/source"
)

type fakeEngine struct {
	lastReq     recommend.Request
	lastAnalyze recommend.AnalyzeRequest
	err         error
}

func (f *fakeEngine) Recommend(_ context.Context, req recommend.Request) (*recommend.Graph, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &recommend.Graph{
		Nodes: []rank.Node{
			{ID: req.Name, NodeType: rank.Center, Similarity: 1},
			{ID: "bob", NodeType: rank.Peer, Similarity: 0.5},
		},
		Links:  []recommend.Link{{Source: req.Name, Target: "bob", Value: 0.5}},
		Center: recommend.CenterRef{ID: req.Name, Kind: source.Kind(req.Type)},
	}, nil
}

func (f *fakeEngine) Scale(_ context.Context, kind source.Kind, id string) (*recommend.ScaleResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &recommend.ScaleResult{ID: id, Kind: kind, Scale: 27.5, Level: "intermediate"}, nil
}

func (f *fakeEngine) Relate(_ context.Context, req recommend.RelationshipRequest) (*recommend.Relationship, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &recommend.Relationship{
		Subject:    &source.Entity{ID: req.Name},
		Target:     &source.Entity{ID: req.Target},
		Similarity: 0.42,
	}, nil
}

func (f *fakeEngine) Analyze(_ context.Context, req recommend.AnalyzeRequest) (*recommend.Analysis, error) {
	f.lastAnalyze = req
	if f.err != nil {
		return nil, f.err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &recommend.Analysis{
		Graph: recommend.Graph{
			Nodes: []rank.Node{
				{ID: req.Name, NodeType: rank.Center, Similarity: 1},
				{ID: "spf13/cobra", NodeType: recommend.NodeDependency, Similarity: 0.8},
			},
			Links:  []recommend.Link{{Source: req.Name, Target: "spf13/cobra", Value: 0.8, Type: recommend.LinkDependsOn}},
			Center: recommend.CenterRef{ID: req.Name, Kind: source.Kind(req.Type)},
		},
		Stats: map[string]any{"dependencies_count": 1},
	}, nil
}

type fakeExplainer struct{ enabled bool }

func (f fakeExplainer) Enabled() bool { return f.enabled }

func (f fakeExplainer) Relationship(_ context.Context, rel *recommend.Relationship) (string, error) {
	return fmt.Sprintf("%s and %s share Go", rel.Subject.ID, rel.Target.ID), nil
}

type fixedStats struct{ total, avail int }

func (s fixedStats) Len() int       { return s.total }
func (s fixedStats) Available() int { return s.avail }

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestRecommendEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	h := New(eng, Options{}).Handler()

	rec, body := get(t, h, "/api/recommend?type=user&name=alice&find=user&count=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, eng.lastReq.Count)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Len(t, body["nodes"], 2)
	assert.Len(t, body["links"], 1)
	assert.Equal(t, "alice", body["center"].(map[string]any)["id"])
}

func TestRecommendBadParams(t *testing.T) {
	h := New(&fakeEngine{}, Options{}).Handler()

	rec, body := get(t, h, "/api/recommend?type=user&name=alice&find=user&count=many")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "count")

	rec, _ = get(t, h, "/api/recommend?type=org&name=alice&find=user")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecommendErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("user x: %w", recommend.ErrSubjectNotFound), http.StatusNotFound},
		{recommend.ErrInsufficientData, http.StatusNotFound},
		{source.ErrRateLimitExceeded, http.StatusTooManyRequests},
		{&source.TransientError{Endpoint: "/users/x", Err: assert.AnError}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := New(&fakeEngine{err: tc.err}, Options{}).Handler()
		rec, body := get(t, h, "/api/recommend?type=user&name=x&find=user")
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.NotEmpty(t, body["error"])
	}
}

func TestScaleEndpoint(t *testing.T) {
	h := New(&fakeEngine{}, Options{}).Handler()

	rec, body := get(t, h, "/api/scale?type=repo&name=golang/go")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 27.5, body["scale"])
	assert.Equal(t, "intermediate", body["level"])

	rec, _ = get(t, h, "/api/scale?type=team&name=x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExplainEndpoint(t *testing.T) {
	h := New(&fakeEngine{}, Options{}).Handler()

	rec, body := get(t, h, "/api/explain?topic=scale&mode=repo")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["explanation"], "Repository scale")

	rec, body = get(t, h, "/api/explain")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["topics"], "similarity")

	rec, _ = get(t, h, "/api/explain?topic=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRelationshipEndpoint(t *testing.T) {
	target := "/api/relationship?type=user&name=alice&find=repo&target=golang/go"

	rec, body := get(t, New(&fakeEngine{}, Options{}).Handler(), target)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["error"], explain.ErrDisabled.Error())

	h := New(&fakeEngine{}, Options{Explainer: fakeExplainer{enabled: true}}).Handler()
	rec, body = get(t, h, target)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice and golang/go share Go", body["explanation"])
	assert.Equal(t, 0.42, body["similarity"])
}

func TestAnalyzeEndpoint(t *testing.T) {
	eng := &fakeEngine{}
	h := New(eng, Options{}).Handler()

	rec, body := get(t, h, "/api/analyze?type=repo&name=spf13/hugo&find_count=3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, eng.lastAnalyze.Count)
	link := body["links"].([]any)[0].(map[string]any)
	assert.Equal(t, "depends_on", link["type"])
	assert.Equal(t, float64(1), body["stats"].(map[string]any)["dependencies_count"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze",
		strings.NewReader(`{"platform":"github","type":"user","name":"alice","find_count":7}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, recommend.AnalyzeRequest{Type: "user", Name: "alice", Count: 7}, eng.lastAnalyze)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = get(t, h, "/api/analyze?type=repo&name=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/analyze", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	h := New(&fakeEngine{}, Options{
		Health: Health{Credentials: fixedStats{total: 3, avail: 0}, Cache: fixedStats{total: 12}},
	}).Handler()

	rec, body := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, float64(12), body["cache_entries"])
	assert.Equal(t, false, body["llm"])
}

func TestMethodNotAllowedAndPreflight(t *testing.T) {
	h := New(&fakeEngine{}, Options{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recommend", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/recommend", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	h := New(&fakeEngine{}, Options{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestMetricsExposed(t *testing.T) {
	h := New(&fakeEngine{}, Options{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
