package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st := setupTestStore(t)
	server := NewServer(st, DefaultGenerationConfig(), discardLogger())
	ts := httptest.NewServer(server.Handler([]string{"*"}))
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndModels(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts.URL+"/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/api/models")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	models := decodeBody[[]modelResponse](t, resp)
	require.Len(t, models, 2)
	assert.Equal(t, "melody", models[0].Name)
	assert.Equal(t, "interval", string(models[0].Kind))
	assert.Equal(t, "rhythm", models[1].Name)
	assert.Equal(t, 1, models[1].Order)

	resp = getJSON(t, ts.URL+"/api/models/melody")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	model := decodeBody[modelResponse](t, resp)
	require.NotNil(t, model.Stats)
	assert.Equal(t, tableStats{Contexts: 3, Transitions: 3, TotalObservations: 4, MaxBranching: 1}, *model.Stats)

	resp = getJSON(t, ts.URL+"/api/models/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := getJSON(t, ts.URL+"/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[statsResponse](t, resp)
	assert.Equal(t, 5, stats.StateCount, "three intervals and two durations")
	require.Len(t, stats.Models, 2)
	assert.Equal(t, 4, stats.Models[0].Stats.TotalObservations)
	assert.Equal(t, 2, stats.Models[1].Stats.TotalObservations)
}

func TestGenerateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/models/melody/generate", `{"length": 5, "weight": 1, "seed": 1, "fallback": [2]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[GenerateResponse](t, resp)
	assert.Equal(t, "melody", got.Model)
	assert.Equal(t, "interval", string(got.Kind))
	assert.Len(t, got.Id, 36)
	assert.Equal(t, []any{2.0, 2.0, 2.0, 2.0, 2.0}, got.States)

	resp = postJSON(t, ts.URL+"/api/models/rhythm/generate", `{"length": 3, "weight": 1, "fallback": [[1, 8]]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decodeBody[GenerateResponse](t, resp)
	assert.Equal(t, []any{[]any{1.0, 8.0}, []any{1.0, 8.0}, []any{1.0, 8.0}}, got.States)

	// Without a fallback the default pool is used and length comes from
	// the configured defaults.
	resp = postJSON(t, ts.URL+"/api/models/melody/generate", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got = decodeBody[GenerateResponse](t, resp)
	assert.Len(t, got.States, DefaultGenerationConfig().Length)
}

func TestGenerateEndpointIsReproducible(t *testing.T) {
	ts := newTestServer(t)
	body := `{"length": 32, "weight": 0.5, "seed": 1234, "temperature": 0.5}`

	first := decodeBody[GenerateResponse](t, postJSON(t, ts.URL+"/api/models/melody/generate", body))
	second := decodeBody[GenerateResponse](t, postJSON(t, ts.URL+"/api/models/melody/generate", body))
	assert.Equal(t, first.States, second.States)
	assert.NotEqual(t, first.Id, second.Id)
}

func TestGenerateEndpointRejects(t *testing.T) {
	ts := newTestServer(t)

	testCases := []struct {
		name string
		body string
		want int
	}{
		{name: "Empty fallback pool", body: `{"weight": 0, "fallback": []}`, want: http.StatusBadRequest},
		{name: "Fallback of the wrong shape", body: `{"fallback": [[1, 8]]}`, want: http.StatusBadRequest},
		{name: "Fallback not an array", body: `{"fallback": 2}`, want: http.StatusBadRequest},
		{name: "Weight out of range", body: `{"weight": 1.5}`, want: http.StatusBadRequest},
		{name: "Too long", body: fmt.Sprintf(`{"length": %d}`, maxGenerateLength+1), want: http.StatusBadRequest},
		{name: "Negative top-k", body: `{"topK": -1}`, want: http.StatusBadRequest},
		{name: "Unknown field", body: `{"lenght": 4}`, want: http.StatusBadRequest},
		{name: "Malformed body", body: `{`, want: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/models/melody/generate", tc.body)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	resp := postJSON(t, ts.URL+"/api/models/missing/generate", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProbabilitiesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	query := func(name, context string) *http.Response {
		return getJSON(t, ts.URL+"/api/models/"+name+"/probabilities?context="+url.QueryEscape(context))
	}

	resp := query("melody", "[1]")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	probs := decodeBody[ProbabilitiesResponse](t, resp)
	require.Len(t, probs.Probabilities, 25)
	for _, e := range probs.Probabilities {
		want := 0.0
		if e.State == 2.0 {
			want = 1.0
		}
		assert.Equal(t, want, e.Probability, "P(%v | 1)", e.State)
	}

	// Before any context is known every interval is equally likely.
	resp = getJSON(t, ts.URL+"/api/models/melody/probabilities")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	probs = decodeBody[ProbabilitiesResponse](t, resp)
	assert.Equal(t, -12.0, probs.Probabilities[0].State)
	assert.InDelta(t, 1.0/25, probs.Probabilities[0].Probability, 1e-12)

	resp = query("rhythm", "[[1,4]]")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	probs = decodeBody[ProbabilitiesResponse](t, resp)
	require.Len(t, probs.Probabilities, 1)
	assert.Equal(t, []any{1.0, 8.0}, probs.Probabilities[0].State)
	assert.Equal(t, 1.0, probs.Probabilities[0].Probability)

	assert.Equal(t, http.StatusBadRequest, query("rhythm", "[]").StatusCode, "context shorter than the order")
	assert.Equal(t, http.StatusBadRequest, query("melody", "[13]").StatusCode)
	assert.Equal(t, http.StatusBadRequest, query("melody", "nope").StatusCode)
	assert.Equal(t, http.StatusNotFound, query("missing", "[]").StatusCode)
}

func TestConcurrentGeneration(t *testing.T) {
	ts := newTestServer(t)

	var wg sync.WaitGroup
	codes := make([]int, 16)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"length": 64, "weight": 0.7, "seed": %d}`, i)
			resp, err := http.Post(ts.URL+"/api/models/melody/generate", "application/json", bytes.NewBufferString(body))
			if err != nil {
				return
			}
			codes[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}
	wg.Wait()
	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "request %d", i)
	}
}

func TestCORSAndCache(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/models", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	getJSON(t, ts.URL+"/api/models/melody")
	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/api/cache", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
