package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexera/go-perplex/internal/ports"
	"github.com/lexera/go-perplex/internal/testutils"
)

func newTestAPI(t *testing.T, scorer ports.Scorer, ready bool) *API {
	t.Helper()
	api, err := NewAPI(
		func(context.Context) (ports.Scorer, error) { return scorer, nil },
		func() bool { return ready },
		nil,
	)
	require.NoError(t, err)
	return api
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCalculatePerplexity_Success(t *testing.T) {
	scorer := &testutils.StubScorer{Scores: map[string]float64{"hello world": 23.5}}
	api := newTestAPI(t, scorer, true)

	rec := postJSON(t, api.Routes(), "/calculate-perplexity", `{"text": "hello world"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp scoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 23.5, resp.Perplexity, 1e-12)
	assert.Equal(t, "hello world", resp.Text)
}

func TestCalculatePerplexity_EmptyTextIsValid(t *testing.T) {
	scorer := &testutils.StubScorer{Scores: map[string]float64{"": 4.0}}
	api := newTestAPI(t, scorer, true)

	rec := postJSON(t, api.Routes(), "/calculate-perplexity", `{"text": ""}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp scoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.InDelta(t, 4.0, resp.Perplexity, 1e-12)
	assert.Equal(t, "", resp.Text)
}

func TestCalculatePerplexity_MissingTextField(t *testing.T) {
	api := newTestAPI(t, &testutils.StubScorer{}, true)

	rec := postJSON(t, api.Routes(), "/calculate-perplexity", `{"prompt": "wrong key"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Text is required", resp.Error)
}

func TestCalculatePerplexity_MalformedJSON(t *testing.T) {
	api := newTestAPI(t, &testutils.StubScorer{}, true)

	rec := postJSON(t, api.Routes(), "/calculate-perplexity", `{"text": `)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalculatePerplexity_ScoringFailure(t *testing.T) {
	scorer := &testutils.StubScorer{Errs: map[string]error{"boom": errors.New("inference failed")}}
	api := newTestAPI(t, scorer, true)

	rec := postJSON(t, api.Routes(), "/calculate-perplexity", `{"text": "boom"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "inference failed")
}

func TestCalculatePerplexity_ScorerUnavailable(t *testing.T) {
	api, err := NewAPI(
		func(context.Context) (ports.Scorer, error) {
			return nil, errors.New("model file missing")
		},
		nil, nil,
	)
	require.NoError(t, err)

	rec := postJSON(t, api.Routes(), "/calculate-perplexity", `{"text": "x"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "model file missing")
}

func TestCalculatePerplexity_MethodNotAllowed(t *testing.T) {
	api := newTestAPI(t, &testutils.StubScorer{}, true)

	req := httptest.NewRequest(http.MethodGet, "/calculate-perplexity", nil)
	rec := httptest.NewRecorder()
	api.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProbes(t *testing.T) {
	t.Run("healthz always ok", func(t *testing.T) {
		api := newTestAPI(t, &testutils.StubScorer{}, false)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		api.Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz reflects model state", func(t *testing.T) {
		ready := false
		api, err := NewAPI(
			func(context.Context) (ports.Scorer, error) { return &testutils.StubScorer{}, nil },
			func() bool { return ready },
			nil,
		)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		api.Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		ready = true
		rec = httptest.NewRecorder()
		api.Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("version", func(t *testing.T) {
		api := newTestAPI(t, &testutils.StubScorer{}, true)
		req := httptest.NewRequest(http.MethodGet, "/version", nil)
		rec := httptest.NewRecorder()
		api.Routes().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var info versionInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, Version, info.Version)
	})
}

func TestMiddleware_CORS(t *testing.T) {
	api := newTestAPI(t, &testutils.StubScorer{Scores: map[string]float64{"x": 1}}, true)
	handler := CORS(api.Routes())

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/calculate-perplexity", nil)
		req.Header.Set("Origin", "http://example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("headers on actual request", func(t *testing.T) {
		rec := postJSON(t, handler, "/calculate-perplexity", `{"text": "x"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMiddleware_RecoverTurnsPanicInto500(t *testing.T) {
	handler := Recover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("unexpected")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
