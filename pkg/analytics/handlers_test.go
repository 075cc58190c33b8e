package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handlersTestRouter(t *testing.T) (*mux.Router, *Engine) {
	t.Helper()
	store := newFakeStore()
	store.userCount = 3
	engine := newTestEngine(t, store, Config{BufferSize: 100})

	router := mux.NewRouter()
	NewHandlers(engine).RegisterRoutes(router)
	return router, engine
}

func TestGlobalEndpoint(t *testing.T) {
	router, _ := handlersTestRouter(t)

	req := httptest.NewRequest("GET", "/analytics/global", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats GlobalStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(3), stats.TotalUsers)
}

func TestEngagementEndpoint(t *testing.T) {
	router, _ := handlersTestRouter(t)

	req := httptest.NewRequest("GET", "/analytics/engagement", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var m EngagementMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, int64(3), m.TotalUsers)
}

func TestUserInsightsEndpointNotFound(t *testing.T) {
	router, _ := handlersTestRouter(t)

	req := httptest.NewRequest("GET", "/analytics/users/ghost/insights", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserInsightsEndpoint(t *testing.T) {
	router, engine := handlersTestRouter(t)

	engine.StartSession("gail", "s1", nil)
	engine.EndSession(context.Background(), "gail", "s1")

	req := httptest.NewRequest("GET", "/analytics/users/gail/insights", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var insights UserInsights
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &insights))
	assert.Equal(t, engine.Anonymize("gail"), insights.UserID)
	assert.Equal(t, 1, insights.TotalSessions)
}

func TestExportEndpointCSV(t *testing.T) {
	router, engine := handlersTestRouter(t)

	engine.Track(EventGameStart, "gail", "s1", nil, nil)
	require.NoError(t, engine.Flush(context.Background()))

	req := httptest.NewRequest("GET", "/analytics/export?format=csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".csv")
}
