package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelnav/internal/app"
	"github.com/annel0/voxelnav/internal/cache"
	"github.com/annel0/voxelnav/internal/eventbus"
	"github.com/annel0/voxelnav/internal/navigation"
)

const floorScan = `{
	"size": [5, 3, 5], "origin": [0, 0, 0], "cellSize": 1,
	"gridsAabb": [[0, 0, 0, 4, 0, 4]],
	"gravityVector": [0, -9.81, 0],
	"rev": 2
}`

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, token string) *RestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	svc, err := app.NewNavigationService(app.Options{
		Profile:     navigation.DefaultProfile(),
		RejectStale: true,
		Registerer:  reg,
	})
	require.NoError(t, err)
	return NewRestServer(Config{
		Service:       svc,
		Registry:      reg,
		APIToken:      token,
		ExposeMetrics: true,
		CacheMetrics:  func() *cache.CacheMetrics { return &cache.CacheMetrics{CacheHits: 3} },
		BusStats:      func() eventbus.Stats { return eventbus.Stats{Published: 5} },
	})
}

func do(t *testing.T, rs *RestServer, method, path, body string, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	rs.Router().ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestREST_HealthAndEmptyMap(t *testing.T) {
	rs := newTestServer(t, "")

	w, _ := do(t, rs, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"map":false`)

	w, env := do(t, rs, http.MethodGet, "/api/map", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "до первого скана карты нет")
	assert.False(t, env.Success)

	w, _ = do(t, rs, http.MethodGet, "/api/surface?x=1&z=1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestREST_IngestAndQuery(t *testing.T) {
	rs := newTestServer(t, "")

	w, env := do(t, rs, http.MethodPost, "/api/scans?source=radar-1", floorScan)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var info app.MapInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "radar-1", info.Source)
	assert.Equal(t, 25, info.Occupied)

	w, _ = do(t, rs, http.MethodPost, "/api/scans", `{"size":[1,1,1],"origin":[0,0,0],"cellSize":1,"rev":1}`)
	assert.Equal(t, http.StatusConflict, w.Code, "старая ревизия")

	w, _ = do(t, rs, http.MethodPost, "/api/scans", `{"size":[1,1]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "битый скан")

	w, env = do(t, rs, http.MethodGet, "/api/surface?x=2.5&z=2.5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var surf SurfaceResponse
	require.NoError(t, json.Unmarshal(env.Data, &surf))
	assert.True(t, surf.Found)
	assert.Equal(t, 1.0, surf.Height)

	w, env = do(t, rs, http.MethodGet, "/api/surface?x=90&z=90&radius=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &surf))
	assert.False(t, surf.Found)

	w, _ = do(t, rs, http.MethodGet, "/api/surface?x=abc&z=1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, rs, http.MethodGet, "/api/surface?x=1&z=1&radius=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, rs, http.MethodPost, "/api/surface/sample", `{"start":[0.5,2,0.5],"dir":[1,0,0],"distance":3,"step":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, string(env.Data), `"found":3`)

	for _, body := range []string{
		`{"start":[0.5,2,0.5],"dir":[1,0,0],"distance":1e12,"step":0}`,
		`{"start":[0.5,2,0.5],"dir":[1,0,0],"distance":3,"step":-1}`,
		`{"start":[0.5,2,0.5],"dir":[1,0,0],"distance":1e12,"step":1}`,
		`{"start":[0.5,2,0.5],"dir":[1,0,0],"distance":-1,"step":1}`,
	} {
		w, _ = do(t, rs, http.MethodPost, "/api/surface/sample", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, "запрос без ограничения работы: %s", body)
	}
}

func TestREST_Plan(t *testing.T) {
	rs := newTestServer(t, "")
	w, _ := do(t, rs, http.MethodPost, "/api/scans", floorScan)
	require.Equal(t, http.StatusCreated, w.Code)

	w, env := do(t, rs, http.MethodPost, "/api/paths", `{"start":[0.5,1.5,0.5],"goal":[4.5,1.5,0.5]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res app.PlanResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Found)
	assert.Len(t, res.Path, 5)
	assert.InDelta(t, 4.0, res.Cost, 1e-9)

	w, env = do(t, rs, http.MethodPost, "/api/paths", `{"start":[0.5,0.5,0.5],"goal":[4.5,1.5,0.5]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Путь не найден", env.Message, "старт внутри пола")

	w, _ = do(t, rs, http.MethodPost, "/api/paths", `{"start":[0.5,1.5,0.5],"goal":[4.5,1.5,0.5],"maxExpansions":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = do(t, rs, http.MethodPost, "/api/paths", `{"start":[0.5,1.5,0.5],"goal":[4.5,1.5,0.5],"profile":{"maxSlopeDegrees":500}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, rs, http.MethodPost, "/api/paths", `{"start":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestREST_Token(t *testing.T) {
	rs := newTestServer(t, "secret")

	w, _ := do(t, rs, http.MethodPost, "/api/scans", floorScan)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, rs, http.MethodPost, "/api/scans", floorScan, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusCreated, w.Code)

	w, _ = do(t, rs, http.MethodGet, "/api/map", "")
	assert.Equal(t, http.StatusOK, w.Code, "чтение без токена")
}

func TestREST_StatsAndMetrics(t *testing.T) {
	rs := newTestServer(t, "")
	do(t, rs, http.MethodPost, "/api/scans", floorScan)

	w, env := do(t, rs, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Contains(t, stats, "server")
	assert.Contains(t, stats, "map")
	assert.Contains(t, string(stats["cache"]), `"cache_hits":3`)
	assert.Contains(t, string(stats["eventbus"]), `"Published":5`)

	w = httptest.NewRecorder()
	rs.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "voxelnav_scans_ingested_total")
	assert.Contains(t, w.Body.String(), "voxelnav_rest_http_request_duration_seconds")
}
