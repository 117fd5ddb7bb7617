package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/aukilabs/sightline/codec"
	"github.com/aukilabs/sightline/engine"
	"github.com/aukilabs/sightline/featureflag"
	"github.com/aukilabs/sightline/pointset"
	"github.com/aukilabs/sightline/spatial"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func testPointSet() pointset.PointSet {
	ps := pointset.PointSet{}
	for i := 0; i < 100; i++ {
		ps.Positions = append(ps.Positions, pointset.Vector3f{
			X: float32(i%10) / 10,
			Y: float32(i/10) / 10,
			Z: 0,
		})
		ps.Times = append(ps.Times, float32(i)/100)
		ps.SpeciesIDs = append(ps.SpeciesIDs, int32(i%pointset.SpeciesCount))
		ps.DensityWeights = append(ps.DensityWeights, 0.5)
	}
	return ps
}

func newTestAPI(t *testing.T) (*API, *httptest.Server) {
	s, err := engine.Build(context.Background(), testPointSet(), engine.DefaultOptions())
	require.NoError(t, err)

	var store engine.Store
	store.Publish(s)

	api := &API{
		Store:             &store,
		MaxInstances:      1000,
		ExportCompression: codec.CompressionZSTD,
		FeatureFlags:      featureflag.New(nil),
	}

	var mux http.ServeMux
	api.Register(&mux)

	server := httptest.NewServer(&mux)
	t.Cleanup(server.Close)
	return api, server
}

func get(t *testing.T, url string, v any) *http.Response {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	if v != nil && res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(v))
	}
	return res
}

func TestHandleQuerySphere(t *testing.T) {
	_, server := newTestAPI(t)

	var res spatial.SphereResult
	r := get(t, server.URL+"/query/sphere?x=0.45&y=0.45&z=0&radius=10", &res)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, "application/json", r.Header.Get("Content-Type"))
	require.Equal(t, uint32(100), res.TotalCount)

	for _, query := range []string{
		"?x=0&y=0&z=0",
		"?x=a&y=0&z=0&radius=1",
		"?x=0&y=0&z=0&radius=-1",
		"?x=0&y=0&z=NaN&radius=1",
	} {
		r := get(t, server.URL+"/query/sphere"+query, nil)
		require.Equal(t, http.StatusBadRequest, r.StatusCode, query)
	}
}

func TestHandleQueryTime(t *testing.T) {
	_, server := newTestAPI(t)

	var res rangeResponse
	r := get(t, server.URL+"/query/time?t=0.5&window=0.025", &res)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, 5, res.Count)
	require.Nil(t, res.Indices)

	r = get(t, server.URL+"/query/time?t=0.5&window=0.025&indices=true", &res)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, []uint32{48, 49, 50, 51, 52}, res.Indices)

	r = get(t, server.URL+"/query/time?t=0.5", nil)
	require.Equal(t, http.StatusBadRequest, r.StatusCode)

	r = get(t, server.URL+"/query/time?t=0.5&window=1&indices=maybe", nil)
	require.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestHandleQueryChunks(t *testing.T) {
	_, server := newTestAPI(t)

	var res chunksResponse
	r := get(t, server.URL+"/query/chunks?tmin=0&tmax=0.03", &res)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, []chunkResponse{
		{ID: 0, Start: 0, End: 2},
		{ID: 1, Start: 2, End: 4},
	}, res.Chunks)

	r = get(t, server.URL+"/query/chunks?tmin=0.5&tmax=0.1", &res)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Empty(t, res.Chunks)
}

func TestHandleQueryYear(t *testing.T) {
	_, server := newTestAPI(t)

	var res rangeResponse
	r := get(t, server.URL+"/query/year?year=2005&start=2000&end=2010", &res)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, 10, res.Count)

	r = get(t, server.URL+"/query/year?year=2005&start=2010&end=2000", nil)
	require.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestHandleLOD(t *testing.T) {
	api, server := newTestAPI(t)

	t.Run("json", func(t *testing.T) {
		var res lodResponse
		r := get(t, server.URL+"/lod?distance=1", &res)
		require.Equal(t, http.StatusOK, r.StatusCode)
		require.Equal(t, 0, res.Level)
		require.Equal(t, 100, res.Count)
		require.Equal(t, 1000, res.MaxInstances)
		require.Len(t, res.Stats.Levels, 3)

		r = get(t, server.URL+"/lod?distance=10", &res)
		require.Equal(t, http.StatusOK, r.StatusCode)
		require.Equal(t, 2, res.Level)
	})

	t.Run("budget exceeded", func(t *testing.T) {
		r := get(t, server.URL+"/lod?distance=1&max_instances=1", nil)
		require.Equal(t, http.StatusUnprocessableEntity, r.StatusCode)
	})

	t.Run("export", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/lod?distance=1", nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "application/octet-stream")

		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.NotEmpty(t, res.Header.Get("ETag"))

		data, err := io.ReadAll(res.Body)
		require.NoError(t, err)

		exp, err := codec.DecodeLevel(data)
		require.NoError(t, err)
		require.Equal(t, 0, exp.Level)
		require.Equal(t, testPointSet(), exp.Points)
		require.Len(t, exp.Confidences, 100)
	})

	t.Run("export compression disabled", func(t *testing.T) {
		api.FeatureFlags = featureflag.New([]string{string(featureflag.FlagDisableExportCompression)})
		defer func() {
			api.FeatureFlags = featureflag.New(nil)
		}()

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/lod?distance=1", nil)
		req.Header.Set("Accept", "application/octet-stream")
		api.HandleLOD(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		exp, err := codec.DecodeLevel(rec.Body.Bytes())
		require.NoError(t, err)
		require.Equal(t, codec.CompressionNone, exp.Compression)
	})
}

func TestHandleStats(t *testing.T) {
	_, server := newTestAPI(t)

	var res engine.Stats
	r := get(t, server.URL+"/stats", &res)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Equal(t, 100, res.Points)
	require.Equal(t, `"`+res.Fingerprint+`"`, r.Header.Get("ETag"))
	require.Equal(t, 100, res.Grid.Points)
}

func TestAPIWithoutSnapshot(t *testing.T) {
	api := &API{Store: &engine.Store{}}

	var mux http.ServeMux
	api.Register(&mux)

	for _, path := range []string{"/query/sphere?x=0&y=0&z=0&radius=1", "/stats", "/lod?distance=1"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	HandleReadyCheck(api.Store)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, healthResponse{Status: "no_snapshot"}, health)

	rec = httptest.NewRecorder()
	HandleVersion("v1.2.3", api.Store)(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":"v1.2.3"}`, rec.Body.String())
}

func TestAPIMethodNotAllowed(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.HandleStats(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPIHead(t *testing.T) {
	api, _ := newTestAPI(t)

	get := httptest.NewRecorder()
	api.HandleStats(get, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, get.Code)
	require.NotEmpty(t, get.Body.Bytes())

	head := httptest.NewRecorder()
	api.HandleStats(head, httptest.NewRequest(http.MethodHead, "/stats", nil))
	require.Equal(t, http.StatusOK, head.Code)
	require.Empty(t, head.Body.Bytes())
	require.Equal(t, get.Header().Get("ETag"), head.Header().Get("ETag"))
	require.Equal(t, strconv.Itoa(get.Body.Len()), head.Header().Get("Content-Length"))

	req := httptest.NewRequest(http.MethodHead, "/lod?distance=1", nil)
	req.Header.Set("Accept", "application/octet-stream")
	head = httptest.NewRecorder()
	api.HandleLOD(head, req)
	require.Equal(t, http.StatusOK, head.Code)
	require.Empty(t, head.Body.Bytes())
	require.Equal(t, "application/octet-stream", head.Header().Get("Content-Type"))
	require.NotEqual(t, "0", head.Header().Get("Content-Length"))

	head = httptest.NewRecorder()
	api.HandleQuerySphere(head, httptest.NewRequest(http.MethodHead, "/query/sphere?x=0", nil))
	require.Equal(t, http.StatusBadRequest, head.Code)
}

func TestHandleReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.json")

	var buf bytes.Buffer
	require.NoError(t, pointset.WriteJSON(&buf, testPointSet()))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	store := &engine.Store{
		Loader:  engine.FileLoader(path),
		Options: engine.DefaultOptions(),
	}
	handler := HandleReload(store)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/reload", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, store.Ready())

	var stats engine.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 100, stats.Points)

	require.NoError(t, os.Remove(path))
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/reload", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.True(t, store.Ready())
}

func TestHandleVersionAndHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	s, err := api.Store.Snapshot()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	HandleVersion("v1.2.3", api.Store)(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var version versionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	require.Equal(t, versionResponse{
		Version:     "v1.2.3",
		SnapshotID:  s.ID,
		Fingerprint: s.Fingerprint,
	}, version)

	rec = httptest.NewRecorder()
	HandleHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HandleReadyCheck(api.Store)(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, healthResponse{Status: "ready", SnapshotID: s.ID}, health)
}

func TestMetricsPathFormatter(t *testing.T) {
	require.Equal(t, "/stats", MetricsPathFormatter(http.StatusOK, "/stats"))
	require.Empty(t, MetricsPathFormatter(http.StatusNotFound, "/unknown"))
	require.Empty(t, MetricsPathFormatter(http.StatusBadRequest, "/query/sphere"))
	require.Equal(t, "/lod", MetricsPathFormatter(http.StatusUnprocessableEntity, "/lod"))
}
