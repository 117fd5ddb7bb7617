package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/sightline/codec"
	"github.com/aukilabs/sightline/engine"
	"github.com/aukilabs/sightline/featureflag"
	"github.com/aukilabs/sightline/lod"
	"github.com/aukilabs/sightline/pointset"
	"github.com/aukilabs/sightline/temporal"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeInvalidParameter = "invalid_parameter"

	contentTypeJSON        = "application/json"
	contentTypeOctetStream = "application/octet-stream"
)

// API serves the queries of the current snapshot of a store.
type API struct {
	Store             *engine.Store
	MaxInstances      int
	ExportCompression codec.Compression
	FeatureFlags      featureflag.FeatureFlag
}

// Register adds the query endpoints to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/query/sphere", a.HandleQuerySphere)
	mux.HandleFunc("/query/time", a.HandleQueryTime)
	mux.HandleFunc("/query/chunks", a.HandleQueryChunks)
	mux.HandleFunc("/query/year", a.HandleQueryYear)
	mux.HandleFunc("/lod", a.HandleLOD)
	mux.HandleFunc("/stats", a.HandleStats)
}

type rangeResponse struct {
	Start   int      `json:"start"`
	End     int      `json:"end"`
	Count   int      `json:"count"`
	Indices []uint32 `json:"indices,omitempty"`
}

type chunkResponse struct {
	ID    int `json:"id"`
	Start int `json:"start"`
	End   int `json:"end"`
}

type chunksResponse struct {
	Chunks []chunkResponse `json:"chunks"`
}

type lodResponse struct {
	Level        int       `json:"level"`
	CellSize     float64   `json:"cell_size"`
	Count        int       `json:"count"`
	MaxInstances int       `json:"max_instances"`
	Stats        lod.Stats `json:"stats"`
}

// HandleQuerySphere serves /query/sphere?x=&y=&z=&radius=.
func (a *API) HandleQuerySphere(w http.ResponseWriter, r *http.Request) {
	s, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	q := params{values: r.URL.Query()}
	center := pointset.Vector3f{
		X: float32(q.float("x")),
		Y: float32(q.float("y")),
		Z: float32(q.float("z")),
	}
	radius := q.float("radius")
	if !q.ok(w, r) {
		return
	}
	if radius < 0 {
		badRequest(w, r, invalidParameter("radius", q.values.Get("radius")))
		return
	}

	writeJSON(w, r, s.QuerySphere(center, radius))
}

// HandleQueryTime serves /query/time?t=&window=[&indices=true].
func (a *API) HandleQueryTime(w http.ResponseWriter, r *http.Request) {
	s, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	q := params{values: r.URL.Query()}
	t := q.float("t")
	window := q.float("window")
	withIndices := q.optionalBool("indices")
	if !q.ok(w, r) {
		return
	}

	res := newRangeResponse(s.VisibleRange(t, window))
	if withIndices {
		res.Indices = s.VisibleIndices(temporal.Range{Start: res.Start, End: res.End})
	}
	writeJSON(w, r, res)
}

// HandleQueryChunks serves /query/chunks?tmin=&tmax=.
func (a *API) HandleQueryChunks(w http.ResponseWriter, r *http.Request) {
	s, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	q := params{values: r.URL.Query()}
	tMin := q.float("tmin")
	tMax := q.float("tmax")
	if !q.ok(w, r) {
		return
	}

	res := chunksResponse{
		Chunks: []chunkResponse{},
	}
	for _, id := range s.OverlappingChunks(tMin, tMax) {
		rng := s.ChunkRange(id)
		res.Chunks = append(res.Chunks, chunkResponse{
			ID:    id,
			Start: rng.Start,
			End:   rng.End,
		})
	}
	writeJSON(w, r, res)
}

// HandleQueryYear serves /query/year?year=&start=&end=.
func (a *API) HandleQueryYear(w http.ResponseWriter, r *http.Request) {
	s, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	q := params{values: r.URL.Query()}
	year := q.integer("year")
	start := q.integer("start")
	end := q.integer("end")
	if !q.ok(w, r) {
		return
	}
	if end <= start {
		badRequest(w, r, invalidParameter("end", q.values.Get("end")))
		return
	}

	writeJSON(w, r, newRangeResponse(s.YearRange(year, start, end)))
}

// HandleLOD serves /lod?distance=[&max_instances=]. The level points are
// returned as an export when the client accepts application/octet-stream.
func (a *API) HandleLOD(w http.ResponseWriter, r *http.Request) {
	s, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	q := params{values: r.URL.Query()}
	distance := q.float("distance")
	maxInstances := a.MaxInstances
	if q.values.Has("max_instances") {
		maxInstances = q.integer("max_instances")
	}
	if !q.ok(w, r) {
		return
	}

	level, err := s.SelectLevel(distance, maxInstances)
	if errors.IsType(err, engine.ErrTypeBudgetExceeded) {
		writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	if err != nil {
		internalServerError(w, r, err)
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), contentTypeOctetStream) {
		writeJSON(w, r, lodResponse{
			Level:        level.ID,
			CellSize:     level.CellSize,
			Count:        level.Points.Len(),
			MaxInstances: maxInstances,
			Stats:        s.Stats().LOD,
		})
		return
	}

	compression := a.ExportCompression
	if a.FeatureFlags.IsSet(featureflag.FlagDisableExportCompression) {
		compression = codec.CompressionNone
	}

	data, err := codec.EncodeLevel(level, lod.Confidences(level), compression)
	if err != nil {
		internalServerError(w, r, err)
		return
	}

	w.Header().Set("ETag", strconv.Quote(s.Fingerprint+"-"+strconv.Itoa(level.ID)))
	writeBody(w, r, http.StatusOK, contentTypeOctetStream, data)
}

// HandleStats serves /stats.
func (a *API) HandleStats(w http.ResponseWriter, r *http.Request) {
	s, ok := a.snapshot(w, r)
	if !ok {
		return
	}

	w.Header().Set("ETag", strconv.Quote(s.Fingerprint))
	writeJSON(w, r, s.Stats())
}

// HandleReload rebuilds the snapshot of a store from its loader.
func HandleReload(store *engine.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		s, err := store.Reload(r.Context())
		if err != nil {
			internalServerError(w, r, err)
			return
		}
		writeJSON(w, r, s.Stats())
	}
}

func (a *API) snapshot(w http.ResponseWriter, r *http.Request) (*engine.Snapshot, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}

	s, err := a.Store.Snapshot()
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, err)
		return nil, false
	}
	return s, true
}

func newRangeResponse(r temporal.Range) rangeResponse {
	return rangeResponse{
		Start: r.Start,
		End:   r.End,
		Count: r.Len(),
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	writeJSONStatus(w, r, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, r *http.Request, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		internalServerError(w, r, errors.New("encoding response failed").Wrap(err))
		return
	}
	writeBody(w, r, status, contentTypeJSON, b)
}

// writeBody writes data with its content headers. HEAD requests only get the
// headers.
func writeBody(w http.ResponseWriter, r *http.Request, status int, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)

	if r.Method != http.MethodHead {
		w.Write(data)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	logs.WithClientID(r.Header.Get(httpcmn.HeaderPosemeshClientID)).
		WithTag("path", r.URL.Path).
		WithTag("status", status).
		Debug(err.Error())

	b, _ := json.Marshal(errorResponse{
		Error: err.Error(),
		Type:  errors.Type(err),
	})
	writeBody(w, r, status, contentTypeJSON, b)
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	logs.WithClientID(r.Header.Get(httpcmn.HeaderPosemeshClientID)).
		WithTag("path", r.URL.Path).
		Debug(err.Error())
	httpcmn.BadRequest(w, err)
}

func internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logs.WithClientID(r.Header.Get(httpcmn.HeaderPosemeshClientID)).
		WithTag("path", r.URL.Path).
		Error(err)
	httpcmn.InternalServerError(w, err)
}

func invalidParameter(name, value string) error {
	return errors.Newf("invalid %s parameter", name).
		WithType(ErrTypeInvalidParameter).
		WithTag(name, value)
}
