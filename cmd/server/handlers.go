package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lychee-technology/duplex"
	"github.com/lychee-technology/duplex/internal"
	"github.com/lychee-technology/duplex/internal/snapshotio"
	"go.uber.org/zap"
)

const maxSnapshotBytes = 64 << 20

// entity resolves the {entity} path parameter, writing the error response
// when it is unknown.
func (s *Server) entity(w http.ResponseWriter, r *http.Request) (duplex.Entity, bool) {
	e, err := s.service.Entity(chi.URLParam(r, "entity"))
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return nil, false
	}
	return e, true
}

// handleCreate handles POST /api/v1/{entity}. The body is one object or an
// array of objects.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entity(w, r)
	if !ok {
		return
	}

	var rawBody any
	if err := readJSONBody(r, &rawBody); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}

	var objects []map[string]any
	isSingleObject := false
	switch v := rawBody.(type) {
	case map[string]any:
		objects = []map[string]any{v}
		isSingleObject = true
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				writeError(w, http.StatusBadRequest, "array items must be objects")
				return
			}
			objects = append(objects, obj)
		}
	default:
		writeError(w, http.StatusBadRequest, "body must be an object or array")
		return
	}
	if len(objects) == 0 {
		writeError(w, http.StatusBadRequest, "empty array not allowed")
		return
	}

	results := make([]*duplex.WriteResult, 0, len(objects))
	for _, obj := range objects {
		res, err := e.CreateResult(r.Context(), duplex.Record(obj))
		if err != nil {
			writeServiceError(w, err, s.service.RetryAfter())
			return
		}
		results = append(results, res)
	}

	if isSingleObject {
		writeSuccess(w, http.StatusCreated, results[0])
		return
	}
	writeSuccess(w, http.StatusCreated, results)
}

// handleList handles GET /api/v1/{entity}
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entity(w, r)
	if !ok {
		return
	}
	recs, err := e.List(r.Context())
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	writeSuccess(w, http.StatusOK, recs)
}

// handleGet handles GET /api/v1/{entity}/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entity(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := e.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	if rec == nil {
		writeServiceError(w, duplex.NewNotFoundError(e.Name(), id), 0)
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

// handleUpdate handles PATCH /api/v1/{entity}/{id}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entity(w, r)
	if !ok {
		return
	}
	var patch duplex.Record
	if err := readJSONBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}
	res, err := e.UpdateResult(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// handleDelete handles DELETE /api/v1/{entity}/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entity(w, r)
	if !ok {
		return
	}
	res, err := e.DeleteResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// handleFilter handles POST /api/v1/{entity}/filter. The body is the criteria
// object; ?fresh=true bypasses driver-level caching.
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entity(w, r)
	if !ok {
		return
	}
	var c duplex.Criteria
	if err := readJSONBody(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}
	var opts []duplex.FilterOption
	if fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh")); fresh {
		opts = append(opts, duplex.WithFresh())
	}
	recs, err := e.Filter(r.Context(), c, opts...)
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	writeSuccess(w, http.StatusOK, recs)
}

// handleSearch handles GET /api/v1/{entity}/search?q=&limit=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entity(w, r)
	if !ok {
		return
	}
	searcher, ok := e.(duplex.Searcher)
	if !ok {
		writeServiceError(w, duplex.NewValidationError("entity", "entity is not searchable").WithEntity(e.Name(), ""), 0)
		return
	}
	limit, err := parseLimit(r.URL.Query())
	if err != nil {
		writeServiceError(w, err, 0)
		return
	}
	recs, err := searcher.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	writeSuccess(w, http.StatusOK, recs)
}

// handleRefresh handles POST /api/v1/{entity}/refresh. Without ?now=true the
// next list of the entity reads from Primary; with it Cache is refreshed
// before the response.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "entity")
	now, _ := strconv.ParseBool(r.URL.Query().Get("now"))

	var err error
	if now {
		err = s.service.Warm(r.Context(), name)
	} else {
		err = s.service.RequestRefresh(name)
	}
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	writeSuccess(w, http.StatusAccepted, map[string]any{"entity": name, "refreshed": now})
}

// handleBackup handles GET /api/v1/backup[?format=cbor]. The body is the raw
// snapshot so it can be posted back to the restore endpoint.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	format := snapshotio.FormatJSON
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := snapshotio.ParseFormat(raw)
		if err != nil {
			writeServiceError(w, err, 0)
			return
		}
		format = f
	}

	snap, err := s.service.Backup(r.Context())
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	data, err := snapshotio.Encode(snap, format)
	if err != nil {
		writeServiceError(w, err, 0)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", snapshotio.DefaultKey(snap.Metadata.Timestamp, format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		zap.S().Warnw("failed to write backup response", "error", err)
	}
}

// handleRestore handles POST /api/v1/restore?mode=&entities=. The body is a
// JSON or CBOR snapshot.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	mode := duplex.RestoreMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = duplex.RestoreReplace
	}
	if err := internal.ValidateRestoreMode(mode); err != nil {
		writeServiceError(w, err, 0)
		return
	}

	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSnapshotBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("read snapshot: %v", err))
		return
	}
	snap, err := snapshotio.Decode(data)
	if err != nil {
		writeServiceError(w, err, 0)
		return
	}

	result, err := s.service.Restore(r.Context(), snap, parseEntityList(r.URL.Query().Get("entities")), mode)
	if err != nil {
		writeServiceError(w, err, s.service.RetryAfter())
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleHealth probes the backends. An open circuit still reports 200 since
// Primary keeps serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.service.Health(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, APIResponse{Success: report.Healthy, Data: report})
}
