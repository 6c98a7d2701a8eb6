package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/datalens-labs/datalens/pkg/cache"
	"github.com/datalens-labs/datalens/pkg/dberror"
	"github.com/datalens-labs/datalens/pkg/ingest"
	"github.com/datalens-labs/datalens/pkg/metrics"
	"github.com/datalens-labs/datalens/pkg/query"
	"github.com/datalens-labs/datalens/pkg/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// respondStoreError maps a store failure onto an HTTP status.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case dberror.IsUnavailable(err):
		s.log.Error("store unavailable", "error", err)
		respondError(w, http.StatusServiceUnavailable, dberror.UserMessage(err))
	default:
		s.log.Error("store error", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

// handleUpload ingests one multipart file as a new dataset. An upload audit
// row is written before parsing and updated with the outcome, so failed
// uploads remain visible in the uploads list.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds the %d byte upload limit", tooLarge.Limit))
			return
		}
		respondError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}

	upload := &store.Upload{
		ID:        uuid.New(),
		Filename:  header.Filename,
		SizeBytes: header.Size,
		Status:    store.UploadStatusPending,
	}
	if err := s.cfg.Store.CreateUpload(ctx, upload); err != nil {
		s.respondStoreError(w, err)
		return
	}

	headers, rows, err := ingest.Parse(header.Filename, file)
	if err != nil {
		s.failUpload(ctx, upload, err)
		metrics.RecordIngestion("parse_error", 0, time.Since(start))
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.ingester.Ingest(ctx, name, header.Filename, headers, rows)
	if err != nil {
		s.failUpload(ctx, upload, err)
		metrics.RecordIngestion("store_error", 0, time.Since(start))
		s.respondStoreError(w, err)
		return
	}

	upload.Status = store.UploadStatusCompleted
	upload.DatasetID = &res.DatasetID
	if err := s.cfg.Store.UpdateUpload(ctx, upload); err != nil {
		s.log.Error("failed to update upload record", "upload", upload.ID, "error", err)
	}
	metrics.RecordIngestion("success", res.RowsInserted, time.Since(start))

	respondJSON(w, http.StatusCreated, map[string]any{
		"upload_id": upload.ID,
		"dataset":   res,
	})
}

func (s *Server) failUpload(ctx context.Context, upload *store.Upload, cause error) {
	msg := cause.Error()
	upload.Status = store.UploadStatusFailed
	upload.Error = &msg
	if err := s.cfg.Store.UpdateUpload(ctx, upload); err != nil {
		s.log.Error("failed to update upload record", "upload", upload.ID, "error", err)
	}
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := s.cfg.Store.Uploads(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, uploads)
}

func (s *Server) handleUploadByID(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid upload id")
		return
	}
	upload, err := s.cfg.Store.Upload(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, upload)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.cfg.Store.Datasets(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, datasets)
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid dataset id")
		return
	}
	dataset, err := s.cfg.Store.Dataset(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dataset)
}

func (s *Server) handleDatasetFields(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid dataset id")
		return
	}
	if _, err := s.cfg.Store.Dataset(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	fields, err := s.cfg.Store.FieldsByDataset(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fields)
}

func (s *Server) handleDatasetRecords(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid dataset id")
		return
	}
	if _, err := s.cfg.Store.Dataset(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}

	page := ParsePagination(r, DefaultLimit)
	records, total, err := s.cfg.Store.Rows(r.Context(), id, page.Limit, page.Offset)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PaginatedResponse[store.RowRecord]{
		Items:  records,
		Total:  total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid dataset id")
		return
	}
	if err := s.cfg.Store.DeleteDataset(r.Context(), id); err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.cache.Invalidate(id.String())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDashboards(w http.ResponseWriter, r *http.Request) {
	dashboards, err := s.cfg.Store.Dashboards(r.Context())
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dashboards)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid dashboard id")
		return
	}
	detail, err := s.cfg.Store.Dashboard(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	key := cache.Key(req.DatasetID, req)
	if cached, ok := s.cache.Get(key); ok {
		metrics.RecordCacheLookup(true)
		respondJSON(w, http.StatusOK, map[string]any{"rows": cached, "cached": true})
		return
	}
	metrics.RecordCacheLookup(false)

	result, err := s.builder.Aggregate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, query.ErrInvalidRequest):
			metrics.RecordAggregation("invalid", time.Since(start))
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			metrics.RecordAggregation("error", time.Since(start))
			s.respondStoreError(w, err)
		}
		return
	}
	metrics.RecordAggregation("success", time.Since(start))

	s.cache.Set(key, result)
	respondJSON(w, http.StatusOK, map[string]any{"rows": result, "cached": false})
}
