package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mlejeune/papierflow/internal/core/domain"
	"github.com/mlejeune/papierflow/internal/core/ports"
	"github.com/mlejeune/papierflow/internal/observability/metrics"
)

type RouterConfig struct {
	ServiceName   string
	RateLimitRPS  float64
	RateLimit     int // burst
	MaxConcurrent int
}

type Router struct {
	intake   ports.BatchIntake
	reader   ports.BatchReader
	taxonomy ports.TaxonomyStore
	queue    ports.MessageQueue
	metrics  *metrics.HTTPServerMetrics
	cfg      RouterConfig
}

func NewRouter(
	intake ports.BatchIntake,
	reader ports.BatchReader,
	taxonomy ports.TaxonomyStore,
	queue ports.MessageQueue,
	httpMetrics *metrics.HTTPServerMetrics,
	cfg RouterConfig,
) *Router {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "api"
	}
	return &Router{
		intake:   intake,
		reader:   reader,
		taxonomy: taxonomy,
		queue:    queue,
		metrics:  httpMetrics,
		cfg:      cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/batches", rt.createBatch)
	mux.HandleFunc("POST /v1/batches/{id}/documents", rt.uploadDocument)
	mux.HandleFunc("POST /v1/batches/{id}/start", rt.startBatch)
	mux.HandleFunc("GET /v1/batches/{id}", rt.getBatch)
	mux.HandleFunc("POST /v1/batches/{id}/pause", rt.controlHandler(domain.ControlPause))
	mux.HandleFunc("POST /v1/batches/{id}/resume", rt.controlHandler(domain.ControlResume))
	mux.HandleFunc("POST /v1/batches/{id}/rollback", rt.controlHandler(domain.ControlRollback))
	mux.HandleFunc("GET /v1/taxonomy", rt.listTaxonomy)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(rt.cfg.ServiceName, handler)
	}
	if rt.cfg.MaxConcurrent > 0 {
		handler = backpressureMiddleware(handler, rt.cfg.MaxConcurrent, backpressureWait)
	}
	if rt.cfg.RateLimitRPS > 0 {
		handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimit)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) createBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string             `json:"name"`
		PipelineType string             `json:"pipeline_type"`
		Config       domain.BatchConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	batch, err := rt.intake.CreateBatch(r.Context(), req.Name, req.PipelineType, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.intake.RegisterDocument(
		r.Context(),
		batchID,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}
	if rt.metrics != nil {
		rt.metrics.RecordUploadSize(rt.cfg.ServiceName, fileHeader.Size)
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) startBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	if err := rt.intake.Submit(r.Context(), batchID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID, "status": string(domain.BatchValidating)})
}

func (rt *Router) getBatch(w http.ResponseWriter, r *http.Request) {
	snapshot, err := rt.reader.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (rt *Router) controlHandler(action domain.ControlAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
				return
			}
		}

		reply, err := rt.queue.RequestControl(r.Context(), domain.ControlCommand{
			BatchID: r.PathValue("id"),
			Action:  action,
			Reason:  req.Reason,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if !reply.OK {
			writeJSON(w, controlErrorStatus(reply.Error), map[string]string{"error": reply.Error})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"batch_id": r.PathValue("id"),
			"status":   string(reply.Status),
		})
	}
}

func (rt *Router) listTaxonomy(w http.ResponseWriter, r *http.Request) {
	categories, err := rt.taxonomy.ListCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func controlErrorStatus(message string) int {
	switch {
	case strings.Contains(message, "not found"):
		return http.StatusNotFound
	case strings.Contains(message, "invalid input"):
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
