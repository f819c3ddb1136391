package ingestion

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/your-org/imageflow/pkg/metrics"
)

// Response bodies of the upload endpoint.
const (
	SuccessMessage = "Image processing function completed successfully."
	FailureMessage = "Error occurred while processing image"
)

// HTTPHandler exposes REST endpoints for the ingestion service.
type HTTPHandler struct {
	service      *Service
	logger       *zap.Logger
	metrics      *metrics.Ingestion
	maxSizeBytes int64
	formMemBytes int64
	uploadMW     []func(http.Handler) http.Handler
	router       chi.Router
}

// HandlerParams configures an HTTPHandler.
type HandlerParams struct {
	Service      *Service
	Logger       *zap.Logger
	Metrics      *metrics.Ingestion
	MaxSizeBytes int64
	FormMemBytes int64
	// UploadMW wraps only the upload route, e.g. a rate limiter.
	UploadMW []func(http.Handler) http.Handler
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(p HandlerParams) *HTTPHandler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HTTPHandler{
		service:      p.Service,
		logger:       logger,
		metrics:      p.Metrics,
		maxSizeBytes: p.MaxSizeBytes,
		formMemBytes: p.FormMemBytes,
		uploadMW:     p.UploadMW,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", h.handleHealth)

	r.With(h.uploadMW...).Post("/api/v1/images", h.handleUpload)

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(zap.String("request_id", middleware.GetReqID(r.Context())))
	logger.Info("image upload received")

	body, status, msg := h.readImage(w, r)
	if status != 0 {
		h.metrics.ObserveOutcome(metrics.OutcomeInvalid)
		writeText(w, status, msg)
		return
	}

	result, err := h.service.Ingest(r.Context(), body)
	if err != nil {
		var perr *ProcessingError
		if !errors.As(err, &perr) {
			logger.Error("unexpected ingestion error", zap.Error(err))
		}
		writeText(w, http.StatusInternalServerError, FailureMessage)
		return
	}

	logger.Info(SuccessMessage,
		zap.String("blob_name", result.BlobName),
		zap.Bool("metadata_default", result.Metadata.IsDefault()),
	)
	writeText(w, http.StatusOK, SuccessMessage)
}

// readImage returns the image bytes: the "file" part of a multipart form or
// the raw body otherwise. A non-zero status reports a client error.
func (h *HTTPHandler) readImage(w http.ResponseWriter, r *http.Request) ([]byte, int, string) {
	if h.maxSizeBytes > 0 {
		if r.ContentLength > h.maxSizeBytes {
			return nil, http.StatusRequestEntityTooLarge, "payload too large"
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxSizeBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, readErrorStatus(err), "invalid request body"
		}
		return body, 0, ""
	}

	if err := r.ParseMultipartForm(h.formMemBytes); err != nil {
		return nil, readErrorStatus(err), "invalid multipart form"
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, http.StatusBadRequest, "file field is required"
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		return nil, http.StatusBadRequest, "invalid file part"
	}
	return body, 0, ""
}

func readErrorStatus(err error) int {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
