// Package api exposes the receipt pipeline over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/splitreceipt/receipt-split-service/internal/ai"
	"github.com/splitreceipt/receipt-split-service/internal/auth"
	"github.com/splitreceipt/receipt-split-service/internal/db"
	"github.com/splitreceipt/receipt-split-service/internal/export"
	"github.com/splitreceipt/receipt-split-service/internal/metrics"
	"github.com/splitreceipt/receipt-split-service/internal/models"
	"github.com/splitreceipt/receipt-split-service/internal/services"
	"github.com/splitreceipt/receipt-split-service/internal/split"
	"github.com/splitreceipt/receipt-split-service/internal/storage"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	MaxJSONSize   = 1 * 1024 * 1024
	Version       = "1.0.0"
)

// ReceiptStore persists processed receipts
type ReceiptStore interface {
	Save(ctx context.Context, r *models.Receipt) error
	Get(ctx context.Context, owner, id string) (*models.Receipt, error)
	List(ctx context.Context, owner string, limit, offset int) ([]*models.Receipt, int, error)
	UpdateSplit(ctx context.Context, owner, id string, ledger *models.Ledger, split *models.SplitResult) error
	Delete(ctx context.Context, owner, id string) error
}

// ImageStore keeps uploaded receipt images
type ImageStore interface {
	UploadReceiptImage(ctx context.Context, owner string, filename string, reader io.Reader, size int64, contentType string) (string, error)
	PresignedURL(ctx context.Context, objectPath string) (string, error)
	DeleteImage(ctx context.Context, objectPath string) error
}

// ExtractorFunc returns the extractor for a provider and model named in a request
type ExtractorFunc func(ctx context.Context, provider, model string) (services.Extractor, error)

// Deps are the collaborators of a Handler. Store, Images, Extractors and
// Auth are optional.
type Deps struct {
	Config     *models.Config
	Pipeline   *services.Pipeline
	Store      ReceiptStore
	Images     ImageStore
	Extractors ExtractorFunc
	Auth       *auth.Manager
}

// Handler handles HTTP requests for receipt processing
type Handler struct {
	config     *models.Config
	pipeline   *services.Pipeline
	store      ReceiptStore
	images     ImageStore
	extractors ExtractorFunc
	auth       *auth.Manager
}

// NewHandler creates a new API handler
func NewHandler(d Deps) *Handler {
	cfg := d.Config
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	p := d.Pipeline
	if p == nil {
		p = services.NewPipeline(nil, nil, nil, nil)
	}
	return &Handler{
		config:     cfg,
		pipeline:   p,
		store:      d.Store,
		images:     d.Images,
		extractors: d.Extractors,
		auth:       d.Auth,
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.Instrument)

	// Pipeline
	router.HandleFunc("/api/process-receipt", h.ProcessReceipt).Methods("POST")
	router.HandleFunc("/api/reconcile", h.Reconcile).Methods("POST")
	router.HandleFunc("/api/split", h.Split).Methods("POST")

	// Stored receipts
	router.HandleFunc("/api/receipts", h.ListReceipts).Methods("GET")
	router.HandleFunc("/api/receipts/{id}", h.GetReceipt).Methods("GET")
	router.HandleFunc("/api/receipts/{id}", h.DeleteReceipt).Methods("DELETE")
	router.HandleFunc("/api/receipts/{id}/split", h.UpdateReceiptSplit).Methods("PUT")
	router.HandleFunc("/api/receipts/{id}/export", h.ExportReceipt).Methods("GET")
	router.HandleFunc("/api/receipts/{id}/image", h.GetReceiptImage).Methods("GET")

	// Auth
	router.HandleFunc("/api/token", auth.TokenHandler(h.auth, h.config.Auth.Clients)).Methods("POST")

	// Health and metrics
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Timestamp   string            `json:"timestamp"`
	Uptime      string            `json:"uptime"`
	Memory      MemoryStats       `json:"memory"`
	Tesseract   ServiceStatus     `json:"tesseract"`
	ImageMagick ServiceStatus     `json:"imageMagick"`
	Database    ServiceStatus     `json:"database"`
	Storage     ServiceStatus     `json:"storage"`
	AI          map[string]string `json:"ai"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports dependencies. A missing tesseract binary degrades the
// service only when tesseract is the configured engine.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	tesseractStatus := checkBinary(r.Context(), "tesseract", "--version")
	imageMagickStatus := checkBinary(r.Context(), "convert", "-version")

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Tesseract:   tesseractStatus,
		ImageMagick: imageMagickStatus,
		Database:    optionalStatus(h.store != nil, "PostgreSQL", "database not configured"),
		Storage:     optionalStatus(h.images != nil, "MinIO S3", "storage not configured"),
		AI: map[string]string{
			"defaultProvider": h.config.AI.DefaultProvider,
			"ocrEngine":       h.config.OCR.Engine,
		},
	}

	engine := strings.ToLower(h.config.OCR.Engine)
	if !tesseractStatus.Available && (engine == "" || engine == "tesseract") {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func checkBinary(ctx context.Context, name string, arg string) ServiceStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, arg).CombinedOutput()
	if err != nil {
		return ServiceStatus{
			Available: false,
			Error:     name + " not found or not executable",
		}
	}

	version := "unknown"
	if line, _, _ := strings.Cut(string(output), "\n"); line != "" {
		version = strings.TrimSpace(line)
	}
	return ServiceStatus{Available: true, Version: version}
}

func optionalStatus(ok bool, version, missing string) ServiceStatus {
	if !ok {
		return ServiceStatus{Available: false, Error: missing}
	}
	return ServiceStatus{Available: true, Version: version}
}

// ProcessReceipt runs the full pipeline on an uploaded image
func (h *Handler) ProcessReceipt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	start := time.Now()
	owner := ownerOf(r)

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "File too large or invalid form data")
		return
	}

	// Accept both "image" and "file" field names
	file, header, err := r.FormFile("image")
	if err != nil {
		file, header, err = r.FormFile("file")
		if err != nil {
			h.sendError(w, http.StatusBadRequest, "No file provided (use 'image' or 'file' field)")
			return
		}
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	req, err := splitRequestFromForm(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	pipeline, err := h.pipelineFor(ctx, r.FormValue("aiProvider"), r.FormValue("model"))
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}

	out, err := pipeline.ProcessImage(ctx, imageData, r.FormValue("useVisionModel") == "true", req)
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}
	receipt := out.Receipt
	receipt.Owner = owner

	if h.images != nil {
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "image/jpeg"
		}
		path, err := h.images.UploadReceiptImage(ctx, owner, storage.FileName(contentType, time.Now()),
			bytes.NewReader(imageData), int64(len(imageData)), contentType)
		if err != nil {
			// Image storage is optional
			slog.Warn("storage.upload.failed", "receipt_id", receipt.ID, "error", err)
		} else {
			receipt.ImagePath = path
		}
	}

	saved := h.save(ctx, receipt)

	json.NewEncoder(w).Encode(models.ProcessResponse{
		Success:       true,
		Receipt:       receipt,
		OCRDuration:   out.OCRDuration,
		AIDuration:    out.AIDuration,
		TotalDuration: time.Since(start).Seconds(),
		SavedToDB:     saved,
	})
}

// ReconcileRequest reconciles OCR text with an extraction supplied by the
// caller, or with one requested from the AI provider
type ReconcileRequest struct {
	OCRText          string              `json:"ocr_text"`
	Extraction       json.RawMessage     `json:"extraction,omitempty"`
	RawResponse      string              `json:"raw_response,omitempty"`
	Participants     []string            `json:"participants,omitempty"`
	ParticipantCount int                 `json:"participant_count,omitempty"`
	Mode             string              `json:"mode,omitempty"`
	Assignments      map[string][]string `json:"assignments,omitempty"`
	AIProvider       string              `json:"aiProvider,omitempty"`
	Model            string              `json:"model,omitempty"`
	Save             bool                `json:"save,omitempty"`
}

// Reconcile builds a ledger and split from OCR text
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	start := time.Now()

	var body ReconcileRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := splitRequest(body.Participants, body.ParticipantCount, body.Mode, body.Assignments)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ext *models.Extraction
	if len(body.Extraction) > 0 && string(body.Extraction) != "null" {
		ext = ai.ParseResponse(string(body.Extraction))
	}

	pipeline := h.pipeline
	if ext == nil && body.RawResponse == "" {
		if pipeline, err = h.pipelineFor(ctx, body.AIProvider, body.Model); err != nil {
			h.sendPipelineError(w, err)
			return
		}
	}

	out, err := pipeline.ProcessText(ctx, body.OCRText, ext, body.RawResponse, req)
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}
	out.Receipt.Owner = ownerOf(r)

	saved := false
	if body.Save {
		saved = h.save(ctx, out.Receipt)
	}

	json.NewEncoder(w).Encode(models.ProcessResponse{
		Success:       true,
		Receipt:       out.Receipt,
		AIDuration:    out.AIDuration,
		TotalDuration: time.Since(start).Seconds(),
		SavedToDB:     saved,
	})
}

// SplitRequest splits an already reconciled ledger
type SplitRequest struct {
	Ledger           *models.Ledger      `json:"ledger"`
	Participants     []string            `json:"participants,omitempty"`
	ParticipantCount int                 `json:"participant_count,omitempty"`
	Mode             string              `json:"mode,omitempty"`
	Assignments      map[string][]string `json:"assignments,omitempty"`
}

// Split computes shares for a ledger sent by the client
func (h *Handler) Split(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var body SplitRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Ledger == nil {
		h.sendError(w, http.StatusBadRequest, "ledger is required")
		return
	}
	req, err := splitRequest(body.Participants, body.ParticipantCount, body.Mode, body.Assignments)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The total is derived, never trusted from the client
	body.Ledger.ComputedTotal = body.Ledger.Total()

	result, err := services.Split(body.Ledger, req)
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"ledger":  body.Ledger,
		"split":   result,
	})
}

// pipelineFor returns the pipeline using the requested provider and model,
// or the default pipeline when neither is named
func (h *Handler) pipelineFor(ctx context.Context, provider, model string) (*services.Pipeline, error) {
	if (provider == "" && model == "") || h.extractors == nil {
		return h.pipeline, nil
	}
	e, err := h.extractors(ctx, provider, model)
	if err != nil {
		return nil, err
	}
	return h.pipeline.WithExtractor(e), nil
}

// save persists a receipt when a store is configured
func (h *Handler) save(ctx context.Context, receipt *models.Receipt) bool {
	if h.store == nil {
		return false
	}
	if err := h.store.Save(ctx, receipt); err != nil {
		slog.Warn("db.save.failed", "receipt_id", receipt.ID, "error", err)
		return false
	}
	return true
}

func ownerOf(r *http.Request) string {
	if claims, err := auth.GetClaimsFromContext(r.Context()); err == nil {
		return claims.ClientID
	}
	return ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONSize)
	return json.NewDecoder(r.Body).Decode(v)
}

// splitRequestFromForm reads participants, participant_count, mode and
// assignments from a multipart form. Participants may be a JSON list or a
// comma separated string.
func splitRequestFromForm(r *http.Request) (services.SplitRequest, error) {
	var names []string
	if raw := strings.TrimSpace(r.FormValue("participants")); raw != "" {
		if strings.HasPrefix(raw, "[") {
			if err := json.Unmarshal([]byte(raw), &names); err != nil {
				return services.SplitRequest{}, errors.New("participants must be a JSON list or comma separated")
			}
		} else {
			names = strings.Split(raw, ",")
		}
	}

	count := 0
	if raw := strings.TrimSpace(r.FormValue("participant_count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return services.SplitRequest{}, errors.New("participant_count must be a non-negative integer")
		}
		count = n
	}

	var assignments map[string][]string
	if raw := strings.TrimSpace(r.FormValue("assignments")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &assignments); err != nil {
			return services.SplitRequest{}, errors.New("assignments must be a JSON object")
		}
	}

	return splitRequest(names, count, r.FormValue("mode"), assignments)
}

// splitRequest validates split parameters. The mode defaults to item.
func splitRequest(names []string, count int, mode string, assignments map[string][]string) (services.SplitRequest, error) {
	if count < 0 {
		return services.SplitRequest{}, errors.New("participant_count must be a non-negative integer")
	}
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = split.ModeItem
	}

	var byIndex map[int][]string
	if len(assignments) > 0 {
		byIndex = make(map[int][]string, len(assignments))
		for k, who := range assignments {
			idx, err := strconv.Atoi(k)
			if err != nil {
				return services.SplitRequest{}, fmt.Errorf("assignment key %q is not an item index", k)
			}
			byIndex[idx] = who
		}
	}

	return services.SplitRequest{
		Participants:     names,
		ParticipantCount: count,
		Mode:             mode,
		Assignments:      byIndex,
	}, nil
}

// sendPipelineError maps pipeline failures to status codes
func (h *Handler) sendPipelineError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, split.ErrUnknownMode), errors.Is(err, split.ErrBadAssignment), errors.Is(err, ai.ErrNoProvider):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNoExtractor), errors.Is(err, services.ErrNoReader):
		status = http.StatusServiceUnavailable
	case errors.Is(err, db.ErrReceiptNotFound):
		status = http.StatusNotFound
	case errors.Is(err, export.ErrNoLedger):
		status = http.StatusConflict
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
	}
	slog.Warn("api.request.failed", "status", status, "error", err)
	h.sendError(w, status, err.Error())
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
