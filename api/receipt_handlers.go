package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/splitreceipt/receipt-split-service/internal/db"
	"github.com/splitreceipt/receipt-split-service/internal/export"
	"github.com/splitreceipt/receipt-split-service/internal/services"
)

// ListReceipts - GET /api/receipts?page=&limit=
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if h.store == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return
	}

	// Parse pagination params
	page := 1
	limit := 50
	if p := r.URL.Query().Get("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}
	offset := (page - 1) * limit

	owner := ownerOf(r)
	receipts, total, err := h.store.List(r.Context(), owner, limit, offset)
	if err != nil {
		slog.Error("receipts.list.failed", "owner", owner, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to list receipts")
		return
	}

	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"receipts":    receipts,
		"total":       total,
		"page":        page,
		"limit":       limit,
		"total_pages": totalPages,
	})
}

// GetReceipt - GET /api/receipts/{id}
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := h.receiptID(w, r)
	if !ok {
		return
	}
	receipt, err := h.store.Get(r.Context(), ownerOf(r), id)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"receipt": receipt,
	})
}

// DeleteReceipt - DELETE /api/receipts/{id}
func (h *Handler) DeleteReceipt(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := h.receiptID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	owner := ownerOf(r)

	receipt, err := h.store.Get(ctx, owner, id)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	if err := h.store.Delete(ctx, owner, id); err != nil {
		h.sendStoreError(w, err)
		return
	}

	if receipt.ImagePath != "" && h.images != nil {
		if err := h.images.DeleteImage(ctx, receipt.ImagePath); err != nil {
			slog.Warn("storage.delete.failed", "receipt_id", id, "error", err)
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

// UpdateSplitRequest re-splits a stored receipt
type UpdateSplitRequest struct {
	Participants     []string            `json:"participants,omitempty"`
	ParticipantCount int                 `json:"participant_count,omitempty"`
	Mode             string              `json:"mode,omitempty"`
	Assignments      map[string][]string `json:"assignments,omitempty"`
}

// UpdateReceiptSplit - PUT /api/receipts/{id}/split
func (h *Handler) UpdateReceiptSplit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id, ok := h.receiptID(w, r)
	if !ok {
		return
	}

	var body UpdateSplitRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := splitRequest(body.Participants, body.ParticipantCount, body.Mode, body.Assignments)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	owner := ownerOf(r)
	receipt, err := h.store.Get(ctx, owner, id)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}

	result, err := services.Split(receipt.Ledger, req)
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}
	if err := h.store.UpdateSplit(ctx, owner, id, receipt.Ledger, result); err != nil {
		h.sendStoreError(w, err)
		return
	}
	receipt.Split = result

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"receipt": receipt,
	})
}

// ExportReceipt - GET /api/receipts/{id}/export
func (h *Handler) ExportReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.receiptID(w, r)
	if !ok {
		return
	}
	receipt, err := h.store.Get(r.Context(), ownerOf(r), id)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}

	data, err := export.SplitWorkbook(receipt)
	if err != nil {
		h.sendPipelineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "receipt-"+id+".xlsx"))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetReceiptImage - GET /api/receipts/{id}/image redirects to a presigned URL
func (h *Handler) GetReceiptImage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.receiptID(w, r)
	if !ok {
		return
	}
	if h.images == nil {
		h.sendError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	ctx := r.Context()
	receipt, err := h.store.Get(ctx, ownerOf(r), id)
	if err != nil {
		h.sendStoreError(w, err)
		return
	}
	if receipt.ImagePath == "" {
		h.sendError(w, http.StatusNotFound, "receipt has no image")
		return
	}

	url, err := h.images.PresignedURL(ctx, receipt.ImagePath)
	if err != nil {
		slog.Error("storage.presign.failed", "receipt_id", id, "error", err)
		h.sendError(w, http.StatusInternalServerError, "failed to get image")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// receiptID checks the store and the {id} path variable. It writes the
// error response itself and reports whether the handler may continue.
func (h *Handler) receiptID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.store == nil {
		h.sendError(w, http.StatusServiceUnavailable, "database not available")
		return "", false
	}
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		h.sendError(w, http.StatusNotFound, "receipt not found")
		return "", false
	}
	return id, true
}

func (h *Handler) sendStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrReceiptNotFound) {
		h.sendError(w, http.StatusNotFound, "receipt not found")
		return
	}
	slog.Error("db.request.failed", "error", err)
	h.sendError(w, http.StatusInternalServerError, "database error")
}
