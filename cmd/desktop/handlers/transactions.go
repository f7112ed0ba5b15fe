// Package handlers provides the localhost REST API the desktop UI consumes.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/linchiayu/moneta/internal/errors"
	"github.com/linchiayu/moneta/internal/ledger"
	"github.com/linchiayu/moneta/internal/models"
)

// TransactionHandler handles transaction CRUD operations.
type TransactionHandler struct {
	service *ledger.Service
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(service *ledger.Service) *TransactionHandler {
	return &TransactionHandler{service: service}
}

// List handles GET /transactions
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var filter ledger.Filter
	filter.Category = r.URL.Query().Get("category")
	filter.Kind = models.TransactionKind(r.URL.Query().Get("kind"))
	filter.From, _ = strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	filter.To, _ = strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)

	items, err := h.service.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*models.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// Create handles POST /transactions
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Amount   decimal.Decimal `json:"amount"`
		Kind     string          `json:"kind"`
		Category string          `json:"category"`
		Note     string          `json:"note"`
		Occurred int64           `json:"occurred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	localID, err := h.service.Add(r.Context(), ledger.AddInput{
		Amount:   request.Amount,
		Kind:     models.TransactionKind(request.Kind),
		Category: request.Category,
		Note:     request.Note,
		Occurred: request.Occurred,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"local_id": localID,
	})
}

// Item handles GET/PATCH/DELETE /transactions/{localID}
func (h *TransactionHandler) Item(w http.ResponseWriter, r *http.Request) {
	localID := strings.TrimPrefix(r.URL.Path, "/transactions/")
	if localID == "" || strings.Contains(localID, "/") {
		http.Error(w, "Invalid transaction ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := h.service.Get(localID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case http.MethodPatch:
		var patch models.TransactionPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := h.service.Update(r.Context(), localID, patch); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"updated": true})

	case http.MethodDelete:
		if err := h.service.Delete(r.Context(), localID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps coded application errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := apperrors.ErrInternal

	if appErr, ok := err.(*apperrors.AppError); ok {
		code = appErr.Code
		switch appErr.Code {
		case apperrors.ErrNotFound:
			status = http.StatusNotFound
		case apperrors.ErrValidation, apperrors.ErrInvalid:
			status = http.StatusBadRequest
		case apperrors.ErrOffline:
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(code),
	})
}
