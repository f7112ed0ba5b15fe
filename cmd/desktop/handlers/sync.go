package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/linchiayu/moneta/internal/ledger"
	"github.com/linchiayu/moneta/internal/netmon"
)

// SyncHandler exposes sync status and the explicit sync/refresh actions.
type SyncHandler struct {
	service *ledger.Service
	monitor *netmon.Monitor
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(service *ledger.Service, monitor *netmon.Monitor) *SyncHandler {
	return &SyncHandler{service: service, monitor: monitor}
}

// Status handles GET /sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.service.SyncStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_syncing":    status.IsSyncing,
		"pending_count": status.PendingCount,
		"last_sync_at":  status.LastSyncAt,
		"last_error":    status.LastError,
		"online":        h.monitor.IsOnline(),
	})
}

// Force handles POST /sync/force: awaits one full drain pass.
func (h *SyncHandler) Force(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.service.ForceSync(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"synced": true})
}

// Refresh handles POST /sync/refresh: awaits a full reconciliation pull.
func (h *SyncHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.service.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"refreshed": true})
}

// Network handles POST /network: the host shell reports platform
// connectivity transitions here (navigator.onLine on the web view side).
func (h *SyncHandler) Network(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.monitor.SetOnline(request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": request.Online})
}
