package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/core/contracts"
	"chatrelay/internal/core/domain"
	"chatrelay/pkg/logging"
)

const maxStatusIDs = 100

type statusResolver interface {
	Statuses(ctx context.Context, hub contracts.Registry, ids []string) []domain.UserStatus
}

type StatusHandler struct {
	hub      contracts.Registry
	presence statusResolver
}

func NewStatusHandler(hub contracts.Registry, presence statusResolver) *StatusHandler {
	return &StatusHandler{hub: hub, presence: presence}
}

// UserStatuses serves GET /users/status?ids=a,b,c.
func (h *StatusHandler) UserStatuses(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	if len(ids) > maxStatusIDs {
		writeError(w, http.StatusBadRequest, "too many ids")
		return
	}
	statuses := h.presence.Statuses(r.Context(), h.hub, ids)
	log.DebugContext(r.Context(), "status handler - user statuses - resolved", "count", len(statuses))
	writeJSON(w, http.StatusOK, statuses)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

type onlineLister interface {
	Online() []string
}

type HealthHandler struct {
	db  pinger
	hub onlineLister
}

func NewHealthHandler(db pinger, hub onlineLister) *HealthHandler {
	return &HealthHandler{db: db, hub: hub}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "online": len(h.hub.Online())}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			logging.FromContext(r.Context()).WarnContext(r.Context(), "health handler - ping - database unreachable", logging.Err(err))
			body["status"] = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func splitIDs(raw string) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
