package handlers

import (
	"net/http"

	"roomgraph/pkg/logger"
	"roomgraph/pkg/store"
	"roomgraph/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterAdmin registers operator-only routes onto the admin subrouter.
func RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/cache/invalidate", adminCacheInvalidate).Methods(http.MethodPost)
	r.HandleFunc("/stats", adminStats).Methods(http.MethodGet)
	logger.Info("admin_routes_registered")
}

func isAdmin(r *http.Request) bool {
	role := r.Header.Get("X-Role-Name")
	return role == "admin" || role == "operator"
}

type invalidateRequest struct {
	RoomID  string `json:"room_id"`
	EventID string `json:"event_id,omitempty"`
}

// adminCacheInvalidate drops cached state derivations. With only room_id
// the whole room prefix is popped; with event_id just that entry.
func adminCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req invalidateRequest
	if err := utils.JSONRead(r, &req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RoomID == "" {
		utils.JSONError(w, http.StatusBadRequest, "room_id is required")
		return
	}
	var removed int
	if req.EventID != "" {
		removed = resolver.InvalidateEvent(req.RoomID, req.EventID)
	} else {
		removed = resolver.InvalidateRoom(req.RoomID)
	}
	logger.Info("cache_invalidated", "room", req.RoomID, "event", req.EventID, "removed", removed)
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Removed int `json:"removed"`
	}{Removed: removed})
}

// adminStats reports room and receipt stream counters.
func adminStats(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		utils.JSONError(w, http.StatusForbidden, "forbidden")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ReceiptStream int64 `json:"receipt_stream"`
		CachedStates  int   `json:"cached_states"`
	}{
		ReceiptStream: store.MaxReceiptStream(),
		CachedStates:  resolver.CacheLen(),
	})
}
