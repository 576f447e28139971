package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"roomgraph/pkg/auth"
	"roomgraph/pkg/graph"
	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
	"roomgraph/pkg/store"
	"roomgraph/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterRooms registers the room event and state routes.
func RegisterRooms(r *mux.Router) {
	r.HandleFunc("/rooms/{roomID}/events", sendEvent).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomID}/events", listEvents).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/state", getState).Methods(http.MethodGet)
}

// eventRequest is the submission body for POST /rooms/{roomID}/events.
type eventRequest struct {
	Type     string          `json:"type"`
	Sender   string          `json:"sender"`
	StateKey *string         `json:"state_key,omitempty"`
	Content  json.RawMessage `json:"content"`
}

// sendEvent handles POST /rooms/{roomID}/events: rate limit, position the
// proposal on the graph, sign, then persist-and-propagate. Failure modes
// map onto status codes: 429 when the sender is over its rate budget, 403
// when the rule engine rejects, 409 when the graph is inconsistent.
func sendEvent(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]

	var req eventRequest
	if err := utils.JSONRead(r, &req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Type == "" || req.Sender == "" {
		utils.JSONError(w, http.StatusBadRequest, "type and sender are required")
		return
	}

	if limiter != nil {
		if err := limiter.Ratelimit(req.Sender); err != nil {
			var rl *auth.RateLimitedError
			if errors.As(err, &rl) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())+1))
			}
			utils.JSONError(w, http.StatusTooManyRequests, err.Error())
			return
		}
	}

	b := &models.EventBuilder{
		RoomID:   roomID,
		Type:     req.Type,
		Sender:   req.Sender,
		StateKey: req.StateKey,
		Content:  req.Content,
	}
	ev, ctx, err := creator.CreateEvent(b)
	if err != nil {
		writeGraphError(w, err)
		return
	}
	if signer != nil {
		if err := signer.SignEvent(ev); err != nil {
			utils.JSONError(w, http.StatusInternalServerError, fmt.Sprintf("signing failed: %v", err))
			return
		}
	}
	if err := propagator.HandleNewEvent(ev, ctx, nil, nil); err != nil {
		writeGraphError(w, err)
		return
	}
	logger.Info("event_accepted", "room", roomID, "event", ev.EventID, "type", ev.Type)
	_ = utils.JSONWrite(w, http.StatusCreated, ev)
}

// writeGraphError maps pipeline errors onto HTTP statuses.
func writeGraphError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graph.ErrNotAllowed):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrOrphanStateReference):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, graph.ErrGraphInconsistency):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, graph.ErrStateDerivation):
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// listEvents handles GET /rooms/{roomID}/events. Optional "limit" query
// parameter bounds the result; newest events come last.
func listEvents(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]

	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			utils.JSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	evs, err := store.ListRoomEvents(roomID, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Events []*models.Event `json:"events"`
	}{Events: evs})
}

// getState handles GET /rooms/{roomID}/state: the resolved state at the
// room's current frontier, as a flat list of state events.
func getState(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]

	exists, err := store.RoomExists(roomID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		utils.JSONError(w, http.StatusNotFound, "room not found")
		return
	}

	state, err := store.CurrentState(roomID)
	if err != nil {
		writeGraphError(w, err)
		return
	}
	out := make([]*models.Event, 0, len(state))
	for _, ev := range state {
		out = append(out, ev)
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		State []*models.Event `json:"state"`
	}{State: out})
}
