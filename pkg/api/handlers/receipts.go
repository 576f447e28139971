package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"roomgraph/pkg/models"
	"roomgraph/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterReceipts registers the receipt submission and stream routes.
func RegisterReceipts(r *mux.Router) {
	r.HandleFunc("/rooms/{roomID}/receipts", postReceipt).Methods(http.MethodPost)
	r.HandleFunc("/receipts", readReceipts).Methods(http.MethodGet)
}

type receiptRequest struct {
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
	EventID string `json:"event_id"`
}

// postReceipt handles POST /rooms/{roomID}/receipts. A stale receipt is not
// an error: the response reports accepted=false and the 200 stands.
func postReceipt(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]

	var req receiptRequest
	if err := utils.JSONRead(r, &req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.EventID == "" {
		utils.JSONError(w, http.StatusBadRequest, "user_id and event_id are required")
		return
	}
	if req.Type == "" {
		req.Type = "m.read"
	}

	accepted, err := rcptHandler.ReceivedClientReceipt(roomID, req.Type, req.UserID, req.EventID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Accepted bool `json:"accepted"`
	}{Accepted: accepted})
}

// readReceipts handles GET /receipts. Query parameters: "rooms" is a
// comma-separated room list, "from" the caller's last seen position, and
// an optional "to" bound for pagination. The response carries the stream
// watermark for the next poll.
func readReceipts(w http.ResponseWriter, r *http.Request) {
	roomsQ := r.URL.Query().Get("rooms")
	if roomsQ == "" {
		utils.JSONError(w, http.StatusBadRequest, "rooms query parameter is required")
		return
	}
	rooms := strings.Split(roomsQ, ",")

	from, err := parseStreamPos(r.URL.Query().Get("from"))
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "from must be a non-negative integer")
		return
	}

	var recs []*models.Receipt
	var next int64
	if toQ := r.URL.Query().Get("to"); toQ != "" {
		to, err := parseStreamPos(toQ)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "to must be a non-negative integer")
			return
		}
		recs, err = rcptSource.PaginationRows(rooms, from, to)
		if err != nil {
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		next = to
	} else {
		recs, next, err = rcptSource.NewEventsForRooms(rooms, from)
		if err != nil {
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Receipts []*models.Receipt `json:"receipts"`
		Next     int64             `json:"next"`
	}{Receipts: recs, Next: next})
}

func parseStreamPos(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
