// Package receipts implements the read-receipt stream: small idempotent
// acknowledgement facts ordered by a strictly increasing stream position.
// It is the concrete instance of the generic ordered-update pattern: stale
// updates are a normal negative result, and the watermark supports both
// incremental polling and bounded pagination.
package receipts

import (
	"encoding/json"
	"fmt"
	"time"

	"roomgraph/pkg/ids"
	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
	"roomgraph/pkg/notify"
	"roomgraph/pkg/store"
)

// EDUType is the federation update type receipts travel under.
const EDUType = "m.receipt"

// StreamKey names the receipt stream towards the notifier.
const StreamKey = "receipt_key"

// EDUSender is the slice of the federation layer receipts need.
type EDUSender interface {
	SendEDU(destination, eduType string, content json.RawMessage)
}

// Handler accepts local and remote receipts: persist, notify local
// subscribers, and for locally-originated news push to remote servers.
type Handler struct {
	Notifier   notify.Notifier
	Federation EDUSender
	ServerName string
}

// ReceivedClientReceipt handles a receipt from a local client. Returns
// whether it was new; stale receipts are dropped without error.
func (h *Handler) ReceivedClientReceipt(roomID, receiptType, userID, eventID string) (bool, error) {
	data, _ := json.Marshal(map[string]int64{"ts": time.Now().UTC().UnixMilli()})
	r := &models.Receipt{
		RoomID:   roomID,
		Type:     receiptType,
		UserID:   userID,
		EventIDs: []string{eventID},
		Data:     data,
	}
	isNew, err := h.handleNewReceipts([]*models.Receipt{r})
	if err != nil {
		return false, err
	}
	if isNew {
		h.pushRemotes([]*models.Receipt{r})
	}
	return isNew, nil
}

// wireReceipts is the federation payload shape:
// room -> type -> user -> {event_ids, data}.
type wireEntry struct {
	EventIDs []string        `json:"event_ids"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type wireReceipts map[string]map[string]map[string]wireEntry

// HandleRemoteReceipt ingests a receipt EDU from another server. Remote
// receipts are persisted and notified locally but never pushed back out.
func (h *Handler) HandleRemoteReceipt(origin string, content json.RawMessage) error {
	var wire wireReceipts
	if err := json.Unmarshal(content, &wire); err != nil {
		return fmt.Errorf("malformed receipt edu from %s: %w", origin, err)
	}
	var batch []*models.Receipt
	for roomID, types := range wire {
		for receiptType, users := range types {
			for userID, entry := range users {
				batch = append(batch, &models.Receipt{
					RoomID:   roomID,
					Type:     receiptType,
					UserID:   userID,
					EventIDs: entry.EventIDs,
					Data:     entry.Data,
				})
			}
		}
	}
	logger.Debug("remote_receipts", "origin", origin, "count", len(batch))
	_, err := h.handleNewReceipts(batch)
	return err
}

// handleNewReceipts persists each receipt and advances the stream. Reports
// false as soon as one receipt is stale, mirroring the accept contract:
// not-new is a result, not an error.
func (h *Handler) handleNewReceipts(batch []*models.Receipt) (bool, error) {
	for _, r := range batch {
		pos, ok, err := store.InsertReceipt(r)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if h.Notifier != nil {
			h.Notifier.OnNewEvent(StreamKey, pos, []string{r.RoomID})
		}
	}
	return true, nil
}

// pushRemotes fans locally-new receipts out to the home servers of every
// joined member of the room. Malformed member entries are skipped.
func (h *Handler) pushRemotes(batch []*models.Receipt) {
	if h.Federation == nil {
		return
	}
	for _, r := range batch {
		state, err := store.CurrentState(r.RoomID)
		if err != nil {
			logger.Warn("receipt_push_state_failed", "room", r.RoomID, "error", err)
			continue
		}
		domains := make(map[string]struct{})
		for tuple, se := range state {
			if tuple.Type != models.TypeMember {
				continue
			}
			var c struct {
				Membership string `json:"membership"`
			}
			if len(se.Content) == 0 || json.Unmarshal(se.Content, &c) != nil || c.Membership != models.MembershipJoin {
				continue
			}
			user, err := ids.ParseUser(tuple.StateKey)
			if err != nil {
				logger.Warn("receipt_push_bad_member", "room", r.RoomID, "state_key", tuple.StateKey, "error", err)
				continue
			}
			if user.Domain != h.ServerName {
				domains[user.Domain] = struct{}{}
			}
		}
		if len(domains) == 0 {
			continue
		}
		content, err := json.Marshal(wireReceipts{
			r.RoomID: {r.Type: {r.UserID: wireEntry{EventIDs: r.EventIDs, Data: r.Data}}},
		})
		if err != nil {
			logger.Error("receipt_push_marshal_failed", "room", r.RoomID, "error", err)
			continue
		}
		logger.Debug("receipt_push", "room", r.RoomID, "domains", len(domains))
		for d := range domains {
			h.Federation.SendEDU(d, EDUType, content)
		}
	}
}

// EventSource serves the reading side of the stream.
type EventSource struct{}

// CurrentKey returns the stream watermark.
func (EventSource) CurrentKey() int64 { return store.MaxReceiptStream() }

// NewEventsForRooms returns receipts for the given rooms with position
// after from, up to the current watermark, plus that watermark for the
// caller's next poll.
func (s EventSource) NewEventsForRooms(rooms []string, from int64) ([]*models.Receipt, int64, error) {
	to := s.CurrentKey()
	recs, err := store.ReceiptsForRooms(rooms, from, to)
	if err != nil {
		return nil, 0, err
	}
	return recs, to, nil
}

// PaginationRows returns receipts for the rooms within (from, to]; a zero
// to means the current watermark.
func (EventSource) PaginationRows(rooms []string, from, to int64) ([]*models.Receipt, error) {
	return store.ReceiptsForRooms(rooms, from, to)
}
