package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
	"roomgraph/pkg/telemetry"

	"github.com/cockroachdb/pebble"
)

// streamCounter assigns receipt stream positions; seeded at Open.
var streamCounter int64

func receiptKey(roomID, receiptType, userID string) []byte {
	return []byte("receipt:" + roomID + ":" + receiptType + ":" + userID)
}

func streamKey(pos int64) []byte {
	return []byte(fmt.Sprintf("receiptstream:%020d", pos))
}

// InsertReceipt accepts an ordered update unless it is dominated by what is
// already stored for the same (room, type, user): a receipt whose event ids
// are all known already is stale. Accepted receipts get the next stream
// position; stale ones return ok=false and change nothing.
func InsertReceipt(r *models.Receipt) (int64, bool, error) {
	if db == nil {
		return 0, false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	key := receiptKey(r.RoomID, r.Type, r.UserID)

	v, closer, err := db.Get(key)
	if err != nil && err != pebble.ErrNotFound {
		return 0, false, err
	}
	if err == nil {
		var prev models.Receipt
		uerr := json.Unmarshal(v, &prev)
		_ = closer.Close()
		if uerr != nil {
			return 0, false, fmt.Errorf("malformed receipt record %s: %w", key, uerr)
		}
		if dominates(&prev, r) {
			telemetry.ReceiptsStale.Inc()
			logger.Debug("receipt_stale", "room", r.RoomID, "type", r.Type, "user", r.UserID)
			return prev.StreamPos, false, nil
		}
	}

	pos := atomic.AddInt64(&streamCounter, 1)
	stored := *r
	stored.StreamPos = pos
	body, err := json.Marshal(&stored)
	if err != nil {
		return 0, false, err
	}
	batch := db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, body, nil); err != nil {
		return 0, false, err
	}
	if err := batch.Set(streamKey(pos), body, nil); err != nil {
		return 0, false, err
	}
	if err := db.Apply(batch, pebble.Sync); err != nil {
		return 0, false, err
	}
	r.StreamPos = pos
	telemetry.ReceiptsAccepted.Inc()
	logger.Debug("receipt_accepted", "room", r.RoomID, "type", r.Type, "user", r.UserID, "pos", pos)
	return pos, true, nil
}

// dominates reports whether prev already covers next: every event id the
// new receipt references is already recorded.
func dominates(prev, next *models.Receipt) bool {
	if len(next.EventIDs) == 0 {
		return true
	}
	known := make(map[string]struct{}, len(prev.EventIDs))
	for _, id := range prev.EventIDs {
		known[id] = struct{}{}
	}
	for _, id := range next.EventIDs {
		if _, ok := known[id]; !ok {
			return false
		}
	}
	return true
}

// MaxReceiptStream returns the stream watermark: the highest position
// assigned so far.
func MaxReceiptStream() int64 { return atomic.LoadInt64(&streamCounter) }

// ReceiptsForRooms returns accepted receipts for any room in the set with
// stream position in (from, to]. A zero to means the current watermark.
func ReceiptsForRooms(rooms []string, from, to int64) ([]*models.Receipt, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if to == 0 {
		to = MaxReceiptStream()
	}
	want := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		want[r] = struct{}{}
	}

	prefix := []byte("receiptstream:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []*models.Receipt
	for iter.SeekGE(streamKey(from + 1)); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var r models.Receipt
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("malformed stream record %s: %w", iter.Key(), err)
		}
		if r.StreamPos > to {
			break
		}
		if _, ok := want[r.RoomID]; ok {
			out = append(out, &r)
		}
	}
	return out, iter.Error()
}
