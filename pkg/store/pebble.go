package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
	"roomgraph/pkg/telemetry"

	"github.com/cockroachdb/pebble"
)

var db *pebble.DB

// seq disambiguates log keys when events land on the same nanosecond.
var seq uint64

// ErrOrphanStateReference reports a state entry pointing at an event this
// store has never seen. Such state must not be silently persisted.
var ErrOrphanStateReference = errors.New("state entry references unknown event")

// Key layout. Everything lives in one Pebble keyspace under string
// namespaces, prefix-scannable like any other index:
//
//	room:<roomID>:meta                        room record (first event creates it)
//	room:<roomID>:event:<eventID>             event body
//	room:<roomID>:log:<nano>-<seq>            insertion-order index -> eventID
//	room:<roomID>:extrem:<eventID>            forward extremity record
//	stategroup:<id>:meta                      group record (id, room, anchor event)
//	stategroup:<id>:entry:<type>\x1f<stateKey> state entry -> eventID
//	eventgroup:<eventID>                      event -> state group link
//	receipt:<room>:<type>:<user>              latest receipt per subject
//	receiptstream:<pos>                       stream-ordered receipt index

func roomMetaKey(roomID string) []byte { return []byte("room:" + roomID + ":meta") }

func eventKey(roomID, eventID string) []byte {
	return []byte("room:" + roomID + ":event:" + eventID)
}

func extremKey(roomID, eventID string) []byte {
	return []byte("room:" + roomID + ":extrem:" + eventID)
}

// Open opens (or creates) a Pebble database at the given path, keeps a
// package handle and seeds the state-group and receipt-stream counters from
// what is already stored.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	if err := seedCounters(); err != nil {
		_ = db.Close()
		db = nil
		return fmt.Errorf("seed counters: %w", err)
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool { return db != nil }

// RoomExists reports whether a room record has been written, which happens
// with the room's first persisted event.
func RoomExists(roomID string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	_, closer, err := db.Get(roomMetaKey(roomID))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

// LatestEventsInRoom returns the room's forward extremities: the events with
// no known children, i.e. the frontier new events attach to.
func LatestEventsInRoom(roomID string) ([]models.Extremity, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("room:" + roomID + ":extrem:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Extremity
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var ex models.Extremity
		if err := json.Unmarshal(iter.Value(), &ex); err != nil {
			return nil, fmt.Errorf("invalid extremity record %s: %w", iter.Key(), err)
		}
		out = append(out, ex)
	}
	return out, iter.Error()
}

// GetEvent returns one stored event or pebble.ErrNotFound.
func GetEvent(roomID, eventID string) (*models.Event, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(eventKey(roomID, eventID))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	var ev models.Event
	if err := json.Unmarshal(v, &ev); err != nil {
		return nil, fmt.Errorf("invalid event record %s: %w", eventID, err)
	}
	return &ev, nil
}

// HasEvent reports whether the event is stored in the given room.
func HasEvent(roomID, eventID string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	_, closer, err := db.Get(eventKey(roomID, eventID))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

// ListRoomEvents returns up to limit events for a room in insertion order
// (the most recent events when limit truncates).
func ListRoomEvents(roomID string, limit int) ([]*models.Event, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("room:" + roomID + ":log:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var ids []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		ids = append(ids, string(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*models.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := GetEvent(roomID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// PersistEvent writes the event, its frontier update and its state group
// rows as one synced batch: a crash can never leave an event visible
// without its state resolvable. Re-persisting an already-stored event is a
// no-op. Returns ErrOrphanStateReference (wrapped) when the context's state
// names an event this store does not hold.
func PersistEvent(ev *models.Event, ctx *models.EventContext) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if ok, err := HasEvent(ev.RoomID, ev.EventID); err != nil {
		return err
	} else if ok {
		logger.Debug("persist_event_duplicate", "room", ev.RoomID, "event", ev.EventID)
		return nil
	}
	if err := checkStateReferences(ev, ctx); err != nil {
		return err
	}

	batch := db.NewBatch()
	defer batch.Close()

	// Room record on first event.
	if exists, err := RoomExists(ev.RoomID); err != nil {
		return err
	} else if !exists {
		meta, _ := json.Marshal(map[string]any{
			"room_id":    ev.RoomID,
			"creator":    ev.Sender,
			"created_ts": ev.OriginTS,
		})
		if err := batch.Set(roomMetaKey(ev.RoomID), meta, nil); err != nil {
			return err
		}
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
	}
	if err := batch.Set(eventKey(ev.RoomID, ev.EventID), body, nil); err != nil {
		return err
	}

	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	logKey := fmt.Sprintf("room:%s:log:%020d-%06d", ev.RoomID, ts, s)
	if err := batch.Set([]byte(logKey), []byte(ev.EventID), nil); err != nil {
		return err
	}

	// The parents gain a child; the new event becomes the frontier.
	for _, ref := range ev.PrevEvents {
		if err := batch.Delete(extremKey(ev.RoomID, ref.EventID), nil); err != nil {
			return err
		}
	}
	ex, _ := json.Marshal(models.Extremity{EventID: ev.EventID, Hash: ev.Hash, Depth: ev.Depth})
	if err := batch.Set(extremKey(ev.RoomID, ev.EventID), ex, nil); err != nil {
		return err
	}

	group, created, err := storeStateInBatch(batch, ev, ctx)
	if err != nil {
		return err
	}

	if err := db.Apply(batch, pebble.Sync); err != nil {
		logger.Error("persist_event_failed", "room", ev.RoomID, "event", ev.EventID, "error", err)
		return err
	}
	telemetry.EventsPersisted.Inc()
	if created {
		telemetry.StateGroupsCreated.Inc()
	}
	logger.Info("event_persisted", "room", ev.RoomID, "event", ev.EventID,
		"depth", ev.Depth, "state_group", group)
	return nil
}

// checkStateReferences enforces the orphan rule: every event id appearing in
// the context's resolved state must be stored already, or be the event being
// persisted right now.
func checkStateReferences(ev *models.Event, ctx *models.EventContext) error {
	if ctx == nil || ctx.CurrentState == nil {
		return nil
	}
	for tuple, se := range ctx.CurrentState {
		if se == nil {
			return fmt.Errorf("%w: nil entry for %v", ErrOrphanStateReference, tuple)
		}
		if se.EventID == ev.EventID {
			continue
		}
		ok, err := HasEvent(ev.RoomID, se.EventID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s for %v", ErrOrphanStateReference, se.EventID, tuple)
		}
	}
	return nil
}

// DBIter returns a raw Pebble iterator for low-level operations (admin
// tooling, compaction scans). Caller must close it.
func DBIter() (*pebble.Iterator, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.NewIter(&pebble.IterOptions{})
}

// DBSet writes a raw key into the DB. Low-level helper for admin utilities
// and tests.
func DBSet(key, value []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set(key, value, pebble.Sync)
}
