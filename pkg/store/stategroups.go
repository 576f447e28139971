package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"

	"github.com/cockroachdb/pebble"
)

// State groups deduplicate the derived state of a room. Every event maps to
// exactly one group; a group is an immutable, fully materialized snapshot of
// the (type, state_key) -> event mapping as of its anchor event. Events that
// change nothing inherit their parent's group, so the link table is
// many-to-one. Groups are append-only: concurrent creations that compute the
// same snapshot may both materialize it, and reads reconcile by content.

// groupCounter allocates state group ids; seeded from the store at Open.
var groupCounter int64

// entrySep separates type from state_key inside an entry key. State keys
// are user ids with colons in them, so a plain ':' would be ambiguous.
const entrySep = "\x1f"

type groupMeta struct {
	ID      int64  `json:"id"`
	RoomID  string `json:"room_id"`
	EventID string `json:"event_id"` // anchor: the first event that required this group
}

func groupMetaKey(id int64) []byte {
	return []byte(fmt.Sprintf("stategroup:%020d:meta", id))
}

func groupEntryKey(id int64, tuple models.StateTuple) []byte {
	return []byte(fmt.Sprintf("stategroup:%020d:entry:%s%s%s", id, tuple.Type, entrySep, tuple.StateKey))
}

func eventGroupKey(eventID string) []byte { return []byte("eventgroup:" + eventID) }

// seedCounters initializes the group and receipt-stream counters from the
// highest ids already on disk.
func seedCounters() error {
	g, err := maxKeyedID("stategroup:")
	if err != nil {
		return err
	}
	atomic.StoreInt64(&groupCounter, g)
	r, err := maxKeyedID("receiptstream:")
	if err != nil {
		return err
	}
	atomic.StoreInt64(&streamCounter, r)
	return nil
}

// maxKeyedID finds the largest zero-padded numeric id following prefix by
// seeking to the end of the namespace.
func maxKeyedID(prefix string) (int64, error) {
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	ub := append([]byte(prefix), 0xff)
	if !iter.SeekLT(ub) {
		return 0, iter.Error()
	}
	k := string(iter.Key())
	if !strings.HasPrefix(k, prefix) {
		return 0, iter.Error()
	}
	rest := k[len(prefix):]
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		rest = rest[:i]
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed id in key %s: %w", k, err)
	}
	return id, nil
}

// storeStateInBatch adds the event's state rows to the persist batch. An
// inherited group only records the event->group link; otherwise a new group
// is allocated and the full resulting state is written out. Full
// materialization trades write-time duplication for never walking an
// ancestor chain at read time.
func storeStateInBatch(batch *pebble.Batch, ev *models.Event, ctx *models.EventContext) (int64, bool, error) {
	if ctx == nil || ctx.CurrentState == nil {
		// No state implications: only possible for a room's first event.
		return 0, false, nil
	}

	if ctx.StateGroup != 0 {
		if err := batch.Set(eventGroupKey(ev.EventID), []byte(strconv.FormatInt(ctx.StateGroup, 10)), nil); err != nil {
			return 0, false, err
		}
		return ctx.StateGroup, false, nil
	}

	gid := atomic.AddInt64(&groupCounter, 1)
	meta, _ := json.Marshal(groupMeta{ID: gid, RoomID: ev.RoomID, EventID: ev.EventID})
	if err := batch.Set(groupMetaKey(gid), meta, nil); err != nil {
		return 0, false, err
	}
	for tuple, se := range ctx.CurrentState {
		if err := batch.Set(groupEntryKey(gid, tuple), []byte(se.EventID), nil); err != nil {
			return 0, false, err
		}
	}
	if err := batch.Set(eventGroupKey(ev.EventID), []byte(strconv.FormatInt(gid, 10)), nil); err != nil {
		return 0, false, err
	}
	logger.Debug("state_group_created", "group", gid, "room", ev.RoomID,
		"anchor", ev.EventID, "entries", len(ctx.CurrentState))
	return gid, true, nil
}

// StateGroupForEvent returns the group linked to an event. The second return
// is false when no link is recorded, which callers tolerate.
func StateGroupForEvent(eventID string) (int64, bool, error) {
	if db == nil {
		return 0, false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(eventGroupKey(eventID))
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	id, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed group link for %s: %w", eventID, err)
	}
	return id, true, nil
}

// StateGroupMap returns the full materialized state of one group as a
// (type, state_key) -> event mapping.
func StateGroupMap(group int64) (models.StateMap, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(groupMetaKey(group))
	if err != nil {
		return nil, fmt.Errorf("state group %d: %w", group, err)
	}
	var meta groupMeta
	uerr := json.Unmarshal(v, &meta)
	_ = closer.Close()
	if uerr != nil {
		return nil, fmt.Errorf("malformed state group %d: %w", group, uerr)
	}

	prefix := []byte(fmt.Sprintf("stategroup:%020d:entry:", group))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make(models.StateMap)
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		suffix := string(iter.Key()[len(prefix):])
		i := strings.Index(suffix, entrySep)
		if i < 0 {
			return nil, fmt.Errorf("malformed state entry key %s", iter.Key())
		}
		tuple := models.StateTuple{Type: suffix[:i], StateKey: suffix[i+len(entrySep):]}
		ev, err := GetEvent(meta.RoomID, string(iter.Value()))
		if err != nil {
			return nil, fmt.Errorf("state group %d entry %v: %w", group, tuple, err)
		}
		out[tuple] = ev
	}
	return out, iter.Error()
}

// GetStateGroups maps the given events' distinct state groups to their full
// materialized state-event sets. Events with no recorded group are skipped.
// Cost is O(distinct groups), not O(events).
func GetStateGroups(eventIDs []string) (map[int64][]*models.Event, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	groups := make(map[int64]struct{})
	for _, id := range eventIDs {
		g, ok, err := StateGroupForEvent(id)
		if err != nil {
			return nil, err
		}
		if ok {
			groups[g] = struct{}{}
		}
	}
	out := make(map[int64][]*models.Event, len(groups))
	for g := range groups {
		sm, err := StateGroupMap(g)
		if err != nil {
			return nil, err
		}
		evs := make([]*models.Event, 0, len(sm))
		for _, ev := range sm {
			evs = append(evs, ev)
		}
		out[g] = evs
	}
	return out, nil
}

// CurrentState returns the room's state as of its deepest forward extremity
// (ties broken by smallest event id, mirroring the fork merge rule). An
// empty room or an extremity without state yields an empty map.
func CurrentState(roomID string) (models.StateMap, error) {
	exts, err := LatestEventsInRoom(roomID)
	if err != nil {
		return nil, err
	}
	if len(exts) == 0 {
		return models.StateMap{}, nil
	}
	best := exts[0]
	for _, ex := range exts[1:] {
		if ex.Depth > best.Depth || (ex.Depth == best.Depth && ex.EventID < best.EventID) {
			best = ex
		}
	}
	g, ok, err := StateGroupForEvent(best.EventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return models.StateMap{}, nil
	}
	return StateGroupMap(g)
}
