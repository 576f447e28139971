package graph

import (
	"encoding/json"
	"testing"

	"roomgraph/pkg/models"
	"roomgraph/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func strptr(s string) *string { return &s }

func stateEvent(id, typ, stateKey string, depth int64) *models.Event {
	return &models.Event{
		EventID:  id,
		RoomID:   "!r:x",
		Type:     typ,
		Sender:   "@alice:x",
		StateKey: strptr(stateKey),
		Content:  json.RawMessage(`{}`),
		Depth:    depth,
	}
}

func TestMergeStatesHighestDepthWins(t *testing.T) {
	tuple := models.StateTuple{Type: "m.room.topic", StateKey: ""}
	shallow := stateEvent("$a:x", "m.room.topic", "", 3)
	deep := stateEvent("$b:x", "m.room.topic", "", 5)

	got := mergeStates([]models.StateMap{{tuple: shallow}, {tuple: deep}})
	if got[tuple].EventID != deep.EventID {
		t.Fatalf("deeper entry must win, got %s", got[tuple].EventID)
	}
}

func TestMergeStatesDepthTieBreaksOnEventID(t *testing.T) {
	tuple := models.StateTuple{Type: "m.room.topic", StateKey: ""}
	a := stateEvent("$aaa:x", "m.room.topic", "", 4)
	b := stateEvent("$bbb:x", "m.room.topic", "", 4)

	got := mergeStates([]models.StateMap{{tuple: a}, {tuple: b}})
	if got[tuple].EventID != a.EventID {
		t.Fatalf("tie must break to the smallest event id, got %s", got[tuple].EventID)
	}
}

func TestMergeStatesOrderIndependent(t *testing.T) {
	t1 := models.StateTuple{Type: "m.room.topic", StateKey: ""}
	t2 := models.StateTuple{Type: "m.room.member", StateKey: "@bob:x"}
	a := models.StateMap{t1: stateEvent("$a:x", "m.room.topic", "", 2)}
	b := models.StateMap{
		t1: stateEvent("$b:x", "m.room.topic", "", 4),
		t2: stateEvent("$c:x", "m.room.member", "@bob:x", 3),
	}

	ab := mergeStates([]models.StateMap{a, b})
	ba := mergeStates([]models.StateMap{b, a})
	if len(ab) != len(ba) {
		t.Fatalf("merge result size differs by order: %d vs %d", len(ab), len(ba))
	}
	for tuple, ev := range ab {
		if ba[tuple] == nil || ba[tuple].EventID != ev.EventID {
			t.Fatalf("merge not order independent at %v", tuple)
		}
	}
	if ab[t1].EventID != "$b:x" || ab[t2].EventID != "$c:x" {
		t.Fatalf("unexpected merge winners: %v", ab)
	}
}

func TestSortRefsDeterministic(t *testing.T) {
	refs := []models.EventRef{{EventID: "$c:x"}, {EventID: "$a:x"}, {EventID: "$b:x"}}
	sortRefs(refs)
	if refs[0].EventID != "$a:x" || refs[2].EventID != "$c:x" {
		t.Fatalf("refs not sorted: %+v", refs)
	}
}

func TestResolverCachesAndInvalidates(t *testing.T) {
	openTestStore(t)
	room := "!r:x"

	create := stateEvent("$c:x", "m.room.create", "", 1)
	create.RoomID = room
	ctx := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create}}
	if err := store.PersistEvent(create, ctx); err != nil {
		t.Fatalf("persist create: %v", err)
	}

	r := NewResolver()
	g1, sm, err := r.StateAfter(room, create.EventID)
	if err != nil {
		t.Fatalf("StateAfter: %v", err)
	}
	if g1 == 0 || len(sm) != 1 {
		t.Fatalf("unexpected derivation: group=%d entries=%d", g1, len(sm))
	}
	if r.CacheLen() != 1 {
		t.Fatalf("expected one cached derivation, got %d", r.CacheLen())
	}

	if n := r.InvalidateRoom(room); n != 1 {
		t.Fatalf("InvalidateRoom removed %d, want 1", n)
	}
	if r.CacheLen() != 0 {
		t.Fatalf("cache not emptied")
	}

	// Unknown event: group 0 and empty state, not an error.
	g, sm2, err := r.StateAfter(room, "$unknown:x")
	if err != nil {
		t.Fatalf("StateAfter unknown: %v", err)
	}
	if g != 0 || len(sm2) != 0 {
		t.Fatalf("unknown event should derive empty state, got group=%d entries=%d", g, len(sm2))
	}
}
