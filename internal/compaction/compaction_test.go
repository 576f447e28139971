package compaction

import (
	"encoding/json"
	"testing"

	"roomgraph/pkg/graph"
	"roomgraph/pkg/models"
	"roomgraph/pkg/store"
)

func strptr(s string) *string { return &s }

func TestRunOnceDropsCachedDerivationsForAffectedRooms(t *testing.T) {
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	room := "!r:example.org"

	create := &models.Event{
		EventID: "$c:x", RoomID: room, Type: models.TypeCreate, Sender: "@alice:x",
		StateKey: strptr(""), Content: json.RawMessage(`{}`), Depth: 1,
	}
	state := models.StateMap{create.StateTuple(): create}
	if err := store.PersistEvent(create, &models.EventContext{CurrentState: state}); err != nil {
		t.Fatalf("persist create: %v", err)
	}
	// Duplicate snapshot under a second group id.
	dup := &models.Event{
		EventID: "$d:x", RoomID: room, Type: "m.room.message", Sender: "@alice:x",
		PrevEvents: []models.EventRef{create.Ref()}, Depth: 2,
	}
	if err := store.PersistEvent(dup, &models.EventContext{CurrentState: state.Clone()}); err != nil {
		t.Fatalf("persist dup: %v", err)
	}

	resolver := graph.NewResolver()
	if _, _, err := resolver.StateAfter(room, create.EventID); err != nil {
		t.Fatalf("StateAfter: %v", err)
	}
	if resolver.CacheLen() == 0 {
		t.Fatalf("expected a cached derivation before compaction")
	}

	if err := RunOnce(resolver); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if resolver.CacheLen() != 0 {
		t.Fatalf("compaction must invalidate affected rooms, cache has %d", resolver.CacheLen())
	}

	// Both events now share one canonical group.
	g1, _, _ := store.StateGroupForEvent(create.EventID)
	g2, _, _ := store.StateGroupForEvent(dup.EventID)
	if g1 != g2 {
		t.Fatalf("groups not reconciled: %d vs %d", g1, g2)
	}
}
