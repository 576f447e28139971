package store

import (
	"testing"

	"roomgraph/pkg/models"
)

func TestStateGroupMaterializeAndInherit(t *testing.T) {
	openTestStore(t)
	room := "!r1:example.org"

	create := makeStateEvent(room, "$c:x", "m.room.create", "", 1)
	ctx1 := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create}}
	if err := PersistEvent(create, ctx1); err != nil {
		t.Fatalf("persist create: %v", err)
	}

	g1, ok, err := StateGroupForEvent(create.EventID)
	if err != nil || !ok {
		t.Fatalf("StateGroupForEvent create = %v, %v", ok, err)
	}
	if g1 == 0 {
		t.Fatalf("expected materialized group, got 0")
	}

	// A message event inherits the create event's group via the link table.
	msg := makeEvent(room, "$m:x", 2, create.Ref())
	ctx2 := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create}, StateGroup: g1}
	if err := PersistEvent(msg, ctx2); err != nil {
		t.Fatalf("persist msg: %v", err)
	}
	g2, ok, err := StateGroupForEvent(msg.EventID)
	if err != nil || !ok {
		t.Fatalf("StateGroupForEvent msg = %v, %v", ok, err)
	}
	if g2 != g1 {
		t.Fatalf("message should inherit group %d, got %d", g1, g2)
	}

	// A state change materializes a fresh group with the full snapshot.
	join := makeStateEvent(room, "$j:x", "m.room.member", "@alice:example.org", 3, msg.Ref())
	ctx3 := &models.EventContext{
		PrevState:    models.StateMap{create.StateTuple(): create},
		CurrentState: models.StateMap{create.StateTuple(): create, join.StateTuple(): join},
	}
	if err := PersistEvent(join, ctx3); err != nil {
		t.Fatalf("persist join: %v", err)
	}
	g3, ok, err := StateGroupForEvent(join.EventID)
	if err != nil || !ok {
		t.Fatalf("StateGroupForEvent join = %v, %v", ok, err)
	}
	if g3 == g1 {
		t.Fatalf("state change must not inherit the old group")
	}

	sm, err := StateGroupMap(g3)
	if err != nil {
		t.Fatalf("StateGroupMap: %v", err)
	}
	if len(sm) != 2 {
		t.Fatalf("expected fully materialized snapshot with 2 entries, got %d", len(sm))
	}
	if sm[join.StateTuple()].EventID != join.EventID {
		t.Fatalf("snapshot missing the join event")
	}
	if sm[create.StateTuple()].EventID != create.EventID {
		t.Fatalf("snapshot must carry forward the create entry")
	}
}

func TestStateGroupForEventMissingLink(t *testing.T) {
	openTestStore(t)
	_, ok, err := StateGroupForEvent("$unknown:x")
	if err != nil {
		t.Fatalf("StateGroupForEvent: %v", err)
	}
	if ok {
		t.Fatalf("unknown event should have no group link")
	}
}

func TestGetStateGroupsDeduplicates(t *testing.T) {
	openTestStore(t)
	room := "!r1:example.org"

	create := makeStateEvent(room, "$c:x", "m.room.create", "", 1)
	ctx1 := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create}}
	if err := PersistEvent(create, ctx1); err != nil {
		t.Fatalf("persist create: %v", err)
	}
	g1, _, _ := StateGroupForEvent(create.EventID)

	msg := makeEvent(room, "$m:x", 2, create.Ref())
	ctx2 := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create}, StateGroup: g1}
	if err := PersistEvent(msg, ctx2); err != nil {
		t.Fatalf("persist msg: %v", err)
	}

	groups, err := GetStateGroups([]string{create.EventID, msg.EventID, "$missing:x"})
	if err != nil {
		t.Fatalf("GetStateGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("both events share one group; got %d groups", len(groups))
	}
	if evs := groups[g1]; len(evs) != 1 || evs[0].EventID != create.EventID {
		t.Fatalf("unexpected group contents: %+v", evs)
	}
}

func TestCurrentStatePicksDeepestExtremity(t *testing.T) {
	openTestStore(t)
	room := "!r1:example.org"

	create := makeStateEvent(room, "$c:x", "m.room.create", "", 1)
	ctx1 := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create}}
	if err := PersistEvent(create, ctx1); err != nil {
		t.Fatalf("persist create: %v", err)
	}
	g1, _, _ := StateGroupForEvent(create.EventID)

	// Fork: shallow branch keeps the create state, deep branch adds a member.
	shallow := makeEvent(room, "$s:x", 2, create.Ref())
	ctxS := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create}, StateGroup: g1}
	if err := PersistEvent(shallow, ctxS); err != nil {
		t.Fatalf("persist shallow: %v", err)
	}

	join := makeStateEvent(room, "$j:x", "m.room.member", "@alice:example.org", 2, create.Ref())
	ctxJ := &models.EventContext{
		PrevState:    models.StateMap{create.StateTuple(): create},
		CurrentState: models.StateMap{create.StateTuple(): create, join.StateTuple(): join},
	}
	if err := PersistEvent(join, ctxJ); err != nil {
		t.Fatalf("persist join: %v", err)
	}
	gJ, _, _ := StateGroupForEvent(join.EventID)

	deep := makeEvent(room, "$d:x", 3, join.Ref())
	ctxD := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create, join.StateTuple(): join}, StateGroup: gJ}
	if err := PersistEvent(deep, ctxD); err != nil {
		t.Fatalf("persist deep: %v", err)
	}

	sm, err := CurrentState(room)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if len(sm) != 2 {
		t.Fatalf("current state should follow the deeper branch, got %d entries", len(sm))
	}
}

func TestDedupStateGroupsRewritesLinks(t *testing.T) {
	openTestStore(t)
	room := "!r1:example.org"

	create := makeStateEvent(room, "$c:x", "m.room.create", "", 1)
	ctx1 := &models.EventContext{CurrentState: models.StateMap{create.StateTuple(): create}}
	if err := PersistEvent(create, ctx1); err != nil {
		t.Fatalf("persist create: %v", err)
	}

	// Two concurrent branches materializing the same snapshot content.
	state := models.StateMap{create.StateTuple(): create}
	a := makeEvent(room, "$a:x", 2, create.Ref())
	if err := PersistEvent(a, &models.EventContext{CurrentState: state}); err != nil {
		t.Fatalf("persist a: %v", err)
	}
	b := makeEvent(room, "$b:x", 2, create.Ref())
	if err := PersistEvent(b, &models.EventContext{CurrentState: state}); err != nil {
		t.Fatalf("persist b: %v", err)
	}

	gA, _, _ := StateGroupForEvent(a.EventID)
	gB, _, _ := StateGroupForEvent(b.EventID)
	gC, _, _ := StateGroupForEvent(create.EventID)
	if gA == gB {
		t.Fatalf("test setup expects distinct duplicate groups")
	}

	rewritten, rooms, err := DedupStateGroups()
	if err != nil {
		t.Fatalf("DedupStateGroups: %v", err)
	}
	if rewritten == 0 || len(rooms) != 1 || rooms[0] != room {
		t.Fatalf("dedup reported rewritten=%d rooms=%v", rewritten, rooms)
	}

	// All three events now resolve to the canonical (lowest) group id.
	want := gC
	if gA < want {
		want = gA
	}
	if gB < want {
		want = gB
	}
	for _, id := range []string{create.EventID, a.EventID, b.EventID} {
		g, ok, err := StateGroupForEvent(id)
		if err != nil || !ok {
			t.Fatalf("StateGroupForEvent %s = %v, %v", id, ok, err)
		}
		if g != want {
			t.Fatalf("event %s links to %d, want canonical %d", id, g, want)
		}
	}
	// Snapshots stay readable after the rewrite; groups are never deleted.
	if _, err := StateGroupMap(gA); err != nil {
		t.Fatalf("duplicate group content must survive: %v", err)
	}
}
