package graph

import (
	"fmt"
	"sort"

	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
	"roomgraph/pkg/store"
	"roomgraph/pkg/telemetry"
	"roomgraph/pkg/treecache"
)

// Resolver derives "the state as of event E" and caches the answers in a
// tree cache keyed (room, event), so a whole room's derivations can be
// dropped in one prefix pop. It is an owned service: construct one at
// startup and share it, no implicit global.
type Resolver struct {
	cache *treecache.TreeCache[resolved]
}

// resolved is one cached derivation. The state map is shared and must be
// treated as immutable; callers clone before applying a candidate.
type resolved struct {
	group int64
	state models.StateMap
}

func NewResolver() *Resolver {
	return &Resolver{cache: treecache.New[resolved]()}
}

// StateAfter returns the state group and materialized state implied as of
// the given event. An event with no recorded group (a room's stateless
// first event) yields group 0 and an empty map.
func (r *Resolver) StateAfter(roomID, eventID string) (int64, models.StateMap, error) {
	if v, ok := r.cache.Get([]string{roomID, eventID}); ok {
		telemetry.StateCacheHits.Inc()
		return v.group, v.state, nil
	}
	telemetry.StateCacheMisses.Inc()

	group, ok, err := store.StateGroupForEvent(eventID)
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, models.StateMap{}, nil
	}
	state, err := store.StateGroupMap(group)
	if err != nil {
		return 0, nil, err
	}
	r.cache.Set([]string{roomID, eventID}, resolved{group: group, state: state})
	return group, state, nil
}

// InvalidateRoom drops every cached derivation for the room in one call and
// returns how many entries were removed.
func (r *Resolver) InvalidateRoom(roomID string) int {
	n := len(r.cache.Pop([]string{roomID}))
	if n > 0 {
		logger.Debug("state_cache_invalidated", "room", roomID, "entries", n)
	}
	return n
}

// InvalidateEvent drops a single cached derivation.
func (r *Resolver) InvalidateEvent(roomID, eventID string) int {
	return len(r.cache.Pop([]string{roomID, eventID}))
}

// CacheLen reports how many derivations are currently cached.
func (r *Resolver) CacheLen() int { return r.cache.Len() }

// resolveParents derives the state implied by a parent set. One parent
// reuses its state and group directly; a fork is merged per key by
// mergeStates. Any two servers given the same parent set derive identical
// state.
func (r *Resolver) resolveParents(roomID string, parents []models.EventRef) (int64, models.StateMap, error) {
	switch len(parents) {
	case 0:
		return 0, models.StateMap{}, nil
	case 1:
		return r.StateAfter(roomID, parents[0].EventID)
	}
	states := make([]models.StateMap, 0, len(parents))
	for _, p := range parents {
		_, sm, err := r.StateAfter(roomID, p.EventID)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: parent %s: %v", ErrStateDerivation, p.EventID, err)
		}
		states = append(states, sm)
	}
	telemetry.ForkMerges.Inc()
	// Merged state never inherits a group; persistence materializes a new one.
	return 0, mergeStates(states), nil
}

// mergeStates is the fork-resolution step: a pure, order-independent merge
// of the parent branches' states. Per key the entry with the highest depth
// wins; ties break toward the lexicographically smallest event id. This
// total order is a protocol-level contract shared by all participating
// servers, not a local implementation detail.
func mergeStates(states []models.StateMap) models.StateMap {
	out := make(models.StateMap)
	for _, sm := range states {
		for tuple, ev := range sm {
			cur, ok := out[tuple]
			if !ok || wins(ev, cur) {
				out[tuple] = ev
			}
		}
	}
	return out
}

// wins reports whether a beats b under the merge order.
func wins(a, b *models.Event) bool {
	if a.Depth != b.Depth {
		return a.Depth > b.Depth
	}
	return a.EventID < b.EventID
}

// sortRefs orders parent references by event id so prev_events, and
// everything derived from their order, is deterministic.
func sortRefs(refs []models.EventRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].EventID < refs[j].EventID })
}
