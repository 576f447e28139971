package graph

import (
	"fmt"
	"time"

	"roomgraph/pkg/ids"
	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
	"roomgraph/pkg/store"
)

// Authorizer is the external rule engine deciding whether events are
// permitted. This core only calls it; the rule set lives elsewhere.
type Authorizer interface {
	// AddAuthEvents populates builder.AuthEvents from the resolved state.
	AddAuthEvents(b *models.EventBuilder, ctx *models.EventContext) error
	// Check fails with ErrNotAllowed (wrapped) if the event is not permitted.
	Check(ev *models.Event, authEvents []string) error
}

// Signer is the external hashing/signing collaborator. The pipeline returns
// unsigned events; callers sign before persistence.
type Signer interface {
	SignEvent(ev *models.Event) error
}

// Creator is the event-creation pipeline: it anchors a proposal on the
// room's current frontier, computes its positional metadata, derives its
// state context and returns the unsigned event plus that context. It reads
// storage but never writes; persistence happens at propagation time.
//
// Concurrent creations for one room may both read the same frontier and
// both anchor to it. That is legal: it forks the graph, and the next
// event's multi-parent resolution merges the fork.
type Creator struct {
	Resolver   *Resolver
	Auth       Authorizer
	ServerName string
}

// CreateEvent positions the builder on the DAG and derives its context.
// Fails with ErrGraphInconsistency when a room that must already exist has
// no determinable frontier, and ErrStateDerivation when the parent states
// cannot be resolved into a consistent mapping.
func (c *Creator) CreateEvent(b *models.EventBuilder) (*models.Event, *models.EventContext, error) {
	if b.RoomID == "" {
		return nil, nil, fmt.Errorf("%w: builder has no room id", ErrGraphInconsistency)
	}
	if b.EventID == "" {
		b.EventID = ids.NewEventID(c.ServerName)
	}
	if b.OriginTS == 0 {
		b.OriginTS = time.Now().UTC().UnixMilli()
	}

	exts, err := store.LatestEventsInRoom(b.RoomID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading frontier for %s: %v", ErrGraphInconsistency, b.RoomID, err)
	}
	if len(exts) == 0 {
		exists, err := store.RoomExists(b.RoomID)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrGraphInconsistency, err)
		}
		if exists {
			// A known room with no frontier is a broken graph, not a new room.
			return nil, nil, fmt.Errorf("%w: room %s has no forward extremities", ErrGraphInconsistency, b.RoomID)
		}
	}

	b.PrevEvents = b.PrevEvents[:0]
	b.Depth = 1
	for _, ex := range exts {
		b.PrevEvents = append(b.PrevEvents, models.EventRef{EventID: ex.EventID, Hash: ex.Hash})
		if ex.Depth+1 > b.Depth {
			b.Depth = ex.Depth + 1
		}
	}
	sortRefs(b.PrevEvents)

	group, resolved, err := c.Resolver.resolveParents(b.RoomID, b.PrevEvents)
	if err != nil {
		return nil, nil, err
	}

	ctx := &models.EventContext{StateGroup: group}
	if b.IsState() {
		// The candidate changes state: snapshot the prior mapping and
		// force a fresh group at persist time.
		ctx.PrevState = resolved.Clone()
		ctx.CurrentState = resolved.Clone()
		ctx.StateGroup = 0
	} else if len(b.PrevEvents) == 0 {
		// A stateless first event has no predecessor state at all.
		ctx.CurrentState = nil
	} else {
		ctx.CurrentState = resolved
	}

	if c.Auth != nil {
		if err := c.Auth.AddAuthEvents(b, ctx); err != nil {
			return nil, nil, err
		}
	}
	ctx.AuthEvents = append([]string(nil), b.AuthEvents...)

	ev := b.Build()
	if ev.IsState() {
		ctx.CurrentState[ev.StateTuple()] = ev
	}

	logger.Debug("event_positioned", "room", ev.RoomID, "event", ev.EventID,
		"depth", ev.Depth, "parents", len(ev.PrevEvents), "state_group", ctx.StateGroup)
	return ev, ctx, nil
}
