// Package auth carries the authorization collaborator used by the event
// pipeline. The real federated rule engine is external to this core; the
// default implementation here applies only the structural checks needed to
// run standalone.
package auth

import (
	"fmt"

	"roomgraph/pkg/graph"
	"roomgraph/pkg/models"
)

// DefaultAuthorizer fills auth_events from the resolved state and applies
// structural admission checks. It satisfies graph.Authorizer.
type DefaultAuthorizer struct{}

// AddAuthEvents references the state events that justify admitting the
// builder: the room's create event and the sender's membership entry, when
// present in the resolved state.
func (DefaultAuthorizer) AddAuthEvents(b *models.EventBuilder, ctx *models.EventContext) error {
	b.AuthEvents = b.AuthEvents[:0]
	if ctx.CurrentState == nil {
		return nil
	}
	if create, ok := ctx.CurrentState[models.StateTuple{Type: models.TypeCreate, StateKey: ""}]; ok && create.EventID != b.EventID {
		b.AuthEvents = append(b.AuthEvents, create.EventID)
	}
	if member, ok := ctx.CurrentState[models.StateTuple{Type: models.TypeMember, StateKey: b.Sender}]; ok && member.EventID != b.EventID {
		b.AuthEvents = append(b.AuthEvents, member.EventID)
	}
	return nil
}

// Check applies the structural rules: an event needs a room and a sender,
// and a membership event must name its subject in state_key. Rule-set
// decisions (power levels, join rules) belong to the external engine.
func (DefaultAuthorizer) Check(ev *models.Event, authEvents []string) error {
	if ev.RoomID == "" || ev.Sender == "" {
		return fmt.Errorf("%w: event %s missing room or sender", graph.ErrNotAllowed, ev.EventID)
	}
	if ev.Type == models.TypeMember && (ev.StateKey == nil || *ev.StateKey == "") {
		return fmt.Errorf("%w: membership event %s without subject", graph.ErrNotAllowed, ev.EventID)
	}
	if ev.Type == models.TypeCreate && len(ev.PrevEvents) > 0 && len(authEvents) == 0 {
		return fmt.Errorf("%w: late create event %s", graph.ErrNotAllowed, ev.EventID)
	}
	return nil
}
