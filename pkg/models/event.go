package models

import "encoding/json"

// Well-known event types and membership values shared across servers.
const (
	TypeMember = "m.room.member"
	TypeCreate = "m.room.create"

	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
)

// StateTuple identifies one piece of room state: a (type, state_key) pair.
type StateTuple struct {
	Type     string `json:"type"`
	StateKey string `json:"state_key"`
}

// EventRef is a graph parent reference: the parent's id plus the content
// hash recorded for it when it was persisted.
type EventRef struct {
	EventID string `json:"event_id"`
	Hash    string `json:"hash,omitempty"`
}

// Event is an immutable room-graph event. It is constructed by the creation
// pipeline, frozen before persistence and never mutated after acceptance.
type Event struct {
	EventID  string `json:"event_id"`
	RoomID   string `json:"room_id"`
	Type     string `json:"type"`
	Sender   string `json:"sender"`
	// StateKey is non-nil for state events; empty string is a valid key.
	StateKey *string         `json:"state_key,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`

	// PrevEvents are the graph parents this event was anchored to.
	PrevEvents []EventRef `json:"prev_events"`
	// Depth is 1 + max parent depth, or 1 for a room's first event.
	Depth int64 `json:"depth"`
	// AuthEvents reference the state events justifying admission.
	AuthEvents []string `json:"auth_events,omitempty"`

	// Hash is the content hash other events use when referencing this one.
	// Signatures maps server name to key id to signature. Both are filled
	// by the signing collaborator, not by this core.
	Hash       string                       `json:"hash,omitempty"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`

	OriginTS int64 `json:"origin_ts"`
}

// IsState reports whether the event carries a state_key.
func (e *Event) IsState() bool { return e.StateKey != nil }

// Ref returns the (id, hash) pair used when another event lists this one as
// a parent.
func (e *Event) Ref() EventRef { return EventRef{EventID: e.EventID, Hash: e.Hash} }

// StateTuple returns the state entry this event implements. Only meaningful
// when IsState is true.
func (e *Event) StateTuple() StateTuple {
	sk := ""
	if e.StateKey != nil {
		sk = *e.StateKey
	}
	return StateTuple{Type: e.Type, StateKey: sk}
}

// EventBuilder is the mutable proposal handed to the creation pipeline. The
// pipeline fills PrevEvents, Depth and AuthEvents; Build freezes the result.
type EventBuilder struct {
	EventID  string
	RoomID   string
	Type     string
	Sender   string
	StateKey *string
	Content  json.RawMessage

	PrevEvents []EventRef
	Depth      int64
	AuthEvents []string
	OriginTS   int64
}

// IsState reports whether the proposal declares a state_key.
func (b *EventBuilder) IsState() bool { return b.StateKey != nil }

// Build freezes the builder into an Event. The result is unsigned; hashing
// and signing happen in the caller before persistence.
func (b *EventBuilder) Build() *Event {
	ev := &Event{
		EventID:  b.EventID,
		RoomID:   b.RoomID,
		Type:     b.Type,
		Sender:   b.Sender,
		Content:  b.Content,
		Depth:    b.Depth,
		OriginTS: b.OriginTS,
	}
	if b.StateKey != nil {
		sk := *b.StateKey
		ev.StateKey = &sk
	}
	ev.PrevEvents = append([]EventRef(nil), b.PrevEvents...)
	ev.AuthEvents = append([]string(nil), b.AuthEvents...)
	return ev
}

// StateMap is the derived room state: one event per (type, state_key).
type StateMap map[StateTuple]*Event

// Clone returns a shallow copy (events themselves are immutable).
func (m StateMap) Clone() StateMap {
	out := make(StateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EventContext is the transient companion of one creation attempt: the
// resolved state around the candidate plus the state group it lands in.
// It is owned by the invocation that created it and discarded after persist.
type EventContext struct {
	// CurrentState is the state after the candidate (for state events the
	// candidate's own entry is already applied). Nil only for a room's
	// very first event, which has no predecessor state.
	CurrentState StateMap
	// PrevState is the resolved state before the candidate was applied.
	// Populated only when the candidate is itself a state event.
	PrevState StateMap
	// StateGroup is the inherited group id, or 0 when persistence must
	// materialize a new group.
	StateGroup int64
	// AuthEvents as resolved by the authorization collaborator.
	AuthEvents []string
}

// Extremity is a forward-extremity record: an event with no known children.
type Extremity struct {
	EventID string `json:"event_id"`
	Hash    string `json:"hash,omitempty"`
	Depth   int64  `json:"depth"`
}
