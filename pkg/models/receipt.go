package models

import "encoding/json"

// Receipt is one ordered-update record: an acknowledgement by Subject of a
// set of events in a room. StreamPos is assigned at accept time and is
// strictly increasing per store.
type Receipt struct {
	RoomID   string          `json:"room_id"`
	Type     string          `json:"type"` // e.g. "m.read"
	UserID   string          `json:"user_id"`
	EventIDs []string        `json:"event_ids"`
	Data     json.RawMessage `json:"data,omitempty"`

	StreamPos int64 `json:"stream_pos,omitempty"`
}
