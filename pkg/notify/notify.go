// Package notify defines the local-subscriber fan-out contract. The real
// subscriber machinery (sync streams, push) lives outside this core; both
// callbacks must be non-blocking.
package notify

import (
	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
)

type Notifier interface {
	// OnNewRoomEvent announces an accepted, persisted room event, plus any
	// extra users interested beyond the room's members.
	OnNewRoomEvent(ev *models.Event, extraUsers []string)
	// OnNewEvent announces an ordered-update stream advance (e.g. the
	// receipt stream) to pollers of the given rooms.
	OnNewEvent(key string, pos int64, rooms []string)
}

// LogNotifier is the default stand-in: it only records that notification
// happened.
type LogNotifier struct{}

func (LogNotifier) OnNewRoomEvent(ev *models.Event, extraUsers []string) {
	logger.Debug("notify_room_event", "room", ev.RoomID, "event", ev.EventID, "extra_users", len(extraUsers))
}

func (LogNotifier) OnNewEvent(key string, pos int64, rooms []string) {
	logger.Debug("notify_stream_event", "key", key, "pos", pos, "rooms", len(rooms))
}
