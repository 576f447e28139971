package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

var seq uint64

// UserID is a parsed user identifier of the form @local:domain.
type UserID struct {
	Local  string
	Domain string
}

func (u UserID) String() string { return "@" + u.Local + ":" + u.Domain }

// ParseUser decomposes a user identifier into local part and home-server
// domain. A malformed id is a recoverable condition for callers: they log
// and skip, they do not abort the surrounding operation.
func ParseUser(id string) (UserID, error) {
	if !strings.HasPrefix(id, "@") {
		return UserID{}, fmt.Errorf("user id %q missing @ sigil", id)
	}
	rest := id[1:]
	i := strings.Index(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return UserID{}, fmt.Errorf("user id %q missing domain", id)
	}
	return UserID{Local: rest[:i], Domain: rest[i+1:]}, nil
}

// NewEventID returns a unique opaque event identifier. A nanosecond
// timestamp plus process sequence keeps ids collision-free locally; the
// random suffix keeps them unguessable across servers.
func NewEventID(domain string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	s := atomic.AddUint64(&seq, 1)
	return fmt.Sprintf("$%d%06d%s:%s", time.Now().UTC().UnixNano(), s%1000000, hex.EncodeToString(b), domain)
}

// NewRoomID returns a unique room identifier on the given domain.
func NewRoomID(domain string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "!" + hex.EncodeToString(b) + ":" + domain
}
