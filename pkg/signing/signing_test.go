package signing

import (
	"encoding/json"
	"testing"

	"roomgraph/pkg/models"
)

func TestSignEventFillsHashAndSignature(t *testing.T) {
	s := DevSigner{ServerName: "example.org"}
	ev := &models.Event{
		EventID: "$e:x", RoomID: "!r:x", Type: "m.room.message",
		Sender: "@alice:example.org", Content: json.RawMessage(`{"body":"hi"}`),
	}
	if err := s.SignEvent(ev); err != nil {
		t.Fatalf("SignEvent: %v", err)
	}
	if len(ev.Hash) != 64 {
		t.Fatalf("expected hex sha256 hash, got %q", ev.Hash)
	}
	if ev.Signatures["example.org"]["ed25519:dev"] == "" {
		t.Fatalf("signature missing: %v", ev.Signatures)
	}
}

func TestSignEventDeterministic(t *testing.T) {
	s := DevSigner{ServerName: "example.org"}
	mk := func() *models.Event {
		return &models.Event{
			EventID: "$e:x", RoomID: "!r:x", Type: "m.room.message",
			Sender: "@alice:example.org", Content: json.RawMessage(`{"body":"hi"}`),
			Depth: 3, PrevEvents: []models.EventRef{{EventID: "$p:x", Hash: "h"}},
		}
	}
	a, b := mk(), mk()
	if err := s.SignEvent(a); err != nil {
		t.Fatalf("sign a: %v", err)
	}
	if err := s.SignEvent(b); err != nil {
		t.Fatalf("sign b: %v", err)
	}
	if a.Hash != b.Hash {
		t.Fatalf("same content must hash identically: %s vs %s", a.Hash, b.Hash)
	}

	c := mk()
	c.Content = json.RawMessage(`{"body":"different"}`)
	if err := s.SignEvent(c); err != nil {
		t.Fatalf("sign c: %v", err)
	}
	if c.Hash == a.Hash {
		t.Fatalf("different content must hash differently")
	}
}
