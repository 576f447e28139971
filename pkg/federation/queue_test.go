package federation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"roomgraph/pkg/models"
)

func TestQueueTryEnqueueFull(t *testing.T) {
	q := NewQueue(2)
	if err := q.TryEnqueue(&Op{Kind: KindEvent, Destination: "a", Payload: []byte("1")}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := q.TryEnqueue(&Op{Kind: KindEvent, Destination: "b", Payload: []byte("2")}); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if err := q.TryEnqueue(&Op{Kind: KindEvent, Destination: "c", Payload: []byte("3")}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", q.Dropped())
	}
	q.CloseAndDrain()
}

func TestQueueWorkerProcessesInOrder(t *testing.T) {
	q := NewQueue(8)
	for _, d := range []string{"a", "b", "c"} {
		if err := q.TryEnqueue(&Op{Kind: KindEvent, Destination: d, Payload: []byte(d)}); err != nil {
			t.Fatalf("enqueue %s: %v", d, err)
		}
	}

	var mu sync.Mutex
	var got []string
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		q.RunWorker(stop, func(op *Op) error {
			mu.Lock()
			got = append(got, op.Destination+":"+string(op.Payload))
			mu.Unlock()
			return nil
		})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("worker processed %d of 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(stop)
	<-done

	want := []string{"a:a", "b:b", "c:c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestQueueEnqueueClosed(t *testing.T) {
	q := NewQueue(2)
	q.CloseAndDrain()
	if err := q.TryEnqueue(&Op{Kind: KindEvent, Destination: "a"}); err != ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.Enqueue(context.Background(), &Op{Kind: KindEvent, Destination: "a"}); err != ErrQueueClosed {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

type recordingTransport struct {
	mu      sync.Mutex
	events  map[string][]string // destination -> event ids
	edus    map[string][]string // destination -> edu types
	invites []string
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{events: map[string][]string{}, edus: map[string][]string{}}
}

func (r *recordingTransport) SendInvite(_ context.Context, domain string, ev *models.Event) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invites = append(r.invites, domain)
	return ev, nil
}

func (r *recordingTransport) SendEvent(_ context.Context, destination string, ev *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[destination] = append(r.events[destination], ev.EventID)
	return nil
}

func (r *recordingTransport) SendEDU(_ context.Context, destination, eduType string, _ json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edus[destination] = append(r.edus[destination], eduType)
	return nil
}

func TestOutboundFanout(t *testing.T) {
	tr := newRecordingTransport()
	o := NewOutbound(tr, "example.org", 64, 2)
	o.Start()

	ev := &models.Event{EventID: "$e1:x", RoomID: "!r:x", Type: "m.room.message", Sender: "@a:example.org"}
	o.HandleNewEvent(ev, []string{"remote.one", "remote.two", "example.org", ""})
	o.SendEDU("remote.one", "m.receipt", json.RawMessage(`{}`))

	deadline := time.After(2 * time.Second)
	for {
		tr.mu.Lock()
		done := len(tr.events["remote.one"]) == 1 && len(tr.events["remote.two"]) == 1 && len(tr.edus["remote.one"]) == 1
		tr.mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("fan-out incomplete: events=%v edus=%v", tr.events, tr.edus)
		case <-time.After(5 * time.Millisecond):
		}
	}
	o.Close()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.events["example.org"]) != 0 {
		t.Fatalf("local destination must be skipped")
	}
	if tr.events["remote.one"][0] != "$e1:x" {
		t.Fatalf("wrong event delivered: %v", tr.events)
	}
}

func TestOutboundSendInviteToSelf(t *testing.T) {
	o := NewOutbound(newRecordingTransport(), "example.org", 8, 1)
	if _, err := o.SendInvite("example.org", &models.Event{EventID: "$e:x"}); err == nil {
		t.Fatalf("invite handshake with self must fail")
	}
}
