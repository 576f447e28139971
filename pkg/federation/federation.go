// Package federation owns the remote-peer side of propagation: a transport
// contract for the wire protocol (external to this core) and a bounded
// outbound queue with delivery workers. Everything here is best-effort by
// contract; callers never block on, or roll back for, a remote failure.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
	"roomgraph/pkg/telemetry"
)

// Transport is the wire-protocol collaborator. Implementations encode and
// deliver; this core decides what goes where.
type Transport interface {
	// SendInvite performs the synchronous invite handshake with the
	// invitee's home server and returns the co-signed event.
	SendInvite(ctx context.Context, domain string, ev *models.Event) (*models.Event, error)
	// SendEvent delivers one event to one destination.
	SendEvent(ctx context.Context, destination string, ev *models.Event) error
	// SendEDU delivers one out-of-band update to one destination.
	SendEDU(ctx context.Context, destination, eduType string, content json.RawMessage) error
}

// LogTransport is the default stand-in transport: it logs and succeeds.
type LogTransport struct{}

func (LogTransport) SendInvite(_ context.Context, domain string, ev *models.Event) (*models.Event, error) {
	logger.Info("transport_send_invite", "domain", domain, "event", ev.EventID)
	return ev, nil
}

func (LogTransport) SendEvent(_ context.Context, destination string, ev *models.Event) error {
	logger.Info("transport_send_event", "destination", destination, "event", ev.EventID)
	return nil
}

func (LogTransport) SendEDU(_ context.Context, destination, eduType string, _ json.RawMessage) error {
	logger.Info("transport_send_edu", "destination", destination, "type", eduType)
	return nil
}

// outboundEvent is the queued form of a per-destination event delivery.
type outboundEvent struct {
	Event *models.Event `json:"event"`
}

// Outbound fans accepted events and EDUs out to remote destinations through
// the queue. Enqueue never blocks the caller; a full queue drops and counts.
type Outbound struct {
	transport Transport
	local     string
	q         *Queue
	stop      chan struct{}
	wg        sync.WaitGroup
	workers   int
}

// NewOutbound builds the outbound fan-out with the given transport, local
// server name, queue capacity and worker count (zeros use defaults).
func NewOutbound(transport Transport, localDomain string, capacity, workers int) *Outbound {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if workers <= 0 {
		workers = 4
	}
	return &Outbound{
		transport: transport,
		local:     localDomain,
		q:         NewQueue(capacity),
		stop:      make(chan struct{}),
		workers:   workers,
	}
}

// Start launches the delivery workers.
func (o *Outbound) Start() {
	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.q.RunWorker(o.stop, o.deliver)
		}()
	}
	logger.Info("outbound_started", "workers", o.workers, "capacity", o.q.Cap())
}

// Close stops the workers and drains the queue.
func (o *Outbound) Close() {
	close(o.stop)
	o.q.CloseAndDrain()
	o.wg.Wait()
	logger.Info("outbound_stopped", "dropped", o.q.Dropped())
}

// SendInvite passes the invite handshake through synchronously; it is a
// request/response exchange, not fan-out.
func (o *Outbound) SendInvite(domain string, ev *models.Event) (*models.Event, error) {
	if domain == o.local {
		return nil, fmt.Errorf("invite handshake with self (%s)", domain)
	}
	return o.transport.SendInvite(context.Background(), domain, ev)
}

// HandleNewEvent enqueues one delivery per destination. Initiation order is
// guaranteed by the caller; completion order across destinations is not.
func (o *Outbound) HandleNewEvent(ev *models.Event, destinations []string) {
	payload, err := json.Marshal(outboundEvent{Event: ev})
	if err != nil {
		logger.Error("outbound_marshal_failed", "event", ev.EventID, "error", err)
		return
	}
	for _, dest := range destinations {
		if dest == "" || dest == o.local {
			continue
		}
		err := o.q.TryEnqueue(&Op{Kind: KindEvent, Destination: dest, Payload: payload})
		if err != nil {
			telemetry.FanoutDropped.Inc()
			logger.Warn("outbound_enqueue_failed", "destination", dest, "event", ev.EventID, "error", err)
			continue
		}
		telemetry.FanoutEnqueued.WithLabelValues(string(KindEvent)).Inc()
	}
	telemetry.FanoutQueueDepth.Set(float64(o.q.Len()))
}

// SendEDU enqueues one out-of-band update for a destination.
func (o *Outbound) SendEDU(destination, eduType string, content json.RawMessage) {
	if destination == "" || destination == o.local {
		return
	}
	err := o.q.TryEnqueue(&Op{Kind: KindEDU, Destination: destination, EDUType: eduType, Payload: content})
	if err != nil {
		telemetry.FanoutDropped.Inc()
		logger.Warn("outbound_edu_enqueue_failed", "destination", destination, "type", eduType, "error", err)
		return
	}
	telemetry.FanoutEnqueued.WithLabelValues(string(KindEDU)).Inc()
	telemetry.FanoutQueueDepth.Set(float64(o.q.Len()))
}

// deliver sends one queued op. Failures are logged per destination and
// never retried here; retry policy belongs to the transport.
func (o *Outbound) deliver(op *Op) error {
	ctx := context.Background()
	switch op.Kind {
	case KindEvent:
		var body outboundEvent
		if err := json.Unmarshal(op.Payload, &body); err != nil {
			logger.Error("outbound_decode_failed", "destination", op.Destination, "error", err)
			return err
		}
		if err := o.transport.SendEvent(ctx, op.Destination, body.Event); err != nil {
			logger.Warn("outbound_event_failed", "destination", op.Destination, "event", body.Event.EventID, "error", err)
			return err
		}
	case KindEDU:
		content := append(json.RawMessage(nil), op.Payload...)
		if err := o.transport.SendEDU(ctx, op.Destination, op.EDUType, content); err != nil {
			logger.Warn("outbound_edu_failed", "destination", op.Destination, "type", op.EDUType, "error", err)
			return err
		}
	}
	telemetry.FanoutQueueDepth.Set(float64(o.q.Len()))
	return nil
}
