package graph

import (
	"encoding/json"
	"fmt"

	"roomgraph/pkg/ids"
	"roomgraph/pkg/logger"
	"roomgraph/pkg/models"
	"roomgraph/pkg/notify"
	"roomgraph/pkg/store"
)

// FederationSender is the slice of the federation layer propagation needs.
// Delivery is best-effort from this component's perspective: retries belong
// to the owning collaborator, and per-destination failures never unwind
// local persistence.
type FederationSender interface {
	// SendInvite asks the invitee's home server to co-sign the invite and
	// returns the event with the remote signatures attached.
	SendInvite(domain string, ev *models.Event) (*models.Event, error)
	// HandleNewEvent hands the event off for asynchronous delivery to each
	// destination.
	HandleNewEvent(ev *models.Event, destinations []string)
}

// Propagator turns an accepted event into durable storage, local
// notifications and a federation destination set, in that order:
// persistence happens-before local notification happens-before remote
// fan-out is initiated.
type Propagator struct {
	Auth       Authorizer
	Federation FederationSender
	Notifier   notify.Notifier
	ServerName string
}

// HandleNewEvent authorizes, persists and propagates one event. Everything
// after persistence is best-effort; a destination-side failure does not
// surface as an error here.
func (p *Propagator) HandleNewEvent(ev *models.Event, ctx *models.EventContext, extraDestinations, extraUsers []string) error {
	if p.Auth != nil {
		if err := p.Auth.Check(ev, ctx.AuthEvents); err != nil {
			return err
		}
	}

	if err := store.PersistEvent(ev, ctx); err != nil {
		return err
	}

	p.inviteHandshake(ev)

	destinations := p.destinations(ev, ctx, extraDestinations)

	if p.Notifier != nil {
		p.Notifier.OnNewRoomEvent(ev, extraUsers)
	}
	if p.Federation != nil && len(destinations) > 0 {
		p.Federation.HandleNewEvent(ev, destinations)
	}
	return nil
}

// inviteHandshake runs the remote co-signing exchange when the event
// invites a user homed on another server, merging any signatures the
// remote returns. Failures are logged; the invite still stands locally.
func (p *Propagator) inviteHandshake(ev *models.Event) {
	if p.Federation == nil || ev.Type != models.TypeMember || ev.StateKey == nil {
		return
	}
	if membershipOf(ev) != models.MembershipInvite {
		return
	}
	invitee, err := ids.ParseUser(*ev.StateKey)
	if err != nil {
		logger.Warn("invite_bad_state_key", "event", ev.EventID, "state_key", *ev.StateKey, "error", err)
		return
	}
	if invitee.Domain == p.ServerName {
		return
	}
	signed, err := p.Federation.SendInvite(invitee.Domain, ev)
	if err != nil {
		logger.Warn("invite_handshake_failed", "event", ev.EventID, "domain", invitee.Domain, "error", err)
		return
	}
	if signed != nil && signed.Signatures != nil {
		if ev.Signatures == nil {
			ev.Signatures = make(map[string]map[string]string)
		}
		for server, sigs := range signed.Signatures {
			if ev.Signatures[server] == nil {
				ev.Signatures[server] = make(map[string]string)
			}
			for keyID, sig := range sigs {
				ev.Signatures[server][keyID] = sig
			}
		}
		logger.Info("invite_cosigned", "event", ev.EventID, "domain", invitee.Domain)
	}
}

// destinations builds the remote fan-out set: explicit extras plus the home
// server of every user whose resolved membership is "join". A malformed
// membership entry is logged and skipped; it never drops the rest.
func (p *Propagator) destinations(ev *models.Event, ctx *models.EventContext, extra []string) []string {
	set := make(map[string]struct{}, len(extra))
	for _, d := range extra {
		if d != "" && d != p.ServerName {
			set[d] = struct{}{}
		}
	}
	for tuple, se := range ctx.CurrentState {
		if tuple.Type != models.TypeMember {
			continue
		}
		if membershipOf(se) != models.MembershipJoin {
			continue
		}
		user, err := ids.ParseUser(tuple.StateKey)
		if err != nil {
			logger.Warn("destination_bad_member", "event", se.EventID, "state_key", tuple.StateKey, "error", err)
			continue
		}
		if user.Domain == p.ServerName {
			continue
		}
		set[user.Domain] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// membershipOf extracts the membership value from a member event's content;
// empty when absent or unparseable.
func membershipOf(ev *models.Event) string {
	if ev == nil || len(ev.Content) == 0 {
		return ""
	}
	var c struct {
		Membership string `json:"membership"`
	}
	if err := json.Unmarshal(ev.Content, &c); err != nil {
		return ""
	}
	return c.Membership
}

// MembershipContent builds member-event content for the given value.
func MembershipContent(membership string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"membership":%q}`, membership))
}
