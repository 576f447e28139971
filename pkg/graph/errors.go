package graph

import "errors"

// ErrGraphInconsistency means no graph position could be determined for the
// candidate: the room should have a frontier and does not, or the frontier
// could not be read. Fatal to the single attempt, safe to retry.
var ErrGraphInconsistency = errors.New("cannot determine graph position")

// ErrStateDerivation means fork merge or state lookup failed to produce a
// consistent mapping (e.g. a parent's state references missing events).
var ErrStateDerivation = errors.New("state derivation failed")

// ErrNotAllowed is returned by Authorizer implementations when an event is
// rejected; it aborts the attempt before persistence.
var ErrNotAllowed = errors.New("event not permitted")
