// Package handlers holds the HTTP route handlers. Routes are registered
// onto a gorilla/mux router by the Register* functions; collaborators are
// injected once at startup via Configure.
package handlers

import (
	"roomgraph/pkg/auth"
	"roomgraph/pkg/graph"
	"roomgraph/pkg/receipts"
)

var (
	creator    *graph.Creator
	propagator *graph.Propagator
	signer     graph.Signer
	limiter    *auth.Limiter
	rcptHandler *receipts.Handler
	rcptSource  receipts.EventSource
	resolver   *graph.Resolver
	serverName string
)

// Deps bundles the collaborators the handlers need.
type Deps struct {
	Creator    *graph.Creator
	Propagator *graph.Propagator
	Signer     graph.Signer
	Limiter    *auth.Limiter
	Receipts   *receipts.Handler
	Source     receipts.EventSource
	Resolver   *graph.Resolver
	ServerName string
}

// Configure injects collaborators. Call before registering routes.
func Configure(d Deps) {
	creator = d.Creator
	propagator = d.Propagator
	signer = d.Signer
	limiter = d.Limiter
	rcptHandler = d.Receipts
	rcptSource = d.Source
	resolver = d.Resolver
	serverName = d.ServerName
}
