// Package app wires the server components together and owns their
// lifecycle: store, state resolver, event pipeline, receipt stream,
// outbound federation and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"roomgraph/internal/compaction"
	"roomgraph/pkg/api/handlers"
	"roomgraph/pkg/auth"
	"roomgraph/pkg/config"
	"roomgraph/pkg/federation"
	"roomgraph/pkg/graph"
	"roomgraph/pkg/notify"
	"roomgraph/pkg/receipts"
	"roomgraph/pkg/signing"
	"roomgraph/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	resolver *graph.Resolver
	outbound *federation.Outbound

	cancelCompaction context.CancelFunc

	srv *http.Server
}

// New initializes everything that does not need a running context: the
// store, the resolver and the pipeline collaborators. Call Run to start
// the schedulers and the HTTP server.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}
	a.resolver = graph.NewResolver()

	fed := eff.Config.Federation
	a.outbound = federation.NewOutbound(federation.LogTransport{}, eff.ServerName,
		fed.QueueCapacity, fed.Workers)

	notifier := notify.LogNotifier{}
	authz := auth.DefaultAuthorizer{}

	creator := &graph.Creator{Resolver: a.resolver, Auth: authz, ServerName: eff.ServerName}
	propagator := &graph.Propagator{
		Auth:       authz,
		Federation: a.outbound,
		Notifier:   notifier,
		ServerName: eff.ServerName,
	}
	rcpt := &receipts.Handler{
		Notifier:   notifier,
		Federation: a.outbound,
		ServerName: eff.ServerName,
	}

	handlers.Configure(handlers.Deps{
		Creator:    creator,
		Propagator: propagator,
		Signer:     signing.DevSigner{ServerName: eff.ServerName},
		Limiter:    auth.NewLimiter(eff.Config.RateLimit.RPS, eff.Config.RateLimit.Burst),
		Receipts:   rcpt,
		Source:     receipts.EventSource{},
		Resolver:   a.resolver,
		ServerName: eff.ServerName,
	})

	return a, nil
}

// Run starts the outbound workers, the compaction scheduler and the HTTP
// server, then blocks until ctx is cancelled or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	a.outbound.Start()

	cancel, err := compaction.Start(ctx, a.eff.Config.Compaction, a.resolver)
	if err != nil {
		return err
	}
	a.cancelCompaction = cancel

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// shutdown stops background work and closes the store.
func (a *App) shutdown() {
	if a.cancelCompaction != nil {
		a.cancelCompaction()
	}
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		_ = a.srv.Shutdown(ctx)
		cancel()
	}
	a.outbound.Close()
	_ = store.Close()
}

// validateConfig fails fast on settings that would only surface later.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.Addr == "" {
		return fmt.Errorf("no listen address configured")
	}
	if eff.DBPath == "" {
		return fmt.Errorf("no db path configured")
	}
	if eff.ServerName == "" {
		return fmt.Errorf("no server name configured (set federation.server_name or --name)")
	}
	tls := eff.Config.Server.TLS
	if (tls.CertFile == "") != (tls.KeyFile == "") {
		return fmt.Errorf("tls requires both cert_file and key_file")
	}
	return nil
}
