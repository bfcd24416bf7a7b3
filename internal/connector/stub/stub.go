// Package stub provides a minimal, honestly-partial Connector for
// providers this implementation names but does not yet integrate: Gmail,
// Jira, Google Drive/Calendar, and Zoho Cliq/Mail. Registering a stub
// rather than omitting these providers keeps the registry and
// webhook-ingress routing exercised against every named provider slug
// rather than just the one fully-built adapter.
package stub

import (
	"context"
	"fmt"

	"github.com/relaycore/connector-platform/internal/apperr"
	"github.com/relaycore/connector-platform/internal/connector"
	"github.com/relaycore/connector-platform/internal/model"
)

// Adapter is a Connector whose every provider-facing operation fails with
// apperr.Permanent — never mistaken for a transient outage. The Executor
// still re-queues a failed job with backoff like any other failure.
type Adapter struct {
	Slug string
}

func New(slug string) *Adapter {
	return &Adapter{Slug: slug}
}

func (a *Adapter) notImplemented() error {
	return apperr.Permanent(fmt.Sprintf("provider %q not yet implemented", a.Slug), nil)
}

func (a *Adapter) Authorize(_ context.Context, _ connector.AuthorizeParams) (string, error) {
	return "", a.notImplemented()
}

func (a *Adapter) ExchangeToken(_ context.Context, _ connector.ExchangeTokenParams) (model.Connection, string, *string, error) {
	return model.Connection{}, "", nil, a.notImplemented()
}

func (a *Adapter) RefreshToken(_ context.Context, _ model.Connection, _ string) (connector.RefreshResult, error) {
	return connector.RefreshResult{}, a.notImplemented()
}

func (a *Adapter) Sync(_ context.Context, _ connector.SyncParams) (connector.SyncResult, error) {
	return connector.SyncResult{}, a.notImplemented()
}

func (a *Adapter) HandleWebhook(_ context.Context, _ connector.WebhookParams) ([]model.Signal, error) {
	return nil, a.notImplemented()
}

var _ connector.Connector = (*Adapter)(nil)
