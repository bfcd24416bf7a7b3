// Package connectortest provides a scriptable fake Connector for exercising
// the scheduler/executor/webhook-ingress against deterministic adapter
// behavior, mirroring the reference implementation's own test connector.
package connectortest

import (
	"context"
	"time"

	"github.com/relaycore/connector-platform/internal/connector"
	"github.com/relaycore/connector-platform/internal/model"
)

// Fake is a Connector whose every method returns a pre-scripted result or
// error, settable per test.
type Fake struct {
	AuthorizeURL string
	AuthorizeErr error

	ExchangeConn    model.Connection
	ExchangeAccess  string
	ExchangeRefresh *string
	ExchangeErr     error

	RefreshResult connector.RefreshResult
	RefreshErr    error

	SyncResult connector.SyncResult
	SyncErr    error
	SyncCalls  []connector.SyncParams

	WebhookSignals []model.Signal
	WebhookErr     error
}

func New() *Fake {
	return &Fake{
		SyncResult: connector.SyncResult{Signals: nil, NextCursor: nil, HasMore: false},
	}
}

func (f *Fake) Authorize(_ context.Context, _ connector.AuthorizeParams) (string, error) {
	return f.AuthorizeURL, f.AuthorizeErr
}

func (f *Fake) ExchangeToken(_ context.Context, _ connector.ExchangeTokenParams) (model.Connection, string, *string, error) {
	return f.ExchangeConn, f.ExchangeAccess, f.ExchangeRefresh, f.ExchangeErr
}

func (f *Fake) RefreshToken(_ context.Context, _ model.Connection, _ string) (connector.RefreshResult, error) {
	return f.RefreshResult, f.RefreshErr
}

func (f *Fake) Sync(_ context.Context, params connector.SyncParams) (connector.SyncResult, error) {
	f.SyncCalls = append(f.SyncCalls, params)
	return f.SyncResult, f.SyncErr
}

func (f *Fake) HandleWebhook(_ context.Context, _ connector.WebhookParams) ([]model.Signal, error) {
	return f.WebhookSignals, f.WebhookErr
}

var _ connector.Connector = (*Fake)(nil)

// NowPtr is a small helper for tests building Signal/SyncJob fixtures.
func NowPtr() *time.Time {
	t := time.Now().UTC()
	return &t
}
