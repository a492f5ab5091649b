// Package gate decides whether the submission channel accepts new requests
// and keeps the members role's write permission in sync with queue load.
package gate

import (
	"context"
	"log/slog"
	"sync"

	"requestdesk/internal/middleware"
	"requestdesk/internal/observability"
	"requestdesk/internal/platform"
	"requestdesk/internal/repository"
)

// Gate is the admission gate over the submission channel. Rechecks are
// serialized so concurrent lifecycle operations cannot race the
// read-then-write of the permission state into duplicate announcements.
type Gate struct {
	repo     repository.RequestRepository
	client   platform.Client
	channels *platform.Channels
	limit    int64

	mu sync.Mutex
}

// New returns a Gate closing the submission channel at limit pending
// non-donator requests.
func New(repo repository.RequestRepository, client platform.Client, channels *platform.Channels, limit int) *Gate {
	return &Gate{repo: repo, client: client, channels: channels, limit: int64(limit)}
}

// PendingCount returns the number of pending non-donator requests. Donator
// submissions bypass the gate and never count toward capacity.
func (g *Gate) PendingCount(ctx context.Context) (int64, error) {
	return g.repo.CountPending(ctx)
}

// Full reports whether the queue is at or over capacity.
func (g *Gate) Full(ctx context.Context) (bool, error) {
	count, err := g.PendingCount(ctx)
	if err != nil {
		return false, err
	}
	return count >= g.limit, nil
}

// Recheck compares the pending load against the limit and the current
// permission state, toggling the members role's write permission and posting
// an open/closed notice exactly when the state changes. Idempotent.
func (g *Gate) Recheck(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	count, err := g.PendingCount(ctx)
	if err != nil {
		return err
	}
	observability.PendingRequests.Set(float64(count))
	if count < g.limit {
		observability.GateOpen.Set(1)
	} else {
		observability.GateOpen.Set(0)
	}

	allowed, err := g.client.GetRolePermission(ctx, g.channels.Submission, g.channels.Members, platform.CapabilitySendMessages)
	if err != nil {
		return err
	}

	switch {
	case count >= g.limit && allowed:
		if err := g.client.SetRolePermission(ctx, g.channels.Submission, g.channels.Members, platform.CapabilitySendMessages, false); err != nil {
			return err
		}
		if _, err := g.client.SendMessage(ctx, g.channels.Submission, platform.Message{Content: "Requests closed"}); err != nil {
			return err
		}
		middleware.Logger.InfoContext(ctx, "submission channel closed", slog.Int64("pending", count))
	case count < g.limit && !allowed:
		if err := g.client.SetRolePermission(ctx, g.channels.Submission, g.channels.Members, platform.CapabilitySendMessages, true); err != nil {
			return err
		}
		if _, err := g.client.SendMessage(ctx, g.channels.Submission, platform.Message{Content: "Requests open"}); err != nil {
			return err
		}
		middleware.Logger.InfoContext(ctx, "submission channel opened", slog.Int64("pending", count))
	}

	return nil
}
