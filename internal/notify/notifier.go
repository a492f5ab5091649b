// Package notify posts human-readable lifecycle notices to the talk channel
// and reports unexpected failures there instead of crashing the process.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"requestdesk/internal/middleware"
	"requestdesk/internal/models"
	"requestdesk/internal/platform"
)

const defaultReason = "No reason given"

// Notifier routes lifecycle notices to the talk channel.
type Notifier struct {
	client       platform.Client
	channels     *platform.Channels
	maintainerID string
}

// New returns a Notifier. maintainerID is mentioned on error reports and may
// be empty.
func New(client platform.Client, channels *platform.Channels, maintainerID string) *Notifier {
	return &Notifier{client: client, channels: channels, maintainerID: maintainerID}
}

// RequestHeld announces that a request was put on hold.
func (n *Notifier) RequestHeld(ctx context.Context, req *models.Request) error {
	reason := req.Reason
	if reason == "" {
		reason = defaultReason
	}
	content := fmt.Sprintf("%q has been put ON HOLD.\nReason: %s <@%s>", req.Display(), reason, req.UserID)
	_, err := n.client.SendMessage(ctx, n.channels.Talk, platform.Message{Content: content})
	return err
}

// RequestRejected announces that a request was rejected.
func (n *Notifier) RequestRejected(ctx context.Context, req *models.Request, reason string) error {
	if reason == "" {
		reason = defaultReason
	}
	content := fmt.Sprintf("The request %s from <@%s> has been rejected.\nReason: %s", req.TitleOrLink(), req.UserID, reason)
	_, err := n.client.SendMessage(ctx, n.channels.Talk, platform.Message{Content: content})
	return err
}

// DuplicateLink tells the requester the link was already requested.
func (n *Notifier) DuplicateLink(ctx context.Context, link string) error {
	content := "This soundtrack has already been requested: " + link
	_, err := n.client.SendMessage(ctx, n.channels.Talk, platform.Message{Content: content})
	return err
}

// OutstandingPending tells the requester their previous request is still open.
func (n *Notifier) OutstandingPending(ctx context.Context, existing *models.Request, userID string) error {
	content := fmt.Sprintf("The request '%s' is still in place. Wait until it is fulfilled or rejected <@%s>", existing.Display(), userID)
	_, err := n.client.SendMessage(ctx, n.channels.Talk, platform.Message{Content: content})
	return err
}

// ReportError logs the failure and posts a generic error notice tagging the
// maintainer. Low-level details never reach the channel, and a failing post
// is only logged.
func (n *Notifier) ReportError(ctx context.Context, op string, err error) {
	middleware.Logger.ErrorContext(ctx, "lifecycle operation failed",
		slog.String("op", op), slog.String("error", err.Error()))

	content := "Error returned during request"
	if n.maintainerID != "" {
		content += " <@" + n.maintainerID + ">"
	}
	if _, sendErr := n.client.SendMessage(ctx, n.channels.Talk, platform.Message{Content: content}); sendErr != nil {
		middleware.Logger.ErrorContext(ctx, "failed to post error notice",
			slog.String("error", sendErr.Error()))
	}
}
