// Package listing keeps each request's public listing entry in sync with its
// lifecycle state.
package listing

import (
	"context"
	"strconv"

	"requestdesk/internal/models"
	"requestdesk/internal/platform"
)

// Listing entry colors: gold for donator requests, red for held ones,
// blue otherwise.
const (
	colorDonator = 0xedcd40
	colorHold    = 0xc20404
	colorDefault = 0x42bfed
)

// CoverSource supplies a cover image URL for a link, or "" when none is known.
type CoverSource interface {
	Cover(ctx context.Context, link string) string
}

// Publisher creates, refreshes, and retracts listing entries in the public
// open-requests channel.
type Publisher struct {
	client   platform.Client
	channels *platform.Channels
	covers   CoverSource
}

// NewPublisher returns a Publisher. covers may be nil to disable cover images.
func NewPublisher(client platform.Client, channels *platform.Channels, covers CoverSource) *Publisher {
	return &Publisher{client: client, channels: channels, covers: covers}
}

// Render builds the listing entry for a request.
func (p *Publisher) Render(ctx context.Context, req *models.Request) platform.Embed {
	display := req.Display()
	if req.State == models.RequestStateHold {
		display += " **(ON HOLD)**"
	}

	color := colorDefault
	switch {
	case req.Donator:
		color = colorDonator
	case req.State == models.RequestStateHold:
		color = colorHold
	}

	embed := platform.Embed{
		Fields: []platform.EmbedField{
			{Name: "Request", Value: display},
			{Name: "Requested by", Value: "<@" + req.UserID + "> / " + req.UserID, Inline: true},
			{Name: "ID", Value: strconv.FormatUint(uint64(req.ID), 10), Inline: true},
		},
		Color: color,
	}

	if p.covers != nil && req.Link != "" {
		embed.Image = p.covers.Cover(ctx, req.Link)
	}

	return embed
}

// Publish creates the request's listing entry and records the reference on
// the request. Callers persist the mutated record.
func (p *Publisher) Publish(ctx context.Context, req *models.Request) error {
	embed := p.Render(ctx, req)
	id, err := p.client.SendMessage(ctx, p.channels.Listing, platform.Message{Embed: &embed})
	if err != nil {
		return err
	}
	req.ListingRef = string(id)
	return nil
}

// Refresh re-renders the existing listing entry in place. A request without
// a listing reference is skipped silently.
func (p *Publisher) Refresh(ctx context.Context, req *models.Request) error {
	if req.ListingRef == "" {
		return nil
	}
	embed := p.Render(ctx, req)
	return p.client.EditMessage(ctx, p.channels.Listing, platform.MessageID(req.ListingRef), platform.Message{Embed: &embed})
}

// Retract deletes the listing entry and clears the reference. A request
// without a listing reference is skipped silently.
func (p *Publisher) Retract(ctx context.Context, req *models.Request) error {
	if req.ListingRef == "" {
		return nil
	}
	if err := p.client.DeleteMessage(ctx, p.channels.Listing, platform.MessageID(req.ListingRef)); err != nil {
		return err
	}
	req.ListingRef = ""
	return nil
}
