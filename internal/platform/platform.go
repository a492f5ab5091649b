// Package platform defines the chat-platform client contract the request
// desk consumes. The platform itself (channels, messages, role permissions)
// is an external collaborator; this package carries only the narrow surface
// the core needs, plus an in-memory implementation for tests and local runs.
package platform

import (
	"context"
	"errors"
)

// ChannelID is an opaque channel reference.
type ChannelID string

// MessageID is an opaque message reference.
type MessageID string

// RoleID is an opaque role reference.
type RoleID string

// Capability names a channel permission that can be granted or revoked per role.
type Capability string

// CapabilitySendMessages controls whether a role may post in a channel.
const CapabilitySendMessages Capability = "send_messages"

// EmbedField is one labeled field of a rich listing entry.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is the rich representation of a listing entry.
type Embed struct {
	Fields []EmbedField `json:"fields"`
	Color  int          `json:"color"`
	Image  string       `json:"image,omitempty"`
}

// Message is either plain content, a rich embed, or both.
type Message struct {
	Content string `json:"content,omitempty"`
	Embed   *Embed `json:"embed,omitempty"`
}

// ErrNotFound is returned for unknown channels, roles, and messages.
var ErrNotFound = errors.New("platform: not found")

// Client is the chat-platform contract consumed by the core. Every call
// honors the context deadline; implementations must not block indefinitely.
type Client interface {
	FindChannelByName(ctx context.Context, name string) (ChannelID, error)
	FindRoleByName(ctx context.Context, name string) (RoleID, error)

	SendMessage(ctx context.Context, channel ChannelID, msg Message) (MessageID, error)
	EditMessage(ctx context.Context, channel ChannelID, id MessageID, msg Message) error
	DeleteMessage(ctx context.Context, channel ChannelID, id MessageID) error
	FetchMessage(ctx context.Context, channel ChannelID, id MessageID) (Message, error)

	SetRolePermission(ctx context.Context, channel ChannelID, role RoleID, cap Capability, allow bool) error
	GetRolePermission(ctx context.Context, channel ChannelID, role RoleID, cap Capability) (bool, error)
}

// Channels is the capability table of resolved channel and role references.
// Names are looked up once at startup instead of on every operation.
type Channels struct {
	Submission ChannelID
	Listing    ChannelID
	Talk       ChannelID
	Members    RoleID
}

// ResolveChannels looks up the named channels and role once and returns the
// resolved reference table.
func ResolveChannels(ctx context.Context, client Client, submission, listing, talk, membersRole string) (*Channels, error) {
	sub, err := client.FindChannelByName(ctx, submission)
	if err != nil {
		return nil, err
	}
	lst, err := client.FindChannelByName(ctx, listing)
	if err != nil {
		return nil, err
	}
	tlk, err := client.FindChannelByName(ctx, talk)
	if err != nil {
		return nil, err
	}
	members, err := client.FindRoleByName(ctx, membersRole)
	if err != nil {
		return nil, err
	}
	return &Channels{Submission: sub, Listing: lst, Talk: tlk, Members: members}, nil
}
