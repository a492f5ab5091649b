package platform

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-memory Client used by tests and local development runs.
// Channels and roles are registered up front; messages get sequential ids.
type Memory struct {
	mu       sync.Mutex
	channels map[string]ChannelID
	roles    map[string]RoleID
	messages map[ChannelID]map[MessageID]Message
	order    map[ChannelID][]MessageID
	perms    map[string]bool
	nextID   int

	failSend   bool
	failEdit   bool
	failDelete bool
}

// errInjected reports a deliberately injected failure.
var errInjected = fmt.Errorf("platform: injected failure")

// NewMemory returns an empty in-memory platform.
func NewMemory() *Memory {
	return &Memory{
		channels: make(map[string]ChannelID),
		roles:    make(map[string]RoleID),
		messages: make(map[ChannelID]map[MessageID]Message),
		order:    make(map[ChannelID][]MessageID),
		perms:    make(map[string]bool),
	}
}

// AddChannel registers a named channel and returns its id.
func (m *Memory) AddChannel(name string) ChannelID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ChannelID("chan-" + name)
	m.channels[name] = id
	m.messages[id] = make(map[MessageID]Message)
	return id
}

// AddRole registers a named role and returns its id.
func (m *Memory) AddRole(name string) RoleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := RoleID("role-" + name)
	m.roles[name] = id
	return id
}

func permKey(channel ChannelID, role RoleID, cap Capability) string {
	return string(channel) + "/" + string(role) + "/" + string(cap)
}

func (m *Memory) FindChannelByName(_ context.Context, name string) (ChannelID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.channels[name]
	if !ok {
		return "", fmt.Errorf("%w: channel %q", ErrNotFound, name)
	}
	return id, nil
}

func (m *Memory) FindRoleByName(_ context.Context, name string) (RoleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.roles[name]
	if !ok {
		return "", fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	return id, nil
}

func (m *Memory) SendMessage(_ context.Context, channel ChannelID, msg Message) (MessageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		m.failSend = false
		return "", errInjected
	}
	msgs, ok := m.messages[channel]
	if !ok {
		return "", fmt.Errorf("%w: channel %q", ErrNotFound, channel)
	}
	m.nextID++
	id := MessageID(fmt.Sprintf("msg-%d", m.nextID))
	msgs[id] = msg
	m.order[channel] = append(m.order[channel], id)
	return id, nil
}

func (m *Memory) EditMessage(_ context.Context, channel ChannelID, id MessageID, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEdit {
		m.failEdit = false
		return errInjected
	}
	msgs, ok := m.messages[channel]
	if !ok {
		return fmt.Errorf("%w: channel %q", ErrNotFound, channel)
	}
	if _, ok := msgs[id]; !ok {
		return fmt.Errorf("%w: message %q", ErrNotFound, id)
	}
	msgs[id] = msg
	return nil
}

func (m *Memory) DeleteMessage(_ context.Context, channel ChannelID, id MessageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		m.failDelete = false
		return errInjected
	}
	msgs, ok := m.messages[channel]
	if !ok {
		return fmt.Errorf("%w: channel %q", ErrNotFound, channel)
	}
	if _, ok := msgs[id]; !ok {
		return fmt.Errorf("%w: message %q", ErrNotFound, id)
	}
	delete(msgs, id)
	order := m.order[channel]
	for i, mid := range order {
		if mid == id {
			m.order[channel] = append(order[:i], order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) FetchMessage(_ context.Context, channel ChannelID, id MessageID) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, ok := m.messages[channel]
	if !ok {
		return Message{}, fmt.Errorf("%w: channel %q", ErrNotFound, channel)
	}
	msg, ok := msgs[id]
	if !ok {
		return Message{}, fmt.Errorf("%w: message %q", ErrNotFound, id)
	}
	return msg, nil
}

func (m *Memory) SetRolePermission(_ context.Context, channel ChannelID, role RoleID, cap Capability, allow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms[permKey(channel, role, cap)] = allow
	return nil
}

// GetRolePermission reports the permission state; unset permissions default
// to allowed, matching a channel with no explicit overwrite.
func (m *Memory) GetRolePermission(_ context.Context, channel ChannelID, role RoleID, cap Capability) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allow, ok := m.perms[permKey(channel, role, cap)]
	if !ok {
		return true, nil
	}
	return allow, nil
}

// ChannelMessages returns the channel's messages in post order. Test helper.
func (m *Memory) ChannelMessages(channel ChannelID) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, 0, len(m.order[channel]))
	for _, id := range m.order[channel] {
		out = append(out, m.messages[channel][id])
	}
	return out
}

// FailNextSend makes the next SendMessage call fail. Test helper.
func (m *Memory) FailNextSend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSend = true
}

// FailNextEdit makes the next EditMessage call fail. Test helper.
func (m *Memory) FailNextEdit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEdit = true
}

// FailNextDelete makes the next DeleteMessage call fail. Test helper.
func (m *Memory) FailNextDelete() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete = true
}
