package socket

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Membership tells whether user may read and write the conversation
type Membership interface {
	IsUserMemberOfConversation(ctx context.Context, conversationID string, userID uuid.UUID) (bool, error)
}

// MemoryMembership keeps conversation members in process
type MemoryMembership struct {
	mu      sync.RWMutex
	members map[string]map[uuid.UUID]struct{}
}

func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{members: make(map[string]map[uuid.UUID]struct{})}
}

// Add users to the conversation, the conversation is created if needed
func (m *MemoryMembership) Add(conversationID string, userIDs ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[conversationID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		m.members[conversationID] = set
	}
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
}

// Remove user from the conversation
func (m *MemoryMembership) Remove(conversationID string, userID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.members[conversationID], userID)
}

func (m *MemoryMembership) IsUserMemberOfConversation(ctx context.Context, conversationID string, userID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.members[conversationID][userID]
	return ok, nil
}
