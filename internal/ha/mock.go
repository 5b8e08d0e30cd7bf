package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements EntityClient for tests. State is set directly and
// SimulateStateChange drives subscriber callbacks the way a state_changed
// event would.
type MockClient struct {
	mu          sync.Mutex
	states      map[string]*State
	subscribers map[string][]subscriberEntry
	nextSubID   int
	connected   bool
}

type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	return s.mock.unsubscribe(s.entityID, s.subID)
}

// NewMockClient creates an empty mock client.
func NewMockClient() *MockClient {
	return &MockClient{
		states:      make(map[string]*State),
		subscribers: make(map[string][]subscriberEntry),
	}
}

func (m *MockClient) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

func (m *MockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.subscribers = make(map[string][]subscriberEntry)
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockClient) GetState(entityID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

func (m *MockClient) GetAllStates() ([]*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.mu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.mu.Unlock()

	return &mockSubscription{entityID: entityID, subID: subID, mock: m}, nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subscribers, ok := m.subscribers[entityID]
	if !ok {
		return nil
	}
	for i, entry := range subscribers {
		if entry.subID == subID {
			m.subscribers[entityID] = append(subscribers[:i], subscribers[i+1:]...)
			if len(m.subscribers[entityID]) == 0 {
				delete(m.subscribers, entityID)
			}
			break
		}
	}
	return nil
}

// SetState stores an entity state without notifying subscribers.
func (m *MockClient) SetState(entityID, stateValue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.states[entityID] = &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  make(map[string]interface{}),
		LastChanged: now,
		LastUpdated: now,
	}
}

// SimulateStateChange stores a new state and notifies subscribers, as a
// state_changed event from Home Assistant would.
func (m *MockClient) SimulateStateChange(entityID, newStateValue string) {
	m.mu.Lock()
	oldState := m.states[entityID]
	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  make(map[string]interface{}),
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.mu.Unlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}
