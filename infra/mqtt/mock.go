package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/erg/core/reconcile"
)

// MockActuator is an in-memory actuator used in tests and dry runs. Commands
// are applied to the stored state immediately.
type MockActuator struct {
	States   map[string]reconcile.DeviceState
	FailIDs  map[string]bool
	Commands []Command
	mu       sync.Mutex
}

// NewMockActuator creates a new MockActuator.
func NewMockActuator() *MockActuator {
	return &MockActuator{
		States:  make(map[string]reconcile.DeviceState),
		FailIDs: make(map[string]bool),
	}
}

// State returns the stored state, unknown when none was set.
func (m *MockActuator) State(_ context.Context, entity string) (reconcile.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.States[entity]
	if !ok {
		return reconcile.StateUnknown, nil
	}
	return s, nil
}

// TurnOn records an "on" command.
func (m *MockActuator) TurnOn(_ context.Context, entity string) error {
	return m.command(entity, reconcile.StateOn)
}

// TurnOff records an "off" command.
func (m *MockActuator) TurnOff(_ context.Context, entity string) error {
	return m.command(entity, reconcile.StateOff)
}

// Set stores a reported state.
func (m *MockActuator) Set(entity string, s reconcile.DeviceState) {
	m.mu.Lock()
	m.States[entity] = s
	m.mu.Unlock()
}

func (m *MockActuator) command(entity string, s reconcile.DeviceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[entity] {
		return fmt.Errorf("publish failed")
	}
	m.Commands = append(m.Commands, Command{CommandID: fmt.Sprintf("cmd-%d", len(m.Commands)+1), Entity: entity, State: string(s)})
	m.States[entity] = s
	return nil
}
