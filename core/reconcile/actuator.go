package reconcile

import (
	"context"
	"errors"
	"strings"
)

// ErrDeviceUnavailable is returned when a device state cannot be used for
// a decision.
var ErrDeviceUnavailable = errors.New("device unavailable")

// DeviceState is the reported state of a controlled entity.
type DeviceState string

const (
	StateOn          DeviceState = "on"
	StateOff         DeviceState = "off"
	StateUnavailable DeviceState = "unavailable"
	StateUnknown     DeviceState = "unknown"
)

// ParseState maps a raw state payload to a DeviceState. Anything other
// than on, off or unavailable is unknown.
func ParseState(s string) DeviceState {
	switch DeviceState(strings.ToLower(strings.TrimSpace(s))) {
	case StateOn:
		return StateOn
	case StateOff:
		return StateOff
	case StateUnavailable:
		return StateUnavailable
	default:
		return StateUnknown
	}
}

// Known reports whether the state is on or off.
func (s DeviceState) Known() bool { return s == StateOn || s == StateOff }

// StateOf converts a desired boolean into a DeviceState.
func StateOf(on bool) DeviceState {
	if on {
		return StateOn
	}
	return StateOff
}

// Actuator reads and switches controlled entities.
type Actuator interface {
	State(ctx context.Context, entity string) (DeviceState, error)
	TurnOn(ctx context.Context, entity string) error
	TurnOff(ctx context.Context, entity string) error
}
