package channel

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ffusco/chatline/internal/bus"
)

// State represents a channel subscription lifecycle state.
type State string

const (
	Unsubscribed State = "UNSUBSCRIBED"
	Subscribing  State = "SUBSCRIBING"
	Subscribed   State = "SUBSCRIBED"
	Failed       State = "FAILED"
)

// validTransitions defines allowed lifecycle transitions. Subscribed
// back to Subscribing covers the resubscribe after a connectivity drop.
var validTransitions = map[State][]State{
	Unsubscribed: {Subscribing},
	Subscribing:  {Subscribed, Failed, Unsubscribed},
	Subscribed:   {Subscribing, Unsubscribed},
	Failed:       {Subscribing, Unsubscribed},
}

// Machine tracks and enforces channel subscription state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	channel string
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Unsubscribed.
func NewMachine(channelName string, b *bus.Bus) *Machine {
	return &Machine{
		current: Unsubscribed,
		channel: channelName,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindChannelState, StateChange{
			Channel: m.channel,
			From:    from,
			To:      to,
		})
	}
	return nil
}

// StateChange is the payload for channel state change events.
type StateChange struct {
	Channel string
	From    State
	To      State
}
