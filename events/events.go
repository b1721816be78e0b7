package events

import (
	"errors"
	"sync"

	"github.com/cloudkucooland/dingzfar/devinfo"
)

// Kind is one of the three event kinds carried by the bus
type Kind int

const (
	InfoUpdate Kind = iota
	DeviceAction
	StateUpdate
)

func (k Kind) String() string {
	switch k {
	case InfoUpdate:
		return "info-update"
	case DeviceAction:
		return "device-action"
	case StateUpdate:
		return "state-update"
	}
	return "unknown"
}

// State is a partial reading; nil fields were not part of the report
type State struct {
	On          *bool    `json:"on,omitempty"`
	Power       *float64 `json:"power,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Motion      *bool    `json:"motion,omitempty"`
	Brightness  *int     `json:"brightness,omitempty"`
}

// Event is published on the bus
type Event struct {
	Kind   Kind                `json:"kind"`
	MAC    string              `json:"mac"`
	Button string              `json:"button,omitempty"`
	Action string              `json:"action,omitempty"`
	Device *devinfo.DeviceInfo `json:"device,omitempty"`
	State  *State              `json:"state,omitempty"`
}

const (
	// MaxSubscribers caps the fan-out
	MaxSubscribers = 32
	// Buffer is each subscriber's queue length; when full the oldest event is dropped
	Buffer = 64
)

// ErrTooManySubscribers is returned by Subscribe once MaxSubscribers is reached
var ErrTooManySubscribers = errors.New("events: too many subscribers")

// Subscription receives the events of the kinds it asked for
type Subscription struct {
	C     <-chan Event
	c     chan Event
	kinds map[Kind]bool
	bus   *Bus

	mu      sync.Mutex
	dropped uint64
}

// Dropped counts events discarded because the subscriber fell behind
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription; C is closed
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is an in-process publish/subscribe channel. Publish never blocks.
type Bus struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
}

// New returns an empty bus
func New() *Bus {
	return &Bus{}
}

// Subscribe to the given kinds; no kinds means all of them
func (b *Bus) Subscribe(kinds ...Kind) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) >= MaxSubscribers {
		return nil, ErrTooManySubscribers
	}

	c := make(chan Event, Buffer)
	s := &Subscription{C: c, c: c, bus: b, kinds: make(map[Kind]bool)}
	for _, k := range kinds {
		s.kinds[k] = true
	}
	if b.closed {
		close(c)
	}
	b.subs = append(b.subs, s)
	return s, nil
}

// Publish delivers e to every interested subscriber
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if len(s.kinds) > 0 && !s.kinds[e.Kind] {
			continue
		}
		s.deliver(e)
	}
}

// Close closes every subscription
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.c)
	}
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range b.subs {
		if v == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(s.c)
			}
			return
		}
	}
}

// publishers only hold the bus read lock; s.mu keeps them from interleaving here
func (s *Subscription) deliver(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.c <- e:
			return
		default:
		}
		// full: drop the oldest and try again
		select {
		case <-s.c:
			s.dropped++
		default:
		}
	}
}
