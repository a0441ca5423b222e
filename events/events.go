// Package events defines the boundary between a LanChat node and its
// presentation layer. A node reports everything the user should see as an
// Event delivered to an Observer supplied at construction.
package events

import (
	"sync"
	"time"

	"github.com/VanDung-dev/LanChat-Engine/message"
)

// Kind identifies an event.
type Kind string

const (
	KindMessage      Kind = "message"
	KindPeerFound    Kind = "peer_found"
	KindPeerLost     Kind = "peer_lost"
	KindPeersUpdated Kind = "peers_updated"
	KindGroupJoined  Kind = "group_joined"
	KindGroupCreated Kind = "group_created"
	KindError        Kind = "error"
	KindStatus       Kind = "status"
)

// Peer is the presentation view of a registry entry.
type Peer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Port     int       `json:"port"`
	LastSeen time.Time `json:"last_seen"`
}

// Group is the presentation view of a group.
type Group struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	CreatorID   string            `json:"creator_id"`
	Members     []string          `json:"members"`
	MemberNames map[string]string `json:"member_names,omitempty"`
}

// Event is one notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind    Kind             `json:"kind"`
	Time    time.Time        `json:"time"`
	Message *message.Message `json:"message,omitempty"`
	Peer    *Peer            `json:"peer,omitempty"`
	Peers   []Peer           `json:"peers,omitempty"`
	Group   *Group           `json:"group,omitempty"`
	Source  string           `json:"source,omitempty"`
	Text    string           `json:"text,omitempty"`
}

// Observer receives events. OnEvent is called from node worker goroutines
// and must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Discard drops every event.
var Discard Observer = ObserverFunc(func(Event) {})

type multi []Observer

func (m multi) OnEvent(e Event) {
	for _, o := range m {
		o.OnEvent(e)
	}
}

// Multi fans events out to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	switch len(m) {
	case 0:
		return Discard
	case 1:
		return m[0]
	}
	return m
}

// Recorder is an Observer that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// OnEvent appends e.
func (r *Recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// WaitFor polls until match returns true for some recorded event or the
// timeout expires.
func (r *Recorder) WaitFor(timeout time.Duration, match func(Event) bool) (Event, bool) {
	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		for _, e := range r.events {
			if match(e) {
				r.mu.Unlock()
				return e, true
			}
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			return Event{}, false
		}
		time.Sleep(10 * time.Millisecond)
	}
}
