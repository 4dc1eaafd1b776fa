//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Event sinks.
//

package mocknet

import (
	"errors"
	"sync"
)

// EventSink receives the events emitted by a [*Service].
//
// Events are delivered synchronously. Returning an error means the
// owner of the service is gone, which the service treats as fatal.
type EventSink interface {
	Send(ev Event) error
}

// SinkFunc adapts a function to the [EventSink] interface.
type SinkFunc func(ev Event) error

var _ EventSink = SinkFunc(nil)

// Send implements [EventSink].
func (fx SinkFunc) Send(ev Event) error {
	return fx(ev)
}

// ErrSinkFull is returned by [ChanSink] when the channel is full.
var ErrSinkFull = errors.New("mocknet: event channel is full")

// ChanSink is an [EventSink] posting events on a buffered channel.
//
// A full channel makes Send fail with [ErrSinkFull], which the service
// treats as fatal and panics, possibly in the middle of
// [*Network.Drain]. Size the buffer for the whole scenario, or use a
// [*Recorder], which never fails, when the number of events is not
// known in advance.
type ChanSink chan Event

var _ EventSink = ChanSink(nil)

// Send implements [EventSink]. It never blocks.
func (ch ChanSink) Send(ev Event) error {
	select {
	case ch <- ev:
		return nil
	default:
		return ErrSinkFull
	}
}

// Recorder is an [EventSink] remembering all the events it receives.
//
// The zero value is ready to use.
type Recorder struct {
	// events contains the recorded events.
	events []Event

	// mu provides mutual exclusion.
	mu sync.Mutex
}

var _ EventSink = &Recorder{}

// Send implements [EventSink].
func (r *Recorder) Send(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event{}, r.events...)
}

// Take returns the recorded events and forgets them.
func (r *Recorder) Take() []Event {
	r.mu.Lock()
	events := r.events
	r.events = nil
	r.mu.Unlock()
	return events
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
