// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/seestar-tools/seestarlink/pkg/codec"
)

// Subscription is a per-subscriber stream of telescope events. Events are
// delivered in wire-arrival order. Closing a subscription stops delivery
// to it without affecting other subscribers.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string

	names map[string]struct{}
	ch    chan codec.Event
	s     *Session
	once  sync.Once
}

// Subscribe registers an event subscriber. With no names, every event is
// delivered; otherwise only events whose Name matches one of the given
// names. The channel is buffered; a subscriber that falls behind loses
// events rather than stalling the read loop.
func (s *Session) Subscribe(names ...string) *Subscription {
	sub := &Subscription{
		ID:    uuid.New().String(),
		ch:    make(chan codec.Event, 32),
		s:     s,
		names: make(map[string]struct{}, len(names)),
	}
	for _, n := range names {
		sub.names[n] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
		// Session already closed: hand back a drained, closed stream.
		sub.once.Do(func() { close(sub.ch) })
		return sub
	default:
	}
	s.subs[sub.ID] = sub
	return sub
}

// Events returns the receive channel. It is closed when the subscription
// or the session is closed.
func (sub *Subscription) Events() <-chan codec.Event {
	return sub.ch
}

// Close cancels the subscription.
func (sub *Subscription) Close() {
	sub.s.mu.Lock()
	delete(sub.s.subs, sub.ID)
	sub.s.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

func (sub *Subscription) matches(name string) bool {
	if len(sub.names) == 0 {
		return true
	}
	_, ok := sub.names[name]
	return ok
}
