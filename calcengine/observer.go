// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine

import (
	"log/slog"
	"sync"
)

// Subscriber is one callback attached to a node's event channel. Extra
// positional arguments are accepted but, as in the source, unused by the
// core — only the produced/assigned value is meaningful to the engine.
type Subscriber func(value any, extra ...any)

// EventChannel is an ordered list of subscribers delivered synchronously
// in subscription order, the 4.D Observers component. A panicking
// subscriber is recovered, logged, and does not prevent the remaining
// subscribers from running nor roll back the cache write that triggered
// the event (spec.md §4.D, §7 ObserverError).
type EventChannel struct {
	mu          sync.Mutex
	subscribers []Subscriber
	logger      *slog.Logger
	name        string
}

func newEventChannel(name string, logger *slog.Logger) *EventChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventChannel{name: name, logger: logger}
}

// Subscribe appends s to the channel's ordered subscriber list.
func (e *EventChannel) Subscribe(s Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, s)
}

// fire delivers value to every subscriber in subscription order.
func (e *EventChannel) fire(value any, extra ...any) {
	e.mu.Lock()
	subs := make([]Subscriber, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	for _, sub := range subs {
		e.invokeSafely(sub, value, extra...)
	}
}

func (e *EventChannel) invokeSafely(sub Subscriber, value any, extra ...any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("observer panicked, continuing",
				slog.String("channel", e.name),
				slog.Any("recovered", r))
		}
	}()
	sub(value, extra...)
}

// Len reports the number of subscribers, used by tests and diagnostics.
func (e *EventChannel) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}
