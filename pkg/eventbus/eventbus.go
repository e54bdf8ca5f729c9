// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Package eventbus fans the controller's six lifecycle events out to any
// number of gRPC and HTTP subscribers, multiplexed on one listening port
// via cmux exactly as the original all-in-one server does for its own
// gRPC/HTTP split.
package eventbus

import (
	"sync"

	"github.com/nepos-io/updatecore/pkg/eventbus/pb"
	"github.com/nepos-io/updatecore/pkg/log"
)

// subscriberQueueLen bounds how far a slow subscriber can lag before
// new events are dropped for it rather than blocking the publisher.
const subscriberQueueLen = 32

// Bus implements controller.EventSink, broadcasting every event to all
// current subscribers and remembering the most recent one so a new HTTP
// poller has something to show immediately.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan *pb.Event]struct{}
	last  *pb.Event
}

func New() *Bus {
	return &Bus{subs: make(map[chan *pb.Event]struct{})}
}

func (b *Bus) publish(evt *pb.Event) {
	b.mu.Lock()
	b.last = evt
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
			log.Logf("eventbus: subscriber lagging, dropping %s", evt.Kind)
		}
	}
	b.mu.Unlock()
}

// Subscribe registers a new channel that receives every future event.
// unsubscribe must be called when the caller is done listening.
func (b *Bus) Subscribe() (ch chan *pb.Event, unsubscribe func()) {
	ch = make(chan *pb.Event, subscriberQueueLen)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
}

// Last returns the most recently published event, or nil if none yet.
func (b *Bus) Last() *pb.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *Bus) UpdateAvailable(version uint64) {
	b.publish(&pb.Event{Kind: pb.EventKind_UPDATE_AVAILABLE, Version: version})
}

func (b *Bus) AlreadyUpToDate() {
	b.publish(&pb.Event{Kind: pb.EventKind_ALREADY_UP_TO_DATE})
}

func (b *Bus) CheckFailed(reason string) {
	b.publish(&pb.Event{Kind: pb.EventKind_CHECK_FAILED, Reason: reason})
}

func (b *Bus) UpdateProgress(fraction float64) {
	b.publish(&pb.Event{Kind: pb.EventKind_UPDATE_PROGRESS, Fraction: fraction})
}

func (b *Bus) UpdateSucceeded() {
	b.publish(&pb.Event{Kind: pb.EventKind_UPDATE_SUCCEEDED})
}

func (b *Bus) UpdateFailed() {
	b.publish(&pb.Event{Kind: pb.EventKind_UPDATE_FAILED})
}
