// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bmizerany/pat"

	"github.com/nepos-io/updatecore/pkg/eventbus/pb"
)

// httpEvent is the JSON shape served over HTTP; field names match the
// pb.Event fields but use the lower_snake_case the manifest and the
// rest of the HTTP surface uses.
type httpEvent struct {
	Kind     string  `json:"kind"`
	Version  uint64  `json:"version,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Fraction float64 `json:"fraction,omitempty"`
}

func toHTTPEvent(e *pb.Event) httpEvent {
	return httpEvent{
		Kind:     e.Kind.String(),
		Version:  e.Version,
		Reason:   e.Reason,
		Fraction: e.Fraction,
	}
}

// longPollTimeout bounds how long /events/next blocks waiting for a new
// event before returning 204 No Content.
const longPollTimeout = 25 * time.Second

func (b *Bus) handleLast(w http.ResponseWriter, r *http.Request) {
	last := b.Last()
	w.Header().Set("Content-Type", "application/json")
	if last == nil {
		w.Write([]byte("null"))
		return
	}
	json.NewEncoder(w).Encode(toHTTPEvent(last))
}

func (b *Bus) handleNext(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(r.Context(), longPollTimeout)
	defer cancel()

	select {
	case evt, ok := <-ch:
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toHTTPEvent(evt))
	case <-ctx.Done():
		w.WriteHeader(http.StatusNoContent)
	}
}

// Handler returns the HTTP mux for the event bus: GET /events/last
// returns the most recent event (or null), GET /events/next long-polls
// for the next one.
func (b *Bus) Handler() http.Handler {
	mux := pat.New()
	mux.Get("/events/last", http.HandlerFunc(b.handleLast))
	mux.Get("/events/next", http.HandlerFunc(b.handleNext))
	return mux
}
