// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package eventbus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nepos-io/updatecore/pkg/eventbus/pb"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.UpdateAvailable(7)

	select {
	case evt := <-ch:
		if evt.Kind != pb.EventKind_UPDATE_AVAILABLE || evt.Version != 7 {
			t.Fatalf("got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestLastRemembersMostRecent(t *testing.T) {
	b := New()
	if b.Last() != nil {
		t.Fatal("expected nil before any event")
	}
	b.CheckFailed("boom")
	last := b.Last()
	if last == nil || last.Kind != pb.EventKind_CHECK_FAILED || last.Reason != "boom" {
		t.Fatalf("got %+v", last)
	}
}

func TestHTTPLastEndpoint(t *testing.T) {
	b := New()
	b.UpdateSucceeded()

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events/last")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got httpEvent
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != "UPDATE_SUCCEEDED" {
		t.Errorf("kind = %q, want UPDATE_SUCCEEDED", got.Kind)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_, unsubscribe := b.Subscribe() // never drained
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueLen+10; i++ {
			b.UpdateProgress(float64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber queue")
	}
}
