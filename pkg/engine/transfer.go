// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"
)

const transferChunkSize = 32 * 1024

// stream performs a streaming GET of url, handing each chunk to consume
// as it arrives (never buffering the whole body), and calling progress
// with a running fraction of Content-Length when that header is present.
// A reader goroutine and a consumer goroutine run under one errgroup so
// an error from either side cancels the transfer promptly; both
// goroutines, and the *http.Request/*http.Response they touch, belong to
// this Engine's worker task, never shared with any other goroutine
// outside it.
func (e *Engine) stream(ctx context.Context, url string, consume func([]byte) error, progress func(float64)) error {
	g, gctx := errgroup.WithContext(ctx)

	req, err := http.NewRequestWithContext(gctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	total := resp.ContentLength // -1 if unknown; progress becomes a no-op fraction until final call

	type chunk struct {
		data []byte
		err  error
	}
	chunks := make(chan chunk, 4)

	g.Go(func() error {
		defer close(chunks)
		buf := make([]byte, transferChunkSize)
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			n, err := resp.Body.Read(buf)
			if n > 0 {
				cp := make([]byte, n)
				copy(cp, buf[:n])
				select {
				case chunks <- chunk{data: cp}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		received := int64(0)
		watchdog := newWatchdog(idleWatchdog)
		defer watchdog.stop()
		for {
			select {
			case c, ok := <-chunks:
				if !ok {
					return nil
				}
				if c.err != nil {
					return c.err
				}
				watchdog.reset()
				if err := consume(c.data); err != nil {
					return err
				}
				received += int64(len(c.data))
				if total > 0 && progress != nil {
					progress(float64(received) / float64(total))
				}
			case <-watchdog.expired():
				return errWatchdog
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if progress != nil {
		progress(1)
	}
	return nil
}
