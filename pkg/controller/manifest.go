// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/nepos-io/updatecore/pkg/engine"
)

// manifest mirrors the response JSON documented in spec §4.5: build_id,
// rootfs, rootfs_sha512, bootimg, bootimg_sha512, rootfs_deltas,
// bootimg_deltas, signature. The two *_deltas fields are URL prefixes;
// Check appends "{current_version}.vcdiff" to form the full delta URL.
type manifest struct {
	BuildID       uint64 `json:"build_id"`
	Rootfs        string `json:"rootfs"`
	RootfsSha512  string `json:"rootfs_sha512"`
	Bootimg       string `json:"bootimg"`
	BootimgSha512 string `json:"bootimg_sha512"`
	RootfsDeltas  string `json:"rootfs_deltas"`
	BootimgDeltas string `json:"bootimg_deltas"`
	Signature     string `json:"signature"`
}

func parseManifest(b []byte, m *manifest) error {
	if err := json.Unmarshal(b, m); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	return nil
}

// toAvailableUpdate builds the engine's AvailableUpdate from the parsed
// manifest and the version currently running, forming the full delta
// URLs by appending "{current_version}.vcdiff" to each *_deltas prefix.
func (m manifest) toAvailableUpdate(currentVersion uint64) engine.AvailableUpdate {
	suffix := strconv.FormatUint(currentVersion, 10) + ".vcdiff"
	return engine.AvailableUpdate{
		Version:           m.BuildID,
		RootfsURL:         m.Rootfs,
		RootfsSha512Hex:   m.RootfsSha512,
		BootimgURL:        m.Bootimg,
		BootimgSha512Hex:  m.BootimgSha512,
		RootfsDeltaURL:    deltaURL(m.RootfsDeltas, suffix),
		BootimgDeltaURL:   deltaURL(m.BootimgDeltas, suffix),
		SignatureURL:      m.Signature,
	}
}

func deltaURL(prefix, suffix string) string {
	if prefix == "" {
		return ""
	}
	return prefix + suffix
}

// fetchManifest builds the per-model manifest URL and issues the GET
// with the five identity headers required by spec §4.5, following at
// most one redirect (enforced by c.client.CheckRedirect).
func (c *Controller) fetchManifest(ctx context.Context, channel string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s.json", c.cfg.UpdateBaseURL, c.pm.Model(), channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-nepos-current", strconv.FormatUint(c.pm.OSVersion(), 10))
	req.Header.Set("X-nepos-machine-id", c.pm.MachineID())
	req.Header.Set("X-nepos-device-model", c.pm.Model())
	req.Header.Set("X-nepos-device-revision", c.pm.DeviceRevision())
	req.Header.Set("X-nepos-device-serial", c.pm.DeviceSerial())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// fetchNoRedirect issues a GET that follows zero redirect hops, used for
// the signature URL per spec §6.
func (c *Controller) fetchNoRedirect(ctx context.Context, url string) ([]byte, error) {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
