// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package controller

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/prologic/bitcask"
)

var historyKey = []byte("last_check")

// HistoryStore persists the last version seen and the time it was seen
// across daemon restarts, backed by an on-disk bitcask store. One entry
// only; a trivial use of the store, guarded by a single mutex: not for any
// serious concurrent workload.
type HistoryStore struct {
	bc *bitcask.Bitcask
	sync.Mutex
}

// OpenHistory opens (creating if absent) the history store rooted at path.
func OpenHistory(path string) (*HistoryStore, error) {
	bc, err := bitcask.Open(path)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{bc: bc}, nil
}

// RecordCheck stores version and t as the most recent check outcome.
func (h *HistoryStore) RecordCheck(version uint64, t time.Time) error {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(t.Unix()))
	h.Lock()
	defer h.Unlock()
	return h.bc.Put(historyKey, buf)
}

// LastCheck returns the most recently recorded version and time. ok is
// false if no check has ever been recorded.
func (h *HistoryStore) LastCheck() (version uint64, unixTime int64, ok bool) {
	h.Lock()
	v, err := h.bc.Get(historyKey)
	h.Unlock()
	if err != nil || len(v) < 16 {
		return 0, 0, false
	}
	version = binary.LittleEndian.Uint64(v[0:8])
	unixTime = int64(binary.LittleEndian.Uint64(v[8:16]))
	return version, unixTime, true
}

func (h *HistoryStore) Close() error {
	h.Lock()
	defer h.Unlock()
	return h.bc.Close()
}
