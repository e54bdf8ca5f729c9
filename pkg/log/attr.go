// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package log

import "errors"

var attrs = make(map[string]interface{})

var EAttrExists = errors.New("attribute already set")

// GetAttr fetches a process-wide log attribute (e.g. serial number) set
// earlier via SetAttr.
func GetAttr(key string) (interface{}, bool) {
	v, ok := attrs[key]
	return v, ok
}

// SetAttr sets a process-wide log attribute. Returns EAttrExists if the key
// is already set, since attributes like serial number should not silently
// change mid-run.
func SetAttr(key string, val interface{}) error {
	if _, exists := attrs[key]; exists {
		return EAttrExists
	}
	attrs[key] = val
	return nil
}

// ClearAttrs removes all attributes; used by tests.
func ClearAttrs() {
	attrs = make(map[string]interface{})
}
