// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

// Subpackages implement an A/B firmware update core: manifest check and
// signature verification (pkg/controller, pkg/verify), delta-first,
// full-image-fallback installation into the inactive partitions
// (pkg/engine, pkg/vcdiff, pkg/sink, pkg/imagesize), and lifecycle event
// and diagnostics delivery (pkg/eventbus, pkg/diag). cmd/updatecored is
// the daemon; cmd/util/currentBoot reports the partition mapping.
//
package gprovision
