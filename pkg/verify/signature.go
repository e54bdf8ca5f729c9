// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package verify

import (
	"context"
	"os/exec"
	"time"

	"github.com/google/shlex"

	"github.com/nepos-io/updatecore/pkg/log"
)

// SignatureVerifier checks a detached signature over a content file. The
// call-out to an external verifier is a leaf effect isolated behind this
// capability, so tests can inject a fake implementation without touching
// a real keyring.
type SignatureVerifier interface {
	Verify(ctx context.Context, contentPath, sigPath string) error
}

// GpgVerifier shells out to a system gpg binary with arguments equivalent
// to "--quiet --verify <sig> <content>", per the spec's default contract.
// The command line is configurable and tokenized with shlex so an
// operator can add e.g. "--homedir" without the daemon needing to know
// about every possible gpg flag.
type GpgVerifier struct {
	// Command is the gpg invocation up to but not including the
	// signature and content paths, e.g. "gpg --quiet --verify". Defaults
	// to "/usr/bin/gpg --quiet --verify" if empty.
	Command string
	Timeout time.Duration
}

func (g *GpgVerifier) Verify(ctx context.Context, contentPath, sigPath string) error {
	cmdline := g.Command
	if cmdline == "" {
		cmdline = "/usr/bin/gpg --quiet --verify"
	}
	args, err := shlex.Split(cmdline)
	if err != nil {
		return &Error{Kind: SignatureInvalid, Err: err}
	}
	args = append(args, sigPath, contentPath)

	timeout := g.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Logf("gpg verify failed: %s\noutput: %s", err, out)
		return &Error{Kind: SignatureInvalid, Err: err}
	}
	return nil
}

var _ SignatureVerifier = (*GpgVerifier)(nil)
