// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// OpenPGPVerifier checks a detached signature using an in-process OpenPGP
// implementation instead of shelling out to gpg. The spec explicitly
// allows substituting "a library-level OpenPGP verifier with equivalent
// semantics, provided the keyring discipline matches the daemon's
// configured trust root" - this is that substitute. Useful in minimal
// container images that don't want to carry a gpg binary.
type OpenPGPVerifier struct {
	KeyRing openpgp.EntityList
}

// NewOpenPGPVerifier loads an ASCII- or binary-armored keyring from
// keyringPath as the trust root.
func NewOpenPGPVerifier(keyringPath string) (*OpenPGPVerifier, error) {
	f, err := os.Open(keyringPath)
	if err != nil {
		return nil, &Error{Kind: IoError, Err: err}
	}
	defer f.Close()

	kr, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		if _, serr := f.Seek(0, 0); serr == nil {
			kr, err = openpgp.ReadKeyRing(f)
		}
	}
	if err != nil {
		return nil, &Error{Kind: SignatureInvalid, Err: fmt.Errorf("loading keyring: %w", err)}
	}
	return &OpenPGPVerifier{KeyRing: kr}, nil
}

func (o *OpenPGPVerifier) Verify(ctx context.Context, contentPath, sigPath string) error {
	content, err := os.Open(contentPath)
	if err != nil {
		return &Error{Kind: IoError, Err: err}
	}
	defer content.Close()

	sigBytes, err := os.ReadFile(sigPath)
	if err != nil {
		return &Error{Kind: IoError, Err: err}
	}

	_, err = openpgp.CheckDetachedSignature(o.KeyRing, content, bytes.NewReader(sigBytes), nil)
	if err != nil {
		return &Error{Kind: SignatureInvalid, Err: err}
	}
	return nil
}

var _ SignatureVerifier = (*OpenPGPVerifier)(nil)
