// Copyright (C) 2015-2020 the Gprovision Authors. All Rights Reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// SPDX-License-Identifier: BSD-3-Clause
//

package diag

import (
	"bytes"
	"fmt"
	"io"
	"os"
	fp "path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/ulikunitz/xz"

	"github.com/nepos-io/updatecore/pkg/log"
)

// Write compresses the bundle with xz and delivers it per opts: a local
// file under opts.LocalDir if set, otherwise an S3 upload under
// opts.S3Bucket/opts.S3Prefix, otherwise it is silently discarded -
// exactly stream.Write's precedence.
func Write(opts Opts, b Bundle) error {
	compressed, err := compress(b.Serialize())
	if err != nil {
		return fmt.Errorf("compressing diag bundle: %w", err)
	}
	name := b.Name() + ".xz"

	if opts.LocalDir != "" {
		f, err := os.Create(fp.Join(opts.LocalDir, name))
		if err != nil {
			return err
		}
		defer f.Close()
		log.Logf("diag: writing bundle to local file %s", f.Name())
		_, err = io.Copy(f, compressed)
		return err
	}
	if opts.S3Bucket == "" {
		log.Logln("diag: no bucket defined, discarding diag bundle")
		return nil
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(opts.Region)})
	if err != nil {
		return fmt.Errorf("creating aws session: %w", err)
	}
	uploader := s3manager.NewUploader(sess)
	uploader.Concurrency = 1

	key := fp.Join(opts.S3Prefix, name)
	_, err = uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(opts.S3Bucket),
		Key:    aws.String(key),
		Body:   compressed,
	})
	if err != nil {
		return fmt.Errorf("uploading diag bundle: %w", err)
	}
	log.Logln("diag: uploaded to", opts.S3Bucket, key)
	return nil
}

func compress(r io.Reader) (io.Reader, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(w, r); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
