// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// verifySHA256 checks a file against an expected hex-encoded SHA-256 hash.
func verifySHA256(path, expectedHex string) error {
	f, err := os.Open(path)
	if err != nil {
		return &FSError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	expected := digest.NewDigestFromEncoded(digest.SHA256, expectedHex)
	verifier := expected.Verifier()
	if _, err := io.Copy(verifier, f); err != nil {
		return &FSError{Op: "read", Path: path, Err: err}
	}
	if !verifier.Verified() {
		actual, derr := fileDigest(path)
		if derr != nil {
			actual = "unknown"
		}
		return &VerificationError{Path: path, Expected: expectedHex, Actual: actual}
	}
	return nil
}

// fileDigest computes the hex SHA-256 of a file's contents.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	d, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", err
	}
	return d.Encoded(), nil
}
