// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPErrorMapping(t *testing.T) {
	for status, sentinel := range map[int]error{
		401: ErrUnauthorized,
		403: ErrUnauthorized,
		404: ErrNotFound,
		429: ErrRateLimited,
	} {
		err := &HTTPError{StatusCode: status, Status: fmt.Sprintf("%d status", status)}
		assert.ErrorIs(t, err, sentinel, "status %d", status)
	}

	assert.NotErrorIs(t, &HTTPError{StatusCode: 500}, ErrNotFound)
}

func TestHTTPErrorRetryable(t *testing.T) {
	for _, status := range []int{400, 418, 429, 451, 500, 502, 503, 504} {
		assert.True(t, (&HTTPError{StatusCode: status}).IsRetryable(), "status %d", status)
	}
	for _, status := range []int{401, 403, 404} {
		assert.False(t, (&HTTPError{StatusCode: status}).IsRetryable(), "status %d", status)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []error{
		ErrNotFound,
		ErrUnauthorized,
		fmt.Errorf("wrapped: %w", ErrNotFound),
		&HTTPError{StatusCode: 404},
		&HTTPError{StatusCode: 403},
		&EtagError{Etag: `""`},
		&SizeMismatchError{Path: "f", Expected: 2, Actual: 1},
	}
	for _, err := range terminal {
		assert.True(t, isTerminal(err), "%v", err)
	}

	transient := []error{
		&HTTPError{StatusCode: 500},
		&HTTPError{StatusCode: 429},
		&HTTPError{StatusCode: 400},
		errors.New("connection reset"),
		&FSError{Op: "write", Path: "f", Err: fs.ErrPermission},
	}
	for _, err := range transient {
		assert.False(t, isTerminal(err), "%v", err)
	}
}

func TestFSErrorUnwrap(t *testing.T) {
	err := &FSError{Op: "open", Path: "/x", Err: fs.ErrNotExist}
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
