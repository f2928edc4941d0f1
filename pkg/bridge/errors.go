// Copyright 2024-2026 Aiku AI

package bridge

import (
	"errors"
	"fmt"
)

// ErrSubchannelMissing is returned by destination sends and existence checks
// when the sub-channel has been deleted on the platform. It triggers stale
// mapping recovery: the mapping is dropped and recreated on the next message.
var ErrSubchannelMissing = errors.New("subchannel no longer exists")

// ErrNoCredentials signals that recovery cannot proceed because the source
// has nothing to log in with. It is fatal to the bridge.
var ErrNoCredentials = errors.New("no credentials available")

// AuthError wraps an auth-class failure from a collaborator. The lifecycle
// controller reacts by pausing dispatch and running re-login with backoff.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth failure during %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is (or wraps) an auth-class failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
