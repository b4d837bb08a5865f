// SPDX-License-Identifier: GPL-2.0-or-later

package writer

import (
	"errors"
	"fmt"
)

// Errors.
var (
	ErrPoolUnavailable   = errors.New("pixel buffer pool unavailable")
	ErrSessionNotStarted = errors.New("session not started")
	ErrSessionCanceled   = errors.New("session canceled")
	ErrQueueClosed       = errors.New("media queue closed")
)

// StartError the sink refused to start or the
// pixel buffer pool could not be created.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start session: %v", e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// SinkError wraps a failure reported by the sink.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink: %v", e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
