// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"fmt"
)

// TransportError reports that an instance could not be reached or returned a
// response that could not be used.
type TransportError struct {
	Instance string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("instance %s: %s: %v", e.Instance, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ActionError reports that a single mutating call against a child failed.
type ActionError struct {
	Instance string
	Action   SyncAction
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("instance %s: %s %s: %v", e.Instance, e.Action.Kind, e.Action.Hash, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
