// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package gateway

import (
	"errors"
	"fmt"
)

// ProviderError is returned when the provider rejects a command or cannot be
// reached
type ProviderError struct {
	Op      string
	Code    int
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("provider %s failed (code %d, status %d): %s", e.Op, e.Code, e.Status, msg)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Op, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AsProviderError returns err as a ProviderError for op, wrapping it if it is
// not one already
func AsProviderError(op string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Op: op, Err: err}
}
