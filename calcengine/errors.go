// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calcengine

import (
	"errors"
	"fmt"
)

// ErrIdentityCollision is returned when a short id is reused for a long id
// that does not match the one already recorded in the id map.
var ErrIdentityCollision = errors.New("calcengine: short id collision with distinct long id")

// ErrNodeNotFound reports a node that is not present in the cache. No
// operation in this package returns it: Invalidate, SetValue and
// SetValueAndInvalidate all accept a node that was never computed.
var ErrNodeNotFound = errors.New("calcengine: node not present in cache")

// UnhashableArgError reports that an argument could not be folded into a
// node identity. Mirrors the classify-then-report pattern used for
// EmptyResponseError in the agent/llm provider adapters: a small struct
// implementing error, inspectable with errors.As instead of string matching.
type UnhashableArgError struct {
	FQN   string
	Index int
	Value any
}

func (e *UnhashableArgError) Error() string {
	return fmt.Sprintf("calcengine: argument %d of %s is not hashable: %#v", e.Index, e.FQN, e.Value)
}

// UserFunctionError wraps a panic recovered from a user-registered function.
// It is only produced when the underlying call panics; an ordinary error
// return from the user function is never altered or wrapped by the engine,
// per the "never wraps user exceptions" rule.
type UserFunctionError struct {
	FQN   string
	Panic any
}

func (e *UserFunctionError) Error() string {
	return fmt.Sprintf("calcengine: %s panicked: %v", e.FQN, e.Panic)
}

func (e *UserFunctionError) Unwrap() error {
	if err, ok := e.Panic.(error); ok {
		return err
	}
	return nil
}
