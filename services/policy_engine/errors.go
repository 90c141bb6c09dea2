// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import "errors"

// ErrGuardrailViolation is the sentinel for every blocking-mode rejection.
//
// A guardrail violation is a hard stop. Callers must not retry or continue
// with the rejected text.
var ErrGuardrailViolation = errors.New("guardrail violation")

// GuardrailViolationError reports which category of the taxonomy a text
// violated. Message is safe to show to the caller; Violations are for logs.
type GuardrailViolationError struct {
	Category   Category
	Message    string
	Violations []Violation
}

func (e *GuardrailViolationError) Error() string {
	return "GUARDRAIL VIOLATION (" + string(e.Category) + "): " + e.Message
}

// Is lets errors.Is(err, ErrGuardrailViolation) match any GuardrailViolationError.
func (e *GuardrailViolationError) Is(target error) bool {
	return target == ErrGuardrailViolation
}

// IsGuardrailViolation reports whether err is or wraps a guardrail violation
// and returns it.
func IsGuardrailViolation(err error) (*GuardrailViolationError, bool) {
	var gv *GuardrailViolationError
	if errors.As(err, &gv) {
		return gv, true
	}
	return nil, false
}
