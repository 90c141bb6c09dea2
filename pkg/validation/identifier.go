// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// Identifiers taken from URL paths end up inside storage keys, audit
// resource names and notification subjects. Validating them at the edge
// keeps separators and control characters out of all three.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier is wrapped by every validation failure.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// MaxIdentifierLength bounds user, check-in, deviation and insight IDs.
const MaxIdentifierLength = 128

// identifierPattern allows letters, digits and the punctuation seen in
// UUIDs, emails and chat-platform IDs. The first character must be
// alphanumeric.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@:\-]*$`)

// ValidateIdentifier checks one identifier.
//
// Valid identifiers:
//   - 1-128 characters
//   - Letters and digits
//   - Dots, underscores, hyphens, colons and @ after the first character
//
// kind names the identifier in the error, e.g. "userId".
//
// Example:
//
//	if err := validation.ValidateIdentifier("userId", c.Param("userId")); err != nil {
//	    return err
//	}
func ValidateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s cannot be empty", ErrInvalidIdentifier, kind)
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("%w: %s longer than %d characters", ErrInvalidIdentifier, kind, MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("%w: %s %q contains unsupported characters", ErrInvalidIdentifier, kind, id)
	}
	return nil
}

// ValidateIdentifiers validates multiple identifiers of one kind.
// Returns an error listing all invalid values if any fail validation.
func ValidateIdentifiers(kind string, ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateIdentifier(kind, id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s values %q", ErrInvalidIdentifier, kind, invalid)
	}
	return nil
}

// SanitizeIdentifier trims surrounding whitespace and validates the result.
func SanitizeIdentifier(kind, id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateIdentifier(kind, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
