// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package enforcement bakes the prohibited-language rule table into the binary.
The built-in rules travel with the executable and cannot be removed by editing
files on the host; operators may only layer additional rules on top.
*/
package enforcement

import (
	_ "embed"
)

// ProhibitedLanguageRules holds the raw bytes of prohibited_language.yaml.
//
// Usage:
//
//	err := yaml.Unmarshal(enforcement.ProhibitedLanguageRules, &ruleFile)
//
//go:embed prohibited_language.yaml
var ProhibitedLanguageRules []byte
