// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enforcement

import (
	"crypto/sha256"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestEmbeddedRuleTableIntegrity(t *testing.T) {
	if len(ProhibitedLanguageRules) == 0 {
		t.Fatal("embedded rule table is empty; was prohibited_language.yaml included in the build?")
	}

	var dump struct {
		Categories []map[string]any `yaml:"categories"`
		Rules      []map[string]any `yaml:"rules"`
	}
	if err := yaml.Unmarshal(ProhibitedLanguageRules, &dump); err != nil {
		t.Fatalf("embedded rule table is not valid YAML: %v", err)
	}
	if len(dump.Categories) != 3 {
		t.Errorf("expected 3 categories, got %d", len(dump.Categories))
	}
	if len(dump.Rules) == 0 {
		t.Fatal("embedded rule table has no rules")
	}

	hash := sha256.Sum256(ProhibitedLanguageRules)
	t.Logf("Current rule table hash: %x", hash)
}
