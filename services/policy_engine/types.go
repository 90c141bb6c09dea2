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

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Category is a branch of the prohibited-language taxonomy.
type Category string

const (
	CategoryDisciplinary Category = "disciplinary"
	CategoryRanking      Category = "ranking"
	CategoryGrading      Category = "grading"
)

// RuleFile is the on-disk shape of a rule table.
type RuleFile struct {
	Categories []CategoryDef `yaml:"categories"`
	Rules      []Rule        `yaml:"rules"`
}

// CategoryDef describes one category and the message shown on rejection.
type CategoryDef struct {
	Name     Category `yaml:"name"`
	Priority int      `yaml:"priority"`
	Message  string   `yaml:"message"`
}

// Rule is one entry of the rule table. Exactly one of Keywords or Regex is set.
type Rule struct {
	ID          string   `yaml:"id"`
	Category    Category `yaml:"category"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Regex       string   `yaml:"regex"`

	foldedKeywords []string
	compiled       *regexp.Regexp
}

func (c *Category) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("category name must not be empty")
	}
	*c = Category(strings.ToLower(strings.TrimSpace(s)))
	return nil
}

// compile prepares keyword and regex rules for scanning.
//
// Keywords are case-folded once here so Scan only folds the input text.
// Regexes are compiled case-insensitively.
func (f *RuleFile) compile(fold cases.Caser) error {
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		hasKeywords := len(r.Keywords) > 0
		hasRegex := r.Regex != ""
		if hasKeywords == hasRegex {
			return fmt.Errorf("rule %s must set exactly one of keywords or regex", r.ID)
		}
		if hasRegex {
			re, err := regexp.Compile("(?i)" + r.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex for rule %s: %w", r.ID, err)
			}
			r.compiled = re
			continue
		}
		r.foldedKeywords = make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if strings.TrimSpace(kw) == "" {
				return fmt.Errorf("rule %s has an empty keyword", r.ID)
			}
			r.foldedKeywords = append(r.foldedKeywords, fold.String(kw))
		}
	}
	return nil
}

// sortCategoriesByPriority orders categories highest priority first.
func (f *RuleFile) sortCategoriesByPriority() {
	sort.SliceStable(f.Categories, func(i, j int) bool {
		return f.Categories[i].Priority > f.Categories[j].Priority
	})
}

// Violation is a single rule match.
//
// Pattern holds the keyword or regex source that matched. It is for logs and
// operators only; it must not be sent to end users.
type Violation struct {
	RuleID      string   `json:"rule_id"`
	Category    Category `json:"category"`
	Pattern     string   `json:"-"`
	MatchedText string   `json:"matched_text"`
}

// ScanResult is the outcome of scanning one text.
type ScanResult struct {
	IsClean    bool        `json:"is_clean"`
	Violations []Violation `json:"violations,omitempty"`
}

// Categories returns the distinct categories in the result, in first-seen order.
func (r ScanResult) Categories() []Category {
	seen := make(map[Category]bool, len(r.Violations))
	var out []Category
	for _, v := range r.Violations {
		if !seen[v.Category] {
			seen[v.Category] = true
			out = append(out, v.Category)
		}
	}
	return out
}

// ContentViolation is the fixed response body used in reporting mode.
type ContentViolation struct {
	Error      string     `json:"error"`
	Message    string     `json:"message"`
	Details    string     `json:"details"`
	Categories []Category `json:"categories"`
}

// NewContentViolation builds the reporting-mode response for a failed scan.
func NewContentViolation(result ScanResult) ContentViolation {
	return ContentViolation{
		Error:      "Content Violation",
		Message:    "Response blocked by ethical guardrails",
		Details:    "Content contains prohibited disciplinary language",
		Categories: result.Categories(),
	}
}
