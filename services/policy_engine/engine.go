// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy_engine implements the content policy filter that keeps
// disciplinary, ranking and grading language away from managers.
//
// The filter has two call sites. Blocking mode (Enforce) is used on inbound
// requests and on every AI-derived string before it is returned; any
// violation is a hard stop. Reporting mode (ScanPayload, ScanBytes) is used at
// the HTTP boundary on payloads that are already being sent, and degrades the
// response to a fixed "Content Violation" body instead of raising.
package policy_engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/careos/careos/services/policy_engine/enforcement"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Scan modes, used as metric labels.
const (
	ModeBlocking  = "blocking"
	ModeReporting = "reporting"
)

const logSnippetLen = 100

const genericMessage = "This request conflicts with the ethical use policy. All AI outputs are advisory only and focused on wellbeing support."

// ViolationRecorder receives one call per violated category per scan.
type ViolationRecorder interface {
	RecordGuardrailViolation(mode string, category string)
}

type nopRecorder struct{}

func (nopRecorder) RecordGuardrailViolation(string, string) {}

// PolicyEngine scans text against the prohibited-language rule table.
//
// # Description
//
// The built-in table is embedded in the binary and loaded at construction.
// Extra rules may be layered on top with LoadExtraRules; they can add rules
// and categories but never remove or weaken built-in ones.
//
// # Thread Safety
//
// Safe for concurrent use. Reloading extra rules swaps them atomically under
// a write lock.
type PolicyEngine struct {
	mu         sync.RWMutex
	builtin    RuleFile
	extra      RuleFile
	categories map[Category]CategoryDef

	logger  *slog.Logger
	metrics ViolationRecorder
}

// Option configures a PolicyEngine.
type Option func(*PolicyEngine)

// WithLogger sets the engine logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *PolicyEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the violation recorder.
func WithMetrics(m ViolationRecorder) Option {
	return func(e *PolicyEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewPolicyEngine loads the embedded rule table.
//
// Returns an error if the embedded YAML is malformed or contains an invalid
// regex, which can only happen with a broken build.
func NewPolicyEngine(opts ...Option) (*PolicyEngine, error) {
	builtin, err := parseRuleFile(enforcement.ProhibitedLanguageRules)
	if err != nil {
		return nil, fmt.Errorf("failed to load the embedded rule table: %w", err)
	}

	e := &PolicyEngine{
		builtin: builtin,
		logger:  slog.Default(),
		metrics: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.categories = mergeCategories(builtin, RuleFile{})
	return e, nil
}

func parseRuleFile(data []byte) (RuleFile, error) {
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return RuleFile{}, fmt.Errorf("failed to unmarshal rule table: %w", err)
	}
	if err := f.compile(cases.Fold()); err != nil {
		return RuleFile{}, err
	}
	f.sortCategoriesByPriority()
	return f, nil
}

// mergeCategories combines built-in and extra categories. Built-in
// definitions win on name collision.
func mergeCategories(builtin, extra RuleFile) map[Category]CategoryDef {
	out := make(map[Category]CategoryDef, len(builtin.Categories)+len(extra.Categories))
	for _, c := range extra.Categories {
		out[c.Name] = c
	}
	for _, c := range builtin.Categories {
		out[c.Name] = c
	}
	return out
}

// LoadExtraRules replaces the layered extra rules with the table in data.
//
// Every rule must reference a category defined either in the built-in table
// or in data. On error the previous extra rules stay in effect.
func (e *PolicyEngine) LoadExtraRules(data []byte) error {
	extra, err := parseRuleFile(data)
	if err != nil {
		return err
	}
	cats := mergeCategories(e.builtin, extra)
	for _, r := range extra.Rules {
		if _, ok := cats[r.Category]; !ok {
			return fmt.Errorf("rule %s references unknown category %q", r.ID, r.Category)
		}
	}

	e.mu.Lock()
	e.extra = extra
	e.categories = cats
	e.mu.Unlock()

	e.logger.Info("Loaded extra policy rules", "rules", len(extra.Rules), "categories", len(extra.Categories))
	return nil
}

// LoadExtraRulesFile reads path and calls LoadExtraRules.
func (e *PolicyEngine) LoadExtraRulesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read extra rules %s: %w", path, err)
	}
	if err := e.LoadExtraRules(data); err != nil {
		return fmt.Errorf("invalid extra rules %s: %w", path, err)
	}
	return nil
}

// RuleCount returns the number of active rules, built-in plus extra.
func (e *PolicyEngine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.builtin.Rules) + len(e.extra.Rules)
}

// Scan checks text against every rule and collects all violations.
//
// Keyword rules match case-insensitively as substrings. Regex rules match
// case-insensitively anywhere in the text. The scan never short-circuits.
func (e *PolicyEngine) Scan(text string) ScanResult {
	folded := cases.Fold().String(text)

	e.mu.RLock()
	var violations []Violation
	violations = scanRules(e.builtin.Rules, text, folded, violations)
	violations = scanRules(e.extra.Rules, text, folded, violations)
	e.mu.RUnlock()

	return ScanResult{IsClean: len(violations) == 0, Violations: violations}
}

func scanRules(rules []Rule, text, folded string, out []Violation) []Violation {
	for i := range rules {
		r := &rules[i]
		if r.compiled != nil {
			if m := r.compiled.FindString(text); m != "" {
				out = append(out, Violation{
					RuleID:      r.ID,
					Category:    r.Category,
					Pattern:     r.compiled.String(),
					MatchedText: m,
				})
			}
			continue
		}
		for j, kw := range r.foldedKeywords {
			idx := strings.Index(folded, kw)
			if idx < 0 {
				continue
			}
			matched := kw
			// Folding can change byte lengths outside ASCII; only slice the
			// original when offsets still line up.
			if len(folded) == len(text) {
				matched = text[idx : idx+len(kw)]
			}
			out = append(out, Violation{
				RuleID:      r.ID,
				Category:    r.Category,
				Pattern:     r.Keywords[j],
				MatchedText: matched,
			})
		}
	}
	return out
}

// Enforce is the blocking-mode check.
//
// # Outputs
//
//   - error: nil when text is clean, otherwise a *GuardrailViolationError
//     naming the highest-priority violated category. The error matches
//     ErrGuardrailViolation with errors.Is.
func (e *PolicyEngine) Enforce(text string) error {
	result := e.Scan(text)
	if result.IsClean {
		return nil
	}
	e.record(ModeBlocking, result)

	category := e.primaryCategory(result)
	e.logger.Warn("Blocked prohibited language",
		"category", category,
		"rules", ruleIDs(result.Violations),
		"input", snippet(text))

	return &GuardrailViolationError{
		Category:   category,
		Message:    e.messageFor(category),
		Violations: result.Violations,
	}
}

// EnforceAll runs Enforce on each text and returns the first violation.
func (e *PolicyEngine) EnforceAll(texts ...string) error {
	for _, t := range texts {
		if err := e.Enforce(t); err != nil {
			return err
		}
	}
	return nil
}

// ScanPayload is the reporting-mode check for a value about to be serialised
// as a response. The bool is true when the payload must be replaced by the
// returned ContentViolation.
func (e *PolicyEngine) ScanPayload(v any) (ContentViolation, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", v))
	}
	return e.ScanBytes(data)
}

// ScanBytes is ScanPayload for an already serialised body.
func (e *PolicyEngine) ScanBytes(body []byte) (ContentViolation, bool) {
	result := e.Scan(string(body))
	if result.IsClean {
		return ContentViolation{}, false
	}
	e.record(ModeReporting, result)
	e.logger.Error("Outbound payload contained prohibited language, blocking response",
		"rules", ruleIDs(result.Violations),
		"payload", snippet(string(body)))
	return NewContentViolation(result), true
}

// primaryCategory picks the violated category with the highest priority.
func (e *PolicyEngine) primaryCategory(result ScanResult) Category {
	e.mu.RLock()
	defer e.mu.RUnlock()

	best := result.Violations[0].Category
	bestPriority := e.categories[best].Priority
	for _, c := range result.Categories() {
		if p := e.categories[c].Priority; p > bestPriority {
			best, bestPriority = c, p
		}
	}
	return best
}

func (e *PolicyEngine) messageFor(c Category) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if def, ok := e.categories[c]; ok && strings.TrimSpace(def.Message) != "" {
		return def.Message
	}
	return genericMessage
}

func (e *PolicyEngine) record(mode string, result ScanResult) {
	for _, c := range result.Categories() {
		e.metrics.RecordGuardrailViolation(mode, string(c))
	}
}

func ruleIDs(vs []Violation) []string {
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.RuleID)
	}
	return ids
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= logSnippetLen {
		return s
	}
	return string(r[:logSnippetLen])
}
