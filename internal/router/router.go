// Package router classifies documents and questions into policy types using
// keyword rules.
package router

import (
	"regexp"
	"strings"

	"policyrag/internal/domain"
)

// Rule lists the keywords that identify one policy type. A keyword may be a
// phrase; it matches on word boundaries.
type Rule struct {
	Type     domain.PolicyType `yaml:"type"`
	Keywords []string          `yaml:"keywords"`
}

// Header is an exact policy header that marks a complete policy document.
type Header struct {
	Type   domain.PolicyType
	Phrase string
}

type compiledRule struct {
	typ      domain.PolicyType
	keywords []string
}

// Router classifies free text. The type with the most distinct matching
// keywords wins; ties go to the rule listed first.
type Router struct {
	rules []compiledRule
}

var wordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// DefaultRules returns the built-in health and auto rules, health first.
func DefaultRules() []Rule {
	return []Rule{
		{Type: domain.PolicyHealth, Keywords: []string{
			"health insurance", "health", "copay", "prescription", "medical", "doctor",
			"hospital", "emergency room", "specialist", "therapy", "mental health",
		}},
		{Type: domain.PolicyAuto, Keywords: []string{
			"auto insurance", "auto", "car", "vehicle", "collision", "comprehensive", "liability",
		}},
	}
}

// DefaultHeaders returns the recognised policy headers.
func DefaultHeaders() []Header {
	return []Header{
		{Type: domain.PolicyHealth, Phrase: "HEALTH INSURANCE POLICY"},
		{Type: domain.PolicyAuto, Phrase: "AUTO INSURANCE POLICY"},
	}
}

// New compiles rules. Rules with an empty type or no usable keyword are skipped.
func New(rules []Rule) *Router {
	r := &Router{}
	for _, rule := range rules {
		if rule.Type == "" || rule.Type == domain.PolicyUnknown {
			continue
		}
		cr := compiledRule{typ: rule.Type}
		for _, kw := range rule.Keywords {
			toks := tokenize(kw)
			if len(toks) == 0 {
				continue
			}
			cr.keywords = append(cr.keywords, " "+strings.Join(toks, " ")+" ")
		}
		if len(cr.keywords) > 0 {
			r.rules = append(r.rules, cr)
		}
	}
	return r
}

// Default returns a router built from DefaultRules.
func Default() *Router { return New(DefaultRules()) }

// Types returns the policy types this router can produce, in rule order.
func (r *Router) Types() []domain.PolicyType {
	out := make([]domain.PolicyType, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule.typ)
	}
	return out
}

// Classify returns the policy type of text, or PolicyUnknown.
func (r *Router) Classify(text string) domain.PolicyType {
	toks := tokenize(text)
	if len(toks) == 0 {
		return domain.PolicyUnknown
	}
	padded := " " + strings.Join(toks, " ") + " "
	best := domain.PolicyUnknown
	bestScore := 0
	for _, rule := range r.rules {
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(padded, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = rule.typ, score
		}
	}
	return best
}

// DetectHeader reports the type of the first header found in text.
// Matching is a case-insensitive substring test.
func DetectHeader(text string, headers []Header) (domain.PolicyType, bool) {
	lower := strings.ToLower(text)
	for _, h := range headers {
		if h.Phrase != "" && strings.Contains(lower, strings.ToLower(h.Phrase)) {
			return h.Type, true
		}
	}
	return domain.PolicyUnknown, false
}

func tokenize(s string) []string {
	return wordRe.FindAllString(strings.ToLower(s), -1)
}
