package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultInput is written when a rule omits its input text
const DefaultInput = "\n"

// Spec is the configuration form of a single scripted response
type Spec struct {
	Trigger    string `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Regex      bool   `json:"regex,omitempty" yaml:"regex,omitempty"`
	Input      string `json:"input,omitempty" yaml:"input,omitempty"`
	DelayMs    int    `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
	Immediate  bool   `json:"immediate,omitempty" yaml:"immediate,omitempty"`
	CloseAfter bool   `json:"close_after,omitempty" yaml:"close_after,omitempty"`
}

// Rule is a compiled scripted response. Rules are immutable after Compile;
// firing state is tracked by the responder, not here.
type Rule struct {
	Index      int
	Trigger    string
	Input      string
	Delay      time.Duration
	Immediate  bool
	CloseAfter bool

	pattern *regexp.Regexp // non-nil only for regex triggers
}

// HasTrigger reports whether the rule waits for output text
func (r *Rule) HasTrigger() bool {
	return r.Trigger != ""
}

// Fallback reports whether the rule is the liveness nudge: no trigger and
// not immediate, armed from session start but preempted by any other firing
func (r *Rule) Fallback() bool {
	return r.Trigger == "" && !r.Immediate
}

// Matches tests the accumulated output text against the rule's trigger.
// Matching is case-sensitive; rules without a trigger never match.
func (r *Rule) Matches(text string) bool {
	if r.Trigger == "" {
		return false
	}
	if r.pattern != nil {
		return r.pattern.MatchString(text)
	}
	return strings.Contains(text, r.Trigger)
}

// Compile normalizes a rule spec list into an ordered sequence of immutable
// rules with defaults applied. At most one fallback rule is allowed.
func Compile(specs []Spec) ([]*Rule, error) {
	compiled := make([]*Rule, 0, len(specs))
	fallbackIndex := -1

	for i, spec := range specs {
		if spec.DelayMs < 0 {
			return nil, fmt.Errorf("rule %d: delay_ms must be >= 0, got %d", i, spec.DelayMs)
		}

		rule := &Rule{
			Index:      i,
			Trigger:    spec.Trigger,
			Input:      spec.Input,
			Delay:      time.Duration(spec.DelayMs) * time.Millisecond,
			Immediate:  spec.Immediate,
			CloseAfter: spec.CloseAfter,
		}
		if rule.Input == "" {
			rule.Input = DefaultInput
		}

		if spec.Regex && spec.Trigger != "" {
			pattern, err := regexp.Compile(spec.Trigger)
			if err != nil {
				return nil, fmt.Errorf("rule %d: invalid trigger regex %q: %w", i, spec.Trigger, err)
			}
			rule.pattern = pattern
		}

		if rule.Fallback() {
			if fallbackIndex >= 0 {
				return nil, fmt.Errorf("rule %d: multiple fallback rules (rule %d already has no trigger and is not immediate); at most one is allowed", i, fallbackIndex)
			}
			fallbackIndex = i
		}

		compiled = append(compiled, rule)
	}

	return compiled, nil
}
