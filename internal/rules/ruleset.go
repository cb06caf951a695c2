// Package rules provides the forgetting index rule language: parsing,
// CEL-compiled matching and the reloadable rule store.
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/findex/internal/domain"
)

// CompiledRule holds a rule and its compiled CEL predicate.
type CompiledRule struct {
	Rule       *domain.Rule
	Expression string
	Program    cel.Program
}

// predicateEnv declares the item attributes a rule predicate can see.
var predicateEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("deck", cel.StringType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("maturity", cel.StringType),
	)
})

// predicateExpression renders the three rule predicates as one CEL expression.
// A wildcard field contributes nothing.
func predicateExpression(r *domain.Rule) string {
	var terms []string

	if r.Deck != domain.Wildcard {
		terms = append(terms, "deck == "+strconv.Quote(r.Deck))
	}

	if r.Tags != domain.Wildcard {
		required := ParseTags(r.Tags)
		if len(required) > 0 {
			quoted := make([]string, len(required))
			for i, tag := range required {
				quoted[i] = strconv.Quote(tag)
			}
			terms = append(terms, "["+strings.Join(quoted, ", ")+"].all(t, t in tags)")
		}
	}

	if r.Condition != domain.Wildcard {
		terms = append(terms, "maturity == "+strconv.Quote(r.Condition))
	}

	if len(terms) == 0 {
		return "true"
	}
	return strings.Join(terms, " && ")
}

func compileRule(r *domain.Rule) (*CompiledRule, error) {
	env, err := predicateEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	expr := predicateExpression(r)
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule on line %d: %w", r.Line, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule on line %d: predicate must return bool, got %s", r.Line, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule on line %d: %w", r.Line, err)
	}

	return &CompiledRule{
		Rule:       r,
		Expression: expr,
		Program:    program,
	}, nil
}

// matches evaluates the rule predicate against an activation.
// Evaluation errors count as no match.
func (c *CompiledRule) matches(activation map[string]any) bool {
	out, _, err := c.Program.Eval(activation)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// RuleSet is an immutable, ordered list of valid rules in declaration order.
type RuleSet struct {
	rules []*CompiledRule
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns copies of the rules in declaration order.
func (s *RuleSet) Rules() []domain.Rule {
	if s == nil {
		return nil
	}
	out := make([]domain.Rule, len(s.rules))
	for i, c := range s.rules {
		out[i] = *c.Rule
	}
	return out
}

// Compiled returns the compiled rules in declaration order.
func (s *RuleSet) Compiled() []*CompiledRule {
	if s == nil {
		return nil
	}
	return append([]*CompiledRule(nil), s.rules...)
}

// Lookup returns the effect of the last declared rule matching item.
// The second result is false when no rule matches.
func (s *RuleSet) Lookup(item domain.Item) (domain.Match, bool) {
	rule, ok := s.Winner(item)
	if !ok {
		return domain.Match{}, false
	}
	return rule.Match(), true
}

// Winner returns the last declared rule matching item.
func (s *RuleSet) Winner(item domain.Item) (*domain.Rule, bool) {
	if s.Len() == 0 {
		return nil, false
	}

	activation := activationFor(item)
	for i := len(s.rules) - 1; i >= 0; i-- {
		if s.rules[i].matches(activation) {
			return s.rules[i].Rule, true
		}
	}
	return nil, false
}

func activationFor(item domain.Item) map[string]any {
	all := item.AllTags()
	tags := make([]string, len(all))
	for i, t := range all {
		tags[i] = foldTag(t)
	}
	return map[string]any{
		"deck":     item.Deck,
		"tags":     tags,
		"maturity": string(item.Maturity),
	}
}
