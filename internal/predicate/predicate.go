// Package predicate decides whether a compiled rule holds for an evaluation context and
// how confident that match is.
package predicate

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/BTreeMap/RuleNotify/internal/evalctx"
	"github.com/BTreeMap/RuleNotify/internal/models"
)

// Matches reports whether a single condition holds. A field the context does not
// resolve, or a value that cannot be compared, makes the condition false.
func Matches(c models.ParsedCondition, ctx *evalctx.Context) bool {
	v, ok := ctx.Field(c.Field)
	if !ok {
		return false
	}
	switch c.Operator {
	case models.OpEquals, models.OpContains:
		fold := cases.Fold()
		want := fold.String(valueText(c.Value))
		for _, item := range v.Items() {
			got := fold.String(item)
			if c.Operator == models.OpEquals && got == want {
				return true
			}
			if c.Operator == models.OpContains && strings.Contains(got, want) {
				return true
			}
		}
		return false
	case models.OpLTE, models.OpGTE:
		got, ok := v.Float()
		if !ok {
			return false
		}
		want, ok := valueNumber(c.Value)
		if !ok {
			return false
		}
		if c.Operator == models.OpLTE {
			return got <= want
		}
		return got >= want
	}
	return false
}

// Score evaluates every condition of rule against ctx. It returns the match confidence
// (Σ satisfied weights / n) × (satisfied / n) and whether the rule matched. ALL logic
// needs every condition satisfied, ANY needs one. A rule without conditions always
// matches at the rule's own confidence.
func Score(rule *models.StructuredRule, ctx *evalctx.Context) (float64, bool) {
	n := len(rule.Conditions)
	if n == 0 {
		return rule.Confidence, true
	}
	var weight float64
	satisfied := 0
	for _, c := range rule.Conditions {
		if Matches(c, ctx) {
			weight += c.Confidence
			satisfied++
		}
	}
	if satisfied == 0 {
		return 0, false
	}
	if rule.Logic != models.LogicAny && satisfied < n {
		return 0, false
	}
	return (weight / float64(n)) * (float64(satisfied) / float64(n)), true
}

func valueText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func valueNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}
