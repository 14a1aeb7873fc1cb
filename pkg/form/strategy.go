package form

import (
	"fmt"
	"strings"

	"github.com/pubino/bsp/pkg/schema"
)

// Candidate is a selector proposed by a strategy together with the input
// kind the control is expected to have.
type Candidate struct {
	Selector string
	Kind     schema.Kind
	Strategy string
}

// Strategy proposes selectors for a logical field name. Strategies run in
// order and the first candidate matching at least one element wins. A
// strategy that does not apply returns nil.
type Strategy interface {
	Name() string
	Candidates(field string, entry *schema.Field) []Candidate
}

// DefaultStrategies is the resolution order used by NewResolver.
func DefaultStrategies() []Strategy {
	return []Strategy{SchemaBased{}, Heuristic{}, Fallback{}}
}

// SchemaBased uses the selector and kind declared in the content-type schema.
type SchemaBased struct{}

func (SchemaBased) Name() string { return "schema" }

func (s SchemaBased) Candidates(_ string, entry *schema.Field) []Candidate {
	if entry == nil || entry.Selector == "" {
		return nil
	}
	kind := entry.Type
	if kind == "" {
		kind = schema.KindText
	}
	return []Candidate{{Selector: entry.Selector, Kind: kind, Strategy: s.Name()}}
}

// Heuristic guesses the multi-value widget name, e.g. title[0][value].
// It only applies when the schema has no entry for the field.
type Heuristic struct{}

func (Heuristic) Name() string { return "heuristic" }

func (h Heuristic) Candidates(field string, entry *schema.Field) []Candidate {
	if entry != nil {
		return nil
	}
	return []Candidate{{
		Selector: fmt.Sprintf(`[name="%s[0][value]"]`, cssEscape(field)),
		Kind:     schema.KindText,
		Strategy: h.Name(),
	}}
}

// Fallback tries looser name and id patterns.
type Fallback struct{}

func (Fallback) Name() string { return "fallback" }

func (f Fallback) Candidates(field string, entry *schema.Field) []Candidate {
	kind := schema.KindText
	if entry != nil && entry.Type != "" {
		kind = entry.Type
	}
	name := cssEscape(field)
	// Element ids use dashes where field machine names use underscores.
	id := cssEscape(strings.ReplaceAll(field, "_", "-"))

	selectors := []string{
		fmt.Sprintf(`[name="%s"]`, name),
		fmt.Sprintf(`[name="%s[value]"]`, name),
		fmt.Sprintf(`[id*="%s"]`, id),
		fmt.Sprintf(`[name*="%s"]`, name),
	}
	out := make([]Candidate, 0, len(selectors))
	for _, sel := range selectors {
		out = append(out, Candidate{Selector: sel, Kind: kind, Strategy: f.Name()})
	}
	return out
}

// cssEscape escapes a value for use inside a double-quoted attribute selector.
func cssEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return r.Replace(s)
}
