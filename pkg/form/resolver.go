// Package form resolves logical field names to controls on a loaded edit form
// and applies values to them.
//
// Every field is handled in isolation: a field that cannot be found or filled
// is reported as skipped with a reason and never aborts the rest of the batch.
package form

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pubino/bsp/pkg/logging"
	"github.com/pubino/bsp/pkg/schema"
)

// ReasonNotFound is the skip reason when no strategy matched an element.
const ReasonNotFound = "Field not found"

var errNotFound = errors.New(ReasonNotFound)

// Page is the subset of page automation the resolver needs. Selector-based
// actions operate on the first matching element.
type Page interface {
	Count(selector string) (int, error)
	GetAttribute(selector, name string) (string, error)
	Fill(selector, value string) error
	SetChecked(selector string, checked bool) error
	SelectOption(selector, value string) error
}

// Binding is a resolved control.
type Binding struct {
	Selector string
	Kind     schema.Kind
	Strategy string
}

// Outcome is the result of applying one field.
type Outcome struct {
	Field   string
	Value   any
	Updated bool
	Reason  string
}

// FieldValue is an applied field.
type FieldValue struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// SkippedField is a field that was not applied.
type SkippedField struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Report partitions a batch into applied and skipped fields. Every requested
// field appears in exactly one of the two lists.
type Report struct {
	Updated []FieldValue   `json:"updated"`
	Skipped []SkippedField `json:"skipped"`
}

// Resolver applies field values through an ordered list of strategies.
type Resolver struct {
	strategies []Strategy
	logger     *logging.Logger
}

// NewResolver creates a resolver with the default strategies. Extra
// strategies are appended after them.
func NewResolver(logger *logging.Logger, extra ...Strategy) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		strategies: append(DefaultStrategies(), extra...),
		logger:     logger,
	}
}

// Resolve finds the control for field. The returned kind is already
// corrected for checkboxes detected in the live DOM.
func (r *Resolver) Resolve(page Page, field string, entry *schema.Field) (*Binding, error) {
	for _, strategy := range r.strategies {
		for _, c := range strategy.Candidates(field, entry) {
			n, err := page.Count(c.Selector)
			if err != nil {
				return nil, fmt.Errorf("query %s: %w", c.Selector, err)
			}
			if n == 0 {
				continue
			}

			b := &Binding{Selector: c.Selector, Kind: c.Kind, Strategy: c.Strategy}
			typ, err := page.GetAttribute(c.Selector, "type")
			if err != nil {
				return nil, fmt.Errorf("inspect %s: %w", c.Selector, err)
			}
			// The live DOM wins over a stale schema for checkboxes.
			if strings.EqualFold(typ, "checkbox") {
				b.Kind = schema.KindCheckbox
			}
			return b, nil
		}
	}
	return nil, errNotFound
}

// Apply resolves field and writes value into it.
func (r *Resolver) Apply(page Page, field string, value any, entry *schema.Field) (out Outcome) {
	out = Outcome{Field: field, Value: value}
	defer func() {
		if rec := recover(); rec != nil {
			out.Updated = false
			out.Reason = fmt.Sprintf("panic while filling %s: %v", field, rec)
		}
	}()

	b, err := r.Resolve(page, field, entry)
	if err != nil {
		out.Reason = err.Error()
		r.logger.Debugf("field %s skipped: %s", field, out.Reason)
		return out
	}

	if err := applyValue(page, b, value); err != nil {
		out.Reason = err.Error()
		r.logger.Warnf("field %s (%s via %s) failed: %v", field, b.Selector, b.Strategy, err)
		return out
	}

	r.logger.Debugf("field %s set via %s selector %s", field, b.Strategy, b.Selector)
	out.Updated = true
	return out
}

// ApplyAll applies every field in name order. s may be nil.
func (r *Resolver) ApplyAll(page Page, fields map[string]any, s *schema.Schema) Report {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{
		Updated: []FieldValue{},
		Skipped: []SkippedField{},
	}
	for _, name := range names {
		o := r.Apply(page, name, fields[name], s.Field(name))
		if o.Updated {
			report.Updated = append(report.Updated, FieldValue{Field: name, Value: o.Value})
		} else {
			report.Skipped = append(report.Skipped, SkippedField{Field: name, Reason: o.Reason})
		}
	}
	return report
}

func applyValue(page Page, b *Binding, value any) error {
	switch b.Kind {
	case schema.KindCheckbox:
		return page.SetChecked(b.Selector, IsTruthy(value))
	case schema.KindSelect:
		return page.SelectOption(b.Selector, Stringify(value))
	default:
		return page.Fill(b.Selector, Stringify(value))
	}
}

// IsTruthy reports whether value means "checked": boolean true, the number 1,
// the string "1" or the string "true" in any case.
func IsTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		s := strings.TrimSpace(v)
		return s == "1" || strings.EqualFold(s, "true")
	case int:
		return v == 1
	case int64:
		return v == 1
	case float64:
		return v == 1
	case float32:
		return v == 1
	default:
		return false
	}
}

// Stringify renders a JSON-decoded value as form text.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
