package form

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubino/bsp/pkg/schema"
)

type element struct {
	inputType string
	fillErr   error
}

type call struct {
	action   string
	selector string
	value    string
	checked  bool
}

// fakePage matches selectors by exact string against a fixed element table.
type fakePage struct {
	elements map[string]element
	countErr error
	calls    []call
}

func newFakePage(elements map[string]element) *fakePage {
	return &fakePage{elements: elements}
}

func (p *fakePage) Count(selector string) (int, error) {
	if p.countErr != nil {
		return 0, p.countErr
	}
	if _, ok := p.elements[selector]; ok {
		return 1, nil
	}
	return 0, nil
}

func (p *fakePage) GetAttribute(selector, name string) (string, error) {
	if name == "type" {
		return p.elements[selector].inputType, nil
	}
	return "", nil
}

func (p *fakePage) Fill(selector, value string) error {
	p.calls = append(p.calls, call{action: "fill", selector: selector, value: value})
	return p.elements[selector].fillErr
}

func (p *fakePage) SetChecked(selector string, checked bool) error {
	p.calls = append(p.calls, call{action: "check", selector: selector, checked: checked})
	return nil
}

func (p *fakePage) SelectOption(selector, value string) error {
	p.calls = append(p.calls, call{action: "select", selector: selector, value: value})
	return nil
}

func TestResolve_StrategyOrder(t *testing.T) {
	r := NewResolver(nil)

	t.Run("schema selector first", func(t *testing.T) {
		page := newFakePage(map[string]element{
			"#edit-title-0-value":      {inputType: "text"},
			`[name="title[0][value]"]`: {inputType: "text"},
		})
		b, err := r.Resolve(page, "title", &schema.Field{Selector: "#edit-title-0-value", Type: schema.KindText})
		require.NoError(t, err)
		assert.Equal(t, "#edit-title-0-value", b.Selector)
		assert.Equal(t, "schema", b.Strategy)
	})

	t.Run("heuristic without schema", func(t *testing.T) {
		page := newFakePage(map[string]element{`[name="title[0][value]"]`: {inputType: "text"}})
		b, err := r.Resolve(page, "title", nil)
		require.NoError(t, err)
		assert.Equal(t, "heuristic", b.Strategy)
		assert.Equal(t, schema.KindText, b.Kind)
	})

	t.Run("schema miss falls through to alternatives", func(t *testing.T) {
		page := newFakePage(map[string]element{`[name="field_topic"]`: {inputType: ""}})
		b, err := r.Resolve(page, "field_topic", &schema.Field{Selector: "#gone", Type: schema.KindSelect})
		require.NoError(t, err)
		assert.Equal(t, "fallback", b.Strategy)
		assert.Equal(t, schema.KindSelect, b.Kind, "declared kind survives fallback")
	})

	t.Run("alternative order", func(t *testing.T) {
		page := newFakePage(map[string]element{
			`[id*="field-summary"]`:   {},
			`[name*="field_summary"]`: {},
		})
		b, err := r.Resolve(page, "field_summary", nil)
		require.NoError(t, err)
		assert.Equal(t, `[id*="field-summary"]`, b.Selector)
	})

	t.Run("nothing matches", func(t *testing.T) {
		_, err := r.Resolve(newFakePage(nil), "title", nil)
		require.Error(t, err)
		assert.Equal(t, ReasonNotFound, err.Error())
	})
}

func TestResolve_LiveCheckboxOverridesSchema(t *testing.T) {
	page := newFakePage(map[string]element{"#edit-status-value": {inputType: "checkbox"}})
	b, err := NewResolver(nil).Resolve(page, "status", &schema.Field{Selector: "#edit-status-value", Type: schema.KindText})
	require.NoError(t, err)
	assert.Equal(t, schema.KindCheckbox, b.Kind)
}

func TestApply_CheckboxTruthiness(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{true, true},
		{"1", true},
		{1, true},
		{float64(1), true},
		{"true", true},
		{"TRUE", true},
		{"True", true},
		{false, false},
		{"0", false},
		{0, false},
		{float64(0), false},
		{"false", false},
		{"yes", false},
		{nil, false},
	}
	for _, tt := range tests {
		page := newFakePage(map[string]element{`[name="promote[value]"]`: {inputType: "checkbox"}})
		o := NewResolver(nil).Apply(page, "promote", tt.value, nil)

		require.True(t, o.Updated, "%v", tt.value)
		require.Len(t, page.calls, 1)
		assert.Equal(t, "check", page.calls[0].action)
		assert.Equal(t, tt.want, page.calls[0].checked, "value %#v", tt.value)
	}
}

func TestApply_KindDispatch(t *testing.T) {
	s := &schema.Schema{Fields: map[string]schema.Field{
		"title":       {Selector: "#title", Type: schema.KindText},
		"body":        {Selector: "#body", Type: schema.KindTextarea},
		"field_date":  {Selector: "#date", Type: schema.KindDate},
		"field_topic": {Selector: "#topic", Type: schema.KindSelect},
	}}
	page := newFakePage(map[string]element{
		"#title": {inputType: "text"},
		"#body":  {},
		"#date":  {inputType: "date"},
		"#topic": {},
	})

	report := NewResolver(nil).ApplyAll(page, map[string]any{
		"title":       "Hello",
		"body":        "<p>Text</p>",
		"field_date":  "2026-10-15",
		"field_topic": float64(42),
	}, s)

	assert.Len(t, report.Updated, 4)
	assert.Empty(t, report.Skipped)
	assert.Contains(t, page.calls, call{action: "fill", selector: "#title", value: "Hello"})
	assert.Contains(t, page.calls, call{action: "fill", selector: "#body", value: "<p>Text</p>"})
	assert.Contains(t, page.calls, call{action: "fill", selector: "#date", value: "2026-10-15"})
	assert.Contains(t, page.calls, call{action: "select", selector: "#topic", value: "42"})
}

func TestApplyAll_PartitionsEveryField(t *testing.T) {
	page := newFakePage(map[string]element{
		`[name="title[0][value]"]`: {inputType: "text"},
		`[name="body[0][value]"]`:  {fillErr: errors.New("element is not editable")},
	})
	fields := map[string]any{
		"title":         "X",
		"body":          "Y",
		"field_missing": "Z",
	}

	report := NewResolver(nil).ApplyAll(page, fields, nil)

	seen := map[string]int{}
	for _, u := range report.Updated {
		seen[u.Field]++
	}
	for _, s := range report.Skipped {
		seen[s.Field]++
	}
	assert.Equal(t, map[string]int{"title": 1, "body": 1, "field_missing": 1}, seen)

	assert.Equal(t, []FieldValue{{Field: "title", Value: "X"}}, report.Updated)
	assert.Equal(t, []SkippedField{
		{Field: "body", Reason: "element is not editable"},
		{Field: "field_missing", Reason: ReasonNotFound},
	}, report.Skipped)
}

func TestApply_QueryErrorBecomesSkip(t *testing.T) {
	page := newFakePage(nil)
	page.countErr = errors.New("Execution context was destroyed")

	o := NewResolver(nil).Apply(page, "title", "X", nil)
	assert.False(t, o.Updated)
	assert.Contains(t, o.Reason, "Execution context was destroyed")
}

type panickyPage struct{ *fakePage }

func (panickyPage) Fill(string, string) error { panic("boom") }

func TestApply_PanicBecomesSkip(t *testing.T) {
	page := panickyPage{newFakePage(map[string]element{`[name="title[0][value]"]`: {}})}
	o := NewResolver(nil).Apply(page, "title", "X", nil)
	assert.False(t, o.Updated)
	assert.Contains(t, o.Reason, "boom")
}

type suffixStrategy struct{}

func (suffixStrategy) Name() string { return "suffix" }

func (suffixStrategy) Candidates(field string, _ *schema.Field) []Candidate {
	return []Candidate{{Selector: "#" + field + "-custom", Kind: schema.KindText, Strategy: "suffix"}}
}

func TestNewResolver_ExtraStrategiesRunLast(t *testing.T) {
	page := newFakePage(map[string]element{"#title-custom": {}})
	b, err := NewResolver(nil, suffixStrategy{}).Resolve(page, "title", nil)
	require.NoError(t, err)
	assert.Equal(t, "suffix", b.Strategy)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "abc", Stringify("abc"))
	assert.Equal(t, "42", Stringify(float64(42)))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "7", Stringify(7))
}

func TestCSSEscape(t *testing.T) {
	c := Heuristic{}.Candidates(`we"ird`, nil)
	require.Len(t, c, 1)
	assert.Equal(t, `[name="we\"ird[0][value]"]`, c[0].Selector)
}
