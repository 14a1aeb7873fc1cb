// Package schema loads per-content-type form descriptors.
//
// A descriptor maps logical field names to the selector, input kind and
// requiredness of the form control that edits them. Descriptors are optional:
// a missing or malformed file yields nil and callers fall back to heuristic
// field resolution.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the input kind of a form control.
type Kind string

const (
	KindText     Kind = "text"
	KindTextarea Kind = "textarea"
	KindDate     Kind = "date"
	KindTime     Kind = "time"
	KindCheckbox Kind = "checkbox"
	KindSelect   Kind = "select"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindTextarea, KindDate, KindTime, KindCheckbox, KindSelect:
		return true
	}
	return false
}

// Field describes one form control.
type Field struct {
	Selector string `yaml:"selector" json:"selector"`
	Type     Kind   `yaml:"type" json:"type"`
	Required bool   `yaml:"required" json:"required"`
	Label    string `yaml:"label" json:"label,omitempty"`
}

// Schema is the descriptor of one content type. It is not modified after loading.
// YAML and JSON descriptors share one key set; the type id key is content_type.
type Schema struct {
	ContentType string           `yaml:"content_type" json:"content_type"`
	Label       string           `yaml:"label" json:"label,omitempty"`
	Fields      map[string]Field `yaml:"fields" json:"fields"`
}

// Field returns the entry for name, or nil. Safe on a nil schema.
func (s *Schema) Field(name string) *Field {
	if s == nil {
		return nil
	}
	f, ok := s.Fields[name]
	if !ok {
		return nil
	}
	return &f
}

// RequiredFields returns the sorted names of required fields.
func (s *Schema) RequiredFields() []string {
	if s == nil {
		return nil
	}
	var names []string
	for name, f := range s.Fields {
		if f.Required {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// MissingRequired returns the sorted required field names absent from provided.
func (s *Schema) MissingRequired(provided map[string]any) []string {
	var missing []string
	for _, name := range s.RequiredFields() {
		if _, ok := provided[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func (s *Schema) validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema declares no fields")
	}
	for name, f := range s.Fields {
		if strings.TrimSpace(f.Selector) == "" {
			return fmt.Errorf("field %q has no selector", name)
		}
		if f.Type == "" {
			f.Type = KindText
			s.Fields[name] = f
		}
		if !f.Type.Valid() {
			return fmt.Errorf("field %q has unknown type %q", name, f.Type)
		}
	}
	return nil
}
