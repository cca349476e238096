package store

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// DefaultVersion is the version written in new documents.
const DefaultVersion = 2

// Document is a DBT properties file: a version and a list of models. Any
// other root key (sources, seeds, macros...) is kept in Extra and written
// back untouched.
type Document struct {
	Version int            `yaml:"version,omitempty" json:"version,omitempty" jsonschema:"title=Version,description=Version of the properties file format,default=2"`
	Models  []Model        `yaml:"models" json:"models" jsonschema:"title=Models,description=Model entries unique by name"`
	Extra   map[string]any `yaml:",inline" json:"-"`
}

// Model is one named model entry.
type Model struct {
	Name         string         `yaml:"name" json:"name" jsonschema:"title=Name,description=Unique model name,minLength=1"`
	Description  string         `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"title=Description"`
	Materialized string         `yaml:"materialized,omitempty" json:"materialized,omitempty" jsonschema:"title=Materialization,enum=table,enum=view,enum=incremental,enum=ephemeral"`
	Tags         StringList     `yaml:"tags,omitempty" json:"tags,omitempty" jsonschema:"title=Tags"`
	Columns      []Column       `yaml:"columns,omitempty" json:"columns,omitempty" jsonschema:"title=Columns"`
	DependsOn    *DependsOn     `yaml:"depends_on,omitempty" json:"depends_on,omitempty" jsonschema:"title=Dependencies"`
	Extra        map[string]any `yaml:",inline" json:"-"`
}

// Column describes one column of a model.
type Column struct {
	Name        string         `yaml:"name" json:"name" jsonschema:"title=Name,minLength=1"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"title=Description"`
	DataType    string         `yaml:"data_type,omitempty" json:"data_type,omitempty" jsonschema:"title=Data type"`
	Tests       []Test         `yaml:"tests,omitempty" json:"tests,omitempty" jsonschema:"title=Tests"`
	Extra       map[string]any `yaml:",inline" json:"-"`
}

// DependsOn lists the models a model refers to.
type DependsOn struct {
	Refs  []string       `yaml:"refs,omitempty" json:"refs,omitempty" jsonschema:"title=Refs"`
	Extra map[string]any `yaml:",inline" json:"-"`
}

// Test is a column test. It is written as a bare name ("unique") when it has
// no arguments, or as a single key mapping ("relationships: {to: ..., field: ...}").
type Test struct {
	Name string
	Args any
}

// MarshalYAML implements yaml.Marshaler.
func (t Test) MarshalYAML() (any, error) {
	if t.Args == nil {
		return t.Name, nil
	}
	return map[string]any{t.Name: t.Args}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Test) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		t.Name, t.Args = value.Value, nil
		return nil
	case yaml.MappingNode:
		if len(value.Content) != 2 {
			return fmt.Errorf("line %d: a test with arguments must have exactly one key", value.Line)
		}
		var args any
		if err := value.Content[1].Decode(&args); err != nil {
			return err
		}
		t.Name, t.Args = value.Content[0].Value, args
		return nil
	}
	return fmt.Errorf("line %d: a test must be a name or a mapping", value.Line)
}

// JSONSchema describes the two accepted forms of a test.
func (Test) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "object"},
		},
	}
}

// StringList accepts either a single string or a sequence of strings. It is
// always written back as a sequence.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		if value.Tag == "!!null" {
			*l = nil
			return nil
		}
		*l = StringList{value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*l = list
	return nil
}

// JSONSchema describes the two accepted forms of a list.
func (StringList) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
	}
}

// NewDocument returns the document used when no file exists yet.
func NewDocument() *Document {
	return &Document{
		Version: DefaultVersion,
		Models:  []Model{},
	}
}

// Names returns the model names in document order.
func (d *Document) Names() []string {
	names := make([]string, 0, len(d.Models))
	for _, m := range d.Models {
		names = append(names, m.Name)
	}
	return names
}

// Index returns the position of the named model or -1.
func (d *Document) Index(name string) int {
	for i, m := range d.Models {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := &Document{
		Version: d.Version,
		Models:  make([]Model, len(d.Models)),
		Extra:   cloneMap(d.Extra),
	}
	for i, m := range d.Models {
		out.Models[i] = m.Clone()
	}
	return out
}

// Clone returns a deep copy of the model.
func (m Model) Clone() Model {
	out := m
	out.Tags = cloneStrings(m.Tags)
	out.Extra = cloneMap(m.Extra)
	if m.Columns != nil {
		out.Columns = make([]Column, len(m.Columns))
		for i, c := range m.Columns {
			out.Columns[i] = c.Clone()
		}
	}
	if m.DependsOn != nil {
		out.DependsOn = &DependsOn{
			Refs:  cloneStrings(m.DependsOn.Refs),
			Extra: cloneMap(m.DependsOn.Extra),
		}
	}
	return out
}

// Clone returns a deep copy of the column.
func (c Column) Clone() Column {
	out := c
	out.Extra = cloneMap(c.Extra)
	if c.Tests != nil {
		out.Tests = make([]Test, len(c.Tests))
		for i, t := range c.Tests {
			out.Tests[i] = Test{Name: t.Name, Args: cloneValue(t.Args)}
		}
	}
	return out
}

// Merge returns a copy of the model where every key of props overrides the
// corresponding model key, the way a user supplied "custom properties"
// mapping is applied over a form. Known keys (description, columns...) are
// decoded into their fields, the others land in Extra. The name never changes.
func (m Model) Merge(props map[string]any) (Model, error) {
	if len(props) == 0 {
		return m.Clone(), nil
	}
	raw, err := yaml.Marshal(m)
	if err != nil {
		return Model{}, err
	}
	fields := map[string]any{}
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return Model{}, err
	}
	for k, v := range props {
		fields[k] = v
	}
	fields["name"] = m.Name

	raw, err = yaml.Marshal(fields)
	if err != nil {
		return Model{}, err
	}
	var merged Model
	if err := yaml.Unmarshal(raw, &merged); err != nil {
		return Model{}, NewParseError("", err)
	}
	return merged, nil
}

func cloneStrings[S ~[]string](s S) S {
	if s == nil {
		return nil
	}
	out := make(S, len(s))
	copy(out, s)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
