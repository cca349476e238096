// Package form turns the fields of the model form into a model configuration,
// and back.
package form

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"dbtyaml/internal/store"
	"dbtyaml/internal/utils"

	"gopkg.in/yaml.v3"
)

// ErrInvalidInput is returned when a form field holds a value that cannot be
// accepted.
var ErrInvalidInput = errors.New("invalid input")

// Materializations are the accepted values of the materialized field.
var Materializations = []string{"table", "view", "incremental", "ephemeral"}

// ColumnTests are the tests a column can pick from.
var ColumnTests = []string{"unique", "not_null", "positive", "relationships"}

// DefaultMaterialization is preselected in a new form.
const DefaultMaterialization = "table"

const relationshipsTest = "relationships"

// Column holds the form fields of one column.
type Column struct {
	Name        string
	Description string
	Tests       []string
	// References is the "model.column" target of the relationships test.
	References string
	CustomTest string
}

// Input holds the form fields of one model.
type Input struct {
	Name         string
	Description  string
	Materialized string
	// Tags is comma separated.
	Tags    string
	Columns []Column
	// Dependencies holds one model per line.
	Dependencies string
	// CustomProperties is a YAML mapping merged over the other fields.
	CustomProperties string
}

// Build validates in and returns the model configuration it describes. The
// name of the model is not part of the configuration.
func Build(in Input) (store.Model, error) {
	model := store.Model{
		Description: text(in.Description),
	}

	materialized, err := checkMaterialized(in.Materialized)
	if err != nil {
		return store.Model{}, err
	}
	model.Materialized = materialized

	if tags := utils.SplitList(in.Tags, ","); len(tags) > 0 {
		model.Tags = store.StringList(tags)
	}

	for i, c := range in.Columns {
		column, ok, err := buildColumn(c)
		if err != nil {
			return store.Model{}, fmt.Errorf("column #%d: %w", i+1, err)
		}
		if ok {
			model.Columns = append(model.Columns, column)
		}
	}

	if refs := utils.SplitList(in.Dependencies, "\n"); len(refs) > 0 {
		model.DependsOn = &store.DependsOn{Refs: refs}
	}

	props, err := parseProperties(in.CustomProperties)
	if err != nil {
		return store.Model{}, err
	}
	return model.Merge(props)
}

// buildColumn returns false for a column without a name, which is a blank
// row of the form.
func buildColumn(c Column) (store.Column, bool, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return store.Column{}, false, nil
	}
	column := store.Column{
		Name:        name,
		Description: text(c.Description),
	}

	ref := strings.TrimSpace(c.References)
	seen := map[string]bool{}
	for _, test := range c.Tests {
		test = strings.TrimSpace(test)
		if test == "" || seen[test] {
			continue
		}
		seen[test] = true
		if !slices.Contains(ColumnTests, test) {
			return store.Column{}, false, fmt.Errorf(
				"%w: unknown test %q for column %s", ErrInvalidInput, test, name,
			)
		}
		if test == relationshipsTest {
			if ref == "" {
				return store.Column{}, false, fmt.Errorf(
					"%w: the relationships test of column %s needs a reference", ErrInvalidInput, name,
				)
			}
			continue
		}
		column.Tests = append(column.Tests, store.Test{Name: test})
	}

	if ref != "" {
		target, field, ok := strings.Cut(ref, ".")
		if !ok || target == "" || field == "" || strings.Contains(field, ".") {
			return store.Column{}, false, fmt.Errorf(
				"%w: reference %q of column %s must look like model.column", ErrInvalidInput, ref, name,
			)
		}
		column.Tests = append(column.Tests, store.Test{
			Name: relationshipsTest,
			Args: map[string]any{"to": ref, "field": name},
		})
	}

	if custom := strings.TrimSpace(c.CustomTest); custom != "" && !seen[custom] {
		column.Tests = append(column.Tests, store.Test{Name: custom})
	}
	return column, true, nil
}

// parseProperties decodes the custom properties field. It must be empty or a
// YAML mapping.
func parseProperties(content string) (map[string]any, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(content), &node); err != nil {
		return nil, store.NewParseError("custom properties", err)
	}
	root := &node
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, &store.ParseError{
			Path: "custom properties",
			Line: root.Line,
			Msg:  "custom properties must be a mapping",
		}
	}
	props := map[string]any{}
	if err := root.Decode(&props); err != nil {
		return nil, store.NewParseError("custom properties", err)
	}
	return props, nil
}

func checkMaterialized(value string) (string, error) {
	materialized := strings.TrimSpace(value)
	if materialized != "" && !slices.Contains(Materializations, materialized) {
		return "", fmt.Errorf(
			"%w: materialized must be one of %s, got %q",
			ErrInvalidInput, strings.Join(Materializations, ", "), materialized,
		)
	}
	return materialized, nil
}

// text trims a text field. Browsers send the lines of a textarea with CRLF.
func text(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// FromModel returns the form fields describing model, to prefill an update
// form. Keys the form has no field for are written in the custom properties.
// The column keys and tests the form cannot show are left out; Apply keeps
// them.
func FromModel(model store.Model) Input {
	in := Input{
		Name:         model.Name,
		Description:  model.Description,
		Materialized: model.Materialized,
		Tags:         strings.Join(model.Tags, ", "),
	}
	for _, c := range model.Columns {
		if c.Name == "" {
			continue
		}
		column, _ := splitColumn(c)
		in.Columns = append(in.Columns, column)
	}
	if model.DependsOn != nil {
		in.Dependencies = strings.Join(model.DependsOn.Refs, "\n")
	}
	if len(model.Extra) > 0 {
		if out, err := utils.EncodeBasicYaml(model.Extra); err == nil {
			in.CustomProperties = string(out)
		}
	}
	return in
}

// Apply returns base changed by the fields of in that differ from what
// FromModel(base) gives. The other fields keep their stored value. A column
// keeping its name keeps its data type, its other keys and the tests the form
// cannot show.
func Apply(base store.Model, in Input) (store.Model, error) {
	prev := FromModel(base)
	model := base.Clone()

	if d := text(in.Description); d != text(prev.Description) {
		model.Description = d
	}
	if strings.TrimSpace(in.Materialized) != strings.TrimSpace(prev.Materialized) {
		materialized, err := checkMaterialized(in.Materialized)
		if err != nil {
			return store.Model{}, err
		}
		model.Materialized = materialized
	}
	if tags := utils.SplitList(in.Tags, ","); !slices.Equal(tags, utils.SplitList(prev.Tags, ",")) {
		model.Tags = nil
		if len(tags) > 0 {
			model.Tags = store.StringList(tags)
		}
	}
	if refs := utils.SplitList(in.Dependencies, "\n"); !slices.Equal(refs, utils.SplitList(prev.Dependencies, "\n")) {
		switch {
		case model.DependsOn == nil:
			model.DependsOn = &store.DependsOn{Refs: refs}
		case len(refs) == 0 && len(model.DependsOn.Extra) == 0:
			model.DependsOn = nil
		default:
			model.DependsOn.Refs = refs
		}
	}

	columns, err := applyColumns(model.Columns, in.Columns)
	if err != nil {
		return store.Model{}, err
	}
	model.Columns = columns

	if text(in.CustomProperties) == text(prev.CustomProperties) {
		return model, nil
	}
	props, err := parseProperties(in.CustomProperties)
	if err != nil {
		return store.Model{}, err
	}
	model.Extra = nil
	return model.Merge(props)
}

// applyColumns returns the columns of the form. base is returned as is when
// no column changed. Columns without a name cannot be shown by the form and
// are kept after the others.
func applyColumns(base []store.Column, in []Column) ([]store.Column, error) {
	var named, unnamed []store.Column
	for _, b := range base {
		if b.Name == "" {
			unnamed = append(unnamed, b)
		} else {
			named = append(named, b)
		}
	}

	var columns []store.Column
	changed := false
	for i, c := range in {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		j := slices.IndexFunc(named, func(b store.Column) bool { return b.Name == name })
		if j < 0 {
			column, _, err := buildColumn(c)
			if err != nil {
				return nil, fmt.Errorf("column #%d: %w", i+1, err)
			}
			columns = append(columns, column)
			changed = true
			continue
		}

		from := named[j]
		shown, rest := splitColumn(from)
		if sameColumn(c, shown) {
			columns = append(columns, from)
			changed = changed || j != len(columns)-1
			continue
		}
		column, _, err := buildColumn(c)
		if err != nil {
			return nil, fmt.Errorf("column #%d: %w", i+1, err)
		}
		column.DataType = from.DataType
		column.Extra = from.Extra
		column.Tests = append(column.Tests, rest...)
		columns = append(columns, column)
		changed = true
	}
	if !changed && len(columns) == len(named) {
		return base, nil
	}
	return append(columns, unnamed...), nil
}

// splitColumn returns the form fields of c and the tests they cannot show:
// tests with arguments, other than the relationships test built by the form,
// repeated tests and custom tests after the first one.
func splitColumn(c store.Column) (Column, []store.Test) {
	column := Column{Name: c.Name, Description: c.Description}
	var rest []store.Test
	seen := map[string]bool{}
	for _, t := range c.Tests {
		if seen[t.Name] {
			rest = append(rest, t)
			continue
		}
		switch ref, isRef := reference(t, c.Name); {
		case isRef && column.References == "":
			column.Tests = append(column.Tests, relationshipsTest)
			column.References = ref
		case t.Args != nil || t.Name == relationshipsTest:
			rest = append(rest, t)
			continue
		case slices.Contains(ColumnTests, t.Name):
			column.Tests = append(column.Tests, t.Name)
		case column.CustomTest == "":
			column.CustomTest = t.Name
		default:
			rest = append(rest, t)
			continue
		}
		seen[t.Name] = true
	}
	return column, rest
}

// reference returns the "model.column" target of a relationships test shaped
// the way the form writes it.
func reference(t store.Test, column string) (string, bool) {
	args, ok := t.Args.(map[string]any)
	if t.Name != relationshipsTest || !ok || len(args) != 2 {
		return "", false
	}
	to, _ := args["to"].(string)
	field, _ := args["field"].(string)
	target, col, found := strings.Cut(to, ".")
	if !found || target == "" || col == "" || strings.Contains(col, ".") || field != column {
		return "", false
	}
	return to, true
}

// sameColumn tells if the form fields a and b describe the same column.
func sameColumn(a, b Column) bool {
	return strings.TrimSpace(a.Name) == strings.TrimSpace(b.Name) &&
		text(a.Description) == text(b.Description) &&
		slices.Equal(testSet(a.Tests), testSet(b.Tests)) &&
		strings.TrimSpace(a.References) == strings.TrimSpace(b.References) &&
		strings.TrimSpace(a.CustomTest) == strings.TrimSpace(b.CustomTest)
}

func testSet(tests []string) []string {
	var out []string
	for _, t := range tests {
		if t = strings.TrimSpace(t); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}
