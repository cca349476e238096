// Package fields documents the fields of a model, for the help-fields
// command and the hints of the web form.
package fields

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/tabwriter"
	"text/template"

	"dbtyaml/internal/form"
	"dbtyaml/internal/utils"

	log "github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"
)

var (
	// Set the documentation of fields here
	//
	//go:embed fields.yaml
	fieldFullHelpYAML []byte

	// parsed yaml
	fieldFullHelp map[string]Help

	//go:embed help-template.tpl
	helpTemplatePlain string

	//go:embed help-template.md.tpl
	helpTemplateMarkdown string
)

var quoted = regexp.MustCompile(`"([^"\s]+)"`)

// Help is the documentation of a field.
type Help struct {
	Short   string `json:"short"`
	Long    string `json:"long"`
	Example string `json:"example"`
	Type    string `json:"type"`
}

// values given to the help texts
type helpValues struct {
	Materializations string
	Default          string
	Tests            string
}

var values = helpValues{
	Materializations: strings.Join(form.Materializations, ", "),
	Default:          form.DefaultMaterialization,
	Tests:            strings.Join(form.ColumnTests, ", "),
}

func init() {
	if err := yaml.Unmarshal(fieldFullHelpYAML, &fieldFullHelp); err != nil {
		panic(err)
	}
}

// GetFieldNames returns the sorted names of the documented fields.
func GetFieldNames() []string {
	names := make([]string, 0, len(fieldFullHelp))
	for name := range fieldFullHelp {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Short returns the one line help of a field, or an empty string.
func Short(name string) string {
	help, ok := fieldFullHelp[name]
	if !ok {
		return ""
	}
	return render(name+"/short", help.Short)
}

// GetFieldHelp returns the summary of every field.
func GetFieldHelp(asMarkdown bool) string {
	names := GetFieldNames()
	if !asMarkdown {
		return generatePlainHelp(names)
	}
	return generateMarkdownHelp(names)
}

// GetFieldHelpFor returns the full help of a field.
func GetFieldHelpFor(name string, asMarkdown bool) string {
	help, ok := fieldFullHelp[name]
	if !ok {
		return "No help available for " + name + "."
	}

	help.Short = render(name+"/short", help.Short)
	help.Long = render(name+"/long", strings.TrimPrefix(help.Long, "\n"))
	help.Example = strings.TrimPrefix(help.Example, "\n")

	helpTemplate := helpTemplatePlain
	if asMarkdown {
		helpTemplate = helpTemplateMarkdown
		help.Long = quoted.ReplaceAllString(help.Long, "`$1`")
	} else {
		help.Long = strings.ReplaceAll(help.Long, "`", "")
		help.Long = utils.WordWrap(strings.Join(strings.Fields(help.Long), " "), 80)
	}

	var buf bytes.Buffer
	err := template.Must(template.New("complete").Parse(helpTemplate)).Execute(&buf, struct {
		Name string
		Help Help
	}{
		Name: name,
		Help: help,
	})
	if err != nil {
		log.WithError(err).Error("cannot render the field help")
		return help.Short
	}
	return buf.String()
}

// render executes a text of the documentation as a template.
func render(name, text string) string {
	tpl, err := template.New(name).Parse(text)
	if err != nil {
		log.WithError(err).WithField("field", name).Error("broken field documentation")
		return text
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, values); err != nil {
		log.WithError(err).WithField("field", name).Error("broken field documentation")
		return text
	}
	return buf.String()
}

func generateMarkdownHelp(names []string) string {
	var builder strings.Builder
	var maxNameLength, maxDescriptionLength, maxTypeLength int

	for _, name := range names {
		help := fieldFullHelp[name]
		maxNameLength = max(maxNameLength, len(name)+2)
		maxDescriptionLength = max(maxDescriptionLength, len(Short(name)))
		maxTypeLength = max(maxTypeLength, len(help.Type)+2)
	}

	fmt.Fprintf(&builder, "%s\n", generateTableHeader(maxNameLength, maxDescriptionLength, maxTypeLength))
	fmt.Fprintf(&builder, "%s\n", generateTableHeaderSeparator(maxNameLength, maxDescriptionLength, maxTypeLength))

	for _, name := range names {
		help := fieldFullHelp[name]
		fmt.Fprintf(&builder, "| %-*s | %-*s | %-*s |\n",
			maxNameLength, "`"+name+"`",
			maxDescriptionLength, Short(name),
			maxTypeLength, "`"+help.Type+"`",
		)
	}

	return builder.String()
}

func generatePlainHelp(names []string) string {
	buf := new(strings.Builder)
	w := tabwriter.NewWriter(buf, 0, 8, 2, ' ', 0)
	for _, name := range names {
		help := fieldFullHelp[name]
		fmt.Fprintf(w, "%s:\t%s\t%s\n", name, help.Type, Short(name))
	}
	w.Flush()

	head := "To get more information about a field, use `dbtyaml help-fields <name>`\ne.g. dbtyaml help-fields materialized\n\n"
	return head + buf.String()
}

func generateTableHeader(maxNameLength, maxDescriptionLength, maxTypeLength int) string {
	return fmt.Sprintf(
		"| %-*s | %-*s | %-*s |",
		maxNameLength, "Field",
		maxDescriptionLength, "Description",
		maxTypeLength, "Type",
	)
}

func generateTableHeaderSeparator(maxNameLength, maxDescriptionLength, maxTypeLength int) string {
	return fmt.Sprintf(
		"| %s | %s | %s |",
		strings.Repeat("-", maxNameLength),
		strings.Repeat("-", maxDescriptionLength),
		strings.Repeat("-", maxTypeLength),
	)
}
