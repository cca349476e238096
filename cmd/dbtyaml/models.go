package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"dbtyaml/internal/form"
	"dbtyaml/internal/logger"
	"dbtyaml/internal/store"
	"dbtyaml/internal/utils"
	"dbtyaml/internal/workspace"

	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"
)

func generateFilesCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List the configuration files and their number of models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			files, err := ws.Files()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
			for _, file := range files {
				st, err := ws.Open(file)
				if err != nil {
					w.Flush()
					logger.Redf("%s %s: %v\n", utils.IconFailure, file, err)
					continue
				}
				fmt.Fprintf(w, "%s\t%d models\n", file, len(st.ListModels()))
			}
			return w.Flush()
		},
	}
}

func generateListCommand(app *application) *cobra.Command {
	file := ""
	long := false
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the models",
		Long: `List the models of every configuration file, or of one file.
With --long, the materialization and the description are printed too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			files := []string{file}
			if file == "" {
				if files, err = ws.Files(); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
			if long {
				fmt.Fprintln(w, "FILE\tMODEL\tMATERIALIZED\tDESCRIPTION")
			}
			count := 0
			for _, f := range files {
				st, err := ws.OpenExisting(f)
				if err != nil {
					return err
				}
				doc := st.Document()
				for _, m := range doc.Models {
					count++
					if long {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f, m.Name, m.Materialized, firstLine(m.Description))
						continue
					}
					fmt.Fprintf(w, "%s\t%s\n", f, m.Name)
				}
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if count == 0 {
				logger.Yellowf("%s No model found in %s\n", utils.IconInfo, ws.Dir())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", file, "Only list the models of this file")
	cmd.Flags().BoolVarP(&long, "long", "l", long, "Print the materialization and the description")
	return cmd
}

func generateShowCommand(app *application) *cobra.Command {
	file := ""
	asJSON := false
	cmd := &cobra.Command{
		Use:               "show <model>",
		Short:             "Print the configuration of a model",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: app.completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			file, err := ws.Resolve(file, args[0])
			if err != nil {
				return err
			}
			st, err := ws.OpenExisting(file)
			if err != nil {
				return err
			}
			model, err := st.Model(args[0])
			if err != nil {
				return err
			}
			content, err := utils.EncodeBasicYaml(model)
			if err != nil {
				return err
			}
			if asJSON {
				if content, err = sigsyaml.YAMLToJSON(content); err != nil {
					return err
				}
				content = append(content, '\n')
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", file, "File holding the model (default: the file where it is found)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", asJSON, "Print as JSON")
	return cmd
}

// modelFlags are the form fields given on the command line.
type modelFlags struct {
	file           string
	description    string
	materialized   string
	tags           string
	columns        []string
	dependsOn      []string
	properties     string
	propertiesFile string
}

func (f *modelFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "Configuration file (add: default <model>.yml, others: the file holding the model)")
	flags.StringVarP(&f.description, "description", "d", "", "Description of the model")
	flags.StringVarP(&f.materialized, "materialized", "m", "", "Materialization: "+strings.Join(form.Materializations, ", "))
	flags.StringVarP(&f.tags, "tags", "t", "", "Comma separated tags")
	flags.StringArrayVarP(&f.columns, "column", "c", nil, "Column as NAME[:TEST,...][@MODEL.COLUMN], can be repeated")
	flags.StringSliceVar(&f.dependsOn, "depends-on", nil, "Models this model depends on")
	flags.StringVarP(&f.properties, "properties", "p", "", "Custom properties as a YAML mapping")
	flags.StringVar(&f.propertiesFile, "properties-file", "", "File holding the custom properties, - for stdin")
}

// apply sets the fields of in that were given on the command line.
func (f *modelFlags) apply(cmd *cobra.Command, in *form.Input) error {
	changed := cmd.Flags().Changed
	if changed("description") {
		in.Description = f.description
	}
	if changed("materialized") {
		in.Materialized = f.materialized
	}
	if changed("tags") {
		in.Tags = f.tags
	}
	if changed("column") {
		in.Columns = nil
		for _, arg := range f.columns {
			column, err := parseColumn(arg)
			if err != nil {
				return err
			}
			in.Columns = append(in.Columns, column)
		}
	}
	if changed("depends-on") {
		in.Dependencies = strings.Join(f.dependsOn, "\n")
	}
	if changed("properties") && changed("properties-file") {
		return fmt.Errorf("%w: --properties and --properties-file cannot be used together", form.ErrInvalidInput)
	}
	if changed("properties") {
		in.CustomProperties = f.properties
	}
	if changed("properties-file") {
		content, err := readInput(f.propertiesFile)
		if err != nil {
			return err
		}
		in.CustomProperties = string(content)
	}
	return nil
}

// parseColumn reads NAME[:TEST,...][@MODEL.COLUMN]. A test that is not one
// of the proposed tests is the custom test of the column.
func parseColumn(arg string) (form.Column, error) {
	rest, ref, _ := strings.Cut(arg, "@")
	name, tests, _ := strings.Cut(rest, ":")
	column := form.Column{
		Name:       strings.TrimSpace(name),
		References: strings.TrimSpace(ref),
	}
	if column.Name == "" {
		return form.Column{}, fmt.Errorf("%w: column %q has no name", form.ErrInvalidInput, arg)
	}
	for _, test := range utils.SplitList(tests, ",") {
		if slices.Contains(form.ColumnTests, test) {
			column.Tests = append(column.Tests, test)
			continue
		}
		if column.CustomTest != "" {
			return form.Column{}, fmt.Errorf("%w: column %s has several custom tests", form.ErrInvalidInput, column.Name)
		}
		column.CustomTest = test
	}
	return column, nil
}

// readInput reads a file, or the standard input for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(utils.Stdin)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return content, nil
}

// currentModel returns an existing model, with the file holding it.
func currentModel(ws *workspace.Workspace, file, name string) (string, store.Model, error) {
	file, err := ws.Resolve(file, name)
	if err != nil {
		return "", store.Model{}, err
	}
	st, err := ws.OpenExisting(file)
	if err != nil {
		return "", store.Model{}, err
	}
	model, err := st.Model(name)
	if err != nil {
		return "", store.Model{}, err
	}
	return file, model, nil
}

func generateAddCommand(app *application) *cobra.Command {
	flags := &modelFlags{}
	cmd := &cobra.Command{
		Use:   "add <model>",
		Short: "Add a model",
		Long: `Add a model to a configuration file. The file is created if needed.
Use "dbtyaml help-fields" to learn about the fields.`,
		Example: `  dbtyaml add stg_orders -m view -t staging,daily \
    --column order_id:unique,not_null \
    --column customer_id:relationships@stg_customers.customer_id \
    --depends-on stg_customers`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			in := form.Input{Name: name}
			if err := flags.apply(cmd, &in); err != nil {
				return err
			}
			config, err := form.Build(in)
			if err != nil {
				return err
			}
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			file, err := ws.AddModel(name, config, flags.file)
			if err != nil {
				return err
			}
			logger.Greenf("%s Model %s added to %s\n", utils.IconSuccess, name, file)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func generateUpdateCommand(app *application) *cobra.Command {
	flags := &modelFlags{}
	cmd := &cobra.Command{
		Use:   "update <model>",
		Short: "Update a model",
		Long: `Update a model. Only the given fields change, the others are kept.
--column replaces all the columns of the model. A column keeping its name
keeps its data type, its other keys and the tests --column cannot express.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: app.completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			file, model, err := currentModel(ws, flags.file, name)
			if err != nil {
				return err
			}
			in := form.FromModel(model)
			if err := flags.apply(cmd, &in); err != nil {
				return err
			}
			config, err := form.Apply(model, in)
			if err != nil {
				return err
			}
			if _, err := ws.UpdateModel(file, name, config); err != nil {
				return err
			}
			logger.Greenf("%s Model %s updated in %s\n", utils.IconSuccess, name, file)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func generateDiffCommand(app *application) *cobra.Command {
	flags := &modelFlags{}
	cmd := &cobra.Command{
		Use:   "diff <model>",
		Short: "Show what an add or an update would change, without writing",
		Long: `Show what an add or an update would change, without writing.
It takes the flags of the add and update commands.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: app.completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			// a missing model previews an add
			build := form.Build
			in := form.Input{Name: name}
			file, model, err := currentModel(ws, flags.file, name)
			switch {
			case errors.Is(err, store.ErrNotFound) || errors.Is(err, workspace.ErrNoFile):
				file = flags.file
				if file == "" {
					file = workspace.DefaultFileName(name)
				}
			case err != nil:
				return err
			default:
				in = form.FromModel(model)
				build = func(in form.Input) (store.Model, error) { return form.Apply(model, in) }
			}
			if err := flags.apply(cmd, &in); err != nil {
				return err
			}
			config, err := build(in)
			if err != nil {
				return err
			}
			st, err := ws.Open(file)
			if err != nil {
				return err
			}
			diff, err := st.Diff(name, config)
			if err != nil {
				return err
			}
			if diff == "" {
				logger.Greenf("%s No change\n", utils.IconSuccess)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), diff)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func generateDeleteCommand(app *application) *cobra.Command {
	file := ""
	force := false
	cmd := &cobra.Command{
		Use:   "delete <model>",
		Short: "Delete a model",
		Long: `Delete a model. A confirmation is asked unless --force is given.
The file is removed when its last model is deleted.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: app.completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			file, err := ws.Resolve(file, name)
			if err != nil {
				return err
			}
			if !force && !utils.Confirm(fmt.Sprintf("Delete model %s from %s?", name, file), utils.IconTrash) {
				logger.Yellowf("%s Cancelled\n", utils.IconInfo)
				return nil
			}
			if _, err := ws.DeleteModel(file, name); err != nil {
				return err
			}
			logger.Greenf("%s Model %s deleted from %s\n", utils.IconSuccess, name, file)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", file, "File holding the model (default: the file where it is found)")
	cmd.Flags().BoolVar(&force, "force", force, "Do not ask for a confirmation")
	return cmd
}

func generateValidateCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Validate a DBT properties file",
		Long: `Validate a DBT properties file, or the standard input with "-".
A file name of the configuration directory can be given without its path.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil && path != "-" {
				if ws, wsErr := app.workspace(); wsErr == nil {
					if inDir, err := ws.Path(path); err == nil {
						path = inDir
					}
				}
			}
			content, err := readInput(path)
			if err != nil {
				return err
			}
			if err := store.Check(content, app.config.SupportedVersions); err != nil {
				return err
			}
			logger.Greenf("%s %s is valid\n", utils.IconSuccess, args[0])
			return nil
		},
	}
}

func generateExportCommand(app *application) *cobra.Command {
	file := ""
	asJSON := false
	output := ""
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a configuration file as YAML or JSON",
		Long: `Export a configuration file as YAML or JSON.
--file may be omitted when the configuration directory holds only one file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := app.workspace()
			if err != nil {
				return err
			}
			if file == "" {
				files, err := ws.Files()
				if err != nil {
					return err
				}
				switch len(files) {
				case 0:
					return fmt.Errorf("%w: no configuration file in %s", workspace.ErrNoFile, ws.Dir())
				case 1:
					file = files[0]
				default:
					return fmt.Errorf("several files in %s (%s), choose one with --file", ws.Dir(), strings.Join(files, ", "))
				}
			}
			st, err := ws.OpenExisting(file)
			if err != nil {
				return err
			}
			var content []byte
			if asJSON {
				content, err = st.ExportJSON()
			} else {
				content, err = st.Export()
			}
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(content)
				return err
			}
			if err := os.WriteFile(output, content, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			logger.Greenf("%s %s exported to %s\n", utils.IconSuccess, file, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", file, "File to export")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", asJSON, "Export as JSON")
	cmd.Flags().StringVarP(&output, "output", "o", output, "Write to this file instead of the standard output")
	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
