package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"dbtyaml/internal/config"
	"dbtyaml/internal/form"
	"dbtyaml/internal/logger"
	"dbtyaml/internal/store"
	"dbtyaml/internal/utils"

	"gopkg.in/yaml.v3"
)

// run executes the command line in a fresh root command and returns what it
// printed.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	logger.Output = &buf
	defer func() { logger.Output = os.Stdout }()

	rootCmd := buildRootCmd()
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--dir", dir, "--no-color"}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

func setup(t *testing.T) string {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, key := range []string{config.EnvConfig, config.EnvDir, config.EnvLogLevel, config.EnvLogFile, config.EnvSupportedVersions} {
		t.Setenv(key, "")
	}
	return filepath.Join(t.TempDir(), "dbt_configs")
}

func TestBuildCommand(t *testing.T) {
	rootCmd := buildRootCmd()
	if rootCmd == nil {
		t.Errorf("Expected rootCmd to be defined")
	} else if rootCmd.Use != "dbtyaml" {
		t.Errorf("Expected rootCmd.Use to be dbtyaml, got %s", rootCmd.Use)
	}
	numCommands := 14
	if len(rootCmd.Commands()) != numCommands {
		t.Errorf("Expected %d command, got %d", numCommands, len(rootCmd.Commands()))
	}
}

func TestGetVersion(t *testing.T) {
	cmd := buildRootCmd()
	if cmd == nil {
		t.Errorf("Expected cmd to be defined")
	}
	version := generateVersionCommand()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	version.Run(cmd, nil)

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	output := strings.TrimSpace(buf.String())
	if output == "" {
		t.Errorf("Expected a version, got nothing")
	}
}

func TestSchemaCommand(t *testing.T) {
	cmd := buildRootCmd()
	schema := generateSchemaCommand()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w
	var buf bytes.Buffer

	done := make(chan struct{})
	go func() {
		schema.Run(cmd, nil)
		w.Close()
		close(done)
	}()
	io.Copy(&buf, r)
	<-done

	os.Stdout = old

	// try to parse json
	schemaContent := make(map[string]any)
	if err := json.Unmarshal(buf.Bytes(), &schemaContent); err != nil {
		t.Errorf("Expected valid json")
	}
}

func TestAddListShowDelete(t *testing.T) {
	dir := setup(t)

	out, err := run(t, dir, "add", "stg_orders",
		"-d", "Orders", "-m", "view", "-t", "staging, daily",
		"-c", "order_id:unique,not_null",
		"-c", "customer_id:relationships,is_recent@stg_customers.customer_id",
		"--depends-on", "stg_customers",
		"-p", "config:\n  enabled: true\n",
	)
	if err != nil {
		t.Fatalf("add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "stg_orders added to stg_orders.yml") {
		t.Errorf("unexpected add output: %s", out)
	}

	st, err := store.Open(filepath.Join(dir, "stg_orders.yml"), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	model, err := st.Model("stg_orders")
	if err != nil {
		t.Fatal(err)
	}
	if len(model.Columns) != 2 || len(model.Columns[1].Tests) != 2 || model.Extra["config"] == nil {
		t.Errorf("unexpected model %+v", model)
	}

	out, err = run(t, dir, "list", "--long")
	if err != nil || !strings.Contains(out, "stg_orders") || !strings.Contains(out, "view") {
		t.Errorf("list: %v\n%s", err, out)
	}

	out, err = run(t, dir, "files")
	if err != nil || !strings.Contains(out, "stg_orders.yml") || !strings.Contains(out, "1 models") {
		t.Errorf("files: %v\n%s", err, out)
	}

	out, err = run(t, dir, "show", "stg_orders", "--json")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var shown map[string]any
	if err := json.Unmarshal([]byte(out), &shown); err != nil || shown["materialized"] != "view" {
		t.Errorf("show: %v\n%s", err, out)
	}

	if _, err := run(t, dir, "delete", "stg_orders", "--force"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stg_orders.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected the empty file to be removed")
	}
}

func TestAddErrors(t *testing.T) {
	dir := setup(t)
	if _, err := run(t, dir, "add", "a", "-m", "snapshot"); !errors.Is(err, form.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := run(t, dir, "add", "a", "-p", "[1, 2]"); !errors.Is(err, store.ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
	if _, err := run(t, dir, "add", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, dir, "add", "a"); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestUpdateKeepsOtherFields(t *testing.T) {
	dir := setup(t)
	if _, err := run(t, dir, "add", "orders", "-d", "Orders", "-m", "table", "-c", "id:unique"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, dir, "update", "orders", "-m", "incremental"); err != nil {
		t.Fatalf("update: %v", err)
	}
	out, err := run(t, dir, "show", "orders")
	if err != nil {
		t.Fatal(err)
	}
	for _, expected := range []string{"materialized: incremental", "description: Orders", "name: id"} {
		if !strings.Contains(out, expected) {
			t.Errorf("expected %q in:\n%s", expected, out)
		}
	}

	if _, err := run(t, dir, "update", "nope", "-m", "view"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

const ordersFile = `version: 2
models:
  - name: orders
    description: old
    columns:
      - name: status
        data_type: varchar
        meta:
          owner: finance
        tests:
          - accepted_values:
              values: [a, b]
          - not_null
      - name: customer_id
        tests:
          - relationships:
              to: ref('customers')
              field: id
`

func TestUpdateKeepsWhatFlagsCannotExpress(t *testing.T) {
	dir := setup(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "orders.yml")
	if err := os.WriteFile(path, []byte(ordersFile), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := run(t, dir, "update", "orders", "-d", "new"); err != nil {
		t.Fatalf("update: %v", err)
	}
	var expected, got map[string]any
	if err := yaml.Unmarshal([]byte(ordersFile), &expected); err != nil {
		t.Fatal(err)
	}
	expected["models"].([]any)[0].(map[string]any)["description"] = "new"
	content, _ := os.ReadFile(path)
	if err := yaml.Unmarshal(content, &got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(expected, got) {
		t.Errorf("update changed more than the description:\n%s", content)
	}

	// a column given again keeps what the flag cannot express
	if _, err := run(t, dir, "update", "orders", "-c", "status:unique"); err != nil {
		t.Fatalf("update: %v", err)
	}
	content, _ = os.ReadFile(path)
	doc, err := store.Parse(content)
	if err != nil {
		t.Fatal(err)
	}
	columns := doc.Models[0].Columns
	if len(columns) != 1 {
		t.Fatalf("expected only the status column, got %+v", columns)
	}
	status := columns[0]
	if status.DataType != "varchar" || status.Extra["meta"] == nil {
		t.Errorf("status lost its data type or meta: %+v", status)
	}
	var names []string
	for _, test := range status.Tests {
		names = append(names, test.Name)
	}
	if !reflect.DeepEqual(names, []string{"unique", "accepted_values"}) {
		t.Errorf("tests = %v", names)
	}
	if status.Tests[1].Args == nil {
		t.Errorf("accepted_values lost its values")
	}
}

func TestDiff(t *testing.T) {
	dir := setup(t)
	if _, err := run(t, dir, "add", "orders", "-m", "table"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, dir, "diff", "orders", "-m", "view")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "view") {
		t.Errorf("expected the change in the diff:\n%s", out)
	}
	out, err = run(t, dir, "diff", "orders")
	if err != nil || !strings.Contains(out, "No change") {
		t.Errorf("diff without change: %v\n%s", err, out)
	}
	out, err = run(t, dir, "diff", "payments", "-f", "orders.yml")
	if err != nil || !strings.Contains(out, "payments") {
		t.Errorf("diff of a new model: %v\n%s", err, out)
	}
	content, _ := os.ReadFile(filepath.Join(dir, "orders.yml"))
	if strings.Contains(string(content), "payments") || strings.Contains(string(content), "view") {
		t.Errorf("diff must not write:\n%s", content)
	}
}

func TestDeleteConfirmation(t *testing.T) {
	dir := setup(t)
	if _, err := run(t, dir, "add", "orders"); err != nil {
		t.Fatal(err)
	}
	defer func() { utils.Stdin = os.Stdin }()

	utils.Stdin = strings.NewReader("n\n")
	if _, err := run(t, dir, "delete", "orders"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "orders.yml")); err != nil {
		t.Errorf("the model must not be deleted without a confirmation")
	}

	utils.Stdin = strings.NewReader("y\n")
	if _, err := run(t, dir, "delete", "orders"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "orders.yml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("the model should be deleted")
	}
}

func TestValidateCommand(t *testing.T) {
	dir := setup(t)
	valid := filepath.Join(t.TempDir(), "valid.yml")
	invalid := filepath.Join(t.TempDir(), "invalid.yml")
	os.WriteFile(valid, []byte("version: 2\nmodels:\n  - name: a\n"), 0o644)
	os.WriteFile(invalid, []byte("models:\n  - name: a\n  - name: a\n"), 0o644)

	out, err := run(t, dir, "validate", valid)
	if err != nil || !strings.Contains(out, "is valid") {
		t.Errorf("valid file: %v\n%s", err, out)
	}
	if _, err := run(t, dir, "validate", invalid); !errors.Is(err, store.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}

	defer func() { utils.Stdin = os.Stdin }()
	utils.Stdin = strings.NewReader("models: [\n")
	if _, err := run(t, dir, "validate", "-"); !errors.Is(err, store.ErrParse) {
		t.Errorf("expected ErrParse, got %v", err)
	}
}

func TestExportCommand(t *testing.T) {
	dir := setup(t)
	if _, err := run(t, dir, "export"); err == nil {
		t.Error("expected an error without any file")
	}
	if _, err := run(t, dir, "add", "orders", "-d", "Orders"); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, dir, "export")
	if err != nil {
		t.Fatal(err)
	}
	if ok, msg := store.Validate([]byte(out)); !ok {
		t.Errorf("export is not valid: %s\n%s", msg, out)
	}

	output := filepath.Join(t.TempDir(), "orders.json")
	if _, err := run(t, dir, "export", "--json", "-o", output); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err != nil {
		t.Errorf("not json: %v\n%s", err, content)
	}

	if _, err := run(t, dir, "add", "payments"); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, dir, "export"); err == nil {
		t.Error("expected an error with several files and no --file")
	}
}

func TestParseColumn(t *testing.T) {
	tests := []struct {
		arg      string
		expected form.Column
		wantErr  bool
	}{
		{"id", form.Column{Name: "id"}, false},
		{"id:unique,not_null", form.Column{Name: "id", Tests: []string{"unique", "not_null"}}, false},
		{"id:is_recent", form.Column{Name: "id", CustomTest: "is_recent"}, false},
		{"cid@customers.id", form.Column{Name: "cid", References: "customers.id"}, false},
		{"cid:relationships@customers.id", form.Column{Name: "cid", Tests: []string{"relationships"}, References: "customers.id"}, false},
		{":unique", form.Column{}, true},
		{"id:a,b", form.Column{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.arg, func(t *testing.T) {
			column, err := parseColumn(tc.arg)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if column.Name != tc.expected.Name || column.References != tc.expected.References || column.CustomTest != tc.expected.CustomTest {
				t.Errorf("got %+v, want %+v", column, tc.expected)
			}
			if strings.Join(column.Tests, ",") != strings.Join(tc.expected.Tests, ",") {
				t.Errorf("tests = %v, want %v", column.Tests, tc.expected.Tests)
			}
		})
	}
}

func TestHelpFields(t *testing.T) {
	cmd := generateFieldHelpCommand()
	if len(cmd.ValidArgs) == 0 {
		t.Error("expected the field names as valid arguments")
	}
}

func TestCompletionCommand(t *testing.T) {
	cmd := generateCompletionCommand("dbtyaml")
	for _, shell := range cmd.ValidArgs {
		if !strings.Contains(strings.ToLower(cmd.Long), shell) {
			t.Errorf("the help does not document %s:\n%s", shell, cmd.Long)
		}
	}
	if strings.Contains(cmd.Long, "%[1]s") || !strings.Contains(cmd.Long, "dbtyaml completion zsh") {
		t.Errorf("the command name is not in the help:\n%s", cmd.Long)
	}

	out, err := run(t, setup(t), "completion", "bash")
	if err != nil || !strings.Contains(out, "dbtyaml") {
		t.Errorf("completion bash: %v\n%s", err, out)
	}
}
