package store

import (
	"errors"
	"os"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		valid   bool
		message string
	}{
		{"valid", "version: 2\nmodels:\n  - name: a\n", true, "valid"},
		{"empty list", "version: 2\nmodels: []\n", true, "valid"},
		{"no version", "models:\n  - name: a\n", true, "valid"},
		{"invalid yaml", "not: valid: yaml: :", false, "invalid yaml"},
		{"empty text", "", false, "empty"},
		{"root is a scalar", "hello", false, "mapping"},
		{"no models", "version: 2\n", false, "models key is missing"},
		{"null models", "models:\n", false, "models must be a list"},
		{"models is a string", "models: abc\n", false, "models must be a list"},
		{"model is a string", "models:\n  - abc\n", false, "model #1 must be a mapping"},
		{"model without name", "models:\n  - description: d\n", false, "model #1 has no name"},
		{"empty name", "models:\n  - name: \"\"\n", false, "model #1 has no name"},
		{"duplicate", "models:\n  - name: a\n  - name: a\n", false, `duplicate model name "a" (first defined at line 2)`},
		{"version too old", "version: 1\nmodels: []\n", false, "version 1 is not supported"},
		{"version not an int", "version: two\nmodels: []\n", false, "version must be an integer"},
		{"bad columns", "models:\n  - name: a\n    columns: 3\n", false, "line 3"},
		{"duplicate key", "models: []\nmodels: []\n", false, "invalid yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, msg := Validate([]byte(tt.text))
			if valid != tt.valid {
				t.Errorf("Validate() valid = %v, want %v (%s)", valid, tt.valid, msg)
			}
			if !strings.Contains(msg, tt.message) {
				t.Errorf("Validate() message = %q, want it to contain %q", msg, tt.message)
			}
		})
	}
}

func TestValidateHasNoSideEffect(t *testing.T) {
	s := openFixture(t)
	before := readFile(t, s.Path())
	names := s.ListModels()

	if ok, _ := s.Validate([]byte("not: valid: yaml: :")); ok {
		t.Fatal("Expected the text to be invalid")
	}
	if string(readFile(t, s.Path())) != string(before) {
		t.Errorf("Validate must not write the file")
	}
	if strings.Join(s.ListModels(), ",") != strings.Join(names, ",") {
		t.Errorf("Validate must not change the document")
	}
}

func TestValidateExportIsValid(t *testing.T) {
	s := openFixture(t)
	out, _ := s.Export()
	if ok, msg := Validate(out); !ok {
		t.Errorf("Expected the export to be valid, got %s", msg)
	}
}

func TestValidateFixture(t *testing.T) {
	content, err := os.ReadFile("testdata/schema.yml")
	if err != nil {
		t.Fatal(err)
	}
	if err := Check(content, ""); err != nil {
		t.Errorf("Check() error = %s", err)
	}
}

func TestCheckWithConstraint(t *testing.T) {
	text := []byte("version: 3\nmodels: []\n")
	if err := Check(text, ">= 2, < 3"); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected version 3 to be refused, got %v", err)
	}
	if err := Check(text, ">= 2"); err != nil {
		t.Errorf("Expected version 3 to be accepted, got %v", err)
	}
	if err := Check(text, "not a constraint"); err == nil {
		t.Errorf("Expected an error for a bad constraint")
	}
}

func TestOpenWithBadConstraint(t *testing.T) {
	if _, err := Open(setup(t, ""), Options{SupportedVersions: "~~"}); err == nil {
		t.Errorf("Expected an error for a bad constraint")
	}
}
