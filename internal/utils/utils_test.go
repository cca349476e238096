package utils

import (
	"reflect"
	"strings"
	"testing"
)

func TestEncodeBasicYaml(t *testing.T) {
	data := map[string]any{
		"models": []map[string]any{{"name": "orders"}},
	}
	out, err := EncodeBasicYaml(data)
	if err != nil {
		t.Fatalf("EncodeBasicYaml() error = %v", err)
	}
	want := "models:\n  - name: orders\n"
	if string(out) != want {
		t.Errorf("EncodeBasicYaml() = %q, want %q", out, want)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name string
		in   string
		sep  string
		want []string
	}{
		{"comma separated", "a, b ,c", ",", []string{"a", "b", "c"}},
		{"empty parts dropped", "a,, ,b", ",", []string{"a", "b"}},
		{"lines", "stg_orders\n\n stg_customers \n", "\n", []string{"stg_orders", "stg_customers"}},
		{"empty", "", ",", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitList(tt.in, tt.sep)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitList() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestIndent(t *testing.T) {
	got := Indent("a\n\nb", 2)
	if got != "  a\n\n  b" {
		t.Errorf("Indent() = %q", got)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"yes", "y\n", true},
		{"upper yes", "Y\n", true},
		{"no", "n\n", false},
		{"empty", "\n", false},
	}
	old := Stdin
	defer func() { Stdin = old }()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Stdin = strings.NewReader(tt.answer)
			if got := Confirm("Delete?", IconTrash); got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWordWrap(t *testing.T) {
	got := WordWrap("the quick brown fox", 10)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 10 {
			t.Errorf("line %q is longer than 10", line)
		}
	}
}
