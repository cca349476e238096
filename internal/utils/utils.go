package utils

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"gopkg.in/yaml.v3"
)

// Stdin is where Confirm reads answers from. Tests may replace it.
var Stdin io.Reader = os.Stdin

// YAMLIndent is the indentation used for every YAML document written by dbtyaml.
const YAMLIndent = 2

// EncodeBasicYaml encodes a basic yaml from an interface.
func EncodeBasicYaml(data any) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(YAMLIndent)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WordWrap wraps a string to a given line width. Warning: it may break the string. You need to check the result.
func WordWrap(text string, lineWidth int) string {
	return wordwrap.WrapString(text, uint(lineWidth))
}

// Indent prefixes every non empty line of text with n spaces.
func Indent(text string, n int) string {
	spaces := strings.Repeat(" ", n)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = spaces + line
		}
	}
	return strings.Join(lines, "\n")
}

// SplitList splits s on sep, trims every element and drops the empty ones.
func SplitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Confirm asks a question and returns true if the answer is y.
func Confirm(question string, icon ...Icon) bool {
	if len(icon) > 0 {
		fmt.Printf("%s %s [y/N] ", icon[0], question)
	} else {
		fmt.Print(question + " [y/N] ")
	}
	var response string
	fmt.Fscanln(Stdin, &response)
	return strings.ToLower(strings.TrimSpace(response)) == "y"
}
