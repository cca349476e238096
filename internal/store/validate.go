package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	version "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// DefaultSupportedVersions is the constraint applied to the document version.
const DefaultSupportedVersions = ">= 2"

// parseNode decodes content into its root mapping node. It returns a nil node
// for an empty (or null) document.
func parseNode(path string, content []byte) (*yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	var root yaml.Node
	if err := dec.Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, NewParseError(path, err)
	}
	var next yaml.Node
	if err := dec.Decode(&next); !errors.Is(err, io.EOF) {
		line := next.Line
		if err != nil {
			return nil, NewParseError(path, err)
		}
		return nil, &ParseError{Path: path, Line: line, Msg: "only one document per file is supported"}
	}

	node := &root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		node = node.Content[0]
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{Path: path, Line: node.Line, Msg: "the document root must be a mapping"}
	}
	return node, nil
}

// checker collects structural problems of a document node.
type checker struct {
	constraints   version.Constraints
	requireModels bool
	problems      []string
}

func (c *checker) addf(line int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if line > 0 {
		msg = fmt.Sprintf("line %d: %s", line, msg)
	}
	c.problems = append(c.problems, msg)
}

func (c *checker) check(root *yaml.Node) []string {
	if root == nil {
		if c.requireModels {
			c.addf(0, "the document is empty")
		}
		return c.problems
	}

	vkey, vnode := lookup(root, "version")
	if vnode != nil {
		c.checkVersion(vkey, vnode)
	}

	key, models := lookup(root, "models")
	switch {
	case models == nil:
		if c.requireModels {
			c.addf(root.Line, "the models key is missing")
		}
	case models.Kind == yaml.ScalarNode && models.Tag == "!!null":
		if c.requireModels {
			c.addf(key.Line, "models must be a list")
		}
	case models.Kind != yaml.SequenceNode:
		c.addf(key.Line, "models must be a list")
	default:
		c.checkModels(models)
	}
	return c.problems
}

func (c *checker) checkVersion(key, node *yaml.Node) {
	if node.Kind != yaml.ScalarNode || node.Tag != "!!int" {
		c.addf(key.Line, "version must be an integer")
		return
	}
	if _, err := strconv.Atoi(node.Value); err != nil {
		c.addf(key.Line, "version must be an integer")
		return
	}
	v, err := version.NewVersion(node.Value)
	if err != nil {
		c.addf(key.Line, "version %s: %s", node.Value, err)
		return
	}
	if c.constraints != nil && !c.constraints.Check(v) {
		c.addf(key.Line, "version %s is not supported (%s)", node.Value, c.constraints)
	}
}

func (c *checker) checkModels(models *yaml.Node) {
	seen := make(map[string]int)
	for i, item := range models.Content {
		if item.Kind != yaml.MappingNode {
			c.addf(item.Line, "model #%d must be a mapping", i+1)
			continue
		}
		_, name := lookup(item, "name")
		if name == nil || name.Kind != yaml.ScalarNode || name.Tag == "!!null" || name.Value == "" {
			c.addf(item.Line, "model #%d has no name", i+1)
			continue
		}
		if first, ok := seen[name.Value]; ok {
			c.addf(name.Line, "duplicate model name %q (first defined at line %d)", name.Value, first)
			continue
		}
		seen[name.Value] = name.Line
	}
}

// lookup returns the key and value nodes of a mapping entry.
func lookup(mapping *yaml.Node, key string) (*yaml.Node, *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i], mapping.Content[i+1]
		}
	}
	return nil, nil
}

func parseConstraints(s string) (version.Constraints, error) {
	if s == "" {
		s = DefaultSupportedVersions
	}
	c, err := version.NewConstraint(s)
	if err != nil {
		return nil, fmt.Errorf("invalid supported versions %q: %w", s, err)
	}
	return c, nil
}

// Check parses text and returns the YAML error or the structural problems of
// the document. The document must have a models list of named, uniquely
// named mappings and a supported version.
func Check(text []byte, supportedVersions string) error {
	constraints, err := parseConstraints(supportedVersions)
	if err != nil {
		return err
	}
	root, err := parseNode("", text)
	if err != nil {
		return err
	}
	c := &checker{constraints: constraints, requireModels: true}
	if problems := c.check(root); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	// the shape is right, make sure every value decodes in its field
	if _, err := decode("", root); err != nil {
		return err
	}
	return nil
}

// Validate tells if text is a valid document and, if not, why. It has no
// side effect.
func Validate(text []byte) (bool, string) {
	if err := Check(text, DefaultSupportedVersions); err != nil {
		return false, err.Error()
	}
	return true, "valid"
}

// Parse decodes content into a Document. Empty content gives a new document.
func Parse(content []byte) (*Document, error) {
	root, err := parseNode("", content)
	if err != nil {
		return nil, err
	}
	return decode("", root)
}

func decode(path string, root *yaml.Node) (*Document, error) {
	if root == nil {
		return NewDocument(), nil
	}
	doc := &Document{}
	if err := root.Decode(doc); err != nil {
		return nil, NewParseError(path, err)
	}
	if doc.Models == nil {
		doc.Models = []Model{}
	}
	return doc, nil
}
