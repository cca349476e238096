package store

import (
	"bytes"

	"dbtyaml/internal/utils"

	"gopkg.in/yaml.v3"
)

// The functions of this file make the encoded document look like the file it
// was read from. A value that decodes the same as when it was read is written
// with its original node: style, comments, null or empty values, dates and
// the order of the keys stay as they were.

type newValue func() any

func newDocument() any { return &Document{} }
func newModel() any    { return &Model{} }
func newColumn() any   { return &Column{} }
func newTest() any     { return &Test{} }
func newDepends() any  { return &DependsOn{} }

// encodeAfter encodes doc as YAML, written as close as possible to orig, the
// root mapping it was read from. A nil orig gives the plain encoding.
func encodeAfter(doc *Document, orig *yaml.Node) (*yaml.Node, []byte, error) {
	var node yaml.Node
	if err := node.Encode(doc); err != nil {
		return nil, nil, err
	}
	keepDocument(&node, orig)
	content, err := utils.EncodeBasicYaml(&node)
	if err != nil {
		return nil, nil, err
	}
	return &node, content, nil
}

func keepDocument(enc, orig *yaml.Node) {
	keepMapping(enc, orig, newDocument, map[string]func(enc, orig *yaml.Node){
		"models": func(enc, orig *yaml.Node) {
			keepSequence(enc, orig, newModel, byName, keepModel)
		},
	})
}

func keepModel(enc, orig *yaml.Node) {
	keepMapping(enc, orig, newModel, map[string]func(enc, orig *yaml.Node){
		"columns": func(enc, orig *yaml.Node) {
			keepSequence(enc, orig, newColumn, byName, keepColumn)
		},
		"depends_on": func(enc, orig *yaml.Node) {
			keepMapping(enc, orig, newDepends, nil)
		},
	})
}

func keepColumn(enc, orig *yaml.Node) {
	keepMapping(enc, orig, newColumn, map[string]func(enc, orig *yaml.Node){
		"tests": func(enc, orig *yaml.Node) {
			keepSequence(enc, orig, newTest, bySameValue, nil)
		},
	})
}

// keepMapping rewrites the mapping enc after orig. Keys follow the order of
// orig, then the new keys follow in their encoded order. A key missing from
// orig is dropped when it decodes like its absence.
func keepMapping(enc, orig *yaml.Node, zero newValue, nested map[string]func(enc, orig *yaml.Node)) {
	if enc == nil || orig == nil || enc.Kind != yaml.MappingNode || orig.Kind != yaml.MappingNode {
		return
	}
	content := make([]*yaml.Node, 0, len(enc.Content))
	seen := map[string]bool{}
	for i := 0; i+1 < len(orig.Content); i += 2 {
		key, value := orig.Content[i], orig.Content[i+1]
		seen[key.Value] = true
		_, encoded := lookup(enc, key.Value)
		switch {
		case sameField(zero, key.Value, encoded, value):
			content = append(content, key, value)
		case encoded != nil:
			if keep := nested[key.Value]; keep != nil {
				keep(encoded, value)
			}
			content = append(content, key, encoded)
		}
	}
	for i := 0; i+1 < len(enc.Content); i += 2 {
		key, value := enc.Content[i], enc.Content[i+1]
		if seen[key.Value] || sameField(zero, key.Value, value, nil) {
			continue
		}
		content = append(content, key, value)
	}
	enc.Content = content
	enc.Style = orig.Style
}

// matcher returns the item of orig an encoded item was made from, or nil.
type matcher func(zero newValue, item *yaml.Node, orig []*yaml.Node, index int) *yaml.Node

// keepSequence replaces every item of enc that decodes like its original item
// by the original, and rewrites the others with keep.
func keepSequence(enc, orig *yaml.Node, zero newValue, match matcher, keep func(enc, orig *yaml.Node)) {
	if enc == nil || orig == nil || enc.Kind != yaml.SequenceNode || orig.Kind != yaml.SequenceNode {
		return
	}
	for i, item := range enc.Content {
		from := match(zero, item, orig.Content, i)
		switch {
		case from == nil:
		case sameValue(zero, item, from):
			enc.Content[i] = from
		case keep != nil:
			keep(item, from)
		}
	}
	enc.Style = orig.Style
}

// byName matches mappings by their name key. Items without a name match the
// unnamed item at the same position.
func byName(_ newValue, item *yaml.Node, orig []*yaml.Node, index int) *yaml.Node {
	name := nameOf(item)
	if name == "" {
		if index < len(orig) && nameOf(orig[index]) == "" {
			return orig[index]
		}
		return nil
	}
	for _, o := range orig {
		if nameOf(o) == name {
			return o
		}
	}
	return nil
}

// bySameValue matches the first original item with the same value.
func bySameValue(zero newValue, item *yaml.Node, orig []*yaml.Node, _ int) *yaml.Node {
	for _, o := range orig {
		if sameValue(zero, item, o) {
			return o
		}
	}
	return nil
}

func nameOf(node *yaml.Node) string {
	if node == nil || node.Kind != yaml.MappingNode {
		return ""
	}
	_, name := lookup(node, "name")
	if name == nil || name.Kind != yaml.ScalarNode {
		return ""
	}
	return name.Value
}

// sameField tells if the key decodes the same with the values a and b. A nil
// value is an absent key.
func sameField(zero newValue, key string, a, b *yaml.Node) bool {
	return sameValue(zero, entry(key, a), entry(key, b))
}

func entry(key string, value *yaml.Node) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if value != nil {
		node.Content = []*yaml.Node{{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value}
	}
	return node
}

// sameValue tells if a and b decode to values of the type made by zero that
// encode the same way. Nodes holding an alias never match: their anchor may
// be written differently.
func sameValue(zero newValue, a, b *yaml.Node) bool {
	if hasAlias(a) || hasAlias(b) {
		return false
	}
	x, err := reencode(zero(), a)
	if err != nil {
		return false
	}
	y, err := reencode(zero(), b)
	if err != nil {
		return false
	}
	return bytes.Equal(x, y)
}

func reencode(v any, node *yaml.Node) ([]byte, error) {
	if err := node.Decode(v); err != nil {
		return nil, err
	}
	return yaml.Marshal(v)
}

func hasAlias(node *yaml.Node) bool {
	if node == nil {
		return false
	}
	if node.Kind == yaml.AliasNode {
		return true
	}
	for _, child := range node.Content {
		if hasAlias(child) {
			return true
		}
	}
	return false
}
