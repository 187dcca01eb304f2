package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Render builds a YAML document holding each option's default value with its
// documentation as a head comment. Dotted keys become nested mappings.
func Render(options []Option, sectionDocs map[string]string) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}

	for _, opt := range options {
		parts := strings.Split(opt.Key, ".")
		parent := root
		for i, part := range parts[:len(parts)-1] {
			path := strings.Join(parts[:i+1], ".")
			parent = childMapping(parent, part, sectionDocs[path])
		}

		value := &yaml.Node{}
		if err := value.Encode(opt.Default); err != nil {
			return nil, fmt.Errorf("config: encode default for %s: %w", opt.Key, err)
		}
		keyNode := &yaml.Node{
			Kind:        yaml.ScalarNode,
			Value:       parts[len(parts)-1],
			HeadComment: comment(opt.Doc),
		}
		parent.Content = append(parent.Content, keyNode, value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, fmt.Errorf("config: render: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("config: render: %w", err)
	}
	return buf.Bytes(), nil
}

// childMapping finds or appends the mapping stored under key in parent.
func childMapping(parent *yaml.Node, key, doc string) *yaml.Node {
	for i := 0; i+1 < len(parent.Content); i += 2 {
		if parent.Content[i].Value == key && parent.Content[i+1].Kind == yaml.MappingNode {
			return parent.Content[i+1]
		}
	}
	child := &yaml.Node{Kind: yaml.MappingNode}
	parent.Content = append(parent.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key, HeadComment: comment(doc)},
		child,
	)
	return child
}

func comment(doc string) string {
	doc = normalizeDoc(doc)
	if doc == "" {
		return ""
	}
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		lines[i] = "# " + line
	}
	return strings.Join(lines, "\n")
}
