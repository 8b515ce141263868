package taskfile

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dohr-michael/taskscope/internal/tasks"
)

// ParseYAML parses the YAML rendition of the nested-context task document.
func ParseYAML(data []byte, opts ParseOptions) ([]tasks.Task, error) {
	doc, err := decodeYAMLDocument(data)
	if err != nil {
		return nil, err
	}
	return parseDocument(doc, opts)
}

func decodeYAMLDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Format: FormatYAML, Err: err}
	}
	if doc == nil {
		return nil, &ValidationError{Issues: []Issue{{Index: -1, Message: "top level must be a mapping of contexts"}}}
	}
	return doc, nil
}

// UpdateYAMLStatus sets the status of the task with the given id. Comments
// and key order are preserved by editing the node tree in place.
func UpdateYAMLStatus(data []byte, id string, status tasks.TaskStatus) ([]byte, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Format: FormatYAML, Err: err}
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, &ValidationError{Issues: []Issue{{Index: -1, Message: "top level must be a mapping of contexts"}}}
	}

	if !setYAMLStatus(root.Content[0], id, string(status)) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	out, err := yaml.Marshal(&root)
	if err != nil {
		return nil, fmt.Errorf("marshal task document: %w", err)
	}
	return out, nil
}

func setYAMLStatus(top *yaml.Node, id, status string) bool {
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, ctx := top.Content[i], top.Content[i+1]
		list := ctx
		if ctx.Kind == yaml.MappingNode {
			list = mappingValue(ctx, "tasks")
		} else if key.Value != "tasks" {
			continue
		}
		if list == nil || list.Kind != yaml.SequenceNode {
			continue
		}
		for _, item := range list.Content {
			if item.Kind != yaml.MappingNode {
				continue
			}
			if idNode := mappingValue(item, "id"); idNode == nil || idNode.Value != id {
				continue
			}
			if st := mappingValue(item, "status"); st != nil {
				st.Value = status
				st.Tag = "!!str"
			} else {
				item.Content = append(item.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: "status"},
					&yaml.Node{Kind: yaml.ScalarNode, Value: status},
				)
			}
			return true
		}
	}
	return false
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
