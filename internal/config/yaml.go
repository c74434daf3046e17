package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// taskKeys are the keys a tasks: entry may carry.
var taskKeys = jsonKeys(reflect.TypeOf(TaskConfig{}))

func jsonKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON converts a YAML config into JSON for the strict decoder. Task
// entries are checked first so an unknown key names the task it is in.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return []byte("{}"), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("yaml: line %d: config must be a mapping", root.Line)
	}
	if tasks := mappingValue(root, "tasks"); tasks != nil {
		if err := checkTaskKeys(tasks); err != nil {
			return nil, err
		}
	}

	var v any
	if err := root.Decode(&v); err != nil {
		return nil, err
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func checkTaskKeys(tasks *yaml.Node) error {
	if tasks.Kind != yaml.SequenceNode {
		return nil
	}
	for i, entry := range tasks.Content {
		if entry.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j < len(entry.Content); j += 2 {
			k := entry.Content[j]
			if taskKeys[k.Value] {
				continue
			}
			label := fmt.Sprintf("tasks[%d]", i)
			if n := mappingValue(entry, "name"); n != nil && n.Value != "" {
				label += fmt.Sprintf(" (%s)", n.Value)
			}
			return fmt.Errorf("%s: line %d: unknown key %q", label, k.Line, k.Value)
		}
	}
	return nil
}

// stringKeys turns map[any]any, which YAML yields for non-string keys, into
// map[string]any so the tree can be marshaled as JSON.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
