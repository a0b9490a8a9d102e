package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Render encodes v as json or yaml. Table output is rendered by the caller.
func Render(format string, v any) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", fmt.Errorf("json output: %w", err)
		}
		return string(b) + "\n", nil
	case FormatYAML:
		// round trip through json so field names follow the json tags
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("yaml output: %w", err)
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return "", fmt.Errorf("yaml output: %w", err)
		}
		blockStyle(&doc)
		b, err := yaml.Marshal(&doc)
		if err != nil {
			return "", fmt.Errorf("yaml output: %w", err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("unsupported output format %q", format)
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
