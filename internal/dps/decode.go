package dps

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// DecodeInputs reads one or more inputs from YAML or JSON. A document may
// hold a single input or a list; YAML streams may hold several documents.
func DecodeInputs(data []byte) ([]Input, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return decodeJSON(trimmed)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var inputs []Input
	for n := 1; ; n++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", n, err)
		}
		if len(node.Content) == 0 {
			continue
		}

		root := node.Content[0]
		if root.Kind == yaml.SequenceNode {
			var batch []Input
			if err := root.Decode(&batch); err != nil {
				return nil, fmt.Errorf("document %d: %w", n, err)
			}
			inputs = append(inputs, batch...)
			continue
		}
		var in Input
		if err := root.Decode(&in); err != nil {
			return nil, fmt.Errorf("document %d: %w", n, err)
		}
		inputs = append(inputs, in)
	}
	if len(inputs) == 0 {
		return nil, errors.New("no DPS input found")
	}
	return inputs, nil
}

func decodeJSON(data []byte) ([]Input, error) {
	if data[0] == '[' {
		var inputs []Input
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("decode input list: %w", err)
		}
		if len(inputs) == 0 {
			return nil, errors.New("no DPS input found")
		}
		return inputs, nil
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return []Input{in}, nil
}
