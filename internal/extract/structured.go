package extract

import (
	"encoding/json"
	"fmt"

	"github.com/clbanning/mxj/v2"
	"gopkg.in/yaml.v3"
)

// jsonToYAML re-serializes a JSON document as YAML. "key: value" lines
// tokenize much cleaner than brace-and-quote noise.
func jsonToYAML(content []byte) (string, error) {
	var value any
	if err := json.Unmarshal(content, &value); err != nil {
		return "", fmt.Errorf("%w: invalid json: %v", ErrExtractionFailed, err)
	}

	out, err := yaml.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	return string(out), nil
}

// xmlToYAML parses an XML tree into a map and serializes it as YAML, for
// the same reason as jsonToYAML.
func xmlToYAML(content []byte) (string, error) {
	tree, err := mxj.NewMapXml(content)
	if err != nil {
		return "", fmt.Errorf("%w: invalid xml: %v", ErrExtractionFailed, err)
	}

	out, err := yaml.Marshal(map[string]any(tree))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	return string(out), nil
}
