package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/kiln/internal/vm"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatResult formats a result as a YAML document.
func (f *YAMLFormatter) FormatResult(res *vm.Result) (string, error) {
	data, err := yaml.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result to YAML: %w", err)
	}

	return string(data), nil
}
