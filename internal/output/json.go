package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/kiln/internal/vm"
)

// JSONFormatter formats results as JSON.
type JSONFormatter struct{}

// FormatResult formats a result as an indented JSON object.
func (f *JSONFormatter) FormatResult(res *vm.Result) (string, error) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
