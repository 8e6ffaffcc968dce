package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WriteJSON serializes v (a burst/sweep/stress result, or any other
// CLI-facing value) as indented JSON to path. If path is "-" or empty, it
// writes to stdout instead, for piping into another tool.
func WriteJSON(v interface{}, path string) error {
	var w io.Writer = os.Stdout
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
