package scenario

import (
	_ "embed"
)

//go:embed demo.yaml
var demoYAML []byte

// Demo returns the built-in demonstration scenario. It goes through the
// same validation as a file.
func Demo() (*Document, error) {
	return Parse(demoYAML)
}
