// Package render merges template strings with caller data using Handlebars.
package render

import (
	"fmt"

	"github.com/aymerick/raymond"
)

type Handlebars struct{}

func NewHandlebars() *Handlebars {
	return &Handlebars{}
}

// Render parses source and executes it against data. Parse and execution
// errors are returned, never panicked.
func (h *Handlebars) Render(source string, data map[string]any) (string, error) {
	tpl, err := raymond.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := tpl.Exec(data)
	if err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return out, nil
}
