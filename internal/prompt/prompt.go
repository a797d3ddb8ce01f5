// Package prompt renders the instructions sent to AI backends for each task
// type. Templates are embedded in the binary and can be overridden from a
// directory at startup.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"github.com/phrazzld/scry-tasks/internal/domain"
)

//go:embed templates/*.tmpl
var embedded embed.FS

// ErrMissingTemplate is returned when no template exists for a task type.
var ErrMissingTemplate = errors.New("prompt: missing template")

// Data is the template input.
type Data struct {
	// Content is the loaded payload text.
	Content string
	// Schema is the JSON schema of the expected response; empty for free text.
	Schema string
}

// Library holds one parsed template per task type.
type Library struct {
	templates map[domain.TaskType]*template.Template
}

// NewLibrary parses the embedded templates. When overrideDir is non-empty,
// any <task_type>.tmpl file found there replaces the embedded one.
func NewLibrary(overrideDir string) (*Library, error) {
	base, err := fs.ReadFile(embedded, "templates/_format.tmpl")
	if err != nil {
		return nil, fmt.Errorf("prompt: read shared template: %w", err)
	}

	lib := &Library{templates: make(map[domain.TaskType]*template.Template)}
	for _, tt := range domain.AllTaskTypes() {
		name := string(tt) + ".tmpl"

		body, err := readTemplate(overrideDir, name)
		if err != nil {
			return nil, err
		}

		tmpl, err := template.New(string(tt)).Option("missingkey=error").Parse(string(base))
		if err != nil {
			return nil, fmt.Errorf("prompt: parse shared template: %w", err)
		}
		if _, err := tmpl.Parse(string(body)); err != nil {
			return nil, fmt.Errorf("prompt: parse %s: %w", name, err)
		}
		lib.templates[tt] = tmpl
	}

	return lib, nil
}

func readTemplate(overrideDir, name string) ([]byte, error) {
	if overrideDir != "" {
		body, err := os.ReadFile(filepath.Join(overrideDir, name))
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("prompt: read override %s: %w", name, err)
		}
	}

	body, err := fs.ReadFile(embedded, "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingTemplate, name)
	}
	return body, nil
}

// Render executes the template for taskType with data.
func (l *Library) Render(taskType domain.TaskType, data Data) (string, error) {
	tmpl, ok := l.templates[taskType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingTemplate, taskType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt: execute %s: %w", taskType, err)
	}
	return buf.String(), nil
}
