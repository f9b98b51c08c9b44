package planfile

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"gopkg.in/yaml.v3"
)

type UnmarshalError struct {
	error
	Source string
}

// Read loads, templates, parses and validates a plan file. The template
// pre-pass lets plans pull values from the environment, which is how CI
// workflows feed in run-specific metadata.
func Read(file string) (*Planfile, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	source, err := evaluateTemplate(string(buf))
	if err != nil {
		return nil, fmt.Errorf("evaluate template: %w", err)
	}

	var plan Planfile
	if err = yaml.Unmarshal([]byte(source), &plan); err != nil {
		return nil, UnmarshalError{fmt.Errorf("unmarshal: %w", err), source}
	}
	if err = plan.Validate(); err != nil {
		return nil, UnmarshalError{fmt.Errorf("validate: %w", err), source}
	}

	return &plan, nil
}

func evaluateTemplate(source string) (string, error) {
	funcs := sprig.FuncMap()
	funcs["base64"] = func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	}
	funcs["env"] = func(key string) string {
		return os.Getenv(key)
	}
	funcs["json"] = func(v any) (string, error) {
		buf, err := json.Marshal(v)
		return string(buf), err
	}
	funcs["lines"] = func(s string) []string {
		return strings.Split(s, "\n")
	}
	funcs["split"] = func(sep string, s string) []string {
		return strings.Split(s, sep)
	}

	tmpl, err := template.New("planfile").Funcs(funcs).Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var output strings.Builder
	if err := tmpl.Execute(&output, nil); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return output.String(), nil
}
