package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goosewin/ontogen/internal/backend"
)

// FieldSlot is the placeholder substituted with the field name.
const FieldSlot = "{field}"

const DefaultPromptTemplate = `
You are an expert in creating ontologies for scientific fields.
Generate a concise ontology for the field of {field} in RDF Turtle format.
The ontology should define the main classes, properties, and relationships.
Provide only the ontology in your response.

Ontology for {field}:
`

var ErrTemplateMissingField = errors.New("prompt template has no {field} slot")

// RenderPromptTemplate substitutes the field into every {field} slot. The
// field is inserted raw; no validation or escaping is applied.
func RenderPromptTemplate(template, field string) string {
	return strings.ReplaceAll(template, FieldSlot, field)
}

// LoadPromptTemplate resolves the template: an explicit file path wins, then
// ONTOGEN_PROMPT_TEMPLATE_FILE, then DefaultPromptTemplate.
func LoadPromptTemplate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("ONTOGEN_PROMPT_TEMPLATE_FILE")
	}
	if strings.TrimSpace(path) == "" {
		return DefaultPromptTemplate, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	return string(data), nil
}

// Chain binds a prompt template to an initialized backend handle.
type Chain struct {
	handle   *Handle
	template string
}

// Bind creates a generation chain. The template must contain {field}.
func Bind(handle *Handle, template string) (*Chain, error) {
	if handle == nil || handle.Backend == nil {
		return nil, errors.New("backend handle is required")
	}
	if !strings.Contains(template, FieldSlot) {
		return nil, ErrTemplateMissingField
	}
	return &Chain{handle: handle, template: template}, nil
}

// BackendName returns the name of the bound backend.
func (c *Chain) BackendName() string {
	return c.handle.Name
}

// Model returns the model the chain generates with.
func (c *Chain) Model() string {
	return c.handle.Model
}

// Invoke renders the prompt for field and returns the backend's text
// unmodified. Each call is independent; there is no retry.
func (c *Chain) Invoke(ctx context.Context, field string) (string, error) {
	text, err := c.handle.Backend.Generate(ctx, backend.GenerateOptions{
		Prompt: RenderPromptTemplate(c.template, field),
		Model:  c.handle.Model,
	})
	if err != nil {
		return "", &GenerationError{Field: field, Backend: c.handle.Name, Err: err}
	}
	return text, nil
}
