package backend

import "context"

// GenerateOptions controls a single text generation request.
type GenerateOptions struct {
	Prompt string
	Model  string
}

// Backend defines the interface for model-serving backends.
type Backend interface {
	Name() string
	// CheckInstalled verifies the service is reachable and recognizes model.
	CheckInstalled(ctx context.Context, model string) error
	Models(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, opts GenerateOptions) (string, error)
}
