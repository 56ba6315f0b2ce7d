package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goosewin/ontogen/internal/backend"
	"github.com/goosewin/ontogen/internal/config"
)

// Status is the outcome of processing one field.
type Status string

const (
	StatusStored           Status = "stored"
	StatusGenerationFailed Status = "generation_failed"
	StatusWriteFailed      Status = "write_failed"
	StatusSkipped          Status = "skipped"
)

// Handle is an initialized backend bound to one model.
type Handle struct {
	Backend backend.Backend
	Name    string
	Model   string
}

// Initialize checks that the backend can serve model. A failure is returned
// as *InitError and must end the run before any field is processed.
func Initialize(ctx context.Context, b backend.Backend, name, model string, logger *zap.Logger) (*Handle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if b != nil && strings.TrimSpace(name) == "" {
		name = b.Name()
	}

	var err error
	switch {
	case b == nil:
		err = backend.ErrBackendNil
	case strings.TrimSpace(model) == "":
		err = errors.New("model is required")
	default:
		err = b.CheckInstalled(ctx, model)
	}
	if err != nil {
		logger.Error("Error initializing backend",
			zap.String("backend", name),
			zap.String("model", model),
			zap.Error(err),
		)
		return nil, &InitError{Backend: name, Model: model, Err: err}
	}

	logger.Info("Successfully initialized backend",
		zap.String("backend", name),
		zap.String("model", model),
	)
	return &Handle{Backend: b, Name: name, Model: model}, nil
}

// ArtifactPath returns where the ontology for field from backendName is
// stored. It only composes the path and never touches the filesystem.
func ArtifactPath(field, backendName, outputDir string) string {
	return filepath.Join(outputDir, fmt.Sprintf("%s_%s_ontology.ttl", field, backendName))
}

// ErrUnsafeField marks a field whose artifact name would leave the output
// directory or alias another field's file.
var ErrUnsafeField = errors.New("field contains a path separator")

// checkArtifactName rejects fields and backend names that cannot be embedded
// in a single file name inside outputDir.
func checkArtifactName(field, backendName string) error {
	for _, part := range []string{field, backendName} {
		if strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("%w: %q", ErrUnsafeField, part)
		}
	}
	return nil
}

// NormalizeFields trims entries and drops blanks, keeping order.
func NormalizeFields(fields []string) []string {
	result := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

type OutcomeCallback func(outcome Outcome)

// Outcome records what happened to one field.
type Outcome struct {
	Field    string
	Backend  string
	Model    string
	Path     string
	Status   Status
	Err      error
	Duration time.Duration
}

type RunOptions struct {
	Chain           *Chain
	Fields          []string
	BackendName     string
	OutputDir       string
	Logger          *zap.Logger
	OutcomeCallback OutcomeCallback
}

type RunResult struct {
	Outcomes []Outcome
	Stored   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// FailedFields returns the fields whose generation or write failed.
func (r RunResult) FailedFields() []string {
	failed := []string{}
	for _, outcome := range r.Outcomes {
		if outcome.Status == StatusGenerationFailed || outcome.Status == StatusWriteFailed {
			failed = append(failed, outcome.Field)
		}
	}
	return failed
}

// Run generates and stores an ontology for every field, in order. Generation
// and write failures are logged and recorded per field; they never stop the
// loop. The returned error only reports unusable options.
func Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	result := RunResult{}
	if opts.Chain == nil {
		return result, errors.New("generation chain is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backendName := strings.TrimSpace(opts.BackendName)
	if backendName == "" {
		backendName = opts.Chain.BackendName()
	}
	outputDir := strings.TrimSpace(opts.OutputDir)
	if outputDir == "" {
		outputDir = config.DefaultOutputDir
	}

	if len(opts.Fields) == 0 {
		logger.Warn("No fields configured, nothing to generate")
		return result, nil
	}

	start := time.Now()
	for i, field := range opts.Fields {
		if ctx.Err() != nil {
			logger.Warn("Run interrupted, skipping remaining fields",
				zap.Strings("fields", opts.Fields[i:]),
				zap.Error(ctx.Err()),
			)
			for _, skipped := range opts.Fields[i:] {
				result.record(opts.OutcomeCallback, Outcome{
					Field:   skipped,
					Backend: backendName,
					Model:   opts.Chain.Model(),
					Path:    ArtifactPath(skipped, backendName, outputDir),
					Status:  StatusSkipped,
					Err:     ctx.Err(),
				})
			}
			break
		}

		result.record(opts.OutcomeCallback, processField(ctx, opts.Chain, field, backendName, outputDir, logger))
	}

	result.Duration = time.Since(start)
	logger.Info("Run finished",
		zap.Int("stored", result.Stored),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func processField(ctx context.Context, chain *Chain, field, backendName, outputDir string, logger *zap.Logger) Outcome {
	fieldLogger := logger.With(zap.String("field", field), zap.String("backend", backendName))
	outcome := Outcome{
		Field:   field,
		Backend: backendName,
		Model:   chain.Model(),
		Path:    ArtifactPath(field, backendName, outputDir),
	}
	start := time.Now()

	if err := checkArtifactName(field, backendName); err != nil {
		writeErr := &WriteError{Field: field, Backend: backendName, Path: outcome.Path, Err: err}
		fieldLogger.Error(fmt.Sprintf("Failed to store the ontology for '%s' from %s", field, backendName), zap.Error(writeErr))
		outcome.Status = StatusWriteFailed
		outcome.Err = writeErr
		outcome.Duration = time.Since(start)
		return outcome
	}

	fieldLogger.Info(fmt.Sprintf("Querying %s for the '%s' ontology...", backendName, field))

	text, err := chain.Invoke(ctx, field)
	if err != nil {
		fieldLogger.Error(fmt.Sprintf("Failed to retrieve the ontology for '%s' from %s", field, backendName), zap.Error(err))
		outcome.Status = StatusGenerationFailed
		outcome.Err = err
		outcome.Duration = time.Since(start)
		return outcome
	}

	if err := storeArtifact(outputDir, outcome.Path, text); err != nil {
		writeErr := &WriteError{Field: field, Backend: backendName, Path: outcome.Path, Err: err}
		fieldLogger.Error(fmt.Sprintf("Failed to store the ontology for '%s' from %s", field, backendName), zap.Error(writeErr))
		outcome.Status = StatusWriteFailed
		outcome.Err = writeErr
		outcome.Duration = time.Since(start)
		return outcome
	}

	fieldLogger.Info(fmt.Sprintf("Successfully stored the '%s' ontology from %s in '%s'", field, backendName, outcome.Path),
		zap.String("path", outcome.Path),
	)
	outcome.Status = StatusStored
	outcome.Duration = time.Since(start)
	return outcome
}

// storeArtifact writes text byte-for-byte, replacing any previous artifact.
func storeArtifact(outputDir, path, text string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return err
	}
	return nil
}

func (r *RunResult) record(callback OutcomeCallback, outcome Outcome) {
	switch outcome.Status {
	case StatusStored:
		r.Stored++
	case StatusSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, outcome)
	if callback != nil {
		callback(outcome)
	}
}
