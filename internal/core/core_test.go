package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goosewin/ontogen/internal/backend"
)

type fakeBackend struct {
	installErr error
	responses  map[string]string
	failures   map[string]error
	prompts    []string
	calls      int
}

func (f *fakeBackend) Name() string {
	return "ollama"
}

func (f *fakeBackend) CheckInstalled(_ context.Context, _ string) error {
	return f.installErr
}

func (f *fakeBackend) Models(_ context.Context) ([]string, error) {
	return []string{"fake"}, nil
}

func (f *fakeBackend) Generate(_ context.Context, opts backend.GenerateOptions) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, opts.Prompt)
	for field, err := range f.failures {
		if strings.Contains(opts.Prompt, "field of "+field+" ") {
			return "", err
		}
	}
	for field, text := range f.responses {
		if strings.Contains(opts.Prompt, "field of "+field+" ") {
			return text, nil
		}
	}
	return "", errors.New("no canned response")
}

func newChain(t *testing.T, b *fakeBackend) *Chain {
	t.Helper()
	handle, err := Initialize(context.Background(), b, "ollama", "deepseek-r1:8b", zap.NewNop())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	chain, err := Bind(handle, DefaultPromptTemplate)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return chain
}

func TestArtifactPath(t *testing.T) {
	got := ArtifactPath("computer science", "ollama", "ontologies")
	want := filepath.Join("ontologies", "computer science_ollama_ontology.ttl")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if ArtifactPath("computer science", "ollama", "ontologies") != got {
		t.Fatalf("expected deterministic path")
	}
}

func TestRunStoresAndIsolatesFailures(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "ontologies")
	fake := &fakeBackend{
		responses: map[string]string{"biology": "@prefix bio: ..."},
		failures:  map[string]error{"chemistry": errors.New("connection reset")},
	}
	core, logs := observer.New(zapcore.InfoLevel)

	var outcomes []Outcome
	result, err := Run(context.Background(), RunOptions{
		Chain:           newChain(t, fake),
		Fields:          []string{"biology", "chemistry"},
		OutputDir:       outputDir,
		Logger:          zap.New(core),
		OutcomeCallback: func(o Outcome) { outcomes = append(outcomes, o) },
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Stored != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 stored and 1 failed, got %+v", result)
	}
	if fake.calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", fake.calls)
	}

	data, err := os.ReadFile(filepath.Join(outputDir, "biology_ollama_ontology.ttl"))
	if err != nil {
		t.Fatalf("read biology artifact: %v", err)
	}
	if string(data) != "@prefix bio: ..." {
		t.Fatalf("unexpected artifact content %q", data)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "chemistry_ollama_ontology.ttl")); !os.IsNotExist(err) {
		t.Fatalf("expected no chemistry artifact, got %v", err)
	}

	if len(outcomes) != 2 || outcomes[1].Status != StatusGenerationFailed {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
	var genErr *GenerationError
	if !errors.As(outcomes[1].Err, &genErr) || genErr.Field != "chemistry" || genErr.Backend != "ollama" {
		t.Fatalf("expected GenerationError for chemistry, got %v", outcomes[1].Err)
	}
	if got := result.FailedFields(); len(got) != 1 || got[0] != "chemistry" {
		t.Fatalf("expected chemistry failed, got %v", got)
	}

	failures := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	if len(failures) != 1 {
		t.Fatalf("expected 1 error log, got %d", len(failures))
	}
	ctx := failures[0].ContextMap()
	if ctx["field"] != "chemistry" || ctx["backend"] != "ollama" || !strings.Contains(ctx["error"].(string), "connection reset") {
		t.Fatalf("unexpected error log context: %v", ctx)
	}
}

func TestRunOverwritesOnRerun(t *testing.T) {
	outputDir := t.TempDir()
	fake := &fakeBackend{responses: map[string]string{"physics": "@prefix phys: <http://example.org/physics#> ."}}
	chain := newChain(t, fake)

	stale := filepath.Join(outputDir, "physics_ollama_ontology.ttl")
	if err := os.WriteFile(stale, []byte("old content that is much longer than the new one"), 0o644); err != nil {
		t.Fatalf("write stale artifact: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := Run(context.Background(), RunOptions{Chain: chain, Fields: []string{"physics"}, OutputDir: outputDir}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single artifact, got %d", len(entries))
	}
	data, err := os.ReadFile(stale)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "@prefix phys: <http://example.org/physics#> ." {
		t.Fatalf("expected overwritten artifact, got %q", data)
	}
}

func TestRunWriteFailureDoesNotAbort(t *testing.T) {
	outputDir := t.TempDir()
	fake := &fakeBackend{responses: map[string]string{
		"earth/space": "@prefix es: ...",
		"biology":     "@prefix bio: ...",
	}}

	result, err := Run(context.Background(), RunOptions{
		Chain:     newChain(t, fake),
		Fields:    []string{"earth/space", "biology"},
		OutputDir: outputDir,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Outcomes[0].Status != StatusWriteFailed {
		t.Fatalf("expected write failure, got %+v", result.Outcomes[0])
	}
	var writeErr *WriteError
	if !errors.As(result.Outcomes[0].Err, &writeErr) || writeErr.Field != "earth/space" {
		t.Fatalf("expected WriteError, got %v", result.Outcomes[0].Err)
	}
	if !errors.Is(result.Outcomes[0].Err, ErrUnsafeField) {
		t.Fatalf("expected unsafe field error, got %v", result.Outcomes[0].Err)
	}
	if result.Outcomes[1].Status != StatusStored {
		t.Fatalf("expected biology stored, got %+v", result.Outcomes[1])
	}
}

func TestRunRejectsFieldsThatLeaveOutputDir(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "ontologies")
	fake := &fakeBackend{responses: map[string]string{
		"biology":      "@prefix bio: <http://example.org/biology#> .",
		"x/../biology": "overwritten",
		"../escape":    "escaped",
	}}

	result, err := Run(context.Background(), RunOptions{
		Chain:     newChain(t, fake),
		Fields:    []string{"biology", "x/../biology", "../escape"},
		OutputDir: outputDir,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Stored != 1 || result.Failed != 2 {
		t.Fatalf("expected 1 stored and 2 failed, got %+v", result)
	}
	for _, outcome := range result.Outcomes[1:] {
		if outcome.Status != StatusWriteFailed || !errors.Is(outcome.Err, ErrUnsafeField) {
			t.Fatalf("expected unsafe field rejection, got %+v", outcome)
		}
		var writeErr *WriteError
		if !errors.As(outcome.Err, &writeErr) {
			t.Fatalf("expected WriteError, got %T", outcome.Err)
		}
	}
	if fake.calls != 1 {
		t.Fatalf("expected only biology to be queried, got %d calls", fake.calls)
	}

	data, err := os.ReadFile(filepath.Join(outputDir, "biology_ollama_ontology.ttl"))
	if err != nil {
		t.Fatalf("read biology artifact: %v", err)
	}
	if string(data) != "@prefix bio: <http://example.org/biology#> ." {
		t.Fatalf("biology artifact was replaced: %q", data)
	}
	if _, err := os.Stat(filepath.Join(root, "escape_ollama_ontology.ttl")); !os.IsNotExist(err) {
		t.Fatalf("expected nothing written outside the output dir, got %v", err)
	}
}

func TestRunPreservesUnicodeContent(t *testing.T) {
	outputDir := t.TempDir()
	text := "ex:Größe rdfs:label \"生物学\"@zh .\nex:Ökologie rdfs:comment \"Écologie ✓\"@fr ."
	fake := &fakeBackend{responses: map[string]string{"biology": text}}

	if _, err := Run(context.Background(), RunOptions{
		Chain:     newChain(t, fake),
		Fields:    []string{"biology"},
		OutputDir: outputDir,
	}); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outputDir, "biology_ollama_ontology.ttl"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != text {
		t.Fatalf("expected byte-identical content, got %q", data)
	}
}

func TestRunCreatesMissingOutputDir(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "nested", "ontologies")
	fake := &fakeBackend{responses: map[string]string{"biology": "a", "physics": "b"}}

	if _, err := Run(context.Background(), RunOptions{
		Chain:     newChain(t, fake),
		Fields:    []string{"biology", "physics"},
		OutputDir: outputDir,
	}); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, name := range []string{"biology_ollama_ontology.ttl", "physics_ollama_ontology.ttl"} {
		if _, err := os.Stat(filepath.Join(outputDir, name)); err != nil {
			t.Fatalf("expected %s inside output dir: %v", name, err)
		}
	}
}

func TestRunAllFailuresLeavesOutputDirAbsent(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "ontologies")
	fake := &fakeBackend{failures: map[string]error{"biology": errors.New("boom")}}

	result, err := Run(context.Background(), RunOptions{Chain: newChain(t, fake), Fields: []string{"biology"}, OutputDir: outputDir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("expected 1 failure, got %+v", result)
	}
	if _, err := os.Stat(outputDir); !os.IsNotExist(err) {
		t.Fatalf("expected output dir to be absent, got %v", err)
	}
}

func TestInitializeFailureIsFatal(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "ontologies")
	fake := &fakeBackend{installErr: errors.New("connection refused")}
	core, logs := observer.New(zapcore.InfoLevel)

	handle, err := Initialize(context.Background(), fake, "ollama", "deepseek-r1:8b", zap.New(core))
	if handle != nil {
		t.Fatalf("expected no handle on failure")
	}
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Model != "deepseek-r1:8b" {
		t.Fatalf("expected InitError, got %v", err)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Fatalf("expected initialization diagnostic")
	}
	if fake.calls != 0 {
		t.Fatalf("expected no generation calls")
	}
	if _, err := os.Stat(outputDir); !os.IsNotExist(err) {
		t.Fatalf("expected no output dir, got %v", err)
	}
}

func TestInitializeRequiresBackendAndModel(t *testing.T) {
	var initErr *InitError
	if _, err := Initialize(context.Background(), nil, "ollama", "m", nil); !errors.As(err, &initErr) {
		t.Fatalf("expected InitError for nil backend, got %v", err)
	}
	if _, err := Initialize(context.Background(), &fakeBackend{}, "", " ", nil); !errors.As(err, &initErr) {
		t.Fatalf("expected InitError for blank model, got %v", err)
	}
	if initErr.Backend != "ollama" {
		t.Fatalf("expected backend name from instance, got %q", initErr.Backend)
	}
}

func TestRunCanceledSkipsRemaining(t *testing.T) {
	outputDir := t.TempDir()
	fake := &fakeBackend{responses: map[string]string{"biology": "a"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, RunOptions{Chain: newChain(t, fake), Fields: []string{"biology", "physics"}, OutputDir: outputDir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Skipped != 2 || fake.calls != 0 {
		t.Fatalf("expected both fields skipped without calls, got %+v calls=%d", result, fake.calls)
	}
}

func TestRunRequiresChain(t *testing.T) {
	if _, err := Run(context.Background(), RunOptions{Fields: []string{"biology"}}); err == nil {
		t.Fatalf("expected error without chain")
	}
}

func TestNormalizeFields(t *testing.T) {
	got := NormalizeFields([]string{" biology ", "", "computer science"})
	if len(got) != 2 || got[0] != "biology" || got[1] != "computer science" {
		t.Fatalf("unexpected fields %v", got)
	}
}
