package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/goosewin/ontogen/internal/backend"
	_ "github.com/goosewin/ontogen/internal/backend/ollama"
	"github.com/goosewin/ontogen/internal/config"
	"github.com/goosewin/ontogen/internal/core"
	"github.com/goosewin/ontogen/internal/logging"
	"github.com/goosewin/ontogen/internal/notify"
	"github.com/goosewin/ontogen/internal/state"
)

var (
	generateBackend        string
	generateModel          string
	generateFields         []string
	generateOutputDir      string
	generatePromptTemplate string
	generateWebhook        string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an ontology for every configured field",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&generateBackend, "backend", "b", "", "Model backend (default: ollama)")
	generateCmd.Flags().StringVarP(&generateModel, "model", "m", "", "Model to generate with (default: deepseek-r1:8b)")
	generateCmd.Flags().StringArrayVarP(&generateFields, "field", "f", nil, "Field to generate (repeatable, replaces the configured list)")
	generateCmd.Flags().StringVarP(&generateOutputDir, "output-dir", "o", "", "Directory for ontology files (default: ontologies)")
	generateCmd.Flags().StringVar(&generatePromptTemplate, "prompt-template", "", "Path to a prompt template file containing {field}")
	generateCmd.Flags().StringVar(&generateWebhook, "webhook", "", "Notification webhook URL")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	flags := cmd.Flags()
	backendName := flagOrConfig(flags, "backend", generateBackend, "defaults.backend", backend.DefaultName())
	model := flagOrConfig(flags, "model", generateModel, "defaults.model", config.DefaultModel)
	outputDir := flagOrConfig(flags, "output-dir", generateOutputDir, "defaults.output_dir", config.DefaultOutputDir)
	templatePath := flagOrConfig(flags, "prompt-template", generatePromptTemplate, "defaults.prompt_template_file", "")
	webhook := flagOrConfig(flags, "webhook", generateWebhook, "notifications.webhook", "")
	fields := resolveFields(flags)

	template, err := core.LoadPromptTemplate(templatePath)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	run, err := logging.New(logging.Options{
		Level:      config.GetString("logging.level", config.DefaultLogLevel),
		Dir:        logDir(),
		RunID:      runID,
		RetainDays: retainDays(),
	})
	if err != nil {
		return err
	}
	defer run.Close()
	logger := run.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instance, err := backend.Lookup(backendName)
	if err != nil {
		logger.Error("Unknown backend", zap.String("backend", backendName), zap.Strings("available", backend.Names()))
		return err
	}

	handle, err := core.Initialize(ctx, instance, strings.ToLower(backendName), model, logger)
	if err != nil {
		return err
	}
	chain, err := core.Bind(handle, template)
	if err != nil {
		return err
	}

	recordState := true
	if err := state.InitState(); err != nil {
		logger.Warn("State file unavailable, outcomes will not be recorded", zap.Error(err))
		recordState = false
	}

	result, err := core.Run(ctx, core.RunOptions{
		Chain:     chain,
		Fields:    fields,
		OutputDir: outputDir,
		Logger:    logger,
		OutcomeCallback: func(outcome core.Outcome) {
			if !recordState {
				return
			}
			if err := state.PutRecord(outcomeRecord(runID, outcome)); err != nil {
				logger.Warn("Failed to record outcome", zap.String("field", outcome.Field), zap.Error(err))
			}
		},
	})
	if err != nil {
		return err
	}

	if webhook != "" {
		absOutput, _ := filepath.Abs(outputDir)
		if err := notify.NotifyRun(context.Background(), notify.RunOptions{
			RunID:        runID,
			WebhookURL:   webhook,
			Backend:      handle.Name,
			Model:        handle.Model,
			OutputDir:    absOutput,
			Stored:       result.Stored,
			Failed:       result.Failed,
			Skipped:      result.Skipped,
			FailedFields: result.FailedFields(),
			Duration:     result.Duration,
		}); err != nil {
			logger.Warn("Failed to send webhook notification", zap.Error(err))
		}
	}

	if run.Path != "" {
		logger.Info("Run log written", zap.String("path", run.Path))
	}
	return nil
}

func outcomeRecord(runID string, outcome core.Outcome) state.Record {
	record := state.Record{
		Field:   outcome.Field,
		Backend: outcome.Backend,
		Model:   outcome.Model,
		Status:  string(outcome.Status),
		Path:    outcome.Path,
		RunID:   runID,
	}
	if outcome.Err != nil {
		record.Error = outcome.Err.Error()
	}
	return record
}

// flagOrConfig prefers an explicitly set flag, then config, then fallback.
func flagOrConfig(flags *pflag.FlagSet, flag, flagValue, key, fallback string) string {
	if flags.Changed(flag) && strings.TrimSpace(flagValue) != "" {
		return strings.TrimSpace(flagValue)
	}
	return config.GetString(key, fallback)
}

func resolveFields(flags *pflag.FlagSet) []string {
	if flags != nil && flags.Changed("field") {
		return core.NormalizeFields(generateFields)
	}
	fields := core.NormalizeFields(config.GetList("defaults.fields"))
	if len(fields) == 0 {
		fields = append([]string(nil), config.DefaultFields...)
	}
	return fields
}

func logDir() string {
	if dir := config.GetString("logging.dir", ""); dir != "" {
		return dir
	}
	if dir := config.ConfigDir(); dir != "" {
		return filepath.Join(dir, "logs")
	}
	return ""
}

func retainDays() int {
	value := config.GetString("logging.retain_days", "")
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return config.DefaultRetain
	}
	return parsed
}
