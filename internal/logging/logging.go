// Package logging builds the zap logger for a single ontogen run: a console
// view on stdout teed with a JSON run log on disk.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logPrefix = "run-"

var ErrNoRunLogs = errors.New("no run logs found")

// Options configures New.
type Options struct {
	Level      string
	Dir        string
	RunID      string
	RetainDays int
	Stdout     io.Writer
	Now        func() time.Time
}

// Run is a logger bound to one run log file.
type Run struct {
	Logger *zap.Logger
	Path   string
	file   *os.File
}

// New builds the run logger. With an empty Dir only the console core is
// installed and Path is empty.
func New(opts Options) (*Run, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		parsed, err := zapcore.ParseLevel(strings.TrimSpace(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), zapcore.AddSync(stdout), level),
	}

	run := &Run{}
	if strings.TrimSpace(opts.Dir) != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		cleanupOldLogs(opts.Dir, opts.RetainDays, now())

		path := filepath.Join(opts.Dir, FileName(opts.RunID, now()))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		run.Path = path
		run.file = file
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(file), level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if strings.TrimSpace(opts.RunID) != "" {
		logger = logger.With(zap.String("run_id", opts.RunID))
	}
	run.Logger = logger
	return run, nil
}

// Close flushes the logger and closes the run log.
func (r *Run) Close() error {
	if r == nil {
		return nil
	}
	if r.Logger != nil {
		_ = r.Logger.Sync()
	}
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// FileName returns the run log name for runID started at t.
func FileName(runID string, t time.Time) string {
	id := strings.TrimSpace(runID)
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "local"
	}
	return fmt.Sprintf("%s%s-%s.log", logPrefix, t.UTC().Format("20060102T150405"), id)
}

// Latest returns the most recently written run log in dir.
func Latest(dir string) (string, error) {
	logs, err := listLogs(dir)
	if err != nil {
		return "", err
	}
	if len(logs) == 0 {
		return "", ErrNoRunLogs
	}
	return logs[len(logs)-1], nil
}

// Find returns the run log whose name carries the given run id prefix.
func Find(dir, runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return Latest(dir)
	}
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	logs, err := listLogs(dir)
	if err != nil {
		return "", err
	}
	for i := len(logs) - 1; i >= 0; i-- {
		if strings.HasSuffix(filepath.Base(logs[i]), "-"+short+".log") {
			return logs[i], nil
		}
	}
	return "", fmt.Errorf("%w for run %s", ErrNoRunLogs, runID)
}

// listLogs returns run logs oldest first. Names embed a UTC timestamp so
// lexical order is chronological.
func listLogs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	logs := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !isRunLog(entry.Name()) {
			continue
		}
		logs = append(logs, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(logs)
	return logs, nil
}

func isRunLog(name string) bool {
	return strings.HasPrefix(name, logPrefix) && strings.HasSuffix(name, ".log")
}

func cleanupOldLogs(logDir string, retainDays int, now time.Time) {
	if retainDays <= 0 {
		retainDays = 7
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}
	cutoff := now.Add(-time.Duration(retainDays) * 24 * time.Hour)
	for _, entry := range entries {
		if entry.IsDir() || !isRunLog(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(logDir, entry.Name()))
		}
	}
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	cfg.CallerKey = ""
	cfg.NameKey = ""
	cfg.StacktraceKey = ""
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}
